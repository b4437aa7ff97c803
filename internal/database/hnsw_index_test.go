package database

import (
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/kozaktomas/face-attendance/internal/facematch"
)

func makeEntry(t *testing.T, id, identityID int64, kind facematch.Kind, values ...float32) facematch.GalleryEntry {
	t.Helper()
	entry, err := facematch.NewGalleryEntry(identityID, facematch.NewEmbedding(kind, values), "")
	if err != nil {
		t.Fatalf("NewGalleryEntry: %v", err)
	}
	entry.EntryID = id
	return entry
}

func testGallery(t *testing.T) []facematch.GalleryEntry {
	return []facematch.GalleryEntry{
		makeEntry(t, 1, 10, facematch.KindAccurate, 1, 0, 0),
		makeEntry(t, 2, 10, facematch.KindAccurate, 0.9, 0.1, 0),
		makeEntry(t, 3, 20, facematch.KindAccurate, 0, 1, 0),
		makeEntry(t, 4, 30, facematch.KindAccurate, 0, 0, 1),
		makeEntry(t, 5, 40, facematch.KindFast, 1, 0),
		{EntryID: 6, IdentityID: 50, Kind: facematch.KindAccurate, Encoding: facematch.EncodingFloat32LE, Raw: []byte{1, 2}},
		makeEntry(t, 7, 60, facematch.KindAccurate, 1, 0),
	}
}

func TestHNSWIndex_BuildAndSearch(t *testing.T) {
	idx := NewHNSWIndex(facematch.KindAccurate, facematch.MetricCosine)

	skipped, err := idx.Build(testGallery(t))
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	// Entry 6 is malformed and entry 7 has the wrong dimensionality.
	if skipped != 2 {
		t.Errorf("skipped = %d, want 2", skipped)
	}
	if idx.Count() != 4 {
		t.Errorf("Count() = %d, want 4", idx.Count())
	}

	got, err := idx.Search(facematch.NewEmbedding(facematch.KindAccurate, []float32{1, 0, 0}), 2)
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Search returned %d neighbors, want 2", len(got))
	}
	if got[0].EntryID != 1 || got[0].IdentityID != 10 {
		t.Errorf("nearest = %+v, want entry 1 of identity 10", got[0])
	}
	if math.Abs(got[0].Distance) > 1e-6 {
		t.Errorf("nearest distance = %v, want 0", got[0].Distance)
	}
	if got[1].EntryID != 2 {
		t.Errorf("second = %+v, want entry 2", got[1])
	}
}

func TestHNSWIndex_SearchErrors(t *testing.T) {
	idx := NewHNSWIndex(facematch.KindAccurate, facematch.MetricEuclidean)

	if _, err := idx.Search(facematch.NewEmbedding(facematch.KindAccurate, []float32{1, 0, 0}), 1); err == nil {
		t.Error("expected error for empty index")
	}

	if _, err := idx.Build(testGallery(t)); err != nil {
		t.Fatalf("Build error: %v", err)
	}

	_, err := idx.Search(facematch.NewEmbedding(facematch.KindAccurate, []float32{1, 0}), 1)
	if !errors.Is(err, facematch.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}

	if _, err := idx.Search(facematch.NewEmbedding(facematch.KindFast, []float32{1, 0, 0}), 1); err == nil {
		t.Error("expected error for probe of another kind")
	}

	if err := idx.Add(makeEntry(t, 99, 1, facematch.KindFast, 1, 0, 0)); err == nil {
		t.Error("expected error adding entry of another kind")
	}
}

func TestHNSWIndex_Delete(t *testing.T) {
	idx := NewHNSWIndex(facematch.KindAccurate, facematch.MetricCosine)
	if _, err := idx.Build(testGallery(t)); err != nil {
		t.Fatalf("Build error: %v", err)
	}

	idx.Delete(1)
	idx.Delete(2)

	got, err := idx.Search(facematch.NewEmbedding(facematch.KindAccurate, []float32{1, 0, 0}), 1)
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if len(got) != 1 || got[0].IdentityID == 10 {
		t.Errorf("deleted entries still returned: %+v", got)
	}
	if idx.Count() != 2 {
		t.Errorf("Count() = %d, want 2", idx.Count())
	}
}

func TestHNSWIndex_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accurate.hnsw")

	idx := NewHNSWIndex(facematch.KindAccurate, facematch.MetricCosine)
	if _, err := idx.Build(testGallery(t)); err != nil {
		t.Fatalf("Build error: %v", err)
	}
	if err := idx.Save(path); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	meta, err := LoadHNSWMetadata(path)
	if err != nil {
		t.Fatalf("LoadHNSWMetadata error: %v", err)
	}
	if meta.EntryCount != 4 || meta.MaxEntryID != 4 || meta.Kind != facematch.KindAccurate {
		t.Errorf("metadata = %+v", meta)
	}

	if _, err := LoadHNSWIndex(path, facematch.KindFast, facematch.MetricCosine); err == nil {
		t.Error("expected error loading index of another kind")
	}

	loaded, err := LoadHNSWIndex(path, facematch.KindAccurate, facematch.MetricCosine)
	if err != nil {
		t.Fatalf("LoadHNSWIndex error: %v", err)
	}
	if loaded.Count() != 4 {
		t.Errorf("loaded Count() = %d, want 4", loaded.Count())
	}
	got, err := loaded.Search(facematch.NewEmbedding(facematch.KindAccurate, []float32{0, 0, 1}), 1)
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if len(got) != 1 || got[0].IdentityID != 30 {
		t.Errorf("loaded nearest = %+v, want identity 30", got)
	}
}

func TestHNSWIndex_ReflectsSkippedRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accurate.hnsw")
	gallery := []facematch.GalleryEntry{
		makeEntry(t, 1, 10, facematch.KindAccurate, 1, 0),
		{EntryID: 2, IdentityID: 20, Kind: facematch.KindAccurate, Encoding: facematch.EncodingFloat32LE, Raw: []byte{1, 2}},
		makeEntry(t, 3, 30, facematch.KindFast, 1),
	}

	idx := NewHNSWIndex(facematch.KindAccurate, facematch.MetricCosine)
	skipped, err := idx.Build(gallery)
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	if skipped != 1 || idx.Count() != 1 {
		t.Fatalf("skipped = %d, Count() = %d, want 1 and 1", skipped, idx.Count())
	}
	if err := idx.Save(path); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	loaded, err := LoadHNSWIndex(path, facematch.KindAccurate, facematch.MetricCosine)
	if err != nil {
		t.Fatalf("LoadHNSWIndex error: %v", err)
	}

	tests := []struct {
		name    string
		entries []facematch.GalleryEntry
		want    bool
	}{
		{"same rows including the malformed one", gallery, true},
		{"new row", append(append([]facematch.GalleryEntry{}, gallery...), makeEntry(t, 4, 10, facematch.KindAccurate, 0, 1)), false},
		{"malformed row gone", []facematch.GalleryEntry{gallery[0]}, false},
		{"good row replaced", []facematch.GalleryEntry{makeEntry(t, 5, 10, facematch.KindAccurate, 1, 0), gallery[1]}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := loaded.Reflects(tt.entries); got != tt.want {
				t.Errorf("Reflects() = %v, want %v", got, tt.want)
			}
		})
	}

	loaded.Delete(2)
	if !loaded.Reflects([]facematch.GalleryEntry{gallery[0]}) {
		t.Error("index should reflect the gallery after the malformed row is deleted")
	}
}

func TestHNSWIndex_RemoveIdentity(t *testing.T) {
	idx := NewHNSWIndex(facematch.KindAccurate, facematch.MetricCosine)
	gallery := testGallery(t)
	if _, err := idx.Build(gallery); err != nil {
		t.Fatalf("Build error: %v", err)
	}

	if removed := idx.RemoveIdentity(10); removed != 2 {
		t.Errorf("RemoveIdentity(10) = %d, want 2", removed)
	}
	// Entry 6 of identity 50 was skipped; removing the identity forgets it too.
	idx.RemoveIdentity(50)

	got, err := idx.Search(facematch.NewEmbedding(facematch.KindAccurate, []float32{1, 0, 0}), 4)
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	for _, n := range got {
		if n.IdentityID == 10 {
			t.Errorf("removed identity still returned: %+v", n)
		}
	}

	var rest []facematch.GalleryEntry
	for _, e := range gallery {
		if e.IdentityID != 10 && e.IdentityID != 50 {
			rest = append(rest, e)
		}
	}
	if !idx.Reflects(rest) {
		t.Error("index should reflect the gallery without the removed identities")
	}
}
