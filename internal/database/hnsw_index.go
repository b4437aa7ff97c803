package database

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/coder/hnsw"

	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// HNSWIndexMetadata stores metadata for validating cached HNSW indexes.
type HNSWIndexMetadata struct {
	Kind       facematch.Kind   `json:"kind"`
	Metric     facematch.Metric `json:"metric"`
	EntryCount int64            `json:"entry_count"`
	MaxEntryID int64            `json:"max_entry_id"`
	// Skipped maps gallery rows left out of the graph to their identity.
	Skipped   map[int64]int64 `json:"skipped,omitempty"`
	BuildTime time.Time       `json:"build_time"`
	Version   int             `json:"version"`
}

const hnswMetadataVersion = 2

// indexedEntry is what the index keeps per graph node besides the vector.
type indexedEntry struct {
	IdentityID int64
	Values     []float32
}

// HNSWIndex is an approximate nearest-neighbor index over one kind of
// gallery embeddings. Distances reported by Search are exact: the graph only
// proposes candidates.
type HNSWIndex struct {
	kind      facematch.Kind
	metric    facematch.Metric
	dim       int
	graph     *hnsw.Graph[int64]
	idToEntry map[int64]indexedEntry
	skipped   map[int64]int64
	mu        sync.RWMutex
}

// NewHNSWIndex creates a new empty HNSW index for one extractor kind.
func NewHNSWIndex(kind facematch.Kind, metric facematch.Metric) *HNSWIndex {
	return &HNSWIndex{
		kind:      kind,
		metric:    metric,
		idToEntry: make(map[int64]indexedEntry),
		skipped:   make(map[int64]int64),
	}
}

func (h *HNSWIndex) newGraph() *hnsw.Graph[int64] {
	g := hnsw.NewGraph[int64]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	g.EfSearch = HNSWEfSearch
	// Cosine order equals the order of euclidean distance between unit vectors.
	if h.metric == facematch.MetricEuclidean {
		g.Distance = hnsw.EuclideanDistance
	} else {
		g.Distance = hnsw.CosineDistance
	}
	return g
}

// Build replaces the index contents with the given gallery entries. Entries
// of another kind are ignored; malformed entries and entries whose
// dimensionality differs from the first decoded one are skipped and counted.
func (h *HNSWIndex) Build(entries []facematch.GalleryEntry) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.graph = nil
	h.dim = 0
	h.idToEntry = make(map[int64]indexedEntry, len(entries))
	h.skipped = make(map[int64]int64)

	for _, entry := range entries {
		if entry.Kind != h.kind {
			continue
		}
		_ = h.addLocked(entry)
	}
	return len(h.skipped), nil
}

// Add adds a single gallery entry to the index. A rejected entry is still
// remembered as part of the gallery the index reflects.
func (h *HNSWIndex) Add(entry facematch.GalleryEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if entry.Kind != h.kind {
		return fmt.Errorf("entry of kind %s added to %s index", entry.Kind, h.kind)
	}
	return h.addLocked(entry)
}

func (h *HNSWIndex) addLocked(entry facematch.GalleryEntry) error {
	emb, err := entry.Decode()
	if err != nil {
		h.skipped[entry.EntryID] = entry.IdentityID
		return err
	}
	if h.dim != 0 && emb.Dim() != h.dim {
		h.skipped[entry.EntryID] = entry.IdentityID
		return &facematch.DimensionMismatchError{Expected: h.dim, Actual: emb.Dim()}
	}
	if h.graph == nil {
		h.graph = h.newGraph()
		h.dim = emb.Dim()
	}

	h.graph.Add(hnsw.MakeNode(entry.EntryID, emb.Values))
	h.idToEntry[entry.EntryID] = indexedEntry{IdentityID: entry.IdentityID, Values: emb.Values}
	return nil
}

// Delete removes an entry from search results.
func (h *HNSWIndex) Delete(entryID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// The graph keeps the node; lookups through idToEntry filter it out.
	delete(h.idToEntry, entryID)
	delete(h.skipped, entryID)
}

// RemoveIdentity removes every entry of an identity and returns how many
// searchable entries went.
func (h *HNSWIndex) RemoveIdentity(identityID int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	removed := 0
	for id, e := range h.idToEntry {
		if e.IdentityID == identityID {
			delete(h.idToEntry, id)
			removed++
		}
	}
	for id, owner := range h.skipped {
		if owner == identityID {
			delete(h.skipped, id)
		}
	}
	return removed
}

// Reflects reports whether the index was built from exactly the rows of its
// kind in entries, counting rows it had to skip.
func (h *HNSWIndex) Reflects(entries []facematch.GalleryEntry) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, e := range entries {
		if e.Kind != h.kind {
			continue
		}
		n++
		if _, ok := h.idToEntry[e.EntryID]; ok {
			continue
		}
		if _, ok := h.skipped[e.EntryID]; !ok {
			return false
		}
	}
	return n == len(h.idToEntry)+len(h.skipped)
}

// Search finds the k nearest entries to the query embedding.
func (h *HNSWIndex) Search(query facematch.Embedding, k int) ([]Neighbor, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if query.Kind != "" && query.Kind != h.kind {
		return nil, fmt.Errorf("probe of kind %s searched in %s index", query.Kind, h.kind)
	}
	if h.graph == nil {
		return nil, errors.New("index not initialized")
	}
	if query.Dim() != h.dim {
		return nil, &facematch.DimensionMismatchError{Expected: h.dim, Actual: query.Dim()}
	}
	if k <= 0 {
		return nil, nil
	}

	searchK := max(k*HNSWSearchMultiplier, HNSWEfSearch)
	nodes := h.graph.Search(query.Values, searchK)

	results := make([]Neighbor, 0, k)
	for _, n := range nodes {
		entry, ok := h.idToEntry[n.Key]
		if !ok {
			continue
		}
		d, err := facematch.Distance(query.Values, entry.Values, h.metric)
		if err != nil {
			return nil, err
		}
		results = append(results, Neighbor{EntryID: n.Key, IdentityID: entry.IdentityID, Distance: d})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].EntryID < results[j].EntryID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Count returns the number of searchable entries.
func (h *HNSWIndex) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.idToEntry)
}

// Kind returns the extractor kind the index holds.
func (h *HNSWIndex) Kind() facematch.Kind {
	return h.kind
}

// Metadata describes the current index contents.
func (h *HNSWIndex) Metadata() HNSWIndexMetadata {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var maxID int64
	for id := range h.idToEntry {
		maxID = max(maxID, id)
	}
	var skipped map[int64]int64
	if len(h.skipped) > 0 {
		skipped = make(map[int64]int64, len(h.skipped))
		for id, owner := range h.skipped {
			skipped[id] = owner
		}
	}
	return HNSWIndexMetadata{
		Kind:       h.kind,
		Metric:     h.metric,
		EntryCount: int64(len(h.idToEntry)),
		MaxEntryID: maxID,
		Skipped:    skipped,
		Version:    hnswMetadataVersion,
	}
}

// Save persists the graph to path, metadata to path.meta and the entry table
// to path.entries.
func (h *HNSWIndex) Save(path string) error {
	meta := h.Metadata()
	meta.BuildTime = time.Now()

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil {
		// Remove stale files for an empty index (best-effort cleanup).
		_ = os.Remove(path)
		_ = os.Remove(path + ".meta")
		_ = os.Remove(path + ".entries")
		return nil
	}

	f, err := os.Create(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to create HNSW index file: %w", err)
	}
	if err := h.graph.Export(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to export HNSW graph: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close HNSW index file: %w", err)
	}

	metaData, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(path+".meta", metaData, 0600); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(h.idToEntry); err != nil {
		return fmt.Errorf("failed to encode entries: %w", err)
	}
	if err := os.WriteFile(path+".entries", buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write entries file: %w", err)
	}
	return nil
}

// LoadHNSWMetadata loads metadata from a separate .meta file.
func LoadHNSWMetadata(path string) (HNSWIndexMetadata, error) {
	var metadata HNSWIndexMetadata

	data, err := os.ReadFile(path + ".meta") //nolint:gosec // path is from trusted config
	if err != nil {
		return metadata, fmt.Errorf("failed to read metadata file: %w", err)
	}
	if err := json.Unmarshal(data, &metadata); err != nil {
		return metadata, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return metadata, nil
}

// LoadHNSWIndex loads an index written by Save. The cached index is rejected
// when its metadata does not match the expected kind and metric.
func LoadHNSWIndex(path string, kind facematch.Kind, metric facematch.Metric) (*HNSWIndex, error) {
	meta, err := LoadHNSWMetadata(path)
	if err != nil {
		return nil, err
	}
	if meta.Version != hnswMetadataVersion || meta.Kind != kind || meta.Metric != metric {
		return nil, fmt.Errorf("cached index %s is for %s/%s v%d", path, meta.Kind, meta.Metric, meta.Version)
	}

	saved, err := hnsw.LoadSavedGraph[int64](path)
	if err != nil {
		return nil, fmt.Errorf("failed to load HNSW index: %w", err)
	}

	data, err := os.ReadFile(path + ".entries") //nolint:gosec // path is from trusted config
	if err != nil {
		return nil, fmt.Errorf("failed to read entries file: %w", err)
	}
	entries := make(map[int64]indexedEntry)
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&entries); err != nil {
		return nil, fmt.Errorf("failed to decode entries: %w", err)
	}

	h := NewHNSWIndex(kind, metric)
	h.graph = saved.Graph
	h.idToEntry = entries
	if meta.Skipped != nil {
		h.skipped = meta.Skipped
	}
	for _, e := range entries {
		h.dim = len(e.Values)
		break
	}
	return h, nil
}
