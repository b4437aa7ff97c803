// Package facematch is the identity-matching core: embeddings, gallery entries,
// distance metrics, per-model thresholds and the nearest-identity matcher.
// It performs no I/O beyond the logger handed to a Matcher.
package facematch

import (
	"encoding/json"
	"fmt"
	"math"
)

// Kind identifies which extractor produced an embedding.
// Embeddings of different kinds live in different spaces and are never compared.
type Kind string

const (
	KindFast     Kind = "fast"     // cheap 128-d extractor
	KindAccurate Kind = "accurate" // expensive 512-d extractor
)

// ParseKind parses an extractor kind name.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindFast, KindAccurate:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown extractor kind %q", s)
}

// Embedding is a face vector tagged with the extractor that produced it.
type Embedding struct {
	Kind   Kind      `json:"kind"`
	Values []float32 `json:"values"`
}

// NewEmbedding copies values into a new embedding of the given kind.
func NewEmbedding(kind Kind, values []float32) Embedding {
	v := make([]float32, len(values))
	copy(v, values)
	return Embedding{Kind: kind, Values: v}
}

// Dim returns the dimensionality of the embedding.
func (e Embedding) Dim() int {
	return len(e.Values)
}

// GalleryEntry is one enrolled photo of an identity as read from the store.
// The vector stays encoded until the matcher decodes it, so a single bad row
// cannot poison the whole snapshot.
type GalleryEntry struct {
	EntryID     int64    `json:"entry_id"`
	IdentityID  int64    `json:"identity_id"`
	Kind        Kind     `json:"kind"`
	Encoding    Encoding `json:"encoding"`
	Raw         []byte   `json:"-"`
	SourceLabel string   `json:"source_label,omitempty"`
}

// NewGalleryEntry builds an entry from an in-memory embedding using the default encoding.
func NewGalleryEntry(identityID int64, emb Embedding, sourceLabel string) (GalleryEntry, error) {
	raw, err := EncodeEmbedding(emb.Values, EncodingFloat32LE)
	if err != nil {
		return GalleryEntry{}, err
	}
	return GalleryEntry{
		IdentityID:  identityID,
		Kind:        emb.Kind,
		Encoding:    EncodingFloat32LE,
		Raw:         raw,
		SourceLabel: sourceLabel,
	}, nil
}

// Decode decodes the stored vector using the entry's encoding hint.
func (g GalleryEntry) Decode() (Embedding, error) {
	values, err := DecodeEmbedding(g.Raw, g.Encoding)
	if err != nil {
		return Embedding{}, err
	}
	return Embedding{Kind: g.Kind, Values: values}, nil
}

// MatchResult is the outcome of matching one probe against a gallery.
// IdentityID is nil when no identity is within the acceptance threshold;
// Distance and Confidence still describe the closest identity found.
type MatchResult struct {
	IdentityID *int64  `json:"identity_id"`
	Distance   float64 `json:"distance"`
	Confidence float64 `json:"confidence"`
	Kind       Kind    `json:"kind"`
	Model      string  `json:"model"`
	Skipped    int     `json:"skipped,omitempty"`
}

// Matched reports whether an identity was accepted.
func (r MatchResult) Matched() bool {
	return r.IdentityID != nil
}

// Identity returns the accepted identity and whether there was one.
func (r MatchResult) Identity() (int64, bool) {
	if r.IdentityID == nil {
		return 0, false
	}
	return *r.IdentityID, true
}

// MarshalJSON encodes an infinite distance (empty gallery) as null.
func (r MatchResult) MarshalJSON() ([]byte, error) {
	type alias MatchResult
	var dist *float64
	if !math.IsInf(r.Distance, 0) && !math.IsNaN(r.Distance) {
		d := r.Distance
		dist = &d
	}
	return json.Marshal(struct {
		alias
		Distance *float64 `json:"distance"`
	}{alias: alias(r), Distance: dist})
}

// Candidate is one identity ranked by its best distance to a probe.
type Candidate struct {
	IdentityID int64   `json:"identity_id"`
	Distance   float64 `json:"distance"`
	Confidence float64 `json:"confidence"`
	Entries    int     `json:"entries"`
	Accepted   bool    `json:"accepted"`
}

// Verification is the result of comparing two embeddings one to one.
type Verification struct {
	Verified   bool    `json:"verified"`
	Distance   float64 `json:"distance"`
	Threshold  float64 `json:"threshold"`
	Confidence float64 `json:"confidence"`
	Model      string  `json:"model"`
	Metric     Metric  `json:"metric"`
}

// IDPtr returns a pointer to id.
func IDPtr(id int64) *int64 {
	return &id
}
