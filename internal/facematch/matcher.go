package facematch

import (
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/sirupsen/logrus"
)

// Scale selects how a distance is turned into a confidence percentage.
type Scale string

const (
	// ScaleThreshold follows Confidence: cosine is absolute, euclidean variants
	// are relative to the acceptance threshold.
	ScaleThreshold Scale = "threshold"
	// ScaleLinear reports (1 - distance) * 100.
	ScaleLinear Scale = "linear"
)

// Profile describes one recognizer: which model produced the gallery, how
// distances are measured and where the acceptance line is.
type Profile struct {
	Model     string  `json:"model"`
	Kind      Kind    `json:"kind"`
	Metric    Metric  `json:"metric"`
	Threshold float64 `json:"threshold"`
	Scale     Scale   `json:"scale"`
}

// NewProfile builds a profile taking the threshold from the table.
func NewProfile(model string, kind Kind, metric Metric, scale Scale, t *Thresholds) Profile {
	return Profile{
		Model:     model,
		Kind:      kind,
		Metric:    metric,
		Threshold: t.Lookup(model, metric),
		Scale:     scale,
	}
}

// Confidence converts a distance into a confidence on the profile's scale.
func (p Profile) Confidence(d float64) float64 {
	if p.Scale == ScaleLinear {
		return LinearConfidence(d)
	}
	return Confidence(d, p.Metric, p.Threshold)
}

// Matcher finds the nearest enrolled identity for a probe embedding.
// It holds no mutable state and is safe for concurrent use.
type Matcher struct {
	profile Profile
	log     logrus.FieldLogger
}

// NewMatcher creates a matcher. A nil logger discards diagnostics.
func NewMatcher(profile Profile, log logrus.FieldLogger) *Matcher {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Matcher{
		profile: profile,
		log:     log.WithFields(logrus.Fields{"model": profile.Model, "kind": profile.Kind}),
	}
}

// Profile returns the matcher's profile.
func (m *Matcher) Profile() Profile {
	return m.profile
}

// Match compares probe against every gallery entry of the matcher's kind,
// keeps the best distance per identity and accepts the closest identity when
// it is within the threshold. Malformed entries are skipped; a dimensionality
// mismatch aborts the match.
func (m *Matcher) Match(probe Embedding, gallery []GalleryEntry) (MatchResult, error) {
	result := MatchResult{
		Distance: math.Inf(1),
		Kind:     m.profile.Kind,
		Model:    m.profile.Model,
	}

	candidates, skipped, err := m.rank(probe, gallery)
	result.Skipped = skipped
	if err != nil {
		return result, err
	}
	if len(candidates) == 0 {
		return result, nil
	}

	best := candidates[0]
	result.Distance = best.Distance
	result.Confidence = best.Confidence
	if best.Accepted {
		result.IdentityID = IDPtr(best.IdentityID)
	}
	return result, nil
}

// Rank returns identities ordered by their best distance to probe. k <= 0
// returns every identity.
func (m *Matcher) Rank(probe Embedding, gallery []GalleryEntry, k int) ([]Candidate, error) {
	candidates, _, err := m.rank(probe, gallery)
	if err != nil {
		return nil, err
	}
	if k > 0 && len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates, nil
}

// Verify compares two embeddings one to one against the profile's threshold.
func (m *Matcher) Verify(a, b Embedding) (Verification, error) {
	d, err := Distance(a.Values, b.Values, m.profile.Metric)
	if err != nil {
		return Verification{}, err
	}
	return Verification{
		Verified:   d <= m.profile.Threshold,
		Distance:   d,
		Threshold:  m.profile.Threshold,
		Confidence: m.profile.Confidence(d),
		Model:      m.profile.Model,
		Metric:     m.profile.Metric,
	}, nil
}

func (m *Matcher) rank(probe Embedding, gallery []GalleryEntry) ([]Candidate, int, error) {
	if probe.Kind != "" && probe.Kind != m.profile.Kind {
		return nil, 0, fmt.Errorf("probe of kind %s given to %s matcher", probe.Kind, m.profile.Kind)
	}
	if probe.Dim() == 0 {
		return nil, 0, fmt.Errorf("empty probe embedding")
	}

	best := make(map[int64]*Candidate)
	skipped := 0
	for _, entry := range gallery {
		if entry.Kind != m.profile.Kind {
			continue
		}
		emb, err := entry.Decode()
		if err != nil {
			skipped++
			m.log.WithFields(logrus.Fields{
				"entry_id":    entry.EntryID,
				"identity_id": entry.IdentityID,
			}).WithError(err).Warn("Skipping malformed gallery entry")
			continue
		}

		d, err := Distance(probe.Values, emb.Values, m.profile.Metric)
		if err != nil {
			return nil, skipped, fmt.Errorf("gallery entry %d of identity %d: %w", entry.EntryID, entry.IdentityID, err)
		}

		c, ok := best[entry.IdentityID]
		if !ok {
			best[entry.IdentityID] = &Candidate{IdentityID: entry.IdentityID, Distance: d, Entries: 1}
			continue
		}
		c.Entries++
		if d < c.Distance {
			c.Distance = d
		}
	}

	candidates := make([]Candidate, 0, len(best))
	for _, c := range best {
		c.Confidence = m.profile.Confidence(c.Distance)
		c.Accepted = c.Distance <= m.profile.Threshold
		candidates = append(candidates, *c)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Distance != candidates[j].Distance {
			return candidates[i].Distance < candidates[j].Distance
		}
		return candidates[i].IdentityID < candidates[j].IdentityID
	})
	return candidates, skipped, nil
}
