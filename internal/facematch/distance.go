package facematch

import (
	"fmt"
	"math"

	"github.com/hupe1980/vecgo/distance"
)

// Metric is a distance metric between two embeddings.
type Metric string

const (
	MetricCosine      Metric = "cosine"
	MetricEuclidean   Metric = "euclidean"
	MetricEuclideanL2 Metric = "euclidean_l2"
)

// ParseMetric parses a metric name.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case MetricCosine, MetricEuclidean, MetricEuclideanL2:
		return Metric(s), nil
	}
	return "", fmt.Errorf("unknown distance metric %q", s)
}

// Distance computes the distance between a and b under metric.
// Both vectors must have the same dimensionality.
func Distance(a, b []float32, metric Metric) (float64, error) {
	if len(a) != len(b) {
		return 0, &DimensionMismatchError{Expected: len(a), Actual: len(b)}
	}

	switch metric {
	case MetricCosine:
		return cosineDistance(a, b), nil
	case MetricEuclidean:
		return math.Sqrt(float64(distance.SquaredL2(a, b))), nil
	case MetricEuclideanL2:
		return math.Sqrt(float64(distance.SquaredL2(unitOrZero(a), unitOrZero(b)))), nil
	default:
		return 0, fmt.Errorf("unknown distance metric %q", metric)
	}
}

// cosineDistance returns 1 - cos(a, b) in [0, 2]. A zero vector has
// similarity 0 with everything.
func cosineDistance(a, b []float32) float64 {
	if len(a) == 0 {
		return 1
	}
	normA := float64(distance.Dot(a, a))
	normB := float64(distance.Dot(b, b))
	if normA == 0 || normB == 0 {
		return 1
	}

	similarity := float64(distance.Dot(a, b)) / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp to [-1, 1] to absorb float32 rounding.
	similarity = math.Max(-1, math.Min(1, similarity))

	return 1 - similarity
}

func unitOrZero(v []float32) []float32 {
	if u, ok := distance.NormalizeL2Copy(v); ok {
		return u
	}
	return make([]float32, len(v))
}

// Confidence maps a distance to a score in [0, 100].
// Cosine distance is bounded, so its score is threshold independent.
// Euclidean variants are scaled against the model's acceptance threshold.
func Confidence(d float64, metric Metric, threshold float64) float64 {
	if math.IsInf(d, 1) || math.IsNaN(d) {
		return 0
	}
	if metric == MetricCosine || threshold <= 0 {
		return clampPercent((1 - d) * 100)
	}
	return clampPercent((1 - d/threshold) * 100)
}

// LinearConfidence maps a distance to (1 - d) * 100, clamped to [0, 100].
// The fast recognizer reports on this scale regardless of its metric.
func LinearConfidence(d float64) float64 {
	if math.IsInf(d, 1) || math.IsNaN(d) {
		return 0
	}
	return clampPercent((1 - d) * 100)
}

func clampPercent(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
