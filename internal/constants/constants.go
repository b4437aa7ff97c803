// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Recognition constants
const (
	// DefaultNearestLimit is the default number of neighbors for gallery diagnostics
	DefaultNearestLimit = 5

	// MaxNearestLimit caps the number of neighbors a caller may request
	MaxNearestLimit = 100

	// DefaultStatisticsWindow is the number of recent decisions kept for statistics
	DefaultStatisticsWindow = 1000
)

// Evaluation constants
const (
	// DefaultImagesPerIdentity is the default number of images enrolled per identity
	DefaultImagesPerIdentity = 5

	// DefaultTestRatio is the default share of images moved to the test split
	DefaultTestRatio = 0.3

	// EvaluationWorkers is the default number of images embedded in parallel by batch commands
	EvaluationWorkers = 4
)
