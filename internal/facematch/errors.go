package facematch

import (
	"errors"
	"fmt"
)

// ErrNoFaceDetected is returned by extractors when the image contains no face.
// It is an expected outcome, distinct from an unknown identity.
var ErrNoFaceDetected = errors.New("no face detected")

// ErrDimensionMismatch matches any DimensionMismatchError.
var ErrDimensionMismatch = &DimensionMismatchError{}

// DimensionMismatchError is returned when two embeddings from incompatible
// spaces are compared. It is a configuration error and is never coerced.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Is implements errors.Is matching on the error type.
func (e *DimensionMismatchError) Is(target error) bool {
	_, ok := target.(*DimensionMismatchError)
	return ok
}

// ErrMalformedEntry matches any MalformedEntryError.
var ErrMalformedEntry = &MalformedEntryError{}

// MalformedEntryError is returned when a stored embedding cannot be decoded.
type MalformedEntryError struct {
	Encoding Encoding
	Reason   string
	Err      error
}

func (e *MalformedEntryError) Error() string {
	msg := fmt.Sprintf("malformed gallery entry (%s): %s", e.Encoding, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is implements errors.Is matching on the error type.
func (e *MalformedEntryError) Is(target error) bool {
	_, ok := target.(*MalformedEntryError)
	return ok
}

// Unwrap returns the underlying decode error.
func (e *MalformedEntryError) Unwrap() error {
	return e.Err
}

// ErrExtractorFailure matches any ExtractorError.
var ErrExtractorFailure = &ExtractorError{}

// ExtractorError wraps an extractor failure other than "no face", such as a
// corrupt image or an unreachable embedding server.
type ExtractorError struct {
	Kind Kind
	Err  error
}

func (e *ExtractorError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s extractor failed", e.Kind)
	}
	return fmt.Sprintf("%s extractor failed: %v", e.Kind, e.Err)
}

// Is implements errors.Is matching on the error type.
func (e *ExtractorError) Is(target error) bool {
	_, ok := target.(*ExtractorError)
	return ok
}

// Unwrap returns the underlying error.
func (e *ExtractorError) Unwrap() error {
	return e.Err
}
