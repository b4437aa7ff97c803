package hybrid

import (
	"context"
	"errors"
	"time"

	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// Extractor turns an image into a face embedding. It returns
// facematch.ErrNoFaceDetected when the image holds no face; any other error is
// treated as an extractor failure.
type Extractor interface {
	Extract(ctx context.Context, image []byte) (facematch.Embedding, error)
}

// Recognizer pairs an extractor with the matcher for its embedding space.
type Recognizer struct {
	Extractor Extractor
	Matcher   *facematch.Matcher
}

// NewRecognizer creates a recognizer.
func NewRecognizer(e Extractor, m *facematch.Matcher) Recognizer {
	return Recognizer{Extractor: e, Matcher: m}
}

// Kind returns the embedding kind the recognizer works in.
func (r Recognizer) Kind() facematch.Kind {
	return r.Matcher.Profile().Kind
}

// Attempt is the outcome of one recognizer on one probe.
type Attempt struct {
	Result  *facematch.MatchResult
	NoFace  bool
	Err     error
	Elapsed time.Duration
}

// Matched reports whether the attempt accepted an identity.
func (a Attempt) Matched() bool {
	return a.Result != nil && a.Result.Matched()
}

// Confidence returns the match confidence, or 0 without a result.
func (a Attempt) Confidence() float64 {
	if a.Result == nil {
		return 0
	}
	return a.Result.Confidence
}

// Recognize extracts an embedding from image and matches it against gallery.
// Extraction failures are wrapped in *facematch.ExtractorError.
func (r Recognizer) Recognize(ctx context.Context, image []byte, gallery []facematch.GalleryEntry) Attempt {
	start := time.Now()
	attempt := r.recognize(ctx, image, gallery)
	attempt.Elapsed = time.Since(start)
	return attempt
}

func (r Recognizer) recognize(ctx context.Context, image []byte, gallery []facematch.GalleryEntry) Attempt {
	kind := r.Kind()

	emb, err := r.Extractor.Extract(ctx, image)
	if errors.Is(err, facematch.ErrNoFaceDetected) {
		return Attempt{NoFace: true}
	}
	if err != nil {
		var extErr *facematch.ExtractorError
		if !errors.As(err, &extErr) {
			err = &facematch.ExtractorError{Kind: kind, Err: err}
		}
		return Attempt{Err: err}
	}
	if emb.Kind == "" {
		emb.Kind = kind
	}

	result, err := r.Matcher.Match(emb, gallery)
	if err != nil {
		return Attempt{Result: &result, Err: err}
	}
	return Attempt{Result: &result}
}
