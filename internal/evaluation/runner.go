package evaluation

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/hybrid"
)

// Sample is one labeled probe image.
type Sample struct {
	Path     string `json:"path"`
	Identity string `json:"identity"`
	Truth    int64  `json:"truth"`
}

// RunSummary counts what happened during a run.
type RunSummary struct {
	Total     int `json:"total_images"`
	Processed int `json:"processed"`
	Errors    int `json:"errors"`
}

// Runner replays samples through both recognizers into a ledger.
type Runner struct {
	fast     hybrid.Recognizer
	accurate hybrid.Recognizer
	ledger   *Ledger
	log      logrus.FieldLogger

	// ReadFile loads a sample image. Defaults to os.ReadFile.
	ReadFile func(path string) ([]byte, error)
	// Progress is called after each sample.
	Progress func(done, total int)
}

// NewRunner creates a runner writing to ledger. A nil logger discards diagnostics.
func NewRunner(fast, accurate hybrid.Recognizer, ledger *Ledger, log logrus.FieldLogger) *Runner {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Runner{
		fast:     fast,
		accurate: accurate,
		ledger:   ledger,
		log:      log,
		ReadFile: os.ReadFile,
	}
}

// Ledger returns the ledger the runner records into.
func (r *Runner) Ledger() *Ledger {
	return r.ledger
}

// NewMetadata returns run metadata for the runner's recognizers.
func (r *Runner) NewMetadata(accurateDetector string) Metadata {
	fp := r.fast.Matcher.Profile()
	ap := r.accurate.Matcher.Profile()
	return Metadata{
		RunID:            uuid.New().String(),
		Timestamp:        time.Now(),
		FastModel:        fp.Model,
		AccurateModel:    ap.Model,
		AccurateDetector: accurateDetector,
		AccurateMetric:   string(ap.Metric),
	}
}

// Run processes samples in order. For each sample both recognizers run
// concurrently and append to their own ledger. Samples whose image cannot be
// read are skipped and counted as errors so both ledgers stay aligned.
func (r *Runner) Run(ctx context.Context, samples []Sample, gallery []facematch.GalleryEntry) (RunSummary, error) {
	summary := RunSummary{Total: len(samples)}

	for i, sample := range samples {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		image, err := r.ReadFile(sample.Path)
		if err != nil {
			summary.Errors++
			r.log.WithError(err).WithField("path", sample.Path).Warn("Skipping unreadable sample")
		} else {
			r.runSample(ctx, image, sample.Truth, gallery)
			summary.Processed++
		}

		if r.Progress != nil {
			r.Progress(i+1, len(samples))
		}
	}

	r.log.WithFields(logrus.Fields{
		"total":     summary.Total,
		"processed": summary.Processed,
		"errors":    summary.Errors,
	}).Info("Evaluation run finished")
	return summary, nil
}

func (r *Runner) runSample(ctx context.Context, image []byte, truth int64, gallery []facematch.GalleryEntry) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r.record(Fast, r.fast.Recognize(gctx, image, gallery), truth)
		return nil
	})
	g.Go(func() error {
		r.record(Accurate, r.accurate.Recognize(gctx, image, gallery), truth)
		return nil
	})
	_ = g.Wait()
}

func (r *Runner) record(name string, a hybrid.Attempt, truth int64) {
	var predicted *int64
	var confidence float64
	if a.Matched() {
		predicted = a.Result.IdentityID
		confidence = a.Result.Confidence
	}

	err := a.Err
	if err == nil && a.NoFace {
		err = facematch.ErrNoFaceDetected
	}
	r.ledger.Record(name, predicted, truth, confidence, a.Elapsed, err)
}

// Outcome is one recognizer's answer for a single probe.
type Outcome struct {
	PredictedID    *int64   `json:"predicted_id"`
	Confidence     float64  `json:"confidence"`
	Distance       *float64 `json:"distance,omitempty"`
	ProcessingTime float64  `json:"processing_time"`
	Success        bool     `json:"success"`
	Message        string   `json:"message,omitempty"`
	Error          string   `json:"error,omitempty"`
	Model          string   `json:"model"`
	Correct        *bool    `json:"correct,omitempty"`
}

// ProbeResult compares both recognizers on one image.
type ProbeResult struct {
	Fast        Outcome `json:"fast"`
	Accurate    Outcome `json:"accurate"`
	GroundTruth *int64  `json:"ground_truth_id,omitempty"`
}

// Probe runs both recognizers on one image without touching the ledger. When
// truth is set each outcome is marked correct or not.
func (r *Runner) Probe(ctx context.Context, image []byte, gallery []facematch.GalleryEntry, truth *int64) (ProbeResult, error) {
	if len(gallery) == 0 {
		return ProbeResult{}, fmt.Errorf("gallery is empty")
	}

	var res ProbeResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res.Fast = outcome(r.fast, r.fast.Recognize(gctx, image, gallery))
		return nil
	})
	g.Go(func() error {
		res.Accurate = outcome(r.accurate, r.accurate.Recognize(gctx, image, gallery))
		return nil
	})
	_ = g.Wait()

	if truth != nil {
		res.GroundTruth = truth
		res.Fast.Correct = isCorrect(res.Fast.PredictedID, *truth)
		res.Accurate.Correct = isCorrect(res.Accurate.PredictedID, *truth)
	}
	return res, nil
}

func outcome(rec hybrid.Recognizer, a hybrid.Attempt) Outcome {
	o := Outcome{
		ProcessingTime: a.Elapsed.Seconds(),
		Model:          rec.Matcher.Profile().Model,
	}
	switch {
	case a.Err != nil:
		o.Error = a.Err.Error()
	case a.NoFace:
		o.Error = facematch.ErrNoFaceDetected.Error()
	case a.Matched():
		o.PredictedID = a.Result.IdentityID
		o.Confidence = a.Result.Confidence
		d := a.Result.Distance
		o.Distance = &d
		o.Success = true
	default:
		o.Message = "no matching identity"
	}
	return o
}

func isCorrect(predicted *int64, truth int64) *bool {
	ok := predicted != nil && *predicted == truth
	return &ok
}
