package attendance

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kozaktomas/face-attendance/internal/dataset"
	"github.com/kozaktomas/face-attendance/internal/evaluation"
	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// EvaluateOptions configures a batch comparison over a dataset.
type EvaluateOptions struct {
	// ImagesPerIdentity limits the probes taken per identity; 0 takes all.
	ImagesPerIdentity int
	// CountCorrectRejections counts a rejected unknown probe as correct.
	CountCorrectRejections bool
	// AccurateDetector is recorded in the run metadata.
	AccurateDetector string
	// Progress is called after each sample.
	Progress func(done, total int)
	// ReadFile overrides how sample images are read.
	ReadFile func(path string) ([]byte, error)
}

// Evaluation is the outcome of a batch comparison.
type Evaluation struct {
	Comparison evaluation.Comparison `json:"results"`
	Summary    evaluation.RunSummary `json:"summary"`
	Unresolved []string              `json:"unresolved_identities,omitempty"`

	Ledger *evaluation.Ledger `json:"-"`
}

// Evaluate replays every sample of the dataset at root through both
// recognizers against the enrolled gallery. Directory names are resolved to
// enrolled identities; probes of unknown people keep the unknown label.
func (s *Service) Evaluate(ctx context.Context, root string, opts EvaluateOptions) (*Evaluation, error) {
	ds, err := dataset.Load(root)
	if err != nil {
		return nil, err
	}
	samples := ds.Samples(opts.ImagesPerIdentity)
	if len(samples) == 0 {
		return nil, fmt.Errorf("no images found in dataset %s", root)
	}

	gallery, err := s.loadGallery(ctx)
	if err != nil {
		return nil, err
	}
	if len(gallery) == 0 {
		return nil, ErrEmptyGallery
	}

	idents, err := s.store.ListIdentities(ctx)
	if err != nil {
		return nil, err
	}
	enrolled := make(map[string]int64, len(idents))
	for _, ident := range idents {
		enrolled[ident.Name] = ident.ID
	}
	unresolved := dataset.ResolveLabels(samples, enrolled)
	if len(unresolved) > 0 {
		s.log.WithField("identities", unresolved).Warn("Dataset identities not enrolled, their probes are labeled unknown")
	}

	ledger := evaluation.NewLedger(evaluation.Options{CountCorrectRejections: opts.CountCorrectRejections})
	runner := evaluation.NewRunner(s.arb.Fast(), s.arb.Accurate(), ledger, s.log)
	runner.Progress = opts.Progress
	if opts.ReadFile != nil {
		runner.ReadFile = opts.ReadFile
	}

	meta := runner.NewMetadata(opts.AccurateDetector)
	summary, err := runner.Run(ctx, samples, gallery)
	if err != nil {
		return nil, err
	}
	meta.TotalTests = ledger.Len(evaluation.Fast)
	ledger.SetMetadata(meta)

	comparison, err := ledger.Compare(evaluation.Fast, evaluation.Accurate)
	if err != nil {
		return nil, err
	}
	return &Evaluation{
		Comparison: comparison,
		Summary:    summary,
		Unresolved: unresolved,
		Ledger:     ledger,
	}, nil
}

// WriteReports writes the JSON comparison into dir and a CSV of every
// per-sample row next to it. It returns the JSON path.
func (e *Evaluation) WriteReports(dir string, now time.Time) (string, error) {
	path, err := evaluation.WriteReport(dir, e.Comparison, now)
	if err != nil {
		return "", err
	}
	if e.Ledger == nil {
		return path, nil
	}
	f, err := os.Create(strings.TrimSuffix(path, filepath.Ext(path)) + ".csv")
	if err != nil {
		return path, fmt.Errorf("create csv report: %w", err)
	}
	defer f.Close()
	if err := e.Ledger.WriteCSV(f); err != nil {
		return path, fmt.Errorf("write csv report: %w", err)
	}
	return path, nil
}

// Probe compares both recognizers on one image. truth, when set, marks each
// answer correct or not.
func (s *Service) Probe(ctx context.Context, image []byte, truth *int64) (evaluation.ProbeResult, error) {
	gallery, err := s.loadGallery(ctx)
	if err != nil {
		return evaluation.ProbeResult{}, err
	}
	runner := evaluation.NewRunner(s.arb.Fast(), s.arb.Accurate(), nil, s.log)
	res, err := runner.Probe(ctx, image, gallery, truth)
	if err != nil && len(gallery) == 0 {
		return res, ErrEmptyGallery
	}
	return res, err
}

// IsClientError reports whether err was caused by the caller's input rather
// than a failing dependency.
func IsClientError(err error) bool {
	return errors.Is(err, ErrEmptyGallery) ||
		errors.Is(err, facematch.ErrNoFaceDetected) ||
		errors.Is(err, facematch.ErrDimensionMismatch)
}
