// Package hybrid decides an identity for a probe image by combining a fast,
// cheap recognizer with a slower, accurate one. The accurate recognizer is
// only paid for when the mode and the fast confidence call for it.
package hybrid

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// Default calibration marks, in fast-recognizer confidence percent.
const (
	DefaultHigh = 55.0
	DefaultLow  = 35.0

	agreeFastWeight     = 0.6
	agreeAccurateWeight = 0.4
	unvalidatedDiscount = 0.8
)

// Config holds the arbitrator calibration.
type Config struct {
	Mode Mode    `json:"mode"`
	High float64 `json:"high"`
	Low  float64 `json:"low"`
}

// DefaultConfig returns smart mode with the default marks.
func DefaultConfig() Config {
	return Config{Mode: ModeSmart, High: DefaultHigh, Low: DefaultLow}
}

// Validate checks that the marks are ordered percentages.
func (c Config) Validate() error {
	if _, err := ParseMode(string(c.Mode)); err != nil {
		return err
	}
	if c.Low < 0 || c.High > 100 || c.Low > c.High {
		return fmt.Errorf("invalid confidence marks: low=%v high=%v (need 0 <= low <= high <= 100)", c.Low, c.High)
	}
	return nil
}

// Arbitrator reconciles the fast and accurate recognizers into one Decision.
// It holds no per-request state and is safe for concurrent use.
type Arbitrator struct {
	fast     Recognizer
	accurate Recognizer
	cfg      Config
	log      logrus.FieldLogger
}

// New creates an arbitrator. A nil logger discards diagnostics.
func New(fast, accurate Recognizer, cfg Config, log logrus.FieldLogger) *Arbitrator {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeSmart
	}
	return &Arbitrator{fast: fast, accurate: accurate, cfg: cfg, log: log}
}

// Config returns the arbitrator calibration.
func (a *Arbitrator) Config() Config {
	return a.cfg
}

// Fast returns the fast recognizer.
func (a *Arbitrator) Fast() Recognizer {
	return a.fast
}

// Accurate returns the accurate recognizer.
func (a *Arbitrator) Accurate() Recognizer {
	return a.accurate
}

// Recognize decides an identity for image against the gallery snapshot. An
// empty mode uses the configured default. It always returns a decision:
// extractor failures and fatal matcher errors yield MethodError.
func (a *Arbitrator) Recognize(ctx context.Context, image []byte, gallery []facematch.GalleryEntry, mode Mode) (d Decision) {
	if mode == "" {
		mode = a.cfg.Mode
	}
	d.Mode = mode

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			a.log.WithField("panic", r).Error("Recovered from panic during recognition")
			d.fail(fmt.Errorf("internal error: %v", r))
		}
		d.ProcessingTime = time.Since(start).Seconds()
	}()

	if len(gallery) == 0 {
		return d
	}

	fast := a.fast.Recognize(ctx, image, gallery)
	d.Fast = fast.Result
	if fast.Err != nil {
		d.fail(fast.Err)
		return d
	}

	switch {
	case fast.NoFace:
		a.accurateOnly(ctx, image, gallery, &d)
	case !fast.Matched():
		a.fastNoMatch(ctx, image, gallery, mode, &d)
	case mode == ModeAlwaysBoth:
		a.alwaysBoth(ctx, image, gallery, fast, &d)
	case mode == ModeFallback:
		d.accept(*fast.Result.IdentityID, fast.Confidence(), MethodFastOnly)
	case fast.Confidence() >= a.cfg.High:
		d.accept(*fast.Result.IdentityID, fast.Confidence(), MethodFastOnly)
	case fast.Confidence() >= a.cfg.Low:
		a.validate(ctx, image, gallery, fast, &d)
	default:
		a.lowConfidence(ctx, image, gallery, fast, &d)
	}

	id, _ := d.Identity()
	a.log.WithFields(logrus.Fields{
		"mode":       d.Mode,
		"method":     d.Method,
		"identity":   id,
		"confidence": d.Confidence,
	}).Debug("Recognition decided")
	return d
}

// runAccurate calls the accurate recognizer and records its evidence.
// It returns false when the attempt failed and d was marked as an error.
func (a *Arbitrator) runAccurate(ctx context.Context, image []byte, gallery []facematch.GalleryEntry, d *Decision) (Attempt, bool) {
	acc := a.accurate.Recognize(ctx, image, gallery)
	d.AccurateCalled = true
	d.Accurate = acc.Result
	if acc.Err != nil {
		d.fail(acc.Err)
		return acc, false
	}
	return acc, true
}

func (a *Arbitrator) accurateOnly(ctx context.Context, image []byte, gallery []facematch.GalleryEntry, d *Decision) {
	acc, ok := a.runAccurate(ctx, image, gallery, d)
	if !ok {
		return
	}
	switch {
	case acc.NoFace:
		d.reject(MethodNoFace)
	case acc.Matched():
		d.accept(*acc.Result.IdentityID, acc.Confidence(), MethodAccurateOnly)
	default:
		d.reject(MethodAccurateOnly)
	}
}

func (a *Arbitrator) fastNoMatch(ctx context.Context, image []byte, gallery []facematch.GalleryEntry, mode Mode, d *Decision) {
	acc, ok := a.runAccurate(ctx, image, gallery, d)
	if !ok {
		return
	}
	if !acc.Matched() {
		d.reject(MethodBothNoMatch)
		return
	}
	if mode == ModeAlwaysBoth {
		d.accept(*acc.Result.IdentityID, acc.Confidence(), MethodAccuratePriority)
		d.Agreement = boolPtr(false)
		return
	}
	d.accept(*acc.Result.IdentityID, acc.Confidence(), MethodAccurateFallback)
}

// validate handles a fast match in the ambiguous band of smart mode.
func (a *Arbitrator) validate(ctx context.Context, image []byte, gallery []facematch.GalleryEntry, fast Attempt, d *Decision) {
	acc, ok := a.runAccurate(ctx, image, gallery, d)
	if !ok {
		return
	}
	if !acc.Matched() {
		d.accept(*fast.Result.IdentityID, fast.Confidence()*unvalidatedDiscount, MethodFastUnvalidated)
		d.Agreement = boolPtr(false)
		return
	}
	if *acc.Result.IdentityID == *fast.Result.IdentityID {
		conf := agreeFastWeight*fast.Confidence() + agreeAccurateWeight*acc.Confidence()
		d.accept(*fast.Result.IdentityID, conf, MethodBothAgree)
		d.Agreement = boolPtr(true)
		return
	}
	resolveDisagreement(fast, acc, d)
}

// lowConfidence lets the accurate recognizer decide alone.
func (a *Arbitrator) lowConfidence(ctx context.Context, image []byte, gallery []facematch.GalleryEntry, fast Attempt, d *Decision) {
	acc, ok := a.runAccurate(ctx, image, gallery, d)
	if !ok {
		return
	}
	if !acc.Matched() {
		d.reject(MethodBothUncertain)
		return
	}
	d.accept(*acc.Result.IdentityID, acc.Confidence(), MethodAccuratePriority)
	d.Agreement = boolPtr(*acc.Result.IdentityID == *fast.Result.IdentityID)
}

func (a *Arbitrator) alwaysBoth(ctx context.Context, image []byte, gallery []facematch.GalleryEntry, fast Attempt, d *Decision) {
	acc, ok := a.runAccurate(ctx, image, gallery, d)
	if !ok {
		return
	}
	if !acc.Matched() {
		d.accept(*fast.Result.IdentityID, fast.Confidence(), MethodFastOnly)
		return
	}
	if *acc.Result.IdentityID == *fast.Result.IdentityID {
		conf := (fast.Confidence() + acc.Confidence()) / 2
		d.accept(*fast.Result.IdentityID, conf, MethodBothAgree)
		d.Agreement = boolPtr(true)
		return
	}
	resolveDisagreement(fast, acc, d)
}

// resolveDisagreement keeps the more confident answer. Ties go to fast.
func resolveDisagreement(fast, acc Attempt, d *Decision) {
	if fast.Confidence() >= acc.Confidence() {
		d.accept(*fast.Result.IdentityID, fast.Confidence(), MethodFastPriority)
	} else {
		d.accept(*acc.Result.IdentityID, acc.Confidence(), MethodAccuratePriority)
	}
	d.Agreement = boolPtr(false)
}
