package hybrid

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kozaktomas/face-attendance/internal/facematch"
)

const (
	idA int64 = 1
	idB int64 = 2
)

type fakeExtractor struct {
	kind   facematch.Kind
	values []float32
	err    error
	delay  time.Duration
	panics bool
	calls  atomic.Int32
}

func (f *fakeExtractor) Extract(_ context.Context, _ []byte) (facematch.Embedding, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.panics {
		panic("extractor exploded")
	}
	if f.err != nil {
		return facematch.Embedding{}, f.err
	}
	return facematch.NewEmbedding(f.kind, f.values), nil
}

// fixture wires a fast recognizer working on 1-d embeddings and an accurate
// one on 2-d embeddings. Both probes sit at the origin, so a gallery entry
// placed at distance d scores (1-d)*100 on either side.
type fixture struct {
	fast     *fakeExtractor
	accurate *fakeExtractor
	arb      *Arbitrator
	gallery  []facematch.GalleryEntry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fast := &fakeExtractor{kind: facematch.KindFast, values: []float32{0}}
	accurate := &fakeExtractor{kind: facematch.KindAccurate, values: []float32{0, 0}}

	fastProfile := facematch.Profile{
		Model: "face_recognition", Kind: facematch.KindFast,
		Metric: facematch.MetricEuclidean, Threshold: 0.9, Scale: facematch.ScaleLinear,
	}
	accProfile := facematch.Profile{
		Model: "Facenet512", Kind: facematch.KindAccurate,
		Metric: facematch.MetricEuclidean, Threshold: 1.0, Scale: facematch.ScaleThreshold,
	}

	arb := New(
		NewRecognizer(fast, facematch.NewMatcher(fastProfile, nil)),
		NewRecognizer(accurate, facematch.NewMatcher(accProfile, nil)),
		DefaultConfig(),
		nil,
	)
	return &fixture{fast: fast, accurate: accurate, arb: arb}
}

// withFast enrolls a fast entry scoring conf for id.
func (f *fixture) withFast(t *testing.T, id int64, conf float64) *fixture {
	t.Helper()
	d := float32((100 - conf) / 100)
	entry, err := facematch.NewGalleryEntry(id, facematch.NewEmbedding(facematch.KindFast, []float32{d}), "")
	if err != nil {
		t.Fatalf("NewGalleryEntry error: %v", err)
	}
	f.gallery = append(f.gallery, entry)
	return f
}

// withAccurate enrolls an accurate entry scoring conf for id.
func (f *fixture) withAccurate(t *testing.T, id int64, conf float64) *fixture {
	t.Helper()
	d := float32((100 - conf) / 100)
	entry, err := facematch.NewGalleryEntry(id, facematch.NewEmbedding(facematch.KindAccurate, []float32{d, 0}), "")
	if err != nil {
		t.Fatalf("NewGalleryEntry error: %v", err)
	}
	f.gallery = append(f.gallery, entry)
	return f
}

func (f *fixture) recognize(mode Mode) Decision {
	return f.arb.Recognize(context.Background(), []byte("probe"), f.gallery, mode)
}

func assertIdentity(t *testing.T, d Decision, want *int64) {
	t.Helper()
	got, ok := d.Identity()
	switch {
	case want == nil && ok:
		t.Errorf("identity = %d, want none", got)
	case want != nil && !ok:
		t.Errorf("identity = none, want %d", *want)
	case want != nil && got != *want:
		t.Errorf("identity = %d, want %d", got, *want)
	}
}

func assertAgreement(t *testing.T, d Decision, want *bool) {
	t.Helper()
	switch {
	case want == nil && d.Agreement != nil:
		t.Errorf("agreement = %v, want nil", *d.Agreement)
	case want != nil && d.Agreement == nil:
		t.Errorf("agreement = nil, want %v", *want)
	case want != nil && *d.Agreement != *want:
		t.Errorf("agreement = %v, want %v", *d.Agreement, *want)
	}
}

func TestArbitrator_Scenarios(t *testing.T) {
	tests := []struct {
		name          string
		mode          Mode
		fast          map[int64]float64
		accurate      map[int64]float64
		wantMethod    Method
		wantID        *int64
		wantConf      float64
		wantAgreement *bool
		wantAccCalls  int32
	}{
		{
			name:         "high fast confidence skips accurate",
			mode:         ModeSmart,
			fast:         map[int64]float64{idA: 80},
			accurate:     map[int64]float64{idA: 90},
			wantMethod:   MethodFastOnly,
			wantID:       facematch.IDPtr(idA),
			wantConf:     80,
			wantAccCalls: 0,
		},
		{
			name:          "middle band agreement is weighted",
			mode:          ModeSmart,
			fast:          map[int64]float64{idA: 40},
			accurate:      map[int64]float64{idA: 60},
			wantMethod:    MethodBothAgree,
			wantID:        facematch.IDPtr(idA),
			wantConf:      48,
			wantAgreement: boolPtr(true),
			wantAccCalls:  1,
		},
		{
			name:          "middle band disagreement fast more confident",
			mode:          ModeSmart,
			fast:          map[int64]float64{idA: 50},
			accurate:      map[int64]float64{idB: 45},
			wantMethod:    MethodFastPriority,
			wantID:        facematch.IDPtr(idA),
			wantConf:      50,
			wantAgreement: boolPtr(false),
			wantAccCalls:  1,
		},
		{
			name:          "middle band disagreement accurate more confident",
			mode:          ModeSmart,
			fast:          map[int64]float64{idA: 40},
			accurate:      map[int64]float64{idB: 70},
			wantMethod:    MethodAccuratePriority,
			wantID:        facematch.IDPtr(idB),
			wantConf:      70,
			wantAgreement: boolPtr(false),
			wantAccCalls:  1,
		},
		{
			name:          "middle band tie goes to fast",
			mode:          ModeSmart,
			fast:          map[int64]float64{idA: 50},
			accurate:      map[int64]float64{idB: 50},
			wantMethod:    MethodFastPriority,
			wantID:        facematch.IDPtr(idA),
			wantConf:      50,
			wantAgreement: boolPtr(false),
			wantAccCalls:  1,
		},
		{
			name:          "middle band accurate silent discounts fast",
			mode:          ModeSmart,
			fast:          map[int64]float64{idA: 40},
			wantMethod:    MethodFastUnvalidated,
			wantID:        facematch.IDPtr(idA),
			wantConf:      32,
			wantAgreement: boolPtr(false),
			wantAccCalls:  1,
		},
		{
			name:         "low fast confidence and accurate silent",
			mode:         ModeSmart,
			fast:         map[int64]float64{idA: 20},
			wantMethod:   MethodBothUncertain,
			wantID:       nil,
			wantAccCalls: 1,
		},
		{
			name:          "low fast confidence accurate confirms",
			mode:          ModeSmart,
			fast:          map[int64]float64{idA: 20},
			accurate:      map[int64]float64{idA: 75},
			wantMethod:    MethodAccuratePriority,
			wantID:        facematch.IDPtr(idA),
			wantConf:      75,
			wantAgreement: boolPtr(true),
			wantAccCalls:  1,
		},
		{
			name:          "low fast confidence accurate overrides",
			mode:          ModeSmart,
			fast:          map[int64]float64{idA: 20},
			accurate:      map[int64]float64{idB: 75},
			wantMethod:    MethodAccuratePriority,
			wantID:        facematch.IDPtr(idB),
			wantConf:      75,
			wantAgreement: boolPtr(false),
			wantAccCalls:  1,
		},
		{
			name:          "always_both disagreement higher confidence wins",
			mode:          ModeAlwaysBoth,
			fast:          map[int64]float64{idA: 90},
			accurate:      map[int64]float64{idB: 95},
			wantMethod:    MethodAccuratePriority,
			wantID:        facematch.IDPtr(idB),
			wantConf:      95,
			wantAgreement: boolPtr(false),
			wantAccCalls:  1,
		},
		{
			name:          "always_both agreement averages",
			mode:          ModeAlwaysBoth,
			fast:          map[int64]float64{idA: 90},
			accurate:      map[int64]float64{idA: 70},
			wantMethod:    MethodBothAgree,
			wantID:        facematch.IDPtr(idA),
			wantConf:      80,
			wantAgreement: boolPtr(true),
			wantAccCalls:  1,
		},
		{
			name:         "always_both accurate silent keeps fast",
			mode:         ModeAlwaysBoth,
			fast:         map[int64]float64{idA: 90},
			wantMethod:   MethodFastOnly,
			wantID:       facematch.IDPtr(idA),
			wantConf:     90,
			wantAccCalls: 1,
		},
		{
			name:         "fallback accepts any fast match",
			mode:         ModeFallback,
			fast:         map[int64]float64{idA: 40},
			accurate:     map[int64]float64{idB: 99},
			wantMethod:   MethodFastOnly,
			wantID:       facematch.IDPtr(idA),
			wantConf:     40,
			wantAccCalls: 0,
		},
		{
			name:         "fast rejects and accurate matches in fallback",
			mode:         ModeFallback,
			fast:         map[int64]float64{idA: -50},
			accurate:     map[int64]float64{idB: 65},
			wantMethod:   MethodAccurateFallback,
			wantID:       facematch.IDPtr(idB),
			wantConf:     65,
			wantAccCalls: 1,
		},
		{
			name:         "fast rejects and accurate matches in smart",
			mode:         ModeSmart,
			fast:         map[int64]float64{idA: -50},
			accurate:     map[int64]float64{idB: 65},
			wantMethod:   MethodAccurateFallback,
			wantID:       facematch.IDPtr(idB),
			wantConf:     65,
			wantAccCalls: 1,
		},
		{
			name:          "fast rejects and accurate matches in always_both",
			mode:          ModeAlwaysBoth,
			fast:          map[int64]float64{idA: -50},
			accurate:      map[int64]float64{idB: 65},
			wantMethod:    MethodAccuratePriority,
			wantID:        facematch.IDPtr(idB),
			wantConf:      65,
			wantAgreement: boolPtr(false),
			wantAccCalls:  1,
		},
		{
			name:         "both reject",
			mode:         ModeSmart,
			fast:         map[int64]float64{idA: -50},
			accurate:     map[int64]float64{idB: -10},
			wantMethod:   MethodBothNoMatch,
			wantID:       nil,
			wantAccCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			for id, conf := range tt.fast {
				f.withFast(t, id, conf)
			}
			for id, conf := range tt.accurate {
				f.withAccurate(t, id, conf)
			}

			d := f.recognize(tt.mode)

			if d.Method != tt.wantMethod {
				t.Errorf("method = %s, want %s (error %q)", d.Method, tt.wantMethod, d.Error)
			}
			assertIdentity(t, d, tt.wantID)
			assertAgreement(t, d, tt.wantAgreement)
			if math.Abs(d.Confidence-tt.wantConf) > 0.001 {
				t.Errorf("confidence = %v, want %v", d.Confidence, tt.wantConf)
			}
			if got := f.fast.calls.Load(); got != 1 {
				t.Errorf("fast calls = %d, want 1", got)
			}
			if got := f.accurate.calls.Load(); got != tt.wantAccCalls {
				t.Errorf("accurate calls = %d, want %d", got, tt.wantAccCalls)
			}
			if d.AccurateCalled != (tt.wantAccCalls > 0) {
				t.Errorf("AccurateCalled = %v, want %v", d.AccurateCalled, tt.wantAccCalls > 0)
			}
			if d.Fast == nil {
				t.Error("decision should carry the fast result")
			}
			if d.Error != "" {
				t.Errorf("unexpected error %q", d.Error)
			}
		})
	}
}

func TestArbitrator_EmptyGallery(t *testing.T) {
	f := newFixture(t)

	d := f.recognize(ModeSmart)
	if d.Method != "" || d.Matched() {
		t.Errorf("decision = %+v, want empty", d)
	}
	if f.fast.calls.Load() != 0 || f.accurate.calls.Load() != 0 {
		t.Error("no extractor should be called for an empty gallery")
	}
}

func TestArbitrator_FastNoFace(t *testing.T) {
	tests := []struct {
		name       string
		accErr     error
		accurate   map[int64]float64
		wantMethod Method
		wantID     *int64
	}{
		{"accurate matches", nil, map[int64]float64{idB: 70}, MethodAccurateOnly, facematch.IDPtr(idB)},
		{"accurate rejects", nil, map[int64]float64{idB: -20}, MethodAccurateOnly, nil},
		{"accurate sees no face either", facematch.ErrNoFaceDetected, nil, MethodNoFace, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t).withFast(t, idA, 90)
			for id, conf := range tt.accurate {
				f.withAccurate(t, id, conf)
			}
			f.fast.err = facematch.ErrNoFaceDetected
			f.accurate.err = tt.accErr

			d := f.recognize(ModeSmart)
			if d.Method != tt.wantMethod {
				t.Errorf("method = %s, want %s", d.Method, tt.wantMethod)
			}
			assertIdentity(t, d, tt.wantID)
			if f.accurate.calls.Load() != 1 {
				t.Errorf("accurate calls = %d, want 1", f.accurate.calls.Load())
			}
			if d.Error != "" {
				t.Errorf("no-face must not be reported as an error, got %q", d.Error)
			}
		})
	}
}

func TestArbitrator_FastExtractorFailure(t *testing.T) {
	f := newFixture(t).withFast(t, idA, 90).withAccurate(t, idA, 90)
	f.fast.err = errors.New("corrupt image")

	d := f.recognize(ModeSmart)
	if d.Method != MethodError {
		t.Fatalf("method = %s, want %s", d.Method, MethodError)
	}
	assertIdentity(t, d, nil)
	if d.Error == "" {
		t.Error("error message should be reported")
	}
	if f.accurate.calls.Load() != 0 {
		t.Error("accurate should not run after a fast extractor failure")
	}
}

func TestArbitrator_AccurateExtractorFailure(t *testing.T) {
	f := newFixture(t).withFast(t, idA, 40).withAccurate(t, idA, 60)
	f.accurate.err = errors.New("connection refused")

	d := f.recognize(ModeSmart)
	if d.Method != MethodError {
		t.Fatalf("method = %s, want %s", d.Method, MethodError)
	}
	assertIdentity(t, d, nil)
	assertAgreement(t, d, nil)
	if d.Fast == nil || !d.Fast.Matched() {
		t.Error("partial fast result should be kept")
	}
}

func TestArbitrator_DimensionMismatchIsError(t *testing.T) {
	f := newFixture(t)
	entry, err := facematch.NewGalleryEntry(idA, facematch.NewEmbedding(facematch.KindFast, []float32{0.1, 0.1}), "")
	if err != nil {
		t.Fatalf("NewGalleryEntry error: %v", err)
	}
	f.gallery = append(f.gallery, entry)

	d := f.recognize(ModeSmart)
	if d.Method != MethodError {
		t.Errorf("method = %s, want %s", d.Method, MethodError)
	}
}

func TestArbitrator_RecoversFromPanic(t *testing.T) {
	f := newFixture(t).withFast(t, idA, 40)
	f.accurate.panics = true

	d := f.recognize(ModeSmart)
	if d.Method != MethodError {
		t.Errorf("method = %s, want %s", d.Method, MethodError)
	}
	if d.ProcessingTime <= 0 {
		t.Error("processing time should be recorded after a panic")
	}
}

func TestArbitrator_Idempotent(t *testing.T) {
	f := newFixture(t).withFast(t, idA, 40).withAccurate(t, idA, 60).withAccurate(t, idB, 30)

	first := f.recognize(ModeSmart)
	second := f.recognize(ModeSmart)

	if first.Method != second.Method {
		t.Errorf("method changed: %s then %s", first.Method, second.Method)
	}
	id1, _ := first.Identity()
	id2, _ := second.Identity()
	if id1 != id2 {
		t.Errorf("identity changed: %d then %d", id1, id2)
	}
}

func TestArbitrator_ProcessingTimeCoversCallsMade(t *testing.T) {
	f := newFixture(t).withFast(t, idA, 80).withAccurate(t, idA, 60)
	f.fast.delay = 20 * time.Millisecond
	f.accurate.delay = 200 * time.Millisecond

	d := f.recognize(ModeSmart)
	if d.Duration() < 20*time.Millisecond {
		t.Errorf("processing time %v shorter than the fast call", d.Duration())
	}
	if d.Duration() >= 200*time.Millisecond {
		t.Errorf("processing time %v includes an accurate call that was never made", d.Duration())
	}

	d = f.recognize(ModeAlwaysBoth)
	if d.Duration() < 220*time.Millisecond {
		t.Errorf("processing time %v shorter than both calls", d.Duration())
	}
}

func TestArbitrator_DefaultMode(t *testing.T) {
	f := newFixture(t).withFast(t, idA, 40)

	d := f.recognize("")
	if d.Mode != ModeSmart {
		t.Errorf("mode = %s, want %s", d.Mode, ModeSmart)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"default", DefaultConfig(), false},
		{"low above high", Config{Mode: ModeSmart, High: 30, Low: 40}, true},
		{"high above 100", Config{Mode: ModeSmart, High: 120, Low: 40}, true},
		{"unknown mode", Config{Mode: "yolo", High: 55, Low: 35}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseMode(t *testing.T) {
	for _, m := range Modes {
		got, err := ParseMode(string(m))
		if err != nil || got != m {
			t.Errorf("ParseMode(%q) = %q, %v", m, got, err)
		}
	}
	if got, _ := ParseMode(""); got != ModeSmart {
		t.Errorf("ParseMode(\"\") = %q, want smart", got)
	}
	if _, err := ParseMode("turbo"); err == nil {
		t.Error("expected error for unknown mode")
	}
}
