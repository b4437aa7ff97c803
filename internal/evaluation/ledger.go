// Package evaluation replays labeled probes through the fast and accurate
// recognizers, keeps a per-recognizer ledger of predictions and derives
// classification metrics to compare them.
package evaluation

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Unknown is the label stored for a missing prediction and for probes whose
// true identity is not enrolled.
const Unknown int64 = -1

// Recognizer names used by the runner.
const (
	Fast     = "fast"
	Accurate = "accurate"
)

// Row is one recorded prediction.
type Row struct {
	Predicted  int64   `json:"predicted"`
	Truth      int64   `json:"truth"`
	Confidence float64 `json:"confidence"`
	Elapsed    float64 `json:"elapsed_seconds"`
	Error      string  `json:"error,omitempty"`
}

// Valid reports whether the row holds a prediction.
func (r Row) Valid() bool {
	return r.Predicted != Unknown
}

// Metadata describes an evaluation run.
type Metadata struct {
	RunID            string    `json:"run_id"`
	Timestamp        time.Time `json:"timestamp"`
	TotalTests       int       `json:"total_tests"`
	FastModel        string    `json:"fast_model,omitempty"`
	AccurateModel    string    `json:"accurate_model,omitempty"`
	AccurateDetector string    `json:"accurate_detector,omitempty"`
	AccurateMetric   string    `json:"accurate_metric,omitempty"`
}

// Options tune metric computation.
type Options struct {
	// CountCorrectRejections counts a missing prediction for a probe whose
	// true label is Unknown as correct in the strict accuracy.
	CountCorrectRejections bool
}

// Ledger accumulates predictions per recognizer. It is safe for concurrent
// use; rows of one recognizer keep their insertion order.
type Ledger struct {
	mu       sync.RWMutex
	opts     Options
	rows     map[string][]Row
	metadata Metadata
}

// NewLedger creates an empty ledger.
func NewLedger(opts Options) *Ledger {
	return &Ledger{
		opts: opts,
		rows: make(map[string][]Row),
	}
}

// Record appends one prediction for the named recognizer. A nil predicted
// identity is stored as Unknown.
func (l *Ledger) Record(name string, predicted *int64, truth int64, confidence float64, elapsed time.Duration, err error) {
	row := Row{
		Predicted:  Unknown,
		Truth:      truth,
		Confidence: confidence,
		Elapsed:    elapsed.Seconds(),
	}
	if predicted != nil {
		row.Predicted = *predicted
	}
	if err != nil {
		row.Error = err.Error()
	}

	l.mu.Lock()
	l.rows[name] = append(l.rows[name], row)
	l.mu.Unlock()
}

// Rows returns a copy of the rows recorded for name.
func (l *Ledger) Rows(name string) []Row {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rows := make([]Row, len(l.rows[name]))
	copy(rows, l.rows[name])
	return rows
}

// Names returns the recognizer names with at least one row, sorted.
func (l *Ledger) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.rows))
	for name := range l.rows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of rows recorded for name.
func (l *Ledger) Len(name string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.rows[name])
}

// SetMetadata stores run metadata.
func (l *Ledger) SetMetadata(m Metadata) {
	l.mu.Lock()
	l.metadata = m
	l.mu.Unlock()
}

// Metadata returns run metadata with TotalTests filled from the fast ledger.
func (l *Ledger) Metadata() Metadata {
	l.mu.RLock()
	defer l.mu.RUnlock()
	m := l.metadata
	m.TotalTests = len(l.rows[Fast])
	return m
}

// Metrics computes the report for the named recognizer.
func (l *Ledger) Metrics(name string) (Report, error) {
	l.mu.RLock()
	rows, ok := l.rows[name]
	l.mu.RUnlock()
	if !ok {
		return Report{}, fmt.Errorf("unknown recognizer %q", name)
	}
	return ComputeReport(rows, l.opts), nil
}
