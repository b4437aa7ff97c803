package evaluation

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// ReportFileName returns the JSON report file name for a run finished at t.
func ReportFileName(t time.Time) string {
	return fmt.Sprintf("comparison_%s.json", t.Format("20060102_150405"))
}

// WriteReport writes the comparison as indented JSON into dir and returns
// the file path. The directory is created if needed.
func WriteReport(dir string, c Comparison, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create report directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}

	path := filepath.Join(dir, ReportFileName(now))
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

var csvHeader = []string{
	"test_id", "ground_truth",
	"fast_prediction", "fast_confidence", "fast_time",
	"accurate_prediction", "accurate_confidence", "accurate_time",
}

// WriteCSV writes one line per sample with both recognizers side by side.
func (l *Ledger) WriteCSV(w io.Writer) error {
	fast := l.Rows(Fast)
	accurate := l.Rows(Accurate)
	if len(fast) != len(accurate) {
		return fmt.Errorf("ledgers differ in length: %d fast rows, %d accurate rows", len(fast), len(accurate))
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for i := range fast {
		record := []string{
			strconv.Itoa(i + 1),
			strconv.FormatInt(fast[i].Truth, 10),
			strconv.FormatInt(fast[i].Predicted, 10),
			formatFloat(fast[i].Confidence),
			formatFloat(fast[i].Elapsed),
			strconv.FormatInt(accurate[i].Predicted, 10),
			formatFloat(accurate[i].Confidence),
			formatFloat(accurate[i].Elapsed),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row %d: %w", i+1, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
