package evaluation

import "fmt"

// Tie is the winner when neither recognizer is strictly better.
const Tie = "tie"

// Summary holds the pairwise differences between two recognizers.
// Differences are accurate minus fast; SpeedDiff is fast minus accurate
// average time, so a positive value means the accurate recognizer is faster.
type Summary struct {
	AccuracyDiff   float64 `json:"accuracy_diff"`
	F1MacroDiff    float64 `json:"f1_macro_diff"`
	CohenKappaDiff float64 `json:"cohen_kappa_diff"`
	SpeedDiff      float64 `json:"speed_diff"`
	WinnerAccuracy string  `json:"winner_accuracy"`
	WinnerF1       string  `json:"winner_f1"`
	WinnerKappa    string  `json:"winner_kappa"`
	WinnerSpeed    string  `json:"winner_speed"`
}

// Comparison is the full comparison report of two recognizers.
type Comparison struct {
	Fast     Report   `json:"fast"`
	Accurate Report   `json:"accurate"`
	Summary  Summary  `json:"comparison"`
	Metadata Metadata `json:"metadata"`
}

// Compare computes both reports and the pairwise summary. The two ledgers must
// hold the same number of rows.
func (l *Ledger) Compare(fastName, accurateName string) (Comparison, error) {
	if fl, al := l.Len(fastName), l.Len(accurateName); fl != al {
		return Comparison{}, fmt.Errorf("ledgers differ in length: %s has %d rows, %s has %d", fastName, fl, accurateName, al)
	}

	fast, err := l.Metrics(fastName)
	if err != nil {
		return Comparison{}, err
	}
	accurate, err := l.Metrics(accurateName)
	if err != nil {
		return Comparison{}, err
	}

	return Comparison{
		Fast:     fast,
		Accurate: accurate,
		Summary:  Summarize(fastName, fast, accurateName, accurate),
		Metadata: l.Metadata(),
	}, nil
}

// Summarize compares two reports. Higher wins for quality metrics, lower wins
// for average processing time; equal values are a tie.
func Summarize(fastName string, fast Report, accurateName string, accurate Report) Summary {
	return Summary{
		AccuracyDiff:   accurate.Accuracy - fast.Accuracy,
		F1MacroDiff:    accurate.F1Macro - fast.F1Macro,
		CohenKappaDiff: accurate.CohenKappa - fast.CohenKappa,
		SpeedDiff:      fast.AvgProcessingTime - accurate.AvgProcessingTime,
		WinnerAccuracy: higher(fastName, fast.Accuracy, accurateName, accurate.Accuracy),
		WinnerF1:       higher(fastName, fast.F1Macro, accurateName, accurate.F1Macro),
		WinnerKappa:    higher(fastName, fast.CohenKappa, accurateName, accurate.CohenKappa),
		WinnerSpeed:    higher(fastName, -fast.AvgProcessingTime, accurateName, -accurate.AvgProcessingTime),
	}
}

func higher(aName string, a float64, bName string, b float64) string {
	switch {
	case a > b:
		return aName
	case b > a:
		return bName
	default:
		return Tie
	}
}
