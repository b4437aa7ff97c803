package evaluation

import "sort"

// ClassScore is the per-label line of a classification report.
type ClassScore struct {
	Label     int64   `json:"label"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1_score"`
	Support   int     `json:"support"`
}

// Report holds the metrics of one recognizer.
//
// Accuracy is strict: correct predictions over all rows, so missing
// predictions count as wrong. Every metric below AccuracyValidOnly is
// computed over rows with a prediction only.
type Report struct {
	TotalPredictions    int     `json:"total_predictions"`
	ValidPredictions    int     `json:"valid_predictions"`
	FailedPredictions   int     `json:"failed_predictions"`
	Errors              int     `json:"errors"`
	AvgConfidenceAll    float64 `json:"avg_confidence_all"`
	AvgConfidenceValid  float64 `json:"avg_confidence_valid"`
	AvgProcessingTime   float64 `json:"avg_processing_time"`
	TotalProcessingTime float64 `json:"total_processing_time"`

	Accuracy             float64 `json:"accuracy"`
	CorrectPredictions   int     `json:"correct_predictions"`
	IncorrectPredictions int     `json:"incorrect_predictions"`

	AccuracyValidOnly    float64      `json:"accuracy_valid_only"`
	PrecisionMacro       float64      `json:"precision_macro"`
	RecallMacro          float64      `json:"recall_macro"`
	F1Macro              float64      `json:"f1_macro"`
	PrecisionWeighted    float64      `json:"precision_weighted"`
	RecallWeighted       float64      `json:"recall_weighted"`
	F1Weighted           float64      `json:"f1_weighted"`
	CohenKappa           float64      `json:"cohen_kappa"`
	Labels               []int64      `json:"labels"`
	ConfusionMatrix      [][]int      `json:"confusion_matrix"`
	ClassificationReport []ClassScore `json:"classification_report"`
	TruePositives        int          `json:"true_positives"`
	FalsePositives       int          `json:"false_positives"`
}

// ComputeReport derives a report from ledger rows.
func ComputeReport(rows []Row, opts Options) Report {
	r := Report{
		TotalPredictions: len(rows),
		Labels:           []int64{},
		ConfusionMatrix:  [][]int{},
	}
	if len(rows) == 0 {
		return r
	}

	var sumConf, sumConfValid, sumTime float64
	var truth, pred []int64
	for _, row := range rows {
		sumConf += row.Confidence
		sumTime += row.Elapsed
		if row.Error != "" {
			r.Errors++
		}
		if !row.Valid() {
			r.FailedPredictions++
			if opts.CountCorrectRejections && row.Truth == Unknown {
				r.CorrectPredictions++
			}
			continue
		}
		r.ValidPredictions++
		sumConfValid += row.Confidence
		truth = append(truth, row.Truth)
		pred = append(pred, row.Predicted)
		if row.Truth == row.Predicted {
			r.CorrectPredictions++
		}
	}

	total := float64(len(rows))
	r.AvgConfidenceAll = sumConf / total
	r.AvgProcessingTime = sumTime / total
	r.TotalProcessingTime = sumTime
	r.Accuracy = float64(r.CorrectPredictions) / total
	r.IncorrectPredictions = len(rows) - r.CorrectPredictions
	if r.ValidPredictions == 0 {
		return r
	}
	r.AvgConfidenceValid = sumConfValid / float64(r.ValidPredictions)

	labels := unionLabels(truth, pred)
	index := make(map[int64]int, len(labels))
	for i, l := range labels {
		index[l] = i
	}
	cm := make([][]int, len(labels))
	for i := range cm {
		cm[i] = make([]int, len(labels))
	}
	for i := range truth {
		cm[index[truth[i]]][index[pred[i]]]++
	}
	r.Labels = labels
	r.ConfusionMatrix = cm

	n := float64(len(truth))
	var diag int
	for i := range labels {
		diag += cm[i][i]
	}
	r.AccuracyValidOnly = float64(diag) / n
	r.TruePositives = diag
	r.FalsePositives = len(truth) - diag

	r.ClassificationReport = make([]ClassScore, len(labels))
	for i, l := range labels {
		var predicted, support int
		for j := range labels {
			predicted += cm[j][i]
			support += cm[i][j]
		}
		precision := safeDiv(float64(cm[i][i]), float64(predicted))
		recall := safeDiv(float64(cm[i][i]), float64(support))
		f1 := safeDiv(2*precision*recall, precision+recall)
		r.ClassificationReport[i] = ClassScore{Label: l, Precision: precision, Recall: recall, F1: f1, Support: support}

		r.PrecisionMacro += precision
		r.RecallMacro += recall
		r.F1Macro += f1
		w := float64(support) / n
		r.PrecisionWeighted += precision * w
		r.RecallWeighted += recall * w
		r.F1Weighted += f1 * w
	}
	k := float64(len(labels))
	r.PrecisionMacro /= k
	r.RecallMacro /= k
	r.F1Macro /= k

	r.CohenKappa = cohenKappa(cm, n)
	return r
}

// cohenKappa computes chance-corrected agreement from a confusion matrix.
// It is 0 when chance agreement is total and kappa is undefined.
func cohenKappa(cm [][]int, n float64) float64 {
	var observed, expected float64
	for i := range cm {
		var row, col int
		for j := range cm {
			row += cm[i][j]
			col += cm[j][i]
		}
		observed += float64(cm[i][i])
		expected += float64(row) * float64(col)
	}
	po := observed / n
	pe := expected / (n * n)
	if pe >= 1 {
		return 0
	}
	return (po - pe) / (1 - pe)
}

func unionLabels(a, b []int64) []int64 {
	seen := make(map[int64]struct{}, len(a))
	for _, v := range a {
		seen[v] = struct{}{}
	}
	for _, v := range b {
		seen[v] = struct{}{}
	}
	labels := make([]int64, 0, len(seen))
	for v := range seen {
		labels = append(labels, v)
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })
	return labels
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}
