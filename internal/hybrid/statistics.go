package hybrid

import "sort"

// Statistics summarizes a batch of decisions.
type Statistics struct {
	Total            int                `json:"total_recognitions"`
	AverageTime      float64            `json:"average_time"`
	Methods          map[Method]float64 `json:"methods_distribution"`
	AgreementRate    float64            `json:"agreement_rate"`
	DisagreementRate float64            `json:"disagreement_rate"`
}

// Summarize computes method distribution and agreement rates, all in percent.
// Decisions without a method are counted as "unknown".
func Summarize(decisions []Decision) Statistics {
	stats := Statistics{Methods: make(map[Method]float64)}
	if len(decisions) == 0 {
		return stats
	}

	var totalTime float64
	var agree, disagree int
	counts := make(map[Method]int)
	for _, d := range decisions {
		m := d.Method
		if m == "" {
			m = "unknown"
		}
		counts[m]++
		if d.Agreement != nil {
			if *d.Agreement {
				agree++
			} else {
				disagree++
			}
		}
		totalTime += d.ProcessingTime
	}

	total := float64(len(decisions))
	stats.Total = len(decisions)
	stats.AverageTime = totalTime / total
	for m, c := range counts {
		stats.Methods[m] = float64(c) / total * 100
	}
	stats.AgreementRate = float64(agree) / total * 100
	stats.DisagreementRate = float64(disagree) / total * 100
	return stats
}

// SortedMethods returns the methods seen, most frequent first.
func (s Statistics) SortedMethods() []Method {
	methods := make([]Method, 0, len(s.Methods))
	for m := range s.Methods {
		methods = append(methods, m)
	}
	sort.Slice(methods, func(i, j int) bool {
		if s.Methods[methods[i]] != s.Methods[methods[j]] {
			return s.Methods[methods[i]] > s.Methods[methods[j]]
		}
		return methods[i] < methods[j]
	})
	return methods
}

// Recommendation texts returned by Recommend.
const (
	RecommendSmartAgreement = "smart mode recommended: both models agree with high confidence"
	RecommendAlwaysBoth     = "always_both recommended: needs maximum validation"
	RecommendSmartSpeed     = "smart mode recommended: best speed/accuracy trade-off"
	RecommendInconclusive   = "evaluate case by case: results inconclusive"
)

// Recommend picks a mode from the decisions of one probe run in several modes.
func Recommend(results map[Mode]Decision) string {
	smart, hasSmart := results[ModeSmart]
	both, hasBoth := results[ModeAlwaysBoth]

	if hasSmart && smart.Agreement != nil && *smart.Agreement {
		return RecommendSmartAgreement
	}
	if hasBoth && both.Agreement != nil && *both.Agreement {
		return RecommendAlwaysBoth
	}

	// A missing mode counts as very slow.
	const missing = 999.0
	smartTime, bothTime := missing, missing
	if hasSmart {
		smartTime = smart.ProcessingTime
	}
	if hasBoth {
		bothTime = both.ProcessingTime
	}
	if smartTime < bothTime {
		return RecommendSmartSpeed
	}
	return RecommendInconclusive
}
