package risk

import (
	"math"
	"sort"
)

// DefaultConfidence is the tail level reported by the evaluator
const DefaultConfidence = 0.95

// MinObservations is the shortest series with a meaningful 5% tail
const MinObservations = 20

// Tail is the historical-simulation tail of a daily return series.
// 손실은 양수로 표현 (0.03 = 하루 3% 손실)
type Tail struct {
	Confidence float64 `json:"confidence"`
	VaR        float64 `json:"var"`
	CVaR       float64 `json:"cvar"` // expected shortfall: VaR 이하 평균 손실
	Tail       int     `json:"tail"` // observations in the tail
}

// HistoricalTail computes VaR and CVaR from the empirical distribution.
// The tail holds the floor((1-confidence)·n)+1 worst days; a tail that
// averages a gain reports zero loss.
func HistoricalTail(returns []float64, confidence float64) (Tail, bool) {
	out := Tail{Confidence: confidence}
	if len(returns) == 0 || confidence <= 0 || confidence >= 1 {
		return out, false
	}

	// 오름차순: 손실이 앞에
	sorted := make([]float64, 0, len(returns))
	for _, r := range returns {
		if math.IsNaN(r) || math.IsInf(r, 0) {
			return out, false
		}
		sorted = append(sorted, r)
	}
	sort.Float64s(sorted)

	idx := int(math.Floor((1 - confidence) * float64(len(sorted))))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}

	out.VaR = lossOf(sorted[idx])

	sum := 0.0
	for _, r := range sorted[:idx+1] {
		sum += r
	}
	out.Tail = idx + 1
	out.CVaR = lossOf(sum / float64(out.Tail))
	return out, true
}

func lossOf(r float64) float64 {
	if r < 0 {
		return -r
	}
	return 0
}
