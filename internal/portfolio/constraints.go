package portfolio

import (
	"sort"

	"github.com/wonny/b3quant/internal/strategyconfig"
)

// tolerance for cap and budget comparisons
const eps = 1e-12

// Constraints defines the risk caps and turnover budget applied during fusion
// ⭐ SSOT: 포트폴리오 제약조건은 여기서만
type Constraints struct {
	MaxWeight       float64 // 종목당 최대 비중 (0.0 ~ 1.0)
	MaxSectorWeight float64 // 섹터당 최대 비중 (0.0 ~ 1.0)
	TurnoverBudget  float64 // 리밸런싱당 최대 회전율 Σ|Δw|
	MaxIterations   int     // 캡 재분배 최대 반복 (K)
}

// ConstraintsFromConfig maps the strategy portfolio section
func ConstraintsFromConfig(p strategyconfig.Portfolio) Constraints {
	return Constraints{
		MaxWeight:       p.MaxWeightPerAsset,
		MaxSectorWeight: p.SectorCap,
		TurnoverBudget:  p.TurnoverBudget,
		MaxIterations:   p.MaxCapIterations,
	}
}

// DefaultConstraints returns default constraint configuration
func DefaultConstraints() Constraints {
	return Constraints{
		MaxWeight:       0.20, // 종목당 최대 20%
		MaxSectorWeight: 0.40, // 섹터당 최대 40%
		TurnoverBudget:  1.0,
		MaxIterations:   50,
	}
}

// Violations lists what the weights break
type Violations struct {
	Assets  []string // over MaxWeight
	Sectors []string // over MaxSectorWeight
}

// Any reports whether anything is violated
func (v Violations) Any() bool {
	return len(v.Assets) > 0 || len(v.Sectors) > 0
}

// Check returns the assets and sectors over their caps, sorted
func (c Constraints) Check(weights map[string]float64, sectors map[string]string) Violations {
	var v Violations
	for t, w := range weights {
		if w > c.MaxWeight+eps {
			v.Assets = append(v.Assets, t)
		}
	}
	for s, total := range sectorTotals(weights, sectors) {
		if total > c.MaxSectorWeight+eps {
			v.Sectors = append(v.Sectors, s)
		}
	}
	sort.Strings(v.Assets)
	sort.Strings(v.Sectors)
	return v
}

func sectorTotals(weights map[string]float64, sectors map[string]string) map[string]float64 {
	totals := make(map[string]float64)
	for _, t := range sortedKeys(weights) {
		totals[sectors[t]] += weights[t]
	}
	return totals
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
