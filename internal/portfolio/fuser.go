package portfolio

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/wonny/b3quant/internal/contracts"
	"github.com/wonny/b3quant/pkg/logger"
)

// FusionConfig holds everything the fuser needs; immutable per run
type FusionConfig struct {
	Gate        contracts.Gate
	Lambda      float64 // conviction tilt, [0, 0.5]
	Constraints Constraints
}

// Fuser combines event, positioning and conviction signals into target weights
// ⭐ SSOT: 시그널 결합 / 캡 / 회전율 제어는 여기서만
type Fuser struct {
	config FusionConfig
	logger *logger.Logger
}

// NewFuser creates a new fuser
func NewFuser(config FusionConfig, log *logger.Logger) *Fuser {
	if config.Constraints.MaxIterations < 1 {
		config.Constraints.MaxIterations = 1
	}
	return &Fuser{config: config, logger: log}
}

// Config returns the fusion configuration
func (f *Fuser) Config() FusionConfig {
	return f.config
}

// Fuse produces the target portfolio for signals.Date given current holdings.
// It is pure: the same inputs always give the same output.
//
//  1. gate: event > 0, positioning >= min percentile, liquidity >= threshold
//  2. equal weight across the eligible set
//  3. tilt by (1 + λ·conviction), renormalized to the pre-tilt total
//  4. asset and sector caps, clip and redistribute (at most K rounds)
//  5. shrink the delta toward current holdings when turnover exceeds budget
func (f *Fuser) Fuse(signals *contracts.SignalSet, current map[string]float64) *contracts.TargetPortfolio {
	date := signals.Date
	var diags contracts.Diagnostics

	eligible := f.config.Gate.EligibleTickers(signals)
	sort.Strings(eligible)

	weights := f.baseWeights(eligible)
	f.tilt(weights, eligible, signals)
	f.applyCaps(weights, eligible, signals.Sectors, date, &diags)

	final := f.controlTurnover(weights, current, signals.Sectors, date, &diags)

	target := &contracts.TargetPortfolio{
		Date:        date,
		Weights:     make([]contracts.TargetWeight, 0, len(final)),
		Eligible:    eligible,
		Diagnostics: diags,
	}
	for _, t := range sortedKeys(final) {
		if final[t] < eps {
			continue
		}
		target.Weights = append(target.Weights, contracts.TargetWeight{
			Ticker: t,
			Date:   date,
			Weight: final[t],
			Sector: signals.Sectors[t],
		})
	}
	target.Turnover = contracts.Turnover(target.AsMap(), current)
	target.Cash = math.Max(0, 1-target.TotalWeight())

	f.logger.WithFields(map[string]interface{}{
		"date":        date.Format("2006-01-02"),
		"eligible":    len(eligible),
		"positions":   target.Count(),
		"total":       target.TotalWeight(),
		"turnover":    target.Turnover,
		"diagnostics": len(diags),
	}).Debug("Signals fused")

	return target
}

// baseWeights: 동일 비중 1/n (빈 집합 → 전액 현금)
func (f *Fuser) baseWeights(eligible []string) map[string]float64 {
	weights := make(map[string]float64, len(eligible))
	if len(eligible) == 0 {
		return weights
	}
	w := 1.0 / float64(len(eligible))
	for _, t := range eligible {
		weights[t] = w
	}
	return weights
}

// tilt shifts weight among eligible names; it never admits or removes one
func (f *Fuser) tilt(weights map[string]float64, eligible []string, signals *contracts.SignalSet) {
	if f.config.Lambda == 0 || len(eligible) == 0 {
		return
	}
	before, after := 0.0, 0.0
	for _, t := range eligible {
		before += weights[t]
		c, _ := signals.Value(contracts.SignalConviction, t)
		weights[t] *= 1 + f.config.Lambda*c
		after += weights[t]
	}
	if after <= 0 {
		return
	}
	for _, t := range eligible {
		weights[t] *= before / after
	}
}

// applyCaps runs the clip-and-redistribute loop over asset then sector caps.
// Excess flows to assets below their cap in sectors below theirs, in
// proportion to weight; with no such asset it stays in cash.
func (f *Fuser) applyCaps(weights map[string]float64, eligible []string, sectors map[string]string, date time.Time, diags *contracts.Diagnostics) {
	c := f.config.Constraints
	converged := false

	for iter := 0; iter < c.MaxIterations; iter++ {
		excess := 0.0

		for _, t := range eligible {
			if weights[t] > c.MaxWeight {
				excess += weights[t] - c.MaxWeight
				weights[t] = c.MaxWeight
			}
		}

		totals := sectorTotals(weights, sectors)
		for _, s := range sortedKeys(totals) {
			if totals[s] <= c.MaxSectorWeight {
				continue
			}
			scale := c.MaxSectorWeight / totals[s]
			for _, t := range eligible {
				if sectors[t] == s {
					excess += weights[t] * (1 - scale)
					weights[t] *= scale
				}
			}
			totals[s] = c.MaxSectorWeight
		}

		if excess <= eps {
			converged = true
			break
		}

		receivers, pool := f.receivers(weights, eligible, sectors, totals)
		if len(receivers) == 0 || pool <= 0 {
			// 받을 곳이 없으면 현금
			converged = true
			break
		}
		for _, t := range receivers {
			weights[t] += excess * weights[t] / pool
		}
	}

	if converged {
		return
	}
	v := c.Check(weights, sectors)
	if !v.Any() {
		return
	}

	diags.Add(contracts.DiagRiskCapNonConvergent, "", date,
		fmt.Sprintf("caps not met after %d iterations (assets=%v sectors=%v)", c.MaxIterations, v.Assets, v.Sectors))
	f.logger.WithFields(map[string]interface{}{
		"date":       date.Format("2006-01-02"),
		"iterations": c.MaxIterations,
	}).Warn("Risk cap redistribution did not converge")

	// 강제 적용: 섹터 축소 → 종목 클립 (초과분은 현금)
	totals := sectorTotals(weights, sectors)
	for _, s := range sortedKeys(totals) {
		if totals[s] > c.MaxSectorWeight {
			scale := c.MaxSectorWeight / totals[s]
			for _, t := range eligible {
				if sectors[t] == s {
					weights[t] *= scale
				}
			}
		}
	}
	for _, t := range eligible {
		weights[t] = math.Min(weights[t], c.MaxWeight)
	}
}

func (f *Fuser) receivers(weights map[string]float64, eligible []string, sectors map[string]string, totals map[string]float64) ([]string, float64) {
	c := f.config.Constraints
	var out []string
	pool := 0.0
	for _, t := range eligible {
		if weights[t] >= c.MaxWeight-eps || totals[sectors[t]] >= c.MaxSectorWeight-eps {
			continue
		}
		out = append(out, t)
		pool += weights[t]
	}
	return out, pool
}

// controlTurnover shrinks the proposed delta toward current holdings so that
// Σ|w − c| <= budget, then clips to the asset cap and flags what is still off
func (f *Fuser) controlTurnover(target, current map[string]float64, sectors map[string]string, date time.Time, diags *contracts.Diagnostics) map[string]float64 {
	c := f.config.Constraints
	turnover := contracts.Turnover(target, current)
	if turnover <= c.TurnoverBudget+eps {
		return target
	}

	scale := c.TurnoverBudget / turnover
	union := make(map[string]float64, len(target)+len(current))
	for t := range target {
		union[t] = 0
	}
	for t := range current {
		union[t] = 0
	}

	out := make(map[string]float64, len(union))
	for _, t := range sortedKeys(union) {
		w := current[t] + scale*(target[t]-current[t])
		out[t] = math.Max(0, math.Min(w, c.MaxWeight))
	}

	f.logger.WithFields(map[string]interface{}{
		"date":     date.Format("2006-01-02"),
		"proposed": turnover,
		"budget":   c.TurnoverBudget,
		"scale":    scale,
	}).Debug("Turnover budget applied")

	if realized := contracts.Turnover(out, current); realized > c.TurnoverBudget+1e-9 {
		diags.Add(contracts.DiagTurnoverBudgetExceeded, "", date,
			fmt.Sprintf("turnover %.6f over budget %.6f after cap clip", realized, c.TurnoverBudget))
	}
	for _, s := range c.Check(out, sectors).Sectors {
		diags.Add(contracts.DiagSectorCapExceeded, "", date,
			fmt.Sprintf("sector %q over cap after turnover shrink", s))
	}
	return out
}
