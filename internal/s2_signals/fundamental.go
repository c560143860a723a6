package s2_signals

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/wonny/b3quant/internal/contracts"
	"github.com/wonny/b3quant/pkg/logger"
)

// FundamentalSource is the source tag on scores produced offline
const FundamentalSource = "fundamental"

// FundamentalMetrics is the point-in-time fundamental snapshot of an asset.
// NaN marks a missing field.
type FundamentalMetrics struct {
	PE            float64
	PB            float64
	ROE           float64
	DividendYield float64
	NetDebtEBITDA float64
}

// Available counts the fields with data
func (m FundamentalMetrics) Available() int {
	n := 0
	for _, v := range []float64{m.PE, m.PB, m.ROE, m.DividendYield, m.NetDebtEBITDA} {
		if !math.IsNaN(v) {
			n++
		}
	}
	return n
}

// FundamentalScorer is an offline ConvictionSource built on the analyst rubric:
// valuation (0-40) + quality (0-40) + balance-sheet risk (0-20), mapped to [-1, 1].
// 외부 추론 서비스가 없을 때 사용 (결정적)
type FundamentalScorer struct {
	store  contracts.PointInTimeReader
	logger *logger.Logger
}

// NewFundamentalScorer creates a new fundamental scorer
func NewFundamentalScorer(store contracts.PointInTimeReader, log *logger.Logger) *FundamentalScorer {
	return &FundamentalScorer{store: store, logger: log}
}

// Metrics collects the latest available fundamentals as of date
func (s *FundamentalScorer) Metrics(ticker string, date time.Time) (FundamentalMetrics, error) {
	m := FundamentalMetrics{PE: math.NaN(), PB: math.NaN(), ROE: math.NaN(), DividendYield: math.NaN(), NetDebtEBITDA: math.NaN()}
	fields := []struct {
		name string
		dst  *float64
	}{
		{contracts.FieldPE, &m.PE},
		{contracts.FieldPB, &m.PB},
		{contracts.FieldROE, &m.ROE},
		{contracts.FieldDividendYield, &m.DividendYield},
		{contracts.FieldNetDebtEBITDA, &m.NetDebtEBITDA},
	}
	for _, f := range fields {
		obs, err := s.store.Fundamental(ticker, f.name, date)
		if err != nil {
			if errors.Is(err, contracts.ErrDataUnavailable) {
				continue
			}
			return m, err
		}
		*f.dst = obs.Value
	}
	return m, nil
}

// Score implements contracts.ConvictionSource
func (s *FundamentalScorer) Score(ctx context.Context, ticker string, date time.Time) (contracts.ConvictionScore, error) {
	if err := ctx.Err(); err != nil {
		return contracts.ConvictionScore{}, err
	}
	date = contracts.DateOnly(date)

	m, err := s.Metrics(ticker, date)
	if err != nil {
		return contracts.ConvictionScore{}, fmt.Errorf("fundamentals %s: %w", ticker, err)
	}
	if m.Available() == 0 {
		return contracts.ConvictionScore{}, &contracts.DataUnavailableError{Kind: contracts.KindFundamental, Ticker: ticker, AsOf: date}
	}

	valuation := valuationScore(m)
	quality := qualityScore(m)
	risk := riskScore(m)
	total := valuation + quality + risk
	score := clamp((total-50)/50, -1, 1)

	s.logger.WithFields(map[string]interface{}{
		"ticker":    ticker,
		"valuation": valuation,
		"quality":   quality,
		"risk":      risk,
		"score":     score,
	}).Debug("Calculated fundamental conviction")

	return contracts.ConvictionScore{
		Ticker:    ticker,
		Date:      date,
		Score:     score,
		Source:    FundamentalSource,
		Rationale: fmt.Sprintf("%s: val=%.0f qual=%.0f risk=%.0f total=%.0f/100", verdict(total), valuation, quality, risk, total),
	}, nil
}

// valuationScore: 싼 종목 = 높은 점수 (0~40)
func valuationScore(m FundamentalMetrics) float64 {
	score := 0.0

	// P/L (15)
	if pe := m.PE; !math.IsNaN(pe) && pe > 0 {
		switch {
		case pe < 8:
			score += 15
		case pe < 12:
			score += 12
		case pe < 15:
			score += 8
		case pe < 20:
			score += 4
		}
	}

	// P/VP (10)
	if pb := m.PB; !math.IsNaN(pb) && pb > 0 {
		switch {
		case pb < 1.0:
			score += 10
		case pb < 2.0:
			score += 7
		case pb < 3.0:
			score += 4
		}
	}

	// Dividend yield (15)
	if dy := m.DividendYield; !math.IsNaN(dy) && dy > 0 {
		switch {
		case dy > 0.08:
			score += 15
		case dy > 0.06:
			score += 10
		case dy > 0.04:
			score += 6
		case dy > 0.02:
			score += 2
		}
	}

	return math.Min(score, 40)
}

// qualityScore: 수익성 (0~40)
func qualityScore(m FundamentalMetrics) float64 {
	roe := m.ROE
	if math.IsNaN(roe) {
		return 0
	}
	switch {
	case roe > 0.20:
		return 40
	case roe > 0.15:
		return 32
	case roe > 0.10:
		return 21
	case roe > 0.05:
		return 11
	}
	return 0
}

// riskScore: 레버리지가 낮을수록 높은 점수 (0~20)
func riskScore(m FundamentalMetrics) float64 {
	score := 20.0
	if nd := m.NetDebtEBITDA; !math.IsNaN(nd) {
		switch {
		case nd > 3.0:
			score -= 10
		case nd > 2.0:
			score -= 7
		case nd > 1.0:
			score -= 4
		case nd > 0.5:
			score -= 2
		}
	}
	return math.Max(score, 0)
}

func verdict(total float64) string {
	switch {
	case total >= 75:
		return "buy"
	case total >= 55:
		return "hold"
	default:
		return "sell"
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

var _ contracts.ConvictionSource = (*FundamentalScorer)(nil)
