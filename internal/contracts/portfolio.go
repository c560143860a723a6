package contracts

import (
	"math"
	"sort"
	"time"
)

// TargetWeight is a fused target for one asset on a rebalance date
type TargetWeight struct {
	Ticker string    `json:"ticker"`
	Date   time.Time `json:"date"`
	Weight float64   `json:"weight"` // 0.0 ~ max_weight_per_asset
	Sector string    `json:"sector,omitempty"`
}

// TargetPortfolio is the fusion output for a rebalance date
// ⭐ SSOT: Fusion → Simulator 목표 비중 전달
type TargetPortfolio struct {
	Date        time.Time      `json:"date"`
	Weights     []TargetWeight `json:"weights"` // sorted by ticker, weight > 0
	Cash        float64        `json:"cash"`
	Turnover    float64        `json:"turnover"`
	Eligible    []string       `json:"eligible"`
	Diagnostics Diagnostics    `json:"diagnostics,omitempty"`
}

// TotalWeight returns the sum of all target weights
func (tp *TargetPortfolio) TotalWeight() float64 {
	total := 0.0
	for _, w := range tp.Weights {
		total += w.Weight
	}
	return total
}

// Count returns the number of assets with a positive weight
func (tp *TargetPortfolio) Count() int {
	return len(tp.Weights)
}

// Get returns the target weight for a ticker (0 if absent)
func (tp *TargetPortfolio) Get(ticker string) float64 {
	i := sort.Search(len(tp.Weights), func(i int) bool { return tp.Weights[i].Ticker >= ticker })
	if i < len(tp.Weights) && tp.Weights[i].Ticker == ticker {
		return tp.Weights[i].Weight
	}
	return 0
}

// AsMap returns ticker → weight
func (tp *TargetPortfolio) AsMap() map[string]float64 {
	m := make(map[string]float64, len(tp.Weights))
	for _, w := range tp.Weights {
		m[w.Ticker] = w.Weight
	}
	return m
}

// SectorWeights aggregates weights per sector
func (tp *TargetPortfolio) SectorWeights() map[string]float64 {
	m := make(map[string]float64)
	for _, w := range tp.Weights {
		m[w.Sector] += w.Weight
	}
	return m
}

// Turnover returns Σ|target − current| over the union of tickers
func Turnover(target, current map[string]float64) float64 {
	total := 0.0
	for t, w := range target {
		total += math.Abs(w - current[t])
	}
	for t, w := range current {
		if _, ok := target[t]; !ok {
			total += math.Abs(w)
		}
	}
	return total
}

// PositionState is the per-asset lifecycle state
type PositionState string

const (
	StateFlat    PositionState = "FLAT"
	StateHeld    PositionState = "HELD"
	StateExiting PositionState = "EXITING"
)

// Position is simulator-owned holding state for one asset
type Position struct {
	Ticker    string        `json:"ticker"`
	State     PositionState `json:"state"`
	Shares    float64       `json:"shares"`
	CostBasis float64       `json:"cost_basis"` // total BRL paid incl. costs
	EntryDate time.Time     `json:"entry_date"`
	LastPrice float64       `json:"last_price"`
}

// MarketValue returns shares × last marked price
func (p *Position) MarketValue() float64 {
	return p.Shares * p.LastPrice
}

// TradeSide is buy or sell
type TradeSide string

const (
	SideBuy  TradeSide = "BUY"
	SideSell TradeSide = "SELL"
)

// TradeReason explains why a trade happened
type TradeReason string

const (
	ReasonRebalance TradeReason = "rebalance"
	ReasonExDate    TradeReason = "ex_date"
	ReasonLiquidity TradeReason = "liquidity"
)

// Trade is an executed fill
type Trade struct {
	Ticker      string      `json:"ticker"`
	Date        time.Time   `json:"date"`
	Side        TradeSide   `json:"side"`
	Shares      float64     `json:"shares"`
	Price       float64     `json:"price"`    // execution price incl. slippage
	Notional    float64     `json:"notional"` // shares × execution price
	DeltaWeight float64     `json:"delta_weight"`
	Cost        float64     `json:"cost"`     // commission
	Slippage    float64     `json:"slippage"` // BRL lost to slippage
	Reason      TradeReason `json:"reason"`
	PnL         float64     `json:"pnl,omitempty"` // realized on sells
}
