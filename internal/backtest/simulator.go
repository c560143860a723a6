package backtest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/wonny/b3quant/internal/calendar"
	"github.com/wonny/b3quant/internal/contracts"
	"github.com/wonny/b3quant/internal/strategyconfig"
	"github.com/wonny/b3quant/pkg/logger"
)

// weightEps: 이보다 작은 비중 차이는 거래하지 않음
const weightEps = 1e-9

// SimConfig holds simulator settings; immutable per run
type SimConfig struct {
	InitialCapital     float64
	CostBps            float64
	SlippageBps        float64
	MinTradeValue      float64
	LiquidityThreshold float64
	CashAccruesCDI     bool
	RiskFreeSeries     string
}

// SimConfigFromStrategy maps the strategy config onto the simulator settings
func SimConfigFromStrategy(cfg *strategyconfig.Config) SimConfig {
	return SimConfig{
		InitialCapital:     cfg.Simulation.InitialCapital,
		CostBps:            cfg.Costs.CostBps,
		SlippageBps:        cfg.Costs.SlippageBps,
		MinTradeValue:      cfg.Costs.MinTradeValue,
		LiquidityThreshold: cfg.Signals.LiquidityThreshold,
		CashAccruesCDI:     cfg.Simulation.CashAccruesCDI,
		RiskFreeSeries:     cfg.Universe.RiskFreeSeries,
	}
}

// DailyPoint is one day of the NAV path
type DailyPoint struct {
	Date      time.Time `json:"date"`
	NAV       float64   `json:"nav"`
	Cash      float64   `json:"cash"`
	Return    float64   `json:"return"`
	RiskFree  float64   `json:"risk_free"` // CDI daily rate as of date
	Positions int       `json:"positions"`
	Turnover  float64   `json:"turnover"` // traded value / NAV before trading
	Rebalance bool      `json:"rebalance"`
}

// RebalanceRecord captures one rebalance decision and its execution
type RebalanceRecord struct {
	Date             time.Time                  `json:"date"`
	NAV              float64                    `json:"nav"`
	Target           *contracts.TargetPortfolio `json:"target"`
	PlannedTurnover  float64                    `json:"planned_turnover"`
	RealizedTurnover float64                    `json:"realized_turnover"`
	Trades           int                        `json:"trades"`
}

// Stats holds simulation statistics
type Stats struct {
	TotalTrades     int     `json:"total_trades"`
	WinningTrades   int     `json:"winning_trades"`
	LosingTrades    int     `json:"losing_trades"`
	TotalCommission float64 `json:"total_commission"`
	TotalSlippage   float64 `json:"total_slippage"`
	ExDateExits     int     `json:"ex_date_exits"`
	LiquidityExits  int     `json:"liquidity_exits"`
	SkippedDust     int     `json:"skipped_dust"`
}

// Record is the full output of one simulation
type Record struct {
	Daily       []DailyPoint          `json:"daily"`
	Trades      []contracts.Trade     `json:"trades"`
	Rebalances  []RebalanceRecord     `json:"rebalances"`
	Diagnostics contracts.Diagnostics `json:"diagnostics,omitempty"`
	Stats       Stats                 `json:"stats"`
}

// Simulator steps a long-only cash+positions portfolio through trading days.
// One simulator instance per run; state is never shared across runs.
// ⭐ SSOT: 백테스팅 시뮬레이션은 여기서만
type Simulator struct {
	store    contracts.PointInTimeReader
	exit     contracts.ExitRule
	provider contracts.TargetProvider
	config   SimConfig
	logger   *logger.Logger

	// Current state
	cash      float64
	prevNAV   float64
	positions map[string]*contracts.Position

	record Record
}

// NewSimulator creates a new simulator
func NewSimulator(
	store contracts.PointInTimeReader,
	exit contracts.ExitRule,
	provider contracts.TargetProvider,
	config SimConfig,
	log *logger.Logger,
) *Simulator {
	s := &Simulator{
		store:    store,
		exit:     exit,
		provider: provider,
		config:   config,
		logger:   log.Component("simulator"),
	}
	s.Reset(config.InitialCapital)
	return s
}

// Reset restores the simulator to all-cash with capital
func (s *Simulator) Reset(capital float64) {
	s.cash = capital
	s.prevNAV = capital
	s.positions = make(map[string]*contracts.Position)
	s.record = Record{}
}

// Run resets the simulator and steps through days in order.
// rebalance marks the days on which the target provider is consulted.
func (s *Simulator) Run(ctx context.Context, days []time.Time, rebalance calendar.DateSet) (*Record, error) {
	s.Reset(s.config.InitialCapital)

	for _, d := range days {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := s.Step(ctx, d, rebalance.Contains(d)); err != nil {
			return nil, err
		}
	}

	out := s.record
	return &out, nil
}

// Step advances one trading day:
//
//  1. cash accrues the CDI rate visible on date
//  2. mark to market
//  3. hard exit on ex-date
//  4. liquidity stop
//  5. rebalance (sells before buys)
//  6. record NAV
func (s *Simulator) Step(ctx context.Context, date time.Time, rebalance bool) (DailyPoint, error) {
	date = contracts.DateOnly(date)

	rf := s.accrueCash(date)
	s.markToMarket(date)

	navBefore := s.nav()
	traded := 0.0

	traded += s.hardExit(date)

	liq, err := s.liquidityStop(date)
	if err != nil {
		return DailyPoint{}, err
	}
	traded += liq

	if rebalance {
		value, err := s.rebalance(ctx, date)
		if err != nil {
			return DailyPoint{}, err
		}
		traded += value
	}

	nav := s.nav()
	if err := s.checkDivergence(date, nav); err != nil {
		return DailyPoint{}, err
	}

	point := DailyPoint{
		Date:      date,
		NAV:       nav,
		Cash:      s.cash,
		Return:    nav/s.prevNAV - 1,
		RiskFree:  rf,
		Positions: len(s.positions),
		Rebalance: rebalance,
	}
	if navBefore > 0 {
		point.Turnover = traded / navBefore
	}
	s.prevNAV = nav
	s.record.Daily = append(s.record.Daily, point)
	return point, nil
}

// accrueCash applies the CDI daily rate to cash and returns the rate
func (s *Simulator) accrueCash(date time.Time) float64 {
	obs, err := s.store.Benchmark(s.config.RiskFreeSeries, date)
	if err != nil {
		return 0
	}
	if s.config.CashAccruesCDI && s.cash > 0 {
		s.cash *= 1 + obs.Value
	}
	return obs.Value
}

// markToMarket updates each position to its latest close on or before date
func (s *Simulator) markToMarket(date time.Time) {
	for ticker, pos := range s.positions {
		bar, err := s.store.Price(ticker, date)
		if err != nil {
			continue // 직전 가격 유지
		}
		pos.LastPrice = bar.Close
	}
}

// hardExit closes every HELD position whose ex-date has arrived
func (s *Simulator) hardExit(date time.Time) float64 {
	traded := 0.0
	for _, ticker := range s.heldTickers() {
		pos := s.positions[ticker]
		if !s.exit.ExitDue(ticker, pos.EntryDate, date) {
			continue
		}
		pos.State = contracts.StateExiting
		traded += s.sell(date, pos, pos.Shares, -s.weight(pos), contracts.ReasonExDate)
		s.record.Stats.ExDateExits++
	}
	return traded
}

// liquidityStop force-liquidates HELD positions whose liquidity fell below threshold
func (s *Simulator) liquidityStop(date time.Time) (float64, error) {
	traded := 0.0
	for _, ticker := range s.heldTickers() {
		pos := s.positions[ticker]
		liq, err := s.store.Liquidity(ticker, date)
		if errors.Is(err, contracts.ErrDataUnavailable) {
			s.record.Diagnostics.Add(contracts.DiagLiquidityUnavailable, ticker, date, "liquidity unavailable, position held")
			continue
		}
		if err != nil {
			return traded, fmt.Errorf("liquidity %s: %w", ticker, err)
		}
		if liq.Value >= s.config.LiquidityThreshold {
			continue
		}

		s.logger.WithFields(map[string]interface{}{
			"ticker":    ticker,
			"date":      date.Format("2006-01-02"),
			"liquidity": liq.Value,
		}).Info("Liquidity stop triggered")

		pos.State = contracts.StateExiting
		traded += s.sell(date, pos, pos.Shares, -s.weight(pos), contracts.ReasonLiquidity)
		s.record.Stats.LiquidityExits++
	}
	return traded, nil
}

type buyOrder struct {
	ticker string
	value  float64 // BRL at close
	price  float64
	delta  float64
}

// rebalance moves holdings toward the provider's targets and returns traded value
func (s *Simulator) rebalance(ctx context.Context, date time.Time) (float64, error) {
	nav := s.nav()
	current := s.Weights()

	target, err := s.provider.Targets(ctx, date, current)
	if err != nil {
		return 0, fmt.Errorf("targets %s: %w", date.Format("2006-01-02"), err)
	}
	s.record.Diagnostics = append(s.record.Diagnostics, target.Diagnostics...)
	goal := target.AsMap()

	tickers := unionTickers(goal, current)
	tradesBefore := len(s.record.Trades)
	traded := 0.0

	// 매도 먼저
	for _, ticker := range tickers {
		pos, held := s.positions[ticker]
		if !held {
			continue
		}
		tw, cw := goal[ticker], current[ticker]
		if tw >= cw-weightEps {
			continue
		}
		if tw <= 0 {
			traded += s.sell(date, pos, pos.Shares, -cw, contracts.ReasonRebalance)
			continue
		}
		value := (cw - tw) * nav
		if value < s.config.MinTradeValue {
			s.record.Stats.SkippedDust++
			continue
		}
		traded += s.sell(date, pos, value/pos.LastPrice, tw-cw, contracts.ReasonRebalance)
	}

	// 매수: 가격 확인 후 현금 부족 시 비례 축소
	var orders []buyOrder
	need := 0.0
	for _, ticker := range tickers {
		tw, cw := goal[ticker], current[ticker]
		if tw <= cw+weightEps {
			continue
		}
		value := (tw - cw) * nav
		if value < s.config.MinTradeValue {
			s.record.Stats.SkippedDust++
			continue
		}
		price, ok := s.buyPrice(ticker, date)
		if !ok {
			continue
		}
		orders = append(orders, buyOrder{ticker: ticker, value: value, price: price, delta: tw - cw})
		need += s.buyCost(value)
	}

	scale := 1.0
	if need > s.cash {
		scale = math.Max(0, s.cash/need)
		s.logger.WithFields(map[string]interface{}{
			"date":  date.Format("2006-01-02"),
			"need":  need,
			"cash":  s.cash,
			"scale": scale,
		}).Debug("Scaling buys to available cash")
	}
	for _, o := range orders {
		if o.value*scale <= 0 {
			continue
		}
		traded += s.buy(date, o.ticker, o.value*scale, o.price, o.delta*scale)
	}
	// 부동소수 오차 정리
	if s.cash < 0 && s.cash > -1e-6 {
		s.cash = 0
	}

	realized := 0.0
	if nav > 0 {
		realized = traded / nav
	}
	s.record.Rebalances = append(s.record.Rebalances, RebalanceRecord{
		Date:             date,
		NAV:              nav,
		Target:           target,
		PlannedTurnover:  target.Turnover,
		RealizedTurnover: realized,
		Trades:           len(s.record.Trades) - tradesBefore,
	})
	return traded, nil
}

// buyPrice returns the close used for a buy, or records PriceUnavailable
func (s *Simulator) buyPrice(ticker string, date time.Time) (float64, bool) {
	if pos, ok := s.positions[ticker]; ok && pos.LastPrice > 0 {
		return pos.LastPrice, true
	}
	bar, err := s.store.Price(ticker, date)
	if err != nil || bar.Close <= 0 {
		s.record.Diagnostics.Add(contracts.DiagPriceUnavailable, ticker, date, "no price, buy skipped")
		return 0, false
	}
	return bar.Close, true
}

// buyCost is the cash needed to buy value (at close) incl. slippage and commission
func (s *Simulator) buyCost(value float64) float64 {
	return value * (1 + s.slip()) * (1 + s.commission())
}

func (s *Simulator) slip() float64       { return s.config.SlippageBps / 10_000 }
func (s *Simulator) commission() float64 { return s.config.CostBps / 10_000 }

// buy executes a buy of value BRL (at close); returns traded value at close
func (s *Simulator) buy(date time.Time, ticker string, value, px, delta float64) float64 {
	shares := value / px
	execPrice := px * (1 + s.slip())
	notional := shares * execPrice
	commission := notional * s.commission()
	slippage := shares * (execPrice - px)

	s.cash -= notional + commission

	pos, ok := s.positions[ticker]
	if !ok {
		pos = &contracts.Position{Ticker: ticker, State: contracts.StateHeld, EntryDate: date}
		s.positions[ticker] = pos
	}
	pos.Shares += shares
	pos.CostBasis += notional + commission
	pos.LastPrice = px

	s.record.Trades = append(s.record.Trades, contracts.Trade{
		Ticker:      ticker,
		Date:        date,
		Side:        contracts.SideBuy,
		Shares:      shares,
		Price:       execPrice,
		Notional:    notional,
		DeltaWeight: delta,
		Cost:        commission,
		Slippage:    slippage,
		Reason:      contracts.ReasonRebalance,
	})
	s.record.Stats.TotalTrades++
	s.record.Stats.TotalCommission += commission
	s.record.Stats.TotalSlippage += slippage
	return value
}

// sell executes a sell of shares at the marked price; returns traded value at close
func (s *Simulator) sell(date time.Time, pos *contracts.Position, shares, delta float64, reason contracts.TradeReason) float64 {
	if shares > pos.Shares {
		shares = pos.Shares
	}
	px := pos.LastPrice
	execPrice := px * (1 - s.slip())
	notional := shares * execPrice
	commission := notional * s.commission()
	slippage := shares * (px - execPrice)
	proceeds := notional - commission

	costBasis := pos.CostBasis * shares / pos.Shares
	pnl := proceeds - costBasis

	s.cash += proceeds
	pos.Shares -= shares
	pos.CostBasis -= costBasis

	if pos.Shares*px < 1e-6 {
		pos.State = contracts.StateFlat
		delete(s.positions, pos.Ticker)
	} else {
		pos.State = contracts.StateHeld
	}

	s.record.Trades = append(s.record.Trades, contracts.Trade{
		Ticker:      pos.Ticker,
		Date:        date,
		Side:        contracts.SideSell,
		Shares:      shares,
		Price:       execPrice,
		Notional:    notional,
		DeltaWeight: delta,
		Cost:        commission,
		Slippage:    slippage,
		Reason:      reason,
		PnL:         pnl,
	})

	stats := &s.record.Stats
	stats.TotalTrades++
	stats.TotalCommission += commission
	stats.TotalSlippage += slippage
	if pnl > 0 {
		stats.WinningTrades++
	} else if pnl < 0 {
		stats.LosingTrades++
	}
	return shares * px
}

// checkDivergence fails the run on corrupted state
func (s *Simulator) checkDivergence(date time.Time, nav float64) error {
	if math.IsNaN(nav) || math.IsInf(nav, 0) {
		return &contracts.DivergenceError{Date: date, Reason: "non-finite NAV"}
	}
	if nav <= 0 {
		return &contracts.DivergenceError{Date: date, Reason: fmt.Sprintf("NAV %.4f <= 0", nav)}
	}
	if s.cash < -1e-6 {
		return &contracts.DivergenceError{Date: date, Reason: fmt.Sprintf("cash %.4f < 0", s.cash)}
	}
	for ticker, pos := range s.positions {
		if pos.Shares < 0 || math.IsNaN(pos.Shares) {
			return &contracts.DivergenceError{Date: date, Reason: "negative shares in " + ticker}
		}
	}
	return nil
}

// nav returns cash + Σ marked position value
func (s *Simulator) nav() float64 {
	total := s.cash
	for _, pos := range s.positions {
		total += pos.MarketValue()
	}
	return total
}

func (s *Simulator) weight(pos *contracts.Position) float64 {
	nav := s.nav()
	if nav <= 0 {
		return 0
	}
	return pos.MarketValue() / nav
}

// NAV returns the current net asset value
func (s *Simulator) NAV() float64 {
	return s.nav()
}

// Cash returns the current cash balance
func (s *Simulator) Cash() float64 {
	return s.cash
}

// Weights returns current ticker → MV/NAV
func (s *Simulator) Weights() map[string]float64 {
	nav := s.nav()
	weights := make(map[string]float64, len(s.positions))
	if nav <= 0 {
		return weights
	}
	for ticker, pos := range s.positions {
		weights[ticker] = pos.MarketValue() / nav
	}
	return weights
}

// Positions returns a copy of the current positions sorted by ticker
func (s *Simulator) Positions() []contracts.Position {
	out := make([]contracts.Position, 0, len(s.positions))
	for _, ticker := range s.heldTickers() {
		out = append(out, *s.positions[ticker])
	}
	return out
}

// Stats returns simulation statistics
func (s *Simulator) Stats() Stats {
	return s.record.Stats
}

func (s *Simulator) heldTickers() []string {
	tickers := make([]string, 0, len(s.positions))
	for ticker := range s.positions {
		tickers = append(tickers, ticker)
	}
	sort.Strings(tickers)
	return tickers
}

func unionTickers(a, b map[string]float64) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for t := range a {
		seen[t] = struct{}{}
	}
	for t := range b {
		seen[t] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
