package contracts

import (
	"context"
	"time"
)

// Calendar is the trading-calendar collaborator
type Calendar interface {
	IsTradingDay(date time.Time) bool
	NextTradingDay(date time.Time) time.Time
}

// PointInTimeReader is the only data access path for signals and simulation.
// 모든 조회는 as-of 날짜 이후 정보를 반환하지 않음
// ⭐ SSOT: look-ahead 방지 게이트
type PointInTimeReader interface {
	Query(kind EntityKind, ticker string, asOf time.Time) (Observation, error)

	Asset(ticker string, asOf time.Time) (Asset, error)
	Assets(asOf time.Time) []Asset
	Price(ticker string, asOf time.Time) (PriceBar, error)
	ShortInterest(ticker string, asOf time.Time) (ShortInterestObs, error)
	Fundamental(ticker, field string, asOf time.Time) (FundamentalObs, error)
	CorporateActions(ticker string, asOf time.Time) ([]CorporateAction, error)
	Benchmark(series string, asOf time.Time) (BenchmarkObs, error)
	Liquidity(ticker string, asOf time.Time) (LiquidityObs, error)
}

// ConvictionSource returns a conviction score for (ticker, date).
// 구현체는 ctx 데드라인을 존중해야 함
type ConvictionSource interface {
	Score(ctx context.Context, ticker string, date time.Time) (ConvictionScore, error)
}

// TargetProvider produces fused targets at a rebalance date
type TargetProvider interface {
	Targets(ctx context.Context, date time.Time, current map[string]float64) (*TargetPortfolio, error)
}

// ExitRule reports whether a held position must be closed on date
type ExitRule interface {
	ExitDue(ticker string, entryDate, date time.Time) bool
}
