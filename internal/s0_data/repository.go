package s0_data

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/b3quant/internal/contracts"
	"github.com/wonny/b3quant/pkg/logger"
)

// Repository loads a Snapshot from PostgreSQL.
// 적재(ingestion)는 외부 담당, 여기서는 읽기만 수행
type Repository struct {
	pool   *pgxpool.Pool
	logger *logger.Logger
}

// NewRepository creates a new Repository instance
func NewRepository(pool *pgxpool.Pool, log *logger.Logger) *Repository {
	return &Repository{pool: pool, logger: log}
}

// LoadSnapshot reads every series for tickers within [from, to].
// Prices start 60 days early so liquidity lookbacks are filled on day one.
// Corporate actions are filtered by ex_date so windows opening before `from` are kept.
func (r *Repository) LoadSnapshot(ctx context.Context, tickers []string, from, to time.Time) (*Snapshot, error) {
	snap := &Snapshot{}
	var err error

	if snap.Assets, err = r.loadAssets(ctx, tickers); err != nil {
		return nil, fmt.Errorf("load assets: %w", err)
	}
	if snap.Prices, err = r.loadPrices(ctx, tickers, from, to); err != nil {
		return nil, fmt.Errorf("load prices: %w", err)
	}
	if snap.CorporateActions, err = r.loadActions(ctx, tickers, from, to); err != nil {
		return nil, fmt.Errorf("load corporate actions: %w", err)
	}
	if snap.ShortInterest, err = r.loadShortInterest(ctx, tickers, from, to); err != nil {
		return nil, fmt.Errorf("load short interest: %w", err)
	}
	if snap.Fundamentals, err = r.loadFundamentals(ctx, tickers, from, to); err != nil {
		return nil, fmt.Errorf("load fundamentals: %w", err)
	}
	if snap.Benchmarks, err = r.loadBenchmarks(ctx, from, to); err != nil {
		return nil, fmt.Errorf("load benchmarks: %w", err)
	}

	r.logger.WithFields(map[string]interface{}{
		"assets":         len(snap.Assets),
		"prices":         len(snap.Prices),
		"actions":        len(snap.CorporateActions),
		"short_interest": len(snap.ShortInterest),
		"fundamentals":   len(snap.Fundamentals),
		"benchmarks":     len(snap.Benchmarks),
	}).Info("Snapshot loaded from database")

	return snap, nil
}

func (r *Repository) loadAssets(ctx context.Context, tickers []string) ([]contracts.Asset, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT ticker, name, sector, listed_from
		FROM market.assets
		WHERE ticker = ANY($1)
		ORDER BY ticker
	`, tickers)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (contracts.Asset, error) {
		var a contracts.Asset
		err := row.Scan(&a.Ticker, &a.Name, &a.Sector, &a.ListedFrom)
		return a, err
	})
}

func (r *Repository) loadPrices(ctx context.Context, tickers []string, from, to time.Time) ([]contracts.PriceBar, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT ticker, trade_date, close_price, volume
		FROM market.daily_prices
		WHERE ticker = ANY($1) AND trade_date BETWEEN $2::date - INTERVAL '60 days' AND $3
		ORDER BY ticker, trade_date
	`, tickers, from, to)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (contracts.PriceBar, error) {
		var b contracts.PriceBar
		err := row.Scan(&b.Ticker, &b.Date, &b.Close, &b.Volume)
		return b, err
	})
}

func (r *Repository) loadActions(ctx context.Context, tickers []string, from, to time.Time) ([]contracts.CorporateAction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT ticker, announce_date, ex_date, action_type, amount
		FROM market.corporate_actions
		WHERE ticker = ANY($1) AND ex_date >= $2 AND announce_date <= $3
		ORDER BY ticker, announce_date
	`, tickers, from, to)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (contracts.CorporateAction, error) {
		var a contracts.CorporateAction
		var typ string
		err := row.Scan(&a.Ticker, &a.AnnounceDate, &a.ExDate, &typ, &a.Amount)
		a.Type = contracts.ActionType(typ)
		return a, err
	})
}

func (r *Repository) loadShortInterest(ctx context.Context, tickers []string, from, to time.Time) ([]contracts.ShortInterestObs, error) {
	// 가용일 기준 조회: 기간 시작 전 관측치도 포함해야 첫 날부터 랭킹 가능
	rows, err := r.pool.Query(ctx, `
		SELECT ticker, observed_date, available_date, short_interest_pct
		FROM market.short_interest
		WHERE ticker = ANY($1) AND available_date <= $3 AND available_date >= $2::date - INTERVAL '90 days'
		ORDER BY ticker, available_date
	`, tickers, from, to)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (contracts.ShortInterestObs, error) {
		var o contracts.ShortInterestObs
		err := row.Scan(&o.Ticker, &o.ObservedDate, &o.AvailableDate, &o.Value)
		return o, err
	})
}

func (r *Repository) loadFundamentals(ctx context.Context, tickers []string, from, to time.Time) ([]contracts.FundamentalObs, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT ticker, field, report_date, available_date, value
		FROM market.fundamentals
		WHERE ticker = ANY($1) AND available_date <= $3 AND available_date >= $2::date - INTERVAL '400 days'
		ORDER BY ticker, field, available_date
	`, tickers, from, to)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (contracts.FundamentalObs, error) {
		var o contracts.FundamentalObs
		err := row.Scan(&o.Ticker, &o.Field, &o.ReportDate, &o.AvailableDate, &o.Value)
		return o, err
	})
}

func (r *Repository) loadBenchmarks(ctx context.Context, from, to time.Time) ([]contracts.BenchmarkObs, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT series, obs_date, value
		FROM market.benchmarks
		WHERE obs_date BETWEEN $1::date - INTERVAL '10 days' AND $2
		ORDER BY series, obs_date
	`, from, to)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (contracts.BenchmarkObs, error) {
		var o contracts.BenchmarkObs
		err := row.Scan(&o.Series, &o.Date, &o.Value)
		return o, err
	})
}
