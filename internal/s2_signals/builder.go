package s2_signals

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/wonny/b3quant/internal/contracts"
	"github.com/wonny/b3quant/pkg/logger"
)

// Builder orchestrates the signal engines to generate a SignalSet
// ⭐ SSOT: 시그널 생성 오케스트레이션은 여기서만
type Builder struct {
	store       contracts.PointInTimeReader
	event       *EventEngine
	positioning *PositioningEngine
	conviction  *ConvictionEngine // nil → conviction 0 for all
	gate        contracts.Gate

	logger *logger.Logger
}

// NewBuilder creates a new signal builder
func NewBuilder(
	store contracts.PointInTimeReader,
	event *EventEngine,
	positioning *PositioningEngine,
	conviction *ConvictionEngine,
	gate contracts.Gate,
	logger *logger.Logger,
) *Builder {
	return &Builder{
		store:       store,
		event:       event,
		positioning: positioning,
		conviction:  conviction,
		gate:        gate,
		logger:      logger,
	}
}

// Build generates the SignalSet for the universe on its date.
// Conviction is requested only for assets that already pass the rule gate.
func (b *Builder) Build(ctx context.Context, universe *contracts.Universe) (*contracts.SignalSet, error) {
	date := contracts.DateOnly(universe.Date)
	set := contracts.NewSignalSet(date)
	set.Universe = append([]string(nil), universe.Tickers...)
	sort.Strings(set.Universe)

	b.logger.WithFields(map[string]interface{}{
		"date":        date.Format("2006-01-02"),
		"stock_count": len(set.Universe),
	}).Debug("Starting signal generation")

	for _, ticker := range set.Universe {
		if asset, err := b.store.Asset(ticker, date); err == nil {
			set.Sectors[ticker] = asset.Sector
		}

		liq, err := b.store.Liquidity(ticker, date)
		switch {
		case err == nil:
			set.Liquidity[ticker] = liq.Value
		case errors.Is(err, contracts.ErrDataUnavailable):
			set.Liquidity[ticker] = 0
		default:
			return nil, fmt.Errorf("liquidity %s: %w", ticker, err)
		}

		sig, err := b.event.Signal(ticker, date)
		if err != nil {
			return nil, err
		}
		set.Put(sig)
	}

	ranks, diags, err := b.positioning.Rank(date, set.Universe, set.Liquidity)
	if err != nil {
		return nil, err
	}
	for _, sig := range ranks {
		set.Put(sig)
	}
	set.Diagnostics = append(set.Diagnostics, diags...)

	gated := b.gate.EligibleTickers(set)
	if b.conviction != nil && len(gated) > 0 {
		scores, diags, err := b.conviction.Batch(ctx, date, gated)
		if err != nil {
			return nil, fmt.Errorf("conviction batch: %w", err)
		}
		for _, sig := range scores {
			set.Put(sig)
		}
		set.Diagnostics = append(set.Diagnostics, diags...)
	}

	b.logger.WithFields(map[string]interface{}{
		"date":        date.Format("2006-01-02"),
		"total":       len(set.Universe),
		"in_window":   countPositive(set.Event),
		"ranked":      len(set.Positioning),
		"gated":       len(gated),
		"diagnostics": len(set.Diagnostics),
	}).Debug("Signal generation completed")

	return set, nil
}

func countPositive(m map[string]contracts.Signal) int {
	n := 0
	for _, s := range m {
		if s.Value > 0 {
			n++
		}
	}
	return n
}

// Gate returns the eligibility gate used by the builder
func (b *Builder) Gate() contracts.Gate {
	return b.gate
}

// BuildAt is a convenience for callers without a universe builder
func (b *Builder) BuildAt(ctx context.Context, date time.Time, tickers []string) (*contracts.SignalSet, error) {
	return b.Build(ctx, &contracts.Universe{Date: date, Tickers: tickers})
}
