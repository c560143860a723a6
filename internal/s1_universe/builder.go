package s1_universe

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wonny/b3quant/internal/contracts"
	"github.com/wonny/b3quant/pkg/logger"
)

// Exclusion reasons
const (
	ReasonNotListed    = "not_listed"
	ReasonNoPrice      = "no_price"
	ReasonShortHistory = "short_history"
	ReasonSector       = "excluded_sector"
)

// Config holds universe filter criteria
type Config struct {
	Tickers        []string `yaml:"tickers"`          // 후보 종목 (비어 있으면 상장 전체)
	MinHistoryBars int      `yaml:"min_history_bars"` // 최소 가격 이력 (거래일)
	ExcludeSectors []string `yaml:"exclude_sectors"`  // 제외 섹터
}

// Builder constructs the investable universe as of a date
type Builder struct {
	store  contracts.PointInTimeReader
	config Config
	logger *logger.Logger
}

// NewBuilder creates a new Universe Builder
func NewBuilder(store contracts.PointInTimeReader, config Config, log *logger.Logger) *Builder {
	return &Builder{
		store:  store,
		config: config,
		logger: log.Component("s1_universe"),
	}
}

// Build returns the candidates that are listed and tradable on date
// ⭐ SSOT: S1 → S2 유니버스 생성
func (b *Builder) Build(date time.Time) (*contracts.Universe, error) {
	date = contracts.DateOnly(date)
	universe := &contracts.Universe{
		Date:     date,
		Tickers:  make([]string, 0),
		Excluded: make(map[string]string),
	}

	for _, ticker := range b.candidates(date) {
		reason, err := b.checkExclusion(ticker, date)
		if err != nil {
			return nil, fmt.Errorf("check %s: %w", ticker, err)
		}
		if reason != "" {
			universe.Excluded[ticker] = reason
			continue
		}
		universe.Tickers = append(universe.Tickers, ticker)
	}

	universe.TotalCount = len(universe.Tickers)

	b.logger.WithFields(map[string]interface{}{
		"date":     date.Format("2006-01-02"),
		"included": universe.TotalCount,
		"excluded": len(universe.Excluded),
	}).Debug("Universe built")

	return universe, nil
}

// candidates returns the configured tickers (or every listed asset), sorted
func (b *Builder) candidates(date time.Time) []string {
	var out []string
	if len(b.config.Tickers) > 0 {
		out = append(out, b.config.Tickers...)
	} else {
		for _, a := range b.store.Assets(date) {
			out = append(out, a.Ticker)
		}
	}
	sort.Strings(out)
	return out
}

// checkExclusion returns a non-empty reason when the ticker must be excluded
func (b *Builder) checkExclusion(ticker string, date time.Time) (string, error) {
	asset, err := b.store.Asset(ticker, date)
	if err != nil {
		if errors.Is(err, contracts.ErrDataUnavailable) {
			return ReasonNotListed, nil
		}
		return "", err
	}

	for _, s := range b.config.ExcludeSectors {
		if strings.EqualFold(s, asset.Sector) {
			return ReasonSector, nil
		}
	}

	if _, err := b.store.Price(ticker, date); err != nil {
		if errors.Is(err, contracts.ErrDataUnavailable) {
			return ReasonNoPrice, nil
		}
		return "", err
	}

	if b.config.MinHistoryBars > 0 {
		liq, err := b.store.Liquidity(ticker, date)
		if err != nil && !errors.Is(err, contracts.ErrDataUnavailable) {
			return "", err
		}
		if err != nil || liq.Bars < b.config.MinHistoryBars {
			return ReasonShortHistory, nil
		}
	}

	return "", nil
}
