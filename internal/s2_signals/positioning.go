package s2_signals

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/wonny/b3quant/internal/contracts"
	"github.com/wonny/b3quant/pkg/logger"
)

// PositioningEngine ranks assets by their latest available short interest.
// 공매도 잔고가 낮을수록 높은 백분위 (숏 스퀴즈 위험 낮음)
type PositioningEngine struct {
	store  contracts.PointInTimeReader
	logger *logger.Logger
}

// NewPositioningEngine creates a new positioning engine
func NewPositioningEngine(store contracts.PointInTimeReader, log *logger.Logger) *PositioningEngine {
	return &PositioningEngine{store: store, logger: log}
}

type positioningRow struct {
	ticker    string
	value     float64
	liquidity float64
}

// Rank returns a percentile in [0, 1] per ticker with available data.
// Lowest short interest ranks 1.0; ties break on higher liquidity, then ticker.
// Tickers without data are omitted and reported as NoDataExcluded.
func (e *PositioningEngine) Rank(date time.Time, tickers []string, liquidity map[string]float64) (map[string]contracts.Signal, contracts.Diagnostics, error) {
	date = contracts.DateOnly(date)
	var diags contracts.Diagnostics
	rows := make([]positioningRow, 0, len(tickers))

	for _, t := range tickers {
		obs, err := e.store.ShortInterest(t, date)
		if err != nil {
			if errors.Is(err, contracts.ErrDataUnavailable) {
				diags.Add(contracts.DiagNoDataExcluded, t, date, "no short interest available")
				continue
			}
			return nil, nil, fmt.Errorf("short interest %s: %w", t, err)
		}
		rows = append(rows, positioningRow{ticker: t, value: obs.Value, liquidity: liquidity[t]})
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].value != rows[j].value {
			return rows[i].value < rows[j].value
		}
		if rows[i].liquidity != rows[j].liquidity {
			return rows[i].liquidity > rows[j].liquidity
		}
		return rows[i].ticker < rows[j].ticker
	})

	out := make(map[string]contracts.Signal, len(rows))
	n := len(rows)
	for i, r := range rows {
		pct := 1.0
		if n > 1 {
			pct = float64(n-1-i) / float64(n-1)
		}
		out[r.ticker] = contracts.Signal{Ticker: r.ticker, Date: date, Value: pct, Kind: contracts.SignalPositioning}
	}

	e.logger.WithFields(map[string]interface{}{
		"date":     date.Format("2006-01-02"),
		"ranked":   n,
		"excluded": len(diags),
	}).Debug("Ranked positioning")

	return out, diags, nil
}
