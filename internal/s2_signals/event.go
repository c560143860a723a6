package s2_signals

import (
	"errors"
	"fmt"
	"time"

	"github.com/wonny/b3quant/internal/calendar"
	"github.com/wonny/b3quant/internal/contracts"
	"github.com/wonny/b3quant/pkg/logger"
)

// Event signal modes
const (
	EventModeGraded = "graded"
	EventModeBinary = "binary"
)

// EventEngine scores the run-up window ahead of a dividend/JCP ex-date
// ⭐ SSOT: 이벤트 시그널 계산은 여기서만
type EventEngine struct {
	store      contracts.PointInTimeReader
	cal        contracts.Calendar
	windowDays int
	mode       string
	logger     *logger.Logger
}

// NewEventEngine creates a new event engine
func NewEventEngine(store contracts.PointInTimeReader, cal contracts.Calendar, windowDays int, mode string, log *logger.Logger) *EventEngine {
	if mode == "" {
		mode = EventModeGraded
	}
	return &EventEngine{
		store:      store,
		cal:        cal,
		windowDays: windowDays,
		mode:       mode,
		logger:     log,
	}
}

// visibleActions returns actions announced on or before date (nil if none)
func (e *EventEngine) visibleActions(ticker string, date time.Time) ([]contracts.CorporateAction, error) {
	actions, err := e.store.CorporateActions(ticker, date)
	if errors.Is(err, contracts.ErrDataUnavailable) {
		return nil, nil
	}
	return actions, err
}

// NextExDate returns the earliest visible ex-date strictly after date
func (e *EventEngine) NextExDate(ticker string, date time.Time) (time.Time, bool, error) {
	date = contracts.DateOnly(date)
	actions, err := e.visibleActions(ticker, date)
	if err != nil {
		return time.Time{}, false, err
	}
	// actions는 ex-date 오름차순
	for _, a := range actions {
		if a.ExDate.After(date) {
			return a.ExDate, true, nil
		}
	}
	return time.Time{}, false, nil
}

// Value returns the event signal in [0, 1] for ticker on date.
// k is the number of trading days from date up to (excluding) the ex-date;
// the window is 1 <= k <= N. Graded: (N-k+1)/N, binary: 1.
func (e *EventEngine) Value(ticker string, date time.Time) (float64, error) {
	ex, ok, err := e.NextExDate(ticker, date)
	if err != nil {
		return 0, fmt.Errorf("event signal %s: %w", ticker, err)
	}
	if !ok {
		return 0, nil
	}

	k := calendar.CountTradingDays(e.cal, date, ex)
	if k < 1 || k > e.windowDays {
		return 0, nil
	}

	value := 1.0
	if e.mode == EventModeGraded {
		value = float64(e.windowDays-k+1) / float64(e.windowDays)
	}

	e.logger.WithFields(map[string]interface{}{
		"ticker":  ticker,
		"ex_date": ex.Format("2006-01-02"),
		"k":       k,
		"value":   value,
	}).Debug("Calculated event signal")

	return value, nil
}

// Signal wraps Value into the uniform signal type
func (e *EventEngine) Signal(ticker string, date time.Time) (contracts.Signal, error) {
	v, err := e.Value(ticker, date)
	if err != nil {
		return contracts.Signal{}, err
	}
	return contracts.Signal{Ticker: ticker, Date: contracts.DateOnly(date), Value: v, Kind: contracts.SignalEvent}, nil
}

// ExitDue reports whether a visible ex-date falls in (entryDate, date].
// 보유 포지션은 ex-date 당일 청산 (하드 엑싯)
func (e *EventEngine) ExitDue(ticker string, entryDate, date time.Time) bool {
	date = contracts.DateOnly(date)
	entryDate = contracts.DateOnly(entryDate)
	actions, err := e.visibleActions(ticker, date)
	if err != nil {
		e.logger.WithError(err).WithField("ticker", ticker).Warn("Exit check failed")
		return false
	}
	for _, a := range actions {
		if a.ExDate.After(entryDate) && !a.ExDate.After(date) {
			return true
		}
	}
	return false
}

var _ contracts.ExitRule = (*EventEngine)(nil)
