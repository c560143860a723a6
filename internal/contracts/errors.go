package contracts

import (
	"errors"
	"fmt"
	"time"
)

// Error taxonomy
// ⭐ SSOT: 치명적 오류는 sentinel, soft 오류는 Diagnostic으로 기록
var (
	// ErrDataUnavailable: no point-in-time record qualifies. Callers decide exclusion vs abort.
	ErrDataUnavailable = errors.New("data unavailable")

	// ErrInvalidConfiguration: fatal at startup, before any simulation runs.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrSimulationDivergence: aborts the current split only.
	ErrSimulationDivergence = errors.New("simulation divergence")
)

// DataUnavailableError carries the failed query
type DataUnavailableError struct {
	Kind   EntityKind
	Ticker string
	AsOf   time.Time
}

func (e *DataUnavailableError) Error() string {
	return fmt.Sprintf("%s for %s as of %s: %v", e.Kind, e.Ticker, e.AsOf.Format("2006-01-02"), ErrDataUnavailable)
}

func (e *DataUnavailableError) Unwrap() error { return ErrDataUnavailable }

// DivergenceError describes corrupted simulator state
type DivergenceError struct {
	Date   time.Time
	Reason string
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("%v on %s: %s", ErrSimulationDivergence, e.Date.Format("2006-01-02"), e.Reason)
}

func (e *DivergenceError) Unwrap() error { return ErrSimulationDivergence }
