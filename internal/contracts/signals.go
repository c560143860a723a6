package contracts

import "time"

// SignalKind identifies which engine produced a signal
type SignalKind string

const (
	SignalEvent       SignalKind = "event"
	SignalPositioning SignalKind = "positioning"
	SignalConviction  SignalKind = "conviction"
)

// Signal is the uniform per-asset signal representation.
// 엔진별 스케일이 다르므로 직접 비교 금지 (fusion에서만 결합)
type Signal struct {
	Ticker string     `json:"ticker"`
	Date   time.Time  `json:"date"`
	Value  float64    `json:"value"`
	Kind   SignalKind `json:"kind"`
}

// ConvictionScore is the external collaborator's view of an asset on a date
type ConvictionScore struct {
	Ticker    string    `json:"ticker"`
	Date      time.Time `json:"date"`
	Score     float64   `json:"score"` // [-1, 1]
	Rationale string    `json:"rationale,omitempty"`
	Source    string    `json:"source,omitempty"`
}

// SignalSet holds every signal computed for one rebalance date
// ⭐ SSOT: S2 → Fusion 시그널 전달
type SignalSet struct {
	Date        time.Time          `json:"date"`
	Universe    []string           `json:"universe"` // sorted tickers considered
	Event       map[string]Signal  `json:"event"`
	Positioning map[string]Signal  `json:"positioning"` // excluded tickers are absent
	Conviction  map[string]Signal  `json:"conviction"`  // only gated tickers are queried
	Liquidity   map[string]float64 `json:"liquidity"`
	Sectors     map[string]string  `json:"sectors"`
	Diagnostics Diagnostics        `json:"diagnostics,omitempty"`
}

// NewSignalSet allocates an empty set for a date
func NewSignalSet(date time.Time) *SignalSet {
	return &SignalSet{
		Date:        date,
		Event:       make(map[string]Signal),
		Positioning: make(map[string]Signal),
		Conviction:  make(map[string]Signal),
		Liquidity:   make(map[string]float64),
		Sectors:     make(map[string]string),
	}
}

// Put stores a signal under its kind
func (s *SignalSet) Put(sig Signal) {
	switch sig.Kind {
	case SignalEvent:
		s.Event[sig.Ticker] = sig
	case SignalPositioning:
		s.Positioning[sig.Ticker] = sig
	case SignalConviction:
		s.Conviction[sig.Ticker] = sig
	}
}

// Value returns a signal value and whether it exists
func (s *SignalSet) Value(kind SignalKind, ticker string) (float64, bool) {
	var m map[string]Signal
	switch kind {
	case SignalEvent:
		m = s.Event
	case SignalPositioning:
		m = s.Positioning
	case SignalConviction:
		m = s.Conviction
	}
	sig, ok := m[ticker]
	return sig.Value, ok
}

// Gate is the rule-based eligibility filter shared by signal building and fusion
type Gate struct {
	MinPercentile      float64 `json:"min_percentile"`
	LiquidityThreshold float64 `json:"liquidity_threshold"`
}

// Eligible reports whether ticker passes: event > 0, positioning >= min
// percentile, liquidity >= threshold. Conviction never affects eligibility.
func (g Gate) Eligible(s *SignalSet, ticker string) bool {
	event, ok := s.Value(SignalEvent, ticker)
	if !ok || event <= 0 {
		return false
	}
	pct, ok := s.Value(SignalPositioning, ticker)
	if !ok || pct < g.MinPercentile {
		return false
	}
	liq, ok := s.Liquidity[ticker]
	return ok && liq >= g.LiquidityThreshold
}

// EligibleTickers returns the sorted tickers of the universe that pass the gate
func (g Gate) EligibleTickers(s *SignalSet) []string {
	out := make([]string, 0)
	for _, t := range s.Universe {
		if g.Eligible(s, t) {
			out = append(out, t)
		}
	}
	return out
}
