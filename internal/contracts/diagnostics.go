package contracts

import (
	"sort"
	"time"
)

// DiagnosticCode classifies soft (non-fatal) issues
type DiagnosticCode string

const (
	DiagNoDataExcluded         DiagnosticCode = "NoDataExcluded"
	DiagConvictionUnavailable  DiagnosticCode = "ConvictionUnavailable"
	DiagRiskCapNonConvergent   DiagnosticCode = "RiskCapNonConvergent"
	DiagTurnoverBudgetExceeded DiagnosticCode = "TurnoverBudgetExceeded"
	DiagSectorCapExceeded      DiagnosticCode = "SectorCapExceeded"
	DiagPriceUnavailable       DiagnosticCode = "PriceUnavailable"
	DiagLiquidityUnavailable   DiagnosticCode = "LiquidityUnavailable"
)

// Diagnostic is a soft issue that must be surfaced next to the results
type Diagnostic struct {
	Code    DiagnosticCode `json:"code"`
	Ticker  string         `json:"ticker,omitempty"`
	Date    time.Time      `json:"date"`
	Message string         `json:"message,omitempty"`
}

// Diagnostics is an append-only list owned by one run
type Diagnostics []Diagnostic

// Add appends a diagnostic
func (d *Diagnostics) Add(code DiagnosticCode, ticker string, date time.Time, msg string) {
	*d = append(*d, Diagnostic{Code: code, Ticker: ticker, Date: date, Message: msg})
}

// Has reports whether any diagnostic with the code exists
func (d Diagnostics) Has(code DiagnosticCode) bool {
	for _, diag := range d {
		if diag.Code == code {
			return true
		}
	}
	return false
}

// Counts returns the number of diagnostics per code
func (d Diagnostics) Counts() map[DiagnosticCode]int {
	counts := make(map[DiagnosticCode]int)
	for _, diag := range d {
		counts[diag.Code]++
	}
	return counts
}

// Sorted returns a copy ordered by date, code, ticker
func (d Diagnostics) Sorted() Diagnostics {
	out := make(Diagnostics, len(d))
	copy(out, d)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		if out[i].Code != out[j].Code {
			return out[i].Code < out[j].Code
		}
		return out[i].Ticker < out[j].Ticker
	})
	return out
}
