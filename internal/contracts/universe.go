package contracts

import "time"

// Universe is the investable set on a date
// ⭐ SSOT: S1 → S2 유니버스 전달
type Universe struct {
	Date       time.Time         `json:"date"`
	Tickers    []string          `json:"tickers"`  // sorted
	Excluded   map[string]string `json:"excluded"` // ticker → reason
	TotalCount int               `json:"total_count"`
}

// Contains reports whether ticker is investable
func (u *Universe) Contains(ticker string) bool {
	for _, t := range u.Tickers {
		if t == ticker {
			return true
		}
	}
	return false
}
