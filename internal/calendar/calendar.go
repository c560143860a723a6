package calendar

import (
	"fmt"
	"sort"
	"time"

	"github.com/wonny/b3quant/internal/contracts"
)

// B3Calendar is a weekend + holiday-set trading calendar
type B3Calendar struct {
	holidays map[time.Time]struct{}
}

// New builds a calendar from "2006-01-02" holiday strings.
// 비어 있으면 DefaultB3Holidays 사용
func New(holidays []string) (*B3Calendar, error) {
	if len(holidays) == 0 {
		holidays = DefaultB3Holidays
	}

	c := &B3Calendar{holidays: make(map[time.Time]struct{}, len(holidays))}
	for _, h := range holidays {
		d, err := time.Parse("2006-01-02", h)
		if err != nil {
			return nil, fmt.Errorf("invalid holiday %q: %w", h, err)
		}
		c.holidays[contracts.DateOnly(d)] = struct{}{}
	}
	return c, nil
}

// IsTradingDay reports whether B3 is open on date
func (c *B3Calendar) IsTradingDay(date time.Time) bool {
	d := contracts.DateOnly(date)
	if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	_, closed := c.holidays[d]
	return !closed
}

// NextTradingDay returns the first trading day strictly after date
func (c *B3Calendar) NextTradingDay(date time.Time) time.Time {
	d := contracts.DateOnly(date).AddDate(0, 0, 1)
	for !c.IsTradingDay(d) {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// PrevTradingDay returns the last trading day strictly before date
func (c *B3Calendar) PrevTradingDay(date time.Time) time.Time {
	d := contracts.DateOnly(date).AddDate(0, 0, -1)
	for !c.IsTradingDay(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// OnOrAfter returns date if it is a trading day, otherwise the next one
func OnOrAfter(cal contracts.Calendar, date time.Time) time.Time {
	d := contracts.DateOnly(date)
	if cal.IsTradingDay(d) {
		return d
	}
	return cal.NextTradingDay(d)
}

// TradingDays lists trading days in [from, to]
func TradingDays(cal contracts.Calendar, from, to time.Time) []time.Time {
	from, to = contracts.DateOnly(from), contracts.DateOnly(to)
	var days []time.Time
	for d := OnOrAfter(cal, from); !d.After(to); d = cal.NextTradingDay(d) {
		days = append(days, d)
	}
	return days
}

// AddTradingDays moves n trading days from date (negative n walks back).
// date itself need not be a trading day.
func AddTradingDays(c *B3Calendar, date time.Time, n int) time.Time {
	d := contracts.DateOnly(date)
	for ; n > 0; n-- {
		d = c.NextTradingDay(d)
	}
	for ; n < 0; n++ {
		d = c.PrevTradingDay(d)
	}
	return d
}

// CountTradingDays counts trading days in [from, to)
func CountTradingDays(cal contracts.Calendar, from, to time.Time) int {
	n := 0
	to = contracts.DateOnly(to)
	for d := OnOrAfter(cal, from); d.Before(to); d = cal.NextTradingDay(d) {
		n++
	}
	return n
}

// Holidays returns the configured holidays, sorted
func (c *B3Calendar) Holidays() []time.Time {
	out := make([]time.Time, 0, len(c.holidays))
	for d := range c.holidays {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// DefaultB3Holidays: B3 exchange holidays 2019–2026
var DefaultB3Holidays = []string{
	// 2019
	"2019-01-01", "2019-01-25", "2019-03-04", "2019-03-05", "2019-04-19", "2019-05-01", "2019-06-20", "2019-07-09", "2019-11-15", "2019-11-20", "2019-12-24", "2019-12-25", "2019-12-31",
	// 2020
	"2020-01-01", "2020-02-24", "2020-02-25", "2020-04-10", "2020-04-21", "2020-05-01", "2020-06-11", "2020-12-24", "2020-12-25", "2020-12-31",
	// 2021
	"2021-01-01", "2021-02-15", "2021-02-16", "2021-04-02", "2021-04-21", "2021-06-03", "2021-09-07", "2021-10-12", "2021-11-02", "2021-11-15", "2021-12-24", "2021-12-31",
	// 2022
	"2022-02-28", "2022-03-01", "2022-04-15", "2022-04-21", "2022-06-16", "2022-09-07", "2022-10-12", "2022-11-02", "2022-11-15", "2022-12-30",
	// 2023
	"2023-02-20", "2023-02-21", "2023-04-07", "2023-04-21", "2023-05-01", "2023-06-08", "2023-09-07", "2023-10-12", "2023-11-02", "2023-11-15", "2023-12-25", "2023-12-29",
	// 2024
	"2024-01-01", "2024-02-12", "2024-02-13", "2024-03-29", "2024-05-01", "2024-05-30", "2024-11-15", "2024-11-20", "2024-12-24", "2024-12-25", "2024-12-31",
	// 2025
	"2025-01-01", "2025-03-03", "2025-03-04", "2025-04-18", "2025-04-21", "2025-05-01", "2025-06-19", "2025-11-20", "2025-12-24", "2025-12-25", "2025-12-31",
	// 2026
	"2026-01-01", "2026-02-16", "2026-02-17", "2026-04-03", "2026-04-21", "2026-05-01", "2026-06-04", "2026-11-20", "2026-12-24", "2026-12-25", "2026-12-31",
}
