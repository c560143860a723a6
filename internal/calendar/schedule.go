package calendar

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wonny/b3quant/internal/contracts"
)

// frequency → cron spec (fire times are snapped to the next trading day)
var frequencySpecs = map[string]string{
	"daily":     "0 0 * * *",
	"weekly":    "0 0 * * 1",
	"monthly":   "0 0 1 * *",
	"quarterly": "0 0 1 1,4,7,10 *",
}

// ParseFrequency resolves a rebalance frequency into a cron schedule
func ParseFrequency(freq string) (cron.Schedule, error) {
	spec, ok := frequencySpecs[freq]
	if !ok {
		custom, isCron := strings.CutPrefix(freq, "cron:")
		if !isCron {
			return nil, fmt.Errorf("unknown rebalance frequency %q", freq)
		}
		spec = custom
	}

	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse rebalance schedule %q: %w", freq, err)
	}
	return sched, nil
}

// RebalanceDates returns the rebalance trading days within [from, to].
// The first trading day of the window is always included.
func RebalanceDates(cal contracts.Calendar, freq string, from, to time.Time) ([]time.Time, error) {
	sched, err := ParseFrequency(freq)
	if err != nil {
		return nil, err
	}

	from, to = contracts.DateOnly(from), contracts.DateOnly(to)
	first := OnOrAfter(cal, from)
	if first.After(to) {
		return nil, nil
	}

	dates := []time.Time{first}
	// cron.Next is strictly-after; start one second before midnight of the first day
	for fire := sched.Next(first.Add(-time.Second)); !fire.After(to); fire = sched.Next(fire) {
		d := OnOrAfter(cal, fire)
		if d.After(to) {
			break
		}
		if d.After(dates[len(dates)-1]) {
			dates = append(dates, d)
		}
	}
	return dates, nil
}

// DateSet is a lookup helper for rebalance membership
type DateSet map[time.Time]struct{}

// NewDateSet builds a set from dates
func NewDateSet(dates []time.Time) DateSet {
	s := make(DateSet, len(dates))
	for _, d := range dates {
		s[contracts.DateOnly(d)] = struct{}{}
	}
	return s
}

// Contains reports membership
func (s DateSet) Contains(d time.Time) bool {
	_, ok := s[contracts.DateOnly(d)]
	return ok
}
