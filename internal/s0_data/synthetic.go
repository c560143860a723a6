package s0_data

import (
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/wonny/b3quant/internal/contracts"
)

// DefaultSectors maps the liquid B3 list to sector tags
var DefaultSectors = map[string]string{
	"PETR3": "Oil & Gas", "PETR4": "Oil & Gas", "PRIO3": "Oil & Gas",
	"VALE3": "Mining & Steel", "CSNA3": "Mining & Steel", "GGBR4": "Mining & Steel",
	"ITUB4": "Banks", "BBDC4": "Banks", "BBAS3": "Banks", "SANB11": "Banks", "BBDC3": "Banks",
	"MGLU3": "Retail", "LREN3": "Retail",
	"ELET3": "Utilities", "ELET6": "Utilities", "CPFE3": "Utilities", "CMIG4": "Utilities",
	"ABEV3": "Food & Beverage", "BRFS3": "Food & Beverage",
	"VIVT3": "Telecom", "TIMS3": "Telecom",
	"SUZB3": "Pulp & Paper",
	"CYRE3": "Construction", "MRVE3": "Construction",
	"WEGE3": "Industrials", "RADL3": "Healthcare", "B3SA3": "Financial Services", "RENT3": "Industrials", "EMBR3": "Industrials",
}

// SyntheticConfig drives the deterministic demo dataset generator
type SyntheticConfig struct {
	Tickers  []string
	Start    time.Time
	End      time.Time
	Seed     int64
	Calendar contracts.Calendar
}

// GenerateSnapshot builds a reproducible dataset: random-walk prices, quarterly
// dividends/JCP announced ahead of ex-date, weekly short interest published with
// a 3-day lag, quarterly fundamentals with a 30-day lag, CDI and IBOV series.
// 같은 설정 → 같은 데이터 (데모/테스트용)
func GenerateSnapshot(cfg SyntheticConfig) *Snapshot {
	rng := rand.New(rand.NewSource(cfg.Seed))
	tickers := append([]string(nil), cfg.Tickers...)
	sort.Strings(tickers)

	var days []time.Time
	for d := contracts.DateOnly(cfg.Start); !d.After(cfg.End); d = d.AddDate(0, 0, 1) {
		if cfg.Calendar.IsTradingDay(d) {
			days = append(days, d)
		}
	}

	snap := &Snapshot{}
	for i, t := range tickers {
		sector, ok := DefaultSectors[t]
		if !ok {
			sector = "Other"
		}
		snap.Assets = append(snap.Assets, contracts.Asset{Ticker: t, Sector: sector, ListedFrom: time.Time{}})

		price := 10 + rng.Float64()*40
		baseVolume := 2e5 + rng.Float64()*3e6
		drift := (rng.Float64() - 0.45) * 0.001
		phase := i % 60

		for k, d := range days {
			price *= 1 + drift + rng.NormFloat64()*0.018
			if price < 0.5 {
				price = 0.5
			}
			snap.Prices = append(snap.Prices, contracts.PriceBar{
				Ticker: t,
				Date:   d,
				Close:  math.Round(price*100) / 100,
				Volume: math.Round(baseVolume * (0.5 + rng.Float64())),
			})

			// ex-date every ~60 trading days, announced 15 trading days earlier
			if k >= 15 && (k-phase)%60 == 0 {
				typ := contracts.ActionDividend
				if rng.Intn(2) == 0 {
					typ = contracts.ActionJCP
				}
				snap.CorporateActions = append(snap.CorporateActions, contracts.CorporateAction{
					Ticker:       t,
					AnnounceDate: days[k-15],
					ExDate:       d,
					Type:         typ,
					Amount:       math.Round(price*0.015*100) / 100,
				})
			}

			if d.Weekday() == time.Friday {
				snap.ShortInterest = append(snap.ShortInterest, contracts.ShortInterestObs{
					Ticker:        t,
					ObservedDate:  d,
					AvailableDate: d.AddDate(0, 0, 3),
					Value:         math.Round(rng.Float64()*800) / 100,
				})
			}

			if k%63 == 0 {
				avail := d.AddDate(0, 0, 30)
				for _, f := range []struct {
					field string
					lo    float64
					span  float64
				}{
					{contracts.FieldPE, 3, 25},
					{contracts.FieldPB, 0.5, 4},
					{contracts.FieldROE, 0.02, 0.3},
					{contracts.FieldDividendYield, 0, 0.12},
					{contracts.FieldNetDebtEBITDA, -0.5, 4},
				} {
					snap.Fundamentals = append(snap.Fundamentals, contracts.FundamentalObs{
						Ticker:        t,
						Field:         f.field,
						ReportDate:    d,
						AvailableDate: avail,
						Value:         f.lo + rng.Float64()*f.span,
					})
				}
			}
		}
	}

	ibov := 100000.0
	for _, d := range days {
		ibov *= 1 + 0.0002 + rng.NormFloat64()*0.012
		snap.Benchmarks = append(snap.Benchmarks,
			contracts.BenchmarkObs{Series: contracts.SeriesCDI, Date: d, Value: 0.0004},
			contracts.BenchmarkObs{Series: contracts.SeriesIBOV, Date: d, Value: math.Round(ibov*100) / 100},
		)
	}
	return snap
}
