package s0_data

import (
	"time"

	"github.com/wonny/b3quant/internal/contracts"
)

// Coverage is the fraction of listed assets with a visible record per kind
type Coverage struct {
	Date         time.Time                        `json:"date"`
	ListedAssets int                              `json:"listed_assets"`
	ByKind       map[contracts.EntityKind]float64 `json:"by_kind"`
}

// QualityScore averages the required kinds (price, short interest, corporate actions)
func (c Coverage) QualityScore() float64 {
	required := []contracts.EntityKind{contracts.KindPrice, contracts.KindShortInterest, contracts.KindCorporateAction}
	sum := 0.0
	for _, k := range required {
		sum += c.ByKind[k]
	}
	return sum / float64(len(required))
}

// CoverageAt measures data coverage as of date.
// 시뮬레이션 전 데이터 품질 로그용 (결정에는 사용하지 않음)
func CoverageAt(r contracts.PointInTimeReader, date time.Time) Coverage {
	assets := r.Assets(date)
	cov := Coverage{
		Date:         contracts.DateOnly(date),
		ListedAssets: len(assets),
		ByKind:       make(map[contracts.EntityKind]float64),
	}
	if len(assets) == 0 {
		return cov
	}

	counts := make(map[contracts.EntityKind]int)
	for _, a := range assets {
		if _, err := r.Price(a.Ticker, date); err == nil {
			counts[contracts.KindPrice]++
		}
		if _, err := r.ShortInterest(a.Ticker, date); err == nil {
			counts[contracts.KindShortInterest]++
		}
		if _, err := r.CorporateActions(a.Ticker, date); err == nil {
			counts[contracts.KindCorporateAction]++
		}
		if _, err := r.Fundamental(a.Ticker, contracts.FieldPE, date); err == nil {
			counts[contracts.KindFundamental]++
		}
	}
	for k, n := range counts {
		cov.ByKind[k] = float64(n) / float64(len(assets))
	}
	return cov
}
