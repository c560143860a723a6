package portfolio

import (
	"math"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/b3quant/internal/contracts"
	"github.com/wonny/b3quant/pkg/logger"
)

var fuseDate = time.Date(2024, 3, 13, 0, 0, 0, 0, time.UTC)

type entry struct {
	ticker     string
	sector     string
	event      float64
	pct        float64
	liquidity  float64
	conviction float64
}

func makeSet(entries ...entry) *contracts.SignalSet {
	set := contracts.NewSignalSet(fuseDate)
	for _, e := range entries {
		set.Universe = append(set.Universe, e.ticker)
		set.Sectors[e.ticker] = e.sector
		set.Liquidity[e.ticker] = e.liquidity
		set.Put(contracts.Signal{Ticker: e.ticker, Date: fuseDate, Value: e.event, Kind: contracts.SignalEvent})
		set.Put(contracts.Signal{Ticker: e.ticker, Date: fuseDate, Value: e.pct, Kind: contracts.SignalPositioning})
		set.Put(contracts.Signal{Ticker: e.ticker, Date: fuseDate, Value: e.conviction, Kind: contracts.SignalConviction})
	}
	sort.Strings(set.Universe)
	return set
}

func newFuser(lambda float64, c Constraints) *Fuser {
	return NewFuser(FusionConfig{
		Gate:        contracts.Gate{MinPercentile: 0.5, LiquidityThreshold: 1e6},
		Lambda:      lambda,
		Constraints: c,
	}, logger.NewNop())
}

func loose() Constraints {
	return Constraints{MaxWeight: 1, MaxSectorWeight: 1, TurnoverBudget: 2, MaxIterations: 50}
}

func TestFuser_ConvictionTiltAndCap(t *testing.T) {
	set := makeSet(
		entry{"AAAA3", "Banks", 1, 0.9, 1e7, 0.8},
		entry{"BBBB3", "Utilities", 1, 0.9, 1e7, -0.8},
	)

	// 캡 없이: 0.5·1.4, 0.5·0.6 (합계 1 유지)
	target := newFuser(0.5, loose()).Fuse(set, nil)
	assert.InDelta(t, 0.7, target.Get("AAAA3"), 1e-12)
	assert.InDelta(t, 0.3, target.Get("BBBB3"), 1e-12)

	// 종목 캡 0.5: A 초과분이 B로 → 둘 다 0.5
	c := loose()
	c.MaxWeight = 0.5
	target = newFuser(0.5, c).Fuse(set, nil)
	assert.InDelta(t, 0.5, target.Get("AAAA3"), 1e-12)
	assert.InDelta(t, 0.5, target.Get("BBBB3"), 1e-12)
	assert.InDelta(t, 0, target.Cash, 1e-12)
	assert.Empty(t, target.Diagnostics)
}

func TestFuser_EmptyEligibleIsAllCash(t *testing.T) {
	set := makeSet(
		entry{"AAAA3", "Banks", 0, 0.9, 1e7, 1},     // 윈도우 밖
		entry{"BBBB3", "Utilities", 1, 0.2, 1e7, 1}, // 백분위 미달
		entry{"CCCC3", "Retail", 1, 0.9, 1e3, 1},    // 유동성 미달
	)
	current := map[string]float64{"AAAA3": 0.3}

	target := newFuser(0.5, loose()).Fuse(set, current)
	assert.Empty(t, target.Weights)
	assert.Empty(t, target.Eligible)
	assert.Equal(t, 1.0, target.Cash)
	assert.InDelta(t, 0.3, target.Turnover, 1e-12)
}

func TestFuser_SingleAsset(t *testing.T) {
	set := makeSet(entry{"AAAA3", "Banks", 0.5, 1, 1e7, 0})

	target := newFuser(0.3, loose()).Fuse(set, nil)
	assert.InDelta(t, 1.0, target.Get("AAAA3"), 1e-12)

	target = newFuser(0.3, DefaultConstraints()).Fuse(set, nil)
	assert.InDelta(t, 0.2, target.Get("AAAA3"), 1e-12)
	assert.InDelta(t, 0.8, target.Cash, 1e-12)
}

func TestFuser_ConvictionCannotAdmit(t *testing.T) {
	set := makeSet(
		entry{"AAAA3", "Banks", 1, 0.9, 1e7, 0},
		entry{"BBBB3", "Banks", 0, 1.0, 1e7, 1}, // 컨빅션 최대지만 이벤트 없음
	)

	target := newFuser(0.5, loose()).Fuse(set, nil)
	assert.Equal(t, []string{"AAAA3"}, target.Eligible)
	assert.Zero(t, target.Get("BBBB3"))
	assert.InDelta(t, 1.0, target.Get("AAAA3"), 1e-12)
}

func sectorCase() *contracts.SignalSet {
	return makeSet(
		entry{"BANK1", "Banks", 1, 0.9, 1e7, 0},
		entry{"BANK2", "Banks", 1, 0.9, 1e7, 0},
		entry{"BANK3", "Banks", 1, 0.9, 1e7, 0},
		entry{"UTIL1", "Utilities", 1, 0.9, 1e7, 0},
	)
}

func TestFuser_SectorCap(t *testing.T) {
	c := Constraints{MaxWeight: 0.5, MaxSectorWeight: 0.4, TurnoverBudget: 2, MaxIterations: 50}
	target := newFuser(0, c).Fuse(sectorCase(), nil)

	sectors := target.SectorWeights()
	assert.InDelta(t, 0.4, sectors["Banks"], 1e-12)
	assert.InDelta(t, 0.4, sectors["Utilities"], 1e-12)
	assert.InDelta(t, 0.4, target.Get("UTIL1"), 1e-12)
	assert.InDelta(t, 0.4/3, target.Get("BANK2"), 1e-12)
	assert.InDelta(t, 0.2, target.Cash, 1e-12)
	assert.Empty(t, target.Diagnostics)
}

func TestFuser_NonConvergenceEnforcesHard(t *testing.T) {
	c := Constraints{MaxWeight: 0.5, MaxSectorWeight: 0.4, TurnoverBudget: 2, MaxIterations: 1}
	target := newFuser(0, c).Fuse(sectorCase(), nil)

	require.True(t, target.Diagnostics.Has(contracts.DiagRiskCapNonConvergent))
	assert.InDelta(t, 0.4, target.Get("UTIL1"), 1e-12)
	assert.LessOrEqual(t, target.SectorWeights()["Banks"], 0.4+1e-12)
}

func TestFuser_TurnoverBudget(t *testing.T) {
	set := makeSet(
		entry{"AAAA3", "Banks", 1, 0.9, 1e7, 0},
		entry{"BBBB3", "Utilities", 1, 0.9, 1e7, 0},
	)
	set.Sectors["XXXX3"] = "Retail"
	current := map[string]float64{"XXXX3": 0.5}

	c := loose()
	c.TurnoverBudget = 1.0
	target := newFuser(0, c).Fuse(set, current)

	// 제안 회전율 1.5 → 델타를 2/3로 축소
	assert.InDelta(t, 0.5-0.5*2.0/3.0, target.Get("XXXX3"), 1e-12)
	assert.InDelta(t, 1.0/3.0, target.Get("AAAA3"), 1e-12)
	assert.InDelta(t, 1.0/3.0, target.Get("BBBB3"), 1e-12)
	assert.InDelta(t, 1.0, target.Turnover, 1e-9)
	assert.Empty(t, target.Diagnostics)
}

func TestFuser_TurnoverFlaggedAfterCapClip(t *testing.T) {
	set := makeSet(
		entry{"AAAA3", "Banks", 1, 0.9, 1e7, 0},
		entry{"BBBB3", "Utilities", 1, 0.9, 1e7, 0},
	)
	current := map[string]float64{"AAAA3": 0.9} // 가격 상승으로 캡 초과 보유

	c := Constraints{MaxWeight: 0.5, MaxSectorWeight: 1, TurnoverBudget: 0.3, MaxIterations: 50}
	target := newFuser(0, c).Fuse(set, current)

	assert.InDelta(t, 0.5, target.Get("AAAA3"), 1e-12)
	assert.True(t, target.Diagnostics.Has(contracts.DiagTurnoverBudgetExceeded))
}

func TestFuser_Deterministic(t *testing.T) {
	set := sectorCase()
	current := map[string]float64{"BANK1": 0.3, "UTIL1": 0.1}
	f := newFuser(0.3, DefaultConstraints())

	first := f.Fuse(set, current)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, f.Fuse(set, current))
	}
}

// 무작위 입력에 대해 불변식 확인
func TestFuser_InvariantsProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	sectors := []string{"Banks", "Utilities", "Retail", "Oil & Gas"}

	for trial := 0; trial < 500; trial++ {
		n := rng.Intn(12)
		var entries []entry
		for i := 0; i < n; i++ {
			entries = append(entries, entry{
				ticker:     string(rune('A'+i)) + "XXX3",
				sector:     sectors[rng.Intn(len(sectors))],
				event:      float64(rng.Intn(2)) * rng.Float64(),
				pct:        rng.Float64(),
				liquidity:  rng.Float64() * 2e6,
				conviction: rng.Float64()*2 - 1,
			})
		}
		set := makeSet(entries...)

		current := map[string]float64{}
		left := 1.0
		for _, e := range entries {
			if rng.Float64() < 0.3 {
				w := rng.Float64() * left * 0.6
				current[e.ticker] = w
				left -= w
			}
		}

		c := Constraints{
			MaxWeight:       0.05 + rng.Float64()*0.5,
			MaxSectorWeight: 0.1 + rng.Float64()*0.9,
			TurnoverBudget:  0.05 + rng.Float64()*1.95,
			MaxIterations:   1 + rng.Intn(50),
		}
		f := newFuser(rng.Float64()*0.5, c)
		target := f.Fuse(set, current)

		assert.LessOrEqual(t, target.TotalWeight(), 1+1e-9, "trial %d", trial)
		for _, w := range target.Weights {
			assert.LessOrEqual(t, w.Weight, c.MaxWeight+1e-9, "trial %d %s", trial, w.Ticker)
			assert.GreaterOrEqual(t, w.Weight, 0.0)
			_, held := current[w.Ticker]
			assert.True(t, held || contains(target.Eligible, w.Ticker), "trial %d: %s neither eligible nor held", trial, w.Ticker)
		}
		for s, total := range target.SectorWeights() {
			if total > c.MaxSectorWeight+1e-9 {
				assert.True(t, target.Diagnostics.Has(contracts.DiagSectorCapExceeded), "trial %d sector %s", trial, s)
			}
		}
		if target.Turnover > c.TurnoverBudget+1e-9 {
			assert.True(t, target.Diagnostics.Has(contracts.DiagTurnoverBudgetExceeded), "trial %d", trial)
		}
		assert.False(t, math.IsNaN(target.Cash))
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
