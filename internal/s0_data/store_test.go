package s0_data

import (
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/b3quant/internal/calendar"
	"github.com/wonny/b3quant/internal/contracts"
)

func day(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func loadFixture(t *testing.T) *Store {
	t.Helper()
	snap, err := LoadSnapshotFile("testdata/snapshot.yaml")
	require.NoError(t, err)
	store, err := NewStore(snap, 20)
	require.NoError(t, err)
	return store
}

func TestStore_Price(t *testing.T) {
	store := loadFixture(t)

	bar, err := store.Price("PETR4", day("2024-03-13"))
	require.NoError(t, err)
	assert.Equal(t, day("2024-03-12"), bar.Date, "missing day falls back to latest prior bar")
	assert.Equal(t, 38.40, bar.Close)

	_, err = store.Price("PETR4", day("2024-03-08"))
	assert.True(t, errors.Is(err, contracts.ErrDataUnavailable))
}

func TestStore_ShortInterestUsesAvailableDate(t *testing.T) {
	store := loadFixture(t)

	obs, err := store.ShortInterest("PETR4", day("2024-03-12"))
	require.NoError(t, err)
	assert.Equal(t, 1.8, obs.Value, "03-08 observation is not published until 03-13")

	obs, err = store.ShortInterest("PETR4", day("2024-03-13"))
	require.NoError(t, err)
	assert.Equal(t, 2.1, obs.Value)
}

// 미래 데이터만 있는 경우 0이 아니라 DataUnavailable
func TestStore_ShortInterestOnlyFutureRecord(t *testing.T) {
	store := loadFixture(t)

	_, err := store.ShortInterest("VALE3", day("2024-03-13"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, contracts.ErrDataUnavailable))

	var due *contracts.DataUnavailableError
	require.True(t, errors.As(err, &due))
	assert.Equal(t, contracts.KindShortInterest, due.Kind)
	assert.Equal(t, "VALE3", due.Ticker)
}

func TestStore_CorporateActionsVisibility(t *testing.T) {
	store := loadFixture(t)

	actions, err := store.CorporateActions("PETR4", day("2024-03-13"))
	require.NoError(t, err)
	require.Len(t, actions, 1, "jcp announced 03-14 is invisible on 03-13")
	assert.Equal(t, day("2024-03-15"), actions[0].ExDate)

	actions, err = store.CorporateActions("PETR4", day("2024-03-14"))
	require.NoError(t, err)
	assert.Len(t, actions, 2)

	_, err = store.CorporateActions("VALE3", day("2024-03-14"))
	assert.True(t, errors.Is(err, contracts.ErrDataUnavailable))
}

func TestStore_AssetListing(t *testing.T) {
	store := loadFixture(t)

	assets := store.Assets(day("2024-03-13"))
	require.Len(t, assets, 2)
	assert.Equal(t, "PETR4", assets[0].Ticker)
	assert.Equal(t, "VALE3", assets[1].Ticker)

	_, err := store.Asset("NEWC3", day("2024-03-13"))
	assert.True(t, errors.Is(err, contracts.ErrDataUnavailable))
	a, err := store.Asset("NEWC3", day("2024-03-14"))
	require.NoError(t, err)
	assert.Equal(t, "Retail", a.Sector)
}

func TestStore_Liquidity(t *testing.T) {
	store := loadFixture(t)

	liq, err := store.Liquidity("PETR4", day("2024-03-12"))
	require.NoError(t, err)
	assert.Equal(t, 2, liq.Bars)
	assert.InDelta(t, (38.10*1e6+38.40*1.2e6)/2, liq.Value, 1e-6)

	_, err = store.Liquidity("NEWC3", day("2024-03-20"))
	assert.True(t, errors.Is(err, contracts.ErrDataUnavailable))
}

func TestStore_Benchmark(t *testing.T) {
	store := loadFixture(t)

	cdi, err := store.Benchmark(contracts.SeriesCDI, day("2024-03-13"))
	require.NoError(t, err)
	assert.Equal(t, 0.00041, cdi.Value)
	assert.Equal(t, []string{"cdi", "ibov"}, store.BenchmarkSeries())
}

func TestStore_QueryDispatch(t *testing.T) {
	store := loadFixture(t)
	asOf := day("2024-03-14")

	obs, err := store.Query(contracts.KindFundamental, "PETR4:pe", asOf)
	require.NoError(t, err)
	assert.Equal(t, 4.2, obs.(contracts.FundamentalObs).Value)

	obs, err = store.Query(contracts.KindCorporateAction, "PETR4", asOf)
	require.NoError(t, err)
	assert.Equal(t, contracts.ActionJCP, obs.(contracts.CorporateAction).Type)

	_, err = store.Query(contracts.KindFundamental, "PETR4", asOf)
	assert.Error(t, err)
	_, err = store.Query("weather", "PETR4", asOf)
	assert.Error(t, err)
}

func TestNewStore_RejectsInvalidData(t *testing.T) {
	asset := contracts.Asset{Ticker: "PETR4", Sector: "Oil & Gas"}
	tests := []struct {
		name string
		snap Snapshot
	}{
		{"ex before announce", Snapshot{
			Assets: []contracts.Asset{asset},
			CorporateActions: []contracts.CorporateAction{{
				Ticker: "PETR4", AnnounceDate: day("2024-03-15"), ExDate: day("2024-03-14"), Type: contracts.ActionDividend,
			}},
		}},
		{"non-positive close", Snapshot{
			Assets: []contracts.Asset{asset},
			Prices: []contracts.PriceBar{{Ticker: "PETR4", Date: day("2024-03-14"), Close: 0}},
		}},
		{"duplicate bar", Snapshot{
			Assets: []contracts.Asset{asset},
			Prices: []contracts.PriceBar{
				{Ticker: "PETR4", Date: day("2024-03-14"), Close: 1},
				{Ticker: "PETR4", Date: day("2024-03-14"), Close: 2},
			},
		}},
		{"unknown asset", Snapshot{
			Prices: []contracts.PriceBar{{Ticker: "XXXX3", Date: day("2024-03-14"), Close: 1}},
		}},
		{"available before observed", Snapshot{
			Assets: []contracts.Asset{asset},
			ShortInterest: []contracts.ShortInterestObs{{
				Ticker: "PETR4", ObservedDate: day("2024-03-14"), AvailableDate: day("2024-03-13"), Value: 1,
			}},
		}},
		{"unknown action type", Snapshot{
			Assets: []contracts.Asset{asset},
			CorporateActions: []contracts.CorporateAction{{
				Ticker: "PETR4", AnnounceDate: day("2024-03-01"), ExDate: day("2024-03-14"), Type: "split",
			}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStore(&tt.snap, 20)
			assert.True(t, errors.Is(err, ErrInvalidSnapshot), "got %v", err)
		})
	}
}

// look-ahead 금지 불변식: 무작위 as-of 조회가 미래 가용일 레코드를 반환하지 않음
func TestStore_NoLookAheadFuzz(t *testing.T) {
	cal, err := calendar.New(nil)
	require.NoError(t, err)

	snap := GenerateSnapshot(SyntheticConfig{
		Tickers:  []string{"PETR4", "VALE3", "ITUB4", "WEGE3"},
		Start:    day("2023-01-02"),
		End:      day("2023-12-29"),
		Seed:     7,
		Calendar: cal,
	})
	store, err := NewStore(snap, 20)
	require.NoError(t, err)

	kinds := []contracts.EntityKind{
		contracts.KindAsset, contracts.KindPrice, contracts.KindShortInterest,
		contracts.KindCorporateAction, contracts.KindLiquidity,
	}
	tickers := store.Tickers()
	rng := rand.New(rand.NewSource(42))
	start := day("2022-12-01")

	for i := 0; i < 5000; i++ {
		asOf := start.AddDate(0, 0, rng.Intn(420))
		kind := kinds[rng.Intn(len(kinds))]
		ticker := tickers[rng.Intn(len(tickers))]

		obs, err := store.Query(kind, ticker, asOf)
		if err != nil {
			require.True(t, errors.Is(err, contracts.ErrDataUnavailable), "unexpected error %v", err)
			continue
		}
		require.False(t, obs.AvailableAt().After(asOf),
			"%s %s as of %s returned record available %s", kind, ticker, asOf.Format("2006-01-02"), obs.AvailableAt().Format("2006-01-02"))
	}

	for i := 0; i < 1000; i++ {
		asOf := start.AddDate(0, 0, rng.Intn(420))
		obs, err := store.Query(contracts.KindFundamental, tickers[rng.Intn(len(tickers))]+":roe", asOf)
		if err == nil {
			require.False(t, obs.AvailableAt().After(asOf))
		}
		actions, err := store.CorporateActions(tickers[rng.Intn(len(tickers))], asOf)
		if err == nil {
			for _, a := range actions {
				require.False(t, a.AnnounceDate.After(asOf))
			}
		}
	}
}

func TestStore_ConcurrentReads(t *testing.T) {
	store := loadFixture(t)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_, _ = store.Price("PETR4", day("2024-03-13"))
				_, _ = store.ShortInterest("PETR4", day("2024-03-13"))
				_, _ = store.Liquidity("PETR4", day("2024-03-13"))
			}
		}()
	}
	wg.Wait()
}

func TestCoverageAt(t *testing.T) {
	store := loadFixture(t)

	cov := CoverageAt(store, day("2024-03-13"))
	assert.Equal(t, 2, cov.ListedAssets)
	assert.Equal(t, 1.0, cov.ByKind[contracts.KindPrice])
	assert.Equal(t, 0.5, cov.ByKind[contracts.KindShortInterest])
	assert.Equal(t, 0.5, cov.ByKind[contracts.KindCorporateAction])
	assert.InDelta(t, (1.0+0.5+0.5)/3, cov.QualityScore(), 1e-12)
}

func TestGenerateSnapshot_Deterministic(t *testing.T) {
	cal, err := calendar.New(nil)
	require.NoError(t, err)
	cfg := SyntheticConfig{Tickers: []string{"VALE3", "PETR4"}, Start: day("2024-01-02"), End: day("2024-06-28"), Seed: 1, Calendar: cal}

	a := GenerateSnapshot(cfg)
	b := GenerateSnapshot(cfg)
	assert.Equal(t, a, b)
	assert.NotEmpty(t, a.CorporateActions)
	assert.Equal(t, "PETR4", a.Assets[0].Ticker)

	_, err = NewStore(a, 20)
	assert.NoError(t, err)
}

func TestFingerprint(t *testing.T) {
	cal, err := calendar.New(nil)
	require.NoError(t, err)
	cfg := SyntheticConfig{Tickers: []string{"VALE3", "PETR4"}, Start: day("2024-01-02"), End: day("2024-03-28"), Seed: 42, Calendar: cal}

	a, err := Fingerprint(GenerateSnapshot(cfg))
	require.NoError(t, err)
	again, err := Fingerprint(GenerateSnapshot(cfg))
	require.NoError(t, err)
	assert.Equal(t, a, again)
	assert.Len(t, a, 12)

	cfg.Seed = 7
	other, err := Fingerprint(GenerateSnapshot(cfg))
	require.NoError(t, err)
	assert.NotEqual(t, a, other)
}
