package s2_signals

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/wonny/b3quant/internal/contracts"
	"github.com/wonny/b3quant/pkg/logger"
	"github.com/wonny/b3quant/pkg/redis"
)

// ConvictionConfig holds conviction engine settings
type ConvictionConfig struct {
	Timeout     time.Duration // per request
	Concurrency int           // max in-flight requests per batch

	// Namespace identifies the scoring source and dataset in shared cache keys.
	// 소스나 데이터가 다르면 Redis 항목을 공유하지 않음
	Namespace string
}

// ConvictionStats counts cache hits and source calls
type ConvictionStats struct {
	Requests    int64 `json:"requests"`
	MemoryHits  int64 `json:"memory_hits"`
	RedisHits   int64 `json:"redis_hits"`
	SourceCalls int64 `json:"source_calls"`
	Failures    int64 `json:"failures"`
}

// ConvictionEngine wraps a ConvictionSource with caching, de-duplication,
// timeouts and bounded concurrency.
// 같은 (ticker, date)는 한 번만 조회. 실패는 캐시하지 않음.
// ⭐ SSOT: 컨빅션 조회는 여기서만
type ConvictionEngine struct {
	source contracts.ConvictionSource
	cache  *redis.Cache // optional
	config ConvictionConfig
	logger *logger.Logger

	mu     sync.RWMutex
	memo   map[string]contracts.ConvictionScore
	flight singleflight.Group

	requests    atomic.Int64
	memoryHits  atomic.Int64
	redisHits   atomic.Int64
	sourceCalls atomic.Int64
	failures    atomic.Int64
}

// NewConvictionEngine creates a new conviction engine. cache may be nil.
func NewConvictionEngine(source contracts.ConvictionSource, cache *redis.Cache, config ConvictionConfig, log *logger.Logger) *ConvictionEngine {
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	if config.Namespace == "" {
		config.Namespace = "default"
	}
	return &ConvictionEngine{
		source: source,
		cache:  cache,
		config: config,
		logger: log,
		memo:   make(map[string]contracts.ConvictionScore),
	}
}

// Get returns the conviction score for (ticker, date).
// The shared lookup runs detached from any one caller's cancellation; each
// caller waits on its own ctx, so cancelling one run never fails another.
func (e *ConvictionEngine) Get(ctx context.Context, ticker string, date time.Time) (contracts.ConvictionScore, error) {
	date = contracts.DateOnly(date)
	key := e.cacheKey(ticker, date)
	e.requests.Add(1)

	if score, ok := e.lookup(key); ok {
		e.memoryHits.Add(1)
		return score, nil
	}

	ch := e.flight.DoChan(key, func() (interface{}, error) {
		if score, ok := e.lookup(key); ok {
			return score, nil
		}

		// 소스 호출은 fetch의 타임아웃으로만 제한
		flightCtx := context.WithoutCancel(ctx)

		var cached contracts.ConvictionScore
		if found, err := e.cache.Get(flightCtx, key, &cached); err != nil {
			e.logger.WithError(err).WithField("key", key).Warn("Conviction cache read failed")
		} else if found {
			e.redisHits.Add(1)
			e.store(key, cached)
			return cached, nil
		}

		score, err := e.fetch(flightCtx, ticker, date)
		if err != nil {
			return nil, err
		}

		e.store(key, score)
		if err := e.cache.Set(flightCtx, key, score, redis.TTLConviction); err != nil {
			e.logger.WithError(err).WithField("key", key).Warn("Conviction cache write failed")
		}
		return score, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			e.failures.Add(1)
			return contracts.ConvictionScore{}, res.Err
		}
		return res.Val.(contracts.ConvictionScore), nil
	case <-ctx.Done():
		e.failures.Add(1)
		return contracts.ConvictionScore{}, ctx.Err()
	}
}

// cacheKey scopes (ticker, date) to the engine namespace
func (e *ConvictionEngine) cacheKey(ticker string, date time.Time) string {
	return redis.ConvictionKey(e.config.Namespace, ticker, date)
}

// fetch calls the source under the per-request timeout and validates the score
func (e *ConvictionEngine) fetch(ctx context.Context, ticker string, date time.Time) (contracts.ConvictionScore, error) {
	e.sourceCalls.Add(1)
	reqCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	score, err := e.source.Score(reqCtx, ticker, date)
	if err != nil {
		return contracts.ConvictionScore{}, err
	}
	if math.IsNaN(score.Score) || math.IsInf(score.Score, 0) {
		return contracts.ConvictionScore{}, fmt.Errorf("non-finite conviction score for %s", ticker)
	}

	score.Ticker = ticker
	score.Date = date
	score.Score = clamp(score.Score, -1, 1)
	return score, nil
}

func (e *ConvictionEngine) lookup(key string) (contracts.ConvictionScore, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	score, ok := e.memo[key]
	return score, ok
}

func (e *ConvictionEngine) store(key string, score contracts.ConvictionScore) {
	e.mu.Lock()
	e.memo[key] = score
	e.mu.Unlock()
}

// Batch scores every ticker with at most Concurrency requests in flight.
// It returns only after every request has completed or been marked
// unavailable; unavailable scores are 0 with a ConvictionUnavailable
// diagnostic. An error is returned only when ctx itself is done.
func (e *ConvictionEngine) Batch(ctx context.Context, date time.Time, tickers []string) (map[string]contracts.Signal, contracts.Diagnostics, error) {
	date = contracts.DateOnly(date)
	out := make(map[string]contracts.Signal, len(tickers))
	var diags contracts.Diagnostics
	var mu sync.Mutex

	g := new(errgroup.Group)
	g.SetLimit(e.config.Concurrency)

	for _, ticker := range tickers {
		ticker := ticker
		g.Go(func() error {
			value := 0.0
			score, err := e.Get(ctx, ticker, date)
			if err == nil {
				value = score.Score
			}

			mu.Lock()
			defer mu.Unlock()
			out[ticker] = contracts.Signal{Ticker: ticker, Date: date, Value: value, Kind: contracts.SignalConviction}
			if err != nil {
				diags.Add(contracts.DiagConvictionUnavailable, ticker, date, err.Error())
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	sort.Slice(diags, func(i, j int) bool { return diags[i].Ticker < diags[j].Ticker })

	if len(diags) > 0 {
		e.logger.WithFields(map[string]interface{}{
			"date":        date.Format("2006-01-02"),
			"requested":   len(tickers),
			"unavailable": len(diags),
		}).Warn("Conviction unavailable for some assets")
	}

	return out, diags, nil
}

// Stats returns a snapshot of the engine counters
func (e *ConvictionEngine) Stats() ConvictionStats {
	return ConvictionStats{
		Requests:    e.requests.Load(),
		MemoryHits:  e.memoryHits.Load(),
		RedisHits:   e.redisHits.Load(),
		SourceCalls: e.sourceCalls.Load(),
		Failures:    e.failures.Load(),
	}
}
