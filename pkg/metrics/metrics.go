package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "b3quant"

// Recorder collects backtest and walk-forward metrics.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	runsTotal       *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	splitsTotal     *prometheus.CounterVec
	splitDuration   prometheus.Histogram
	diagnostics     *prometheus.CounterVec
	turnover        prometheus.Histogram
	convictionTotal *prometheus.CounterVec
}

// New creates a recorder registered on its own registry
func New() *Recorder {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry creates a recorder registered on reg
func NewWithRegistry(reg *prometheus.Registry) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "runs_total",
			Help:      "Total number of backtest runs by status",
		}, []string{"status"}),
		runDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "run_duration_seconds",
			Help:      "Duration of backtest runs in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		splitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "walkforward",
			Name:      "splits_total",
			Help:      "Total number of walk-forward splits by status",
		}, []string{"status"}),
		splitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "walkforward",
			Name:      "split_duration_seconds",
			Help:      "Duration of walk-forward splits in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		diagnostics: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "diagnostics_total",
			Help:      "Soft diagnostics emitted, by code",
		}, []string{"code"}),
		turnover: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "portfolio",
			Name:      "rebalance_turnover",
			Help:      "Realized turnover per rebalance",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 0.75, 1, 1.5, 2},
		}),
		convictionTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conviction",
			Name:      "requests_total",
			Help:      "Conviction lookups by outcome",
		}, []string{"outcome"}),
	}
}

// Registry returns the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the Prometheus text format
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// RecordRun records a finished run (kind: backtest | walkforward)
func (r *Recorder) RecordRun(kind, status string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.runsTotal.WithLabelValues(status).Inc()
	r.runDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// RecordSplit records a finished walk-forward split (status: ok | failed | cancelled)
func (r *Recorder) RecordSplit(status string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.splitsTotal.WithLabelValues(status).Inc()
	r.splitDuration.Observe(elapsed.Seconds())
}

// RecordDiagnostics adds diagnostic counts per code
func (r *Recorder) RecordDiagnostics(counts map[string]int) {
	if r == nil {
		return
	}
	for code, n := range counts {
		r.diagnostics.WithLabelValues(code).Add(float64(n))
	}
}

// RecordTurnover observes realized turnover of one rebalance
func (r *Recorder) RecordTurnover(turnover float64) {
	if r == nil {
		return
	}
	r.turnover.Observe(turnover)
}

// RecordConviction adds conviction lookup counts by outcome
// (memory_hit, redis_hit, source_call, failure)
func (r *Recorder) RecordConviction(outcome string, n int64) {
	if r == nil || n <= 0 {
		return
	}
	r.convictionTotal.WithLabelValues(outcome).Add(float64(n))
}
