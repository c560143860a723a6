package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/b3quant/internal/api/handlers"
	"github.com/wonny/b3quant/internal/audit"
	"github.com/wonny/b3quant/internal/backtest"
	"github.com/wonny/b3quant/internal/contracts"
	"github.com/wonny/b3quant/internal/scheduler"
	"github.com/wonny/b3quant/pkg/logger"
	"github.com/wonny/b3quant/pkg/metrics"
)

type stubRunner struct {
	err  error
	last backtest.RunConfig
}

func (s *stubRunner) Run(_ context.Context, rc backtest.RunConfig) (*backtest.Result, error) {
	s.last = rc
	if s.err != nil {
		return nil, s.err
	}
	return &backtest.Result{
		RunID:       "run-new",
		ConfigHash:  "abc",
		Lambda:      0.3,
		Metrics:     contracts.MetricSet{Days: 20, Sharpe: contracts.Defined(1.2)},
		Diagnostics: contracts.Diagnostics{{Code: contracts.DiagPriceUnavailable, Ticker: "X"}},
	}, nil
}

type stubScheduler struct {
	triggered []string
}

func (s *stubScheduler) Stats() []scheduler.JobStats {
	return []scheduler.JobStats{{JobName: "walkforward_refresh", Schedule: "@daily"}}
}

func (s *stubScheduler) RunNow(name string) error {
	switch name {
	case "walkforward_refresh":
		s.triggered = append(s.triggered, name)
		return nil
	case "busy":
		return scheduler.ErrJobRunning
	case "stopping":
		return scheduler.ErrStopped
	}
	return scheduler.ErrJobNotFound
}

func newTestRouter(t *testing.T, runner *stubRunner) (http.Handler, *audit.MemoryStore) {
	t.Helper()
	store := audit.NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(ctx, audit.StoredReport{ID: "bt-1", Kind: audit.KindBacktest, CreatedAt: base, Payload: []byte(`{"a":1}`)}))
	require.NoError(t, store.Save(ctx, audit.StoredReport{ID: "wf-1", Kind: audit.KindWalkForward, CreatedAt: base.Add(time.Hour), Payload: []byte(`{"b":2}`)}))

	log := logger.NewNop()
	router := NewRouter(Handlers{
		Reports:   handlers.NewReportHandler(store, log),
		Backtests: handlers.NewBacktestHandler(runner, store, log),
		Jobs:      handlers.NewJobHandler(&stubScheduler{}, log),
		Metrics:   metrics.New().Handler(),
	}, log)
	return router, store
}

func do(t *testing.T, h http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, bytes.NewReader(body)))
	return rec
}

func TestRouter_Reports(t *testing.T) {
	router, _ := newTestRouter(t, &stubRunner{})

	tests := []struct {
		name   string
		path   string
		status int
		id     string
	}{
		{"latest", "/api/reports/latest", http.StatusOK, "wf-1"},
		{"latest backtest", "/api/reports/latest?kind=backtest", http.StatusOK, "bt-1"},
		{"bad kind", "/api/reports/latest?kind=other", http.StatusBadRequest, ""},
		{"by id", "/api/reports/bt-1", http.StatusOK, "bt-1"},
		{"missing", "/api/reports/nope", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodGet, tt.path, nil)
			require.Equal(t, tt.status, rec.Code)
			if tt.id == "" {
				return
			}
			var got audit.StoredReport
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			assert.Equal(t, tt.id, got.ID)
			assert.NotEmpty(t, got.Payload)
		})
	}
}

func TestRouter_List(t *testing.T) {
	router, _ := newTestRouter(t, &stubRunner{})

	rec := do(t, router, http.MethodGet, "/api/reports?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Count   int                  `json:"count"`
		Reports []audit.StoredReport `json:"reports"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "wf-1", body.Reports[0].ID)

	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodGet, "/api/reports?limit=x", nil).Code)
}

func TestRouter_RunBacktest(t *testing.T) {
	runner := &stubRunner{}
	router, store := newTestRouter(t, runner)

	rec := do(t, router, http.MethodPost, "/api/backtests", []byte(`{"start":"2024-01-02","end":"2024-03-28","lambda":0.1}`))
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp handlers.RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "run-new", resp.RunID)
	assert.Equal(t, 1, resp.Diagnostics["PriceUnavailable"])
	require.NotNil(t, runner.last.Lambda)
	assert.Equal(t, 0.1, *runner.last.Lambda)

	saved, err := store.Get(context.Background(), "run-new")
	require.NoError(t, err)
	assert.Equal(t, audit.KindBacktest, saved.Kind)
}

func TestRouter_RunBacktestErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"bad json", `{`, nil, http.StatusBadRequest},
		{"bad start", `{"start":"02/01/2024","end":"2024-03-28"}`, nil, http.StatusBadRequest},
		{"end before start", `{"start":"2024-03-28","end":"2024-01-02"}`, nil, http.StatusBadRequest},
		{"lambda out of range", `{"start":"2024-01-02","end":"2024-03-28","lambda":0.9}`, nil, http.StatusBadRequest},
		{"empty window", `{"start":"2024-01-02","end":"2024-03-28"}`, contracts.ErrInvalidConfiguration, http.StatusBadRequest},
		{"divergence", `{"start":"2024-01-02","end":"2024-03-28"}`, contracts.ErrSimulationDivergence, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, _ := newTestRouter(t, &stubRunner{err: tt.err})
			rec := do(t, router, http.MethodPost, "/api/backtests", []byte(tt.body))
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	router, _ := newTestRouter(t, &stubRunner{})

	rec := do(t, router, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	assert.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/metrics", nil).Code)
}

func TestRouter_Jobs(t *testing.T) {
	router, _ := newTestRouter(t, &stubRunner{})

	rec := do(t, router, http.MethodGet, "/api/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Count int                  `json:"count"`
		Jobs  []scheduler.JobStats `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "walkforward_refresh", body.Jobs[0].JobName)

	tests := []struct {
		name   string
		status int
	}{
		{"walkforward_refresh", http.StatusAccepted},
		{"busy", http.StatusConflict},
		{"stopping", http.StatusServiceUnavailable},
		{"unknown", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, "/api/jobs/"+tt.name+"/run", nil)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}
