package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/wonny/b3quant/internal/audit"
	"github.com/wonny/b3quant/internal/backtest"
	"github.com/wonny/b3quant/internal/contracts"
	"github.com/wonny/b3quant/pkg/logger"
)

// BacktestRunner runs one backtest window; *backtest.Engine implements it
type BacktestRunner interface {
	Run(ctx context.Context, rc backtest.RunConfig) (*backtest.Result, error)
}

// BacktestHandler runs backtests on demand and stores the result
type BacktestHandler struct {
	runner BacktestRunner
	store  audit.ReportStore
	logger *logger.Logger
}

// NewBacktestHandler creates a new backtest handler
func NewBacktestHandler(runner BacktestRunner, store audit.ReportStore, log *logger.Logger) *BacktestHandler {
	return &BacktestHandler{
		runner: runner,
		store:  store,
		logger: log,
	}
}

// RunRequest represents a backtest request
type RunRequest struct {
	Start  string   `json:"start"`  // YYYY-MM-DD
	End    string   `json:"end"`    // YYYY-MM-DD
	Lambda *float64 `json:"lambda"` // optional override, [0, 0.5]
}

// RunResponse is the summary returned after a run
type RunResponse struct {
	RunID       string              `json:"run_id"`
	ConfigHash  string              `json:"config_hash"`
	Lambda      float64             `json:"lambda"`
	Metrics     contracts.MetricSet `json:"metrics"`
	Trades      int                 `json:"trades"`
	Diagnostics map[string]int      `json:"diagnostics"`
}

// Run executes a backtest synchronously
// POST /api/backtests
func (h *BacktestHandler) Run(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	start, err := time.Parse("2006-01-02", req.Start)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid 'start' date format (expected YYYY-MM-DD)")
		return
	}
	end, err := time.Parse("2006-01-02", req.End)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid 'end' date format (expected YYYY-MM-DD)")
		return
	}
	if end.Before(start) {
		respondError(w, http.StatusBadRequest, "'end' must not be before 'start'")
		return
	}
	if req.Lambda != nil && (*req.Lambda < 0 || *req.Lambda > 0.5) {
		respondError(w, http.StatusBadRequest, "'lambda' must be within [0, 0.5]")
		return
	}

	result, err := h.runner.Run(ctx, backtest.RunConfig{Start: start, End: end, Lambda: req.Lambda})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, contracts.ErrInvalidConfiguration) {
			status = http.StatusBadRequest
		}
		h.logger.WithError(err).Warn("Backtest run failed")
		respondError(w, status, err.Error())
		return
	}

	stored, err := result.Stored(time.Now().UTC())
	if err == nil {
		err = h.store.Save(ctx, stored)
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to save backtest report")
		respondError(w, http.StatusInternalServerError, "Failed to save report")
		return
	}

	diags := make(map[string]int)
	for code, n := range result.Diagnostics.Counts() {
		diags[string(code)] = n
	}
	respondJSON(w, http.StatusCreated, RunResponse{
		RunID:       result.RunID,
		ConfigHash:  result.ConfigHash,
		Lambda:      result.Lambda,
		Metrics:     result.Metrics,
		Trades:      len(result.Trades),
		Diagnostics: diags,
	})
}
