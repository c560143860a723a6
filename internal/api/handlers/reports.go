package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/wonny/b3quant/internal/audit"
	"github.com/wonny/b3quant/pkg/logger"
)

const defaultListLimit = 20

// ReportHandler serves persisted backtest and walk-forward reports
// ⭐ SSOT: 리포트 API 핸들러는 이 구조체에서만
type ReportHandler struct {
	store  audit.ReportStore
	logger *logger.Logger
}

// NewReportHandler creates a new report handler
func NewReportHandler(store audit.ReportStore, log *logger.Logger) *ReportHandler {
	return &ReportHandler{
		store:  store,
		logger: log,
	}
}

// List returns report summaries, newest first
// GET /api/reports?limit=20
func (h *ReportHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "Invalid 'limit' (expected positive integer)")
			return
		}
		limit = n
	}

	reports, err := h.store.List(r.Context(), limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list reports")
		respondError(w, http.StatusInternalServerError, "Failed to list reports")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(reports),
		"reports": reports,
	})
}

// Latest returns the most recent report, optionally of one kind
// GET /api/reports/latest?kind=walkforward
func (h *ReportHandler) Latest(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")
	if kind != "" && kind != audit.KindBacktest && kind != audit.KindWalkForward {
		respondError(w, http.StatusBadRequest, "Invalid 'kind' (expected backtest or walkforward)")
		return
	}

	report, err := h.store.Latest(r.Context(), kind)
	h.respondReport(w, report, err)
}

// Get returns one report by run ID
// GET /api/reports/{id}
func (h *ReportHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	report, err := h.store.Get(r.Context(), id)
	h.respondReport(w, report, err)
}

func (h *ReportHandler) respondReport(w http.ResponseWriter, report *audit.StoredReport, err error) {
	switch {
	case errors.Is(err, audit.ErrReportNotFound):
		respondError(w, http.StatusNotFound, "Report not found")
	case err != nil:
		h.logger.WithError(err).Error("Failed to get report")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve report")
	default:
		respondJSON(w, http.StatusOK, report)
	}
}
