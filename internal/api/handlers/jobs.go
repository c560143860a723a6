package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wonny/b3quant/internal/scheduler"
	"github.com/wonny/b3quant/pkg/logger"
)

// JobScheduler is the part of the scheduler the API needs
type JobScheduler interface {
	Stats() []scheduler.JobStats
	RunNow(name string) error
}

// JobHandler exposes scheduled report jobs
type JobHandler struct {
	scheduler JobScheduler
	logger    *logger.Logger
}

// NewJobHandler creates a new job handler
func NewJobHandler(s JobScheduler, log *logger.Logger) *JobHandler {
	return &JobHandler{
		scheduler: s,
		logger:    log,
	}
}

// List returns job statistics
// GET /api/jobs
func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	stats := h.scheduler.Stats()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(stats),
		"jobs":  stats,
	})
}

// Run triggers a job outside its schedule
// POST /api/jobs/{name}/run
func (h *JobHandler) Run(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	err := h.scheduler.RunNow(name)
	switch {
	case errors.Is(err, scheduler.ErrJobNotFound):
		respondError(w, http.StatusNotFound, "Job not found: "+name)
		return
	case errors.Is(err, scheduler.ErrJobRunning):
		respondError(w, http.StatusConflict, "Job already running: "+name)
		return
	case errors.Is(err, scheduler.ErrStopped):
		respondError(w, http.StatusServiceUnavailable, "Scheduler is shutting down")
		return
	case err != nil:
		h.logger.WithError(err).Error("Failed to trigger job")
		respondError(w, http.StatusInternalServerError, "Failed to trigger job")
		return
	}

	h.logger.WithField("job", name).Info("Job triggered via API")
	respondJSON(w, http.StatusAccepted, map[string]string{
		"job":    name,
		"status": "triggered",
	})
}
