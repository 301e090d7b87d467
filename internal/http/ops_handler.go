package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/qopy/kiosk/internal/domain"
	"github.com/qopy/kiosk/pkg/logger"
	"go.uber.org/zap"
)

type JobAdmin interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.PrintJob, error)
	Cancel(ctx context.Context, id uuid.UUID) (*domain.PrintJob, error)
}

type OpsHandler struct {
	jobs    JobAdmin
	timeout time.Duration
	logger  *zap.Logger
}

func NewOpsHandler(jobs JobAdmin, timeout time.Duration, log *zap.Logger) *OpsHandler {
	return &OpsHandler{
		jobs:    jobs,
		timeout: timeout,
		logger:  log,
	}
}

// GET /api/ops/jobs/{job_id}
func (h *OpsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	jobID, ok := h.jobID(w, r)
	if !ok {
		return
	}
	job, err := h.jobs.Get(ctx, jobID)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	respondJSON(w, h.logger, http.StatusOK, jobToDTO(job))
}

// POST /api/ops/jobs/{job_id}/cancel
func (h *OpsHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	jobID, ok := h.jobID(w, r)
	if !ok {
		return
	}
	job, err := h.jobs.Cancel(ctx, jobID)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	logger.FromContext(r.Context(), h.logger).Info("print job cancelled by operator",
		zap.String("job_id", job.ID.String()),
		zap.String("order_id", job.OrderID.String()))
	respondJSON(w, h.logger, http.StatusOK, jobToDTO(job))
}

func (h *OpsHandler) jobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "job_id"))
	if err != nil {
		respondError(w, h.logger, http.StatusBadRequest, "invalid_job_id", "job_id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}
