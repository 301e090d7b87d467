// Package http exposes the kiosk API over chi.
package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/qopy/kiosk/internal/cart"
	"github.com/qopy/kiosk/internal/queue"
	"github.com/qopy/kiosk/internal/service"
	"github.com/qopy/kiosk/pkg/logger"
	"go.uber.org/zap"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, log *zap.Logger, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Warn("failed to encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, log *zap.Logger, status int, code, message string) {
	respondJSON(w, log, status, ErrorResponse{Error: message, Code: code})
}

// handleServiceError maps domain errors onto HTTP statuses. Anything unknown is
// logged and reported as a 500 without leaking the cause.
func handleServiceError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	var (
		status int
		code   string
	)
	switch {
	case errors.Is(err, service.ErrInvalidRequest), errors.Is(err, cart.ErrInvalidCart):
		status, code = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, service.ErrInvalidSignature):
		status, code = http.StatusBadRequest, "invalid_signature"
	case errors.Is(err, service.ErrGatewayRejected):
		status, code = http.StatusBadGateway, "gateway_rejected"
	case errors.Is(err, service.ErrGatewayUnavailable):
		status, code = http.StatusBadGateway, "gateway_unavailable"
	case errors.Is(err, queue.ErrQueueUnavailable):
		status, code = http.StatusServiceUnavailable, "queue_unavailable"
	case errors.Is(err, service.ErrOrderNotFound), errors.Is(err, queue.ErrJobNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, queue.ErrJobNotCancellable):
		status, code = http.StatusConflict, "not_cancellable"
	default:
		logger.FromContext(r.Context(), log).Error("request failed", zap.Error(err))
		respondError(w, log, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	respondError(w, log, status, code, err.Error())
}
