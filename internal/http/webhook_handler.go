package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/qopy/kiosk/internal/service"
	"go.uber.org/zap"
)

const HeaderSignature = "X-Razorpay-Signature"

type WebhookReconciler interface {
	HandleWebhook(ctx context.Context, body []byte, signature string) (service.Outcome, error)
}

type WebhookHandler struct {
	reconciler   WebhookReconciler
	maxBodyBytes int64
	timeout      time.Duration
	logger       *zap.Logger
}

func NewWebhookHandler(reconciler WebhookReconciler, maxBodyBytes int64, timeout time.Duration, log *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		reconciler:   reconciler,
		maxBodyBytes: maxBodyBytes,
		timeout:      timeout,
		logger:       log,
	}
}

// POST /api/webhook
//
// The signature covers the exact bytes received, so the body is read raw and
// never re-encoded before verification.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	signature := r.Header.Get(HeaderSignature)
	if signature == "" {
		respondError(w, h.logger, http.StatusBadRequest, "invalid_signature", "missing "+HeaderSignature+" header")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, h.logger, http.StatusBadRequest, "body_too_large", "webhook body too large")
			return
		}
		respondError(w, h.logger, http.StatusBadRequest, "invalid_request", "failed to read body")
		return
	}

	if _, err := h.reconciler.HandleWebhook(ctx, body, signature); err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	respondJSON(w, h.logger, http.StatusOK, map[string]string{"status": "ok"})
}
