package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/qopy/kiosk/internal/domain"
	"github.com/qopy/kiosk/internal/queue"
	"github.com/qopy/kiosk/internal/repository"
	"github.com/qopy/kiosk/pkg/logger"
	"go.uber.org/zap"
)

const EventPaymentCaptured = "payment.captured"

// Outcome says what a verified webhook delivery led to. Every outcome is
// acknowledged to the gateway.
type Outcome string

const (
	OutcomeIgnored       Outcome = "ignored"
	OutcomeMalformed     Outcome = "malformed"
	OutcomeTransitioned  Outcome = "transitioned"
	OutcomeDuplicate     Outcome = "duplicate"
	OutcomeUnknownOrder  Outcome = "unknown_order"
	OutcomeLateCapture   Outcome = "late_capture"
	OutcomeLookupFailed  Outcome = "lookup_failed"
	OutcomeEnqueueFailed Outcome = "enqueue_failed"
)

type webhookEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID       string `json:"id"`
				OrderID  string `json:"order_id"`
				Amount   int64  `json:"amount"`
				Currency string `json:"currency"`
				Status   string `json:"status"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

type Reconciler struct {
	orders OrderStore
	queue  JobQueue
	secret []byte
	logger *zap.Logger
	now    func() time.Time
}

func NewReconciler(orders OrderStore, q JobQueue, webhookSecret string, log *zap.Logger) *Reconciler {
	return &Reconciler{
		orders: orders,
		queue:  q,
		secret: []byte(webhookSecret),
		logger: log.Named("webhook"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Sign returns the hex HMAC-SHA256 of body under the webhook secret.
func (r *Reconciler) Sign(body []byte) string {
	mac := hmac.New(sha256.New, r.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify compares signature with the expected digest in constant time.
func (r *Reconciler) Verify(body []byte, signature string) bool {
	if signature == "" || len(r.secret) == 0 {
		return false
	}
	return hmac.Equal([]byte(r.Sign(body)), []byte(signature))
}

// HandleWebhook applies one gateway delivery. The only error it returns is
// ErrInvalidSignature; everything after verification is logged and acknowledged
// so the gateway stops redelivering.
func (r *Reconciler) HandleWebhook(ctx context.Context, body []byte, signature string) (Outcome, error) {
	log := logger.FromContext(ctx, r.logger)

	if !r.Verify(body, signature) {
		log.Warn("webhook signature rejected", zap.Int("body_bytes", len(body)))
		return "", ErrInvalidSignature
	}

	var ev webhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		log.Error("failed to parse verified webhook", zap.Error(err))
		return OutcomeMalformed, nil
	}
	log = log.With(zap.String("event", ev.Event))

	if ev.Event != EventPaymentCaptured {
		log.Info("webhook event ignored")
		return OutcomeIgnored, nil
	}

	payment := ev.Payload.Payment.Entity
	if payment.OrderID == "" {
		log.Error("captured payment without order id", zap.String("payment_id", payment.ID))
		return OutcomeMalformed, nil
	}
	log = log.With(
		zap.String("gateway_order_id", payment.OrderID),
		zap.String("payment_id", payment.ID))

	order, err := r.orders.MarkOrderPaid(ctx, payment.OrderID, payment.ID, r.now())
	if errors.Is(err, repository.ErrNoTransition) {
		return r.classifyMiss(ctx, log, payment.OrderID), nil
	}
	if err != nil {
		log.Error("failed to mark order paid", zap.Error(err))
		return OutcomeLookupFailed, nil
	}

	log = log.With(zap.String("order_id", order.ID.String()))
	if payment.Amount != order.Amount || (payment.Currency != "" && payment.Currency != order.Currency) {
		log.Error("captured amount differs from order amount",
			zap.Int64("captured", payment.Amount),
			zap.String("captured_currency", payment.Currency),
			zap.Int64("expected", order.Amount),
			zap.String("expected_currency", order.Currency))
	}
	log.Info("order paid")

	job, err := r.queue.Enqueue(ctx, order.ID, order.JobPayload())
	switch {
	case errors.Is(err, queue.ErrDuplicateJob):
		log.Info("print job already enqueued")
	case err != nil:
		log.Error("failed to enqueue print job, sweeper will retry", zap.Error(err))
		return OutcomeEnqueueFailed, nil
	default:
		log.Info("print job enqueued", zap.String("job_id", job.ID.String()))
	}
	return OutcomeTransitioned, nil
}

func (r *Reconciler) classifyMiss(ctx context.Context, log *zap.Logger, gatewayOrderID string) Outcome {
	order, err := r.orders.GetOrderByGatewayID(ctx, gatewayOrderID)
	switch {
	case errors.Is(err, repository.ErrOrderNotFound):
		log.Warn("captured payment for unknown order")
		return OutcomeUnknownOrder
	case err != nil:
		log.Error("failed to look up order", zap.Error(err))
		return OutcomeLookupFailed
	case order.Status == domain.OrderStatusFailed:
		log.Error("payment captured for failed order, manual refund required",
			zap.String("order_id", order.ID.String()))
		return OutcomeLateCapture
	default:
		log.Info("duplicate capture ignored", zap.String("order_id", order.ID.String()))
		return OutcomeDuplicate
	}
}
