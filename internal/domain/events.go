package domain

import (
	"time"

	"github.com/google/uuid"
)

// Outbox event types published to the event topic.
const (
	EventOrderPaid      = "order.paid"
	EventOrderExpired   = "order.expired"
	EventPrintJobDone   = "print_job.done"
	EventPrintJobFailed = "print_job.failed"
)

type OrderPaidEvent struct {
	OrderID        uuid.UUID `json:"order_id"`
	GatewayOrderID string    `json:"gateway_order_id"`
	GuestID        string    `json:"guest_id"`
	Amount         int64     `json:"amount"`
	Currency       string    `json:"currency"`
	PaidAt         time.Time `json:"paid_at"`
}

type OrderExpiredEvent struct {
	OrderID        uuid.UUID `json:"order_id"`
	GatewayOrderID string    `json:"gateway_order_id"`
	GuestID        string    `json:"guest_id"`
	ExpiredAt      time.Time `json:"expired_at"`
}

type PrintJobEvent struct {
	JobID      uuid.UUID `json:"job_id"`
	OrderID    uuid.UUID `json:"order_id"`
	Status     JobStatus `json:"status"`
	Attempts   int       `json:"attempts"`
	Reason     string    `json:"reason,omitempty"`
	WorkerID   string    `json:"worker_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
