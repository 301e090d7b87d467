package domain

import (
	"time"

	"github.com/google/uuid"
)

type OrderStatus string

const (
	OrderStatusPending OrderStatus = "PENDING"
	OrderStatusPaid    OrderStatus = "PAID"
	OrderStatusFailed  OrderStatus = "FAILED"
)

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusPaid || s == OrderStatusFailed
}

// String representation (for logging)
func (s OrderStatus) String() string {
	return string(s)
}

// CanTransitionTo reports whether the order state machine allows from -> to.
func (s OrderStatus) CanTransitionTo(to OrderStatus) bool {
	return s == OrderStatusPending && (to == OrderStatusPaid || to == OrderStatusFailed)
}

// Order is the local record of a gateway purchase. Amount is in minor currency units.
type Order struct {
	ID               uuid.UUID
	GatewayOrderID   string
	GatewayPaymentID string
	Amount           int64
	Currency         string
	Status           OrderStatus
	GuestID          string
	PrinterID        string
	Cart             Cart
	CreatedAt        time.Time
	UpdatedAt        time.Time
	PaidAt           *time.Time
}

// JobPayload rebuilds what the kiosk needs to print from the stored cart snapshot.
func (o *Order) JobPayload() JobPayload {
	return JobPayload{
		OrderID:     o.ID,
		PrinterID:   o.PrinterID,
		Items:       o.Cart.Items,
		BindingKits: o.Cart.BindingKits,
	}
}
