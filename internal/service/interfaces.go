package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/qopy/kiosk/internal/domain"
	"github.com/qopy/kiosk/internal/gateway"
)

type OrderStore interface {
	CreateOrder(ctx context.Context, order *domain.Order) error
	GetOrderByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetOrderByGatewayID(ctx context.Context, gatewayOrderID string) (*domain.Order, error)
	MarkOrderPaid(ctx context.Context, gatewayOrderID, paymentID string, paidAt time.Time) (*domain.Order, error)
	ExpirePendingOrders(ctx context.Context, createdBefore time.Time, limit int) ([]*domain.Order, error)
	ListPaidOrdersWithoutJob(ctx context.Context, paidBefore time.Time, limit int) ([]*domain.Order, error)
}

type PaymentGateway interface {
	CreateOrder(ctx context.Context, req gateway.CreateOrderRequest) (*gateway.Order, error)
}

type JobQueue interface {
	Enqueue(ctx context.Context, orderID uuid.UUID, payload domain.JobPayload) (*domain.PrintJob, error)
}

type CartReader interface {
	GetCart(ctx context.Context, guestID string) (*domain.Cart, error)
}
