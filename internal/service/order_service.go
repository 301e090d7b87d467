package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/qopy/kiosk/internal/domain"
	"github.com/qopy/kiosk/internal/gateway"
	"github.com/qopy/kiosk/internal/pricing"
	"github.com/qopy/kiosk/internal/repository"
	"github.com/qopy/kiosk/pkg/logger"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type OrderConfig struct {
	Currency            string
	MinorUnitMultiplier int64
}

// CreateOrderInput is a checkout request. Amount is in major currency units and
// must match the server's own quote for the cart. Cart is optional; when nil the
// guest's stored cart is used.
type CreateOrderInput struct {
	Amount    decimal.Decimal
	GuestID   string
	PrinterID string
	Cart      *domain.Cart
}

type CreateOrderResult struct {
	GatewayOrderID string
	Amount         int64
	Currency       string
	OrderID        uuid.UUID
}

type OrderService struct {
	store   OrderStore
	gateway PaymentGateway
	carts   CartReader
	pricing pricing.Engine
	cfg     OrderConfig
	logger  *zap.Logger
	now     func() time.Time
}

func NewOrderService(store OrderStore, gw PaymentGateway, carts CartReader, engine pricing.Engine, cfg OrderConfig, log *zap.Logger) *OrderService {
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	if cfg.MinorUnitMultiplier < 1 {
		cfg.MinorUnitMultiplier = 100
	}
	return &OrderService{
		store:   store,
		gateway: gw,
		carts:   carts,
		pricing: engine,
		cfg:     cfg,
		logger:  log.Named("orders"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// ToMinorUnits converts a major-unit amount, rounding half away from zero.
func (s *OrderService) ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(s.cfg.MinorUnitMultiplier)).Round(0).IntPart()
}

// Quote prices a cart with the configured rates.
func (s *OrderService) Quote(cart domain.Cart) (pricing.Quote, error) {
	q, err := s.pricing.Price(cart)
	if err != nil {
		return pricing.Quote{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return q, nil
}

// CreateOrder registers the order with the gateway first and then records it as
// PENDING. If the local write fails the gateway order is left orphaned; it can
// never be marked paid here because no row references it.
func (s *OrderService) CreateOrder(ctx context.Context, in CreateOrderInput) (*CreateOrderResult, error) {
	log := logger.FromContext(ctx, s.logger)

	guestID := strings.TrimSpace(in.GuestID)
	if guestID == "" {
		return nil, fmt.Errorf("%w: userId is required", ErrInvalidRequest)
	}
	if !in.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}

	cart, err := s.resolveCart(ctx, guestID, in.Cart)
	if err != nil {
		return nil, err
	}
	if cart.IsEmpty() {
		return nil, fmt.Errorf("%w: cart is empty", ErrInvalidRequest)
	}

	quote, err := s.Quote(*cart)
	if err != nil {
		return nil, err
	}
	if !in.Amount.Equal(decimal.NewFromInt(quote.Total)) {
		return nil, fmt.Errorf("%w: amount %s does not match cart total %d", ErrInvalidRequest, in.Amount, quote.Total)
	}

	orderID := uuid.New()
	minor := s.ToMinorUnits(in.Amount)

	gwOrder, err := s.gateway.CreateOrder(ctx, gateway.CreateOrderRequest{
		Amount:   minor,
		Currency: s.cfg.Currency,
		Receipt:  orderID.String(),
		Notes: map[string]string{
			"guest_id":   guestID,
			"printer_id": in.PrinterID,
		},
	})
	if err != nil {
		log.Warn("gateway order creation failed", zap.String("order_id", orderID.String()), zap.Error(err))
		if errors.Is(err, gateway.ErrRejected) {
			return nil, fmt.Errorf("%w: %w", ErrGatewayRejected, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrGatewayUnavailable, err)
	}

	snapshot := *cart
	snapshot.ID = ""
	snapshot.GuestID = guestID
	order := &domain.Order{
		ID:             orderID,
		GatewayOrderID: gwOrder.ID,
		Amount:         minor,
		Currency:       s.cfg.Currency,
		Status:         domain.OrderStatusPending,
		GuestID:        guestID,
		PrinterID:      in.PrinterID,
		Cart:           snapshot,
		CreatedAt:      s.now(),
	}
	if err := s.store.CreateOrder(ctx, order); err != nil {
		log.Error("failed to persist order, gateway order orphaned",
			zap.String("order_id", orderID.String()),
			zap.String("gateway_order_id", gwOrder.ID),
			zap.Error(err))
		return nil, fmt.Errorf("persist order: %w", err)
	}

	log.Info("order created",
		zap.String("order_id", orderID.String()),
		zap.String("gateway_order_id", gwOrder.ID),
		zap.Int64("amount", minor),
		zap.String("currency", s.cfg.Currency))

	return &CreateOrderResult{
		GatewayOrderID: gwOrder.ID,
		Amount:         minor,
		Currency:       s.cfg.Currency,
		OrderID:        orderID,
	}, nil
}

func (s *OrderService) resolveCart(ctx context.Context, guestID string, fromRequest *domain.Cart) (*domain.Cart, error) {
	if fromRequest != nil {
		return fromRequest, nil
	}
	if s.carts == nil {
		return nil, fmt.Errorf("%w: cart is required", ErrInvalidRequest)
	}
	cart, err := s.carts.GetCart(ctx, guestID)
	if err != nil {
		return nil, fmt.Errorf("load session cart: %w", err)
	}
	return cart, nil
}

// GetOrder returns an order to the guest that placed it. Other guests get ErrOrderNotFound.
func (s *OrderService) GetOrder(ctx context.Context, orderID uuid.UUID, guestID string) (*domain.Order, error) {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if errors.Is(err, repository.ErrOrderNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	if order.GuestID != guestID {
		return nil, ErrOrderNotFound
	}
	return order, nil
}
