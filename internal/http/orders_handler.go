package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/qopy/kiosk/internal/domain"
	"github.com/qopy/kiosk/internal/pricing"
	"github.com/qopy/kiosk/internal/service"
	"go.uber.org/zap"
)

type OrderService interface {
	CreateOrder(ctx context.Context, in service.CreateOrderInput) (*service.CreateOrderResult, error)
	GetOrder(ctx context.Context, orderID uuid.UUID, guestID string) (*domain.Order, error)
	Quote(cart domain.Cart) (pricing.Quote, error)
}

type OrdersHandler struct {
	orders   OrderService
	currency string
	timeout  time.Duration
	logger   *zap.Logger
}

func NewOrdersHandler(orders OrderService, currency string, timeout time.Duration, log *zap.Logger) *OrdersHandler {
	return &OrdersHandler{
		orders:   orders,
		currency: currency,
		timeout:  timeout,
		logger:   log,
	}
}

// POST /api/create-order
func (h *OrdersHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req CreateOrderRequestDTO
	if err := decodeAndValidate(r.Body, &req); err != nil {
		respondError(w, h.logger, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	in := service.CreateOrderInput{
		Amount:    req.Amount,
		GuestID:   req.UserID,
		PrinterID: req.PrinterID,
	}
	if req.Cart != nil {
		c := req.Cart.toDomain()
		in.Cart = &c
	}

	res, err := h.orders.CreateOrder(ctx, in)
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, CreateOrderResponseDTO{
		ID:        res.GatewayOrderID,
		Currency:  res.Currency,
		Amount:    res.Amount,
		DBOrderID: res.OrderID.String(),
	})
}

// POST /api/quote
func (h *OrdersHandler) Quote(w http.ResponseWriter, r *http.Request) {
	var req CartDTO
	if err := decodeAndValidate(r.Body, &req); err != nil {
		respondError(w, h.logger, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	quote, err := h.orders.Quote(req.toDomain())
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	respondJSON(w, h.logger, http.StatusOK, QuoteResponseDTO{Quote: quote, Currency: h.currency})
}

// GET /api/orders/{order_id}
func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orderID, err := uuid.Parse(chi.URLParam(r, "order_id"))
	if err != nil {
		respondError(w, h.logger, http.StatusBadRequest, "invalid_order_id", "order_id must be a UUID")
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID, getGuestID(r.Context()))
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	respondJSON(w, h.logger, http.StatusOK, orderToDTO(order))
}
