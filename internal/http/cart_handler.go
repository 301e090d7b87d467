package http

import (
	"context"
	"net/http"
	"time"

	"github.com/qopy/kiosk/internal/domain"
	"go.uber.org/zap"
)

type CartService interface {
	GetCart(ctx context.Context, guestID string) (*domain.Cart, error)
	PutCart(ctx context.Context, guestID string, cart domain.Cart) (*domain.Cart, error)
	ClearCart(ctx context.Context, guestID string) error
}

type CartHandler struct {
	carts   CartService
	timeout time.Duration
	logger  *zap.Logger
}

func NewCartHandler(carts CartService, timeout time.Duration, log *zap.Logger) *CartHandler {
	return &CartHandler{
		carts:   carts,
		timeout: timeout,
		logger:  log,
	}
}

// GET /api/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cart, err := h.carts.GetCart(ctx, getGuestID(r.Context()))
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	respondJSON(w, h.logger, http.StatusOK, cartToDTO(cart))
}

// PUT /api/cart
func (h *CartHandler) PutCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req CartDTO
	if err := decodeAndValidate(r.Body, &req); err != nil {
		respondError(w, h.logger, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	cart, err := h.carts.PutCart(ctx, getGuestID(r.Context()), req.toDomain())
	if err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	respondJSON(w, h.logger, http.StatusOK, cartToDTO(cart))
}

// DELETE /api/cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.carts.ClearCart(ctx, getGuestID(r.Context())); err != nil {
		handleServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
