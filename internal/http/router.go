package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type RouterConfig struct {
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	OpsToken       string
}

type Handlers struct {
	Orders  *OrdersHandler
	Webhook *WebhookHandler
	Cart    *CartHandler
	Ops     *OpsHandler
	DB      Pinger
}

func NewRouter(cfg RouterConfig, h Handlers, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestIDMiddleware)
	r.Use(AccessLog(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if h.DB != nil {
			if err := h.DB.Ping(r.Context()); err != nil {
				log.Warn("health check failed", zap.Error(err))
				respondJSON(w, log, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		respondJSON(w, log, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/webhook", h.Webhook.Handle)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequestSize(cfg.MaxBodyBytes))
			r.Post("/create-order", h.Orders.CreateOrder)
			r.Post("/quote", h.Orders.Quote)
		})

		r.Group(func(r chi.Router) {
			r.Use(GuestMiddleware(log))
			r.Use(middleware.RequestSize(cfg.MaxBodyBytes))
			r.Get("/cart", h.Cart.GetCart)
			r.Put("/cart", h.Cart.PutCart)
			r.Delete("/cart", h.Cart.ClearCart)
			r.Get("/orders/{order_id}", h.Orders.GetOrder)
		})

		r.Route("/ops", func(r chi.Router) {
			r.Use(OpsAuthMiddleware(cfg.OpsToken, log))
			r.Get("/jobs/{job_id}", h.Ops.GetJob)
			r.Post("/jobs/{job_id}/cancel", h.Ops.CancelJob)
		})
	})

	return otelhttp.NewHandler(r, "kiosk-api")
}
