package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/qopy/kiosk/internal/domain"
	"github.com/qopy/kiosk/internal/pricing"
	"github.com/qopy/kiosk/internal/service"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testOpsToken = "ops-secret"

type fixture struct {
	orders     *MockOrderService
	reconciler *MockReconciler
	carts      *MockCartService
	jobs       *MockJobAdmin
	server     *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		orders:     &MockOrderService{Engine: pricing.NewEngine(pricing.DefaultRates())},
		reconciler: &MockReconciler{Secret: "good-signature"},
		carts:      NewMockCartService(),
		jobs:       &MockJobAdmin{Jobs: map[uuid.UUID]*domain.PrintJob{}},
	}
	log := zap.NewNop()
	handler := NewRouter(RouterConfig{
		RequestTimeout: 5 * time.Second,
		MaxBodyBytes:   1 << 16,
		OpsToken:       testOpsToken,
	}, Handlers{
		Orders:  NewOrdersHandler(f.orders, "INR", time.Second, log),
		Webhook: NewWebhookHandler(f.reconciler, 1<<10, time.Second, log),
		Cart:    NewCartHandler(f.carts, time.Second, log),
		Ops:     NewOpsHandler(f.jobs, time.Second, log),
	}, log)
	f.server = httptest.NewServer(handler)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string, headers map[string]string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(HeaderRequestID))
}

func TestCreateOrder_Success(t *testing.T) {
	f := newFixture(t)
	orderID := uuid.New()
	f.orders.Result = &service.CreateOrderResult{
		GatewayOrderID: "order_gw_1",
		Amount:         2000,
		Currency:       "INR",
		OrderID:        orderID,
	}

	body := `{"amount": 20, "userId": "guest-1", "printerId": "p-7",
		"cart": {"items": [{"documentId": "doc-1", "pageCount": 10}], "bindingKits": 0}}`
	resp := f.do(t, http.MethodPost, "/api/create-order", body, nil)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeBody[CreateOrderResponseDTO](t, resp)
	assert.Equal(t, CreateOrderResponseDTO{ID: "order_gw_1", Currency: "INR", Amount: 2000, DBOrderID: orderID.String()}, got)

	in := f.orders.LastIn
	assert.True(t, in.Amount.Equal(decimal.NewFromInt(20)))
	assert.Equal(t, "guest-1", in.GuestID)
	assert.Equal(t, "p-7", in.PrinterID)
	require.NotNil(t, in.Cart)
	require.Len(t, in.Cart.Items, 1)
	assert.Equal(t, domain.DefaultPrintOptions(), in.Cart.Items[0].Options)
}

func TestCreateOrder_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"invalid request", service.ErrInvalidRequest, http.StatusBadRequest, "invalid_request"},
		{"gateway rejected", service.ErrGatewayRejected, http.StatusBadGateway, "gateway_rejected"},
		{"gateway unavailable", service.ErrGatewayUnavailable, http.StatusBadGateway, "gateway_unavailable"},
		{"unexpected", errors.New("disk on fire"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.orders.Err = tt.err

			resp := f.do(t, http.MethodPost, "/api/create-order", `{"amount": 20, "userId": "guest-1"}`, nil)
			assert.Equal(t, tt.status, resp.StatusCode)
			got := decodeBody[ErrorResponse](t, resp)
			assert.Equal(t, tt.code, got.Code)
			assert.NotContains(t, got.Error, "disk on fire")
		})
	}
}

func TestCreateOrder_ValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `amount=20`},
		{"missing user", `{"amount": 20}`},
		{"bad sides", `{"amount": 20, "userId": "g", "cart": {"items": [{"documentId": "d", "pageCount": 1, "options": {"sides": "triple"}}]}}`},
		{"bad n-up", `{"amount": 20, "userId": "g", "cart": {"items": [{"documentId": "d", "pageCount": 1, "options": {"pagesPerPage": 3}}]}}`},
		{"missing document id", `{"amount": 20, "userId": "g", "cart": {"items": [{"pageCount": 1}]}}`},
		{"negative kits", `{"amount": 20, "userId": "g", "cart": {"items": [], "bindingKits": -1}}`},
		{"zero copies", `{"amount": 20, "userId": "g", "cart": {"items": [{"documentId": "d", "pageCount": 1, "options": {"copies": 0}}]}}`},
		{"zero n-up", `{"amount": 20, "userId": "g", "cart": {"items": [{"documentId": "d", "pageCount": 1, "options": {"pagesPerPage": 0}}]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			resp := f.do(t, http.MethodPost, "/api/create-order", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, "", f.orders.LastIn.GuestID, "service must not be called")
		})
	}
}

func TestQuote(t *testing.T) {
	f := newFixture(t)

	body := `{"items": [{"documentId": "doc-1", "pageCount": 10, "options": {"sides": "double"}}], "bindingKits": 2}`
	resp := f.do(t, http.MethodPost, "/api/quote", body, nil)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeBody[QuoteResponseDTO](t, resp)
	assert.Equal(t, int64(10+30), got.Total)
	assert.Equal(t, int64(30), got.BindingCost)
	assert.Equal(t, "INR", got.Currency)
	require.Len(t, got.PerItem, 1)
	assert.Equal(t, 5, got.PerItem[0].Sheets)
}

func TestWebhook(t *testing.T) {
	f := newFixture(t)
	payload := `{"event":"payment.captured"}`

	resp := f.do(t, http.MethodPost, "/api/webhook", payload, map[string]string{HeaderSignature: "good-signature"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]string{"status": "ok"}, decodeBody[map[string]string](t, resp))
	require.Len(t, f.reconciler.Bodies, 1)
	assert.Equal(t, payload, string(f.reconciler.Bodies[0]), "body must reach the reconciler byte for byte")
}

func TestWebhook_BadSignature(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/webhook", `{}`, map[string]string{HeaderSignature: "forged"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/webhook", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, f.reconciler.Bodies)
}

func TestWebhook_BodyTooLarge(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/webhook", strings.Repeat("x", 2<<10), map[string]string{HeaderSignature: "good-signature"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "body_too_large", decodeBody[ErrorResponse](t, resp).Code)
	assert.Empty(t, f.reconciler.Bodies)
}

func TestCart_RequiresGuest(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/api/cart", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCart_PutGetDelete(t *testing.T) {
	f := newFixture(t)
	guest := map[string]string{HeaderGuestID: "guest-1"}

	resp := f.do(t, http.MethodPut, "/api/cart",
		`{"items": [{"documentId": "doc-1", "pageCount": 3, "options": {"copies": 2}}], "bindingKits": 1}`, guest)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/cart", "", guest)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeBody[CartDTO](t, resp)
	require.Len(t, got.Items, 1)
	require.NotNil(t, got.Items[0].Options.Copies)
	assert.Equal(t, 2, *got.Items[0].Options.Copies)
	assert.Equal(t, 1, got.BindingKits)

	resp = f.do(t, http.MethodGet, "/api/cart", "", map[string]string{HeaderGuestID: "guest-2"})
	assert.Empty(t, decodeBody[CartDTO](t, resp).Items, "carts are per guest")

	resp = f.do(t, http.MethodDelete, "/api/cart", "", guest)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	_, ok := f.carts.Carts["guest-1"]
	assert.False(t, ok)
}

func TestGetOrder_OwnerOnly(t *testing.T) {
	f := newFixture(t)
	order := &domain.Order{
		ID:             uuid.New(),
		GatewayOrderID: "order_gw_1",
		Amount:         2000,
		Currency:       "INR",
		Status:         domain.OrderStatusPaid,
		GuestID:        "guest-1",
	}
	f.orders.Order = order

	resp := f.do(t, http.MethodGet, "/api/orders/"+order.ID.String(), "", map[string]string{HeaderGuestID: "guest-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeBody[OrderResponseDTO](t, resp)
	assert.Equal(t, "PAID", got.Status)
	assert.Equal(t, int64(2000), got.Amount)

	resp = f.do(t, http.MethodGet, "/api/orders/"+order.ID.String(), "", map[string]string{HeaderGuestID: "guest-2"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/orders/not-a-uuid", "", map[string]string{HeaderGuestID: "guest-1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOps_RequiresToken(t *testing.T) {
	f := newFixture(t)
	path := "/api/ops/jobs/" + uuid.NewString()

	resp := f.do(t, http.MethodGet, path, "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.do(t, http.MethodGet, path, "", map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.do(t, http.MethodGet, path, "", map[string]string{"Authorization": "Bearer " + testOpsToken})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestOps_GetAndCancelJob(t *testing.T) {
	f := newFixture(t)
	auth := map[string]string{"Authorization": "Bearer " + testOpsToken}
	queued := &domain.PrintJob{ID: uuid.New(), OrderID: uuid.New(), Status: domain.JobStatusQueued, MaxAttempts: 3}
	running := &domain.PrintJob{ID: uuid.New(), OrderID: uuid.New(), Status: domain.JobStatusProcessing, Attempts: 1, MaxAttempts: 3}
	f.jobs.Jobs[queued.ID] = queued
	f.jobs.Jobs[running.ID] = running

	resp := f.do(t, http.MethodGet, "/api/ops/jobs/"+running.ID.String(), "", auth)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "PROCESSING", decodeBody[JobResponseDTO](t, resp).Status)

	resp = f.do(t, http.MethodPost, "/api/ops/jobs/"+queued.ID.String()+"/cancel", "", auth)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decodeBody[JobResponseDTO](t, resp)
	assert.Equal(t, "FAILED", got.Status)
	assert.Equal(t, domain.CancelledReason, got.LastError)

	resp = f.do(t, http.MethodPost, "/api/ops/jobs/"+running.ID.String()+"/cancel", "", auth)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

func TestHealth_DatabaseDown(t *testing.T) {
	log := zap.NewNop()
	handler := NewRouter(RouterConfig{RequestTimeout: time.Second, MaxBodyBytes: 1024}, Handlers{
		Orders:  NewOrdersHandler(&MockOrderService{}, "INR", time.Second, log),
		Webhook: NewWebhookHandler(&MockReconciler{}, 1024, time.Second, log),
		Cart:    NewCartHandler(NewMockCartService(), time.Second, log),
		Ops:     NewOpsHandler(&MockJobAdmin{}, time.Second, log),
		DB:      failingPinger{},
	}, log)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
