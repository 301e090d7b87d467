// Package gateway talks to the Razorpay orders API.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/qopy/kiosk/pkg/circuitbreaker"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "https://api.razorpay.com"

	defaultTimeout        = 10 * time.Second
	defaultMaxAttempts    = 2
	defaultRetryBaseDelay = 200 * time.Millisecond
	maxErrorBody          = 4 << 10
)

type Config struct {
	KeyID       string
	KeySecret   string
	BaseURL     string
	Timeout     time.Duration
	MaxAttempts int
}

type CreateOrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

// Order is the gateway's view of an order. Amount is in minor units.
type Order struct {
	ID       string `json:"id"`
	Entity   string `json:"entity"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*Order]
	logger     *zap.Logger

	retryBaseDelay time.Duration
	sleep          func(ctx context.Context, d time.Duration) error
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithRetryBaseDelay(d time.Duration) Option {
	return func(c *Client) {
		c.retryBaseDelay = d
	}
}

func WithBreaker(cfg circuitbreaker.Config) Option {
	return func(c *Client) {
		cfg.IsSuccessful = countsAsHealthy
		c.breaker = circuitbreaker.New[*Order](cfg, c.logger)
	}
}

func NewClient(cfg Config, logger *zap.Logger, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	c := &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger:         logger.Named("gateway"),
		retryBaseDelay: defaultRetryBaseDelay,
		sleep:          sleepContext,
	}
	bcfg := circuitbreaker.DefaultConfig("razorpay")
	bcfg.IsSuccessful = countsAsHealthy
	c.breaker = circuitbreaker.New[*Order](bcfg, c.logger)

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// countsAsHealthy keeps rejected requests from tripping the breaker: the
// gateway answered, the request was just bad.
func countsAsHealthy(err error) bool {
	return err == nil || errors.Is(err, ErrRejected)
}

// CreateOrder registers an order with the gateway. Transient failures are retried
// up to MaxAttempts with exponential backoff; rejections and an open breaker are not.
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrRejected)
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		order, err := c.breaker.Execute(func() (*Order, error) {
			return c.createOrder(ctx, req)
		})
		if err == nil {
			return order, nil
		}
		if circuitbreaker.IsOpen(err) {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		if errors.Is(err, ErrRejected) {
			return nil, err
		}

		lastErr = err
		c.logger.Warn("gateway create order failed",
			zap.Int("attempt", attempt),
			zap.String("receipt", req.Receipt),
			zap.Error(err))

		if attempt < c.cfg.MaxAttempts {
			delay := c.retryBaseDelay * time.Duration(1<<(attempt-1))
			if err := c.sleep(ctx, delay); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
			}
		}
	}
	return nil, lastErr
}

func (c *Client) createOrder(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %w", ErrRejected, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", ErrRejected, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(c.cfg.KeyID, c.cfg.KeySecret)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, decodeError(resp)
	}

	var order Order
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrUnavailable, err)
	}
	if order.ID == "" {
		return nil, fmt.Errorf("%w: response has no order id", ErrUnavailable)
	}
	return &order, nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var payload struct {
		Error struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	}
	serr := &statusError{StatusCode: resp.StatusCode}
	if json.Unmarshal(raw, &payload) == nil && payload.Error.Code != "" {
		serr.Code = payload.Error.Code
		serr.Description = payload.Error.Description
	} else {
		serr.Description = string(raw)
	}
	return serr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
