package config

import (
	"errors"
	"fmt"
)

// ValidateAPI checks the settings the HTTP API cannot start without.
func (c *Config) ValidateAPI() error {
	var errs []error
	if c.Gateway.KeyID == "" || c.Gateway.KeySecret == "" {
		errs = append(errs, errors.New("RAZORPAY_KEY_ID and RAZORPAY_KEY_SECRET are required"))
	}
	if c.Gateway.WebhookSecret == "" {
		errs = append(errs, errors.New("RAZORPAY_WEBHOOK_SECRET is required"))
	}
	if c.Gateway.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("GATEWAY_MAX_ATTEMPTS must be at least 1, got %d", c.Gateway.MaxAttempts))
	}
	if c.Pricing.MinorUnitMultiplier < 1 {
		errs = append(errs, fmt.Errorf("MINOR_UNIT_MULTIPLIER must be positive, got %d", c.Pricing.MinorUnitMultiplier))
	}
	if c.Pricing.SheetPrice < 1 || c.Pricing.BindingKitPrice < 0 {
		errs = append(errs, errors.New("PRICE_PER_SHEET must be positive and PRICE_PER_BINDING_KIT non-negative"))
	}
	if c.PendingOrderTTL <= 0 || c.SweepInterval <= 0 {
		errs = append(errs, errors.New("ORDER_PENDING_TTL and SWEEP_INTERVAL must be positive"))
	}
	errs = append(errs, c.validateQueue()...)
	return errors.Join(errs...)
}

// ValidateWorker checks the settings the print worker cannot start without.
func (c *Config) ValidateWorker() error {
	var errs []error
	if c.Worker.ID == "" {
		errs = append(errs, errors.New("WORKER_ID is required"))
	}
	if c.Worker.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", c.Worker.Concurrency))
	}
	if c.Worker.PollInterval <= 0 {
		errs = append(errs, errors.New("WORKER_POLL_INTERVAL must be positive"))
	}
	if c.Worker.HotFolder == "" {
		errs = append(errs, errors.New("PRINTER_HOT_FOLDER is required"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL must be positive"))
	}
	errs = append(errs, c.validateQueue()...)
	return errors.Join(errs...)
}

func (c *Config) validateQueue() []error {
	var errs []error
	if c.Queue.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("QUEUE_MAX_ATTEMPTS must be at least 1, got %d", c.Queue.MaxAttempts))
	}
	if c.Queue.BaseDelay <= 0 {
		errs = append(errs, errors.New("QUEUE_BASE_DELAY must be positive"))
	}
	if c.Queue.VisibilityTimeout <= 0 || c.Queue.OpTimeout <= 0 {
		errs = append(errs, errors.New("QUEUE_VISIBILITY_TIMEOUT and QUEUE_OP_TIMEOUT must be positive"))
	}
	return errs
}
