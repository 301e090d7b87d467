package gateway

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnavailable covers transport failures, timeouts, 5xx and an open breaker.
	ErrUnavailable = errors.New("payment gateway unavailable")
	// ErrRejected is a 4xx answer: retrying the same request will not help.
	ErrRejected = errors.New("payment gateway rejected the request")
)

type statusError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *statusError) Error() string {
	msg := fmt.Sprintf("razorpay: http %d", e.StatusCode)
	if e.Code != "" {
		msg += " " + e.Code
	}
	if d := strings.TrimSpace(e.Description); d != "" {
		msg += ": " + d
	}
	return msg
}

func (e *statusError) Unwrap() error {
	if e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != 408 && e.StatusCode != 429 {
		return ErrRejected
	}
	return ErrUnavailable
}
