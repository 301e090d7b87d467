package service

import "errors"

var (
	ErrInvalidRequest     = errors.New("invalid request")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrGatewayRejected    = errors.New("payment gateway rejected the order")
	ErrInvalidSignature   = errors.New("invalid webhook signature")
	ErrOrderNotFound      = errors.New("order not found")
)
