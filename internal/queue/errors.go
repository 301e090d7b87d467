package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/qopy/kiosk/internal/repository"
)

var (
	ErrDuplicateJob      = repository.ErrDuplicateJob
	ErrJobNotFound       = repository.ErrJobNotFound
	ErrNoJob             = errors.New("no job available")
	ErrQueueUnavailable  = errors.New("print queue unavailable")
	ErrJobExhausted      = errors.New("print job exhausted its attempts")
	ErrJobNotInFlight    = errors.New("print job is not held by this attempt")
	ErrJobNotCancellable = errors.New("print job is no longer queued")
)

// unavailable classifies a store failure that is not one of the store's own
// outcomes. Deadlines and broken connections land here as well.
func unavailable(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrQueueUnavailable, err)
}
