// Package cart keeps each guest's kiosk cart between page loads: MongoDB is the
// store of record and Redis caches reads.
package cart

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync/atomic"
	"time"

	"github.com/qopy/kiosk/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var ErrInvalidCart = errors.New("invalid cart")

const generationStripes = 256

type Service struct {
	repo   Repository
	cache  Cache
	logger *zap.Logger
	sfg    singleflight.Group
	// gens is bumped on every write to a guest's cart. A cache fill whose read
	// predates the bump is dropped. Guests share stripes; a collision only skips a fill.
	gens [generationStripes]atomic.Uint64
}

func NewService(repo Repository, cache Cache, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		cache:  cache,
		logger: logger.Named("cart"),
	}
}

// GetCart returns the stored cart, or an empty one when the guest has none.
// Concurrent misses for the same guest share one store read.
func (s *Service) GetCart(ctx context.Context, guestID string) (*domain.Cart, error) {
	v, err, _ := s.sfg.Do(guestID, func() (any, error) {
		gen := s.generation(guestID).Load()

		cart, err := s.cache.Get(ctx, guestID)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			s.logger.Warn("cache get error", zap.String("guest_id", guestID), zap.Error(err))
		}

		cart, err = s.repo.GetCart(ctx, guestID)
		if errors.Is(err, ErrCartNotFound) {
			now := time.Now().UTC()
			return &domain.Cart{GuestID: guestID, CreatedAt: now, UpdatedAt: now}, nil
		}
		if err != nil {
			return nil, err
		}

		go s.fill(guestID, cart, gen)
		return cart, nil
	})
	if err != nil {
		return nil, err
	}

	c := *v.(*domain.Cart)
	return &c, nil
}

// PutCart replaces the guest's cart after validating every line item.
func (s *Service) PutCart(ctx context.Context, guestID string, cart domain.Cart) (*domain.Cart, error) {
	if err := cart.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCart, err)
	}
	cart.GuestID = guestID
	cart.ID = ""

	if err := s.repo.UpsertCart(ctx, &cart); err != nil {
		return nil, err
	}
	s.invalidate(guestID)
	return &cart, nil
}

// ClearCart removes the guest's cart. Clearing an absent cart is not an error.
func (s *Service) ClearCart(ctx context.Context, guestID string) error {
	err := s.repo.DeleteCart(ctx, guestID)
	if err != nil && !errors.Is(err, ErrCartNotFound) {
		return err
	}
	s.invalidate(guestID)
	return nil
}

func (s *Service) generation(guestID string) *atomic.Uint64 {
	h := fnv.New32a()
	h.Write([]byte(guestID))
	return &s.gens[h.Sum32()%generationStripes]
}

// fill caches a cart read at generation gen unless a write has happened since.
// A write that lands between the check and the Set is caught by the second check.
func (s *Service) fill(guestID string, cart *domain.Cart, gen uint64) {
	g := s.generation(guestID)
	if g.Load() != gen {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Set(ctx, guestID, cart); err != nil {
		s.logger.Warn("cache set error", zap.String("guest_id", guestID), zap.Error(err))
		return
	}
	if g.Load() != gen {
		if err := s.cache.Delete(ctx, guestID); err != nil {
			s.logger.Warn("cache invalidate error", zap.String("guest_id", guestID), zap.Error(err))
		}
	}
}

func (s *Service) invalidate(guestID string) {
	s.generation(guestID).Add(1)
	s.sfg.Forget(guestID)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, guestID); err != nil {
		s.logger.Warn("cache invalidate error", zap.String("guest_id", guestID), zap.Error(err))
	}
}
