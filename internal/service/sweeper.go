package service

import (
	"context"
	"errors"
	"time"

	"github.com/qopy/kiosk/internal/queue"
	"go.uber.org/zap"
)

const sweepBatch = 100

// Sweeper repairs what the webhook path can leave behind: paid orders whose job
// was never enqueued, and pending orders the guest abandoned.
type Sweeper struct {
	orders     OrderStore
	queue      JobQueue
	pendingTTL time.Duration
	interval   time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

func NewSweeper(orders OrderStore, q JobQueue, pendingTTL, interval time.Duration, log *zap.Logger) *Sweeper {
	return &Sweeper{
		orders:     orders,
		queue:      q,
		pendingTTL: pendingTTL,
		interval:   interval,
		logger:     log.Named("sweeper"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.RecoverPaidOrders(ctx)
			s.ExpirePendingOrders(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RecoverPaidOrders enqueues jobs for PAID orders that have none. Orders paid
// within the last interval are left to the webhook that is still handling them.
func (s *Sweeper) RecoverPaidOrders(ctx context.Context) int {
	orders, err := s.orders.ListPaidOrdersWithoutJob(ctx, s.now().Add(-s.interval), sweepBatch)
	if err != nil {
		s.logger.Error("failed to list paid orders without job", zap.Error(err))
		return 0
	}

	recovered := 0
	for _, order := range orders {
		_, err := s.queue.Enqueue(ctx, order.ID, order.JobPayload())
		if err != nil && !errors.Is(err, queue.ErrDuplicateJob) {
			s.logger.Error("failed to enqueue recovered order",
				zap.String("order_id", order.ID.String()), zap.Error(err))
			continue
		}
		recovered++
		s.logger.Info("recovered paid order without print job", zap.String("order_id", order.ID.String()))
	}
	return recovered
}

// ExpirePendingOrders fails PENDING orders older than the pending TTL.
func (s *Sweeper) ExpirePendingOrders(ctx context.Context) int {
	expired, err := s.orders.ExpirePendingOrders(ctx, s.now().Add(-s.pendingTTL), sweepBatch)
	if err != nil {
		s.logger.Error("failed to expire pending orders", zap.Error(err))
		return 0
	}
	for _, order := range expired {
		s.logger.Info("pending order expired",
			zap.String("order_id", order.ID.String()),
			zap.String("gateway_order_id", order.GatewayOrderID))
	}
	return len(expired)
}
