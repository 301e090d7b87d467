package queue

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunReaper reclaims expired leases every interval until ctx is done.
func (q *Queue) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, _, err := q.ReclaimExpired(ctx); err != nil && ctx.Err() == nil {
				q.logger.Error("failed to reclaim expired leases", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}
