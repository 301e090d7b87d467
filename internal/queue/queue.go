// Package queue is the durable print job queue. Jobs live in Postgres; every
// state change is a compare-and-set on the job's status and attempt number.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/qopy/kiosk/internal/domain"
	"github.com/qopy/kiosk/internal/repository"
	"go.uber.org/zap"
)

const (
	DefaultMaxAttempts       = 3
	DefaultBaseDelay         = time.Second
	DefaultVisibilityTimeout = 5 * time.Minute
	DefaultOpTimeout         = 10 * time.Second

	reclaimBatch = 100
	maxShift     = 20
)

// Store is the persistence the queue needs. *repository.Repository satisfies it.
type Store interface {
	InsertJob(ctx context.Context, job *domain.PrintJob) error
	GetJob(ctx context.Context, id uuid.UUID) (*domain.PrintJob, error)
	ClaimNextJob(ctx context.Context, workerID string, now, leaseUntil time.Time) (*domain.PrintJob, error)
	CompleteJob(ctx context.Context, id uuid.UUID, attempt int, now time.Time) (*domain.PrintJob, error)
	RequeueJob(ctx context.Context, id uuid.UUID, attempt int, availableAt time.Time, reason string, now time.Time) (*domain.PrintJob, error)
	FailJob(ctx context.Context, id uuid.UUID, attempt int, reason string, now time.Time) (*domain.PrintJob, error)
	CancelJob(ctx context.Context, id uuid.UUID, now time.Time) (*domain.PrintJob, error)
	ReclaimExpiredLeases(ctx context.Context, now time.Time, limit int) ([]*domain.PrintJob, error)
}

type Config struct {
	MaxAttempts       int
	BaseDelay         time.Duration
	VisibilityTimeout time.Duration
	OpTimeout         time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:       DefaultMaxAttempts,
		BaseDelay:         DefaultBaseDelay,
		VisibilityTimeout: DefaultVisibilityTimeout,
		OpTimeout:         DefaultOpTimeout,
	}
}

type Queue struct {
	store  Store
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

func New(store Store, cfg Config, logger *zap.Logger) *Queue {
	def := DefaultConfig()
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = def.VisibilityTimeout
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = def.OpTimeout
	}
	return &Queue{
		store:  store,
		cfg:    cfg,
		logger: logger.Named("queue"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source.
func (q *Queue) WithClock(now func() time.Time) *Queue {
	q.now = now
	return q
}

// Backoff is the delay before retry after the given number of attempts:
// base, 2*base, 4*base, ...
func (q *Queue) Backoff(attempts int) time.Duration {
	shift := max(attempts-1, 0)
	if shift > maxShift {
		shift = maxShift
	}
	return q.cfg.BaseDelay * time.Duration(1<<shift)
}

func (q *Queue) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, q.cfg.OpTimeout)
}

// Enqueue adds a job for orderID. A second job for the same order fails with ErrDuplicateJob.
func (q *Queue) Enqueue(ctx context.Context, orderID uuid.UUID, payload domain.JobPayload) (*domain.PrintJob, error) {
	ctx, cancel := q.opContext(ctx)
	defer cancel()

	now := q.now()
	job := &domain.PrintJob{
		ID:          uuid.New(),
		OrderID:     orderID,
		Payload:     payload,
		MaxAttempts: q.cfg.MaxAttempts,
		Status:      domain.JobStatusQueued,
		AvailableAt: now,
		CreatedAt:   now,
	}
	if err := q.store.InsertJob(ctx, job); err != nil {
		if errors.Is(err, ErrDuplicateJob) || errors.Is(err, repository.ErrOrderNotFound) {
			return nil, err
		}
		return nil, unavailable("enqueue", err)
	}

	q.logger.Info("job enqueued",
		zap.String("job_id", job.ID.String()),
		zap.String("order_id", orderID.String()))
	return job, nil
}

// Dequeue leases the next available job to workerID for the visibility timeout.
func (q *Queue) Dequeue(ctx context.Context, workerID string) (*domain.PrintJob, error) {
	ctx, cancel := q.opContext(ctx)
	defer cancel()

	now := q.now()
	job, err := q.store.ClaimNextJob(ctx, workerID, now, now.Add(q.cfg.VisibilityTimeout))
	if errors.Is(err, repository.ErrNoJobAvailable) {
		return nil, ErrNoJob
	}
	if err != nil {
		return nil, unavailable("dequeue", err)
	}
	return job, nil
}

// Ack marks the leased job DONE. It fails with ErrJobNotInFlight when the lease
// was lost to the reaper or another attempt.
func (q *Queue) Ack(ctx context.Context, job *domain.PrintJob) error {
	ctx, cancel := q.opContext(ctx)
	defer cancel()

	done, err := q.store.CompleteJob(ctx, job.ID, job.Attempts, q.now())
	if errors.Is(err, repository.ErrNoTransition) {
		return ErrJobNotInFlight
	}
	if err != nil {
		return unavailable("ack", err)
	}

	*job = *done
	q.logger.Info("job done",
		zap.String("job_id", job.ID.String()),
		zap.Int("attempts", job.Attempts))
	return nil
}

// Fail records a failed attempt. With attempts left the job goes back to QUEUED
// after the backoff; otherwise it becomes FAILED and ErrJobExhausted is returned.
func (q *Queue) Fail(ctx context.Context, job *domain.PrintJob, reason string) error {
	ctx, cancel := q.opContext(ctx)
	defer cancel()

	now := q.now()
	if job.AttemptsLeft() {
		delay := q.Backoff(job.Attempts)
		requeued, err := q.store.RequeueJob(ctx, job.ID, job.Attempts, now.Add(delay), reason, now)
		if errors.Is(err, repository.ErrNoTransition) {
			return ErrJobNotInFlight
		}
		if err != nil {
			return unavailable("fail", err)
		}

		*job = *requeued
		q.logger.Warn("job attempt failed, retrying",
			zap.String("job_id", job.ID.String()),
			zap.Int("attempts", job.Attempts),
			zap.Duration("backoff", delay),
			zap.String("reason", reason))
		return nil
	}

	failed, err := q.store.FailJob(ctx, job.ID, job.Attempts, reason, now)
	if errors.Is(err, repository.ErrNoTransition) {
		return ErrJobNotInFlight
	}
	if err != nil {
		return unavailable("fail", err)
	}

	*job = *failed
	q.logger.Error("job failed permanently",
		zap.String("job_id", job.ID.String()),
		zap.String("order_id", job.OrderID.String()),
		zap.Int("attempts", job.Attempts),
		zap.String("reason", reason))
	return ErrJobExhausted
}

// Cancel fails a job that has not been picked up yet.
func (q *Queue) Cancel(ctx context.Context, id uuid.UUID) (*domain.PrintJob, error) {
	ctx, cancel := q.opContext(ctx)
	defer cancel()

	job, err := q.store.CancelJob(ctx, id, q.now())
	if errors.Is(err, repository.ErrNoTransition) {
		if _, getErr := q.store.GetJob(ctx, id); getErr != nil {
			if errors.Is(getErr, ErrJobNotFound) {
				return nil, ErrJobNotFound
			}
			return nil, unavailable("cancel", getErr)
		}
		return nil, ErrJobNotCancellable
	}
	if err != nil {
		return nil, unavailable("cancel", err)
	}

	q.logger.Info("job cancelled", zap.String("job_id", id.String()))
	return job, nil
}

func (q *Queue) Get(ctx context.Context, id uuid.UUID) (*domain.PrintJob, error) {
	ctx, cancel := q.opContext(ctx)
	defer cancel()

	job, err := q.store.GetJob(ctx, id)
	if errors.Is(err, ErrJobNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, unavailable("get", err)
	}
	return job, nil
}

// ReclaimExpired returns jobs whose lease lapsed to the queue and reports how many
// were requeued and how many ran out of attempts.
func (q *Queue) ReclaimExpired(ctx context.Context) (requeued, failed int, err error) {
	ctx, cancel := q.opContext(ctx)
	defer cancel()

	jobs, err := q.store.ReclaimExpiredLeases(ctx, q.now(), reclaimBatch)
	if err != nil {
		return 0, 0, unavailable("reclaim", err)
	}

	for _, job := range jobs {
		if job.Status == domain.JobStatusFailed {
			failed++
			q.logger.Error("job lease expired with no attempts left",
				zap.String("job_id", job.ID.String()),
				zap.String("order_id", job.OrderID.String()),
				zap.Int("attempts", job.Attempts))
			continue
		}
		requeued++
		q.logger.Warn("job lease expired, requeued",
			zap.String("job_id", job.ID.String()),
			zap.Int("attempts", job.Attempts))
	}
	return requeued, failed, nil
}
