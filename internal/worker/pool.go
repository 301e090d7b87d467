// Package worker runs the kiosk's print loop: claim a job, print it, report back.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qopy/kiosk/internal/domain"
	"github.com/qopy/kiosk/internal/queue"
	"go.uber.org/zap"
)

const reportTimeout = 10 * time.Second

type JobSource interface {
	Dequeue(ctx context.Context, workerID string) (*domain.PrintJob, error)
	Ack(ctx context.Context, job *domain.PrintJob) error
	Fail(ctx context.Context, job *domain.PrintJob, reason string) error
}

type Printer interface {
	Print(ctx context.Context, job *domain.PrintJob) (string, error)
}

type Ledger interface {
	Begin(ctx context.Context, jobID, orderID uuid.UUID, attempt int, now time.Time) error
	MarkPrinted(ctx context.Context, jobID uuid.UUID, spoolFile string, now time.Time) error
	Printed(ctx context.Context, jobID uuid.UUID) (bool, error)
}

type Config struct {
	ID           string
	Concurrency  int
	PollInterval time.Duration
}

type Pool struct {
	jobs    JobSource
	printer Printer
	ledger  Ledger
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time
}

func NewPool(jobs JobSource, printer Printer, ledger Ledger, cfg Config, log *zap.Logger) *Pool {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Pool{
		jobs:    jobs,
		printer: printer,
		ledger:  ledger,
		cfg:     cfg,
		logger:  log.Named("worker"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run starts Concurrency workers and blocks until ctx is cancelled and every
// worker has finished its current job.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := range p.cfg.Concurrency {
		workerID := fmt.Sprintf("%s-%d", p.cfg.ID, i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.loop(ctx, workerID)
		}()
	}
	wg.Wait()
}

func (p *Pool) loop(ctx context.Context, workerID string) {
	log := p.logger.With(zap.String("worker_id", workerID))
	log.Info("worker started")
	defer log.Info("worker stopped")

	for ctx.Err() == nil {
		processed, err := p.ProcessOne(ctx, workerID)
		if err != nil && ctx.Err() == nil {
			log.Error("worker iteration failed", zap.Error(err))
		}
		if processed {
			continue
		}

		timer := time.NewTimer(p.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// ProcessOne claims and handles at most one job. It reports whether a job was claimed.
func (p *Pool) ProcessOne(ctx context.Context, workerID string) (bool, error) {
	job, err := p.jobs.Dequeue(ctx, workerID)
	if errors.Is(err, queue.ErrNoJob) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	log := p.logger.With(
		zap.String("worker_id", workerID),
		zap.String("job_id", job.ID.String()),
		zap.String("order_id", job.OrderID.String()),
		zap.Int("attempt", job.Attempts))

	// Ack and Fail still run after shutdown starts.
	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer cancel()

	printed, err := p.ledger.Printed(ctx, job.ID)
	if err != nil {
		log.Warn("ledger lookup failed, printing anyway", zap.Error(err))
	}
	if printed {
		log.Info("job already printed on this kiosk, acknowledging")
		return true, p.ack(reportCtx, log, job)
	}

	if err := p.ledger.Begin(ctx, job.ID, job.OrderID, job.Attempts, p.now()); err != nil {
		if ctx.Err() != nil {
			p.abandon(log, job)
			return true, nil
		}
		return true, p.fail(reportCtx, log, job, fmt.Sprintf("ledger: %v", err))
	}

	printCtx, printCancel := p.printContext(ctx, job)
	spoolFile, err := p.printer.Print(printCtx, job)
	printCancel()
	if err != nil {
		if ctx.Err() != nil {
			p.abandon(log, job)
			return true, nil
		}
		return true, p.fail(reportCtx, log, job, err.Error())
	}

	if err := p.ledger.MarkPrinted(reportCtx, job.ID, spoolFile, p.now()); err != nil {
		log.Error("failed to record print in ledger", zap.Error(err))
	}
	log.Info("job printed", zap.String("spool_file", spoolFile))
	return true, p.ack(reportCtx, log, job)
}

// printContext bounds the print by the job's lease.
func (p *Pool) printContext(ctx context.Context, job *domain.PrintJob) (context.Context, context.CancelFunc) {
	if job.LeaseExpiresAt == nil {
		return context.WithCancel(ctx)
	}
	return context.WithDeadline(ctx, *job.LeaseExpiresAt)
}

// abandon leaves a job interrupted by shutdown in PROCESSING. The reaper returns
// it to the queue once the lease lapses; a shutdown is not a print failure.
func (p *Pool) abandon(log *zap.Logger, job *domain.PrintJob) {
	fields := []zap.Field{}
	if job.LeaseExpiresAt != nil {
		fields = append(fields, zap.Time("lease_expires_at", *job.LeaseExpiresAt))
	}
	log.Warn("shutdown interrupted job, leaving it for lease reclaim", fields...)
}

func (p *Pool) ack(ctx context.Context, log *zap.Logger, job *domain.PrintJob) error {
	err := p.jobs.Ack(ctx, job)
	if errors.Is(err, queue.ErrJobNotInFlight) {
		log.Warn("lease lost before ack, job will be redelivered and skipped by the ledger")
		return nil
	}
	return err
}

func (p *Pool) fail(ctx context.Context, log *zap.Logger, job *domain.PrintJob, reason string) error {
	log.Warn("print attempt failed", zap.String("reason", reason))
	err := p.jobs.Fail(ctx, job, reason)
	switch {
	case errors.Is(err, queue.ErrJobExhausted):
		return nil
	case errors.Is(err, queue.ErrJobNotInFlight):
		log.Warn("lease lost before failure was recorded")
		return nil
	}
	return err
}
