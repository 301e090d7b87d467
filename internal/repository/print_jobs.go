package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qopy/kiosk/internal/domain"
)

// LeaseExpiredReason is recorded on jobs that ran out of attempts while their lease lapsed.
const LeaseExpiredReason = "lease expired"

type PrintJobRepository interface {
	InsertJob(ctx context.Context, job *domain.PrintJob) error
	GetJob(ctx context.Context, id uuid.UUID) (*domain.PrintJob, error)
	ClaimNextJob(ctx context.Context, workerID string, now, leaseUntil time.Time) (*domain.PrintJob, error)
	CompleteJob(ctx context.Context, id uuid.UUID, attempt int, now time.Time) (*domain.PrintJob, error)
	RequeueJob(ctx context.Context, id uuid.UUID, attempt int, availableAt time.Time, reason string, now time.Time) (*domain.PrintJob, error)
	FailJob(ctx context.Context, id uuid.UUID, attempt int, reason string, now time.Time) (*domain.PrintJob, error)
	CancelJob(ctx context.Context, id uuid.UUID, now time.Time) (*domain.PrintJob, error)
	ReclaimExpiredLeases(ctx context.Context, now time.Time, limit int) ([]*domain.PrintJob, error)
}

const jobColumns = `id, order_id, payload, attempts, max_attempts, status, last_error, worker_id,
	available_at, lease_expires_at, created_at, updated_at`

func (r *Repository) InsertJob(ctx context.Context, job *domain.PrintJob) error {
	payloadJSON, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal job payload: %w", err)
	}

	query := `INSERT INTO print_jobs (id, order_id, payload, attempts, max_attempts, status, available_at, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`

	_, insertErr := r.db.ExecContext(ctx, query,
		job.ID,
		job.OrderID,
		payloadJSON,
		job.Attempts,
		job.MaxAttempts,
		job.Status,
		job.AvailableAt,
		job.CreatedAt)

	if insertErr != nil {
		switch pqCode(insertErr) {
		case pgUniqueViolation:
			return ErrDuplicateJob
		case pgForeignKeyViolation:
			return ErrOrderNotFound
		}
		return fmt.Errorf("insert print job: %w", insertErr)
	}
	job.UpdatedAt = job.CreatedAt
	return nil
}

func (r *Repository) GetJob(ctx context.Context, id uuid.UUID) (*domain.PrintJob, error) {
	return r.getJob(ctx, `SELECT `+jobColumns+` FROM print_jobs WHERE id = $1`, id)
}

func (r *Repository) getJob(ctx context.Context, query string, arg any) (*domain.PrintJob, error) {
	job, err := scanJob(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query print job: %w", err)
	}
	return job, nil
}

// ClaimNextJob leases the oldest available queued job to workerID. Competing
// workers skip rows another transaction already holds, so a job goes to one claimer.
func (r *Repository) ClaimNextJob(ctx context.Context, workerID string, now, leaseUntil time.Time) (*domain.PrintJob, error) {
	query := `UPDATE print_jobs
	          SET status = $1, attempts = attempts + 1, worker_id = $2, lease_expires_at = $3, updated_at = $4
	          WHERE id = (
	              SELECT id FROM print_jobs
	              WHERE status = $5 AND available_at <= $4
	              ORDER BY available_at, created_at
	              LIMIT 1
	              FOR UPDATE SKIP LOCKED)
	          RETURNING ` + jobColumns

	job, err := scanJob(r.db.QueryRowContext(ctx, query,
		domain.JobStatusProcessing,
		workerID,
		leaseUntil,
		now,
		domain.JobStatusQueued))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoJobAvailable
	}
	if err != nil {
		return nil, fmt.Errorf("claim print job: %w", err)
	}
	return job, nil
}

// CompleteJob moves an in-flight job to DONE. attempt fences out a worker whose
// lease expired and whose job has since been claimed again.
func (r *Repository) CompleteJob(ctx context.Context, id uuid.UUID, attempt int, now time.Time) (*domain.PrintJob, error) {
	var job *domain.PrintJob
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		query := `UPDATE print_jobs
		          SET status = $1, lease_expires_at = NULL, updated_at = $2
		          WHERE id = $3 AND status = $4 AND attempts = $5
		          RETURNING ` + jobColumns

		j, err := scanJob(tx.QueryRowContext(ctx, query,
			domain.JobStatusDone, now, id, domain.JobStatusProcessing, attempt))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNoTransition
		}
		if err != nil {
			return fmt.Errorf("complete print job: %w", err)
		}
		job = j
		return insertJobEvent(ctx, tx, j, domain.EventPrintJobDone, now)
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (r *Repository) RequeueJob(ctx context.Context, id uuid.UUID, attempt int, availableAt time.Time, reason string, now time.Time) (*domain.PrintJob, error) {
	query := `UPDATE print_jobs
	          SET status = $1, available_at = $2, last_error = $3, lease_expires_at = NULL, worker_id = '', updated_at = $4
	          WHERE id = $5 AND status = $6 AND attempts = $7 AND attempts < max_attempts
	          RETURNING ` + jobColumns

	job, err := scanJob(r.db.QueryRowContext(ctx, query,
		domain.JobStatusQueued,
		availableAt,
		reason,
		now,
		id,
		domain.JobStatusProcessing,
		attempt))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoTransition
	}
	if err != nil {
		return nil, fmt.Errorf("requeue print job: %w", err)
	}
	return job, nil
}

func (r *Repository) FailJob(ctx context.Context, id uuid.UUID, attempt int, reason string, now time.Time) (*domain.PrintJob, error) {
	query := `UPDATE print_jobs
	          SET status = $1, last_error = $2, lease_expires_at = NULL, updated_at = $3
	          WHERE id = $4 AND status = $5 AND attempts = $6
	          RETURNING ` + jobColumns
	return r.failWith(ctx, now, query,
		domain.JobStatusFailed, reason, now, id, domain.JobStatusProcessing, attempt)
}

// CancelJob withdraws a job that no worker has picked up yet.
func (r *Repository) CancelJob(ctx context.Context, id uuid.UUID, now time.Time) (*domain.PrintJob, error) {
	query := `UPDATE print_jobs
	          SET status = $1, last_error = $2, updated_at = $3
	          WHERE id = $4 AND status = $5
	          RETURNING ` + jobColumns
	return r.failWith(ctx, now, query,
		domain.JobStatusFailed, domain.CancelledReason, now, id, domain.JobStatusQueued)
}

func (r *Repository) failWith(ctx context.Context, now time.Time, query string, args ...any) (*domain.PrintJob, error) {
	var job *domain.PrintJob
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		j, err := scanJob(tx.QueryRowContext(ctx, query, args...))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNoTransition
		}
		if err != nil {
			return fmt.Errorf("fail print job: %w", err)
		}
		job = j
		return insertJobEvent(ctx, tx, j, domain.EventPrintJobFailed, now)
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ReclaimExpiredLeases returns in-flight jobs whose lease lapsed to the queue.
// Jobs with no attempts left fail instead. The returned jobs carry their new status.
func (r *Repository) ReclaimExpiredLeases(ctx context.Context, now time.Time, limit int) ([]*domain.PrintJob, error) {
	var reclaimed []*domain.PrintJob
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		query := `UPDATE print_jobs
		          SET status = CASE WHEN attempts < max_attempts THEN $1 ELSE $2 END,
		              last_error = $3,
		              available_at = $4,
		              lease_expires_at = NULL,
		              updated_at = $4
		          WHERE id IN (
		              SELECT id FROM print_jobs
		              WHERE status = $5 AND lease_expires_at <= $4
		              ORDER BY lease_expires_at
		              LIMIT $6
		              FOR UPDATE SKIP LOCKED)
		          RETURNING ` + jobColumns

		rows, err := tx.QueryContext(ctx, query,
			domain.JobStatusQueued,
			domain.JobStatusFailed,
			LeaseExpiredReason,
			now,
			domain.JobStatusProcessing,
			limit)
		if err != nil {
			return fmt.Errorf("reclaim expired leases: %w", err)
		}
		reclaimed, err = collectJobs(rows)
		if err != nil {
			return err
		}

		for _, j := range reclaimed {
			if j.Status != domain.JobStatusFailed {
				continue
			}
			if err := insertJobEvent(ctx, tx, j, domain.EventPrintJobFailed, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reclaimed, nil
}

func insertJobEvent(ctx context.Context, tx *sql.Tx, job *domain.PrintJob, eventType string, now time.Time) error {
	event := domain.PrintJobEvent{
		JobID:      job.ID,
		OrderID:    job.OrderID,
		Status:     job.Status,
		Attempts:   job.Attempts,
		Reason:     job.LastError,
		WorkerID:   job.WorkerID,
		OccurredAt: now,
	}
	return insertOutboxEvent(ctx, tx, job.OrderID.String(), eventType, event)
}

func collectJobs(rows *sql.Rows) ([]*domain.PrintJob, error) {
	defer rows.Close()

	var jobs []*domain.PrintJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan print job row: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return jobs, nil
}

func scanJob(row rowScanner) (*domain.PrintJob, error) {
	var (
		job         domain.PrintJob
		payloadJSON []byte
		leaseUntil  sql.NullTime
	)
	if err := row.Scan(
		&job.ID,
		&job.OrderID,
		&payloadJSON,
		&job.Attempts,
		&job.MaxAttempts,
		&job.Status,
		&job.LastError,
		&job.WorkerID,
		&job.AvailableAt,
		&leaseUntil,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(payloadJSON, &job.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal job payload: %w", err)
	}
	if leaseUntil.Valid {
		t := leaseUntil.Time
		job.LeaseExpiresAt = &t
	}
	return &job, nil
}
