package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qopy/kiosk/internal/domain"
	"github.com/qopy/kiosk/internal/repository"
)

// MemoryStore implements Store in memory with the same transition rules as Postgres.
type MemoryStore struct {
	mu      sync.Mutex
	jobs    map[uuid.UUID]*domain.PrintJob
	byOrder map[uuid.UUID]uuid.UUID
	Err     error // returned by every call when set
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:    map[uuid.UUID]*domain.PrintJob{},
		byOrder: map[uuid.UUID]uuid.UUID{},
	}
}

func (m *MemoryStore) snapshot(j *domain.PrintJob) *domain.PrintJob {
	c := *j
	return &c
}

func (m *MemoryStore) InsertJob(_ context.Context, job *domain.PrintJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if _, ok := m.byOrder[job.OrderID]; ok {
		return repository.ErrDuplicateJob
	}
	m.jobs[job.ID] = m.snapshot(job)
	m.byOrder[job.OrderID] = job.ID
	return nil
}

func (m *MemoryStore) GetJob(_ context.Context, id uuid.UUID) (*domain.PrintJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	j, ok := m.jobs[id]
	if !ok {
		return nil, repository.ErrJobNotFound
	}
	return m.snapshot(j), nil
}

func (m *MemoryStore) ClaimNextJob(_ context.Context, workerID string, now, leaseUntil time.Time) (*domain.PrintJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}

	var ready []*domain.PrintJob
	for _, j := range m.jobs {
		if j.Status == domain.JobStatusQueued && !j.AvailableAt.After(now) {
			ready = append(ready, j)
		}
	}
	if len(ready) == 0 {
		return nil, repository.ErrNoJobAvailable
	}
	sort.Slice(ready, func(a, b int) bool {
		if ready[a].AvailableAt.Equal(ready[b].AvailableAt) {
			return ready[a].CreatedAt.Before(ready[b].CreatedAt)
		}
		return ready[a].AvailableAt.Before(ready[b].AvailableAt)
	})

	j := ready[0]
	j.Status = domain.JobStatusProcessing
	j.Attempts++
	j.WorkerID = workerID
	lease := leaseUntil
	j.LeaseExpiresAt = &lease
	j.UpdatedAt = now
	return m.snapshot(j), nil
}

func (m *MemoryStore) inFlight(id uuid.UUID, attempt int) (*domain.PrintJob, error) {
	j, ok := m.jobs[id]
	if !ok || j.Status != domain.JobStatusProcessing || j.Attempts != attempt {
		return nil, repository.ErrNoTransition
	}
	return j, nil
}

func (m *MemoryStore) CompleteJob(_ context.Context, id uuid.UUID, attempt int, now time.Time) (*domain.PrintJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	j, err := m.inFlight(id, attempt)
	if err != nil {
		return nil, err
	}
	j.Status = domain.JobStatusDone
	j.LeaseExpiresAt = nil
	j.UpdatedAt = now
	return m.snapshot(j), nil
}

func (m *MemoryStore) RequeueJob(_ context.Context, id uuid.UUID, attempt int, availableAt time.Time, reason string, now time.Time) (*domain.PrintJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	j, err := m.inFlight(id, attempt)
	if err != nil || !j.AttemptsLeft() {
		return nil, repository.ErrNoTransition
	}
	j.Status = domain.JobStatusQueued
	j.AvailableAt = availableAt
	j.LastError = reason
	j.LeaseExpiresAt = nil
	j.WorkerID = ""
	j.UpdatedAt = now
	return m.snapshot(j), nil
}

func (m *MemoryStore) FailJob(_ context.Context, id uuid.UUID, attempt int, reason string, now time.Time) (*domain.PrintJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	j, err := m.inFlight(id, attempt)
	if err != nil {
		return nil, err
	}
	j.Status = domain.JobStatusFailed
	j.LastError = reason
	j.LeaseExpiresAt = nil
	j.UpdatedAt = now
	return m.snapshot(j), nil
}

func (m *MemoryStore) CancelJob(_ context.Context, id uuid.UUID, now time.Time) (*domain.PrintJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	j, ok := m.jobs[id]
	if !ok || j.Status != domain.JobStatusQueued {
		return nil, repository.ErrNoTransition
	}
	j.Status = domain.JobStatusFailed
	j.LastError = domain.CancelledReason
	j.UpdatedAt = now
	return m.snapshot(j), nil
}

func (m *MemoryStore) ReclaimExpiredLeases(_ context.Context, now time.Time, limit int) ([]*domain.PrintJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}

	var out []*domain.PrintJob
	for _, j := range m.jobs {
		if len(out) == limit {
			break
		}
		if j.Status != domain.JobStatusProcessing || j.LeaseExpiresAt == nil || j.LeaseExpiresAt.After(now) {
			continue
		}
		if j.AttemptsLeft() {
			j.Status = domain.JobStatusQueued
		} else {
			j.Status = domain.JobStatusFailed
		}
		j.LastError = repository.LeaseExpiredReason
		j.AvailableAt = now
		j.LeaseExpiresAt = nil
		j.UpdatedAt = now
		out = append(out, m.snapshot(j))
	}
	return out, nil
}
