package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qopy/kiosk/internal/domain"
	"github.com/qopy/kiosk/internal/queue"
)

// MockJobSource hands out queued jobs and records what the pool reported.
type MockJobSource struct {
	mu      sync.Mutex
	Pending []*domain.PrintJob
	Acked   []uuid.UUID
	Failed  map[uuid.UUID][]string
	AckErr  error
	FailErr error
}

func NewMockJobSource(jobs ...*domain.PrintJob) *MockJobSource {
	return &MockJobSource{Pending: jobs, Failed: map[uuid.UUID][]string{}}
}

func (m *MockJobSource) Dequeue(_ context.Context, workerID string) (*domain.PrintJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Pending) == 0 {
		return nil, queue.ErrNoJob
	}
	job := m.Pending[0]
	m.Pending = m.Pending[1:]
	job.Attempts++
	job.Status = domain.JobStatusProcessing
	job.WorkerID = workerID
	lease := time.Now().Add(time.Minute)
	job.LeaseExpiresAt = &lease
	return job, nil
}

func (m *MockJobSource) Ack(_ context.Context, job *domain.PrintJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AckErr != nil {
		return m.AckErr
	}
	m.Acked = append(m.Acked, job.ID)
	job.Status = domain.JobStatusDone
	return nil
}

func (m *MockJobSource) Fail(_ context.Context, job *domain.PrintJob, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailErr != nil {
		return m.FailErr
	}
	m.Failed[job.ID] = append(m.Failed[job.ID], reason)
	if job.AttemptsLeft() {
		job.Status = domain.JobStatusQueued
		m.Pending = append(m.Pending, job)
		return nil
	}
	job.Status = domain.JobStatusFailed
	return queue.ErrJobExhausted
}

func (m *MockJobSource) AckedIDs() []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uuid.UUID(nil), m.Acked...)
}

// MockPrinter fails the first FailTimes calls per job.
type MockPrinter struct {
	mu        sync.Mutex
	FailTimes int
	calls     map[uuid.UUID]int
	Printed   []uuid.UUID
}

func NewMockPrinter(failTimes int) *MockPrinter {
	return &MockPrinter{FailTimes: failTimes, calls: map[uuid.UUID]int{}}
}

func (m *MockPrinter) Print(_ context.Context, job *domain.PrintJob) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[job.ID]++
	if m.calls[job.ID] <= m.FailTimes {
		return "", errPaperJam
	}
	m.Printed = append(m.Printed, job.ID)
	return "/spool/" + job.ID.String() + ".json", nil
}

func (m *MockPrinter) PrintedIDs() []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uuid.UUID(nil), m.Printed...)
}
