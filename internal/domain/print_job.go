package domain

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusQueued     JobStatus = "QUEUED"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusDone       JobStatus = "DONE"
	JobStatusFailed     JobStatus = "FAILED"
)

func (s JobStatus) IsTerminal() bool {
	return s == JobStatusDone || s == JobStatusFailed
}

func (s JobStatus) String() string {
	return string(s)
}

// CancelledReason marks a job withdrawn while still queued.
const CancelledReason = "cancelled"

type JobPayload struct {
	OrderID     uuid.UUID  `json:"orderId"`
	PrinterID   string     `json:"printerId,omitempty"`
	Items       []LineItem `json:"items"`
	BindingKits int        `json:"bindingKits"`
}

// PrintJob is the unit of work handed to a kiosk worker. At most one exists per order.
type PrintJob struct {
	ID             uuid.UUID
	OrderID        uuid.UUID
	Payload        JobPayload
	Attempts       int
	MaxAttempts    int
	Status         JobStatus
	LastError      string
	WorkerID       string
	AvailableAt    time.Time
	LeaseExpiresAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (j *PrintJob) AttemptsLeft() bool {
	return j.Attempts < j.MaxAttempts
}
