package spool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/qopy/kiosk/internal/domain"
	"github.com/qopy/kiosk/internal/pricing"
)

// Ticket is the document the printer driver reads from the hot folder.
type Ticket struct {
	JobID       string            `json:"jobId"`
	OrderID     string            `json:"orderId"`
	PrinterID   string            `json:"printerId"`
	Attempt     int               `json:"attempt"`
	Sheets      int               `json:"sheets"`
	BindingKits int               `json:"bindingKits"`
	Items       []domain.LineItem `json:"items"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// HotFolder hands jobs to the printer driver by dropping a ticket file into a
// watched directory. Files appear atomically: the driver never sees a partial ticket.
type HotFolder struct {
	dir       string
	printerID string
	now       func() time.Time
}

func NewHotFolder(dir, printerID string) (*HotFolder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create hot folder: %w", err)
	}
	return &HotFolder{
		dir:       dir,
		printerID: printerID,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Print writes the job ticket and returns its path.
func (h *HotFolder) Print(ctx context.Context, job *domain.PrintJob) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	printerID := job.Payload.PrinterID
	if printerID == "" {
		printerID = h.printerID
	}
	ticket := Ticket{
		JobID:       job.ID.String(),
		OrderID:     job.OrderID.String(),
		PrinterID:   printerID,
		Attempt:     job.Attempts,
		Sheets:      pricing.Sheets(job.Payload.Items),
		BindingKits: job.Payload.BindingKits,
		Items:       job.Payload.Items,
		CreatedAt:   h.now(),
	}
	data, err := json.MarshalIndent(ticket, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode ticket: %w", err)
	}

	tmp, err := os.CreateTemp(h.dir, ".ticket-*")
	if err != nil {
		return "", fmt.Errorf("create ticket: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write ticket: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("sync ticket: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close ticket: %w", err)
	}

	final := filepath.Join(h.dir, job.ID.String()+".json")
	if err := os.Rename(tmp.Name(), final); err != nil {
		return "", fmt.Errorf("publish ticket: %w", err)
	}
	return final, nil
}
