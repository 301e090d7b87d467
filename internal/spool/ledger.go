// Package spool is the kiosk side of printing: a local ledger of what this
// machine already printed and the hot folder the printer driver picks jobs from.
package spool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

type EntryStatus string

const (
	StatusPrinting EntryStatus = "printing"
	StatusPrinted  EntryStatus = "printed"
)

var ErrEntryNotFound = errors.New("ledger entry not found")

type Entry struct {
	JobID     uuid.UUID
	OrderID   uuid.UUID
	Attempt   int
	Status    EntryStatus
	SpoolFile string
	StartedAt time.Time
	PrintedAt *time.Time
}

// Ledger survives worker restarts. A job redelivered after its lease expired is
// recognised here and acknowledged without printing the pages a second time.
type Ledger struct {
	db *sql.DB
}

func OpenLedger(dbPath string) (*Ledger, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	// one connection: SQLite serialises writers anyway and :memory: is per connection
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping ledger: %w", err)
	}
	return &Ledger{db: db}, nil
}

func (l *Ledger) RunMigrations(migrationsPath string) error {
	driver, err := sqlite.WithInstance(l.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", migrationsPath),
		"sqlite",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}
	return nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

// Begin records that attempt is about to print job. An earlier unfinished
// attempt is overwritten; a finished one is left alone.
func (l *Ledger) Begin(ctx context.Context, jobID, orderID uuid.UUID, attempt int, now time.Time) error {
	query := `INSERT INTO print_ledger (job_id, order_id, attempt, status, started_at)
	          VALUES (?, ?, ?, ?, ?)
	          ON CONFLICT (job_id) DO UPDATE SET attempt = excluded.attempt, started_at = excluded.started_at
	          WHERE print_ledger.status = ?`

	_, err := l.db.ExecContext(ctx, query,
		jobID.String(), orderID.String(), attempt, StatusPrinting, now, StatusPrinting)
	if err != nil {
		return fmt.Errorf("ledger begin: %w", err)
	}
	return nil
}

func (l *Ledger) MarkPrinted(ctx context.Context, jobID uuid.UUID, spoolFile string, now time.Time) error {
	query := `UPDATE print_ledger SET status = ?, spool_file = ?, printed_at = ? WHERE job_id = ?`

	res, err := l.db.ExecContext(ctx, query, StatusPrinted, spoolFile, now, jobID.String())
	if err != nil {
		return fmt.Errorf("ledger mark printed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ledger mark printed: %w", err)
	}
	if n == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (l *Ledger) Get(ctx context.Context, jobID uuid.UUID) (*Entry, error) {
	query := `SELECT job_id, order_id, attempt, status, spool_file, started_at, printed_at
	          FROM print_ledger WHERE job_id = ?`

	var (
		e         Entry
		jobStr    string
		orderStr  string
		printedAt sql.NullTime
	)
	err := l.db.QueryRowContext(ctx, query, jobID.String()).Scan(
		&jobStr, &orderStr, &e.Attempt, &e.Status, &e.SpoolFile, &e.StartedAt, &printedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger get: %w", err)
	}

	if e.JobID, err = uuid.Parse(jobStr); err != nil {
		return nil, fmt.Errorf("ledger get: job id: %w", err)
	}
	if e.OrderID, err = uuid.Parse(orderStr); err != nil {
		return nil, fmt.Errorf("ledger get: order id: %w", err)
	}
	if printedAt.Valid {
		t := printedAt.Time
		e.PrintedAt = &t
	}
	return &e, nil
}

// Printed reports whether this kiosk already finished printing job.
func (l *Ledger) Printed(ctx context.Context, jobID uuid.UUID) (bool, error) {
	e, err := l.Get(ctx, jobID)
	if errors.Is(err, ErrEntryNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return e.Status == StatusPrinted, nil
}
