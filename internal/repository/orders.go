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

type OrderRepository interface {
	CreateOrder(ctx context.Context, order *domain.Order) error
	GetOrderByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetOrderByGatewayID(ctx context.Context, gatewayOrderID string) (*domain.Order, error)
	MarkOrderPaid(ctx context.Context, gatewayOrderID, paymentID string, paidAt time.Time) (*domain.Order, error)
	ExpirePendingOrders(ctx context.Context, createdBefore time.Time, limit int) ([]*domain.Order, error)
	ListPaidOrdersWithoutJob(ctx context.Context, paidBefore time.Time, limit int) ([]*domain.Order, error)
}

const orderColumns = `id, gateway_order_id, gateway_payment_id, amount, currency, status, guest_id, printer_id,
	cart_snapshot, paid_at, created_at, updated_at`

func (r *Repository) CreateOrder(ctx context.Context, order *domain.Order) error {
	cartJSON, err := json.Marshal(order.Cart)
	if err != nil {
		return fmt.Errorf("failed to marshal cart snapshot: %w", err)
	}

	query := `INSERT INTO orders (id, gateway_order_id, amount, currency, status, guest_id, printer_id, cart_snapshot, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`

	_, insertErr := r.db.ExecContext(ctx, query,
		order.ID,
		order.GatewayOrderID,
		order.Amount,
		order.Currency,
		order.Status,
		order.GuestID,
		order.PrinterID,
		cartJSON,
		order.CreatedAt)

	if insertErr != nil {
		if pqCode(insertErr) == pgUniqueViolation {
			return ErrDuplicateGatewayOrder
		}
		return fmt.Errorf("insert order: %w", insertErr)
	}
	order.UpdatedAt = order.CreatedAt
	return nil
}

func (r *Repository) GetOrderByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	return r.getOrder(ctx, query, id)
}

func (r *Repository) GetOrderByGatewayID(ctx context.Context, gatewayOrderID string) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE gateway_order_id = $1`
	return r.getOrder(ctx, query, gatewayOrderID)
}

func (r *Repository) getOrder(ctx context.Context, query string, arg any) (*domain.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	return order, nil
}

// MarkOrderPaid is the single compare-and-set for PENDING -> PAID. Concurrent
// callers for the same gateway order serialize on the row lock; only the first
// sees a PENDING row, every other caller gets ErrNoTransition. The order.paid
// outbox event commits with the transition.
func (r *Repository) MarkOrderPaid(ctx context.Context, gatewayOrderID, paymentID string, paidAt time.Time) (*domain.Order, error) {
	var order *domain.Order
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		query := `UPDATE orders
		          SET status = $3, gateway_payment_id = NULLIF($2, ''), paid_at = $4, updated_at = $4
		          WHERE gateway_order_id = $1 AND status = $5
		          RETURNING ` + orderColumns

		o, err := scanOrder(tx.QueryRowContext(ctx, query,
			gatewayOrderID,
			paymentID,
			domain.OrderStatusPaid,
			paidAt,
			domain.OrderStatusPending))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNoTransition
		}
		if err != nil {
			return fmt.Errorf("mark order paid: %w", err)
		}

		event := domain.OrderPaidEvent{
			OrderID:        o.ID,
			GatewayOrderID: o.GatewayOrderID,
			GuestID:        o.GuestID,
			Amount:         o.Amount,
			Currency:       o.Currency,
			PaidAt:         paidAt,
		}
		if err := insertOutboxEvent(ctx, tx, o.ID.String(), domain.EventOrderPaid, event); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// ExpirePendingOrders fails PENDING orders created before the cutoff. Rows locked
// by a concurrent webhook are skipped and picked up on a later sweep if still pending.
func (r *Repository) ExpirePendingOrders(ctx context.Context, createdBefore time.Time, limit int) ([]*domain.Order, error) {
	var expired []*domain.Order
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		query := `UPDATE orders SET status = $1, updated_at = $2
		          WHERE status = $3 AND id IN (
		              SELECT id FROM orders
		              WHERE status = $3 AND created_at < $4
		              ORDER BY created_at
		              LIMIT $5
		              FOR UPDATE SKIP LOCKED)
		          RETURNING ` + orderColumns

		rows, err := tx.QueryContext(ctx, query,
			domain.OrderStatusFailed,
			now,
			domain.OrderStatusPending,
			createdBefore,
			limit)
		if err != nil {
			return fmt.Errorf("expire pending orders: %w", err)
		}
		expired, err = collectOrders(rows)
		if err != nil {
			return err
		}

		for _, o := range expired {
			event := domain.OrderExpiredEvent{
				OrderID:        o.ID,
				GatewayOrderID: o.GatewayOrderID,
				GuestID:        o.GuestID,
				ExpiredAt:      now,
			}
			if err := insertOutboxEvent(ctx, tx, o.ID.String(), domain.EventOrderExpired, event); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return expired, nil
}

// ListPaidOrdersWithoutJob finds orders whose PAID transition committed but whose
// print job was never enqueued.
func (r *Repository) ListPaidOrdersWithoutJob(ctx context.Context, paidBefore time.Time, limit int) ([]*domain.Order, error) {
	query := `SELECT o.id, o.gateway_order_id, o.gateway_payment_id, o.amount, o.currency, o.status, o.guest_id,
	                 o.printer_id, o.cart_snapshot, o.paid_at, o.created_at, o.updated_at
	          FROM orders o
	          LEFT JOIN print_jobs j ON j.order_id = o.id
	          WHERE o.status = $1 AND j.id IS NULL AND o.paid_at < $2
	          ORDER BY o.paid_at
	          LIMIT $3`

	rows, err := r.db.QueryContext(ctx, query, domain.OrderStatusPaid, paidBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("query paid orders without job: %w", err)
	}
	return collectOrders(rows)
}

func collectOrders(rows *sql.Rows) ([]*domain.Order, error) {
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return orders, nil
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		order     domain.Order
		paymentID sql.NullString
		paidAt    sql.NullTime
		cartJSON  []byte
	)
	if err := row.Scan(
		&order.ID,
		&order.GatewayOrderID,
		&paymentID,
		&order.Amount,
		&order.Currency,
		&order.Status,
		&order.GuestID,
		&order.PrinterID,
		&cartJSON,
		&paidAt,
		&order.CreatedAt,
		&order.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(cartJSON, &order.Cart); err != nil {
		return nil, fmt.Errorf("unmarshal cart snapshot: %w", err)
	}
	order.GatewayPaymentID = paymentID.String
	if paidAt.Valid {
		t := paidAt.Time
		order.PaidAt = &t
	}
	return &order, nil
}
