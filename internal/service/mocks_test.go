package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qopy/kiosk/internal/domain"
	"github.com/qopy/kiosk/internal/gateway"
	"github.com/qopy/kiosk/internal/queue"
	"github.com/qopy/kiosk/internal/repository"
)

// MockOrderStore implements OrderStore in memory. MarkOrderPaid is a real
// compare-and-set under the mutex.
type MockOrderStore struct {
	mu        sync.Mutex
	orders    map[uuid.UUID]*domain.Order
	CreateErr error
	MarkErr   error
	withJob   map[uuid.UUID]bool
}

func NewMockOrderStore() *MockOrderStore {
	return &MockOrderStore{
		orders:  map[uuid.UUID]*domain.Order{},
		withJob: map[uuid.UUID]bool{},
	}
}

func (m *MockOrderStore) Put(order *domain.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *order
	m.orders[order.ID] = &cp
}

func (m *MockOrderStore) Get(id uuid.UUID) *domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.orders[id]
	return &cp
}

func (m *MockOrderStore) CreateOrder(_ context.Context, order *domain.Order) error {
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.GatewayOrderID == order.GatewayOrderID {
			return repository.ErrDuplicateGatewayOrder
		}
	}
	cp := *order
	m.orders[order.ID] = &cp
	return nil
}

func (m *MockOrderStore) GetOrderByID(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *MockOrderStore) GetOrderByGatewayID(_ context.Context, gatewayOrderID string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.GatewayOrderID == gatewayOrderID {
			cp := *o
			return &cp, nil
		}
	}
	return nil, repository.ErrOrderNotFound
}

func (m *MockOrderStore) MarkOrderPaid(_ context.Context, gatewayOrderID, paymentID string, paidAt time.Time) (*domain.Order, error) {
	if m.MarkErr != nil {
		return nil, m.MarkErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.GatewayOrderID != gatewayOrderID || o.Status != domain.OrderStatusPending {
			continue
		}
		o.Status = domain.OrderStatusPaid
		o.GatewayPaymentID = paymentID
		t := paidAt
		o.PaidAt = &t
		cp := *o
		return &cp, nil
	}
	return nil, repository.ErrNoTransition
}

func (m *MockOrderStore) ExpirePendingOrders(_ context.Context, createdBefore time.Time, limit int) ([]*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Order
	for _, o := range m.orders {
		if len(out) == limit {
			break
		}
		if o.Status == domain.OrderStatusPending && o.CreatedAt.Before(createdBefore) {
			o.Status = domain.OrderStatusFailed
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MockOrderStore) MarkHasJob(orderID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.withJob[orderID] = true
}

func (m *MockOrderStore) ListPaidOrdersWithoutJob(_ context.Context, paidBefore time.Time, limit int) ([]*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Order
	for id, o := range m.orders {
		if len(out) == limit {
			break
		}
		if o.Status == domain.OrderStatusPaid && !m.withJob[id] && o.PaidAt != nil && o.PaidAt.Before(paidBefore) {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

// MockQueue implements JobQueue and rejects a second job for the same order.
type MockQueue struct {
	mu      sync.Mutex
	Jobs    map[uuid.UUID]*domain.PrintJob
	Err     error
	OnQueue func(orderID uuid.UUID)
}

func NewMockQueue() *MockQueue {
	return &MockQueue{Jobs: map[uuid.UUID]*domain.PrintJob{}}
}

func (m *MockQueue) Enqueue(_ context.Context, orderID uuid.UUID, payload domain.JobPayload) (*domain.PrintJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	if _, ok := m.Jobs[orderID]; ok {
		return nil, queue.ErrDuplicateJob
	}
	job := &domain.PrintJob{
		ID:          uuid.New(),
		OrderID:     orderID,
		Payload:     payload,
		MaxAttempts: 3,
		Status:      domain.JobStatusQueued,
	}
	m.Jobs[orderID] = job
	if m.OnQueue != nil {
		m.OnQueue(orderID)
	}
	return job, nil
}

func (m *MockQueue) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Jobs)
}

// MockGateway implements PaymentGateway.
type MockGateway struct {
	mu       sync.Mutex
	Requests []gateway.CreateOrderRequest
	Err      error
	OrderID  string
}

func (m *MockGateway) CreateOrder(_ context.Context, req gateway.CreateOrderRequest) (*gateway.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, req)
	if m.Err != nil {
		return nil, m.Err
	}
	id := m.OrderID
	if id == "" {
		id = "order_" + req.Receipt[:8]
	}
	return &gateway.Order{ID: id, Amount: req.Amount, Currency: req.Currency, Receipt: req.Receipt, Status: "created"}, nil
}

// MockCartReader implements CartReader.
type MockCartReader struct {
	Carts map[string]*domain.Cart
	Err   error
}

func (m *MockCartReader) GetCart(_ context.Context, guestID string) (*domain.Cart, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if c, ok := m.Carts[guestID]; ok {
		cp := *c
		return &cp, nil
	}
	return &domain.Cart{GuestID: guestID}, nil
}
