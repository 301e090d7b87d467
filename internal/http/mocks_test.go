package http

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/qopy/kiosk/internal/cart"
	"github.com/qopy/kiosk/internal/domain"
	"github.com/qopy/kiosk/internal/pricing"
	"github.com/qopy/kiosk/internal/queue"
	"github.com/qopy/kiosk/internal/service"
)

type MockOrderService struct {
	Result  *service.CreateOrderResult
	Order   *domain.Order
	Err     error
	Engine  pricing.Engine
	LastIn  service.CreateOrderInput
	LastGet string
}

func (m *MockOrderService) CreateOrder(_ context.Context, in service.CreateOrderInput) (*service.CreateOrderResult, error) {
	m.LastIn = in
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Result, nil
}

func (m *MockOrderService) GetOrder(_ context.Context, orderID uuid.UUID, guestID string) (*domain.Order, error) {
	m.LastGet = guestID
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Order == nil || m.Order.ID != orderID || m.Order.GuestID != guestID {
		return nil, service.ErrOrderNotFound
	}
	return m.Order, nil
}

func (m *MockOrderService) Quote(c domain.Cart) (pricing.Quote, error) {
	q, err := m.Engine.Price(c)
	if err != nil {
		return pricing.Quote{}, service.ErrInvalidRequest
	}
	return q, nil
}

type MockReconciler struct {
	Secret string
	Bodies [][]byte
}

func (m *MockReconciler) HandleWebhook(_ context.Context, body []byte, signature string) (service.Outcome, error) {
	if signature != m.Secret {
		return "", service.ErrInvalidSignature
	}
	m.Bodies = append(m.Bodies, body)
	return service.OutcomeTransitioned, nil
}

type MockCartService struct {
	mu    sync.Mutex
	Carts map[string]domain.Cart
	Err   error
}

func NewMockCartService() *MockCartService {
	return &MockCartService{Carts: map[string]domain.Cart{}}
}

func (m *MockCartService) GetCart(_ context.Context, guestID string) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	c := m.Carts[guestID]
	c.GuestID = guestID
	return &c, nil
}

func (m *MockCartService) PutCart(_ context.Context, guestID string, c domain.Cart) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	if err := c.Validate(); err != nil {
		return nil, cart.ErrInvalidCart
	}
	c.GuestID = guestID
	m.Carts[guestID] = c
	return &c, nil
}

func (m *MockCartService) ClearCart(_ context.Context, guestID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	delete(m.Carts, guestID)
	return nil
}

type MockJobAdmin struct {
	Jobs map[uuid.UUID]*domain.PrintJob
	Err  error
}

func (m *MockJobAdmin) Get(_ context.Context, id uuid.UUID) (*domain.PrintJob, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	job, ok := m.Jobs[id]
	if !ok {
		return nil, queue.ErrJobNotFound
	}
	return job, nil
}

func (m *MockJobAdmin) Cancel(_ context.Context, id uuid.UUID) (*domain.PrintJob, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	job, ok := m.Jobs[id]
	if !ok {
		return nil, queue.ErrJobNotFound
	}
	if job.Status != domain.JobStatusQueued {
		return nil, queue.ErrJobNotCancellable
	}
	job.Status = domain.JobStatusFailed
	job.LastError = domain.CancelledReason
	return job, nil
}
