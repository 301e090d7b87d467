package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/qopy/kiosk/internal/domain"
	"github.com/qopy/kiosk/internal/pricing"
	"github.com/shopspring/decimal"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeAndValidate reads a JSON body into dst and checks its validate tags.
func decodeAndValidate(body io.Reader, dst any) error {
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}
	return nil
}

// PrintOptionsDTO fields are optional. Numeric fields are pointers so an explicit
// zero is rejected rather than mistaken for an omitted value.
type PrintOptionsDTO struct {
	Copies       *int   `json:"copies,omitempty" validate:"omitempty,min=1,max=999"`
	Sides        string `json:"sides,omitempty" validate:"omitempty,oneof=single double"`
	Density      string `json:"density,omitempty" validate:"omitempty,oneof=lighter normal dark"`
	PagesPerPage *int   `json:"pagesPerPage,omitempty" validate:"omitempty,oneof=1 2 4 6 8"`
}

type LineItemDTO struct {
	DocumentID string          `json:"documentId" validate:"required,max=256"`
	FileName   string          `json:"fileName,omitempty" validate:"max=256"`
	PageCount  int             `json:"pageCount" validate:"min=0,max=10000"`
	Options    PrintOptionsDTO `json:"options"`
}

type CartDTO struct {
	Items       []LineItemDTO `json:"items" validate:"max=50,dive"`
	BindingKits int           `json:"bindingKits" validate:"min=0,max=100"`
}

// toDomain fills omitted options with the kiosk defaults.
func (c CartDTO) toDomain() domain.Cart {
	cart := domain.Cart{BindingKits: c.BindingKits, Items: make([]domain.LineItem, 0, len(c.Items))}
	for _, it := range c.Items {
		opts := domain.DefaultPrintOptions()
		if it.Options.Copies != nil {
			opts.Copies = *it.Options.Copies
		}
		if it.Options.Sides != "" {
			opts.Sides = domain.Sides(it.Options.Sides)
		}
		if it.Options.Density != "" {
			opts.Density = domain.Density(it.Options.Density)
		}
		if it.Options.PagesPerPage != nil {
			opts.PagesPerPage = *it.Options.PagesPerPage
		}
		cart.Items = append(cart.Items, domain.LineItem{
			DocumentID: it.DocumentID,
			FileName:   it.FileName,
			PageCount:  it.PageCount,
			Options:    opts,
		})
	}
	return cart
}

func cartToDTO(c *domain.Cart) CartDTO {
	dto := CartDTO{BindingKits: c.BindingKits, Items: make([]LineItemDTO, 0, len(c.Items))}
	for _, it := range c.Items {
		dto.Items = append(dto.Items, LineItemDTO{
			DocumentID: it.DocumentID,
			FileName:   it.FileName,
			PageCount:  it.PageCount,
			Options: PrintOptionsDTO{
				Copies:       &it.Options.Copies,
				Sides:        string(it.Options.Sides),
				Density:      string(it.Options.Density),
				PagesPerPage: &it.Options.PagesPerPage,
			},
		})
	}
	return dto
}

type CreateOrderRequestDTO struct {
	Amount    decimal.Decimal `json:"amount"`
	UserID    string          `json:"userId" validate:"required,max=128"`
	PrinterID string          `json:"printerId,omitempty" validate:"omitempty,max=64"`
	Cart      *CartDTO        `json:"cart,omitempty"`
}

// CreateOrderResponseDTO is what the checkout page hands to the gateway widget.
// Amount is in minor units.
type CreateOrderResponseDTO struct {
	ID        string `json:"id"`
	Currency  string `json:"currency"`
	Amount    int64  `json:"amount"`
	DBOrderID string `json:"dbOrderId"`
}

type QuoteResponseDTO struct {
	pricing.Quote
	Currency string `json:"currency"`
}

type OrderResponseDTO struct {
	ID             string     `json:"id"`
	GatewayOrderID string     `json:"gatewayOrderId"`
	Status         string     `json:"status"`
	Amount         int64      `json:"amount"`
	Currency       string     `json:"currency"`
	PrinterID      string     `json:"printerId,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	PaidAt         *time.Time `json:"paidAt,omitempty"`
}

func orderToDTO(o *domain.Order) OrderResponseDTO {
	return OrderResponseDTO{
		ID:             o.ID.String(),
		GatewayOrderID: o.GatewayOrderID,
		Status:         o.Status.String(),
		Amount:         o.Amount,
		Currency:       o.Currency,
		PrinterID:      o.PrinterID,
		CreatedAt:      o.CreatedAt,
		PaidAt:         o.PaidAt,
	}
}

type JobResponseDTO struct {
	ID             string     `json:"id"`
	OrderID        string     `json:"orderId"`
	Status         string     `json:"status"`
	Attempts       int        `json:"attempts"`
	MaxAttempts    int        `json:"maxAttempts"`
	LastError      string     `json:"lastError,omitempty"`
	WorkerID       string     `json:"workerId,omitempty"`
	PrinterID      string     `json:"printerId,omitempty"`
	AvailableAt    time.Time  `json:"availableAt"`
	LeaseExpiresAt *time.Time `json:"leaseExpiresAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

func jobToDTO(j *domain.PrintJob) JobResponseDTO {
	return JobResponseDTO{
		ID:             j.ID.String(),
		OrderID:        j.OrderID.String(),
		Status:         j.Status.String(),
		Attempts:       j.Attempts,
		MaxAttempts:    j.MaxAttempts,
		LastError:      j.LastError,
		WorkerID:       j.WorkerID,
		PrinterID:      j.Payload.PrinterID,
		AvailableAt:    j.AvailableAt,
		LeaseExpiresAt: j.LeaseExpiresAt,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
}
