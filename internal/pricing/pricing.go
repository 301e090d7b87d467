// Package pricing turns a cart into a charge. It is pure: no I/O and no shared
// state, so an Engine value can be used from any goroutine.
package pricing

import "github.com/qopy/kiosk/internal/domain"

const (
	DefaultSheetPrice      int64 = 2
	DefaultBindingKitPrice int64 = 15
)

// Rates are whole currency units. Sides changes the sheet count, never the sheet rate.
type Rates struct {
	SheetPrice      int64
	BindingKitPrice int64
}

func DefaultRates() Rates {
	return Rates{SheetPrice: DefaultSheetPrice, BindingKitPrice: DefaultBindingKitPrice}
}

type ItemQuote struct {
	DocumentID     string `json:"documentId"`
	EffectivePages int    `json:"effectivePages"`
	Sheets         int    `json:"sheets"`
	Copies         int    `json:"copies"`
	Cost           int64  `json:"cost"`
}

type Quote struct {
	PerItem     []ItemQuote `json:"perItem"`
	BindingCost int64       `json:"bindingCost"`
	Total       int64       `json:"total"`
}

type Engine struct {
	rates Rates
}

func NewEngine(rates Rates) Engine {
	return Engine{rates: rates}
}

func (e Engine) Rates() Rates {
	return e.rates
}

// Price computes the quote for cart. Invalid options are rejected rather than
// priced so a bad cart can never produce a zero or negative charge.
func (e Engine) Price(cart domain.Cart) (Quote, error) {
	if err := cart.Validate(); err != nil {
		return Quote{}, err
	}

	quote := Quote{PerItem: make([]ItemQuote, 0, len(cart.Items))}
	for _, item := range cart.Items {
		iq := e.priceItem(item)
		quote.PerItem = append(quote.PerItem, iq)
		quote.Total += iq.Cost
	}

	quote.BindingCost = int64(cart.BindingKits) * e.rates.BindingKitPrice
	quote.Total += quote.BindingCost
	return quote, nil
}

func (e Engine) priceItem(item domain.LineItem) ItemQuote {
	pages := max(item.PageCount, 1)
	effective := ceilDiv(pages, max(item.Options.PagesPerPage, 1))

	sheets := effective
	if item.Options.Sides == domain.SidesDouble {
		sheets = ceilDiv(effective, 2)
	}

	return ItemQuote{
		DocumentID:     item.DocumentID,
		EffectivePages: effective,
		Sheets:         sheets,
		Copies:         item.Options.Copies,
		Cost:           int64(sheets) * e.rates.SheetPrice * int64(item.Options.Copies),
	}
}

// Sheets returns the physical sheet count for a payload, used by workers for paper accounting.
func Sheets(items []domain.LineItem) int {
	var total int
	e := Engine{}
	for _, item := range items {
		iq := e.priceItem(item)
		total += iq.Sheets * iq.Copies
	}
	return total
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
