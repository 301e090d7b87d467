package domain

import (
	"fmt"
	"time"
)

// LineItem is one uploaded document with its print settings. PageCount comes from
// an external page counter and is 1 when counting failed.
type LineItem struct {
	DocumentID string       `json:"documentId" bson:"document_id"`
	FileName   string       `json:"fileName,omitempty" bson:"file_name,omitempty"`
	PageCount  int          `json:"pageCount" bson:"page_count"`
	Options    PrintOptions `json:"options" bson:"options"`
}

// Cart is the guest's selection at a kiosk. The total price is always derived
// from it and never stored.
type Cart struct {
	ID          string     `json:"-" bson:"_id,omitempty"`
	GuestID     string     `json:"guestId,omitempty" bson:"guest_id"`
	Items       []LineItem `json:"items" bson:"items"`
	BindingKits int        `json:"bindingKits" bson:"binding_kits"`
	CreatedAt   time.Time  `json:"createdAt,omitempty" bson:"created_at"`
	UpdatedAt   time.Time  `json:"updatedAt,omitempty" bson:"updated_at"`
}

func (c Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

func (c Cart) Validate() error {
	if c.BindingKits < 0 {
		return fmt.Errorf("%w: bindingKits must not be negative", ErrInvalidOptions)
	}
	for i, item := range c.Items {
		if item.DocumentID == "" {
			return fmt.Errorf("%w: item %d has no documentId", ErrInvalidOptions, i)
		}
		if item.PageCount < 0 {
			return fmt.Errorf("%w: item %d has negative pageCount", ErrInvalidOptions, i)
		}
		if err := item.Options.Validate(); err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
	}
	return nil
}
