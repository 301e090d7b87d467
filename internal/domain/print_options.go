package domain

import (
	"errors"
	"fmt"
	"slices"
)

type Sides string

const (
	SidesSingle Sides = "single"
	SidesDouble Sides = "double"
)

type Density string

const (
	DensityLighter Density = "lighter"
	DensityNormal  Density = "normal"
	DensityDark    Density = "dark"
)

// AllowedPagesPerPage lists the n-up layouts a kiosk can print.
var AllowedPagesPerPage = []int{1, 2, 4, 6, 8}

var ErrInvalidOptions = errors.New("invalid print options")

// PrintOptions are the per-document settings chosen before payment.
// Density is cosmetic and never affects price.
type PrintOptions struct {
	Copies       int     `json:"copies" bson:"copies"`
	Sides        Sides   `json:"sides" bson:"sides"`
	Density      Density `json:"density" bson:"density"`
	PagesPerPage int     `json:"pagesPerPage" bson:"pages_per_page"`
}

func DefaultPrintOptions() PrintOptions {
	return PrintOptions{
		Copies:       1,
		Sides:        SidesSingle,
		Density:      DensityNormal,
		PagesPerPage: 1,
	}
}

func (o PrintOptions) Validate() error {
	if o.Copies < 1 {
		return fmt.Errorf("%w: copies must be at least 1, got %d", ErrInvalidOptions, o.Copies)
	}
	switch o.Sides {
	case SidesSingle, SidesDouble:
	default:
		return fmt.Errorf("%w: unknown sides %q", ErrInvalidOptions, o.Sides)
	}
	switch o.Density {
	case DensityLighter, DensityNormal, DensityDark:
	default:
		return fmt.Errorf("%w: unknown density %q", ErrInvalidOptions, o.Density)
	}
	if !slices.Contains(AllowedPagesPerPage, o.PagesPerPage) {
		return fmt.Errorf("%w: pagesPerPage %d not in %v", ErrInvalidOptions, o.PagesPerPage, AllowedPagesPerPage)
	}
	return nil
}
