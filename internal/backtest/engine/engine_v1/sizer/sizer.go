// Package sizer computes default order sizes for strategies that submit
// orders without an explicit quantity.
package sizer

import "github.com/shopspring/decimal"

type Mode string

const (
	ModeFixed           Mode = "fixed"
	ModePercentOfEquity Mode = "percent_of_equity"
)

// Sizer returns the order quantity for a prospective entry given current
// account state and the reference price.
type Sizer interface {
	Size(cash float64, equity float64, price float64) float64
}

// Config selects and parameterizes a sizing policy.
type Config struct {
	Mode Mode `yaml:"mode" json:"mode" jsonschema:"enum=fixed,enum=percent_of_equity"`
	// Amount is the fixed quantity for the fixed mode, or the equity fraction
	// (0..1] for percent_of_equity.
	Amount float64 `yaml:"amount" json:"amount" validate:"gte=0"`
}

// New builds the sizer for the given config. Unknown modes fall back to a
// fixed size of 1.
func New(cfg Config) Sizer {
	switch cfg.Mode {
	case ModePercentOfEquity:
		return &PercentOfEquitySizer{Percent: cfg.Amount}
	case ModeFixed:
		return &FixedSizer{Quantity: cfg.Amount}
	default:
		return &FixedSizer{Quantity: 1}
	}
}

// FixedSizer always returns the same quantity.
type FixedSizer struct {
	Quantity float64
}

func (s *FixedSizer) Size(cash float64, equity float64, price float64) float64 {
	return s.Quantity
}

// PercentOfEquitySizer sizes entries so their notional is a fixed fraction of
// current equity.
type PercentOfEquitySizer struct {
	Percent float64
}

func (s *PercentOfEquitySizer) Size(cash float64, equity float64, price float64) float64 {
	if price <= 0 || s.Percent <= 0 {
		return 0
	}

	quantity, _ := decimal.NewFromFloat(equity).
		Mul(decimal.NewFromFloat(s.Percent)).
		Div(decimal.NewFromFloat(price)).
		Float64()

	return quantity
}
