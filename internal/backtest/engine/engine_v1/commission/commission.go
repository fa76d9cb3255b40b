// Package commission provides pluggable per-instrument commission policies.
// A policy computes the cost of a fill from its size and price; for
// futures-style instruments it also carries the contract multiplier and
// per-contract margin used by the ledger for mark-to-market cash adjustment.
package commission

import "github.com/shopspring/decimal"

type Scheme string

const (
	SchemeZero               Scheme = "zero"
	SchemePercent            Scheme = "percent"
	SchemePerContract        Scheme = "per_contract"
	SchemeFutures            Scheme = "futures"
	SchemeInteractiveBrokers Scheme = "interactive_brokers"
)

// AllSchemes lists the recognized commission schemes, used for config schema
// generation.
var AllSchemes = []any{
	SchemeZero,
	SchemePercent,
	SchemePerContract,
	SchemeFutures,
	SchemeInteractiveBrokers,
}

// Info computes the cost of a fill and describes how the instrument settles.
type Info interface {
	// Calculate returns the commission in account currency for a fill of the
	// given quantity at the given price.
	Calculate(quantity float64, price float64) float64
	// Multiplier scales price moves to cash. 1 for stock-like instruments.
	Multiplier() float64
	// Margin is the per-contract margin held for futures-style instruments,
	// 0 for cash-settled instruments.
	Margin() float64
	// Stocklike reports whether fills move cash by full notional. When false
	// the ledger applies per-bar variation margin instead.
	Stocklike() bool
}

// CashAdjust returns the variation-margin cash delta for a futures-style
// position marked from oldPrice to newPrice.
func CashAdjust(info Info, size float64, oldPrice float64, newPrice float64) float64 {
	if info.Stocklike() || size == 0 {
		return 0
	}

	delta := decimal.NewFromFloat(newPrice).Sub(decimal.NewFromFloat(oldPrice))
	adjust, _ := delta.Mul(decimal.NewFromFloat(size)).Mul(decimal.NewFromFloat(info.Multiplier())).Float64()

	return adjust
}

// Config selects and parameterizes a commission scheme.
type Config struct {
	Scheme Scheme `yaml:"scheme" json:"scheme" jsonschema:"enum=zero,enum=percent,enum=per_contract,enum=futures,enum=interactive_brokers"`
	// Rate is the percentage of notional for the percent scheme, or the fixed
	// amount per contract for the per_contract and futures schemes.
	Rate float64 `yaml:"rate" json:"rate" validate:"gte=0"`
	// Minimum is the per-order commission floor, where the scheme supports one.
	Minimum float64 `yaml:"minimum" json:"minimum" validate:"gte=0"`
	// ContractMultiplier and ContractMargin apply to the futures scheme only.
	ContractMultiplier float64 `yaml:"contract_multiplier" json:"contract_multiplier" validate:"gte=0"`
	ContractMargin     float64 `yaml:"contract_margin" json:"contract_margin" validate:"gte=0"`
}

// New builds the commission policy for the given config. Unknown schemes fall
// back to zero commission.
func New(cfg Config) Info {
	switch cfg.Scheme {
	case SchemePercent:
		return NewPercentCommission(cfg.Rate)
	case SchemePerContract:
		return NewPerContractCommission(cfg.Rate)
	case SchemeFutures:
		return NewFuturesCommission(cfg.Rate, cfg.ContractMultiplier, cfg.ContractMargin)
	case SchemeInteractiveBrokers:
		return NewInteractiveBrokersCommission()
	case SchemeZero:
		return NewZeroCommission()
	default:
		return NewZeroCommission()
	}
}
