package commission

import "github.com/shopspring/decimal"

// ZeroCommission charges nothing. The default for correctness tests.
type ZeroCommission struct{}

func NewZeroCommission() Info {
	return &ZeroCommission{}
}

func (c *ZeroCommission) Calculate(quantity float64, price float64) float64 { return 0 }
func (c *ZeroCommission) Multiplier() float64                               { return 1 }
func (c *ZeroCommission) Margin() float64                                   { return 0 }
func (c *ZeroCommission) Stocklike() bool                                   { return true }

// PercentCommission charges a fraction of the fill notional.
type PercentCommission struct {
	rate float64
}

func NewPercentCommission(rate float64) Info {
	return &PercentCommission{rate: rate}
}

func (c *PercentCommission) Calculate(quantity float64, price float64) float64 {
	fee, _ := decimal.NewFromFloat(quantity).
		Mul(decimal.NewFromFloat(price)).
		Mul(decimal.NewFromFloat(c.rate)).
		Float64()

	return fee
}

func (c *PercentCommission) Multiplier() float64 { return 1 }
func (c *PercentCommission) Margin() float64     { return 0 }
func (c *PercentCommission) Stocklike() bool     { return true }

// PerContractCommission charges a fixed amount per contract regardless of price.
type PerContractCommission struct {
	perContract float64
}

func NewPerContractCommission(perContract float64) Info {
	return &PerContractCommission{perContract: perContract}
}

func (c *PerContractCommission) Calculate(quantity float64, price float64) float64 {
	return c.perContract * quantity
}

func (c *PerContractCommission) Multiplier() float64 { return 1 }
func (c *PerContractCommission) Margin() float64     { return 0 }
func (c *PerContractCommission) Stocklike() bool     { return true }

// FuturesCommission charges a fixed amount per contract on a margined,
// multiplier-scaled instrument. Cash moves by variation margin each bar
// rather than by full notional at fill time.
type FuturesCommission struct {
	perContract float64
	multiplier  float64
	margin      float64
}

func NewFuturesCommission(perContract float64, multiplier float64, margin float64) Info {
	if multiplier <= 0 {
		multiplier = 1
	}

	return &FuturesCommission{
		perContract: perContract,
		multiplier:  multiplier,
		margin:      margin,
	}
}

func (c *FuturesCommission) Calculate(quantity float64, price float64) float64 {
	return c.perContract * quantity
}

func (c *FuturesCommission) Multiplier() float64 { return c.multiplier }
func (c *FuturesCommission) Margin() float64     { return c.margin }
func (c *FuturesCommission) Stocklike() bool     { return false }

// InteractiveBrokersCommission models the IB fixed US stock schedule:
// 0.005 per share with a 1.00 minimum per order.
type InteractiveBrokersCommission struct{}

func NewInteractiveBrokersCommission() Info {
	return &InteractiveBrokersCommission{}
}

func (c *InteractiveBrokersCommission) Calculate(quantity float64, price float64) float64 {
	fee := 0.005 * quantity
	if fee < 1.0 {
		return 1.0
	}

	return fee
}

func (c *InteractiveBrokersCommission) Multiplier() float64 { return 1 }
func (c *InteractiveBrokersCommission) Margin() float64     { return 0 }
func (c *InteractiveBrokersCommission) Stocklike() bool     { return true }
