package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is the per-instrument aggregate of open exposure. Size is signed:
// positive for long, negative for short. AvgPrice is the weighted-average
// entry price of the open size.
type Position struct {
	Symbol       string    `yaml:"symbol" json:"symbol" csv:"symbol"`
	Size         float64   `yaml:"size" json:"size" csv:"size"`
	AvgPrice     float64   `yaml:"avg_price" json:"avg_price" csv:"avg_price"`
	OpenTime     time.Time `yaml:"open_time" json:"open_time" csv:"open_time"`
	StrategyName string    `yaml:"strategy_name" json:"strategy_name" csv:"strategy_name"`
}

// IsFlat reports whether there is no open exposure.
func (p Position) IsFlat() bool {
	return p.Size == 0
}

// IsLong reports whether the position is net long.
func (p Position) IsLong() bool {
	return p.Size > 0
}

// IsShort reports whether the position is net short.
func (p Position) IsShort() bool {
	return p.Size < 0
}

// UnrealizedPnL revalues the open size at the given mark price without
// touching realized state.
func (p Position) UnrealizedPnL(markPrice float64) float64 {
	if p.Size == 0 {
		return 0
	}

	mark := decimal.NewFromFloat(markPrice)
	entry := decimal.NewFromFloat(p.AvgPrice)
	size := decimal.NewFromFloat(p.Size)

	pnl, _ := mark.Sub(entry).Mul(size).Float64()

	return pnl
}

// MarketValue is the signed notional of the open size at the mark price.
func (p Position) MarketValue(markPrice float64) float64 {
	value, _ := decimal.NewFromFloat(p.Size).Mul(decimal.NewFromFloat(markPrice)).Float64()

	return value
}
