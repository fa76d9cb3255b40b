package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeDirection is the side of the position a trade tracked.
type TradeDirection string

const (
	TradeDirectionLong  TradeDirection = "LONG"
	TradeDirectionShort TradeDirection = "SHORT"
)

// Trade spans one open-to-close cycle of a position. A trade opens when the
// position leaves zero, grows with same-direction fills, and closes when the
// position returns to zero. A fill that overshoots zero closes the current
// trade and opens a new one in the opposite direction within the same fill
// event. Closed trades are immutable.
type Trade struct {
	ID           string         `yaml:"id" json:"id" csv:"id"`
	Symbol       string         `yaml:"symbol" json:"symbol" csv:"symbol"`
	StrategyName string         `yaml:"strategy_name" json:"strategy_name" csv:"strategy_name"`
	Direction    TradeDirection `yaml:"direction" json:"direction" csv:"direction"`

	OpenTime  time.Time `yaml:"open_time" json:"open_time" csv:"open_time"`
	CloseTime time.Time `yaml:"close_time" json:"close_time" csv:"close_time"`

	// EntryPrice is the weighted-average price at which the traded size was
	// accumulated; ExitPrice the weighted-average price at which it was
	// unwound.
	EntryPrice float64 `yaml:"entry_price" json:"entry_price" csv:"entry_price"`
	ExitPrice  float64 `yaml:"exit_price" json:"exit_price" csv:"exit_price"`

	// MaxSize is the largest absolute position size reached during the trade.
	MaxSize float64 `yaml:"max_size" json:"max_size" csv:"max_size"`

	GrossPnL   float64 `yaml:"gross_pnl" json:"gross_pnl" csv:"gross_pnl"`
	Commission float64 `yaml:"commission" json:"commission" csv:"commission"`
	NetPnL     float64 `yaml:"net_pnl" json:"net_pnl" csv:"net_pnl"`

	// BarLength is the number of bars the trade stayed open.
	BarLength int  `yaml:"bar_length" json:"bar_length" csv:"bar_length"`
	IsClosed  bool `yaml:"is_closed" json:"is_closed" csv:"is_closed"`
}

// HoldingTime is the wall-clock duration the trade stayed open. Zero for
// still-open trades.
func (t *Trade) HoldingTime() time.Duration {
	if !t.IsClosed {
		return 0
	}

	return t.CloseTime.Sub(t.OpenTime)
}

// RoundPnL applies the ledger's rounding policy once, at trade close.
func RoundPnL(value float64, precision int) float64 {
	rounded, _ := decimal.NewFromFloat(value).Round(int32(precision)).Float64()

	return rounded
}
