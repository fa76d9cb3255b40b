package broker

import "github.com/tidemark-lab/tidemark/internal/types"

// SlippageModel nudges an execution price against the taker. The returned
// price is later clamped to the bar range by the matcher, so a model never
// produces fills outside prices that actually traded.
type SlippageModel interface {
	// Adjust moves the price against the given side: up for buys, down
	// for sells.
	Adjust(price float64, side types.Side) float64
}

// NoSlippage executes at the theoretical price.
type NoSlippage struct{}

func (NoSlippage) Adjust(price float64, _ types.Side) float64 {
	return price
}

// FixedSlippage moves the price by an absolute amount per unit.
type FixedSlippage struct {
	Amount float64
}

func (s FixedSlippage) Adjust(price float64, side types.Side) float64 {
	if side == types.SideBuy {
		return price + s.Amount
	}

	return price - s.Amount
}

// PercentSlippage moves the price by a fraction of itself (0.001 = 10 bps).
type PercentSlippage struct {
	Percent float64
}

func (s PercentSlippage) Adjust(price float64, side types.Side) float64 {
	if side == types.SideBuy {
		return price * (1 + s.Percent)
	}

	return price * (1 - s.Percent)
}

// clamp bounds a slipped price to [low, high].
func clamp(price, low, high float64) float64 {
	if price < low {
		return low
	}

	if price > high {
		return high
	}

	return price
}
