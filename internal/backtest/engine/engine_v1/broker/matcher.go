package broker

import "github.com/tidemark-lab/tidemark/internal/types"

// Matcher evaluates one pending order against one fully revealed bar and
// returns the execution price, if any. It never fills outside the bar's
// traded range, and it honors gap opens in the order's favor: an order whose
// level is already satisfied at the open fills at the open, not at the level.
type Matcher struct {
	slippage SlippageModel
}

func NewMatcher(slippage SlippageModel) *Matcher {
	if slippage == nil {
		slippage = NoSlippage{}
	}

	return &Matcher{slippage: slippage}
}

// Evaluate returns the execution price for the order against the bar and
// whether it executes at all. Stop-limit orders mutate their Triggered flag
// when the stop level is touched without the limit being reachable in the
// same bar.
func (m *Matcher) Evaluate(order *types.Order, bar types.Bar) (float64, bool) {
	switch order.Type {
	case types.OrderTypeMarket:
		return m.matchMarket(order, bar)
	case types.OrderTypeLimit:
		return m.matchLimit(order.Side, order.LimitPrice, bar)
	case types.OrderTypeStop, types.OrderTypeTrailingStop:
		return m.matchStop(order.Side, order.StopPrice, bar)
	case types.OrderTypeStopLimit:
		return m.matchStopLimit(order, bar)
	default:
		return 0, false
	}
}

// AtClose prices a market order against the bar close, slipped and clamped
// to the bar range. Used for close-timing fills.
func (m *Matcher) AtClose(order *types.Order, bar types.Bar) float64 {
	return clamp(m.slippage.Adjust(bar.Close, order.Side), bar.Low, bar.High)
}

// matchMarket fills at the bar open, slipped and clamped to the bar range.
func (m *Matcher) matchMarket(order *types.Order, bar types.Bar) (float64, bool) {
	price := m.slippage.Adjust(bar.Open, order.Side)

	return clamp(price, bar.Low, bar.High), true
}

// matchLimit applies price-priority fills. A buy limit above or at the open
// fills at the open (capped at the limit even after slippage); otherwise it
// fills at the limit if the bar traded through it.
func (m *Matcher) matchLimit(side types.Side, limit float64, bar types.Bar) (float64, bool) {
	if side == types.SideBuy {
		if limit >= bar.Open {
			price := m.slippage.Adjust(bar.Open, side)

			return clamp(price, bar.Low, min(bar.High, limit)), true
		}

		if limit >= bar.Low {
			return limit, true
		}

		return 0, false
	}

	if limit <= bar.Open {
		price := m.slippage.Adjust(bar.Open, side)

		return clamp(price, max(bar.Low, limit), bar.High), true
	}

	if limit <= bar.High {
		return limit, true
	}

	return 0, false
}

// matchStop triggers when the bar trades through the stop level. A gap open
// beyond the level executes at the open; an intra-bar touch executes at the
// stop price. Slippage moves the price against the taker within the bar.
func (m *Matcher) matchStop(side types.Side, stop float64, bar types.Bar) (float64, bool) {
	if side == types.SideBuy {
		if bar.Open >= stop {
			return clamp(m.slippage.Adjust(bar.Open, side), bar.Low, bar.High), true
		}

		if bar.High >= stop {
			return clamp(m.slippage.Adjust(stop, side), bar.Low, bar.High), true
		}

		return 0, false
	}

	if bar.Open <= stop {
		return clamp(m.slippage.Adjust(bar.Open, side), bar.Low, bar.High), true
	}

	if bar.Low <= stop {
		return clamp(m.slippage.Adjust(stop, side), bar.Low, bar.High), true
	}

	return 0, false
}

// matchStopLimit triggers like a stop, then executes like a limit. When the
// trigger happens at the open the whole bar is available to the limit leg;
// when it happens intra-bar only the stop level itself is assumed reachable,
// a conservative reading of what the remainder of the bar allows.
func (m *Matcher) matchStopLimit(order *types.Order, bar types.Bar) (float64, bool) {
	if order.Triggered {
		return m.matchLimit(order.Side, order.LimitPrice, bar)
	}

	stop := order.StopPrice
	limit := order.LimitPrice

	if order.Side == types.SideBuy {
		if bar.Open >= stop {
			order.Triggered = true

			return m.matchLimit(order.Side, limit, bar)
		}

		if bar.High >= stop {
			order.Triggered = true

			if limit >= stop {
				return stop, true
			}

			return 0, false
		}

		return 0, false
	}

	if bar.Open <= stop {
		order.Triggered = true

		return m.matchLimit(order.Side, limit, bar)
	}

	if bar.Low <= stop {
		order.Triggered = true

		if limit <= stop {
			return stop, true
		}

		return 0, false
	}

	return 0, false
}

// AdjustTrailing ratchets a trailing stop from the bar close. A sell trail
// only moves up, a buy trail only moves down; the stop never loosens.
func AdjustTrailing(order *types.Order, close float64) {
	if order.Type != types.OrderTypeTrailingStop {
		return
	}

	var candidate float64

	if order.Side == types.SideSell {
		if order.TrailPercent > 0 {
			candidate = close * (1 - order.TrailPercent)
		} else {
			candidate = close - order.TrailAmount
		}

		if order.StopPrice == 0 || candidate > order.StopPrice {
			order.StopPrice = candidate
		}

		return
	}

	if order.TrailPercent > 0 {
		candidate = close * (1 + order.TrailPercent)
	} else {
		candidate = close + order.TrailAmount
	}

	if order.StopPrice == 0 || candidate < order.StopPrice {
		order.StopPrice = candidate
	}
}
