package indicator

import (
	"fmt"

	"github.com/moznion/go-optional"
	"github.com/tidemark-lab/tidemark/internal/types"
)

// EMA is an exponential moving average of closes, seeded with the simple
// average of the first period bars.
type EMA struct {
	period int
	alpha  float64

	seen    int
	seedSum float64
	value   float64
}

func NewEMA(period int) *EMA {
	return &EMA{period: period, alpha: 2.0 / (float64(period) + 1)}
}

func (e *EMA) Name() string {
	return fmt.Sprintf("ema_%d", e.period)
}

func (e *EMA) WarmupPeriod() int {
	return e.period
}

func (e *EMA) Next(bar types.Bar) optional.Option[float64] {
	e.seen++

	if e.seen < e.period {
		e.seedSum += bar.Close

		return optional.None[float64]()
	}

	if e.seen == e.period {
		e.seedSum += bar.Close
		e.value = e.seedSum / float64(e.period)

		return optional.Some(e.value)
	}

	e.value = e.alpha*bar.Close + (1-e.alpha)*e.value

	return optional.Some(e.value)
}

func (e *EMA) Precompute(bars []types.Bar) []optional.Option[float64] {
	out := make([]optional.Option[float64], len(bars))
	seedSum := 0.0
	value := 0.0

	for i, bar := range bars {
		if i < e.period-1 {
			seedSum += bar.Close
			out[i] = optional.None[float64]()

			continue
		}

		if i == e.period-1 {
			seedSum += bar.Close
			value = seedSum / float64(e.period)
		} else {
			value = e.alpha*bar.Close + (1-e.alpha)*value
		}

		out[i] = optional.Some(value)
	}

	return out
}

func (e *EMA) Reset() {
	e.seen = 0
	e.seedSum = 0
	e.value = 0
}
