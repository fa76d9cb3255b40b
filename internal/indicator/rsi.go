package indicator

import (
	"fmt"

	"github.com/moznion/go-optional"
	"github.com/tidemark-lab/tidemark/internal/types"
)

// RSI is Wilder's relative strength index over closes.
type RSI struct {
	period int

	seen      int
	prevClose float64
	gainSum   float64
	lossSum   float64
	avgGain   float64
	avgLoss   float64
}

func NewRSI(period int) *RSI {
	return &RSI{period: period}
}

func (r *RSI) Name() string {
	return fmt.Sprintf("rsi_%d", r.period)
}

func (r *RSI) WarmupPeriod() int {
	return r.period + 1
}

func (r *RSI) Next(bar types.Bar) optional.Option[float64] {
	r.seen++

	if r.seen == 1 {
		r.prevClose = bar.Close

		return optional.None[float64]()
	}

	change := bar.Close - r.prevClose
	r.prevClose = bar.Close

	gain, loss := 0.0, 0.0
	if change > 0 {
		gain = change
	} else {
		loss = -change
	}

	if r.seen <= r.period {
		r.gainSum += gain
		r.lossSum += loss

		return optional.None[float64]()
	}

	if r.seen == r.period+1 {
		r.gainSum += gain
		r.lossSum += loss
		r.avgGain = r.gainSum / float64(r.period)
		r.avgLoss = r.lossSum / float64(r.period)
	} else {
		// Wilder smoothing.
		r.avgGain = (r.avgGain*float64(r.period-1) + gain) / float64(r.period)
		r.avgLoss = (r.avgLoss*float64(r.period-1) + loss) / float64(r.period)
	}

	return optional.Some(r.value())
}

func (r *RSI) value() float64 {
	if r.avgLoss == 0 {
		return 100
	}

	rs := r.avgGain / r.avgLoss

	return 100 - 100/(1+rs)
}

func (r *RSI) Precompute(bars []types.Bar) []optional.Option[float64] {
	clone := NewRSI(r.period)
	out := make([]optional.Option[float64], len(bars))

	for i, bar := range bars {
		out[i] = clone.Next(bar)
	}

	return out
}

func (r *RSI) Reset() {
	r.seen = 0
	r.prevClose = 0
	r.gainSum = 0
	r.lossSum = 0
	r.avgGain = 0
	r.avgLoss = 0
}
