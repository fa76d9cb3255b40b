package indicator

import (
	"fmt"
	"math"

	"github.com/moznion/go-optional"
	"github.com/tidemark-lab/tidemark/internal/types"
)

// ATR is Wilder's average true range.
type ATR struct {
	period int

	seen      int
	prevClose float64
	trSum     float64
	value     float64
}

func NewATR(period int) *ATR {
	return &ATR{period: period}
}

func (a *ATR) Name() string {
	return fmt.Sprintf("atr_%d", a.period)
}

func (a *ATR) WarmupPeriod() int {
	return a.period + 1
}

func trueRange(bar types.Bar, prevClose float64) float64 {
	hl := bar.High - bar.Low
	hc := math.Abs(bar.High - prevClose)
	lc := math.Abs(bar.Low - prevClose)

	return math.Max(hl, math.Max(hc, lc))
}

func (a *ATR) Next(bar types.Bar) optional.Option[float64] {
	a.seen++

	if a.seen == 1 {
		a.prevClose = bar.Close

		return optional.None[float64]()
	}

	tr := trueRange(bar, a.prevClose)
	a.prevClose = bar.Close

	if a.seen <= a.period {
		a.trSum += tr

		return optional.None[float64]()
	}

	if a.seen == a.period+1 {
		a.trSum += tr
		a.value = a.trSum / float64(a.period)
	} else {
		a.value = (a.value*float64(a.period-1) + tr) / float64(a.period)
	}

	return optional.Some(a.value)
}

func (a *ATR) Precompute(bars []types.Bar) []optional.Option[float64] {
	clone := NewATR(a.period)
	out := make([]optional.Option[float64], len(bars))

	for i, bar := range bars {
		out[i] = clone.Next(bar)
	}

	return out
}

func (a *ATR) Reset() {
	a.seen = 0
	a.prevClose = 0
	a.trSum = 0
	a.value = 0
}
