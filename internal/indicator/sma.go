package indicator

import (
	"fmt"

	"github.com/moznion/go-optional"
	"github.com/tidemark-lab/tidemark/internal/types"
)

// SMA is a simple moving average of closes over a fixed window.
type SMA struct {
	period int
	window []float64
	sum    float64
}

func NewSMA(period int) *SMA {
	return &SMA{period: period}
}

func (s *SMA) Name() string {
	return fmt.Sprintf("sma_%d", s.period)
}

func (s *SMA) WarmupPeriod() int {
	return s.period
}

func (s *SMA) Next(bar types.Bar) optional.Option[float64] {
	s.window = append(s.window, bar.Close)
	s.sum += bar.Close

	if len(s.window) > s.period {
		s.sum -= s.window[0]
		s.window = s.window[1:]
	}

	if len(s.window) < s.period {
		return optional.None[float64]()
	}

	return optional.Some(s.sum / float64(s.period))
}

func (s *SMA) Precompute(bars []types.Bar) []optional.Option[float64] {
	out := make([]optional.Option[float64], len(bars))
	sum := 0.0

	for i, bar := range bars {
		sum += bar.Close
		if i >= s.period {
			sum -= bars[i-s.period].Close
		}

		if i >= s.period-1 {
			out[i] = optional.Some(sum / float64(s.period))
		} else {
			out[i] = optional.None[float64]()
		}
	}

	return out
}

func (s *SMA) Reset() {
	s.window = nil
	s.sum = 0
}
