package indicator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/tidemark-lab/tidemark/internal/types"
)

type IndicatorTestSuite struct {
	suite.Suite
}

func TestIndicatorSuite(t *testing.T) {
	suite.Run(t, new(IndicatorTestSuite))
}

func barsFromCloses(closes []float64) []types.Bar {
	start := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	bars := make([]types.Bar, len(closes))

	for i, c := range closes {
		bars[i] = types.Bar{
			Symbol: "AAPL",
			Time:   start.Add(time.Duration(i) * time.Minute),
			Open:   c,
			High:   c + 1,
			Low:    c - 1,
			Close:  c,
			Volume: 100,
		}
	}

	return bars
}

func (s *IndicatorTestSuite) TestSMAValues() {
	sma := NewSMA(3)
	bars := barsFromCloses([]float64{1, 2, 3, 4, 5})

	s.True(sma.Next(bars[0]).IsNone())
	s.True(sma.Next(bars[1]).IsNone())
	s.InDelta(2, sma.Next(bars[2]).Unwrap(), 1e-9)
	s.InDelta(3, sma.Next(bars[3]).Unwrap(), 1e-9)
	s.InDelta(4, sma.Next(bars[4]).Unwrap(), 1e-9)
}

func (s *IndicatorTestSuite) TestEMASeedsWithSimpleAverage() {
	ema := NewEMA(3)
	bars := barsFromCloses([]float64{2, 4, 6, 8})

	s.True(ema.Next(bars[0]).IsNone())
	s.True(ema.Next(bars[1]).IsNone())
	s.InDelta(4, ema.Next(bars[2]).Unwrap(), 1e-9)
	// alpha = 0.5: 0.5*8 + 0.5*4 = 6
	s.InDelta(6, ema.Next(bars[3]).Unwrap(), 1e-9)
}

func (s *IndicatorTestSuite) TestRSIAllGainsIsHundred() {
	rsi := NewRSI(3)
	bars := barsFromCloses([]float64{1, 2, 3, 4, 5})

	var last float64

	for _, bar := range bars {
		if v := rsi.Next(bar); v.IsSome() {
			last = v.Unwrap()
		}
	}

	s.InDelta(100, last, 1e-9)
}

func (s *IndicatorTestSuite) TestATRWarmup() {
	atr := NewATR(3)
	bars := barsFromCloses([]float64{10, 11, 12, 13})

	var got []bool
	for _, bar := range bars {
		got = append(got, atr.Next(bar).IsSome())
	}

	s.Equal([]bool{false, false, false, true}, got)
}

// Precompute must agree with the incremental path bar for bar; the engine
// relies on this to produce identical runs in both execution modes.
func (s *IndicatorTestSuite) TestPrecomputeMatchesIncremental() {
	closes := []float64{10, 12, 11, 13, 15, 14, 16, 18, 17, 19, 21, 20}
	bars := barsFromCloses(closes)

	tests := []struct {
		name   string
		period int
	}{
		{"sma", 4},
		{"ema", 4},
		{"rsi", 4},
		{"atr", 4},
	}

	for _, tc := range tests {
		s.Run(tc.name, func() {
			ind, err := New(tc.name, tc.period)
			s.Require().NoError(err)

			precomputed := ind.Precompute(bars)
			s.Require().Len(precomputed, len(bars))

			ind.Reset()

			for i, bar := range bars {
				incremental := ind.Next(bar)
				s.Equal(precomputed[i].IsSome(), incremental.IsSome(), "bar %d presence", i)

				if incremental.IsSome() {
					s.InDelta(precomputed[i].Unwrap(), incremental.Unwrap(), 1e-9, "bar %d value", i)
				}
			}
		})
	}
}

func (s *IndicatorTestSuite) TestRegistryRejectsUnknown() {
	_, err := New("vwap", 10)
	s.Error(err)

	_, err = New("sma", 0)
	s.Error(err)
}
