package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/tidemark-lab/tidemark/internal/backtest/engine/engine_v1/datasource"
	"github.com/tidemark-lab/tidemark/internal/types"
)

type ClockTestSuite struct {
	suite.Suite
	start time.Time
}

func TestClockSuite(t *testing.T) {
	suite.Run(t, new(ClockTestSuite))
}

func (s *ClockTestSuite) SetupTest() {
	s.start = time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
}

func (s *ClockTestSuite) bar(symbol string, minute int) types.Bar {
	return types.Bar{
		Symbol: symbol,
		Time:   s.start.Add(time.Duration(minute) * time.Minute),
		Open:   100,
		High:   101,
		Low:    99,
		Close:  100,
		Volume: 1,
	}
}

func (s *ClockTestSuite) drain(clock *Clock) []types.Bar {
	var out []types.Bar

	for {
		bar, err := clock.Next()
		s.Require().NoError(err)

		if bar.IsNone() {
			return out
		}

		out = append(out, bar.Unwrap())
	}
}

func (s *ClockTestSuite) TestInterleavesFeedsByTime() {
	aapl := datasource.NewMemoryFeed("AAPL", types.Timeframe1m, []types.Bar{
		s.bar("AAPL", 0), s.bar("AAPL", 2), s.bar("AAPL", 4),
	})
	msft := datasource.NewMemoryFeed("MSFT", types.Timeframe1m, []types.Bar{
		s.bar("MSFT", 1), s.bar("MSFT", 3),
	})

	bars := s.drain(NewClock(aapl, msft))

	s.Require().Len(bars, 5)

	for i, want := range []string{"AAPL", "MSFT", "AAPL", "MSFT", "AAPL"} {
		s.Equal(want, bars[i].Symbol)
	}

	for i := 1; i < len(bars); i++ {
		s.False(bars[i].Time.Before(bars[i-1].Time))
	}
}

func (s *ClockTestSuite) TestTieGoesToEarlierRegisteredFeed() {
	aapl := datasource.NewMemoryFeed("AAPL", types.Timeframe1m, []types.Bar{s.bar("AAPL", 0)})
	msft := datasource.NewMemoryFeed("MSFT", types.Timeframe1m, []types.Bar{s.bar("MSFT", 0)})

	bars := s.drain(NewClock(msft, aapl))

	s.Require().Len(bars, 2)
	s.Equal("MSFT", bars[0].Symbol)
	s.Equal("AAPL", bars[1].Symbol)
}

func (s *ClockTestSuite) TestEmptyFeedIsSkipped() {
	empty := datasource.NewMemoryFeed("MSFT", types.Timeframe1m, nil)
	aapl := datasource.NewMemoryFeed("AAPL", types.Timeframe1m, []types.Bar{s.bar("AAPL", 0)})

	bars := s.drain(NewClock(empty, aapl))

	s.Require().Len(bars, 1)
	s.Equal("AAPL", bars[0].Symbol)
}

func (s *ClockTestSuite) TestTotalCount() {
	aapl := datasource.NewMemoryFeed("AAPL", types.Timeframe1m, []types.Bar{
		s.bar("AAPL", 0), s.bar("AAPL", 1),
	})
	msft := datasource.NewMemoryFeed("MSFT", types.Timeframe1m, []types.Bar{s.bar("MSFT", 0)})

	total, err := NewClock(aapl, msft).TotalCount()
	s.Require().NoError(err)
	s.Equal(3, total)
}
