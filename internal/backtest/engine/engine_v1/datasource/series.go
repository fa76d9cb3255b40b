package datasource

import (
	"github.com/moznion/go-optional"
	"github.com/tidemark-lab/tidemark/internal/types"
)

// Series is the revealed history of one feed: the current bar plus lagged
// access by index. The engine appends one bar per step; strategies only read.
type Series struct {
	symbol    string
	timeframe types.Timeframe
	bars      []types.Bar
}

func NewSeries(symbol string, timeframe types.Timeframe) *Series {
	return &Series{
		symbol:    symbol,
		timeframe: timeframe,
		bars:      nil,
	}
}

func (s *Series) Symbol() string {
	return s.symbol
}

func (s *Series) Timeframe() types.Timeframe {
	return s.timeframe
}

// Append reveals a new bar. Called only by the engine clock.
func (s *Series) Append(bar types.Bar) {
	s.bars = append(s.bars, bar)
}

// ReplaceLast swaps the current bar in place. Used when a replaying feed
// re-emits the forming bar of the same period.
func (s *Series) ReplaceLast(bar types.Bar) {
	if len(s.bars) == 0 {
		s.bars = append(s.bars, bar)

		return
	}

	s.bars[len(s.bars)-1] = bar
}

// Len is the number of revealed bars.
func (s *Series) Len() int {
	return len(s.bars)
}

// Current returns the most recently revealed bar.
func (s *Series) Current() optional.Option[types.Bar] {
	if len(s.bars) == 0 {
		return optional.None[types.Bar]()
	}

	return optional.Some(s.bars[len(s.bars)-1])
}

// Ago returns the bar revealed `ago` steps before the current one.
// Ago(0) is the current bar.
func (s *Series) Ago(ago int) optional.Option[types.Bar] {
	idx := len(s.bars) - 1 - ago
	if ago < 0 || idx < 0 {
		return optional.None[types.Bar]()
	}

	return optional.Some(s.bars[idx])
}

// Bars returns the full revealed history, oldest first. The returned slice
// must not be mutated.
func (s *Series) Bars() []types.Bar {
	return s.bars
}
