package datasource

import (
	"github.com/moznion/go-optional"
	"github.com/tidemark-lab/tidemark/internal/types"
)

// MemoryFeed streams bars from an in-memory slice. Used for tests and for
// callers that already hold their data.
type MemoryFeed struct {
	symbol    string
	timeframe types.Timeframe
	bars      []types.Bar
	cursor    int
	prev      optional.Option[types.Bar]
}

func NewMemoryFeed(symbol string, timeframe types.Timeframe, bars []types.Bar) *MemoryFeed {
	return &MemoryFeed{
		symbol:    symbol,
		timeframe: timeframe,
		bars:      bars,
		cursor:    0,
		prev:      optional.None[types.Bar](),
	}
}

// Symbol implements Feed.
func (m *MemoryFeed) Symbol() string {
	return m.symbol
}

// Timeframe implements Feed.
func (m *MemoryFeed) Timeframe() types.Timeframe {
	return m.timeframe
}

// Next implements Feed.
func (m *MemoryFeed) Next() (optional.Option[types.Bar], error) {
	if m.cursor >= len(m.bars) {
		return optional.None[types.Bar](), nil
	}

	bar := m.bars[m.cursor]
	bar.Symbol = m.symbol

	if err := checkMonotonic(m.prev, bar); err != nil {
		return optional.None[types.Bar](), err
	}

	m.cursor++
	m.prev = optional.Some(bar)

	return optional.Some(bar), nil
}

// Count implements Feed.
func (m *MemoryFeed) Count() (int, error) {
	return len(m.bars), nil
}

// Close implements Feed.
func (m *MemoryFeed) Close() error {
	return nil
}
