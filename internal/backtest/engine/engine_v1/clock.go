package engine

import (
	"github.com/moznion/go-optional"
	"github.com/tidemark-lab/tidemark/internal/backtest/engine/engine_v1/datasource"
	"github.com/tidemark-lab/tidemark/internal/types"
)

// Clock merges multiple feeds into one globally time-ordered bar stream. It
// keeps a one-bar lookahead per feed and always emits the earliest head;
// ties go to the earlier-registered feed. Equal consecutive timestamps from
// a single feed pass through unchanged, which is how replayed forming bars
// reach the engine.
type Clock struct {
	feeds  []datasource.Feed
	heads  []optional.Option[types.Bar]
	primed bool
}

func NewClock(feeds ...datasource.Feed) *Clock {
	return &Clock{
		feeds: feeds,
		heads: make([]optional.Option[types.Bar], len(feeds)),
	}
}

func (c *Clock) prime() error {
	for i, feed := range c.feeds {
		bar, err := feed.Next()
		if err != nil {
			return err
		}

		c.heads[i] = bar
	}

	c.primed = true

	return nil
}

// Next returns the next bar in global time order, None when every feed is
// exhausted.
func (c *Clock) Next() (optional.Option[types.Bar], error) {
	if !c.primed {
		if err := c.prime(); err != nil {
			return optional.None[types.Bar](), err
		}
	}

	earliest := -1

	for i, head := range c.heads {
		if head.IsNone() {
			continue
		}

		if earliest < 0 || head.Unwrap().Time.Before(c.heads[earliest].Unwrap().Time) {
			earliest = i
		}
	}

	if earliest < 0 {
		return optional.None[types.Bar](), nil
	}

	bar := c.heads[earliest]

	next, err := c.feeds[earliest].Next()
	if err != nil {
		return optional.None[types.Bar](), err
	}

	c.heads[earliest] = next

	return bar, nil
}

// TotalCount sums the bar counts of all feeds, used for progress reporting.
func (c *Clock) TotalCount() (int, error) {
	total := 0

	for _, feed := range c.feeds {
		count, err := feed.Count()
		if err != nil {
			return 0, err
		}

		total += count
	}

	return total, nil
}
