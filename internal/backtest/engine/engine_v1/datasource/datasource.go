// Package datasource provides the uniform bar-stream abstraction the engine
// consumes. A Feed yields time-ordered bars for one instrument; the engine is
// agnostic to the concrete source as long as timestamps are monotonically
// increasing.
package datasource

import (
	"github.com/moznion/go-optional"
	"github.com/tidemark-lab/tidemark/internal/types"
	"github.com/tidemark-lab/tidemark/pkg/errors"
)

// Feed is a time-ordered bar stream for one instrument.
type Feed interface {
	// Symbol is the instrument this feed carries.
	Symbol() string
	// Timeframe is the bar compression of this feed.
	Timeframe() types.Timeframe
	// Next returns the next bar, or None when the stream is exhausted.
	// Implementations must reject non-monotonic timestamps with a data error.
	Next() (optional.Option[types.Bar], error)
	// Count returns the total number of bars the feed will emit, where known.
	Count() (int, error)
	// Close releases any resources held by the feed.
	Close() error
}

// checkMonotonic validates bar ordering against the previously emitted bar.
// Strictly increasing timestamps are required; equal timestamps would make
// matching ambiguous.
func checkMonotonic(prev optional.Option[types.Bar], bar types.Bar) error {
	if err := bar.Validate(); err != nil {
		return err
	}

	if prev.IsSome() && !bar.Time.After(prev.Unwrap().Time) {
		return errors.Newf(errors.ErrCodeDataNotMonotonic,
			"bar at %s does not advance past previous bar at %s for %s",
			bar.Time, prev.Unwrap().Time, bar.Symbol)
	}

	return nil
}
