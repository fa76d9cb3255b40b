// Package indicator provides streaming technical indicators with two
// execution paths: Next consumes bars one at a time, Precompute evaluates a
// whole history in one pass. Both paths produce identical values for the
// same input, which is what lets the engine switch between incremental and
// precomputed runs without changing results.
package indicator

import (
	"github.com/moznion/go-optional"
	"github.com/tidemark-lab/tidemark/internal/types"
)

// Indicator is a single-output streaming indicator. Values are None until
// the warmup period has elapsed.
type Indicator interface {
	Name() string
	// WarmupPeriod is the number of bars consumed before the first value.
	WarmupPeriod() int
	// Next feeds one bar and returns the indicator value at that bar.
	Next(bar types.Bar) optional.Option[float64]
	// Precompute evaluates the full history at once. The result has one
	// entry per input bar and matches what repeated Next calls would yield.
	Precompute(bars []types.Bar) []optional.Option[float64]
	// Reset clears incremental state so Next starts from scratch.
	Reset()
}
