package broker

import "github.com/tidemark-lab/tidemark/internal/types"

// Filler decides how much of an order's remaining quantity a bar can absorb.
type Filler interface {
	// Fillable returns the executable quantity for this bar, at most remaining.
	Fillable(bar types.Bar, remaining float64) float64
}

// AllInFiller fills the full remaining quantity regardless of bar volume.
type AllInFiller struct{}

func (AllInFiller) Fillable(_ types.Bar, remaining float64) float64 {
	return remaining
}

// VolumeLimitFiller caps a single bar's execution at a fraction of the bar's
// traded volume. A bar with zero volume fills nothing, leaving the order
// pending for later bars.
type VolumeLimitFiller struct {
	// Limit is the fraction of bar volume available to one order (0.25 means
	// a quarter of the bar's volume).
	Limit float64
}

func (f VolumeLimitFiller) Fillable(bar types.Bar, remaining float64) float64 {
	available := bar.Volume * f.Limit
	if available <= 0 {
		return 0
	}

	if remaining < available {
		return remaining
	}

	return available
}

// NewFiller builds a filler from the configured volume limit; zero or
// negative means unlimited.
func NewFiller(volumeLimit float64) Filler {
	if volumeLimit <= 0 {
		return AllInFiller{}
	}

	return VolumeLimitFiller{Limit: volumeLimit}
}
