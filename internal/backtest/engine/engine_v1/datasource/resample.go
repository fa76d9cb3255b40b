package datasource

import (
	"time"

	"github.com/moznion/go-optional"
	"github.com/tidemark-lab/tidemark/internal/types"
	"github.com/tidemark-lab/tidemark/pkg/errors"
)

// Resampler aggregates a lower-timeframe feed into a higher compression,
// emitting one bar per target period and only once the period has closed.
type Resampler struct {
	source Feed
	target types.Timeframe
	period time.Duration

	bucket  optional.Option[types.Bar]
	pending optional.Option[types.Bar]
	done    bool
}

// NewResampler wraps the source feed, compressing it to the target timeframe.
// The target period must be a multiple of the source period.
func NewResampler(source Feed, target types.Timeframe) (*Resampler, error) {
	sourcePeriod, err := source.Timeframe().Duration()
	if err != nil {
		return nil, err
	}

	targetPeriod, err := target.Duration()
	if err != nil {
		return nil, err
	}

	if targetPeriod <= sourcePeriod || targetPeriod%sourcePeriod != 0 {
		return nil, errors.Newf(errors.ErrCodeUnsupportedTimeframe,
			"cannot resample %s to %s", source.Timeframe(), target)
	}

	return &Resampler{
		source:  source,
		target:  target,
		period:  targetPeriod,
		bucket:  optional.None[types.Bar](),
		pending: optional.None[types.Bar](),
		done:    false,
	}, nil
}

// Symbol implements Feed.
func (r *Resampler) Symbol() string {
	return r.source.Symbol()
}

// Timeframe implements Feed.
func (r *Resampler) Timeframe() types.Timeframe {
	return r.target
}

// merge folds a source bar into the forming aggregate.
func merge(bucket types.Bar, bar types.Bar) types.Bar {
	if bar.High > bucket.High {
		bucket.High = bar.High
	}

	if bar.Low < bucket.Low {
		bucket.Low = bar.Low
	}

	bucket.Close = bar.Close
	bucket.Volume += bar.Volume
	bucket.OpenInterest = bar.OpenInterest

	return bucket
}

// bucketStart truncates a timestamp to the target period boundary.
func (r *Resampler) bucketStart(ts time.Time) time.Time {
	return ts.Truncate(r.period)
}

// Next implements Feed. A completed period is emitted as soon as a source bar
// belonging to the following period arrives, or when the source is exhausted.
func (r *Resampler) Next() (optional.Option[types.Bar], error) {
	for !r.done {
		opt, err := r.source.Next()
		if err != nil {
			return optional.None[types.Bar](), err
		}

		if opt.IsNone() {
			r.done = true

			break
		}

		bar := opt.Unwrap()
		start := r.bucketStart(bar.Time)

		if r.bucket.IsNone() {
			fresh := bar
			fresh.Time = start
			r.bucket = optional.Some(fresh)

			continue
		}

		current := r.bucket.Unwrap()
		if start.Equal(current.Time) {
			r.bucket = optional.Some(merge(current, bar))

			continue
		}

		// Source bar opened a new period: the formed aggregate is complete.
		fresh := bar
		fresh.Time = start
		r.bucket = optional.Some(fresh)

		return optional.Some(current), nil
	}

	// Flush the trailing partial period once the source is exhausted.
	if r.bucket.IsSome() {
		last := r.bucket.Unwrap()
		r.bucket = optional.None[types.Bar]()

		return optional.Some(last), nil
	}

	return optional.None[types.Bar](), nil
}

// Count implements Feed. The exact emitted count is not known ahead of time;
// the source count is an upper bound used for progress reporting.
func (r *Resampler) Count() (int, error) {
	return r.source.Count()
}

// Close implements Feed.
func (r *Resampler) Close() error {
	return r.source.Close()
}

// Replayer re-emits the forming aggregate of a higher timeframe on every
// source bar, so strategies can observe a period build up tick by tick. The
// final emission for each period carries the completed bar.
type Replayer struct {
	source Feed
	target types.Timeframe
	period time.Duration

	bucket optional.Option[types.Bar]
	done   bool
}

// NewReplayer wraps the source feed, replaying it at the target timeframe.
func NewReplayer(source Feed, target types.Timeframe) (*Replayer, error) {
	sourcePeriod, err := source.Timeframe().Duration()
	if err != nil {
		return nil, err
	}

	targetPeriod, err := target.Duration()
	if err != nil {
		return nil, err
	}

	if targetPeriod <= sourcePeriod || targetPeriod%sourcePeriod != 0 {
		return nil, errors.Newf(errors.ErrCodeUnsupportedTimeframe,
			"cannot replay %s as %s", source.Timeframe(), target)
	}

	return &Replayer{
		source: source,
		target: target,
		period: targetPeriod,
		bucket: optional.None[types.Bar](),
		done:   false,
	}, nil
}

// Symbol implements Feed.
func (r *Replayer) Symbol() string {
	return r.source.Symbol()
}

// Timeframe implements Feed.
func (r *Replayer) Timeframe() types.Timeframe {
	return r.target
}

// Next implements Feed.
func (r *Replayer) Next() (optional.Option[types.Bar], error) {
	if r.done {
		return optional.None[types.Bar](), nil
	}

	opt, err := r.source.Next()
	if err != nil {
		return optional.None[types.Bar](), err
	}

	if opt.IsNone() {
		r.done = true

		return optional.None[types.Bar](), nil
	}

	bar := opt.Unwrap()
	start := bar.Time.Truncate(r.period)

	if r.bucket.IsSome() && r.bucket.Unwrap().Time.Equal(start) {
		r.bucket = optional.Some(merge(r.bucket.Unwrap(), bar))
	} else {
		fresh := bar
		fresh.Time = start
		r.bucket = optional.Some(fresh)
	}

	return r.bucket, nil
}

// Count implements Feed.
func (r *Replayer) Count() (int, error) {
	return r.source.Count()
}

// Close implements Feed.
func (r *Replayer) Close() error {
	return r.source.Close()
}
