package types

import (
	"time"

	"github.com/tidemark-lab/tidemark/pkg/errors"
)

// Timeframe is the fixed time granularity of a bar stream.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe30m Timeframe = "30m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
	Timeframe1w  Timeframe = "1w"
)

// Duration returns the wall-clock length of one bar at this timeframe.
func (t Timeframe) Duration() (time.Duration, error) {
	switch t {
	case Timeframe1m:
		return time.Minute, nil
	case Timeframe5m:
		return 5 * time.Minute, nil
	case Timeframe15m:
		return 15 * time.Minute, nil
	case Timeframe30m:
		return 30 * time.Minute, nil
	case Timeframe1h:
		return time.Hour, nil
	case Timeframe4h:
		return 4 * time.Hour, nil
	case Timeframe1d:
		return 24 * time.Hour, nil
	case Timeframe1w:
		return 7 * 24 * time.Hour, nil
	default:
		return 0, errors.Newf(errors.ErrCodeUnsupportedTimeframe, "unsupported timeframe: %s", t)
	}
}

// Bar is one OHLCV sample for an instrument at a fixed time granularity.
// Bars are immutable once emitted by a feed.
type Bar struct {
	Symbol       string    `yaml:"symbol" json:"symbol" csv:"symbol"`
	Time         time.Time `yaml:"time" json:"time" csv:"time"`
	Open         float64   `yaml:"open" json:"open" csv:"open"`
	High         float64   `yaml:"high" json:"high" csv:"high"`
	Low          float64   `yaml:"low" json:"low" csv:"low"`
	Close        float64   `yaml:"close" json:"close" csv:"close"`
	Volume       float64   `yaml:"volume" json:"volume" csv:"volume"`
	OpenInterest float64   `yaml:"open_interest" json:"open_interest" csv:"open_interest"`
}

// IsZero reports whether the bar carries no data.
func (b Bar) IsZero() bool {
	return b.Time.IsZero() && b.Open == 0 && b.High == 0 && b.Low == 0 && b.Close == 0
}

// Validate checks the internal consistency of the bar's price range.
func (b Bar) Validate() error {
	if b.Time.IsZero() {
		return errors.New(errors.ErrCodeDataMalformed, "bar has zero timestamp")
	}

	if b.High < b.Low {
		return errors.Newf(errors.ErrCodeDataMalformed, "bar high %f below low %f at %s", b.High, b.Low, b.Time)
	}

	if b.Open > b.High || b.Open < b.Low {
		return errors.Newf(errors.ErrCodeDataMalformed, "bar open %f outside range [%f, %f] at %s", b.Open, b.Low, b.High, b.Time)
	}

	if b.Close > b.High || b.Close < b.Low {
		return errors.Newf(errors.ErrCodeDataMalformed, "bar close %f outside range [%f, %f] at %s", b.Close, b.Low, b.High, b.Time)
	}

	if b.Volume < 0 {
		return errors.Newf(errors.ErrCodeDataMalformed, "bar volume %f is negative at %s", b.Volume, b.Time)
	}

	return nil
}
