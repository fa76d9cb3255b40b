package indicator

import (
	"github.com/tidemark-lab/tidemark/pkg/errors"
)

// Factory builds an indicator with the given lookback period.
type Factory func(period int) Indicator

// factories is the explicit registry; adding an indicator means adding a
// line here, there is no init-time magic.
var factories = map[string]Factory{
	"sma": func(period int) Indicator { return NewSMA(period) },
	"ema": func(period int) Indicator { return NewEMA(period) },
	"rsi": func(period int) Indicator { return NewRSI(period) },
	"atr": func(period int) Indicator { return NewATR(period) },
}

// New builds a registered indicator by name.
func New(name string, period int) (Indicator, error) {
	factory, ok := factories[name]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeStrategyConfigError, "unknown indicator %q", name)
	}

	if period <= 0 {
		return nil, errors.Newf(errors.ErrCodeStrategyConfigError, "indicator %q requires a positive period, got %d", name, period)
	}

	return factory(period), nil
}

// Names lists the registered indicator names.
func Names() []string {
	out := make([]string, 0, len(factories))
	for name := range factories {
		out = append(out, name)
	}

	return out
}
