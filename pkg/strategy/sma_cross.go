package strategy

import (
	"github.com/go-playground/validator/v10"
	"github.com/moznion/go-optional"
	"github.com/tidemark-lab/tidemark/internal/backtest/engine/engine_v1/cache"
	"github.com/tidemark-lab/tidemark/internal/types"
	"github.com/tidemark-lab/tidemark/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// SMACrossConfig configures the bundled moving-average crossover strategy.
type SMACrossConfig struct {
	Symbol     string `yaml:"symbol" validate:"required"`
	FastPeriod int    `yaml:"fast_period" validate:"gt=0"`
	SlowPeriod int    `yaml:"slow_period" validate:"gt=0"`
	// StopLossPercent attaches a protective stop below the entry; zero
	// disables it.
	StopLossPercent float64 `yaml:"stop_loss_percent" validate:"gte=0,lt=1"`
}

// SMACross goes long when the fast average crosses above the slow one and
// flattens on the cross back down. It ships as a working reference for the
// Strategy contract.
type SMACross struct {
	config SMACrossConfig
}

func NewSMACross() *SMACross {
	return &SMACross{}
}

func (s *SMACross) Name() string {
	return "sma_cross"
}

func (s *SMACross) Initialize(config string) error {
	if err := yaml.Unmarshal([]byte(config), &s.config); err != nil {
		return errors.Wrap(errors.ErrCodeStrategyConfigError, "failed to parse strategy config", err)
	}

	if err := validator.New().Struct(&s.config); err != nil {
		return errors.Wrap(errors.ErrCodeStrategyConfigError, "invalid strategy config", err)
	}

	if s.config.FastPeriod >= s.config.SlowPeriod {
		return errors.Newf(errors.ErrCodeStrategyConfigError,
			"fast period %d must be below slow period %d", s.config.FastPeriod, s.config.SlowPeriod)
	}

	return nil
}

func (s *SMACross) OnStart(ctx Context) error {
	ctx.Logger.Info("starting crossover run",
		zap.String("symbol", s.config.Symbol),
		zap.Int("fast", s.config.FastPeriod),
		zap.Int("slow", s.config.SlowPeriod),
	)

	return nil
}

func (s *SMACross) OnBar(ctx Context, bar types.Bar) error {
	if bar.Symbol != s.config.Symbol {
		return nil
	}

	fast, err := ctx.Data.Indicator(bar.Symbol, "sma", s.config.FastPeriod)
	if err != nil {
		return err
	}

	slow, err := ctx.Data.Indicator(bar.Symbol, "sma", s.config.SlowPeriod)
	if err != nil {
		return err
	}

	if fast.IsNone() || slow.IsNone() {
		return nil
	}

	diff := fast.Unwrap() - slow.Unwrap()
	prev := cache.GetAs[float64](ctx.Cache, "sma_cross_diff")
	ctx.Cache.Set("sma_cross_diff", diff)

	if prev.IsNone() {
		return nil
	}

	position := ctx.Broker.Position(bar.Symbol)

	switch {
	case prev.Unwrap() <= 0 && diff > 0 && position.IsFlat():
		quantity := ctx.Broker.Size(bar.Close)
		if quantity <= 0 {
			return nil
		}

		req := types.OrderRequest{
			Symbol:   bar.Symbol,
			Side:     types.SideBuy,
			Type:     types.OrderTypeMarket,
			Quantity: quantity,
		}
		if s.config.StopLossPercent > 0 {
			req.StopLoss = optional.Some(bar.Close * (1 - s.config.StopLossPercent))
		}

		if _, err := ctx.Broker.Submit(req); err != nil {
			return err
		}
	case prev.Unwrap() >= 0 && diff < 0 && position.IsLong():
		ctx.Broker.CancelAll()

		if _, err := ctx.Broker.ClosePosition(bar.Symbol); err != nil {
			return err
		}
	}

	return nil
}

func (s *SMACross) OnOrderUpdate(ctx Context, order types.Order) error {
	if order.Status == types.OrderStatusRejected {
		ctx.Logger.Warn("order rejected",
			zap.String("id", order.ID),
			zap.String("reason", order.Reason.Message),
		)
	}

	return nil
}

func (s *SMACross) OnStop(ctx Context) error {
	ctx.Logger.Info("crossover run finished", zap.Float64("equity", ctx.Broker.Equity()))

	return nil
}
