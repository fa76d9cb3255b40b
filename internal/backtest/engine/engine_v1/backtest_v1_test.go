package engine

import (
	"context"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/suite"
	"github.com/tidemark-lab/tidemark/internal/backtest/engine"
	"github.com/tidemark-lab/tidemark/internal/backtest/engine/engine_v1/datasource"
	"github.com/tidemark-lab/tidemark/internal/logger"
	"github.com/tidemark-lab/tidemark/internal/types"
	"github.com/tidemark-lab/tidemark/pkg/errors"
	"github.com/tidemark-lab/tidemark/pkg/strategy"
)

// scriptedStrategy drives the engine from test-provided closures.
type scriptedStrategy struct {
	name    string
	onBar   func(ctx strategy.Context, bar types.Bar) error
	onOpen  func(ctx strategy.Context, bar types.Bar) error
	updates []types.Order
	stops   int
}

func (s *scriptedStrategy) Name() string {
	if s.name == "" {
		return "scripted"
	}

	return s.name
}

func (s *scriptedStrategy) Initialize(config string) error { return nil }

func (s *scriptedStrategy) OnStart(ctx strategy.Context) error { return nil }

func (s *scriptedStrategy) OnBar(ctx strategy.Context, bar types.Bar) error {
	if s.onBar != nil {
		return s.onBar(ctx, bar)
	}

	return nil
}

func (s *scriptedStrategy) OnOrderUpdate(ctx strategy.Context, order types.Order) error {
	s.updates = append(s.updates, order)

	return nil
}

func (s *scriptedStrategy) OnStop(ctx strategy.Context) error {
	s.stops++

	return nil
}

// openObserver adds the cheat-on-open hook to scriptedStrategy.
type openObserver struct {
	scriptedStrategy
}

func (s *openObserver) OnOpen(ctx strategy.Context, bar types.Bar) error {
	if s.onOpen != nil {
		return s.onOpen(ctx, bar)
	}

	return nil
}

type BacktestV1TestSuite struct {
	suite.Suite
	start time.Time
}

func TestBacktestV1Suite(t *testing.T) {
	suite.Run(t, new(BacktestV1TestSuite))
}

func (s *BacktestV1TestSuite) SetupTest() {
	s.start = time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
}

// trendBars produces a rising series: open = 100+i, close = open+0.5.
func (s *BacktestV1TestSuite) trendBars(n int) []types.Bar {
	bars := make([]types.Bar, n)

	for i := range bars {
		open := 100.0 + float64(i)
		bars[i] = types.Bar{
			Symbol: "AAPL",
			Time:   s.start.Add(time.Duration(i) * time.Minute),
			Open:   open,
			High:   open + 1,
			Low:    open - 1,
			Close:  open + 0.5,
			Volume: 1000,
		}
	}

	return bars
}

func (s *BacktestV1TestSuite) newEngine(config string) *BacktestEngineV1 {
	eng := NewBacktestEngineV1().(*BacktestEngineV1)
	eng.log = logger.NewNopLogger()
	s.Require().NoError(eng.Initialize(config))

	return eng
}

func (s *BacktestV1TestSuite) TestMarketOrderFillsAtNextBarOpen() {
	eng := s.newEngine("initial_capital: 10000")

	var fillPrice float64

	strat := &scriptedStrategy{}
	strat.onBar = func(ctx strategy.Context, bar types.Bar) error {
		// Submit on the third bar only.
		if bar.Time.Equal(s.start.Add(2 * time.Minute)) {
			_, err := ctx.Broker.Submit(types.OrderRequest{
				Symbol:   "AAPL",
				Side:     types.SideBuy,
				Type:     types.OrderTypeMarket,
				Quantity: 10,
			})

			return err
		}

		return nil
	}

	s.Require().NoError(eng.LoadStrategy(strat))
	s.Require().NoError(eng.AddDataFeed(datasource.NewMemoryFeed("AAPL", types.Timeframe1m, s.trendBars(5))))

	result, err := eng.Run(context.Background(), engine.LifecycleCallbacks{})
	s.Require().NoError(err)

	for _, order := range strat.updates {
		if order.Status == types.OrderStatusFilled {
			fillPrice = order.AvgFillPrice()
		}
	}

	// Submitted during bar index 2, filled at bar index 3's open = 103.
	s.InDelta(103, fillPrice, 1e-9)
	s.Equal(5, result.BarsReplayed)
	s.Equal(1, strat.stops)
	s.Equal(s.start, result.StartTime)
	s.Equal(s.start.Add(4*time.Minute), result.EndTime)
}

func (s *BacktestV1TestSuite) TestOrderTimingCloseFillsSameBar() {
	eng := s.newEngine("order_timing: close")

	var fillPrice float64

	strat := &scriptedStrategy{}
	strat.onBar = func(ctx strategy.Context, bar types.Bar) error {
		if bar.Time.Equal(s.start.Add(2 * time.Minute)) {
			_, err := ctx.Broker.Submit(types.OrderRequest{
				Symbol:   "AAPL",
				Side:     types.SideBuy,
				Type:     types.OrderTypeMarket,
				Quantity: 10,
			})

			return err
		}

		return nil
	}

	s.Require().NoError(eng.LoadStrategy(strat))
	s.Require().NoError(eng.AddDataFeed(datasource.NewMemoryFeed("AAPL", types.Timeframe1m, s.trendBars(5))))

	_, err := eng.Run(context.Background(), engine.LifecycleCallbacks{})
	s.Require().NoError(err)

	for _, order := range strat.updates {
		if order.Status == types.OrderStatusFilled {
			fillPrice = order.AvgFillPrice()
		}
	}

	// Bar index 2 closes at 102.5; the opt-in trades on the observed close.
	s.InDelta(102.5, fillPrice, 1e-9)
}

func (s *BacktestV1TestSuite) TestCheatOnOpenFillsAtObservedOpen() {
	eng := s.newEngine("cheat_on_open: true")

	var fillPrice float64

	strat := &openObserver{}
	strat.onOpen = func(ctx strategy.Context, bar types.Bar) error {
		position := ctx.Broker.Position("AAPL")
		if bar.Time.Equal(s.start.Add(2*time.Minute)) && position.IsFlat() {
			_, err := ctx.Broker.Submit(types.OrderRequest{
				Symbol:   "AAPL",
				Side:     types.SideBuy,
				Type:     types.OrderTypeMarket,
				Quantity: 10,
			})

			return err
		}

		return nil
	}

	s.Require().NoError(eng.LoadStrategy(strat))
	s.Require().NoError(eng.AddDataFeed(datasource.NewMemoryFeed("AAPL", types.Timeframe1m, s.trendBars(5))))

	_, err := eng.Run(context.Background(), engine.LifecycleCallbacks{})
	s.Require().NoError(err)

	for _, order := range strat.updates {
		if order.Status == types.OrderStatusFilled {
			fillPrice = order.AvgFillPrice()
		}
	}

	// Submitted at bar index 2's open and matched within the same bar.
	s.InDelta(102, fillPrice, 1e-9)
}

// The engine must produce identical results in next and once modes, and on
// repeated runs.
func (s *BacktestV1TestSuite) TestOnceAndNextModesProduceIdenticalResults() {
	run := func(mode string) types.RunResult {
		eng := s.newEngine("execution_mode: " + mode)

		strat := &scriptedStrategy{}
		strat.onBar = func(ctx strategy.Context, bar types.Bar) error {
			fast, err := ctx.Data.Indicator(bar.Symbol, "sma", 2)
			if err != nil {
				return err
			}

			slow, err := ctx.Data.Indicator(bar.Symbol, "sma", 4)
			if err != nil {
				return err
			}

			if fast.IsNone() || slow.IsNone() {
				return nil
			}

			position := ctx.Broker.Position(bar.Symbol)

			if fast.Unwrap() > slow.Unwrap() && position.IsFlat() {
				_, err := ctx.Broker.Submit(types.OrderRequest{
					Symbol:   bar.Symbol,
					Side:     types.SideBuy,
					Type:     types.OrderTypeMarket,
					Quantity: 5,
				})

				return err
			}

			if fast.Unwrap() < slow.Unwrap() && position.IsLong() {
				_, err := ctx.Broker.ClosePosition(bar.Symbol)

				return err
			}

			return nil
		}

		// Oscillating closes so crossovers actually happen.
		bars := s.trendBars(30)
		for i := range bars {
			if i%6 >= 3 {
				bars[i].Close = bars[i].Open - 0.5
			}
		}

		s.Require().NoError(eng.LoadStrategy(strat))
		s.Require().NoError(eng.AddDataFeed(datasource.NewMemoryFeed("AAPL", types.Timeframe1m, bars)))

		result, err := eng.Run(context.Background(), engine.LifecycleCallbacks{})
		s.Require().NoError(err)

		return result
	}

	next := run("next")
	once := run("once")
	again := run("next")

	s.Equal(next.BarsReplayed, once.BarsReplayed)
	s.Require().Equal(len(next.Trades), len(once.Trades), "both modes must close the same trades")
	s.Equal(len(next.Trades), len(again.Trades), "repeated runs must be deterministic")

	for i := range next.Trades {
		s.InDelta(next.Trades[i].EntryPrice, once.Trades[i].EntryPrice, 1e-9)
		s.InDelta(next.Trades[i].ExitPrice, once.Trades[i].ExitPrice, 1e-9)
		s.InDelta(next.Trades[i].NetPnL, once.Trades[i].NetPnL, 1e-9)
	}

	s.InDelta(next.FinalAccount.Equity, once.FinalAccount.Equity, 1e-9)
	s.InDelta(next.FinalAccount.Equity, again.FinalAccount.Equity, 1e-9)
}

// minuteBar builds a flat one-minute bar at the given price.
func (s *BacktestV1TestSuite) minuteBar(minute int, price float64) types.Bar {
	return types.Bar{
		Symbol: "AAPL",
		Time:   s.start.Add(time.Duration(minute) * time.Minute),
		Open:   price,
		High:   price,
		Low:    price,
		Close:  price,
		Volume: 100,
	}
}

// A pending order must be able to fill on a later emission of a replayed
// forming bar when that emission's range reaches its level.
func (s *BacktestV1TestSuite) TestReplayedBarRefreshMatchesPendingOrders() {
	eng := s.newEngine("")

	submitted := false

	strat := &scriptedStrategy{}
	strat.onBar = func(ctx strategy.Context, bar types.Bar) error {
		if submitted {
			return nil
		}

		submitted = true
		_, err := ctx.Broker.Submit(types.OrderRequest{
			Symbol:     "AAPL",
			Side:       types.SideBuy,
			Type:       types.OrderTypeLimit,
			Quantity:   5,
			LimitPrice: 5,
		})

		return err
	}

	source := datasource.NewMemoryFeed("AAPL", types.Timeframe1m, []types.Bar{
		{Symbol: "AAPL", Time: s.start, Open: 10, High: 11, Low: 9.5, Close: 10.5, Volume: 100},
		{Symbol: "AAPL", Time: s.start.Add(time.Minute), Open: 4, High: 5.5, Low: 2, Close: 4, Volume: 100},
	})
	replayed, err := datasource.NewReplayer(source, types.Timeframe5m)
	s.Require().NoError(err)

	s.Require().NoError(eng.LoadStrategy(strat))
	s.Require().NoError(eng.AddDataFeed(replayed))

	_, err = eng.Run(context.Background(), engine.LifecycleCallbacks{})
	s.Require().NoError(err)

	var filled *types.Order

	for i := range strat.updates {
		if strat.updates[i].Status == types.OrderStatusFilled {
			filled = &strat.updates[i]
		}
	}

	s.Require().NotNil(filled, "the refreshed period range reaches the limit")
	s.InDelta(5, filled.AvgFillPrice(), 1e-9)
	s.InDelta(5, filled.FilledQuantity(), 1e-9)
}

// Indicator reads through a replaying feed must agree between the
// incremental and the precomputed execution modes.
func (s *BacktestV1TestSuite) TestReplayedIndicatorsAgreeAcrossModes() {
	type reading struct {
		fast optional.Option[float64]
		slow optional.Option[float64]
	}

	run := func(mode string) []reading {
		eng := s.newEngine("execution_mode: " + mode)

		var readings []reading

		strat := &scriptedStrategy{}
		strat.onBar = func(ctx strategy.Context, bar types.Bar) error {
			fast, err := ctx.Data.Indicator(bar.Symbol, "sma", 1)
			if err != nil {
				return err
			}

			slow, err := ctx.Data.Indicator(bar.Symbol, "sma", 2)
			if err != nil {
				return err
			}

			readings = append(readings, reading{fast: fast, slow: slow})

			return nil
		}

		source := datasource.NewMemoryFeed("AAPL", types.Timeframe1m, []types.Bar{
			s.minuteBar(0, 10),
			s.minuteBar(1, 30), // refresh of the 09:30 period
			s.minuteBar(5, 20), // new period
		})
		replayed, err := datasource.NewReplayer(source, types.Timeframe5m)
		s.Require().NoError(err)

		s.Require().NoError(eng.LoadStrategy(strat))
		s.Require().NoError(eng.AddDataFeed(replayed))

		_, err = eng.Run(context.Background(), engine.LifecycleCallbacks{})
		s.Require().NoError(err)

		return readings
	}

	next := run("next")
	once := run("once")

	s.Require().Len(next, 2)
	s.Require().Equal(len(next), len(once))

	for i := range next {
		s.Equal(next[i].fast, once[i].fast, "fast reading %d", i)
		s.Equal(next[i].slow, once[i].slow, "slow reading %d", i)
	}

	// First decision sees the period's first emission; the second sees the
	// completed previous period plus the new period's first emission.
	s.InDelta(10, next[0].fast.Unwrap(), 1e-9)
	s.InDelta(20, next[1].fast.Unwrap(), 1e-9)
	s.True(next[0].slow.IsNone())
	s.InDelta(25, next[1].slow.Unwrap(), 1e-9)
}

func (s *BacktestV1TestSuite) TestStrategyPanicBecomesError() {
	eng := s.newEngine("")

	strat := &scriptedStrategy{}
	strat.onBar = func(ctx strategy.Context, bar types.Bar) error {
		panic("boom")
	}

	s.Require().NoError(eng.LoadStrategy(strat))
	s.Require().NoError(eng.AddDataFeed(datasource.NewMemoryFeed("AAPL", types.Timeframe1m, s.trendBars(3))))

	_, err := eng.Run(context.Background(), engine.LifecycleCallbacks{})
	s.Require().Error(err)
	s.True(errors.HasCode(err, errors.ErrCodeStrategyPanic))
	s.Equal(1, strat.stops, "OnStop runs even when the strategy panicked")
}

func (s *BacktestV1TestSuite) TestStopRunEndsCleanly() {
	eng := s.newEngine("")

	strat := &scriptedStrategy{}
	strat.onBar = func(_ strategy.Context, bar types.Bar) error {
		if bar.Time.Equal(s.start.Add(2 * time.Minute)) {
			return strategy.ErrStopRun
		}

		return nil
	}

	s.Require().NoError(eng.LoadStrategy(strat))
	s.Require().NoError(eng.AddDataFeed(datasource.NewMemoryFeed("AAPL", types.Timeframe1m, s.trendBars(10))))

	result, err := eng.Run(context.Background(), engine.LifecycleCallbacks{})
	s.Require().NoError(err)
	s.Equal(3, result.BarsReplayed)
	s.Equal(1, strat.stops)
}

func (s *BacktestV1TestSuite) TestContextCancellationStopsRun() {
	eng := s.newEngine("")

	ctx, cancel := context.WithCancel(context.Background())

	strat := &scriptedStrategy{}
	strat.onBar = func(_ strategy.Context, bar types.Bar) error {
		if bar.Time.Equal(s.start.Add(2 * time.Minute)) {
			cancel()
		}

		return nil
	}

	s.Require().NoError(eng.LoadStrategy(strat))
	s.Require().NoError(eng.AddDataFeed(datasource.NewMemoryFeed("AAPL", types.Timeframe1m, s.trendBars(100))))

	result, err := eng.Run(ctx, engine.LifecycleCallbacks{})
	s.Require().ErrorIs(err, context.Canceled)
	s.Less(result.BarsReplayed, 100)
	s.Equal(1, strat.stops, "OnStop runs on cancellation")
}

func (s *BacktestV1TestSuite) TestDateWindowSkipsWarmupBars() {
	eng := s.newEngine("start_time: 2024-01-02T09:33:00Z\nend_time: 2024-01-02T09:36:00Z")

	var seen []time.Time

	strat := &scriptedStrategy{}
	strat.onBar = func(_ strategy.Context, bar types.Bar) error {
		seen = append(seen, bar.Time)

		return nil
	}

	s.Require().NoError(eng.LoadStrategy(strat))
	s.Require().NoError(eng.AddDataFeed(datasource.NewMemoryFeed("AAPL", types.Timeframe1m, s.trendBars(20))))

	result, err := eng.Run(context.Background(), engine.LifecycleCallbacks{})
	s.Require().NoError(err)

	s.Require().NotEmpty(seen)
	s.Equal(s.start.Add(3*time.Minute), seen[0])
	s.Equal(s.start.Add(6*time.Minute), seen[len(seen)-1])
	s.Equal(4, result.BarsReplayed)
}

func (s *BacktestV1TestSuite) TestWarmupBarsStillFeedIndicators() {
	eng := s.newEngine("start_time: 2024-01-02T09:40:00Z")

	var firstValue float64

	var sawValue bool

	strat := &scriptedStrategy{}
	strat.onBar = func(ctx strategy.Context, bar types.Bar) error {
		if sawValue {
			return nil
		}

		value, err := ctx.Data.Indicator(bar.Symbol, "sma", 5)
		if err != nil {
			return err
		}

		if value.IsSome() {
			firstValue = value.Unwrap()
			sawValue = true
		}

		return nil
	}

	s.Require().NoError(eng.LoadStrategy(strat))
	s.Require().NoError(eng.AddDataFeed(datasource.NewMemoryFeed("AAPL", types.Timeframe1m, s.trendBars(15))))

	_, err := eng.Run(context.Background(), engine.LifecycleCallbacks{})
	s.Require().NoError(err)

	// First in-window bar is index 10; its 5-bar SMA spans closes of bars
	// 6..10 = 106.5..110.5.
	s.Require().True(sawValue)
	s.InDelta(108.5, firstValue, 1e-9)
}

func (s *BacktestV1TestSuite) TestRunWithoutStrategyFails() {
	eng := s.newEngine("")
	s.Require().NoError(eng.AddDataFeed(datasource.NewMemoryFeed("AAPL", types.Timeframe1m, s.trendBars(3))))

	_, err := eng.Run(context.Background(), engine.LifecycleCallbacks{})
	s.True(errors.HasCode(err, errors.ErrCodeStrategyNotLoaded))
}

func (s *BacktestV1TestSuite) TestLifecycleCallbacksFire() {
	eng := s.newEngine("")

	strat := &scriptedStrategy{}
	s.Require().NoError(eng.LoadStrategy(strat))
	s.Require().NoError(eng.AddDataFeed(datasource.NewMemoryFeed("AAPL", types.Timeframe1m, s.trendBars(5))))

	var started, processed, ended int

	onStart := engine.OnRunStartCallback(func(runID string, totalBars int) error {
		started++

		s.NotEmpty(runID)
		s.Equal(5, totalBars)

		return nil
	})
	onProcess := engine.OnProcessDataCallback(func(current, total int) error {
		processed++

		return nil
	})
	onEnd := engine.OnRunEndCallback(func(result types.RunResult) {
		ended++

		s.Equal(5, result.BarsReplayed)
	})

	callbacks := engine.LifecycleCallbacks{}
	callbacks.OnRunStart = &onStart
	callbacks.OnProcessData = &onProcess
	callbacks.OnRunEnd = &onEnd

	_, err := eng.Run(context.Background(), callbacks)
	s.Require().NoError(err)

	s.Equal(1, started)
	s.Equal(5, processed)
	s.Equal(1, ended)
}
