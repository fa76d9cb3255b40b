package engine

import (
	"context"
	goerrors "errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"github.com/tidemark-lab/tidemark/internal/backtest/engine"
	"github.com/tidemark-lab/tidemark/internal/backtest/engine/engine_v1/broker"
	"github.com/tidemark-lab/tidemark/internal/backtest/engine/engine_v1/cache"
	"github.com/tidemark-lab/tidemark/internal/backtest/engine/engine_v1/commission"
	"github.com/tidemark-lab/tidemark/internal/backtest/engine/engine_v1/datasource"
	"github.com/tidemark-lab/tidemark/internal/backtest/engine/engine_v1/ledger"
	"github.com/tidemark-lab/tidemark/internal/backtest/engine/engine_v1/sizer"
	"github.com/tidemark-lab/tidemark/internal/indicator"
	"github.com/tidemark-lab/tidemark/internal/logger"
	"github.com/tidemark-lab/tidemark/internal/types"
	"github.com/tidemark-lab/tidemark/internal/version"
	"github.com/tidemark-lab/tidemark/pkg/errors"
	"github.com/tidemark-lab/tidemark/pkg/strategy"
	"go.uber.org/zap"
)

// indicatorState is one lazily created indicator bound to a symbol. In next
// mode the value advances incrementally with every revealed bar; in once
// mode the whole history is evaluated up front and indexed by bar position.
// Both paths yield identical values for identical input.
type indicatorState struct {
	ind    indicator.Indicator
	symbol string

	last   optional.Option[float64]
	values []optional.Option[float64]
}

// runState bundles everything that lives for exactly one run.
type runState struct {
	ledger     *ledger.Ledger
	broker     *broker.Broker
	sizer      sizer.Sizer
	cache      cache.Cache
	series     map[string]*datasource.Series
	timeframes map[string]types.Timeframe
	indicators map[string]*indicatorState
	history    map[string][]types.Bar
	emissions  map[string]int
	mode       ExecutionMode

	started     bool
	strategyErr error
}

// BacktestEngineV1 replays bar feeds through a strategy with realistic
// matching and a full audit trail.
type BacktestEngineV1 struct {
	config         BacktestEngineV1Config
	log            *logger.Logger
	state          *BacktestState
	feeds          []datasource.Feed
	strategy       strategy.Strategy
	strategyConfig string
	resultsFolder  string
}

func NewBacktestEngineV1() engine.Engine {
	return &BacktestEngineV1{
		config: EmptyConfig(),
	}
}

// Initialize implements engine.Engine.
func (b *BacktestEngineV1) Initialize(config string) error {
	parsed, err := ParseConfig(config)
	if err != nil {
		return err
	}

	b.config = parsed

	if b.log == nil {
		b.log, err = logger.NewLogger()
		if err != nil {
			return err
		}
	}

	b.state, err = NewBacktestState(b.log)
	if err != nil {
		return err
	}

	if err := b.state.Initialize(); err != nil {
		return err
	}

	b.log.Debug("backtest engine initialized", zap.String("config", config))

	return nil
}

// SetStrategyConfig implements engine.Engine.
func (b *BacktestEngineV1) SetStrategyConfig(config string) error {
	b.strategyConfig = config

	return nil
}

// SetResultsFolder implements engine.Engine.
func (b *BacktestEngineV1) SetResultsFolder(folder string) error {
	b.resultsFolder = folder

	return nil
}

// LoadStrategy implements engine.Engine.
func (b *BacktestEngineV1) LoadStrategy(s strategy.Strategy) error {
	if s == nil {
		return errors.New(errors.ErrCodeStrategyNotLoaded, "strategy is nil")
	}

	if versioned, ok := s.(strategy.Versioned); ok {
		if err := version.CheckCompatibility(version.GetVersion(), versioned.EngineVersion()); err != nil {
			return errors.Wrap(errors.ErrCodeVersionMismatch, "strategy is incompatible with this engine", err)
		}
	}

	b.strategy = s

	return nil
}

// AddDataFeed implements engine.Engine.
func (b *BacktestEngineV1) AddDataFeed(feeds ...datasource.Feed) error {
	if len(feeds) == 0 {
		return errors.New(errors.ErrCodeDataSourceNotReady, "no feeds given")
	}

	b.feeds = append(b.feeds, feeds...)

	return nil
}

// GetConfigSchema implements engine.Engine.
func (b *BacktestEngineV1) GetConfigSchema() (string, error) {
	return b.config.GenerateSchemaJSON()
}

// safeCall runs one strategy callback, converting a panic into an error so a
// faulty strategy cannot take the engine down.
func safeCall(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf(errors.ErrCodeStrategyPanic, "strategy panicked in %s: %v", name, r)
		}
	}()

	return fn()
}

// Run implements engine.Engine.
func (b *BacktestEngineV1) Run(ctx context.Context, callbacks engine.LifecycleCallbacks) (types.RunResult, error) {
	result := types.RunResult{}

	if b.strategy == nil {
		return result, errors.New(errors.ErrCodeStrategyNotLoaded, "no strategy loaded")
	}

	if len(b.feeds) == 0 {
		return result, errors.New(errors.ErrCodeDataSourceNotReady, "no data feeds registered")
	}

	if b.state == nil {
		return result, errors.New(errors.ErrCodeStateInitFailed, "engine not initialized")
	}

	slippage, err := b.config.Slippage.Model()
	if err != nil {
		return result, err
	}

	comm := commission.New(b.config.Commission)
	ldg := ledger.New(b.log, b.config.InitialCapital, comm, b.config.DecimalPrecision)
	run := &runState{
		ledger: ldg,
		broker: broker.New(b.log, ldg, comm, slippage, broker.Config{
			VolumeLimit:            b.config.VolumeLimit,
			AllowMultiplePositions: b.config.AllowMultiplePositions,
			UnlimitedMargin:        b.config.UnlimitedMargin,
			BracketPriority:        b.config.BracketPriority,
		}),
		sizer:      sizer.New(b.config.Sizing),
		cache:      cache.NewCacheV1(),
		series:     make(map[string]*datasource.Series),
		timeframes: make(map[string]types.Timeframe),
		indicators: make(map[string]*indicatorState),
		history:    make(map[string][]types.Bar),
		emissions:  make(map[string]int),
		mode:       b.config.ExecutionMode,
	}

	for _, feed := range b.feeds {
		run.timeframes[feed.Symbol()] = feed.Timeframe()
	}

	strategyCtx := strategy.Context{
		Broker: &brokerPort{run: run, strategyName: b.strategy.Name()},
		Data:   &dataPort{run: run},
		Cache:  run.cache,
		Logger: b.log,
	}

	run.broker.OnOrderUpdate(func(order types.Order) {
		if err := b.state.RecordOrder(order); err != nil {
			b.log.Error("failed to record order", zap.Error(err))
		}

		if !run.started {
			return
		}

		err := safeCall("OnOrderUpdate", func() error {
			return b.strategy.OnOrderUpdate(strategyCtx, order)
		})
		if err != nil && run.strategyErr == nil {
			run.strategyErr = err
		}
	})

	if err := b.strategy.Initialize(b.strategyConfig); err != nil {
		return result, err
	}

	runID := uuid.New().String()
	result.RunID = runID
	result.StrategyName = b.strategy.Name()
	result.InitialCash = b.config.InitialCapital

	clock := NewClock(b.feeds...)

	var bars []types.Bar

	total := 0

	if run.mode == ExecutionModeOnce {
		// Preload the whole stream, then replay from memory.
		for {
			bar, err := clock.Next()
			if err != nil {
				return result, err
			}

			if bar.IsNone() {
				break
			}

			bars = append(bars, bar.Unwrap())
			run.history[bar.Unwrap().Symbol] = append(run.history[bar.Unwrap().Symbol], bar.Unwrap())
		}

		total = len(bars)
	} else {
		total, err = clock.TotalCount()
		if err != nil {
			return result, err
		}
	}

	if callbacks.OnRunStart != nil {
		if err := (*callbacks.OnRunStart)(runID, total); err != nil {
			return result, err
		}
	}

	defer func() {
		if callbacks.OnRunEnd != nil {
			(*callbacks.OnRunEnd)(result)
		}
	}()

	if err := safeCall("OnStart", func() error { return b.strategy.OnStart(strategyCtx) }); err != nil {
		return result, err
	}

	run.started = true

	runErr := b.replay(ctx, run, strategyCtx, clock, bars, total, callbacks, &result)

	run.started = false

	if stopErr := safeCall("OnStop", func() error { return b.strategy.OnStop(strategyCtx) }); stopErr != nil && runErr == nil {
		runErr = stopErr
	}

	if finishErr := b.finishRun(run, &result); finishErr != nil && runErr == nil {
		runErr = finishErr
	}

	return result, runErr
}

// replay drives the per-bar pipeline: match pending orders against the
// revealed bar, advance history and indicators, run the strategy, then mark
// to market.
func (b *BacktestEngineV1) replay(
	ctx context.Context,
	run *runState,
	strategyCtx strategy.Context,
	clock *Clock,
	preloaded []types.Bar,
	total int,
	callbacks engine.LifecycleCallbacks,
	result *types.RunResult,
) error {
	current := 0
	cursor := 0

	nextBar := func() (optional.Option[types.Bar], error) {
		if run.mode == ExecutionModeOnce {
			if cursor >= len(preloaded) {
				return optional.None[types.Bar](), nil
			}

			bar := preloaded[cursor]
			cursor++

			return optional.Some(bar), nil
		}

		return clock.Next()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		next, err := nextBar()
		if err != nil {
			return err
		}

		if next.IsNone() {
			return nil
		}

		bar := next.Unwrap()
		current++

		if b.config.EndTime.IsSome() && bar.Time.After(b.config.EndTime.Unwrap()) {
			return nil
		}

		series, ok := run.series[bar.Symbol]
		if !ok {
			timeframe, known := run.timeframes[bar.Symbol]
			if !known {
				timeframe = types.Timeframe1m
			}

			series = datasource.NewSeries(bar.Symbol, timeframe)
			run.series[bar.Symbol] = series
		}

		// Bars before the configured window only warm up history and
		// indicators.
		warmup := b.config.StartTime.IsSome() && bar.Time.Before(b.config.StartTime.Unwrap())

		run.broker.SetClock(bar.Time)

		// A replayed forming bar repeats its timestamp. The refreshed range
		// can satisfy pending orders the earlier emissions could not, so the
		// broker re-matches against it; the strategy decision point stays at
		// the period's first emission.
		if last := series.Current(); last.IsSome() && last.Unwrap().Time.Equal(bar.Time) {
			series.ReplaceLast(bar)
			run.emissions[bar.Symbol]++

			if run.mode == ExecutionModeNext {
				for _, st := range run.indicators {
					if st.symbol != bar.Symbol {
						continue
					}

					st.ind.Reset()

					for _, revealed := range series.Bars() {
						st.last = st.ind.Next(revealed)
					}
				}
			}

			if warmup {
				continue
			}

			run.broker.ProcessBar(bar)

			if run.strategyErr != nil {
				return run.strategyErr
			}

			snapshot := run.ledger.MarkToMarket(bar.Time, map[string]float64{bar.Symbol: bar.Close})
			if err := b.state.RecordSnapshot(snapshot); err != nil {
				return err
			}

			if err := run.ledger.CheckInvariant(); err != nil {
				return err
			}

			if callbacks.OnProcessData != nil {
				if err := (*callbacks.OnProcessData)(current, total); err != nil {
					return err
				}
			}

			continue
		}

		if !warmup && b.config.CheatOnOpen {
			if observer, ok := b.strategy.(strategy.OpenObserver); ok {
				openBar := bar
				openBar.High = bar.Open
				openBar.Low = bar.Open
				openBar.Close = bar.Open
				openBar.Volume = 0

				err := safeCall("OnOpen", func() error { return observer.OnOpen(strategyCtx, openBar) })
				if err != nil {
					return err
				}
			}
		}

		run.emissions[bar.Symbol]++

		if !warmup {
			run.broker.ProcessBar(bar)
		}

		series.Append(bar)

		if run.mode == ExecutionModeNext {
			for _, st := range run.indicators {
				if st.symbol == bar.Symbol {
					st.last = st.ind.Next(bar)
				}
			}
		}

		if warmup {
			continue
		}

		if result.StartTime.IsZero() {
			result.StartTime = bar.Time
		}

		result.EndTime = bar.Time
		result.BarsReplayed++

		if err := safeCall("OnBar", func() error { return b.strategy.OnBar(strategyCtx, bar) }); err != nil {
			if goerrors.Is(err, strategy.ErrStopRun) {
				return nil
			}

			return err
		}

		if run.strategyErr != nil {
			return run.strategyErr
		}

		if b.config.OrderTiming == OrderTimingClose {
			run.broker.MatchAtClose(bar)
		}

		snapshot := run.ledger.MarkToMarket(bar.Time, map[string]float64{bar.Symbol: bar.Close})
		if err := b.state.RecordSnapshot(snapshot); err != nil {
			return err
		}

		if err := run.ledger.CheckInvariant(); err != nil {
			return err
		}

		if callbacks.OnProcessData != nil {
			if err := (*callbacks.OnProcessData)(current, total); err != nil {
				return err
			}
		}
	}
}

// finishRun flushes the audit trail, computes stats and writes artifacts.
func (b *BacktestEngineV1) finishRun(run *runState, result *types.RunResult) error {
	for _, fill := range run.broker.Fills() {
		if err := b.state.RecordFill(fill); err != nil {
			return err
		}
	}

	for _, trade := range run.ledger.ClosedTrades() {
		if err := b.state.RecordTrade(trade); err != nil {
			return err
		}
	}

	result.Trades = run.ledger.ClosedTrades()
	result.EquityCurve = run.ledger.EquityCurve()

	if curve := run.ledger.EquityCurve(); len(curve) > 0 {
		result.FinalAccount = curve[len(curve)-1]
	}

	if b.resultsFolder == "" {
		return nil
	}

	if err := os.MkdirAll(b.resultsFolder, 0755); err != nil {
		return errors.Wrap(errors.ErrCodeStateWriteFailed, "failed to create results folder", err)
	}

	unrealized := make(map[string]float64)
	for _, pos := range run.ledger.Positions() {
		if last := run.series[pos.Symbol]; last != nil {
			if bar := last.Current(); bar.IsSome() {
				unrealized[pos.Symbol] = pos.UnrealizedPnL(bar.Unwrap().Close)
			}
		}
	}

	stats, err := b.state.GetStats(unrealized)
	if err != nil {
		return err
	}

	if err := types.WriteTradeStats(filepath.Join(b.resultsFolder, "stats.yaml"), stats); err != nil {
		return errors.Wrap(errors.ErrCodeStateWriteFailed, "failed to write stats", err)
	}

	if err := b.state.Write(b.resultsFolder); err != nil {
		return err
	}

	b.log.Info("run artifacts written",
		zap.String("folder", b.resultsFolder),
		zap.Int("trades", len(result.Trades)),
	)

	return nil
}

// brokerPort adapts the simulated broker and ledger to the strategy contract.
type brokerPort struct {
	run          *runState
	strategyName string
}

func (p *brokerPort) Submit(req types.OrderRequest) (types.Order, error) {
	return p.run.broker.Submit(req, p.strategyName)
}

func (p *brokerPort) Cancel(orderID string) error {
	return p.run.broker.Cancel(orderID)
}

func (p *brokerPort) CancelAll() {
	p.run.broker.CancelAll()
}

func (p *brokerPort) PendingOrders() []types.Order {
	return p.run.broker.PendingOrders()
}

func (p *brokerPort) Position(symbol string) types.Position {
	return p.run.ledger.Position(symbol)
}

func (p *brokerPort) ClosePosition(symbol string) (types.Order, error) {
	pos := p.run.ledger.Position(symbol)
	if pos.IsFlat() {
		return types.Order{}, errors.Newf(errors.ErrCodeInvalidOrder, "no open position for %s", symbol)
	}

	side := types.SideSell
	quantity := pos.Size

	if pos.IsShort() {
		side = types.SideBuy
		quantity = -pos.Size
	}

	return p.run.broker.Submit(types.OrderRequest{
		Symbol:   symbol,
		Side:     side,
		Type:     types.OrderTypeMarket,
		Quantity: quantity,
		Reason:   types.Reason{Reason: types.OrderReasonClose},
	}, p.strategyName)
}

func (p *brokerPort) Cash() float64 {
	return p.run.ledger.Cash()
}

func (p *brokerPort) Equity() float64 {
	return p.run.ledger.Equity()
}

func (p *brokerPort) Size(price float64) float64 {
	return p.run.sizer.Size(p.run.ledger.Cash(), p.run.ledger.Equity(), price)
}

// dataPort adapts revealed history and indicators to the strategy contract.
type dataPort struct {
	run *runState
}

func (p *dataPort) Current(symbol string) optional.Option[types.Bar] {
	if series, ok := p.run.series[symbol]; ok {
		return series.Current()
	}

	return optional.None[types.Bar]()
}

func (p *dataPort) Ago(symbol string, n int) optional.Option[types.Bar] {
	if series, ok := p.run.series[symbol]; ok {
		return series.Ago(n)
	}

	return optional.None[types.Bar]()
}

func (p *dataPort) History(symbol string) []types.Bar {
	if series, ok := p.run.series[symbol]; ok {
		return series.Bars()
	}

	return nil
}

// Indicator lazily instantiates the requested indicator. In next mode the
// revealed history is replayed through it once to catch up; in once mode the
// preloaded history is evaluated up front. Either way later reads advance in
// lockstep with the bar stream.
func (p *dataPort) Indicator(symbol string, name string, period int) (optional.Option[float64], error) {
	key := fmt.Sprintf("%s/%s_%d", symbol, name, period)

	st, ok := p.run.indicators[key]
	if !ok {
		ind, err := indicator.New(name, period)
		if err != nil {
			return optional.None[float64](), err
		}

		st = &indicatorState{ind: ind, symbol: symbol}

		if p.run.mode == ExecutionModeOnce {
			st.values = precomputeEmissions(ind, p.run.history[symbol])
		} else if series, exists := p.run.series[symbol]; exists {
			for _, bar := range series.Bars() {
				st.last = ind.Next(bar)
			}
		}

		p.run.indicators[key] = st
	}

	if p.run.mode == ExecutionModeOnce {
		idx := p.run.emissions[symbol] - 1
		if idx < 0 || idx >= len(st.values) {
			return optional.None[float64](), nil
		}

		return st.values[idx], nil
	}

	return st.last, nil
}

// precomputeEmissions evaluates the indicator once per emission of the raw
// preloaded stream. A repeated timestamp is a forming-bar refresh: it
// replaces the previous emission, so the indicator is rebuilt over the
// deduplicated history exactly as the incremental path recomputes from its
// Series. Streams without refreshes take the vectorized path.
func precomputeEmissions(ind indicator.Indicator, stream []types.Bar) []optional.Option[float64] {
	replayed := false

	for i := 1; i < len(stream); i++ {
		if stream[i].Time.Equal(stream[i-1].Time) {
			replayed = true

			break
		}
	}

	if !replayed {
		return ind.Precompute(stream)
	}

	values := make([]optional.Option[float64], 0, len(stream))
	history := make([]types.Bar, 0, len(stream))

	for _, bar := range stream {
		if n := len(history); n > 0 && history[n-1].Time.Equal(bar.Time) {
			history[n-1] = bar
			ind.Reset()

			var last optional.Option[float64]

			for _, revealed := range history {
				last = ind.Next(revealed)
			}

			values = append(values, last)

			continue
		}

		history = append(history, bar)
		values = append(values, ind.Next(bar))
	}

	ind.Reset()

	return values
}
