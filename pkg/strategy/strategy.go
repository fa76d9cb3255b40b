// Package strategy defines the contract between user trading logic and the
// backtest engine. A strategy only sees the ports on the Context it is
// handed; everything it can observe has already happened, so it cannot act
// on prices the engine has not revealed yet.
package strategy

import (
	goerrors "errors"

	"github.com/moznion/go-optional"
	"github.com/tidemark-lab/tidemark/internal/backtest/engine/engine_v1/cache"
	"github.com/tidemark-lab/tidemark/internal/logger"
	"github.com/tidemark-lab/tidemark/internal/types"
)

// ErrStopRun, returned from OnBar, ends the run cleanly after the current
// bar. It is not reported as a run error; OnStop still fires.
var ErrStopRun = goerrors.New("strategy requested stop")

// Broker is the order-management port offered to strategies. Orders
// submitted here are matched against later bars only.
type Broker interface {
	// Submit validates and enqueues an order request.
	Submit(req types.OrderRequest) (types.Order, error)
	// Cancel withdraws a pending order by id.
	Cancel(orderID string) error
	// CancelAll withdraws every pending order.
	CancelAll()
	// PendingOrders lists still-matchable orders in submission order.
	PendingOrders() []types.Order
	// Position returns the current position for the symbol.
	Position(symbol string) types.Position
	// ClosePosition submits a market order flattening the symbol's position.
	ClosePosition(symbol string) (types.Order, error)
	// Cash is the current cash balance.
	Cash() float64
	// Equity is cash plus open position value at the latest marks.
	Equity() float64
	// Size applies the configured sizing policy at the given price.
	Size(price float64) float64
}

// Data is the market-data port. Index 0 is the bar the strategy is currently
// handling; Ago(1) is the bar before it.
type Data interface {
	// Current returns the most recently revealed bar for the symbol.
	Current(symbol string) optional.Option[types.Bar]
	// Ago returns the bar n steps back from the current one.
	Ago(symbol string, n int) optional.Option[types.Bar]
	// History returns all revealed bars for the symbol, oldest first.
	History(symbol string) []types.Bar
	// Indicator returns the named indicator's value at the current bar,
	// None while the indicator is still warming up.
	Indicator(symbol string, name string, period int) (optional.Option[float64], error)
}

// Context carries the ports a strategy may use during a run.
type Context struct {
	Broker Broker
	Data   Data
	// Cache persists strategy state across bars within one run.
	Cache  cache.Cache
	Logger *logger.Logger
}

// Strategy is user trading logic driven by the engine. Callbacks run on the
// engine goroutine; no synchronization is needed inside them.
type Strategy interface {
	// Name identifies the strategy in results and logs.
	Name() string
	// Initialize receives the raw strategy config (typically YAML) before
	// the run starts.
	Initialize(config string) error
	// OnStart runs once before the first bar.
	OnStart(ctx Context) error
	// OnBar runs once per revealed bar, after pending orders were matched
	// against it.
	OnBar(ctx Context, bar types.Bar) error
	// OnOrderUpdate runs on every order state change caused by this run.
	OnOrderUpdate(ctx Context, order types.Order) error
	// OnStop runs once after the last bar, on every exit path.
	OnStop(ctx Context) error
}

// OpenObserver is an optional extension. When the engine runs with
// cheat_on_open enabled, strategies implementing it receive OnOpen with an
// open-only bar (high, low and close collapsed to the open) before pending
// orders are matched; market orders submitted there execute at that open.
type OpenObserver interface {
	OnOpen(ctx Context, bar types.Bar) error
}

// Versioned is an optional extension. Strategies built and shipped against a
// released engine can declare that release here; LoadStrategy rejects the
// strategy when major or minor versions diverge.
type Versioned interface {
	EngineVersion() string
}
