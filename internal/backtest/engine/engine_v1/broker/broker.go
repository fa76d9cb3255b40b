// Package broker simulates order acceptance, matching and execution against
// revealed bars. Orders submitted while a bar is being processed only see
// later bars, so strategies can never trade on prices they have not been
// shown yet.
package broker

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"github.com/tidemark-lab/tidemark/internal/backtest/engine/engine_v1/commission"
	"github.com/tidemark-lab/tidemark/internal/backtest/engine/engine_v1/ledger"
	"github.com/tidemark-lab/tidemark/internal/logger"
	"github.com/tidemark-lab/tidemark/internal/types"
	"github.com/tidemark-lab/tidemark/pkg/errors"
	"go.uber.org/zap"
)

const remainingEpsilon = 1e-9

// BracketPriority decides which bracket child wins when a single bar touches
// both the take-profit and the stop-loss level.
type BracketPriority string

const (
	// BracketPriorityStopLoss assumes the adverse move happened first. This
	// is the conservative default.
	BracketPriorityStopLoss BracketPriority = "stop_loss"
	// BracketPriorityTakeProfit assumes the favorable move happened first.
	BracketPriorityTakeProfit BracketPriority = "take_profit"
)

// Config carries the execution-quality knobs of the simulated broker.
type Config struct {
	// VolumeLimit caps one order's per-bar execution at this fraction of bar
	// volume; zero disables the cap.
	VolumeLimit float64
	// AllowMultiplePositions permits adding to an existing position on the
	// same symbol. When false, exposure-increasing orders on a non-flat
	// symbol are rejected at submission.
	AllowMultiplePositions bool
	// UnlimitedMargin disables the cash check at execution time.
	UnlimitedMargin bool
	BracketPriority BracketPriority
}

// bracketSpec holds the child levels of a parent order until the parent fills.
type bracketSpec struct {
	takeProfit optional.Option[float64]
	stopLoss   optional.Option[float64]
}

// Broker is the simulated execution venue of a backtest run. It owns the
// pending-order queue (kept in submission order), turns matches into fills
// and applies them to the ledger. Not safe for concurrent use.
type Broker struct {
	logger     *logger.Logger
	ledger     *ledger.Ledger
	commission commission.Info
	matcher    *Matcher
	filler     Filler
	config     Config

	now      time.Time
	orders   map[string]*types.Order
	pending  []*types.Order
	brackets map[string]bracketSpec
	fills    []types.Fill

	onUpdate func(types.Order)
}

// New wires a broker over the given ledger and execution models.
func New(log *logger.Logger, ldg *ledger.Ledger, comm commission.Info, slippage SlippageModel, cfg Config) *Broker {
	if cfg.BracketPriority == "" {
		cfg.BracketPriority = BracketPriorityStopLoss
	}

	return &Broker{
		logger:     log,
		ledger:     ldg,
		commission: comm,
		matcher:    NewMatcher(slippage),
		filler:     NewFiller(cfg.VolumeLimit),
		config:     cfg,
		orders:     make(map[string]*types.Order),
		brackets:   make(map[string]bracketSpec),
	}
}

// OnOrderUpdate registers the callback invoked on every order state change.
// The callback receives a copy and must not retain pointers into the broker.
func (b *Broker) OnOrderUpdate(fn func(types.Order)) {
	b.onUpdate = fn
}

// SetClock advances the broker's notion of current time. The engine calls it
// before delivering each bar.
func (b *Broker) SetClock(ts time.Time) {
	b.now = ts
}

func (b *Broker) emit(order *types.Order) {
	if b.onUpdate != nil {
		b.onUpdate(*order)
	}
}

// Ledger exposes the account state backing this broker.
func (b *Broker) Ledger() *ledger.Ledger {
	return b.ledger
}

// Submit validates a request and enqueues it for matching against later
// bars. Returns the accepted order snapshot.
func (b *Broker) Submit(req types.OrderRequest, strategyName string) (types.Order, error) {
	if err := req.Validate(); err != nil {
		return types.Order{}, err
	}

	if req.Quantity <= 0 {
		return types.Order{}, errors.Newf(errors.ErrCodeInvalidQuantity, "order quantity must be positive, got %f", req.Quantity)
	}

	if req.ValidUntil.IsSome() && !b.now.IsZero() && b.now.After(req.ValidUntil.Unwrap()) {
		order := b.reject(req, strategyName, types.Reason{
			Reason:  types.OrderReasonDateWindow,
			Message: "validity window already elapsed",
		})

		return order, errors.Newf(errors.ErrCodeOrderOutsideWindow,
			"order validity %s already elapsed at %s", req.ValidUntil.Unwrap(), b.now)
	}

	if !b.config.AllowMultiplePositions && b.increasesExposure(req.Symbol, req.Side, req.Quantity) {
		order := b.reject(req, strategyName, types.Reason{
			Reason:  types.OrderReasonMultiPos,
			Message: "adding to an open position is disabled",
		})

		return order, errors.Newf(errors.ErrCodePositionLimitReached,
			"adding to an open %s position is disabled", req.Symbol)
	}

	tif := req.TimeInForce
	if tif == "" {
		tif = types.TimeInForceGTC
	}

	reason := req.Reason
	if reason.Reason == "" {
		reason.Reason = types.OrderReasonStrategy
	}

	order := &types.Order{
		ID:           uuid.New().String(),
		Symbol:       req.Symbol,
		Side:         req.Side,
		Type:         req.Type,
		Quantity:     req.Quantity,
		LimitPrice:   req.LimitPrice,
		StopPrice:    req.StopPrice,
		TrailAmount:  req.TrailAmount,
		TrailPercent: req.TrailPercent,
		TimeInForce:  tif,
		ValidUntil:   req.ValidUntil,
		Status:       types.OrderStatusCreated,
		SubmittedAt:  b.now,
		StrategyName: strategyName,
		Reason:       reason,
	}

	b.orders[order.ID] = order
	b.emit(order)

	order.Status = types.OrderStatusSubmitted
	b.emit(order)

	if req.TakeProfit.IsSome() || req.StopLoss.IsSome() {
		b.brackets[order.ID] = bracketSpec{takeProfit: req.TakeProfit, stopLoss: req.StopLoss}
	}

	b.ledger.SetStrategyName(req.Symbol, strategyName)
	b.pending = append(b.pending, order)
	order.Status = types.OrderStatusAccepted

	b.logger.Debug("order accepted",
		zap.String("id", order.ID),
		zap.String("symbol", order.Symbol),
		zap.String("side", string(order.Side)),
		zap.String("type", string(order.Type)),
		zap.Float64("quantity", order.Quantity),
	)
	b.emit(order)

	return *order, nil
}

// reject records a submission-time policy rejection so the audit trail and
// the order update stream carry it.
func (b *Broker) reject(req types.OrderRequest, strategyName string, reason types.Reason) types.Order {
	order := &types.Order{
		ID:           uuid.New().String(),
		Symbol:       req.Symbol,
		Side:         req.Side,
		Type:         req.Type,
		Quantity:     req.Quantity,
		LimitPrice:   req.LimitPrice,
		StopPrice:    req.StopPrice,
		TrailAmount:  req.TrailAmount,
		TrailPercent: req.TrailPercent,
		TimeInForce:  req.TimeInForce,
		ValidUntil:   req.ValidUntil,
		Status:       types.OrderStatusRejected,
		SubmittedAt:  b.now,
		StrategyName: strategyName,
		Reason:       reason,
	}

	b.orders[order.ID] = order
	b.emit(order)

	return *order
}

// increasesExposure reports whether a fill on this side would grow the
// absolute position on the symbol.
func (b *Broker) increasesExposure(symbol string, side types.Side, quantity float64) bool {
	pos := b.ledger.Position(symbol)
	if pos.IsFlat() {
		return false
	}

	if side == types.SideBuy {
		return pos.IsLong()
	}

	if pos.IsShort() {
		return true
	}

	// A sell larger than the long would flip into a short.
	return quantity > pos.Size+remainingEpsilon
}

// Cancel withdraws a pending order; its one-cancels-other siblings are
// cancelled in the same step.
func (b *Broker) Cancel(orderID string) error {
	order, ok := b.orders[orderID]
	if !ok {
		return errors.Newf(errors.ErrCodeOrderNotFound, "unknown order %s", orderID)
	}

	if !order.IsPending() {
		return errors.Newf(errors.ErrCodeOrderNotPending, "order %s is %s", orderID, order.Status)
	}

	b.terminate(order, types.OrderStatusCancelled, types.Reason{Reason: types.OrderReasonClose, Message: "cancelled by strategy"})
	b.cancelOCOSiblings(order)
	b.compactPending()

	return nil
}

// CancelAll withdraws every pending order.
func (b *Broker) CancelAll() {
	for _, order := range b.pending {
		if order.IsPending() {
			b.terminate(order, types.OrderStatusCancelled, types.Reason{Reason: types.OrderReasonClose, Message: "cancel all"})
		}
	}

	b.compactPending()
}

// GetOrder returns a snapshot of any known order.
func (b *Broker) GetOrder(orderID string) (types.Order, error) {
	order, ok := b.orders[orderID]
	if !ok {
		return types.Order{}, errors.Newf(errors.ErrCodeOrderNotFound, "unknown order %s", orderID)
	}

	return *order, nil
}

// PendingOrders returns snapshots of the still-matchable orders in
// submission order.
func (b *Broker) PendingOrders() []types.Order {
	out := make([]types.Order, 0, len(b.pending))
	for _, order := range b.pending {
		if order.IsPending() {
			out = append(out, *order)
		}
	}

	return out
}

// Orders returns snapshots of every order the broker has seen, sorted by
// submission time then id for determinism.
func (b *Broker) Orders() []types.Order {
	out := make([]types.Order, 0, len(b.orders))
	for _, order := range b.orders {
		out = append(out, *order)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.Before(out[j].SubmittedAt)
		}

		return out[i].ID < out[j].ID
	})

	return out
}

// Fills returns the append-only execution log of the whole run.
func (b *Broker) Fills() []types.Fill {
	return b.fills
}

// ProcessBar matches the pending queue against one revealed bar. Orders are
// tried in submission order; bracket children activated by a fill join the
// back of the queue and may execute within the same bar. After matching,
// trailing stops ratchet from the bar close.
func (b *Broker) ProcessBar(bar types.Bar) {
	b.now = bar.Time

	// Index loop: executions may append activated bracket children.
	for i := 0; i < len(b.pending); i++ {
		order := b.pending[i]
		if !order.IsPending() || order.Symbol != bar.Symbol {
			continue
		}

		if order.ValidUntil.IsSome() && bar.Time.After(order.ValidUntil.Unwrap()) {
			b.terminate(order, types.OrderStatusExpired, types.Reason{Reason: types.OrderReasonExpired})
			b.cancelOCOSiblings(order)

			continue
		}

		price, ok := b.matcher.Evaluate(order, bar)
		if ok {
			if quantity := b.filler.Fillable(bar, order.Remaining()); quantity > 0 {
				b.execute(order, bar.Time, price, quantity, bar)
			}
		}

		// Fill-or-kill: whatever this bar could not absorb is cancelled.
		if order.TimeInForce == types.TimeInForceFOK && order.IsPending() {
			b.terminate(order, types.OrderStatusCancelled, types.Reason{Reason: types.OrderReasonExpired, Message: "fill-or-kill remainder"})
			b.cancelOCOSiblings(order)
		}
	}

	for _, order := range b.pending {
		if order.IsPending() && order.Symbol == bar.Symbol {
			AdjustTrailing(order, bar.Close)
		}
	}

	b.compactPending()
}

// MatchAtClose fills pending market orders for the bar's symbol at the bar
// close. The engine uses it when execution timing is set to the close of the
// decision bar instead of the next open.
func (b *Broker) MatchAtClose(bar types.Bar) {
	b.now = bar.Time

	for i := 0; i < len(b.pending); i++ {
		order := b.pending[i]
		if !order.IsPending() || order.Symbol != bar.Symbol || order.Type != types.OrderTypeMarket {
			continue
		}

		if quantity := b.filler.Fillable(bar, order.Remaining()); quantity > 0 {
			b.execute(order, bar.Time, b.matcher.AtClose(order, bar), quantity, bar)
		}
	}

	b.compactPending()
}

// execute books one fill: commission, cash check, ledger application, order
// status transition, and bracket/OCO lifecycle on completion.
func (b *Broker) execute(order *types.Order, ts time.Time, price float64, quantity float64, bar types.Bar) {
	comm := b.commission.Calculate(quantity, price)

	if !b.config.UnlimitedMargin && b.fillIncreasesExposure(order) && !b.ledger.CanAfford(quantity, price, comm) {
		b.terminate(order, types.OrderStatusRejected, types.Reason{
			Reason:  types.OrderReasonNoFunds,
			Message: "insufficient cash at execution",
		})
		b.cancelOCOSiblings(order)

		return
	}

	fill := types.Fill{
		OrderID:    order.ID,
		Symbol:     order.Symbol,
		Side:       order.Side,
		Time:       ts,
		Price:      price,
		Quantity:   quantity,
		Commission: comm,
		Partial:    quantity < order.Remaining()-remainingEpsilon,
	}

	if _, err := b.ledger.ApplyFill(fill); err != nil {
		b.logger.Error("fill application failed",
			zap.String("order_id", order.ID),
			zap.Error(err),
		)
		b.terminate(order, types.OrderStatusRejected, types.Reason{Reason: types.OrderReasonBadParams, Message: err.Error()})

		return
	}

	order.Fills = append(order.Fills, fill)
	b.fills = append(b.fills, fill)

	if order.Remaining() <= remainingEpsilon {
		order.Status = types.OrderStatusFilled
	} else {
		order.Status = types.OrderStatusPartiallyFilled
	}

	b.logger.Debug("order executed",
		zap.String("id", order.ID),
		zap.Float64("price", price),
		zap.Float64("quantity", quantity),
		zap.String("status", string(order.Status)),
	)
	b.emit(order)

	if order.Status == types.OrderStatusFilled {
		b.cancelOCOSiblings(order)
		b.activateBracket(order, bar)
	}
}

// fillIncreasesExposure reports whether filling the order grows the absolute
// position, which is what requires cash or margin.
func (b *Broker) fillIncreasesExposure(order *types.Order) bool {
	pos := b.ledger.Position(order.Symbol)
	if pos.IsFlat() {
		return true
	}

	if order.Side == types.SideBuy {
		return pos.IsLong()
	}

	return pos.IsShort()
}

// activateBracket turns a filled parent's stored levels into live exit
// orders sharing one one-cancels-other group. The configured priority
// decides queue order, which is what breaks the tie when a single bar
// touches both levels.
func (b *Broker) activateBracket(parent *types.Order, bar types.Bar) {
	spec, ok := b.brackets[parent.ID]
	if !ok {
		return
	}

	delete(b.brackets, parent.ID)

	group := uuid.New().String()
	exitSide := parent.Side.Opposite()

	var children []*types.Order

	if spec.stopLoss.IsSome() {
		children = append(children, &types.Order{
			ID:           uuid.New().String(),
			Symbol:       parent.Symbol,
			Side:         exitSide,
			Type:         types.OrderTypeStop,
			Quantity:     parent.Quantity,
			StopPrice:    spec.stopLoss.Unwrap(),
			TimeInForce:  types.TimeInForceGTC,
			Status:       types.OrderStatusAccepted,
			SubmittedAt:  bar.Time,
			ParentID:     parent.ID,
			OCOGroup:     group,
			StrategyName: parent.StrategyName,
			Reason:       types.Reason{Reason: types.OrderReasonStopLoss},
		})
	}

	if spec.takeProfit.IsSome() {
		children = append(children, &types.Order{
			ID:           uuid.New().String(),
			Symbol:       parent.Symbol,
			Side:         exitSide,
			Type:         types.OrderTypeLimit,
			Quantity:     parent.Quantity,
			LimitPrice:   spec.takeProfit.Unwrap(),
			TimeInForce:  types.TimeInForceGTC,
			Status:       types.OrderStatusAccepted,
			SubmittedAt:  bar.Time,
			ParentID:     parent.ID,
			OCOGroup:     group,
			StrategyName: parent.StrategyName,
			Reason:       types.Reason{Reason: types.OrderReasonTakeProfit},
		})
	}

	if b.config.BracketPriority == BracketPriorityTakeProfit {
		for i, j := 0, len(children)-1; i < j; i, j = i+1, j-1 {
			children[i], children[j] = children[j], children[i]
		}
	}

	for _, child := range children {
		b.orders[child.ID] = child
		b.pending = append(b.pending, child)
		b.emit(child)
	}
}

// cancelOCOSiblings cancels every still-pending member of the order's group.
func (b *Broker) cancelOCOSiblings(order *types.Order) {
	if order.OCOGroup == "" {
		return
	}

	for _, sibling := range b.pending {
		if sibling.ID == order.ID || sibling.OCOGroup != order.OCOGroup {
			continue
		}

		if sibling.IsPending() {
			b.terminate(sibling, types.OrderStatusCancelled, types.Reason{Reason: types.OrderReasonOCO})
		}
	}
}

func (b *Broker) terminate(order *types.Order, status types.OrderStatus, reason types.Reason) {
	order.Status = status
	order.Reason = reason
	b.emit(order)
}

func (b *Broker) compactPending() {
	live := b.pending[:0]

	for _, order := range b.pending {
		if order.IsPending() {
			live = append(live, order)
		}
	}

	b.pending = live
}
