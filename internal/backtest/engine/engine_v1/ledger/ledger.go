// Package ledger maintains the cash, position and trade state of a backtest
// run. Fills are applied atomically: every fill produces exactly one cash
// update and, if it closes or reverses a position, exactly one trade
// completion (plus one opening for the overshoot). All money arithmetic goes
// through shopspring/decimal with one rounding application per fill.
package ledger

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tidemark-lab/tidemark/internal/backtest/engine/engine_v1/commission"
	"github.com/tidemark-lab/tidemark/internal/logger"
	"github.com/tidemark-lab/tidemark/internal/types"
	"github.com/tidemark-lab/tidemark/pkg/errors"
	"go.uber.org/zap"
)

// openTrade tracks a forming trade until the position returns to zero.
type openTrade struct {
	id           string
	direction    types.TradeDirection
	openTime     time.Time
	openBarIndex int

	entryQty      decimal.Decimal
	entryNotional decimal.Decimal
	exitQty       decimal.Decimal
	exitNotional  decimal.Decimal
	commission    decimal.Decimal
	maxSize       decimal.Decimal
}

// positionState is the mutable per-symbol ledger entry.
type positionState struct {
	position types.Position
	// adjBase is the last settlement price for futures-style variation
	// margin. Unused for stock-like instruments.
	adjBase decimal.Decimal
	trade   *openTrade
}

// Ledger is the broker ledger of one backtest run. It is not safe for
// concurrent use; the engine drives it from a single goroutine.
type Ledger struct {
	logger     *logger.Logger
	commission commission.Info
	precision  int

	initialCash decimal.Decimal
	cash        decimal.Decimal
	realized    decimal.Decimal
	totalComm   decimal.Decimal

	positions map[string]*positionState
	marks     map[string]float64

	closedTrades []types.Trade
	equityCurve  []types.AccountSnapshot

	barIndex int
}

// New creates a ledger with the given starting cash, commission policy and
// rounding precision (decimal places applied once per fill).
func New(log *logger.Logger, initialCash float64, comm commission.Info, precision int) *Ledger {
	if precision <= 0 {
		precision = 8
	}

	return &Ledger{
		logger:       log,
		commission:   comm,
		precision:    precision,
		initialCash:  decimal.NewFromFloat(initialCash),
		cash:         decimal.NewFromFloat(initialCash),
		realized:     decimal.Zero,
		totalComm:    decimal.Zero,
		positions:    make(map[string]*positionState),
		marks:        make(map[string]float64),
		closedTrades: nil,
		equityCurve:  nil,
		barIndex:     0,
	}
}

// Cash is the realized cash balance.
func (l *Ledger) Cash() float64 {
	cash, _ := l.cash.Float64()

	return cash
}

// InitialCash is the configured starting balance.
func (l *Ledger) InitialCash() float64 {
	cash, _ := l.initialCash.Float64()

	return cash
}

// Position returns the current position for the symbol. A flat zero-value
// position is returned for symbols never traded.
func (l *Ledger) Position(symbol string) types.Position {
	if state, ok := l.positions[symbol]; ok {
		return state.position
	}

	return types.Position{Symbol: symbol}
}

// Positions returns all non-flat positions, ordered by symbol for
// deterministic iteration.
func (l *Ledger) Positions() []types.Position {
	symbols := make([]string, 0, len(l.positions))
	for symbol := range l.positions {
		symbols = append(symbols, symbol)
	}

	sort.Strings(symbols)

	var out []types.Position

	for _, symbol := range symbols {
		if pos := l.positions[symbol].position; !pos.IsFlat() {
			out = append(out, pos)
		}
	}

	return out
}

// ClosedTrades returns the completed trades in close order.
func (l *Ledger) ClosedTrades() []types.Trade {
	return l.closedTrades
}

// EquityCurve returns the per-bar account snapshots recorded so far.
func (l *Ledger) EquityCurve() []types.AccountSnapshot {
	return l.equityCurve
}

// MarginUsed is the margin currently held against futures-style positions.
func (l *Ledger) MarginUsed() float64 {
	if l.commission.Stocklike() {
		return 0
	}

	total := decimal.Zero
	for _, state := range l.positions {
		total = total.Add(decimal.NewFromFloat(state.position.Size).Abs().Mul(decimal.NewFromFloat(l.commission.Margin())))
	}

	used, _ := total.Float64()

	return used
}

// Equity is the portfolio value at the latest marks: cash plus the market
// value of open stock-like positions. Futures variation is already settled
// into cash at each mark-to-market.
func (l *Ledger) Equity() float64 {
	equity := l.cash

	if l.commission.Stocklike() {
		for symbol, state := range l.positions {
			mark, ok := l.marks[symbol]
			if !ok {
				mark = state.position.AvgPrice
			}

			equity = equity.Add(decimal.NewFromFloat(state.position.MarketValue(mark)))
		}
	} else {
		for symbol, state := range l.positions {
			if state.position.IsFlat() {
				continue
			}

			mark, ok := l.marks[symbol]
			if !ok {
				continue
			}

			// Unsettled variation since the last settlement price.
			base, _ := state.adjBase.Float64()
			variation := commission.CashAdjust(l.commission, state.position.Size, base, mark)
			equity = equity.Add(decimal.NewFromFloat(variation))
		}
	}

	value, _ := equity.Float64()

	return value
}

// CanAfford reports whether buying the given quantity at the given price,
// with the given commission, keeps cash non-negative. Futures-style
// instruments reserve margin instead of notional.
func (l *Ledger) CanAfford(quantity float64, price float64, comm float64) bool {
	var required decimal.Decimal

	if l.commission.Stocklike() {
		required = decimal.NewFromFloat(quantity).Mul(decimal.NewFromFloat(price)).
			Add(decimal.NewFromFloat(comm))
	} else {
		required = decimal.NewFromFloat(quantity).Mul(decimal.NewFromFloat(l.commission.Margin())).
			Add(decimal.NewFromFloat(comm))
	}

	return l.cash.GreaterThanOrEqual(required)
}

// ApplyFill applies one fill atomically: position size and weighted-average
// entry are updated, cash is debited/credited by notional (or variation and
// margin for futures) minus commission, and trades are opened, extended,
// reduced, closed or reversed as the position crosses zero. Returns the
// trades closed by this fill (at most one, plus the implicit reopen on a
// reversal which is not returned since it stays open).
func (l *Ledger) ApplyFill(fill types.Fill) ([]types.Trade, error) {
	if fill.Quantity <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidQuantity, "fill quantity must be positive, got %f", fill.Quantity)
	}

	if fill.Price <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidPrice, "fill price must be positive, got %f", fill.Price)
	}

	state, ok := l.positions[fill.Symbol]
	if !ok {
		state = &positionState{
			position: types.Position{Symbol: fill.Symbol},
			adjBase:  decimal.Zero,
			trade:    nil,
		}
		l.positions[fill.Symbol] = state
	}

	oldSize := decimal.NewFromFloat(state.position.Size)
	signed := decimal.NewFromFloat(fill.SignedQuantity())
	price := decimal.NewFromFloat(fill.Price)
	comm := decimal.NewFromFloat(fill.Commission)

	// Split the fill into the portion closing existing exposure and the
	// portion opening new exposure (non-zero only on a reversal or entry).
	closing := decimal.Zero

	if oldSize.Sign() != 0 && oldSize.Sign() != signed.Sign() {
		closing = decimal.Min(oldSize.Abs(), signed.Abs())
	}

	opening := signed.Abs().Sub(closing)
	newSize := oldSize.Add(signed)

	var closed []types.Trade

	// Realize P&L and cash for the closing portion.
	if closing.Sign() > 0 {
		if l.commission.Stocklike() {
			// Unwinding returns (buy) or proceeds (sell) at the fill price.
			l.cash = l.cash.Sub(signed.Mul(price).Mul(closing.Div(signed.Abs())))
		} else {
			// Settle variation from last settlement to fill price.
			closedSize, _ := closing.Mul(decimal.NewFromFloat(float64(oldSize.Sign()))).Float64()
			base, _ := state.adjBase.Float64()
			fillPrice, _ := price.Float64()
			variation := commission.CashAdjust(l.commission, closedSize, base, fillPrice)
			l.cash = l.cash.Add(decimal.NewFromFloat(variation))
		}

		if trade := l.reduceTrade(state, fill, closing, price, comm); trade != nil {
			closed = append(closed, *trade)
		}
	}

	// Move cash and open/extend the trade for the opening portion.
	if opening.Sign() > 0 {
		if l.commission.Stocklike() {
			l.cash = l.cash.Sub(signed.Mul(price).Mul(opening.Div(signed.Abs())))
		}

		l.extendTrade(state, fill, opening, price, comm, closing.Sign() > 0)
	}

	// Commission always comes out of cash, once per fill.
	l.cash = l.cash.Sub(comm)
	l.totalComm = l.totalComm.Add(comm)

	// Weighted-average entry accounting on the position itself.
	l.updatePositionAverage(state, oldSize, newSize, signed, price, closing, opening)

	// Round once per fill, never re-derived.
	l.cash = l.cash.Round(int32(l.precision))

	l.logger.Debug("fill applied",
		zap.String("symbol", fill.Symbol),
		zap.String("side", string(fill.Side)),
		zap.Float64("price", fill.Price),
		zap.Float64("quantity", fill.Quantity),
		zap.Float64("cash", l.Cash()),
	)

	return closed, nil
}

// updatePositionAverage maintains size, weighted-average entry price and the
// futures settlement base after a fill.
func (l *Ledger) updatePositionAverage(state *positionState, oldSize, newSize, signed, price, closing, opening decimal.Decimal) {
	switch {
	case newSize.Sign() == 0:
		state.position.Size = 0
		state.position.AvgPrice = 0
		state.position.OpenTime = time.Time{}
		state.adjBase = decimal.Zero
	case oldSize.Sign() == 0 || oldSize.Sign() != newSize.Sign():
		// Fresh entry, or reversal: the overshoot opens at the fill price.
		size, _ := newSize.Float64()
		avg, _ := price.Float64()
		state.position.Size = size
		state.position.AvgPrice = avg
		state.adjBase = price
	case opening.Sign() > 0:
		// Extending: blend the average entry (and settlement base) by size.
		oldAbs := oldSize.Abs()
		newAbs := newSize.Abs()
		blended := oldAbs.Mul(decimal.NewFromFloat(state.position.AvgPrice)).
			Add(opening.Mul(price)).Div(newAbs)
		state.adjBase = oldAbs.Mul(state.adjBase).Add(opening.Mul(price)).Div(newAbs)

		size, _ := newSize.Float64()
		avg, _ := blended.Float64()
		state.position.Size = size
		state.position.AvgPrice = avg
	default:
		// Pure reduction: average entry is unchanged.
		size, _ := newSize.Float64()
		state.position.Size = size
	}
}

// extendTrade opens a new trade or grows the current one.
func (l *Ledger) extendTrade(state *positionState, fill types.Fill, quantity, price, comm decimal.Decimal, reversal bool) {
	if state.trade == nil || reversal {
		direction := types.TradeDirectionLong
		if fill.Side == types.SideSell {
			direction = types.TradeDirectionShort
		}

		state.trade = &openTrade{
			id:            uuid.New().String(),
			direction:     direction,
			openTime:      fill.Time,
			openBarIndex:  l.barIndex,
			entryQty:      quantity,
			entryNotional: quantity.Mul(price),
			exitQty:       decimal.Zero,
			exitNotional:  decimal.Zero,
			commission:    decimal.Zero,
			maxSize:       quantity,
		}

		if !reversal {
			// The opening fill's commission belongs to this trade. On a
			// reversal the commission was already charged to the closed one.
			state.trade.commission = comm
		}

		state.position.OpenTime = fill.Time

		return
	}

	trade := state.trade
	trade.entryQty = trade.entryQty.Add(quantity)
	trade.entryNotional = trade.entryNotional.Add(quantity.Mul(price))
	trade.commission = trade.commission.Add(comm)

	if open := trade.entryQty.Sub(trade.exitQty); open.GreaterThan(trade.maxSize) {
		trade.maxSize = open
	}
}

// reduceTrade books the closing portion of a fill against the open trade,
// finalizing it when the position reaches zero. Returns the closed trade.
func (l *Ledger) reduceTrade(state *positionState, fill types.Fill, quantity, price, comm decimal.Decimal) *types.Trade {
	trade := state.trade
	if trade == nil {
		return nil
	}

	trade.exitQty = trade.exitQty.Add(quantity)
	trade.exitNotional = trade.exitNotional.Add(quantity.Mul(price))
	trade.commission = trade.commission.Add(comm)

	if trade.exitQty.LessThan(trade.entryQty) {
		return nil
	}

	// Position returned to zero: finalize.
	entryAvg := trade.entryNotional.Div(trade.entryQty)
	exitAvg := trade.exitNotional.Div(trade.exitQty)

	dirSign := decimal.NewFromInt(1)
	if trade.direction == types.TradeDirectionShort {
		dirSign = decimal.NewFromInt(-1)
	}

	mult := decimal.NewFromFloat(l.commission.Multiplier())
	gross := exitAvg.Sub(entryAvg).Mul(trade.entryQty).Mul(dirSign).Mul(mult).Round(int32(l.precision))
	net := gross.Sub(trade.commission).Round(int32(l.precision))

	l.realized = l.realized.Add(net)

	entry, _ := entryAvg.Float64()
	exit, _ := exitAvg.Float64()
	grossF, _ := gross.Float64()
	netF, _ := net.Float64()
	commF, _ := trade.commission.Float64()
	maxSize, _ := trade.maxSize.Float64()

	closed := types.Trade{
		ID:           trade.id,
		Symbol:       fill.Symbol,
		StrategyName: state.position.StrategyName,
		Direction:    trade.direction,
		OpenTime:     trade.openTime,
		CloseTime:    fill.Time,
		EntryPrice:   entry,
		ExitPrice:    exit,
		MaxSize:      maxSize,
		GrossPnL:     grossF,
		Commission:   commF,
		NetPnL:       netF,
		BarLength:    l.barIndex - trade.openBarIndex,
		IsClosed:     true,
	}

	state.trade = nil
	l.closedTrades = append(l.closedTrades, closed)

	return &closed
}

// SetStrategyName tags positions opened for the symbol with the owning
// strategy, carried through to trade records.
func (l *Ledger) SetStrategyName(symbol string, name string) {
	state, ok := l.positions[symbol]
	if !ok {
		state = &positionState{position: types.Position{Symbol: symbol}, adjBase: decimal.Zero, trade: nil}
		l.positions[symbol] = state
	}

	state.position.StrategyName = name
}

// MarkToMarket revalues open positions at the given closes, settles futures
// variation margin into cash, and appends an account snapshot. Realized
// state is never touched; calling it again with the same marks and no new
// fills yields an identical snapshot.
func (l *Ledger) MarkToMarket(ts time.Time, marks map[string]float64) types.AccountSnapshot {
	symbols := make([]string, 0, len(marks))
	for symbol := range marks {
		symbols = append(symbols, symbol)
	}

	sort.Strings(symbols)

	for _, symbol := range symbols {
		mark := marks[symbol]
		l.marks[symbol] = mark

		state, ok := l.positions[symbol]
		if !ok || state.position.IsFlat() {
			continue
		}

		if !l.commission.Stocklike() {
			base, _ := state.adjBase.Float64()
			adjust := commission.CashAdjust(l.commission, state.position.Size, base, mark)
			l.cash = l.cash.Add(decimal.NewFromFloat(adjust)).Round(int32(l.precision))
			state.adjBase = decimal.NewFromFloat(mark)
		}
	}

	l.barIndex++

	snapshot := l.Snapshot(ts)
	l.equityCurve = append(l.equityCurve, snapshot)

	return snapshot
}

// Snapshot builds the account state at the latest marks without recording it.
func (l *Ledger) Snapshot(ts time.Time) types.AccountSnapshot {
	unrealized := decimal.Zero

	for symbol, state := range l.positions {
		if state.position.IsFlat() {
			continue
		}

		mark, ok := l.marks[symbol]
		if !ok {
			continue
		}

		pnl := decimal.NewFromFloat(state.position.UnrealizedPnL(mark)).
			Mul(decimal.NewFromFloat(l.commission.Multiplier()))
		unrealized = unrealized.Add(pnl)
	}

	cash, _ := l.cash.Float64()
	realized, _ := l.realized.Float64()
	unrealizedF, _ := unrealized.Float64()
	totalComm, _ := l.totalComm.Float64()

	return types.AccountSnapshot{
		Time:            ts,
		Cash:            cash,
		Equity:          l.Equity(),
		RealizedPnL:     realized,
		UnrealizedPnL:   unrealizedF,
		MarginUsed:      l.MarginUsed(),
		TotalCommission: totalComm,
	}
}

// CheckInvariant verifies cash + Σ(position size × mark) == equity within the
// rounding tolerance. Returns an error naming the offending values otherwise.
func (l *Ledger) CheckInvariant() error {
	if !l.commission.Stocklike() {
		// Futures equity folds unsettled variation into cash each bar; the
		// stock-style identity does not apply.
		return nil
	}

	positionValue := decimal.Zero

	for symbol, state := range l.positions {
		if state.position.IsFlat() {
			continue
		}

		mark, ok := l.marks[symbol]
		if !ok {
			mark = state.position.AvgPrice
		}

		positionValue = positionValue.Add(decimal.NewFromFloat(state.position.MarketValue(mark)))
	}

	expected := l.cash.Add(positionValue)
	actual := decimal.NewFromFloat(l.Equity())
	tolerance := decimal.New(1, -int32(l.precision))

	if expected.Sub(actual).Abs().GreaterThan(tolerance) {
		return errors.Newf(errors.ErrCodeMatchingFailed,
			"ledger invariant violated: cash %s + positions %s != equity %s",
			l.cash, positionValue, actual)
	}

	return nil
}
