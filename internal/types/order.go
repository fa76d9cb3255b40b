package types

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/moznion/go-optional"
	"github.com/tidemark-lab/tidemark/pkg/errors"
)

type Side string

type OrderType string

type OrderStatus string

type TimeInForce string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the other side. Bracket children exit on the opposite
// side of their parent.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}

	return SideBuy
}

const (
	OrderTypeMarket       OrderType = "MARKET"
	OrderTypeLimit        OrderType = "LIMIT"
	OrderTypeStop         OrderType = "STOP"
	OrderTypeStopLimit    OrderType = "STOP_LIMIT"
	OrderTypeTrailingStop OrderType = "TRAILING_STOP"
)

const (
	OrderStatusCreated         OrderStatus = "CREATED"
	OrderStatusSubmitted       OrderStatus = "SUBMITTED"
	OrderStatusAccepted        OrderStatus = "ACCEPTED"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

const (
	// TimeInForceGTC keeps the order pending until filled or cancelled.
	TimeInForceGTC TimeInForce = "GTC"
	// TimeInForceFOK cancels whatever cannot be filled within one bar.
	TimeInForceFOK TimeInForce = "FOK"
)

const (
	OrderReasonStrategy   string = "strategy"
	OrderReasonTakeProfit string = "take_profit"
	OrderReasonStopLoss   string = "stop_loss"
	OrderReasonClose      string = "close_position"
	OrderReasonOCO        string = "oco_sibling_done"
	OrderReasonExpired    string = "validity_expired"
	OrderReasonDateWindow string = "outside_date_window"
	OrderReasonNoFunds    string = "insufficient_funds"
	OrderReasonBadParams  string = "invalid_parameters"
	OrderReasonMultiPos   string = "multiple_positions_disabled"
)

// Reason records why an order was created, rejected or cancelled.
type Reason struct {
	Reason  string `yaml:"reason" json:"reason" csv:"reason"`
	Message string `yaml:"message" json:"message" csv:"message"`
}

// OrderRequest is what a strategy submits to the broker. The broker assigns
// the id, validates the request and turns it into an Order.
type OrderRequest struct {
	Symbol   string    `yaml:"symbol" json:"symbol" validate:"required"`
	Side     Side      `yaml:"side" json:"side" validate:"required,oneof=BUY SELL"`
	Type     OrderType `yaml:"type" json:"type" validate:"required,oneof=MARKET LIMIT STOP STOP_LIMIT TRAILING_STOP"`
	Quantity float64   `yaml:"quantity" json:"quantity" validate:"gte=0"`

	// LimitPrice is required for LIMIT and STOP_LIMIT orders.
	LimitPrice float64 `yaml:"limit_price" json:"limit_price" validate:"gte=0"`
	// StopPrice is required for STOP and STOP_LIMIT orders.
	StopPrice float64 `yaml:"stop_price" json:"stop_price" validate:"gte=0"`
	// TrailAmount is the absolute trailing offset for TRAILING_STOP orders.
	TrailAmount float64 `yaml:"trail_amount" json:"trail_amount" validate:"gte=0"`
	// TrailPercent is the percentage trailing offset for TRAILING_STOP orders.
	// Only one of TrailAmount and TrailPercent may be set.
	TrailPercent float64 `yaml:"trail_percent" json:"trail_percent" validate:"gte=0,lte=1"`

	TimeInForce TimeInForce                `yaml:"time_in_force" json:"time_in_force"`
	ValidUntil  optional.Option[time.Time] `yaml:"valid_until" json:"valid_until"`

	// TakeProfit attaches a bracket child: a limit order at the given price,
	// activated when this order fills.
	TakeProfit optional.Option[float64] `yaml:"take_profit" json:"take_profit"`
	// StopLoss attaches a bracket child: a stop order at the given price,
	// activated when this order fills. TakeProfit and StopLoss children are
	// one-cancels-other siblings.
	StopLoss optional.Option[float64] `yaml:"stop_loss" json:"stop_loss"`

	Reason Reason `yaml:"reason" json:"reason"`
}

// Validate checks the request's structural and price-parameter consistency.
func (r *OrderRequest) Validate() error {
	validate := validator.New()
	if err := validate.Struct(r); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidOrder, "invalid order request", err)
	}

	switch r.Type {
	case OrderTypeLimit:
		if r.LimitPrice <= 0 {
			return errors.Newf(errors.ErrCodeInvalidPrice, "limit order requires a positive limit price, got %f", r.LimitPrice)
		}
	case OrderTypeStop:
		if r.StopPrice <= 0 {
			return errors.Newf(errors.ErrCodeInvalidPrice, "stop order requires a positive stop price, got %f", r.StopPrice)
		}
	case OrderTypeStopLimit:
		if r.StopPrice <= 0 || r.LimitPrice <= 0 {
			return errors.Newf(errors.ErrCodeInvalidPrice, "stop-limit order requires positive stop and limit prices, got %f / %f", r.StopPrice, r.LimitPrice)
		}
	case OrderTypeTrailingStop:
		if r.TrailAmount <= 0 && r.TrailPercent <= 0 {
			return errors.New(errors.ErrCodeInvalidPrice, "trailing stop requires a trail amount or trail percent")
		}

		if r.TrailAmount > 0 && r.TrailPercent > 0 {
			return errors.New(errors.ErrCodeInvalidPrice, "trailing stop accepts only one of trail amount and trail percent")
		}
	case OrderTypeMarket:
	}

	if r.TakeProfit.IsSome() && r.TakeProfit.Unwrap() <= 0 {
		return errors.New(errors.ErrCodeInvalidBracket, "take profit price must be positive")
	}

	if r.StopLoss.IsSome() && r.StopLoss.Unwrap() <= 0 {
		return errors.New(errors.ErrCodeInvalidBracket, "stop loss price must be positive")
	}

	return nil
}

// Order is the broker-side record of a submitted request. Execution history
// lives in the append-only Fills log; the quantity accessors derive current
// state from it rather than mutating counters in place.
type Order struct {
	ID           string    `yaml:"id" json:"id" csv:"id"`
	Symbol       string    `yaml:"symbol" json:"symbol" csv:"symbol"`
	Side         Side      `yaml:"side" json:"side" csv:"side"`
	Type         OrderType `yaml:"type" json:"type" csv:"type"`
	Quantity     float64   `yaml:"quantity" json:"quantity" csv:"quantity"`
	LimitPrice   float64   `yaml:"limit_price" json:"limit_price" csv:"limit_price"`
	StopPrice    float64   `yaml:"stop_price" json:"stop_price" csv:"stop_price"`
	TrailAmount  float64   `yaml:"trail_amount" json:"trail_amount" csv:"trail_amount"`
	TrailPercent float64   `yaml:"trail_percent" json:"trail_percent" csv:"trail_percent"`

	TimeInForce TimeInForce                `yaml:"time_in_force" json:"time_in_force" csv:"time_in_force"`
	ValidUntil  optional.Option[time.Time] `yaml:"valid_until" json:"valid_until" csv:"valid_until"`

	Status      OrderStatus `yaml:"status" json:"status" csv:"status"`
	SubmittedAt time.Time   `yaml:"submitted_at" json:"submitted_at" csv:"submitted_at"`

	// Triggered marks a stop-limit whose stop level has been touched; from
	// then on it behaves as a plain limit order.
	Triggered bool `yaml:"triggered" json:"triggered" csv:"triggered"`

	// ParentID links a bracket child to the order whose fill activates it.
	ParentID string `yaml:"parent_id" json:"parent_id" csv:"parent_id"`
	// OCOGroup links one-cancels-other siblings; when any member fills or is
	// cancelled, the whole group is cancelled in the same processing step.
	OCOGroup string `yaml:"oco_group" json:"oco_group" csv:"oco_group"`

	StrategyName string `yaml:"strategy_name" json:"strategy_name" csv:"strategy_name"`
	Reason       Reason `yaml:"reason" json:"reason" csv:"reason"`

	// Fills is the append-only log of executions against this order.
	Fills []Fill `yaml:"fills" json:"fills" csv:"-"`
}

// FilledQuantity is the total executed quantity, derived from the fill log.
func (o *Order) FilledQuantity() float64 {
	total := 0.0
	for _, f := range o.Fills {
		total += f.Quantity
	}

	return total
}

// Remaining is the unexecuted quantity.
func (o *Order) Remaining() float64 {
	return o.Quantity - o.FilledQuantity()
}

// AvgFillPrice is the volume-weighted average execution price, 0 if unfilled.
func (o *Order) AvgFillPrice() float64 {
	qty := 0.0
	notional := 0.0

	for _, f := range o.Fills {
		qty += f.Quantity
		notional += f.Quantity * f.Price
	}

	if qty == 0 {
		return 0
	}

	return notional / qty
}

// Commission is the total commission charged across all fills.
func (o *Order) Commission() float64 {
	total := 0.0
	for _, f := range o.Fills {
		total += f.Commission
	}

	return total
}

// IsTerminal reports whether the order can no longer execute.
func (o *Order) IsTerminal() bool {
	switch o.Status {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return true
	default:
		return false
	}
}

// IsPending reports whether the order is still eligible for matching.
func (o *Order) IsPending() bool {
	switch o.Status {
	case OrderStatusSubmitted, OrderStatusAccepted, OrderStatusPartiallyFilled:
		return true
	default:
		return false
	}
}
