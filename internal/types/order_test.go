package types

import (
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/suite"
	"github.com/tidemark-lab/tidemark/pkg/errors"
)

type OrderTestSuite struct {
	suite.Suite
}

func TestOrderSuite(t *testing.T) {
	suite.Run(t, new(OrderTestSuite))
}

func (suite *OrderTestSuite) TestOrderRequestValidate() {
	tests := []struct {
		name        string
		request     OrderRequest
		expectError bool
		code        errors.ErrorCode
	}{
		{
			name: "valid market order",
			request: OrderRequest{
				Symbol:   "AAPL",
				Side:     SideBuy,
				Type:     OrderTypeMarket,
				Quantity: 100,
			},
			expectError: false,
		},
		{
			name: "valid limit order",
			request: OrderRequest{
				Symbol:     "AAPL",
				Side:       SideSell,
				Type:       OrderTypeLimit,
				Quantity:   50,
				LimitPrice: 101.5,
			},
			expectError: false,
		},
		{
			name: "limit order without limit price",
			request: OrderRequest{
				Symbol:   "AAPL",
				Side:     SideBuy,
				Type:     OrderTypeLimit,
				Quantity: 50,
			},
			expectError: true,
			code:        errors.ErrCodeInvalidPrice,
		},
		{
			name: "stop order without stop price",
			request: OrderRequest{
				Symbol:   "AAPL",
				Side:     SideSell,
				Type:     OrderTypeStop,
				Quantity: 50,
			},
			expectError: true,
			code:        errors.ErrCodeInvalidPrice,
		},
		{
			name: "stop limit missing limit price",
			request: OrderRequest{
				Symbol:    "AAPL",
				Side:      SideSell,
				Type:      OrderTypeStopLimit,
				Quantity:  50,
				StopPrice: 95,
			},
			expectError: true,
			code:        errors.ErrCodeInvalidPrice,
		},
		{
			name: "trailing stop without offsets",
			request: OrderRequest{
				Symbol:   "AAPL",
				Side:     SideSell,
				Type:     OrderTypeTrailingStop,
				Quantity: 50,
			},
			expectError: true,
			code:        errors.ErrCodeInvalidPrice,
		},
		{
			name: "trailing stop with both offsets",
			request: OrderRequest{
				Symbol:       "AAPL",
				Side:         SideSell,
				Type:         OrderTypeTrailingStop,
				Quantity:     50,
				TrailAmount:  1.5,
				TrailPercent: 0.02,
			},
			expectError: true,
			code:        errors.ErrCodeInvalidPrice,
		},
		{
			name: "missing symbol",
			request: OrderRequest{
				Side:     SideBuy,
				Type:     OrderTypeMarket,
				Quantity: 100,
			},
			expectError: true,
			code:        errors.ErrCodeInvalidOrder,
		},
		{
			name: "invalid side",
			request: OrderRequest{
				Symbol:   "AAPL",
				Side:     Side("HOLD"),
				Type:     OrderTypeMarket,
				Quantity: 100,
			},
			expectError: true,
			code:        errors.ErrCodeInvalidOrder,
		},
		{
			name: "negative take profit",
			request: OrderRequest{
				Symbol:     "AAPL",
				Side:       SideBuy,
				Type:       OrderTypeMarket,
				Quantity:   100,
				TakeProfit: optional.Some(-1.0),
			},
			expectError: true,
			code:        errors.ErrCodeInvalidBracket,
		},
	}

	for _, tc := range tests {
		suite.Run(tc.name, func() {
			err := tc.request.Validate()
			if tc.expectError {
				suite.Error(err)
				suite.Equal(tc.code, errors.GetCode(err))
			} else {
				suite.NoError(err)
			}
		})
	}
}

func (suite *OrderTestSuite) TestOrderDerivedState() {
	now := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)

	order := Order{
		ID:       "order-1",
		Symbol:   "AAPL",
		Side:     SideBuy,
		Type:     OrderTypeLimit,
		Quantity: 100,
		Status:   OrderStatusAccepted,
	}

	suite.Equal(0.0, order.FilledQuantity())
	suite.Equal(100.0, order.Remaining())
	suite.Equal(0.0, order.AvgFillPrice())
	suite.True(order.IsPending())
	suite.False(order.IsTerminal())

	order.Fills = append(order.Fills, Fill{
		OrderID: order.ID, Symbol: "AAPL", Side: SideBuy,
		Time: now, Price: 100, Quantity: 40, Commission: 1, Partial: true,
	})
	order.Status = OrderStatusPartiallyFilled

	suite.Equal(40.0, order.FilledQuantity())
	suite.Equal(60.0, order.Remaining())
	suite.Equal(100.0, order.AvgFillPrice())
	suite.True(order.IsPending())

	order.Fills = append(order.Fills, Fill{
		OrderID: order.ID, Symbol: "AAPL", Side: SideBuy,
		Time: now.Add(time.Minute), Price: 102.5, Quantity: 60, Commission: 1.5,
	})
	order.Status = OrderStatusFilled

	suite.Equal(100.0, order.FilledQuantity())
	suite.Equal(0.0, order.Remaining())
	suite.InDelta(101.5, order.AvgFillPrice(), 1e-9)
	suite.Equal(2.5, order.Commission())
	suite.True(order.IsTerminal())
	suite.False(order.IsPending())
}

func (suite *OrderTestSuite) TestFillSignedQuantity() {
	buy := Fill{Side: SideBuy, Quantity: 10}
	sell := Fill{Side: SideSell, Quantity: 10}

	suite.Equal(10.0, buy.SignedQuantity())
	suite.Equal(-10.0, sell.SignedQuantity())
}
