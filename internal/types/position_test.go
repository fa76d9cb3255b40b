package types

import (
	"testing"

	"github.com/stretchr/testify/suite"
)

type PositionTestSuite struct {
	suite.Suite
}

func TestPositionSuite(t *testing.T) {
	suite.Run(t, new(PositionTestSuite))
}

func (suite *PositionTestSuite) TestDirectionHelpers() {
	long := Position{Symbol: "AAPL", Size: 100, AvgPrice: 100}
	short := Position{Symbol: "AAPL", Size: -100, AvgPrice: 100}
	flat := Position{Symbol: "AAPL"}

	suite.True(long.IsLong())
	suite.False(long.IsShort())
	suite.True(short.IsShort())
	suite.True(flat.IsFlat())
}

func (suite *PositionTestSuite) TestUnrealizedPnL() {
	tests := []struct {
		name     string
		position Position
		mark     float64
		expected float64
	}{
		{"long gain", Position{Size: 100, AvgPrice: 100}, 110, 1000},
		{"long loss", Position{Size: 100, AvgPrice: 100}, 95, -500},
		{"short gain", Position{Size: -100, AvgPrice: 100}, 90, 1000},
		{"short loss", Position{Size: -100, AvgPrice: 100}, 105, -500},
		{"flat", Position{}, 100, 0},
	}

	for _, tc := range tests {
		suite.Run(tc.name, func() {
			suite.InDelta(tc.expected, tc.position.UnrealizedPnL(tc.mark), 1e-9)
		})
	}
}

// Calling the mark-to-market accessors repeatedly without new fills must
// return the same value and leave the position untouched.
func (suite *PositionTestSuite) TestMarkToMarketIdempotent() {
	position := Position{Symbol: "AAPL", Size: 50, AvgPrice: 200}

	first := position.UnrealizedPnL(210)
	second := position.UnrealizedPnL(210)

	suite.Equal(first, second)
	suite.Equal(50.0, position.Size)
	suite.Equal(200.0, position.AvgPrice)
}

func (suite *PositionTestSuite) TestMarketValue() {
	position := Position{Symbol: "AAPL", Size: -10, AvgPrice: 100}
	suite.InDelta(-1050, position.MarketValue(105), 1e-9)
}
