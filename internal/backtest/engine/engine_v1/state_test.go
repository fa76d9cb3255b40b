package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"github.com/tidemark-lab/tidemark/internal/logger"
	"github.com/tidemark-lab/tidemark/internal/types"
)

type StateTestSuite struct {
	suite.Suite
	state *BacktestState
}

func TestStateSuite(t *testing.T) {
	suite.Run(t, new(StateTestSuite))
}

func (s *StateTestSuite) SetupTest() {
	state, err := NewBacktestState(logger.NewNopLogger())
	s.Require().NoError(err)
	s.Require().NoError(state.Initialize())
	s.state = state
}

func (s *StateTestSuite) TearDownTest() {
	s.Require().NoError(s.state.Close())
}

func (s *StateTestSuite) trade(symbol string, netPnL float64, barLength int, closeTime time.Time) types.Trade {
	return types.Trade{
		ID:         uuid.New().String(),
		Symbol:     symbol,
		Direction:  types.TradeDirectionLong,
		OpenTime:   closeTime.Add(-time.Hour),
		CloseTime:  closeTime,
		EntryPrice: 100,
		ExitPrice:  100 + netPnL,
		MaxSize:    1,
		GrossPnL:   netPnL,
		NetPnL:     netPnL,
		BarLength:  barLength,
		IsClosed:   true,
	}
}

func (s *StateTestSuite) TestRecordOrderUpsertsLatestStatus() {
	order := types.Order{
		ID:          uuid.New().String(),
		Symbol:      "AAPL",
		Side:        types.SideBuy,
		Type:        types.OrderTypeMarket,
		Quantity:    10,
		Status:      types.OrderStatusAccepted,
		SubmittedAt: time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC),
	}

	s.Require().NoError(s.state.RecordOrder(order))

	order.Status = types.OrderStatusFilled
	s.Require().NoError(s.state.RecordOrder(order))

	var count int

	var status string

	row := s.state.db.QueryRow(`SELECT count(*) FROM orders`)
	s.Require().NoError(row.Scan(&count))
	s.Equal(1, count, "repeated records of one order keep a single row")

	row = s.state.db.QueryRow(`SELECT status FROM orders WHERE order_id = ?`, order.ID)
	s.Require().NoError(row.Scan(&status))
	s.Equal(string(types.OrderStatusFilled), status)
}

func (s *StateTestSuite) TestGetAllTradesRoundTrip() {
	ts := time.Date(2024, 1, 2, 16, 0, 0, 0, time.UTC)

	s.Require().NoError(s.state.RecordTrade(s.trade("AAPL", 50, 3, ts)))
	s.Require().NoError(s.state.RecordTrade(s.trade("AAPL", -20, 5, ts.Add(time.Hour))))

	trades, err := s.state.GetAllTrades()
	s.Require().NoError(err)
	s.Require().Len(trades, 2)
	s.InDelta(50, trades[0].NetPnL, 1e-9)
	s.InDelta(-20, trades[1].NetPnL, 1e-9)
}

func (s *StateTestSuite) TestGetStats() {
	ts := time.Date(2024, 1, 2, 16, 0, 0, 0, time.UTC)

	s.Require().NoError(s.state.RecordFill(types.Fill{
		OrderID: uuid.New().String(), Symbol: "AAPL", Side: types.SideBuy,
		Time: ts, Price: 100, Quantity: 10, Commission: 2,
	}))
	s.Require().NoError(s.state.RecordFill(types.Fill{
		OrderID: uuid.New().String(), Symbol: "AAPL", Side: types.SideSell,
		Time: ts.Add(time.Hour), Price: 105, Quantity: 10, Commission: 2,
	}))

	s.Require().NoError(s.state.RecordTrade(s.trade("AAPL", 46, 2, ts.Add(time.Hour))))
	s.Require().NoError(s.state.RecordTrade(s.trade("AAPL", -10, 4, ts.Add(2*time.Hour))))

	base := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	for i, equity := range []float64{10000, 10100, 9900, 10050} {
		s.Require().NoError(s.state.RecordSnapshot(types.AccountSnapshot{
			Time:   base.Add(time.Duration(i) * time.Minute),
			Cash:   equity,
			Equity: equity,
		}))
	}

	stats, err := s.state.GetStats(map[string]float64{"AAPL": 5})
	s.Require().NoError(err)
	s.Require().Len(stats, 1)

	st := stats[0]
	s.Equal("AAPL", st.Symbol)
	s.Equal(2, st.TradeResult.NumberOfTrades)
	s.Equal(1, st.TradeResult.NumberOfWinningTrades)
	s.Equal(1, st.TradeResult.NumberOfLosingTrades)
	s.InDelta(0.5, st.TradeResult.WinRate, 1e-9)
	s.InDelta(4.6, st.TradeResult.ProfitFactor, 1e-9)
	s.InDelta(36, st.TradePnL.RealizedPnL, 1e-9)
	s.InDelta(41, st.TradePnL.TotalPnL, 1e-9)
	s.Equal(2, st.TradeHoldingTime.MinBars)
	s.Equal(4, st.TradeHoldingTime.MaxBars)
	s.InDelta(4, st.TotalCommission, 1e-9)
	// Peak 10100 down to 9900.
	s.InDelta((10100-9900)/10100.0, st.MaxDrawdown, 1e-9)
}

func (s *StateTestSuite) TestWriteExportsParquet() {
	dir, err := os.MkdirTemp("", "tidemark-state-*")
	s.Require().NoError(err)
	defer os.RemoveAll(dir)

	ts := time.Date(2024, 1, 2, 16, 0, 0, 0, time.UTC)
	s.Require().NoError(s.state.RecordTrade(s.trade("AAPL", 10, 1, ts)))

	s.Require().NoError(s.state.Write(dir))

	for _, name := range []string{"orders.parquet", "fills.parquet", "trades.parquet", "equity.parquet"} {
		_, err := os.Stat(filepath.Join(dir, name))
		s.NoError(err, name)
	}
}

func (s *StateTestSuite) TestCleanupTruncates() {
	ts := time.Date(2024, 1, 2, 16, 0, 0, 0, time.UTC)
	s.Require().NoError(s.state.RecordTrade(s.trade("AAPL", 10, 1, ts)))

	s.Require().NoError(s.state.Cleanup())

	trades, err := s.state.GetAllTrades()
	s.Require().NoError(err)
	s.Empty(trades)
}
