package engine

import (
	"database/sql"
	"fmt"
	"math"
	"path/filepath"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/tidemark-lab/tidemark/internal/logger"
	"github.com/tidemark-lab/tidemark/internal/types"
	"github.com/tidemark-lab/tidemark/pkg/errors"
	"go.uber.org/zap"
)

// BacktestState is the audit store of a run: every order transition, fill,
// closed trade and equity snapshot lands in an in-memory DuckDB so results
// can be queried with SQL and exported to Parquet afterwards. The hot path
// keeps its own in-memory ledger; this store is write-mostly.
type BacktestState struct {
	db     *sql.DB
	logger *logger.Logger
	sq     squirrel.StatementBuilderType
}

func NewBacktestState(log *logger.Logger) (*BacktestState, error) {
	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStateInitFailed, "failed to open database", err)
	}

	return &BacktestState{
		db:     db,
		logger: log,
		sq:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}, nil
}

// Initialize creates the result tables.
func (b *BacktestState) Initialize() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			order_id TEXT PRIMARY KEY,
			symbol TEXT,
			side TEXT,
			order_type TEXT,
			quantity DOUBLE,
			limit_price DOUBLE,
			stop_price DOUBLE,
			status TEXT,
			submitted_at TIMESTAMP,
			reason TEXT,
			message TEXT,
			strategy_name TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS fills (
			order_id TEXT,
			symbol TEXT,
			side TEXT,
			executed_at TIMESTAMP,
			price DOUBLE,
			quantity DOUBLE,
			commission DOUBLE,
			partial BOOLEAN
		)`,
		`CREATE TABLE IF NOT EXISTS trades (
			trade_id TEXT PRIMARY KEY,
			symbol TEXT,
			strategy_name TEXT,
			direction TEXT,
			open_time TIMESTAMP,
			close_time TIMESTAMP,
			entry_price DOUBLE,
			exit_price DOUBLE,
			max_size DOUBLE,
			gross_pnl DOUBLE,
			commission DOUBLE,
			net_pnl DOUBLE,
			bar_length INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS equity (
			ts TIMESTAMP,
			cash DOUBLE,
			equity DOUBLE,
			realized_pnl DOUBLE,
			unrealized_pnl DOUBLE,
			margin_used DOUBLE,
			total_commission DOUBLE
		)`,
	}

	for _, stmt := range statements {
		if _, err := b.db.Exec(stmt); err != nil {
			return errors.Wrap(errors.ErrCodeStateInitFailed, "failed to create result tables", err)
		}
	}

	return nil
}

// RecordOrder upserts the order's latest state; called on every transition,
// so the table always holds the final status of each order.
func (b *BacktestState) RecordOrder(order types.Order) error {
	query := b.sq.
		Insert("orders").
		Options("OR REPLACE").
		Columns(
			"order_id", "symbol", "side", "order_type", "quantity", "limit_price",
			"stop_price", "status", "submitted_at", "reason", "message", "strategy_name",
		).
		Values(
			order.ID, order.Symbol, order.Side, order.Type, order.Quantity, order.LimitPrice,
			order.StopPrice, order.Status, order.SubmittedAt, order.Reason.Reason,
			order.Reason.Message, order.StrategyName,
		).
		RunWith(b.db)

	if _, err := query.Exec(); err != nil {
		return errors.Wrap(errors.ErrCodeStateWriteFailed, "failed to record order", err)
	}

	return nil
}

// RecordFill appends one execution to the fill log.
func (b *BacktestState) RecordFill(fill types.Fill) error {
	query := b.sq.
		Insert("fills").
		Columns("order_id", "symbol", "side", "executed_at", "price", "quantity", "commission", "partial").
		Values(fill.OrderID, fill.Symbol, fill.Side, fill.Time, fill.Price, fill.Quantity, fill.Commission, fill.Partial).
		RunWith(b.db)

	if _, err := query.Exec(); err != nil {
		return errors.Wrap(errors.ErrCodeStateWriteFailed, "failed to record fill", err)
	}

	return nil
}

// RecordTrade appends one closed trade.
func (b *BacktestState) RecordTrade(trade types.Trade) error {
	query := b.sq.
		Insert("trades").
		Columns(
			"trade_id", "symbol", "strategy_name", "direction", "open_time", "close_time",
			"entry_price", "exit_price", "max_size", "gross_pnl", "commission", "net_pnl", "bar_length",
		).
		Values(
			trade.ID, trade.Symbol, trade.StrategyName, trade.Direction, trade.OpenTime,
			trade.CloseTime, trade.EntryPrice, trade.ExitPrice, trade.MaxSize, trade.GrossPnL,
			trade.Commission, trade.NetPnL, trade.BarLength,
		).
		RunWith(b.db)

	if _, err := query.Exec(); err != nil {
		return errors.Wrap(errors.ErrCodeStateWriteFailed, "failed to record trade", err)
	}

	return nil
}

// RecordSnapshot appends one per-bar account snapshot.
func (b *BacktestState) RecordSnapshot(snapshot types.AccountSnapshot) error {
	query := b.sq.
		Insert("equity").
		Columns("ts", "cash", "equity", "realized_pnl", "unrealized_pnl", "margin_used", "total_commission").
		Values(
			snapshot.Time, snapshot.Cash, snapshot.Equity, snapshot.RealizedPnL,
			snapshot.UnrealizedPnL, snapshot.MarginUsed, snapshot.TotalCommission,
		).
		RunWith(b.db)

	if _, err := query.Exec(); err != nil {
		return errors.Wrap(errors.ErrCodeStateWriteFailed, "failed to record snapshot", err)
	}

	return nil
}

// GetAllTrades returns every recorded trade ordered by close time.
func (b *BacktestState) GetAllTrades() ([]types.Trade, error) {
	query := b.sq.
		Select(
			"trade_id", "symbol", "strategy_name", "direction", "open_time", "close_time",
			"entry_price", "exit_price", "max_size", "gross_pnl", "commission", "net_pnl", "bar_length",
		).
		From("trades").
		OrderBy("close_time").
		RunWith(b.db)

	rows, err := query.Query()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStateQueryFailed, "failed to query trades", err)
	}
	defer rows.Close()

	var trades []types.Trade

	for rows.Next() {
		var trade types.Trade

		err := rows.Scan(
			&trade.ID, &trade.Symbol, &trade.StrategyName, &trade.Direction,
			&trade.OpenTime, &trade.CloseTime, &trade.EntryPrice, &trade.ExitPrice,
			&trade.MaxSize, &trade.GrossPnL, &trade.Commission, &trade.NetPnL, &trade.BarLength,
		)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeStateQueryFailed, "failed to scan trade", err)
		}

		trade.IsClosed = true
		trades = append(trades, trade)
	}

	return trades, rows.Err()
}

// tradeSymbols lists the distinct symbols with recorded activity.
func (b *BacktestState) tradeSymbols() ([]string, error) {
	rows, err := b.db.Query(`SELECT DISTINCT symbol FROM fills ORDER BY symbol`)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeStateQueryFailed, "failed to query symbols", err)
	}
	defer rows.Close()

	var symbols []string

	for rows.Next() {
		var symbol string
		if err := rows.Scan(&symbol); err != nil {
			return nil, errors.Wrap(errors.ErrCodeStateQueryFailed, "failed to scan symbol", err)
		}

		symbols = append(symbols, symbol)
	}

	return symbols, rows.Err()
}

func (b *BacktestState) calculateTradeResult(symbol string) (types.TradeResult, error) {
	row := b.db.QueryRow(`
		SELECT
			count(*),
			count(*) FILTER (WHERE net_pnl > 0),
			count(*) FILTER (WHERE net_pnl < 0),
			coalesce(sum(net_pnl) FILTER (WHERE net_pnl > 0), 0),
			coalesce(abs(sum(net_pnl) FILTER (WHERE net_pnl < 0)), 0),
			coalesce(avg(net_pnl), 0),
			coalesce(stddev_samp(net_pnl), 0)
		FROM trades WHERE symbol = ?`, symbol)

	var result types.TradeResult

	var grossProfit, grossLoss, mean, stddev float64

	err := row.Scan(
		&result.NumberOfTrades, &result.NumberOfWinningTrades, &result.NumberOfLosingTrades,
		&grossProfit, &grossLoss, &mean, &stddev,
	)
	if err != nil {
		return result, errors.Wrap(errors.ErrCodeStateQueryFailed, "failed to aggregate trade results", err)
	}

	if result.NumberOfTrades > 0 {
		result.WinRate = float64(result.NumberOfWinningTrades) / float64(result.NumberOfTrades)
	}

	if grossLoss > 0 {
		result.ProfitFactor = grossProfit / grossLoss
	}

	if stddev > 0 {
		result.SQN = math.Sqrt(float64(result.NumberOfTrades)) * mean / stddev
	}

	return result, nil
}

func (b *BacktestState) calculateTradePnL(symbol string, unrealized float64) (types.TradePnL, error) {
	row := b.db.QueryRow(`
		SELECT
			coalesce(sum(net_pnl), 0),
			coalesce(min(net_pnl), 0),
			coalesce(max(net_pnl), 0)
		FROM trades WHERE symbol = ?`, symbol)

	var pnl types.TradePnL

	if err := row.Scan(&pnl.RealizedPnL, &pnl.MaximumLoss, &pnl.MaximumProfit); err != nil {
		return pnl, errors.Wrap(errors.ErrCodeStateQueryFailed, "failed to aggregate trade pnl", err)
	}

	pnl.UnrealizedPnL = unrealized
	pnl.TotalPnL = pnl.RealizedPnL + unrealized

	return pnl, nil
}

func (b *BacktestState) calculateTradeHoldingTime(symbol string) (types.TradeHoldingTime, error) {
	row := b.db.QueryRow(`
		SELECT
			coalesce(min(bar_length), 0),
			coalesce(max(bar_length), 0),
			coalesce(cast(avg(bar_length) AS INTEGER), 0)
		FROM trades WHERE symbol = ?`, symbol)

	var holding types.TradeHoldingTime

	if err := row.Scan(&holding.MinBars, &holding.MaxBars, &holding.AvgBars); err != nil {
		return holding, errors.Wrap(errors.ErrCodeStateQueryFailed, "failed to aggregate holding times", err)
	}

	return holding, nil
}

func (b *BacktestState) calculateTotalCommission(symbol string) (float64, error) {
	row := b.db.QueryRow(`SELECT coalesce(sum(commission), 0) FROM fills WHERE symbol = ?`, symbol)

	var total float64
	if err := row.Scan(&total); err != nil {
		return 0, errors.Wrap(errors.ErrCodeStateQueryFailed, "failed to sum commissions", err)
	}

	return total, nil
}

// calculateMaxDrawdown computes the worst peak-to-trough equity decline as a
// fraction, using a running-maximum window over the equity curve.
func (b *BacktestState) calculateMaxDrawdown() (float64, error) {
	row := b.db.QueryRow(`
		SELECT coalesce(min(equity / peak - 1), 0)
		FROM (
			SELECT equity, max(equity) OVER (ORDER BY ts) AS peak
			FROM equity
		)
		WHERE peak > 0`)

	var drawdown float64
	if err := row.Scan(&drawdown); err != nil {
		return 0, errors.Wrap(errors.ErrCodeStateQueryFailed, "failed to compute drawdown", err)
	}

	return -drawdown, nil
}

// GetStats computes the per-symbol summary of the run. The unrealized map
// supplies the open-position P&L per symbol at the end of the run.
func (b *BacktestState) GetStats(unrealized map[string]float64) ([]types.TradeStats, error) {
	symbols, err := b.tradeSymbols()
	if err != nil {
		return nil, err
	}

	drawdown, err := b.calculateMaxDrawdown()
	if err != nil {
		return nil, err
	}

	stats := make([]types.TradeStats, 0, len(symbols))

	for _, symbol := range symbols {
		result, err := b.calculateTradeResult(symbol)
		if err != nil {
			return nil, err
		}

		pnl, err := b.calculateTradePnL(symbol, unrealized[symbol])
		if err != nil {
			return nil, err
		}

		holding, err := b.calculateTradeHoldingTime(symbol)
		if err != nil {
			return nil, err
		}

		commission, err := b.calculateTotalCommission(symbol)
		if err != nil {
			return nil, err
		}

		stats = append(stats, types.TradeStats{
			Symbol:           symbol,
			TradeResult:      result,
			TradePnL:         pnl,
			TradeHoldingTime: holding,
			TotalCommission:  commission,
			MaxDrawdown:      drawdown,
		})
	}

	return stats, nil
}

// Write exports the result tables to Parquet files under the given folder.
func (b *BacktestState) Write(path string) error {
	for _, table := range []string{"orders", "fills", "trades", "equity"} {
		target := filepath.Join(path, table+".parquet")

		if _, err := b.db.Exec(fmt.Sprintf(`COPY %s TO '%s' (FORMAT PARQUET)`, table, target)); err != nil {
			return errors.Wrapf(errors.ErrCodeStateWriteFailed, err, "failed to export %s", table)
		}

		b.logger.Debug("exported table", zap.String("table", table), zap.String("path", target))
	}

	return nil
}

// Cleanup truncates all result tables so the state can host another run.
func (b *BacktestState) Cleanup() error {
	for _, table := range []string{"orders", "fills", "trades", "equity"} {
		if _, err := b.db.Exec("DELETE FROM " + table); err != nil {
			return errors.Wrapf(errors.ErrCodeStateWriteFailed, err, "failed to truncate %s", table)
		}
	}

	return nil
}

// Close releases the database.
func (b *BacktestState) Close() error {
	return b.db.Close()
}
