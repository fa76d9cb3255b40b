package types

import "time"

// AccountSnapshot is the broker ledger state at one bar boundary.
// Invariant: Equity == Cash + the sum of position market values at the marks
// used for the snapshot, within the configured rounding tolerance.
type AccountSnapshot struct {
	Time time.Time `yaml:"time" json:"time" csv:"time"`
	// Cash is the realized cash balance (excludes unrealized P&L).
	Cash float64 `yaml:"cash" json:"cash" csv:"cash"`
	// Equity is the portfolio value: cash plus open position value.
	Equity float64 `yaml:"equity" json:"equity" csv:"equity"`
	// RealizedPnL is the cumulative realized profit/loss from closed trades.
	RealizedPnL float64 `yaml:"realized_pnl" json:"realized_pnl" csv:"realized_pnl"`
	// UnrealizedPnL is the open-position profit/loss at current marks.
	UnrealizedPnL float64 `yaml:"unrealized_pnl" json:"unrealized_pnl" csv:"unrealized_pnl"`
	// MarginUsed is the margin held against open futures-style positions.
	MarginUsed float64 `yaml:"margin_used" json:"margin_used" csv:"margin_used"`
	// TotalCommission is the cumulative commission deducted.
	TotalCommission float64 `yaml:"total_commission" json:"total_commission" csv:"total_commission"`
}

// RunResult is the output of a completed backtest run.
type RunResult struct {
	RunID        string          `yaml:"run_id" json:"run_id"`
	StrategyName string          `yaml:"strategy_name" json:"strategy_name"`
	StartTime    time.Time       `yaml:"start_time" json:"start_time"`
	EndTime      time.Time       `yaml:"end_time" json:"end_time"`
	InitialCash  float64         `yaml:"initial_cash" json:"initial_cash"`
	FinalAccount AccountSnapshot `yaml:"final_account" json:"final_account"`
	BarsReplayed int             `yaml:"bars_replayed" json:"bars_replayed"`
	Trades       []Trade         `yaml:"-" json:"-"`
	EquityCurve  []AccountSnapshot `yaml:"-" json:"-"`
}
