package types

import (
	"os"

	"gopkg.in/yaml.v3"
)

// TradeResult aggregates win/loss counts for a symbol.
type TradeResult struct {
	NumberOfTrades        int     `yaml:"number_of_trades" json:"number_of_trades"`
	NumberOfWinningTrades int     `yaml:"number_of_winning_trades" json:"number_of_winning_trades"`
	NumberOfLosingTrades  int     `yaml:"number_of_losing_trades" json:"number_of_losing_trades"`
	WinRate               float64 `yaml:"win_rate" json:"win_rate"`
	ProfitFactor          float64 `yaml:"profit_factor" json:"profit_factor"`
	// SQN is Van Tharp's system quality number: sqrt(n) * mean(pnl) / stddev(pnl).
	SQN float64 `yaml:"sqn" json:"sqn"`
}

// TradePnL aggregates realized and unrealized profit for a symbol.
type TradePnL struct {
	TotalPnL      float64 `yaml:"total_pnl" json:"total_pnl"`
	RealizedPnL   float64 `yaml:"realized_pnl" json:"realized_pnl"`
	UnrealizedPnL float64 `yaml:"unrealized_pnl" json:"unrealized_pnl"`
	MaximumLoss   float64 `yaml:"maximum_loss" json:"maximum_loss"`
	MaximumProfit float64 `yaml:"maximum_profit" json:"maximum_profit"`
}

// TradeHoldingTime aggregates bar lengths of closed trades.
type TradeHoldingTime struct {
	MinBars int `yaml:"min_bars" json:"min_bars"`
	MaxBars int `yaml:"max_bars" json:"max_bars"`
	AvgBars int `yaml:"avg_bars" json:"avg_bars"`
}

// TradeStats is the per-symbol summary computed from the trade and equity
// records a run produces.
type TradeStats struct {
	Symbol           string           `yaml:"symbol" json:"symbol"`
	TradeResult      TradeResult      `yaml:"trade_result" json:"trade_result"`
	TradePnL         TradePnL         `yaml:"trade_pnl" json:"trade_pnl"`
	TradeHoldingTime TradeHoldingTime `yaml:"trade_holding_time" json:"trade_holding_time"`
	TotalCommission  float64          `yaml:"total_commission" json:"total_commission"`
	MaxDrawdown      float64          `yaml:"max_drawdown" json:"max_drawdown"`
}

// WriteTradeStats writes the stats to the given path as YAML.
func WriteTradeStats(path string, stats []TradeStats) error {
	data, err := yaml.Marshal(stats)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
