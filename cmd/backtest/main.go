package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/tidemark-lab/tidemark/internal/backtest/engine"
	enginev1 "github.com/tidemark-lab/tidemark/internal/backtest/engine/engine_v1"
	"github.com/tidemark-lab/tidemark/internal/backtest/engine/engine_v1/datasource"
	"github.com/tidemark-lab/tidemark/internal/logger"
	"github.com/tidemark-lab/tidemark/internal/types"
	"github.com/tidemark-lab/tidemark/pkg/strategy"
	"github.com/urfave/cli/v3"
)

// builtinStrategies maps the names accepted by --strategy to constructors.
var builtinStrategies = map[string]func() strategy.Strategy{
	"sma_cross": func() strategy.Strategy { return strategy.NewSMACross() },
}

// feedSymbol derives the instrument symbol from a data file path:
// data/aapl_1m.parquet -> AAPL.
func feedSymbol(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if idx := strings.IndexByte(base, '_'); idx > 0 {
		base = base[:idx]
	}

	return strings.ToUpper(base)
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	engineConfig := ""

	if configPath := cmd.String("config"); configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil {
			return fmt.Errorf("failed to read engine config: %w", err)
		}

		engineConfig = string(content)
	}

	newStrategy, ok := builtinStrategies[cmd.String("strategy")]
	if !ok {
		return fmt.Errorf("unknown strategy %q", cmd.String("strategy"))
	}

	backtester := enginev1.NewBacktestEngineV1()
	if err := backtester.Initialize(engineConfig); err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	if strategyConfigPath := cmd.String("strategy-config"); strategyConfigPath != "" {
		content, err := os.ReadFile(strategyConfigPath)
		if err != nil {
			return fmt.Errorf("failed to read strategy config: %w", err)
		}

		if err := backtester.SetStrategyConfig(string(content)); err != nil {
			return err
		}
	}

	if err := backtester.SetResultsFolder(cmd.String("output")); err != nil {
		return err
	}

	if err := backtester.LoadStrategy(newStrategy()); err != nil {
		return fmt.Errorf("failed to load strategy: %w", err)
	}

	timeframe := types.Timeframe(cmd.String("timeframe"))
	if _, err := timeframe.Duration(); err != nil {
		return err
	}

	feedLogger, err := logger.NewLogger()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	for _, path := range cmd.StringSlice("data") {
		feed, err := datasource.NewDuckDBFeed(path, feedSymbol(path), timeframe, feedLogger)
		if err != nil {
			return fmt.Errorf("failed to open data file %s: %w", path, err)
		}

		defer feed.Close()

		if err := backtester.AddDataFeed(feed); err != nil {
			return err
		}
	}

	var bar *progressbar.ProgressBar

	onRunStart := engine.OnRunStartCallback(func(runID string, totalBars int) error {
		log.Printf("Starting run %s over %d bars", runID, totalBars)
		bar = progressbar.Default(int64(totalBars), "replaying")

		return nil
	})
	onProcessData := engine.OnProcessDataCallback(func(current, total int) error {
		return bar.Set(current)
	})
	onRunEnd := engine.OnRunEndCallback(func(result types.RunResult) {
		_ = bar.Finish()
	})

	result, err := backtester.Run(ctx, engine.LifecycleCallbacks{
		OnRunStart:    &onRunStart,
		OnProcessData: &onProcessData,
		OnRunEnd:      &onRunEnd,
	})
	if err != nil {
		return err
	}

	log.Printf("Replayed %d bars from %s to %s",
		result.BarsReplayed,
		result.StartTime.Format("2006-01-02 15:04"),
		result.EndTime.Format("2006-01-02 15:04"))
	log.Printf("Closed trades: %d, final equity: %.2f (cash %.2f)",
		len(result.Trades), result.FinalAccount.Equity, result.FinalAccount.Cash)

	if output := cmd.String("output"); output != "" {
		log.Printf("Results written to %s", output)
	}

	return nil
}

func schemaAction(ctx context.Context, cmd *cli.Command) error {
	backtester := enginev1.NewBacktestEngineV1()

	schema, err := backtester.GetConfigSchema()
	if err != nil {
		return err
	}

	fmt.Println(schema)

	return nil
}

func main() {
	cmd := &cli.Command{
		Name:  "backtest",
		Usage: "Replay historical bars through a trading strategy",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Run a backtest over one or more data files",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:     "data",
						Aliases:  []string{"d"},
						Usage:    "Path to a CSV or Parquet bar file; repeat for multiple symbols",
						Required: true,
					},
					&cli.StringFlag{
						Name:    "config",
						Aliases: []string{"c"},
						Usage:   "Path to the engine configuration YAML; defaults apply when omitted",
					},
					&cli.StringFlag{
						Name:    "strategy",
						Aliases: []string{"s"},
						Usage:   "Built-in strategy to run",
						Value:   "sma_cross",
					},
					&cli.StringFlag{
						Name:  "strategy-config",
						Usage: "Path to the strategy configuration YAML",
					},
					&cli.StringFlag{
						Name:    "timeframe",
						Aliases: []string{"t"},
						Usage:   "Bar timeframe of the data files (1m, 5m, 15m, 30m, 1h, 4h, 1d, 1w)",
						Value:   "1m",
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Directory for run artifacts (Parquet exports and stats.yaml)",
						Value:   "results",
					},
				},
				Action: runAction,
			},
			{
				Name:   "schema",
				Usage:  "Print the JSON schema of the engine configuration",
				Action: schemaAction,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
