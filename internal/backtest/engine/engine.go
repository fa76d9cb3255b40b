// Package engine defines the backtest engine contract. Implementations live
// in versioned subpackages; engine_v1 is the current one.
package engine

import (
	"context"

	"github.com/tidemark-lab/tidemark/internal/backtest/engine/engine_v1/datasource"
	"github.com/tidemark-lab/tidemark/internal/types"
	"github.com/tidemark-lab/tidemark/pkg/strategy"
)

// Lifecycle callback types for backtest phases. Callbacks returning an error
// abort the run.

// OnRunStartCallback is called once before the first bar is revealed.
type OnRunStartCallback func(runID string, totalBars int) error

// OnProcessDataCallback is called after each processed bar.
type OnProcessDataCallback func(current int, total int) error

// OnRunEndCallback is called when the run finishes, on every exit path.
type OnRunEndCallback func(result types.RunResult)

// LifecycleCallbacks holds the optional run lifecycle hooks. Nil fields are
// skipped.
type LifecycleCallbacks struct {
	OnRunStart    *OnRunStartCallback
	OnProcessData *OnProcessDataCallback
	OnRunEnd      *OnRunEndCallback
}

type Engine interface {
	// Initialize parses the engine configuration (YAML) and prepares state.
	Initialize(config string) error
	// SetStrategyConfig passes raw configuration content to the strategy's
	// Initialize before the run.
	SetStrategyConfig(config string) error
	// SetResultsFolder sets the output directory for run artifacts (Parquet
	// exports and the stats summary). Empty disables writing.
	SetResultsFolder(folder string) error
	// LoadStrategy sets the strategy driven by the run.
	LoadStrategy(s strategy.Strategy) error
	// AddDataFeed registers one or more bar feeds. Feeds for different
	// symbols are interleaved in global time order.
	AddDataFeed(feeds ...datasource.Feed) error
	// Run replays the registered feeds through the strategy. The context
	// cancels a run between bars.
	Run(ctx context.Context, callbacks LifecycleCallbacks) (types.RunResult, error)
	// GetConfigSchema returns the JSON schema of the engine configuration.
	GetConfigSchema() (string, error)
}
