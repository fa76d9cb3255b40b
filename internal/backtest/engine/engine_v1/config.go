package engine

import (
	"encoding/json"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"github.com/moznion/go-optional"
	"github.com/tidemark-lab/tidemark/internal/backtest/engine/engine_v1/broker"
	"github.com/tidemark-lab/tidemark/internal/backtest/engine/engine_v1/commission"
	"github.com/tidemark-lab/tidemark/internal/backtest/engine/engine_v1/sizer"
	"github.com/tidemark-lab/tidemark/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ExecutionMode selects how the engine feeds indicators: bar by bar, or
// precomputed over the whole history before the run. Both modes must
// produce identical results.
type ExecutionMode string

const (
	ExecutionModeNext ExecutionMode = "next"
	ExecutionModeOnce ExecutionMode = "once"
)

// OrderTiming selects when orders submitted during a bar execute: at the
// next bar's open (the default, no lookahead) or at the decision bar's own
// close (an explicit opt-in that trades on the price being observed).
type OrderTiming string

const (
	OrderTimingNextOpen OrderTiming = "next_open"
	OrderTimingClose    OrderTiming = "close"
)

// SlippageConfig selects the execution-price adjustment model.
type SlippageConfig struct {
	// Type is one of none, fixed, percent.
	Type string `yaml:"type" json:"type" jsonschema:"title=Slippage Type,enum=none,enum=fixed,enum=percent"`
	// Value is the absolute amount for fixed, the fraction for percent.
	Value float64 `yaml:"value" json:"value" jsonschema:"title=Slippage Value,minimum=0"`
}

// Model builds the slippage model for the broker.
func (s SlippageConfig) Model() (broker.SlippageModel, error) {
	switch s.Type {
	case "", "none":
		return broker.NoSlippage{}, nil
	case "fixed":
		return broker.FixedSlippage{Amount: s.Value}, nil
	case "percent":
		return broker.PercentSlippage{Percent: s.Value}, nil
	default:
		return nil, errors.Newf(errors.ErrCodeConfigInvalid, "unknown slippage type %q", s.Type)
	}
}

// BacktestEngineV1Config is the full engine configuration, typically loaded
// from a YAML file.
type BacktestEngineV1Config struct {
	InitialCapital float64 `yaml:"initial_capital" json:"initial_capital" validate:"gt=0" jsonschema:"title=Initial Capital,description=Starting cash for the run,minimum=0"`

	ExecutionMode ExecutionMode `yaml:"execution_mode" json:"execution_mode" validate:"oneof=next once" jsonschema:"title=Execution Mode,enum=next,enum=once"`
	OrderTiming   OrderTiming   `yaml:"order_timing" json:"order_timing" validate:"oneof=next_open close" jsonschema:"title=Order Timing,enum=next_open,enum=close"`
	// CheatOnOpen delivers an extra strategy callback at each bar's open,
	// before the rest of the bar is revealed; orders placed there execute at
	// that open.
	CheatOnOpen bool `yaml:"cheat_on_open" json:"cheat_on_open" jsonschema:"title=Cheat On Open"`

	StartTime optional.Option[time.Time] `yaml:"start_time" json:"start_time" jsonschema:"title=Start Time,description=Optional start of the replayed window"`
	EndTime   optional.Option[time.Time] `yaml:"end_time" json:"end_time" jsonschema:"title=End Time,description=Optional end of the replayed window"`

	Commission commission.Config `yaml:"commission" json:"commission" jsonschema:"title=Commission"`
	Slippage   SlippageConfig    `yaml:"slippage" json:"slippage" jsonschema:"title=Slippage"`
	Sizing     sizer.Config      `yaml:"sizing" json:"sizing" jsonschema:"title=Sizing"`

	// VolumeLimit caps one order's per-bar fill at this fraction of bar
	// volume; zero disables partial fills.
	VolumeLimit            float64                `yaml:"volume_limit" json:"volume_limit" validate:"gte=0,lte=1" jsonschema:"title=Volume Limit,minimum=0,maximum=1"`
	AllowMultiplePositions bool                   `yaml:"allow_multiple_positions" json:"allow_multiple_positions" jsonschema:"title=Allow Multiple Positions"`
	UnlimitedMargin        bool                   `yaml:"unlimited_margin" json:"unlimited_margin" jsonschema:"title=Unlimited Margin"`
	BracketPriority        broker.BracketPriority `yaml:"bracket_priority" json:"bracket_priority" validate:"oneof=stop_loss take_profit" jsonschema:"title=Bracket Priority,enum=stop_loss,enum=take_profit"`

	DecimalPrecision int `yaml:"decimal_precision" json:"decimal_precision" validate:"gt=0" jsonschema:"title=Decimal Precision,minimum=1"`
}

// EmptyConfig returns the defaults applied before YAML overrides.
func EmptyConfig() BacktestEngineV1Config {
	return BacktestEngineV1Config{
		InitialCapital:   10000,
		ExecutionMode:    ExecutionModeNext,
		OrderTiming:      OrderTimingNextOpen,
		Commission:       commission.Config{Scheme: commission.SchemeZero},
		Slippage:         SlippageConfig{Type: "none"},
		Sizing:           sizer.Config{Mode: sizer.ModeFixed, Amount: 1},
		BracketPriority:  broker.BracketPriorityStopLoss,
		DecimalPrecision: 8,
	}
}

// UnmarshalYAML maps nullable timestamps onto options; everything else
// decodes structurally.
func (c *BacktestEngineV1Config) UnmarshalYAML(value *yaml.Node) error {
	type raw struct {
		InitialCapital         float64                `yaml:"initial_capital"`
		ExecutionMode          ExecutionMode          `yaml:"execution_mode"`
		OrderTiming            OrderTiming            `yaml:"order_timing"`
		CheatOnOpen            bool                   `yaml:"cheat_on_open"`
		StartTime              *time.Time             `yaml:"start_time"`
		EndTime                *time.Time             `yaml:"end_time"`
		Commission             commission.Config      `yaml:"commission"`
		Slippage               SlippageConfig         `yaml:"slippage"`
		Sizing                 sizer.Config           `yaml:"sizing"`
		VolumeLimit            float64                `yaml:"volume_limit"`
		AllowMultiplePositions bool                   `yaml:"allow_multiple_positions"`
		UnlimitedMargin        bool                   `yaml:"unlimited_margin"`
		BracketPriority        broker.BracketPriority `yaml:"bracket_priority"`
		DecimalPrecision       int                    `yaml:"decimal_precision"`
	}

	defaults := EmptyConfig()
	decoded := raw{
		InitialCapital:   defaults.InitialCapital,
		ExecutionMode:    defaults.ExecutionMode,
		OrderTiming:      defaults.OrderTiming,
		Commission:       defaults.Commission,
		Slippage:         defaults.Slippage,
		Sizing:           defaults.Sizing,
		BracketPriority:  defaults.BracketPriority,
		DecimalPrecision: defaults.DecimalPrecision,
	}

	if err := value.Decode(&decoded); err != nil {
		return errors.Wrap(errors.ErrCodeConfigInvalid, "failed to decode engine config", err)
	}

	c.InitialCapital = decoded.InitialCapital
	c.ExecutionMode = decoded.ExecutionMode
	c.OrderTiming = decoded.OrderTiming
	c.CheatOnOpen = decoded.CheatOnOpen
	c.Commission = decoded.Commission
	c.Slippage = decoded.Slippage
	c.Sizing = decoded.Sizing
	c.VolumeLimit = decoded.VolumeLimit
	c.AllowMultiplePositions = decoded.AllowMultiplePositions
	c.UnlimitedMargin = decoded.UnlimitedMargin
	c.BracketPriority = decoded.BracketPriority
	c.DecimalPrecision = decoded.DecimalPrecision

	if decoded.StartTime != nil {
		c.StartTime = optional.Some(*decoded.StartTime)
	}

	if decoded.EndTime != nil {
		c.EndTime = optional.Some(*decoded.EndTime)
	}

	return nil
}

// ParseConfig decodes and validates a YAML engine config.
func ParseConfig(content string) (BacktestEngineV1Config, error) {
	config := EmptyConfig()

	if content != "" {
		if err := yaml.Unmarshal([]byte(content), &config); err != nil {
			return config, err
		}
	}

	if err := config.Validate(); err != nil {
		return config, err
	}

	return config, nil
}

// Validate checks the decoded configuration's consistency.
func (c *BacktestEngineV1Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeConfigInvalid, "invalid engine config", err)
	}

	if c.StartTime.IsSome() && c.EndTime.IsSome() && c.EndTime.Unwrap().Before(c.StartTime.Unwrap()) {
		return errors.New(errors.ErrCodeConfigInvalid, "end_time precedes start_time")
	}

	if _, err := c.Slippage.Model(); err != nil {
		return err
	}

	return nil
}

// GenerateSchema builds the JSON schema describing this configuration.
func (c *BacktestEngineV1Config) GenerateSchema() (*jsonschema.Schema, error) {
	reflector := jsonschema.Reflector{
		ExpandedStruct:            true,
		AllowAdditionalProperties: false,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t.String() == "optional.Option[time.Time]" {
				return &jsonschema.Schema{
					Type:   "string",
					Format: "date-time",
				}
			}

			return nil
		},
	}

	schema := reflector.Reflect(c)
	schema.Title = "backtest-engine-v1-config"
	schema.Description = "Configuration schema for BacktestEngineV1"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	return schema, nil
}

// GenerateSchemaJSON renders the schema as indented JSON.
func (c *BacktestEngineV1Config) GenerateSchemaJSON() (string, error) {
	schema, err := c.GenerateSchema()
	if err != nil {
		return "", err
	}

	schemaBytes, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", err
	}

	return string(schemaBytes), nil
}
