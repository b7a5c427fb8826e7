package engine

import (
	"encoding/json"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"github.com/moznion/go-optional"
	"github.com/rulelab/ruleback/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the run configuration of one backtest.
type Config struct {
	InitialCapital float64 `yaml:"initial_capital" json:"initial_capital" validate:"required,gt=0" jsonschema:"title=Initial Capital,description=Starting capital for the run,minimum=0"`
	// CommissionRate is the fee charged per trade as a fraction of
	// notional, e.g. 0.0003.
	CommissionRate float64 `yaml:"commission_rate" json:"commission_rate" validate:"min=0" jsonschema:"title=Commission Rate,minimum=0"`
	// Slippage shifts the execution price against the trade as a
	// fraction of the bar price.
	Slippage float64 `yaml:"slippage" json:"slippage" validate:"min=0" jsonschema:"title=Slippage,minimum=0"`
	// LotSize floor-rounds sized buy quantities; 0 disables rounding.
	LotSize   float64                    `yaml:"lot_size" json:"lot_size" validate:"min=0" jsonschema:"title=Lot Size,minimum=0"`
	StartTime optional.Option[time.Time] `yaml:"start_time" json:"start_time" jsonschema:"title=Start Time,description=Optional start of the simulated period"`
	EndTime   optional.Option[time.Time] `yaml:"end_time" json:"end_time" jsonschema:"title=End Time,description=Optional end of the simulated period"`

	PositionStrategy  PositionStrategyKind `yaml:"position_strategy" json:"position_strategy" validate:"omitempty,oneof=fixed_percent full_cash" jsonschema:"title=Position Strategy"`
	PositionPercent   float64              `yaml:"position_percent" json:"position_percent" validate:"min=0,max=1" jsonschema:"title=Position Percent,minimum=0,maximum=1"`
	UseInitialCapital bool                 `yaml:"use_initial_capital" json:"use_initial_capital" jsonschema:"title=Use Initial Capital,description=Size fixed-percent buys from initial capital instead of current cash"`

	// CacheCapacity bounds the evaluator's step-dependent cache.
	CacheCapacity int `yaml:"cache_capacity" json:"cache_capacity" validate:"min=0" jsonschema:"title=Cache Capacity,minimum=0"`

	Rebalance RebalanceConfig `yaml:"rebalance" json:"rebalance" jsonschema:"title=Rebalance Settings"`
}

// DefaultConfig returns a config with the conventional defaults: a
// tenth of capital per position, board lots of 100, caching on.
func DefaultConfig() Config {
	return Config{
		InitialCapital:   100000,
		PositionStrategy: PositionStrategyFixedPercent,
		PositionPercent:  DefaultPositionPercent,
		LotSize:          DefaultLotSize,
		StartTime:        optional.None[time.Time](),
		EndTime:          optional.None[time.Time](),
		Rebalance:        DefaultRebalanceConfig(),
	}
}

// UnmarshalYAML maps absent start/end times onto None.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	type plain struct {
		InitialCapital    float64              `yaml:"initial_capital"`
		CommissionRate    float64              `yaml:"commission_rate"`
		Slippage          float64              `yaml:"slippage"`
		LotSize           float64              `yaml:"lot_size"`
		StartTime         *time.Time           `yaml:"start_time"`
		EndTime           *time.Time           `yaml:"end_time"`
		PositionStrategy  PositionStrategyKind `yaml:"position_strategy"`
		PositionPercent   float64              `yaml:"position_percent"`
		UseInitialCapital bool                 `yaml:"use_initial_capital"`
		CacheCapacity     int                  `yaml:"cache_capacity"`
		Rebalance         *RebalanceConfig     `yaml:"rebalance"`
	}

	var raw plain
	if err := value.Decode(&raw); err != nil {
		return err
	}

	c.InitialCapital = raw.InitialCapital
	c.CommissionRate = raw.CommissionRate
	c.Slippage = raw.Slippage
	c.LotSize = raw.LotSize
	c.PositionStrategy = raw.PositionStrategy
	c.PositionPercent = raw.PositionPercent
	c.UseInitialCapital = raw.UseInitialCapital
	c.CacheCapacity = raw.CacheCapacity

	c.StartTime = optional.None[time.Time]()
	if raw.StartTime != nil {
		c.StartTime = optional.Some(*raw.StartTime)
	}

	c.EndTime = optional.None[time.Time]()
	if raw.EndTime != nil {
		c.EndTime = optional.Some(*raw.EndTime)
	}

	c.Rebalance = DefaultRebalanceConfig()
	if raw.Rebalance != nil {
		c.Rebalance = *raw.Rebalance
	}

	return nil
}

// Validate checks the config's structural constraints.
func (c *Config) Validate() error {
	validate := validator.New()

	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeBacktestConfigError, "invalid run configuration", err)
	}

	if c.StartTime.IsSome() && c.EndTime.IsSome() && c.EndTime.Unwrap().Before(c.StartTime.Unwrap()) {
		return errors.New(errors.ErrCodeInvalidTimeRange, "end time precedes start time")
	}

	return c.Rebalance.validate()
}

// GenerateSchema generates the JSON schema for the run configuration.
func (c *Config) GenerateSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		AllowAdditionalProperties:  false,
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
	schema.Title = "backtest-run-config"
	schema.Description = "Configuration schema for a backtest run"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	return schema
}

// GenerateSchemaJSON renders the schema as indented JSON.
func (c *Config) GenerateSchemaJSON() (string, error) {
	schemaBytes, err := json.MarshalIndent(c.GenerateSchema(), "", "  ")
	if err != nil {
		return "", err
	}

	return string(schemaBytes), nil
}

// ParseConfig parses and validates a YAML run configuration.
func ParseConfig(data []byte) (Config, error) {
	config := DefaultConfig()

	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, errors.Wrap(errors.ErrCodeBacktestConfigError, "failed to parse run configuration", err)
	}

	if err := config.Validate(); err != nil {
		return Config{}, err
	}

	return config, nil
}
