package ranking

import (
	"github.com/go-playground/validator/v10"
	"github.com/moznion/go-optional"
	"github.com/rulelab/ruleback/internal/ruleparser"
	"github.com/rulelab/ruleback/pkg/errors"
)

type RankingMethod string

type RebalanceFrequency string

const (
	MethodDescending RankingMethod = "descending"
	MethodAscending  RankingMethod = "ascending"
)

const (
	FrequencyDaily   RebalanceFrequency = "daily"
	FrequencyWeekly  RebalanceFrequency = "weekly"
	FrequencyMonthly RebalanceFrequency = "monthly"
)

// Config drives factor-based basket selection: which expression to
// rank on, how many symbols to hold, when to rebalance, and optional
// liquidity floors. RebalanceDay is a weekday 1-7 (Monday-Sunday) for
// weekly frequency and a day-of-month 1-31 for monthly.
type Config struct {
	FactorExpression   string                   `yaml:"factor_expression" json:"factor_expression" validate:"required"`
	RankingMethod      RankingMethod            `yaml:"ranking_method" json:"ranking_method" validate:"omitempty,oneof=ascending descending"`
	TopN               int                      `yaml:"top_n" json:"top_n" validate:"required,gt=0"`
	RebalanceFrequency RebalanceFrequency       `yaml:"rebalance_frequency" json:"rebalance_frequency" validate:"omitempty,oneof=daily weekly monthly"`
	RebalanceDay       int                      `yaml:"rebalance_day" json:"rebalance_day" validate:"omitempty,min=1,max=31"`
	MinPrice           optional.Option[float64] `yaml:"min_price" json:"min_price"`
	MinVolume          optional.Option[float64] `yaml:"min_volume" json:"min_volume"`
	MaxPositionPercent float64                  `yaml:"max_position_percent" json:"max_position_percent" validate:"required,gt=0,lte=1"`
	// LotSize floor-rounds weight-derived buy quantities; 0 disables
	// rounding.
	LotSize float64 `yaml:"lot_size" json:"lot_size" validate:"min=0"`
}

// Validate checks the config's invariants, including that the factor
// expression parses.
func (c *Config) Validate() error {
	validate := validator.New()

	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid ranking configuration", err)
	}

	if c.RebalanceFrequency == FrequencyWeekly && c.RebalanceDay > 7 {
		return errors.Newf(errors.ErrCodeInvalidConfiguration,
			"weekly rebalance day must be 1-7, got %d", c.RebalanceDay)
	}

	if ok, msg := ruleparser.ValidateSyntax(c.FactorExpression); !ok {
		return errors.Newf(errors.ErrCodeRuleSyntax, "factor expression: %s", msg)
	}

	return nil
}

// withDefaults fills the optional knobs.
func (c Config) withDefaults() Config {
	if c.RankingMethod == "" {
		c.RankingMethod = MethodDescending
	}

	if c.RebalanceFrequency == "" {
		c.RebalanceFrequency = FrequencyMonthly
	}

	if c.RebalanceDay == 0 {
		c.RebalanceDay = 1
	}

	return c
}
