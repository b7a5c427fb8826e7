package engine

import (
	"time"

	"github.com/rulelab/ruleback/internal/logger"
	"github.com/rulelab/ruleback/pkg/errors"
	"go.uber.org/zap"
)

type RebalanceMode string

type CalendarFrequency string

const (
	RebalanceModeDisabled     RebalanceMode = "disabled"
	RebalanceModeTradingDays  RebalanceMode = "trading_days"
	RebalanceModeCalendarRule RebalanceMode = "calendar_rule"
)

const (
	CalendarFrequencyWeekly  CalendarFrequency = "weekly"
	CalendarFrequencyMonthly CalendarFrequency = "monthly"
)

// RebalanceConfig controls when a periodic strategy is allowed to
// rebalance. Day is 1-7 (Monday-Sunday) for weekly frequency and
// 1-31 for monthly.
type RebalanceConfig struct {
	Mode RebalanceMode `yaml:"mode" json:"mode" validate:"omitempty,oneof=disabled trading_days calendar_rule"`
	// Interval is the number of trading days between rebalances in
	// trading_days mode.
	Interval  int               `yaml:"interval" json:"interval" validate:"omitempty,gt=0"`
	Frequency CalendarFrequency `yaml:"frequency" json:"frequency" validate:"omitempty,oneof=weekly monthly"`
	Day       int               `yaml:"day" json:"day" validate:"omitempty,min=1,max=31"`
	// MinIntervalDays is a cooldown in calendar days between triggers.
	MinIntervalDays     int  `yaml:"min_interval_days" json:"min_interval_days" validate:"min=0"`
	AllowFirstRebalance bool `yaml:"allow_first_rebalance" json:"allow_first_rebalance"`
}

func DefaultRebalanceConfig() RebalanceConfig {
	return RebalanceConfig{
		Mode:                RebalanceModeDisabled,
		Interval:            5,
		Frequency:           CalendarFrequencyWeekly,
		Day:                 1,
		AllowFirstRebalance: true,
	}
}

func (c RebalanceConfig) validate() error {
	if c.Mode == RebalanceModeCalendarRule && c.Frequency == CalendarFrequencyWeekly && c.Day > 7 {
		return errors.Newf(errors.ErrCodeInvalidConfiguration,
			"weekly rebalance day must be 1-7, got %d", c.Day)
	}

	return nil
}

// RebalancePeriodService decides, bar by bar, whether a periodic
// strategy may rebalance. One instance per run; it tracks trading-day
// counts and the last trigger date.
type RebalancePeriodService struct {
	config           RebalanceConfig
	tradingDaysCount int
	lastRebalance    time.Time
	hasRebalanced    bool
	log              *logger.Logger
}

func NewRebalancePeriodService(config RebalanceConfig, log *logger.Logger) (*RebalancePeriodService, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}

	if config.Mode == "" {
		config.Mode = RebalanceModeDisabled
	}

	if config.Interval <= 0 {
		config.Interval = 5
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	return &RebalancePeriodService{config: config, log: log}, nil
}

// ShouldRebalance reports whether the current bar may trigger a
// rebalance. isNewDay distinguishes a new trading day from another
// bar of the same date. The first eligible bar triggers when
// AllowFirstRebalance is set; afterwards the configured mode and
// cooldown gate every trigger.
func (s *RebalancePeriodService) ShouldRebalance(current time.Time, isNewDay bool) bool {
	if isNewDay {
		s.tradingDaysCount++
	}

	if !s.hasRebalanced {
		if s.config.AllowFirstRebalance {
			s.markRebalanced(current)

			return true
		}

		return false
	}

	if s.config.MinIntervalDays > 0 {
		days := int(truncateDay(current).Sub(truncateDay(s.lastRebalance)).Hours() / 24)
		if days < s.config.MinIntervalDays {
			return false
		}
	}

	switch s.config.Mode {
	case RebalanceModeTradingDays:
		return s.byTradingDays(current, isNewDay)
	case RebalanceModeCalendarRule:
		return s.byCalendarRule(current)
	default:
		// Disabled gating: every bar may rebalance.
		s.markRebalanced(current)

		return true
	}
}

func (s *RebalancePeriodService) byTradingDays(current time.Time, isNewDay bool) bool {
	trigger := s.tradingDaysCount%s.config.Interval == 0
	if trigger && isNewDay {
		s.markRebalanced(current)
	}

	return trigger
}

func (s *RebalancePeriodService) byCalendarRule(current time.Time) bool {
	trigger := false

	switch s.config.Frequency {
	case CalendarFrequencyWeekly:
		// Day is 1=Monday..7=Sunday; time.Weekday has Sunday=0.
		target := time.Weekday(s.config.Day % 7)
		trigger = current.Weekday() == target
	case CalendarFrequencyMonthly:
		trigger = current.Day() == s.config.Day
	}

	if trigger {
		s.markRebalanced(current)
	}

	return trigger
}

func (s *RebalancePeriodService) markRebalanced(current time.Time) {
	s.lastRebalance = current
	s.hasRebalanced = true

	s.log.Debug("Rebalance triggered",
		zap.Time("at", current),
		zap.Int("trading_days", s.tradingDaysCount),
	)
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
