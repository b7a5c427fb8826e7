// Package strategy implements rule-driven trading strategies for the
// backtest engine: per-symbol entry/exit rules expressed in the rule
// language, and (in the ranking subpackage) periodic cross-sectional
// rebalancing.
package strategy

import (
	"github.com/moznion/go-optional"
	"github.com/rulelab/ruleback/internal/engine"
	"github.com/rulelab/ruleback/internal/logger"
	"github.com/rulelab/ruleback/internal/ruleparser"
	"github.com/rulelab/ruleback/internal/types"
	"github.com/rulelab/ruleback/pkg/errors"
	"go.uber.org/zap"
)

// DefaultPartialSellQuantity matches the conventional board lot.
const DefaultPartialSellQuantity = 100.0

// RuleConfig holds the four rule expressions of a rule-based
// strategy. Empty rules never fire.
type RuleConfig struct {
	ID string `yaml:"id" json:"id" validate:"required"`
	// OpenRule opens a position when flat.
	OpenRule string `yaml:"open_rule" json:"open_rule"`
	// LiquidateRule exits the full position.
	LiquidateRule string `yaml:"liquidate_rule" json:"liquidate_rule"`
	// PartialSellRule trims the position by a fixed quantity.
	PartialSellRule string `yaml:"partial_sell_rule" json:"partial_sell_rule"`
	// AddRule adds to an existing position.
	AddRule string `yaml:"add_rule" json:"add_rule"`
	// PartialSellQuantity is the quantity sold per partial-sell
	// trigger; 0 means the default lot.
	PartialSellQuantity float64 `yaml:"partial_sell_quantity" json:"partial_sell_quantity" validate:"min=0"`
}

// RuleBasedStrategy evaluates its rules each bar against the active
// symbol. Priority: flat checks only the open rule; holding checks
// liquidate, then partial sell, then add. The first rule that reads
// true wins, so a strategy emits at most one signal per bar.
type RuleBasedStrategy struct {
	config RuleConfig
	log    *logger.Logger
}

func NewRuleBasedStrategy(config RuleConfig, log *logger.Logger) (*RuleBasedStrategy, error) {
	if config.ID == "" {
		return nil, errors.New(errors.ErrCodeInvalidConfiguration, "strategy id is required")
	}

	rules := []struct {
		name string
		text string
	}{
		{"open_rule", config.OpenRule},
		{"liquidate_rule", config.LiquidateRule},
		{"partial_sell_rule", config.PartialSellRule},
		{"add_rule", config.AddRule},
	}

	configured := 0

	for _, rule := range rules {
		if rule.text == "" {
			continue
		}

		configured++

		if ok, msg := ruleparser.ValidateSyntax(rule.text); !ok {
			return nil, errors.Newf(errors.ErrCodeRuleSyntax, "%s: %s", rule.name, msg)
		}
	}

	if configured == 0 {
		return nil, errors.New(errors.ErrCodeRuleEmpty, "no rules configured")
	}

	if config.PartialSellQuantity <= 0 {
		config.PartialSellQuantity = DefaultPartialSellQuantity
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	return &RuleBasedStrategy{config: config, log: log}, nil
}

func (s *RuleBasedStrategy) ID() string {
	return s.config.ID
}

func (s *RuleBasedStrategy) RequiresCrossSection() bool {
	return false
}

// OnBar evaluates the rules for the bar's symbol and returns at most
// one signal. When the engine carries a rebalance schedule, rules are
// only evaluated on bars the schedule marks as due.
func (s *RuleBasedStrategy) OnBar(ctx *engine.BarContext) ([]types.Signal, error) {
	if ctx.Rebalance != nil && !ctx.RebalanceDue {
		return nil, nil
	}

	held := ctx.Portfolio.Quantity(ctx.Symbol)

	if held == 0 {
		return s.check(ctx, s.config.OpenRule, types.SignalTypeOpen)
	}

	for _, candidate := range []struct {
		rule string
		kind types.SignalType
	}{
		{s.config.LiquidateRule, types.SignalTypeLiquidate},
		{s.config.PartialSellRule, types.SignalTypePartialSell},
		{s.config.AddRule, types.SignalTypeAdd},
	} {
		signals, err := s.check(ctx, candidate.rule, candidate.kind)
		if err != nil || len(signals) > 0 {
			return signals, err
		}
	}

	return nil, nil
}

func (s *RuleBasedStrategy) check(ctx *engine.BarContext, rule string, kind types.SignalType) ([]types.Signal, error) {
	if rule == "" {
		return nil, nil
	}

	fired, err := ctx.Parser.EvaluateRule(rule, ctx.Step)
	if err != nil {
		return nil, err
	}

	if !fired {
		return nil, nil
	}

	s.log.Debug("Rule fired",
		zap.String("strategy", s.config.ID),
		zap.String("symbol", ctx.Symbol),
		zap.String("kind", string(kind)),
		zap.Time("at", ctx.Time),
	)

	return []types.Signal{s.signal(ctx, kind)}, nil
}

func (s *RuleBasedStrategy) signal(ctx *engine.BarContext, kind types.SignalType) types.Signal {
	signal := types.Signal{
		Time:       ctx.Time,
		Symbol:     ctx.Symbol,
		Type:       kind,
		Price:      ctx.Price,
		Quantity:   optional.None[float64](),
		Reason:     types.Reason{Reason: types.OrderReasonRule, Message: string(kind)},
		StrategyID: s.config.ID,
	}

	switch kind {
	case types.SignalTypeOpen, types.SignalTypeAdd:
		signal.Side = types.SideBuy
	case types.SignalTypeLiquidate:
		signal.Side = types.SideSell
	case types.SignalTypePartialSell:
		signal.Side = types.SideSell

		// Never trim more than the current holding.
		qty := s.config.PartialSellQuantity
		if held := ctx.Portfolio.Quantity(ctx.Symbol); qty > held {
			qty = held
		}

		signal.Quantity = optional.Some(qty)
	}

	return signal
}
