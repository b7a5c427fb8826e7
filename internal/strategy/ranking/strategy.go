// Package ranking implements periodic cross-sectional rebalancing: a
// factor expression is evaluated across the whole basket, symbols are
// ranked and the top n selected, and the portfolio is rotated into
// the new target set at each rebalance trigger.
package ranking

import (
	"math"
	"sort"
	"time"

	"github.com/moznion/go-optional"
	"github.com/rulelab/ruleback/internal/engine"
	"github.com/rulelab/ruleback/internal/logger"
	"github.com/rulelab/ruleback/internal/types"
	"github.com/rulelab/ruleback/pkg/errors"
	"go.uber.org/zap"
)

// Strategy rotates the portfolio into the top-ranked basket at each
// rebalance trigger. It runs once per timestamp even though the
// engine invokes it once per active symbol.
type Strategy struct {
	id            string
	service       *Service
	lastSeen      time.Time
	lastRebalance time.Time
	log           *logger.Logger
}

func NewStrategy(id string, service *Service, log *logger.Logger) (*Strategy, error) {
	if id == "" {
		return nil, errors.New(errors.ErrCodeInvalidConfiguration, "strategy id is required")
	}

	if service == nil {
		return nil, errors.New(errors.ErrCodeInvalidConfiguration, "ranking service is required")
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Strategy{id: id, service: service, log: log}, nil
}

func (s *Strategy) ID() string {
	return s.id
}

func (s *Strategy) RequiresCrossSection() bool {
	return true
}

// OnBar evaluates one rebalance cycle per timestamp: dropped holdings
// are sold in full, new entrants are bought at their target weight,
// and symbols in both sets emit nothing.
func (s *Strategy) OnBar(ctx *engine.BarContext) ([]types.Signal, error) {
	// The engine calls once per active symbol; act on the first call
	// of each timestamp only.
	if ctx.Time.Equal(s.lastSeen) {
		return nil, nil
	}

	s.lastSeen = ctx.Time

	if !s.service.ShouldRebalance(ctx.Time, s.lastRebalance) {
		return nil, nil
	}

	factors := s.service.Factors(ctx.Parsers, ctx.Steps)
	factors = s.service.ApplyFilters(factors, ctx.Tables, ctx.Steps)
	ranked := s.service.Rank(factors)
	selected := s.service.Select(ranked)
	weights := s.service.Weights(selected)

	target := make(map[string]bool, len(selected))
	for _, symbol := range selected {
		target[symbol] = true
	}

	// Sells are emitted in symbol order so identical runs produce an
	// identical trade sequence.
	heldSymbols := ctx.Portfolio.Symbols()
	sort.Strings(heldSymbols)

	held := make(map[string]bool, len(heldSymbols))
	for _, symbol := range heldSymbols {
		held[symbol] = true
	}

	prices := s.currentPrices(ctx)

	var signals []types.Signal

	for _, symbol := range heldSymbols {
		if target[symbol] {
			continue
		}

		price, ok := prices[symbol]
		if !ok || price <= 0 {
			continue
		}

		signals = append(signals, types.Signal{
			Time:       ctx.Time,
			Symbol:     symbol,
			Type:       types.SignalTypeRebalanceSell,
			Side:       types.SideSell,
			Price:      price,
			Quantity:   optional.Some(ctx.Portfolio.Quantity(symbol)),
			Reason:     types.Reason{Reason: types.OrderReasonRebalance, Message: "dropped from target set"},
			StrategyID: s.id,
		})
	}

	for _, symbol := range selected {
		if held[symbol] {
			continue
		}

		price, ok := prices[symbol]
		if !ok || price <= 0 {
			continue
		}

		qty := s.buyQuantity(ctx, weights[symbol], prices, price)
		if qty <= 0 {
			continue
		}

		signals = append(signals, types.Signal{
			Time:       ctx.Time,
			Symbol:     symbol,
			Type:       types.SignalTypeRebalanceBuy,
			Side:       types.SideBuy,
			Price:      price,
			Quantity:   optional.Some(qty),
			Reason:     types.Reason{Reason: types.OrderReasonRebalance, Message: "entered target set"},
			StrategyID: s.id,
		})
	}

	s.lastRebalance = ctx.Time

	s.log.Info("Rebalance signals generated",
		zap.Time("at", ctx.Time),
		zap.Int("targets", len(selected)),
		zap.Int("signals", len(signals)),
	)

	return signals, nil
}

// buyQuantity sizes a new entrant at its target weight of current
// portfolio value, floor-rounded to the configured lot.
func (s *Strategy) buyQuantity(ctx *engine.BarContext, weight float64, prices map[string]float64, price float64) float64 {
	budget := ctx.Portfolio.TotalValue(prices) * weight

	qty := budget / price

	if lot := s.service.config.LotSize; lot > 0 {
		qty = math.Floor(qty/lot) * lot
	}

	return qty
}

// currentPrices reads each active symbol's close at its current step.
func (s *Strategy) currentPrices(ctx *engine.BarContext) map[string]float64 {
	prices := make(map[string]float64, len(ctx.Tables))

	for symbol, table := range ctx.Tables {
		step, ok := ctx.Steps[symbol]
		if !ok || step < 0 {
			continue
		}

		if price, ok := table.Value(types.ColumnClose, step); ok && !math.IsNaN(price) {
			prices[symbol] = price
		}
	}

	return prices
}
