package ranking

import (
	"math"
	"sort"
	"time"

	"github.com/rulelab/ruleback/internal/logger"
	"github.com/rulelab/ruleback/internal/ruleparser"
	"github.com/rulelab/ruleback/internal/types"
	"go.uber.org/zap"
)

// RankedSymbol is one row of a ranking result.
type RankedSymbol struct {
	Symbol string
	Factor float64
	Rank   int
}

// Service computes cross-sectional factor values, filters and ranks
// them, and decides rebalance timing. One instance per run.
type Service struct {
	config      Config
	lastRanking []RankedSymbol
	log         *logger.Logger
}

func NewService(config Config, log *logger.Logger) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Service{config: config.withDefaults(), log: log}, nil
}

// Factors evaluates the factor expression for every symbol at its
// current step. Symbols whose evaluation fails or reads NaN are
// dropped; they simply do not enter the ranking.
func (s *Service) Factors(parsers map[string]*ruleparser.RuleParser, steps map[string]int) map[string]float64 {
	factors := make(map[string]float64, len(parsers))

	for symbol, parser := range parsers {
		step, ok := steps[symbol]
		if !ok || step < 0 {
			continue
		}

		value, err := parser.EvaluateValue(s.config.FactorExpression, step)
		if err != nil {
			s.log.Warn("Factor evaluation failed",
				zap.String("symbol", symbol),
				zap.Error(err),
			)

			continue
		}

		if math.IsNaN(value) || math.IsInf(value, 0) {
			continue
		}

		factors[symbol] = value
	}

	return factors
}

// ApplyFilters drops symbols below the configured price or volume
// floors, read at each symbol's current step.
func (s *Service) ApplyFilters(factors map[string]float64, tables map[string]*types.PriceTable, steps map[string]int) map[string]float64 {
	if s.config.MinPrice.IsNone() && s.config.MinVolume.IsNone() {
		return factors
	}

	filtered := make(map[string]float64, len(factors))

	for symbol, factor := range factors {
		table, ok := tables[symbol]
		if !ok {
			continue
		}

		step := steps[symbol]

		if s.config.MinPrice.IsSome() {
			price, ok := table.Value(types.ColumnClose, step)
			if !ok || math.IsNaN(price) || price < s.config.MinPrice.Unwrap() {
				continue
			}
		}

		if s.config.MinVolume.IsSome() {
			volume, ok := table.Value(types.ColumnVolume, step)
			if !ok || math.IsNaN(volume) || volume < s.config.MinVolume.Unwrap() {
				continue
			}
		}

		filtered[symbol] = factor
	}

	return filtered
}

// Rank orders symbols by factor value per the configured method. Ties
// share the best (minimum) rank; equal factors are ordered by symbol
// for determinism.
func (s *Service) Rank(factors map[string]float64) []RankedSymbol {
	ranked := make([]RankedSymbol, 0, len(factors))
	for symbol, factor := range factors {
		ranked = append(ranked, RankedSymbol{Symbol: symbol, Factor: factor})
	}

	ascending := s.config.RankingMethod == MethodAscending

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Factor != ranked[j].Factor {
			if ascending {
				return ranked[i].Factor < ranked[j].Factor
			}

			return ranked[i].Factor > ranked[j].Factor
		}

		return ranked[i].Symbol < ranked[j].Symbol
	})

	for i := range ranked {
		if i > 0 && ranked[i].Factor == ranked[i-1].Factor {
			ranked[i].Rank = ranked[i-1].Rank
		} else {
			ranked[i].Rank = i + 1
		}
	}

	s.lastRanking = ranked

	return ranked
}

// Select returns the top-n symbols of a ranking.
func (s *Service) Select(ranked []RankedSymbol) []string {
	n := s.config.TopN
	if n > len(ranked) {
		n = len(ranked)
	}

	selected := make([]string, 0, n)
	for _, row := range ranked[:n] {
		selected = append(selected, row.Symbol)
	}

	return selected
}

// Weights assigns each selected symbol an equal weight capped at the
// configured per-symbol maximum.
func (s *Service) Weights(selected []string) map[string]float64 {
	if len(selected) == 0 {
		return map[string]float64{}
	}

	weight := math.Min(1.0/float64(len(selected)), s.config.MaxPositionPercent)

	weights := make(map[string]float64, len(selected))
	for _, symbol := range selected {
		weights[symbol] = weight
	}

	return weights
}

// ShouldRebalance reports whether the timestamp is a rebalance
// trigger given the last trigger time. Daily fires once per calendar
// date; weekly fires on the configured weekday with a 7-day cooldown;
// monthly fires on the configured day-of-month with a 28-day cooldown.
func (s *Service) ShouldRebalance(ts time.Time, last time.Time) bool {
	switch s.config.RebalanceFrequency {
	case FrequencyDaily:
		if last.IsZero() {
			return true
		}

		ly, lm, ld := last.Date()
		cy, cm, cd := ts.Date()

		return ly != cy || lm != cm || ld != cd
	case FrequencyWeekly:
		// RebalanceDay 1=Monday..7=Sunday; time.Weekday has Sunday=0.
		if ts.Weekday() != time.Weekday(s.config.RebalanceDay%7) {
			return false
		}

		return last.IsZero() || ts.Sub(last).Hours() >= 7*24
	case FrequencyMonthly:
		if ts.Day() != s.config.RebalanceDay {
			return false
		}

		return last.IsZero() || ts.Sub(last).Hours() >= 28*24
	}

	return false
}

// LastRanking returns the most recent ranking result.
func (s *Service) LastRanking() []RankedSymbol {
	return s.lastRanking
}
