package engine

import (
	"math"

	"github.com/rulelab/ruleback/pkg/errors"
)

type PositionStrategyKind string

const (
	PositionStrategyFixedPercent PositionStrategyKind = "fixed_percent"
	PositionStrategyFullCash     PositionStrategyKind = "full_cash"
)

const (
	DefaultPositionPercent = 0.1
	DefaultLotSize         = 100.0
)

// PositionStrategy sizes a buy order when the signal carries no
// explicit quantity. Sells always liquidate or reduce existing
// holdings and are sized from the position directly.
type PositionStrategy interface {
	// BuyQuantity returns the raw (pre lot-rounding) quantity to buy at
	// the given price.
	BuyQuantity(portfolio *Portfolio, price float64) float64
}

// FixedPercentStrategy invests a fixed percentage of capital per buy.
// The base is either the initial capital or the current cash balance.
type FixedPercentStrategy struct {
	Percent           float64
	UseInitialCapital bool
}

func NewFixedPercentStrategy(percent float64, useInitialCapital bool) *FixedPercentStrategy {
	if percent <= 0 {
		percent = DefaultPositionPercent
	}

	return &FixedPercentStrategy{Percent: percent, UseInitialCapital: useInitialCapital}
}

func (s *FixedPercentStrategy) BuyQuantity(portfolio *Portfolio, price float64) float64 {
	if price <= 0 {
		return 0
	}

	base := portfolio.Cash()
	if s.UseInitialCapital {
		base = portfolio.InitialCapital()
	}

	budget := base * s.Percent
	if budget > portfolio.Cash() {
		budget = portfolio.Cash()
	}

	return budget / price
}

// FullCashStrategy commits the entire cash balance to each buy.
type FullCashStrategy struct{}

func (FullCashStrategy) BuyQuantity(portfolio *Portfolio, price float64) float64 {
	if price <= 0 {
		return 0
	}

	return portfolio.Cash() / price
}

// NewPositionStrategy builds a sizing strategy from its configured
// kind and parameters.
func NewPositionStrategy(kind PositionStrategyKind, percent float64, useInitialCapital bool) (PositionStrategy, error) {
	switch kind {
	case PositionStrategyFixedPercent, "":
		return NewFixedPercentStrategy(percent, useInitialCapital), nil
	case PositionStrategyFullCash:
		return FullCashStrategy{}, nil
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidConfiguration,
			"unknown position strategy %q", kind)
	}
}

// roundToLot floors a quantity to a whole number of lots. A lot size
// of zero or less disables rounding.
func roundToLot(qty, lotSize float64) float64 {
	if lotSize <= 0 {
		return qty
	}

	return math.Floor(qty/lotSize) * lotSize
}
