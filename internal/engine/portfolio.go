package engine

import (
	"time"

	"github.com/rulelab/ruleback/internal/types"
	"github.com/rulelab/ruleback/pkg/errors"
	"github.com/shopspring/decimal"
)

// Portfolio holds cash and open positions for one run. It is mutated
// exclusively through the order coordinator's fill path; every other
// component reads it through the accessor methods.
type Portfolio struct {
	initialCapital float64
	cash           float64
	positions      map[string]*types.Position
}

func NewPortfolio(initialCapital float64) *Portfolio {
	return &Portfolio{
		initialCapital: initialCapital,
		cash:           initialCapital,
		positions:      make(map[string]*types.Position),
	}
}

func (p *Portfolio) InitialCapital() float64 {
	return p.initialCapital
}

func (p *Portfolio) Cash() float64 {
	return p.cash
}

// Position returns the open position for a symbol, or a zero-valued
// position when flat.
func (p *Portfolio) Position(symbol string) types.Position {
	if pos, ok := p.positions[symbol]; ok {
		return *pos
	}

	return types.Position{Symbol: symbol}
}

// Symbols returns the symbols with a non-zero holding.
func (p *Portfolio) Symbols() []string {
	symbols := make([]string, 0, len(p.positions))

	for symbol, pos := range p.positions {
		if pos.Quantity > 0 {
			symbols = append(symbols, symbol)
		}
	}

	return symbols
}

// TotalCost returns the cost basis of all open holdings, fees
// included. Backs the reserved COST rule variable.
func (p *Portfolio) TotalCost() float64 {
	total := decimal.Zero

	for _, pos := range p.positions {
		if pos.Quantity <= 0 {
			continue
		}

		cost := decimal.NewFromFloat(pos.AverageCost()).
			Mul(decimal.NewFromFloat(pos.Quantity))
		total = total.Add(cost)
	}

	result, _ := total.Float64()

	return result
}

// Quantity returns the held quantity of one symbol, 0 when flat.
// Backs the reserved POSITION rule variable.
func (p *Portfolio) Quantity(symbol string) float64 {
	if pos, ok := p.positions[symbol]; ok {
		return pos.Quantity
	}

	return 0
}

// TotalValue marks the portfolio to market: cash plus each holding at
// the supplied price. Symbols without a quote are valued at average
// cost so a missing bar never zeroes equity.
func (p *Portfolio) TotalValue(prices map[string]float64) float64 {
	total := p.cash

	for symbol, pos := range p.positions {
		if pos.Quantity <= 0 {
			continue
		}

		price, ok := prices[symbol]
		if !ok {
			price = pos.AverageCost()
		}

		total += pos.Quantity * price
	}

	return total
}

// applyBuy debits cash and updates the position's cost basis. The
// caller has already validated cash sufficiency.
func (p *Portfolio) applyBuy(symbol string, qty, price, commission float64, at time.Time) error {
	total := qty*price + commission
	if total > p.cash {
		return errors.Newf(errors.ErrCodeInsufficientCash,
			"buy requires %.2f but only %.2f cash available", total, p.cash)
	}

	pos, ok := p.positions[symbol]
	if !ok {
		pos = &types.Position{Symbol: symbol, OpenTimestamp: at}
		p.positions[symbol] = pos
	}

	if pos.Quantity == 0 {
		pos.OpenTimestamp = at
	}

	pos.Quantity += qty
	pos.TotalInQty += qty
	pos.TotalInAmount += qty * price
	pos.TotalInFee += commission
	p.cash -= total

	return nil
}

// applySell credits cash and reduces the holding. A position sold to
// zero resets its cost basis so the next entry starts clean.
func (p *Portfolio) applySell(symbol string, qty, price, commission float64) error {
	pos, ok := p.positions[symbol]
	if !ok || pos.Quantity < qty {
		return errors.Newf(errors.ErrCodeInsufficientUnits,
			"sell of %.2f %s exceeds held quantity %.2f", qty, symbol, p.Quantity(symbol))
	}

	pos.Quantity -= qty
	p.cash += qty*price - commission

	if pos.Quantity == 0 {
		pos.TotalInQty = 0
		pos.TotalInAmount = 0
		pos.TotalInFee = 0
	}

	return nil
}
