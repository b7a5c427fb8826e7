package types

import (
	"time"

	"github.com/shopspring/decimal"
)

type Trade struct {
	Order         Order     `yaml:"order" json:"order"`
	ExecutedAt    time.Time `yaml:"executed_at" json:"executed_at"`
	ExecutedQty   float64   `yaml:"executed_qty" json:"executed_qty"`
	ExecutedPrice float64   `yaml:"executed_price" json:"executed_price"`
	// Commission is the fee charged for this trade.
	Commission float64 `yaml:"commission" json:"commission"`
	// TotalCost is price*qty plus commission for buys, minus commission
	// for sells.
	TotalCost float64 `yaml:"total_cost" json:"total_cost"`
	// RealizedPnL is the profit realized by this trade against the
	// position's average cost. Zero for buys; for sells it is
	// (executed_price - avg_cost) * qty - commission.
	RealizedPnL float64 `yaml:"realized_pnl" json:"realized_pnl"`
}

// Position represents current holdings of one symbol. Average cost
// includes commissions paid on entry.
type Position struct {
	Symbol        string    `yaml:"symbol" json:"symbol"`
	Quantity      float64   `yaml:"quantity" json:"quantity"`
	TotalInAmount float64   `yaml:"total_in_amount" json:"total_in_amount"`
	TotalInQty    float64   `yaml:"total_in_qty" json:"total_in_qty"`
	TotalInFee    float64   `yaml:"total_in_fee" json:"total_in_fee"`
	OpenTimestamp time.Time `yaml:"open_timestamp" json:"open_timestamp"`
}

// AverageCost is the average entry price including fees.
func (p *Position) AverageCost() float64 {
	if p.TotalInQty == 0 {
		return 0
	}

	return (p.TotalInAmount + p.TotalInFee) / p.TotalInQty
}

// RealizedPnL computes the profit of selling qty units at price against
// the position's average cost, net of the sell-side commission.
func (p *Position) RealizedPnL(price, qty, commission float64) float64 {
	exit := decimal.NewFromFloat(price).Mul(decimal.NewFromFloat(qty))
	entry := decimal.NewFromFloat(p.AverageCost()).Mul(decimal.NewFromFloat(qty))
	pnl := exit.Sub(entry).Sub(decimal.NewFromFloat(commission))

	result, _ := pnl.Float64()

	return result
}
