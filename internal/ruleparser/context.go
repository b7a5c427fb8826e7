package ruleparser

import (
	"time"

	"github.com/rulelab/ruleback/internal/types"
)

// PortfolioReader is the read-only capability through which the
// reserved COST and POSITION variables resolve. Values are read live
// on every access and never cached.
type PortfolioReader interface {
	// TotalCost returns the cost basis of all open holdings.
	TotalCost() float64
	// Quantity returns the held quantity of one symbol, 0 when flat.
	Quantity(symbol string) float64
}

// Context is the immutable per-evaluation view: the active price
// table, the current step, the active symbol, and optionally a
// portfolio reader and a cross-sectional snapshot.
type Context struct {
	Table        *types.PriceTable
	Step         int
	Symbol       string
	Timestamp    time.Time
	Portfolio    PortfolioReader
	CrossSection map[string]*types.PriceTable
}

// WithStep returns a copy of the context positioned at a different
// step. Used by lookback functions to evaluate a sub-expression at a
// shifted position without touching the caller's view.
func (c Context) WithStep(step int) Context {
	c.Step = step
	return c
}

// HasCrossSection reports whether a cross-sectional snapshot is attached.
func (c Context) HasCrossSection() bool {
	return len(c.CrossSection) > 0
}
