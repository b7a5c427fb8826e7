package ruleparser

import (
	"math"
	"sort"

	"github.com/rulelab/ruleback/internal/types"
)

// CrossSectionalRanker computes a symbol's rank for a named field
// against a basket of symbols at one step.
type CrossSectionalRanker struct {
	tables map[string]*types.PriceTable
	step   int
	symbol string
}

// NewCrossSectionalRanker creates a ranker over the snapshot.
func NewCrossSectionalRanker(tables map[string]*types.PriceTable, step int, symbol string) *CrossSectionalRanker {
	return &CrossSectionalRanker{
		tables: tables,
		step:   step,
		symbol: symbol,
	}
}

// SetStep moves the ranker to a new step.
func (r *CrossSectionalRanker) SetStep(step int) {
	r.step = step
}

// SetSymbol changes the symbol being ranked.
func (r *CrossSectionalRanker) SetSymbol(symbol string) {
	r.symbol = symbol
}

// Rank returns the 1-based descending rank of the current symbol's
// field value across the snapshot. Symbols without a value at the
// current step are skipped; equal values share the best rank among
// the ties. Returns 0 when no snapshot is attached, the symbol is
// unset, or the symbol has no value.
func (r *CrossSectionalRanker) Rank(field string) int {
	if len(r.tables) == 0 || r.symbol == "" {
		return 0
	}

	type entry struct {
		symbol string
		value  float64
	}

	var entries []entry

	for symbol, table := range r.tables {
		v, ok := table.Value(field, r.step)
		if !ok || math.IsNaN(v) {
			continue
		}

		entries = append(entries, entry{symbol: symbol, value: v})
	}

	if len(entries) == 0 {
		return 0
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].value != entries[j].value {
			return entries[i].value > entries[j].value
		}

		return entries[i].symbol < entries[j].symbol
	})

	rank := 0

	for i, e := range entries {
		// Ties inherit the rank of the first equal value.
		if i == 0 || e.value != entries[i-1].value {
			rank = i + 1
		}

		if e.symbol == r.symbol {
			return rank
		}
	}

	return 0
}
