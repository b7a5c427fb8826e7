// Package ruleparser implements the rule expression language: a
// parser producing a closed tagged syntax tree, an evaluator with
// lookback references, rolling quantiles, cross-sectional ranking and
// portfolio-state variables, a two-tier run-scoped cache, and an
// append-only trace of every evaluated sub-expression.
package ruleparser

import (
	"strings"

	"github.com/rulelab/ruleback/internal/indicator"
	"github.com/rulelab/ruleback/internal/logger"
	"github.com/rulelab/ruleback/internal/types"
)

// Config wires a RuleParser to its run-scoped collaborators. Table is
// required; everything else is optional.
type Config struct {
	Table *types.PriceTable
	// Portfolio resolves the reserved COST and POSITION variables.
	Portfolio PortfolioReader
	// CrossSection enables RANK across a basket of symbols.
	CrossSection map[string]*types.PriceTable
	// CacheCapacity bounds the step-dependent cache; 0 means default.
	CacheCapacity int
	Logger        *logger.Logger
}

// RuleParser is the facade over the expression interpreter: it parses
// rule text once, caches the tree, and evaluates it at a step. One
// instance per symbol per run; it owns the run's cache and trace.
type RuleParser struct {
	table        *types.PriceTable
	portfolio    PortfolioReader
	crossSection map[string]*types.PriceTable
	cache        *CacheManager
	trace        *TraceStore
	evaluator    *Evaluator
	trees        map[string]Node
}

// New creates a parser session for one price table.
func New(cfg Config) *RuleParser {
	cache := NewCacheManager(cfg.CacheCapacity)
	trace := NewTraceStore(cfg.Table.Len())

	var ranker *CrossSectionalRanker
	if len(cfg.CrossSection) > 0 {
		ranker = NewCrossSectionalRanker(cfg.CrossSection, 0, cfg.Table.Symbol())
	}

	return &RuleParser{
		table:        cfg.Table,
		portfolio:    cfg.Portfolio,
		crossSection: cfg.CrossSection,
		cache:        cache,
		trace:        trace,
		evaluator:    NewEvaluator(indicator.NewService(), cache, trace, ranker, cfg.Logger),
		trees:        make(map[string]Node),
	}
}

// ValidateSyntax parses without evaluating. It rejects empty or
// malformed text with a message and accepts anything structurally
// parseable, even if it references columns that do not exist; those
// fail at evaluation time instead.
func ValidateSyntax(text string) (bool, string) {
	if strings.TrimSpace(text) == "" {
		return false, "rule expression is empty"
	}

	if _, err := Parse(text); err != nil {
		return false, err.Error()
	}

	return true, ""
}

// EvaluateRule evaluates rule text at a step and coerces the result to
// a boolean, recording it as a named rule outcome in the trace. Empty
// text reads false.
func (p *RuleParser) EvaluateRule(text string, step int) (bool, error) {
	if strings.TrimSpace(text) == "" {
		return false, nil
	}

	tree, err := p.tree(text)
	if err != nil {
		return false, err
	}

	value, err := p.evaluator.Evaluate(tree, p.context(step))
	if err != nil {
		return false, err
	}

	result := value.Bool()
	p.trace.SaveRuleResult(text, result, step)

	return result, nil
}

// EvaluateValue evaluates rule text at a step and returns the raw
// numeric value. Used by lookback evaluation and cross-sectional
// factor scans; NaN propagates so callers can skip missing data.
func (p *RuleParser) EvaluateValue(text string, step int) (float64, error) {
	if strings.TrimSpace(text) == "" {
		return 0, nil
	}

	tree, err := p.tree(text)
	if err != nil {
		return 0, err
	}

	value, err := p.evaluator.Evaluate(tree, p.context(step))
	if err != nil {
		return 0, err
	}

	return value.Float(), nil
}

// Trace exposes the run's expression trace.
func (p *RuleParser) Trace() *TraceStore {
	return p.trace
}

// CacheStats reports cache effectiveness for diagnostics.
func (p *RuleParser) CacheStats() CacheStats {
	return p.cache.Stats()
}

// tree returns the cached parse of a rule text, parsing once per
// distinct text per session.
func (p *RuleParser) tree(text string) (Node, error) {
	if tree, ok := p.trees[text]; ok {
		return tree, nil
	}

	tree, err := Parse(text)
	if err != nil {
		return nil, err
	}

	p.trees[text] = tree

	return tree, nil
}

func (p *RuleParser) context(step int) Context {
	return Context{
		Table:        p.table,
		Step:         step,
		Symbol:       p.table.Symbol(),
		Timestamp:    p.table.Time(step),
		Portfolio:    p.portfolio,
		CrossSection: p.crossSection,
	}
}
