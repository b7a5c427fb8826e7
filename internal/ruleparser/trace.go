package ruleparser

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/rulelab/ruleback/internal/types"
)

var (
	badColumnChars = regexp.MustCompile(`[(){}\[\]:"'` + "`" + `]`)
	whitespaceRun  = regexp.MustCompile(`\s+`)
	underscoreRun  = regexp.MustCompile(`_+`)
)

// TraceStore is the append-only side table that records every
// evaluated sub-expression and rule outcome, keyed by canonicalized
// expression text. It never touches the source price table, so the
// table stays safely shareable across runs.
type TraceStore struct {
	length int
	bools  map[string][]bool
	floats map[string][]float64
	order  []string
	exprs  map[string]string
}

// NewTraceStore creates a trace sized to the table it shadows.
func NewTraceStore(length int) *TraceStore {
	return &TraceStore{
		length: length,
		bools:  make(map[string][]bool),
		floats: make(map[string][]float64),
		exprs:  make(map[string]string),
	}
}

// CleanColumnName canonicalizes an expression for use as a column
// name: power is rendered with '^', characters a column name cannot
// carry become underscores, and runs collapse.
func CleanColumnName(expr string) string {
	name := strings.ReplaceAll(expr, "**", "^")
	name = badColumnChars.ReplaceAllString(name, "_")
	name = whitespaceRun.ReplaceAllString(name, "_")
	name = underscoreRun.ReplaceAllString(name, "_")

	return strings.Trim(name, "_")
}

func isNumericConstant(expr string) bool {
	_, err := strconv.ParseFloat(strings.TrimSpace(expr), 64)
	return err == nil
}

func (s *TraceStore) boolColumn(name, expr string) []bool {
	col, ok := s.bools[name]
	if !ok {
		col = make([]bool, s.length)
		s.bools[name] = col
		s.order = append(s.order, name)
		s.exprs[name] = expr
	}

	return col
}

func (s *TraceStore) floatColumn(name, expr string) []float64 {
	col, ok := s.floats[name]
	if !ok {
		col = make([]float64, s.length)
		for i := range col {
			col[i] = math.NaN()
		}

		s.floats[name] = col
		s.order = append(s.order, name)
		s.exprs[name] = expr
	}

	return col
}

// SaveRuleResult records a full rule's boolean outcome at a step.
func (s *TraceStore) SaveRuleResult(rule string, result bool, step int) {
	if step < 0 || step >= s.length {
		return
	}

	col := s.boolColumn(CleanColumnName(rule), rule)
	col[step] = result
}

// SaveBoolResult records an intermediate comparison or boolean
// operation.
func (s *TraceStore) SaveBoolResult(expr string, result bool, step int) {
	if step < 0 || step >= s.length {
		return
	}

	col := s.boolColumn(CleanColumnName(expr), expr)
	col[step] = result
}

// SaveFloatResult records an intermediate numeric expression. Bare
// numeric constants are not worth a column and are skipped.
func (s *TraceStore) SaveFloatResult(expr string, result float64, step int) {
	if step < 0 || step >= s.length || isNumericConstant(expr) {
		return
	}

	col := s.floatColumn(CleanColumnName(expr), expr)
	col[step] = result
}

// SaveVariableResult records a reserved portfolio variable (COST,
// POSITION) read.
func (s *TraceStore) SaveVariableResult(name string, result float64, step int) {
	if name != "COST" && name != "POSITION" {
		return
	}

	if step < 0 || step >= s.length {
		return
	}

	col := s.floatColumn(name, name)
	col[step] = result
}

// SaveIndicatorResult records an indicator call's value under its
// rendered call expression.
func (s *TraceStore) SaveIndicatorResult(funcName, argsStr string, result float64, step int) {
	s.SaveFloatResult(funcName+"("+argsStr+")", result, step)
}

// Columns returns trace column names in creation order.
func (s *TraceStore) Columns() []string {
	return s.order
}

// BoolColumn returns a recorded boolean column, or nil.
func (s *TraceStore) BoolColumn(name string) []bool {
	return s.bools[name]
}

// FloatColumn returns a recorded numeric column, or nil.
func (s *TraceStore) FloatColumn(name string) []float64 {
	return s.floats[name]
}

// Expression returns the original expression a column was created for.
func (s *TraceStore) Expression(name string) string {
	return s.exprs[name]
}

// Table exports the trace for inclusion in a report.
func (s *TraceStore) Table(symbol string) types.TraceTable {
	out := types.TraceTable{
		Symbol:  symbol,
		Columns: append([]string(nil), s.order...),
		Bools:   make(map[string][]bool, len(s.bools)),
		Floats:  make(map[string][]float64, len(s.floats)),
	}

	for name, col := range s.bools {
		out.Bools[name] = append([]bool(nil), col...)
	}

	for name, col := range s.floats {
		out.Floats[name] = append([]float64(nil), col...)
	}

	return out
}
