package ruleparser

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/rulelab/ruleback/internal/indicator"
	"github.com/rulelab/ruleback/internal/logger"
	"github.com/rulelab/ruleback/pkg/errors"
	"go.uber.org/zap"
)

// MaxRecursionDepth bounds nested function calls within one
// evaluation. Exceeding it raises a distinct recursion-limit error,
// never a syntax error.
const MaxRecursionDepth = 100

// Value is an evaluation result: a float or a bool, tagged.
type Value struct {
	f      float64
	b      bool
	isBool bool
}

// FloatValue wraps a numeric result.
func FloatValue(f float64) Value {
	return Value{f: f}
}

// BoolValue wraps a boolean result.
func BoolValue(b bool) Value {
	return Value{b: b, isBool: true}
}

// Float coerces to a number; booleans read 1 or 0.
func (v Value) Float() float64 {
	if v.isBool {
		if v.b {
			return 1
		}

		return 0
	}

	return v.f
}

// Bool coerces to a boolean; numbers are true when nonzero.
func (v Value) Bool() bool {
	if v.isBool {
		return v.b
	}

	return v.f != 0 && !math.IsNaN(v.f)
}

// IsBool reports whether the value is a genuine boolean.
func (v Value) IsBool() bool {
	return v.isBool
}

// safeFloat collapses the quirks of the numeric domain: NaN reads 0.
func safeFloat(v Value) float64 {
	f := v.Float()
	if math.IsNaN(f) {
		return 0
	}

	return f
}

// Evaluator walks a parsed expression tree. It owns no table data; all
// state it touches comes from the Context, the shared cache, and the
// trace store.
type Evaluator struct {
	indicators *indicator.Service
	cache      *CacheManager
	trace      *TraceStore
	ranker     *CrossSectionalRanker
	log        *logger.Logger
	depth      int
}

// NewEvaluator wires an evaluator. The ranker may be nil; RANK then
// reads 0.
func NewEvaluator(
	indicators *indicator.Service,
	cache *CacheManager,
	trace *TraceStore,
	ranker *CrossSectionalRanker,
	log *logger.Logger,
) *Evaluator {
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Evaluator{
		indicators: indicators,
		cache:      cache,
		trace:      trace,
		ranker:     ranker,
		log:        log,
	}
}

// Evaluate walks the tree at the context's step, resetting the
// recursion counter first. This is the top-level entry; nested
// evaluations (REF) go through eval directly so depth keeps
// accumulating across the whole invocation.
func (e *Evaluator) Evaluate(node Node, ctx Context) (Value, error) {
	e.depth = 0
	return e.eval(node, ctx)
}

func (e *Evaluator) eval(node Node, ctx Context) (Value, error) {
	switch n := node.(type) {
	case *Constant:
		return e.evalConstant(n), nil
	case *Name:
		return e.evalName(n, ctx)
	case *BinOp:
		return e.evalBinOp(n, ctx)
	case *Compare:
		return e.evalCompare(n, ctx)
	case *BoolOp:
		return e.evalBoolOp(n, ctx)
	case *UnaryOp:
		return e.evalUnaryOp(n, ctx)
	case *Call:
		return e.evalCall(n, ctx)
	default:
		return Value{}, errors.Newf(errors.ErrCodeRuleSemantic, "unsupported expression node %T", node)
	}
}

func (e *Evaluator) evalConstant(n *Constant) Value {
	// A bare string literal is only meaningful as a column-name
	// argument; evaluated as a value it reads 0.
	if n.IsString {
		return FloatValue(0)
	}

	return FloatValue(n.Value)
}

func (e *Evaluator) evalName(n *Name, ctx Context) (Value, error) {
	switch n.Ident {
	case "COST":
		if ctx.Portfolio != nil {
			v := ctx.Portfolio.TotalCost()
			e.trace.SaveVariableResult("COST", v, ctx.Step)

			return FloatValue(v), nil
		}
	case "POSITION":
		if ctx.Portfolio != nil {
			v := ctx.Portfolio.Quantity(ctx.Table.Code(ctx.Step))
			e.trace.SaveVariableResult("POSITION", v, ctx.Step)

			return FloatValue(v), nil
		}
	}

	v, ok := ctx.Table.Value(n.Ident, ctx.Step)
	if !ok {
		if !ctx.Table.HasColumn(n.Ident) {
			return Value{}, errors.Newf(errors.ErrCodeUnknownColumn, "no column named %s", n.Ident)
		}

		return Value{}, errors.Newf(errors.ErrCodeRuleSemantic,
			"step %d out of range for column %s", ctx.Step, n.Ident)
	}

	if math.IsNaN(v) {
		return FloatValue(0), nil
	}

	return FloatValue(v), nil
}

func (e *Evaluator) evalBinOp(n *BinOp, ctx Context) (Value, error) {
	left, err := e.eval(n.Left, ctx)
	if err != nil {
		return Value{}, err
	}

	right, err := e.eval(n.Right, ctx)
	if err != nil {
		return Value{}, err
	}

	l, r := left.Float(), right.Float()

	// Division by zero reads 0 rather than propagating an error.
	if (n.Op == OpDiv || n.Op == OpFloorDiv) && r == 0 {
		return FloatValue(0), nil
	}

	var result float64

	switch n.Op {
	case OpAdd:
		result = l + r
	case OpSub:
		result = l - r
	case OpMul:
		result = l * r
	case OpDiv:
		result = l / r
	case OpFloorDiv:
		result = math.Floor(l / r)
	case OpMod:
		result = math.Mod(l, r)
	case OpPow:
		result = math.Pow(l, r)
	}

	e.trace.SaveFloatResult(n.String(), result, ctx.Step)

	return FloatValue(result), nil
}

func (e *Evaluator) evalCompare(n *Compare, ctx Context) (Value, error) {
	left, err := e.eval(n.Left, ctx)
	if err != nil {
		return Value{}, err
	}

	right, err := e.eval(n.Right, ctx)
	if err != nil {
		return Value{}, err
	}

	l, r := left.Float(), right.Float()

	var result bool

	switch n.Op {
	case CmpGt:
		result = l > r
	case CmpLt:
		result = l < r
	case CmpGe:
		result = l >= r
	case CmpLe:
		result = l <= r
	case CmpEq:
		result = l == r
	}

	e.trace.SaveBoolResult(n.String(), result, ctx.Step)

	return BoolValue(result), nil
}

func (e *Evaluator) evalBoolOp(n *BoolOp, ctx Context) (Value, error) {
	result := n.Op == BoolAnd

	for _, operand := range n.Values {
		v, err := e.eval(operand, ctx)
		if err != nil {
			return Value{}, err
		}

		if n.Op == BoolAnd {
			result = result && v.Bool()
		} else {
			result = result || v.Bool()
		}
	}

	e.trace.SaveBoolResult(n.String(), result, ctx.Step)

	return BoolValue(result), nil
}

func (e *Evaluator) evalUnaryOp(n *UnaryOp, ctx Context) (Value, error) {
	operand, err := e.eval(n.Operand, ctx)
	if err != nil {
		return Value{}, err
	}

	switch n.Op {
	case UnaryNeg:
		return FloatValue(-operand.Float()), nil
	case UnaryPos:
		return FloatValue(operand.Float()), nil
	case UnaryNot:
		return BoolValue(!operand.Bool()), nil
	default:
		return FloatValue(float64(^int64(operand.Float()))), nil
	}
}

func (e *Evaluator) evalCall(n *Call, ctx Context) (Value, error) {
	e.depth++
	defer func() { e.depth-- }()

	if e.depth > MaxRecursionDepth {
		return Value{}, errors.Newf(errors.ErrCodeRecursionLimit,
			"recursion depth exceeded limit (%d); simplify the rule expression", MaxRecursionDepth)
	}

	switch strings.ToUpper(n.Func) {
	case "REF":
		return e.evalRef(n, ctx)
	case "Q":
		return e.evalQuantile(n, ctx)
	case "C_P":
		return e.evalCenterPrice(n, ctx)
	case "VWAP":
		return e.evalVWAP(n, ctx)
	case "SQRT":
		return e.evalRoot(n, ctx)
	case "RANK":
		return e.evalRank(n, ctx)
	default:
		return e.evalIndicator(n, ctx)
	}
}

// evalRef re-evaluates the first argument at step-n, clamped at the
// series start. Results are cached by (expr, step, n).
func (e *Evaluator) evalRef(n *Call, ctx Context) (Value, error) {
	exprNode := n.Args[0]
	exprStr := exprNode.String()

	periodVal, err := e.eval(n.Args[1], ctx)
	if err != nil {
		return Value{}, err
	}

	period := int(periodVal.Float())
	if period < 0 {
		return Value{}, errors.New(errors.ErrCodeInvalidPeriod, "REF period must be non-negative")
	}

	// Nested call expressions also get recorded at the current step so
	// the trace carries both the shifted and unshifted series.
	if _, isCall := exprNode.(*Call); isCall {
		current, err := e.eval(exprNode, ctx)
		if err != nil {
			return Value{}, err
		}

		e.trace.SaveFloatResult(exprStr, safeFloat(current), ctx.Step)
	}

	cacheKey := e.cache.StepKey("REF", ctx.Step, exprStr, strconv.Itoa(period))
	if cached, ok := e.cache.GetStep(cacheKey); ok {
		return FloatValue(cached), nil
	}

	target := ctx.Step - period
	if target < 0 {
		target = 0
	}

	if last := ctx.Table.Len() - 1; target > last {
		target = last
	}

	result, err := e.eval(exprNode, ctx.WithStep(target))
	if err != nil {
		return Value{}, err
	}

	numeric := safeFloat(result)
	e.cache.SetStep(cacheKey, numeric)

	return FloatValue(numeric), nil
}

// evalQuantile computes the rolling quantile of a column over the
// trailing period ending at the current step, with linear
// interpolation between order statistics. NaN before period rows of
// history exist.
func (e *Evaluator) evalQuantile(n *Call, ctx Context) (Value, error) {
	column := stringArg(n.Args[0])

	quantileVal, err := e.eval(n.Args[1], ctx)
	if err != nil {
		return Value{}, err
	}

	periodVal, err := e.eval(n.Args[2], ctx)
	if err != nil {
		return Value{}, err
	}

	quantile := quantileVal.Float()
	period := int(periodVal.Float())

	if quantile < 0 || quantile > 1 {
		return Value{}, errors.Newf(errors.ErrCodeInvalidQuantile,
			"quantile must be within [0, 1], got %v", quantile)
	}

	if period <= 0 {
		return Value{}, errors.Newf(errors.ErrCodeInvalidPeriod,
			"period must be a positive integer, got %d", period)
	}

	if !ctx.Table.HasColumn(column) {
		return Value{}, errors.Newf(errors.ErrCodeUnknownColumn, "no column named %s", column)
	}

	var result float64

	if ctx.Step < period-1 {
		result = math.NaN()
	} else {
		window := make([]float64, 0, period)

		for i := ctx.Step - period + 1; i <= ctx.Step; i++ {
			if v, ok := ctx.Table.Value(column, i); ok && !math.IsNaN(v) {
				window = append(window, v)
			}
		}

		result = linearQuantile(window, quantile)
	}

	label := "Q(" + column + "," + strconv.FormatFloat(quantile, 'f', -1, 64) + "," + strconv.Itoa(period) + ")"
	e.trace.SaveFloatResult(label, result, ctx.Step)

	return FloatValue(result), nil
}

// linearQuantile interpolates between order statistics at rank
// (n-1)*q, the same convention the trace consumers expect.
func linearQuantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	h := float64(len(sorted)-1) * q
	lo := int(math.Floor(h))

	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}

	frac := h - float64(lo)

	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

// evalCenterPrice is (high + low)/2 observed n bars ago. The argument
// is an offset, not a window length. 0 before n bars of history.
func (e *Evaluator) evalCenterPrice(n *Call, ctx Context) (Value, error) {
	periodVal, err := e.eval(n.Args[0], ctx)
	if err != nil {
		return Value{}, err
	}

	period := int(periodVal.Float())
	if period < 0 {
		return Value{}, errors.New(errors.ErrCodeInvalidPeriod, "C_P offset must be non-negative")
	}

	if ctx.Step < period {
		return FloatValue(0), nil
	}

	high, okHigh := e.refValue(ctx, "high", period)
	low, okLow := e.refValue(ctx, "low", period)

	if !okHigh || !okLow {
		e.log.Warn("C_P could not read high/low columns", zap.Int("step", ctx.Step))
		return FloatValue(0), nil
	}

	return FloatValue((high + low) / 2.0), nil
}

// evalVWAP is the volume-weighted average of the center price over the
// trailing period. NaN before period bars of history; 0 when total
// volume is 0.
func (e *Evaluator) evalVWAP(n *Call, ctx Context) (Value, error) {
	periodVal, err := e.eval(n.Args[0], ctx)
	if err != nil {
		return Value{}, err
	}

	period := int(periodVal.Float())
	if period <= 0 {
		return Value{}, errors.New(errors.ErrCodeInvalidPeriod, "VWAP period must be a positive integer")
	}

	if ctx.Step < period {
		return FloatValue(math.NaN()), nil
	}

	var totalPriceVolume, totalVolume float64

	for i := 0; i < period; i++ {
		high, okHigh := e.refValue(ctx, "high", i)
		low, okLow := e.refValue(ctx, "low", i)
		volume, okVolume := e.refValue(ctx, "volume", i)

		if !okHigh || !okLow || !okVolume {
			e.log.Warn("VWAP could not read high/low/volume columns", zap.Int("step", ctx.Step))
			return FloatValue(0), nil
		}

		centerPrice := (high + low) / 2.0
		totalPriceVolume += centerPrice * volume
		totalVolume += volume
	}

	if totalVolume == 0 {
		return FloatValue(0), nil
	}

	return FloatValue(totalPriceVolume / totalVolume), nil
}

// evalRoot is the generalized n-th root x^(1/n). Even roots of a
// negative base read 0 instead of erroring; a 0 root reads 1.
func (e *Evaluator) evalRoot(n *Call, ctx Context) (Value, error) {
	xVal, err := e.eval(n.Args[0], ctx)
	if err != nil {
		return Value{}, err
	}

	nVal, err := e.eval(n.Args[1], ctx)
	if err != nil {
		return Value{}, err
	}

	x := xVal.Float()
	root := nVal.Float()

	if int(root)%2 == 0 && x < 0 {
		e.log.Warn("even root of negative base reads 0",
			zap.Float64("base", x), zap.Float64("root", root))

		return FloatValue(0), nil
	}

	if root == 0 {
		return FloatValue(1), nil
	}

	result := math.Pow(x, 1.0/root)
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return FloatValue(0), nil
	}

	return FloatValue(result), nil
}

// evalRank delegates to the cross-sectional ranker; 0 when no
// snapshot is attached.
func (e *Evaluator) evalRank(n *Call, ctx Context) (Value, error) {
	if e.ranker == nil {
		return FloatValue(0), nil
	}

	e.ranker.SetStep(ctx.Step)

	if ctx.Symbol != "" {
		e.ranker.SetSymbol(ctx.Symbol)
	}

	field := stringArg(n.Args[0])
	rank := e.ranker.Rank(field)

	e.trace.SaveFloatResult("RANK("+field+")", float64(rank), ctx.Step)

	return FloatValue(float64(rank)), nil
}

// evalIndicator resolves the first argument to a price-table column
// and forwards the rest to the indicator service, memoizing through
// the shared step cache.
func (e *Evaluator) evalIndicator(n *Call, ctx Context) (Value, error) {
	funcName := strings.ToUpper(n.Func)
	column := stringArg(n.Args[0])

	if !ctx.Table.HasColumn(column) {
		return Value{}, errors.Newf(errors.ErrCodeUnknownColumn, "no column named %s", column)
	}

	rendered := make([]string, 0, len(n.Args))
	rendered = append(rendered, column)

	for _, arg := range n.Args[1:] {
		rendered = append(rendered, arg.String())
	}

	argsFull := strings.Join(rendered, ",")

	cacheKey := e.cache.StepKey(funcName, ctx.Step, argsFull)
	if cached, ok := e.cache.GetStep(cacheKey); ok {
		return FloatValue(cached), nil
	}

	argVals := make([]float64, 0, len(n.Args)-1)

	for _, arg := range n.Args[1:] {
		v, err := e.eval(arg, ctx)
		if err != nil {
			return Value{}, err
		}

		f := v.Float()
		if f <= 0 || math.IsNaN(f) {
			return Value{}, errors.Newf(errors.ErrCodeRuleSemantic,
				"argument of %s must be a positive number, got %v", funcName, f)
		}

		argVals = append(argVals, f)
	}

	series := ctx.Table.Column(column)

	result, err := e.indicators.Calculate(funcName, series, ctx.Step, argVals...)
	if err != nil {
		return Value{}, errors.Wrapf(errors.ErrCodeRuleSemantic, err, "unsupported function %s", funcName)
	}

	if math.IsNaN(result) {
		result = 0
	}

	e.cache.SetStep(cacheKey, result)
	e.trace.SaveIndicatorResult(funcName, argsFull, result, ctx.Step)

	return FloatValue(result), nil
}

// refValue reads a column at step-offset, clamped at the series
// start. NaN reads 0; a missing column reads not-ok.
func (e *Evaluator) refValue(ctx Context, column string, offset int) (float64, bool) {
	if !ctx.Table.HasColumn(column) {
		return 0, false
	}

	target := ctx.Step - offset
	if target < 0 {
		target = 0
	}

	v, ok := ctx.Table.Value(column, target)
	if !ok {
		return 0, false
	}

	if math.IsNaN(v) {
		return 0, true
	}

	return v, true
}
