package ruleparser

import (
	"strings"

	"github.com/rulelab/ruleback/pkg/errors"
)

// funcSpec declares a known function's fixed arity and a usage string
// for error messages. The registry is consulted once at parse time;
// names not present here are dispatched to the indicator service at
// evaluation time and may fail there.
type funcSpec struct {
	arity int
	usage string
}

var funcRegistry = map[string]funcSpec{
	"REF":     {arity: 2, usage: "REF(expr, n)"},
	"Q":       {arity: 3, usage: "Q(series, quantile, period)"},
	"C_P":     {arity: 1, usage: "C_P(n)"},
	"VWAP":    {arity: 1, usage: "VWAP(period)"},
	"SQRT":    {arity: 2, usage: "SQRT(x, n)"},
	"RANK":    {arity: 1, usage: "RANK(field)"},
	"SMA":     {arity: 2, usage: "SMA(series, window)"},
	"EMA":     {arity: 2, usage: "EMA(series, window)"},
	"RSI":     {arity: 2, usage: "RSI(series, period)"},
	"STD":     {arity: 2, usage: "STD(series, window)"},
	"Z_SCORE": {arity: 2, usage: "Z_SCORE(series, window)"},
	"ZSCORE":  {arity: 2, usage: "ZSCORE(series, window)"},
	"DIF":     {arity: 3, usage: "DIF(series, short, long)"},
	"DEA":     {arity: 4, usage: "DEA(series, signal, short, long)"},
	"MACD":    {arity: 4, usage: "MACD(series, signal, short, long)"},
}

func checkArity(call *Call) error {
	spec, known := funcRegistry[strings.ToUpper(call.Func)]
	if !known {
		return nil
	}

	if len(call.Args) != spec.arity {
		return errors.Newf(errors.ErrCodeBadArity,
			"%s takes %d arguments, got %d (usage: %s)",
			strings.ToUpper(call.Func), spec.arity, len(call.Args), spec.usage)
	}

	return nil
}
