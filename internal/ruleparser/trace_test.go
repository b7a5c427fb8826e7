package ruleparser

import (
	"math"
	"testing"

	"github.com/stretchr/testify/suite"
)

type TraceTestSuite struct {
	suite.Suite
}

func TestTraceSuite(t *testing.T) {
	suite.Run(t, new(TraceTestSuite))
}

func (suite *TraceTestSuite) TestCleanColumnName() {
	cases := map[string]string{
		"SMA(close,5)":         "SMA_close,5",
		"close > SMA(close,5)": "close_>_SMA_close,5",
		"close**2":             "close^2",
		"Q('close',0.5,5)":     "Q_close_,0.5,5",
		"a  +  b":              "a_+_b",
		"COST":                 "COST",
	}

	for expr, want := range cases {
		suite.Equal(want, CleanColumnName(expr), "cleaning %q", expr)
	}
}

func (suite *TraceTestSuite) TestBoolColumnsInitializeFalse() {
	trace := NewTraceStore(3)
	trace.SaveRuleResult("close > 5", true, 1)

	col := trace.BoolColumn(CleanColumnName("close > 5"))
	suite.Equal([]bool{false, true, false}, col)
}

func (suite *TraceTestSuite) TestFloatColumnsInitializeNaN() {
	trace := NewTraceStore(3)
	trace.SaveFloatResult("close+open", 42, 1)

	col := trace.FloatColumn(CleanColumnName("close+open"))
	suite.True(math.IsNaN(col[0]))
	suite.Equal(42.0, col[1])
	suite.True(math.IsNaN(col[2]))
}

func (suite *TraceTestSuite) TestNumericConstantsNotRecorded() {
	trace := NewTraceStore(3)
	trace.SaveFloatResult("-5", -5, 0)
	trace.SaveFloatResult("3.14", 3.14, 0)

	suite.Empty(trace.Columns())
}

func (suite *TraceTestSuite) TestVariableResultsOnlyForReservedNames() {
	trace := NewTraceStore(2)
	trace.SaveVariableResult("COST", 1000, 0)
	trace.SaveVariableResult("POSITION", 100, 1)
	trace.SaveVariableResult("close", 10, 0)

	suite.ElementsMatch([]string{"COST", "POSITION"}, trace.Columns())
}

func (suite *TraceTestSuite) TestOutOfRangeStepsIgnored() {
	trace := NewTraceStore(2)
	trace.SaveRuleResult("close > 5", true, 99)
	trace.SaveRuleResult("close > 5", true, -1)

	col := trace.BoolColumn(CleanColumnName("close > 5"))
	suite.Equal([]bool{false, false}, col)
}

func (suite *TraceTestSuite) TestExpressionPreserved() {
	trace := NewTraceStore(2)
	trace.SaveIndicatorResult("SMA", "close,5", 30, 1)

	name := CleanColumnName("SMA(close,5)")
	suite.Equal("SMA(close,5)", trace.Expression(name))
}

func (suite *TraceTestSuite) TestTableExport() {
	trace := NewTraceStore(2)
	trace.SaveRuleResult("close > 5", true, 0)
	trace.SaveFloatResult("close+open", 7, 1)

	table := trace.Table("600519")
	suite.Equal("600519", table.Symbol)
	suite.Len(table.Columns, 2)
	suite.Len(table.Bools, 1)
	suite.Len(table.Floats, 1)
}
