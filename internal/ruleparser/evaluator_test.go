package ruleparser

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/rulelab/ruleback/internal/logger"
	"github.com/rulelab/ruleback/internal/types"
	"github.com/rulelab/ruleback/pkg/errors"
	"github.com/stretchr/testify/suite"
)

type stubPortfolio struct {
	cost      float64
	positions map[string]float64
}

func (s *stubPortfolio) TotalCost() float64 {
	return s.cost
}

func (s *stubPortfolio) Quantity(symbol string) float64 {
	return s.positions[symbol]
}

func tradingDays(n int) []time.Time {
	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	out := make([]time.Time, n)

	for i := range out {
		out[i] = base.AddDate(0, 0, i)
	}

	return out
}

func closeTable(symbol string, closes []float64) *types.PriceTable {
	n := len(closes)
	high := make([]float64, n)
	low := make([]float64, n)
	open := make([]float64, n)
	volume := make([]float64, n)

	for i, c := range closes {
		open[i] = c
		high[i] = c + 1
		low[i] = c - 1
		volume[i] = 100
	}

	table, err := types.NewOHLCVTable(symbol, tradingDays(n), open, high, low, closes, volume)
	if err != nil {
		panic(err)
	}

	return table
}

type EvaluatorTestSuite struct {
	suite.Suite
}

func TestEvaluatorSuite(t *testing.T) {
	suite.Run(t, new(EvaluatorTestSuite))
}

func (suite *EvaluatorTestSuite) newParser(closes []float64) *RuleParser {
	return New(Config{
		Table:  closeTable("600519", closes),
		Logger: logger.NewNopLogger(),
	})
}

func (suite *EvaluatorTestSuite) TestSMAAtFullWindow() {
	parser := suite.newParser([]float64{10, 20, 30, 40, 50})

	v, err := parser.EvaluateValue("SMA(close,5)", 4)
	suite.NoError(err)
	suite.InDelta(30.0, v, 1e-9)
}

func (suite *EvaluatorTestSuite) TestSMABeforeMinHistoryReadsZero() {
	parser := suite.newParser([]float64{10, 20, 30, 40, 50})

	v, err := parser.EvaluateValue("SMA(close,5)", 2)
	suite.NoError(err)
	suite.Equal(0.0, v)
}

func (suite *EvaluatorTestSuite) TestRefShiftsEvaluationStep() {
	closes := []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}
	parser := suite.newParser(closes)

	atStep4, err := parser.EvaluateValue("SMA(close,5)", 4)
	suite.NoError(err)

	ref, err := parser.EvaluateValue("REF(SMA(close,5),1)", 5)
	suite.NoError(err)
	suite.InDelta(atStep4, ref, 1e-9)
}

func (suite *EvaluatorTestSuite) TestRefClampsAtSeriesStart() {
	parser := suite.newParser([]float64{10, 20, 30})

	v, err := parser.EvaluateValue("REF(close,10)", 1)
	suite.NoError(err)
	suite.Equal(10.0, v)
}

func (suite *EvaluatorTestSuite) TestDivisionByZeroReadsZero() {
	parser := suite.newParser([]float64{10, 20, 30})

	v, err := parser.EvaluateValue("close / (close - close)", 1)
	suite.NoError(err)
	suite.Equal(0.0, v)

	v, err = parser.EvaluateValue("close // (volume - volume)", 1)
	suite.NoError(err)
	suite.Equal(0.0, v)
}

func (suite *EvaluatorTestSuite) TestArithmetic() {
	parser := suite.newParser([]float64{10, 20, 30})

	cases := map[string]float64{
		"10 / 4":     2.5,
		"10 // 4":    2,
		"10 % 4":     2,
		"2 ** 3":     8,
		"2 + 3 * 4":  14,
		"-close":     -10,
		"close ** 2": 100,
	}

	for expr, want := range cases {
		v, err := parser.EvaluateValue(expr, 0)
		suite.NoError(err, expr)
		suite.InDelta(want, v, 1e-9, expr)
	}
}

func (suite *EvaluatorTestSuite) TestComparisonsAndBooleans() {
	parser := suite.newParser([]float64{10, 20, 30})

	result, err := parser.EvaluateRule("close > 15 and close < 25", 1)
	suite.NoError(err)
	suite.True(result)

	result, err = parser.EvaluateRule("close > 25 or close < 15", 1)
	suite.NoError(err)
	suite.False(result)

	result, err = parser.EvaluateRule("not (close > 25)", 1)
	suite.NoError(err)
	suite.True(result)
}

func (suite *EvaluatorTestSuite) TestEmptyRuleReadsFalse() {
	parser := suite.newParser([]float64{10})

	result, err := parser.EvaluateRule("", 0)
	suite.NoError(err)
	suite.False(result)
}

func (suite *EvaluatorTestSuite) TestUnknownColumnIsSemanticError() {
	parser := suite.newParser([]float64{10})

	_, err := parser.EvaluateRule("bogus > 1", 0)
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeUnknownColumn))
}

func (suite *EvaluatorTestSuite) TestUnknownFunctionIsSemanticError() {
	parser := suite.newParser([]float64{10, 20, 30})

	_, err := parser.EvaluateValue("FOO(close,5)", 2)
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeRuleSemantic))
}

func (suite *EvaluatorTestSuite) TestQuantile() {
	parser := suite.newParser([]float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})

	v, err := parser.EvaluateValue("Q(close,0.5,5)", 4)
	suite.NoError(err)
	suite.InDelta(3.0, v, 1e-9)

	v, err = parser.EvaluateValue("Q(close,1,5)", 4)
	suite.NoError(err)
	suite.InDelta(5.0, v, 1e-9)

	// Not enough history yet.
	v, err = parser.EvaluateValue("Q(close,0.5,5)", 2)
	suite.NoError(err)
	suite.True(math.IsNaN(v))
}

func (suite *EvaluatorTestSuite) TestQuantileValidation() {
	parser := suite.newParser([]float64{1, 2, 3, 4, 5})

	_, err := parser.EvaluateValue("Q(close,1.5,5)", 4)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidQuantile))

	_, err = parser.EvaluateValue("Q(close,0.5,0)", 4)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidPeriod))
}

func (suite *EvaluatorTestSuite) TestCenterPrice() {
	parser := suite.newParser([]float64{10, 20, 30})

	// (high[1] + low[1]) / 2 with high=close+1, low=close-1 is close[1].
	v, err := parser.EvaluateValue("C_P(1)", 2)
	suite.NoError(err)
	suite.InDelta(20.0, v, 1e-9)

	// Offset beyond available history reads 0.
	v, err = parser.EvaluateValue("C_P(5)", 2)
	suite.NoError(err)
	suite.Equal(0.0, v)
}

func (suite *EvaluatorTestSuite) TestVWAP() {
	parser := suite.newParser([]float64{10, 20, 30})

	// Equal volumes make VWAP the mean of the last two center prices.
	v, err := parser.EvaluateValue("VWAP(2)", 2)
	suite.NoError(err)
	suite.InDelta(25.0, v, 1e-9)

	v, err = parser.EvaluateValue("VWAP(2)", 1)
	suite.NoError(err)
	suite.True(math.IsNaN(v))
}

func (suite *EvaluatorTestSuite) TestRoot() {
	parser := suite.newParser([]float64{10})

	cases := map[string]float64{
		"SQRT(9,2)":      3,
		"SQRT(27,3)":     3,
		"SQRT(16,4)":     2,
		"SQRT(5,0)":      1,
		"SQRT(0-9,2)":    0,
		"SQRT(close,2)":  math.Sqrt(10),
	}

	for expr, want := range cases {
		v, err := parser.EvaluateValue(expr, 0)
		suite.NoError(err, expr)
		suite.InDelta(want, v, 1e-9, expr)
	}
}

func (suite *EvaluatorTestSuite) TestPortfolioVariables() {
	table := closeTable("600519", []float64{10, 20, 30})
	portfolio := &stubPortfolio{cost: 1000, positions: map[string]float64{"600519": 100}}
	parser := New(Config{Table: table, Portfolio: portfolio, Logger: logger.NewNopLogger()})

	v, err := parser.EvaluateValue("COST / POSITION", 0)
	suite.NoError(err)
	suite.InDelta(10.0, v, 1e-9)

	// Flat position divides to 0 instead of erroring.
	portfolio.positions["600519"] = 0
	v, err = parser.EvaluateValue("COST / POSITION", 0)
	suite.NoError(err)
	suite.Equal(0.0, v)
}

func (suite *EvaluatorTestSuite) TestRankWithoutSnapshotReadsZero() {
	parser := suite.newParser([]float64{10, 20, 30})

	v, err := parser.EvaluateValue("RANK(close)", 1)
	suite.NoError(err)
	suite.Equal(0.0, v)
}

func (suite *EvaluatorTestSuite) TestRankAcrossBasket() {
	closesBySymbol := map[string]float64{
		"A": 150, "B": 120, "C": 100, "D": 80, "E": 50,
	}

	basket := make(map[string]*types.PriceTable, len(closesBySymbol))
	for symbol, c := range closesBySymbol {
		basket[symbol] = closeTable(symbol, []float64{c})
	}

	wantRanks := map[string]float64{"A": 1, "B": 2, "C": 3, "D": 4, "E": 5}

	for symbol, want := range wantRanks {
		parser := New(Config{
			Table:        basket[symbol],
			CrossSection: basket,
			Logger:       logger.NewNopLogger(),
		})

		v, err := parser.EvaluateValue("RANK(close)", 0)
		suite.NoError(err)
		suite.Equal(want, v, "rank of %s", symbol)
	}
}

func (suite *EvaluatorTestSuite) TestRecursionLimit() {
	parser := suite.newParser([]float64{10, 20, 30})

	expr := "close"
	for i := 0; i < MaxRecursionDepth+1; i++ {
		expr = "REF(" + expr + ",1)"
	}

	_, err := parser.EvaluateValue(expr, 2)
	suite.Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeRecursionLimit))
	suite.False(errors.HasCode(err, errors.ErrCodeRuleSyntax))
}

func (suite *EvaluatorTestSuite) TestDeepButLegalNestingSucceeds() {
	parser := suite.newParser([]float64{10, 20, 30})

	expr := "close"
	for i := 0; i < 10; i++ {
		expr = "REF(" + expr + ",1)"
	}

	v, err := parser.EvaluateValue(expr, 2)
	suite.NoError(err)
	// Ten single-bar lookbacks from step 2 clamp at the series start.
	suite.Equal(10.0, v)
}

func (suite *EvaluatorTestSuite) TestTraceRecordsRuleOutcome() {
	parser := suite.newParser([]float64{10, 20, 30, 40, 50})

	result, err := parser.EvaluateRule("close > SMA(close,5)", 4)
	suite.NoError(err)
	suite.True(result)

	trace := parser.Trace()
	ruleCol := CleanColumnName("close > SMA(close,5)")
	suite.Contains(trace.Columns(), ruleCol)

	col := trace.BoolColumn(ruleCol)
	suite.NotNil(col)
	suite.True(col[4])
	suite.False(col[0])

	// Indicator sub-expressions get their own numeric columns.
	smaCol := CleanColumnName("SMA(close,5)")
	values := trace.FloatColumn(smaCol)
	suite.NotNil(values)
	suite.InDelta(30.0, values[4], 1e-9)
}

func (suite *EvaluatorTestSuite) TestCacheHitsAccumulate() {
	parser := suite.newParser([]float64{10, 20, 30, 40, 50})

	_, err := parser.EvaluateValue("SMA(close,5)", 4)
	suite.NoError(err)

	_, err = parser.EvaluateValue("SMA(close,5)", 4)
	suite.NoError(err)

	stats := parser.CacheStats()
	suite.Positive(stats.StepHits)
}

func (suite *EvaluatorTestSuite) TestStringColumnArgument() {
	parser := suite.newParser([]float64{10, 20, 30, 40, 50})

	quoted, err := parser.EvaluateValue("SMA('close',5)", 4)
	suite.NoError(err)

	bare, err := parser.EvaluateValue("SMA(close,5)", 4)
	suite.NoError(err)
	suite.Equal(bare, quoted)
}

func (suite *EvaluatorTestSuite) TestNaNColumnValueReadsZero() {
	table := closeTable("600519", []float64{10, 20, 30})
	suite.NoError(table.AddColumn("gap", []float64{1, math.NaN(), 3}))

	parser := New(Config{Table: table, Logger: logger.NewNopLogger()})

	v, err := parser.EvaluateValue("gap", 1)
	suite.NoError(err)
	suite.Equal(0.0, v)
}

func (suite *EvaluatorTestSuite) TestRuleTreeIsParsedOnce() {
	parser := suite.newParser([]float64{10, 20, 30})

	_, err := parser.EvaluateRule("close > 15", 0)
	suite.NoError(err)
	suite.Len(parser.trees, 1)

	_, err = parser.EvaluateRule("close > 15", 1)
	suite.NoError(err)
	suite.Len(parser.trees, 1)
}

func (suite *EvaluatorTestSuite) TestCleanColumnNameRendersPowerAsCaret() {
	name := CleanColumnName("close**2 > open")
	suite.False(strings.Contains(name, "**"))
	suite.Contains(name, "^")
}
