package engine

import (
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/rulelab/ruleback/internal/types"
	"github.com/stretchr/testify/suite"
)

type EngineTestSuite struct {
	suite.Suite
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}

func tradingDays(n int) []time.Time {
	times := make([]time.Time, n)
	day := time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)

	for i := range times {
		times[i] = day
		day = day.AddDate(0, 0, 1)

		for day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			day = day.AddDate(0, 0, 1)
		}
	}

	return times
}

func priceTable(symbol string, closes []float64) *types.PriceTable {
	times := tradingDays(len(closes))
	open := make([]float64, len(closes))
	high := make([]float64, len(closes))
	low := make([]float64, len(closes))
	volume := make([]float64, len(closes))

	for i, c := range closes {
		open[i] = c
		high[i] = c + 1
		low[i] = c - 1
		volume[i] = 1000
	}

	table, err := types.NewOHLCVTable(symbol, times, open, high, low, closes, volume)
	if err != nil {
		panic(err)
	}

	return table
}

// scriptedStrategy emits a fixed signal at chosen steps of one symbol.
type scriptedStrategy struct {
	id      string
	signals map[int]types.Signal
}

func (s *scriptedStrategy) ID() string                 { return s.id }
func (s *scriptedStrategy) RequiresCrossSection() bool { return false }

func (s *scriptedStrategy) OnBar(ctx *BarContext) ([]types.Signal, error) {
	signal, ok := s.signals[ctx.Step]
	if !ok {
		return nil, nil
	}

	signal.Time = ctx.Time
	signal.Symbol = ctx.Symbol
	signal.Price = ctx.Price

	return []types.Signal{signal}, nil
}

func buyAt(step int, qty float64) map[int]types.Signal {
	return map[int]types.Signal{
		step: {
			Type:       types.SignalTypeOpen,
			Side:       types.SideBuy,
			Quantity:   optional.Some(qty),
			Reason:     types.Reason{Reason: types.OrderReasonRule},
			StrategyID: "scripted",
		},
	}
}

func (suite *EngineTestSuite) newEngine(config Config, tables map[string]*types.PriceTable, strategies ...Strategy) *BacktestEngine {
	engine, err := NewBacktestEngine(config, tables, strategies, nil)
	suite.Require().NoError(err)

	return engine
}

func (suite *EngineTestSuite) TestConstructionValidation() {
	config := DefaultConfig()
	table := priceTable("600519", []float64{10, 11, 12})
	tables := map[string]*types.PriceTable{"600519": table}
	strategy := &scriptedStrategy{id: "s"}

	_, err := NewBacktestEngine(config, nil, []Strategy{strategy}, nil)
	suite.Error(err)

	_, err = NewBacktestEngine(config, tables, nil, nil)
	suite.Error(err)

	_, err = NewBacktestEngine(Config{}, tables, []Strategy{strategy}, nil)
	suite.Error(err)

	_, err = NewBacktestEngine(config, tables, []Strategy{strategy, &scriptedStrategy{id: "s"}}, nil)
	suite.Error(err)
}

type crossSectionalStub struct{ scriptedStrategy }

func (crossSectionalStub) RequiresCrossSection() bool { return true }

func (suite *EngineTestSuite) TestCrossSectionRequiresMultipleSymbols() {
	config := DefaultConfig()
	tables := map[string]*types.PriceTable{"A": priceTable("A", []float64{10, 11})}

	stub := &crossSectionalStub{scriptedStrategy{id: "ranking"}}

	_, err := NewBacktestEngine(config, tables, []Strategy{stub}, nil)
	suite.Error(err)

	tables["B"] = priceTable("B", []float64{20, 21})
	_, err = NewBacktestEngine(config, tables, []Strategy{stub}, nil)
	suite.NoError(err)
}

func (suite *EngineTestSuite) TestBuyAndLiquidate() {
	config := DefaultConfig()
	config.InitialCapital = 10000

	tables := map[string]*types.PriceTable{"600519": priceTable("600519", []float64{10, 12, 15, 20})}

	signals := buyAt(0, 100)
	signals[2] = types.Signal{
		Type:       types.SignalTypeLiquidate,
		Side:       types.SideSell,
		Quantity:   optional.Some(100.0),
		Reason:     types.Reason{Reason: types.OrderReasonRule},
		StrategyID: "scripted",
	}

	engine := suite.newEngine(config, tables, &scriptedStrategy{id: "scripted", signals: signals})

	report, err := engine.Run()
	suite.Require().NoError(err)

	suite.Len(report.Trades, 2)
	suite.Equal(types.SideBuy, report.Trades[0].Order.Side)
	suite.Equal(types.SideSell, report.Trades[1].Order.Side)

	// Bought 100 at 10, sold 100 at 15: +500 on a 10000 base.
	suite.InDelta(10500.0, report.Summary.FinalCapital, 1e-9)
	suite.InDelta(500.0, report.Trades[1].RealizedPnL, 1e-9)
	suite.Equal(1.0, report.Summary.WinRate)
	suite.InDelta(5.0, report.Summary.TotalReturnPct, 1e-9)
	suite.Empty(report.Errors)
}

func (suite *EngineTestSuite) TestRejectedBuyLeavesStateUntouched() {
	config := DefaultConfig()
	config.InitialCapital = 1000

	tables := map[string]*types.PriceTable{"600519": priceTable("600519", []float64{10, 20, 30})}

	// Requires 10x the available cash.
	engine := suite.newEngine(config, tables, &scriptedStrategy{id: "scripted", signals: buyAt(0, 1000)})

	report, err := engine.Run()
	suite.Require().NoError(err)

	suite.Empty(report.Trades)
	suite.Equal(0, report.Summary.TradeCount)
	suite.InDelta(1000.0, engine.Portfolio().Cash(), 1e-9)
	suite.Zero(engine.Portfolio().Quantity("600519"))

	// Equity still reflects every bar's price move.
	suite.Require().Len(report.EquityCurve, 3)
	suite.InDelta(1000.0, report.EquityCurve[2].TotalValue, 1e-9)
	suite.InDelta(30.0, report.EquityCurve[2].Price, 1e-9)
}

func (suite *EngineTestSuite) TestEquityPeakMonotoneAndDrawdownBounded() {
	config := DefaultConfig()
	config.InitialCapital = 10000

	closes := []float64{10, 14, 9, 16, 7, 12, 18, 5}
	tables := map[string]*types.PriceTable{"600519": priceTable("600519", closes)}

	engine := suite.newEngine(config, tables, &scriptedStrategy{id: "scripted", signals: buyAt(0, 500)})

	report, err := engine.Run()
	suite.Require().NoError(err)

	peak := 0.0
	for _, record := range report.EquityCurve {
		if record.TotalValue > peak {
			peak = record.TotalValue
		}

		suite.GreaterOrEqual(engine.Equity().Peak(), record.TotalValue)
	}

	suite.InDelta(peak, engine.Equity().Peak(), 1e-9)
	suite.GreaterOrEqual(report.Summary.MaxDrawdown, 0.0)
	suite.LessOrEqual(report.Summary.MaxDrawdown, 100.0)
	suite.Greater(report.Summary.MaxDrawdown, 0.0)
}

func (suite *EngineTestSuite) TestSizingWithoutExplicitQuantity() {
	config := DefaultConfig()
	config.InitialCapital = 100000
	config.PositionPercent = 0.1
	config.UseInitialCapital = true
	config.LotSize = 100

	tables := map[string]*types.PriceTable{"600519": priceTable("600519", []float64{25, 26, 27})}

	signals := map[int]types.Signal{
		0: {
			Type:       types.SignalTypeOpen,
			Side:       types.SideBuy,
			Quantity:   optional.None[float64](),
			Reason:     types.Reason{Reason: types.OrderReasonRule},
			StrategyID: "scripted",
		},
	}

	engine := suite.newEngine(config, tables, &scriptedStrategy{id: "scripted", signals: signals})

	report, err := engine.Run()
	suite.Require().NoError(err)

	// 10% of 100000 = 10000 budget; 10000/25 = 400, already on the lot.
	suite.Require().Len(report.Trades, 1)
	suite.InDelta(400.0, report.Trades[0].ExecutedQty, 1e-9)
}

func (suite *EngineTestSuite) TestCommissionAndSlippageApplied() {
	config := DefaultConfig()
	config.InitialCapital = 10000
	config.CommissionRate = 0.001
	config.Slippage = 0.01

	tables := map[string]*types.PriceTable{"600519": priceTable("600519", []float64{100, 100})}

	engine := suite.newEngine(config, tables, &scriptedStrategy{id: "scripted", signals: buyAt(0, 10)})

	report, err := engine.Run()
	suite.Require().NoError(err)

	suite.Require().Len(report.Trades, 1)
	trade := report.Trades[0]
	suite.InDelta(101.0, trade.ExecutedPrice, 1e-9)
	suite.InDelta(1.01, trade.Commission, 1e-9)
	suite.InDelta(10*101.0+1.01, trade.TotalCost, 1e-9)
	suite.InDelta(10000-trade.TotalCost, engine.Portfolio().Cash(), 1e-9)
}

func (suite *EngineTestSuite) TestStartEndWindow() {
	config := DefaultConfig()

	closes := []float64{10, 11, 12, 13, 14}
	table := priceTable("600519", closes)
	times := table.Times()

	config.StartTime = optional.Some(times[1])
	config.EndTime = optional.Some(times[3])

	engine := suite.newEngine(config, map[string]*types.PriceTable{"600519": table},
		&scriptedStrategy{id: "scripted"})

	report, err := engine.Run()
	suite.Require().NoError(err)

	suite.Len(report.EquityCurve, 3)
	suite.True(report.EquityCurve[0].Time.Equal(times[1]))
	suite.True(report.EquityCurve[2].Time.Equal(times[3]))
}

type errorStrategy struct{ id string }

func (s *errorStrategy) ID() string                 { return s.id }
func (s *errorStrategy) RequiresCrossSection() bool { return false }

func (s *errorStrategy) OnBar(ctx *BarContext) ([]types.Signal, error) {
	if ctx.Step == 1 {
		panic("boom")
	}

	return nil, nil
}

func (suite *EngineTestSuite) TestPerBarFailuresAreCaptured() {
	config := DefaultConfig()
	tables := map[string]*types.PriceTable{"600519": priceTable("600519", []float64{10, 11, 12})}

	engine := suite.newEngine(config, tables, &errorStrategy{id: "bad"})

	report, err := engine.Run()
	suite.Require().NoError(err)

	suite.Len(report.Errors, 1)
	suite.Contains(report.Errors[0], "boom")
	suite.Len(report.EquityCurve, 3)
}

func (suite *EngineTestSuite) TestQueueFailuresSurfaceInReport() {
	config := DefaultConfig()
	tables := map[string]*types.PriceTable{"600519": priceTable("600519", []float64{10, 11})}

	// An unknown side slips past validation and fails at the fill
	// handler; the failure must reach the report, not just the log.
	signals := map[int]types.Signal{
		0: {
			Type:       types.SignalTypeOpen,
			Side:       types.Side("SHORT"),
			Quantity:   optional.Some(100.0),
			Reason:     types.Reason{Reason: types.OrderReasonRule},
			StrategyID: "scripted",
		},
	}

	engine := suite.newEngine(config, tables, &scriptedStrategy{id: "scripted", signals: signals})

	report, err := engine.Run()
	suite.Require().NoError(err)

	suite.Empty(report.Trades)
	suite.Require().Len(report.Errors, 1)
	suite.Contains(report.Errors[0], "[events]")
	suite.Contains(report.Errors[0], "unknown order side")
}

func (suite *EngineTestSuite) TestProgressThrottled() {
	config := DefaultConfig()
	tables := map[string]*types.PriceTable{"600519": priceTable("600519", make2(500))}

	var calls int

	engine, err := NewBacktestEngine(config, tables, []Strategy{&scriptedStrategy{id: "s"}}, nil,
		WithProgress(func(float64) { calls++ }))
	suite.Require().NoError(err)

	_, err = engine.Run()
	suite.Require().NoError(err)

	// One call per whole percent, not per bar.
	suite.LessOrEqual(calls, 101)
	suite.GreaterOrEqual(calls, 99)
}

func make2(n int) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 10 + float64(i%7)
	}

	return closes
}
