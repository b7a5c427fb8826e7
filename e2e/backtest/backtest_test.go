package backtest

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rulelab/ruleback/e2e/backtest/testhelper"
	"github.com/rulelab/ruleback/internal/datasource"
	"github.com/rulelab/ruleback/internal/engine"
	"github.com/rulelab/ruleback/internal/logger"
	"github.com/rulelab/ruleback/internal/strategy"
	"github.com/rulelab/ruleback/internal/strategy/ranking"
	"github.com/rulelab/ruleback/internal/types"
	"github.com/stretchr/testify/suite"
)

type E2ETestSuite struct {
	suite.Suite
	loader *datasource.Loader
}

func TestE2ETestSuite(t *testing.T) {
	suite.Run(t, new(E2ETestSuite))
}

func (s *E2ETestSuite) SetupTest() {
	loader, err := datasource.NewLoader(logger.NewNopLogger())
	s.Require().NoError(err)

	s.loader = loader
}

func (s *E2ETestSuite) TearDownTest() {
	s.Require().NoError(s.loader.Close())
}

// generate writes a seeded series to a file in dir and returns its path.
// Low volatility relative to the trend keeps the series strictly monotone.
func (s *E2ETestSuite) generate(dir, name string, pattern testhelper.SimulationPattern, initialPrice float64, seed int64, points int) string {
	generator := testhelper.NewMockDataGenerator(testhelper.MockDataConfig{
		StartTime:         time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC),
		Interval:          24 * time.Hour,
		NumDataPoints:     points,
		Pattern:           pattern,
		InitialPrice:      initialPrice,
		TrendStrength:     0.02,
		VolatilityPercent: 0.5,
		Seed:              seed,
	})

	path := filepath.Join(dir, name)
	s.Require().NoError(generator.WriteCSV(path))

	return path
}

func (s *E2ETestSuite) TestRuleStrategyRoundTrip() {
	dir := s.T().TempDir()
	s.generate(dir, "600519.csv", testhelper.PatternIncreasing, 50, 42, 60)

	tables, err := s.loader.LoadGlob(filepath.Join(dir, "*.csv"))
	s.Require().NoError(err)
	s.Require().Len(tables, 1)

	ruleStrategy, err := strategy.NewRuleBasedStrategy(strategy.RuleConfig{
		ID:            "trend-follow",
		OpenRule:      "close < 60",
		LiquidateRule: "close > 80",
	}, nil)
	s.Require().NoError(err)

	ledger, err := engine.NewTradeLedger(nil)
	s.Require().NoError(err)
	defer ledger.Close()

	backtest, err := engine.NewBacktestEngine(
		engine.DefaultConfig(),
		tables,
		[]engine.Strategy{ruleStrategy},
		logger.NewNopLogger(),
		engine.WithLedger(ledger),
	)
	s.Require().NoError(err)

	report, err := backtest.Run()
	s.Require().NoError(err)

	s.Empty(report.Errors)
	s.Len(report.EquityCurve, 60)

	// One entry at the first bar, one exit once the price clears 80.
	s.Require().Len(report.Trades, 2)
	s.Equal(types.SideBuy, report.Trades[0].Order.Side)
	s.Equal(types.SideSell, report.Trades[1].Order.Side)
	s.Greater(report.Trades[1].RealizedPnL, 0.0)

	s.Equal(2, report.Summary.TradeCount)
	s.Equal(1.0, report.Summary.WinRate)
	s.Greater(report.Summary.FinalCapital, report.Summary.InitialCapital)
}

func (s *E2ETestSuite) TestParquetRoundTrip() {
	dir := s.T().TempDir()

	generator := testhelper.NewMockDataGenerator(testhelper.MockDataConfig{
		StartTime:     time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC),
		Interval:      24 * time.Hour,
		NumDataPoints: 40,
		Pattern:       testhelper.PatternVolatile,
		InitialPrice:  100,
		Seed:          7,
	})

	path := filepath.Join(dir, "ABC.parquet")
	s.Require().NoError(generator.WriteParquet(path))

	table, err := s.loader.Load(path)
	s.Require().NoError(err)

	s.Equal("ABC", table.Symbol())
	s.Equal(40, table.Len())
}

func (s *E2ETestSuite) TestRankingRotation() {
	dir := s.T().TempDir()

	// A rises from 50, B falls from 100; the top-1 basket starts in B
	// and must rotate into A once the trends cross.
	s.generate(dir, "A.csv", testhelper.PatternIncreasing, 50, 7, 60)
	s.generate(dir, "B.csv", testhelper.PatternDecreasing, 100, 8, 60)

	tables, err := s.loader.LoadGlob(filepath.Join(dir, "*.csv"))
	s.Require().NoError(err)
	s.Require().Len(tables, 2)

	service, err := ranking.NewService(ranking.Config{
		FactorExpression:   "close",
		TopN:               1,
		RebalanceFrequency: ranking.FrequencyDaily,
		MaxPositionPercent: 0.5,
		LotSize:            100,
	}, nil)
	s.Require().NoError(err)

	rankingStrategy, err := ranking.NewStrategy("rotation", service, nil)
	s.Require().NoError(err)

	backtest, err := engine.NewBacktestEngine(
		engine.DefaultConfig(),
		tables,
		[]engine.Strategy{rankingStrategy},
		logger.NewNopLogger(),
	)
	s.Require().NoError(err)

	report, err := backtest.Run()
	s.Require().NoError(err)

	s.Empty(report.Errors)
	s.Require().GreaterOrEqual(len(report.Trades), 3)

	s.Equal("B", report.Trades[0].Order.Symbol)
	s.Equal(types.SideBuy, report.Trades[0].Order.Side)

	var soldB, boughtA bool

	for _, trade := range report.Trades[1:] {
		if trade.Order.Symbol == "B" && trade.Order.Side == types.SideSell {
			soldB = true
		}

		if trade.Order.Symbol == "A" && trade.Order.Side == types.SideBuy {
			boughtA = true
		}
	}

	s.True(soldB)
	s.True(boughtA)
}
