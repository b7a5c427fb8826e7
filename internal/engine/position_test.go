package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type PositionSizingTestSuite struct {
	suite.Suite
}

func TestPositionSizingSuite(t *testing.T) {
	suite.Run(t, new(PositionSizingTestSuite))
}

func (suite *PositionSizingTestSuite) TestFixedPercentOfInitialCapital() {
	portfolio := NewPortfolio(100000)
	sizing := NewFixedPercentStrategy(0.1, true)

	suite.InDelta(1000.0, sizing.BuyQuantity(portfolio, 10), 1e-9)
}

func (suite *PositionSizingTestSuite) TestFixedPercentOfCurrentCash() {
	portfolio := NewPortfolio(100000)
	suite.Require().NoError(portfolio.applyBuy("X", 1000, 50, 0, time.Now()))

	sizing := NewFixedPercentStrategy(0.1, false)

	// 10% of the remaining 50000.
	suite.InDelta(500.0, sizing.BuyQuantity(portfolio, 10), 1e-9)
}

func (suite *PositionSizingTestSuite) TestBudgetNeverExceedsCash() {
	portfolio := NewPortfolio(100000)
	suite.Require().NoError(portfolio.applyBuy("X", 1900, 50, 0, time.Now()))

	// 10% of initial is 10000 but only 5000 cash remains.
	sizing := NewFixedPercentStrategy(0.1, true)
	suite.InDelta(500.0, sizing.BuyQuantity(portfolio, 10), 1e-9)
}

func (suite *PositionSizingTestSuite) TestFullCash() {
	portfolio := NewPortfolio(25000)
	sizing := FullCashStrategy{}

	suite.InDelta(2500.0, sizing.BuyQuantity(portfolio, 10), 1e-9)
	suite.Zero(sizing.BuyQuantity(portfolio, 0))
}

func (suite *PositionSizingTestSuite) TestLotRounding() {
	suite.Equal(400.0, roundToLot(437, 100))
	suite.Equal(0.0, roundToLot(99, 100))
	suite.Equal(437.0, roundToLot(437, 0))
}

func (suite *PositionSizingTestSuite) TestStrategySelection() {
	sizing, err := NewPositionStrategy(PositionStrategyFullCash, 0, false)
	suite.NoError(err)
	suite.IsType(FullCashStrategy{}, sizing)

	sizing, err = NewPositionStrategy("", 0, false)
	suite.NoError(err)
	suite.IsType(&FixedPercentStrategy{}, sizing)

	_, err = NewPositionStrategy("martingale", 0, false)
	suite.Error(err)
}
