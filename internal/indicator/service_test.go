package indicator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/suite"
)

type ServiceTestSuite struct {
	suite.Suite
	service *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceTestSuite))
}

func (suite *ServiceTestSuite) SetupTest() {
	suite.service = NewService()
}

func (suite *ServiceTestSuite) TestSMA() {
	series := []float64{10, 20, 30, 40, 50}

	suite.InDelta(30.0, suite.service.SMA(series, 4, 5), 1e-9)
	suite.InDelta(45.0, suite.service.SMA(series, 4, 2), 1e-9)
	// Insufficient history reads the neutral default.
	suite.Equal(0.0, suite.service.SMA(series, 2, 5))
	// Exactly window-1 steps of history is enough.
	suite.InDelta(20.0, suite.service.SMA(series, 2, 3), 1e-9)
}

func (suite *ServiceTestSuite) TestEMA() {
	series := []float64{10, 20, 30, 40, 50}

	suite.Equal(0.0, suite.service.EMA(series, 1, 3))

	// alpha = 0.5 for window 3, seeded at the first value.
	want := 10.0
	for _, v := range series[1:] {
		want = 0.5*v + 0.5*want
	}

	suite.InDelta(want, suite.service.EMA(series, 4, 3), 1e-9)
}

func (suite *ServiceTestSuite) TestRSI() {
	up := []float64{1, 2, 3, 4, 5, 6, 7, 8}

	// All-gain windows saturate at 100.
	suite.InDelta(100.0, suite.service.RSI(up, 7, 5), 1e-9)

	// Neutral default before period bars.
	suite.Equal(50.0, suite.service.RSI(up, 3, 5))

	down := []float64{8, 7, 6, 5, 4, 3, 2, 1}
	suite.InDelta(0.0, suite.service.RSI(down, 7, 5), 1e-9)

	flat := []float64{5, 5, 5, 5, 5, 5}
	suite.Equal(50.0, suite.service.RSI(flat, 5, 4))
}

func (suite *ServiceTestSuite) TestSTD() {
	series := []float64{2, 4, 4, 4, 5, 5, 7, 9}

	suite.Equal(0.0, suite.service.STD(series, 2, 8))

	// Sample standard deviation of the full series.
	mean := 5.0
	var sum float64
	for _, v := range series {
		sum += (v - mean) * (v - mean)
	}
	want := math.Sqrt(sum / 7)

	suite.InDelta(want, suite.service.STD(series, 7, 8), 1e-9)
}

func (suite *ServiceTestSuite) TestZScore() {
	series := []float64{10, 20, 30, 40, 50, 60}

	// Needs a full window plus the current value.
	suite.Equal(0.0, suite.service.ZScore(series, 2, 3))
	suite.NotEqual(0.0, suite.service.ZScore(series, 5, 3))

	flat := []float64{5, 5, 5, 5, 5}
	suite.Equal(0.0, suite.service.ZScore(flat, 4, 3))
}

func (suite *ServiceTestSuite) TestMACDFamily() {
	series := make([]float64, 60)
	for i := range series {
		series[i] = float64(i + 1)
	}

	suite.Equal(0.0, suite.service.DIF(series, 20, 12, 26))
	suite.NotEqual(0.0, suite.service.DIF(series, 30, 12, 26))

	suite.Equal(0.0, suite.service.DEA(series, 30, 9, 12, 26))
	suite.NotEqual(0.0, suite.service.DEA(series, 40, 9, 12, 26))

	dif := suite.service.DIF(series, 40, 12, 26)
	dea := suite.service.DEA(series, 40, 9, 12, 26)
	suite.InDelta(2*(dif-dea), suite.service.MACD(series, 40, 9, 12, 26), 1e-9)

	// Insufficient history in either leg reads 0.
	suite.Equal(0.0, suite.service.MACD(series, 20, 9, 12, 26))
}

func (suite *ServiceTestSuite) TestCalculateDispatch() {
	series := []float64{10, 20, 30, 40, 50}

	v, err := suite.service.Calculate("SMA", series, 4, 5)
	suite.NoError(err)
	suite.InDelta(30.0, v, 1e-9)

	v, err = suite.service.Calculate("sma", series, 4, 5)
	suite.NoError(err)
	suite.InDelta(30.0, v, 1e-9)

	_, err = suite.service.Calculate("BOGUS", series, 4, 5)
	suite.Error(err)

	_, err = suite.service.Calculate("SMA", series, 99, 5)
	suite.Error(err)
}
