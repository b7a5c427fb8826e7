package engine

import (
	"math"

	"github.com/rulelab/ruleback/internal/types"
	"gonum.org/v1/gonum/stat"
)

// Trading days per year used to annualize bar-level statistics.
const tradingDaysPerYear = 252

// ResultsService aggregates a finished run into the final report.
type ResultsService struct {
	portfolio *Portfolio
	equity    *EquityService
	ledger    *TradeLedger
}

func NewResultsService(portfolio *Portfolio, equity *EquityService, ledger *TradeLedger) *ResultsService {
	return &ResultsService{portfolio: portfolio, equity: equity, ledger: ledger}
}

// Report assembles the summary, metrics, equity curve and trade list.
// Trades and win rate come from the ledger when one is attached;
// otherwise the win rate falls back to the in-memory trade slice.
func (s *ResultsService) Report(trades []types.Trade, runErrors []string, traces []types.TraceTable) (types.Report, error) {
	curve := s.equity.Curve()

	final := s.portfolio.InitialCapital()
	if len(curve) > 0 {
		final = curve[len(curve)-1].TotalValue
	}

	winRate := winRateOf(trades)

	if s.ledger != nil {
		stats, err := s.ledger.Stats()
		if err != nil {
			return types.Report{}, err
		}

		winRate = stats.WinRate
	}

	totalReturn := 0.0
	if s.portfolio.InitialCapital() > 0 {
		totalReturn = final/s.portfolio.InitialCapital() - 1
	}

	report := types.Report{
		Summary: types.Summary{
			InitialCapital:  s.portfolio.InitialCapital(),
			FinalCapital:    final,
			TradeCount:      len(trades),
			WinRate:         winRate,
			TotalReturnPct:  totalReturn * 100,
			CurrentDrawdown: s.equity.CurrentDrawdown() * 100,
			MaxDrawdown:     s.equity.MaxDrawdown() * 100,
		},
		Metrics:     s.metrics(totalReturn),
		EquityCurve: curve,
		Trades:      trades,
		Errors:      runErrors,
		Traces:      traces,
	}

	return report, nil
}

func (s *ResultsService) metrics(totalReturn float64) types.Metrics {
	returns := s.equity.DailyReturns()
	if len(returns) == 0 {
		return types.Metrics{}
	}

	mean := stat.Mean(returns, nil)

	vol := 0.0
	if len(returns) > 1 {
		vol = stat.StdDev(returns, nil)
	}

	annualVol := vol * math.Sqrt(tradingDaysPerYear)

	sharpe := 0.0
	if annualVol > 0 {
		sharpe = mean * tradingDaysPerYear / annualVol
	}

	sortino := 0.0
	if down := downsideDeviation(returns); down > 0 {
		sortino = mean * tradingDaysPerYear / (down * math.Sqrt(tradingDaysPerYear))
	}

	annualized := s.annualizedReturn(totalReturn)

	calmar := 0.0
	if maxDD := s.equity.MaxDrawdown(); maxDD > 0 {
		calmar = annualized / maxDD
	}

	return types.Metrics{
		SharpeRatio:      sharpe,
		SortinoRatio:     sortino,
		CalmarRatio:      calmar,
		AnnualizedReturn: annualized * 100,
		AnnualVolatility: annualVol * 100,
	}
}

// annualizedReturn compounds the total return over the actual elapsed
// calendar days between the first and last equity record.
func (s *ResultsService) annualizedReturn(totalReturn float64) float64 {
	curve := s.equity.Curve()
	if len(curve) < 2 {
		return totalReturn
	}

	days := curve[len(curve)-1].Time.Sub(curve[0].Time).Hours() / 24
	if days <= 0 {
		return totalReturn
	}

	growth := 1 + totalReturn
	if growth <= 0 {
		return -1
	}

	return math.Pow(growth, 365/days) - 1
}

// downsideDeviation is the sample standard deviation of the negative
// returns only.
func downsideDeviation(returns []float64) float64 {
	var negative []float64

	for _, r := range returns {
		if r < 0 {
			negative = append(negative, r)
		}
	}

	if len(negative) < 2 {
		return 0
	}

	return stat.StdDev(negative, nil)
}

// winRateOf counts sells with positive realized PnL over all sells.
func winRateOf(trades []types.Trade) float64 {
	var closing, winning int

	for _, trade := range trades {
		if trade.Order.Side != types.SideSell {
			continue
		}

		closing++

		if trade.RealizedPnL > 0 {
			winning++
		}
	}

	if closing == 0 {
		return 0
	}

	return float64(winning) / float64(closing)
}
