// Package indicator implements the pure numeric indicator functions
// the rule language dispatches to: moving averages, oscillators, and
// volatility measures. Each function declares a minimum history
// requirement and yields a documented neutral default before that
// requirement is met, so early bars never abort a run. The service
// holds no cache of its own; memoization happens in the run's single
// caching capability upstream.
package indicator

import (
	"strings"

	"github.com/rulelab/ruleback/pkg/errors"
	"gonum.org/v1/gonum/stat"
)

// Neutral defaults returned before an indicator's minimum history is
// available.
const (
	DefaultValue    = 0.0
	DefaultRSIValue = 50.0
)

// Service computes indicator values at a single step of a series.
type Service struct{}

// NewService creates an indicator service.
func NewService() *Service {
	return &Service{}
}

// Calculate dispatches by function name (case-insensitive) and returns
// the indicator value at the given step.
//
// Argument order per function:
//
//	SMA/EMA/STD/Z_SCORE(window), RSI(period),
//	DIF(short, long), DEA(signal, short, long), MACD(signal, short, long)
func (s *Service) Calculate(funcName string, series []float64, step int, args ...float64) (float64, error) {
	if step < 0 || step >= len(series) {
		return 0, errors.Newf(errors.ErrCodeIndicatorCalculation,
			"step %d out of range for series of length %d", step, len(series))
	}

	switch strings.ToLower(funcName) {
	case "sma":
		return s.SMA(series, step, intArg(args, 0, 1)), nil
	case "rsi":
		return s.RSI(series, step, intArg(args, 0, 14)), nil
	case "ema":
		return s.EMA(series, step, intArg(args, 0, 2)), nil
	case "std":
		return s.STD(series, step, intArg(args, 0, 2)), nil
	case "zscore", "z_score":
		return s.ZScore(series, step, intArg(args, 0, 2)), nil
	case "dif":
		return s.DIF(series, step, intArg(args, 0, 12), intArg(args, 1, 26)), nil
	case "dea":
		return s.DEA(series, step, intArg(args, 0, 9), intArg(args, 1, 12), intArg(args, 2, 26)), nil
	case "macd":
		return s.MACD(series, step, intArg(args, 0, 9), intArg(args, 1, 12), intArg(args, 2, 26)), nil
	default:
		return 0, errors.Newf(errors.ErrCodeIndicatorNotFound, "unsupported indicator: %s", funcName)
	}
}

func intArg(args []float64, i, fallback int) int {
	if i < len(args) {
		return int(args[i])
	}

	return fallback
}

// SMA is the simple moving average of the trailing window ending at
// step. Needs window-1 bars of history; 0 before that.
func (s *Service) SMA(series []float64, step, window int) float64 {
	if step < window-1 {
		return DefaultValue
	}

	return stat.Mean(series[step-window+1:step+1], nil)
}

// EMA is the exponential moving average with alpha = 2/(window+1),
// seeded at the first value and recursed over the full prefix. Needs
// window-1 bars of history; 0 before that.
func (s *Service) EMA(series []float64, step, window int) float64 {
	if step < window-1 {
		return DefaultValue
	}

	return s.emaOver(series[:step+1], window)
}

func (s *Service) emaOver(values []float64, span int) float64 {
	alpha := 2.0 / (float64(span) + 1.0)
	ema := values[0]

	for _, v := range values[1:] {
		ema = alpha*v + (1-alpha)*ema
	}

	return ema
}

// RSI is the relative strength index over simple-average gains and
// losses of the trailing period. Needs period bars of history; the
// neutral midpoint 50 before that. All-gain windows read 100.
func (s *Service) RSI(series []float64, step, period int) float64 {
	if step < period {
		return DefaultRSIValue
	}

	var gainSum, lossSum float64

	for i := step - period + 1; i <= step; i++ {
		delta := series[i] - series[i-1]
		if delta > 0 {
			gainSum += delta
		} else {
			lossSum -= delta
		}
	}

	avgGain := gainSum / float64(period)
	avgLoss := lossSum / float64(period)

	if avgLoss == 0 {
		if avgGain != 0 {
			return 100.0
		}

		return DefaultRSIValue
	}

	rs := avgGain / avgLoss

	return 100.0 - 100.0/(1.0+rs)
}

// STD is the sample standard deviation of the trailing window. Needs
// window-1 bars of history; 0 before that.
func (s *Service) STD(series []float64, step, window int) float64 {
	if step < window-1 {
		return DefaultValue
	}

	return stat.StdDev(series[step-window+1:step+1], nil)
}

// ZScore measures how far the current value sits from the rolling
// mean, in rolling standard deviations. Needs window bars of history;
// 0 before that or when the deviation is 0.
func (s *Service) ZScore(series []float64, step, window int) float64 {
	if step < window {
		return DefaultValue
	}

	sma := s.SMA(series, step, window)
	std := s.STD(series, step, window)

	if std == 0 {
		return DefaultValue
	}

	return (series[step] - sma) / std
}

// DIF is the fast/slow EMA spread, EMA(short) - EMA(long). Needs long
// bars of history; 0 before that.
func (s *Service) DIF(series []float64, step, short, long int) float64 {
	if step < long {
		return DefaultValue
	}

	return s.EMA(series, step, short) - s.EMA(series, step, long)
}

// DEA smooths the DIF series with an EMA of span signal, evaluated
// over DIF values from step long onward. Needs long+signal bars of
// history; 0 before that.
func (s *Service) DEA(series []float64, step, signal, short, long int) float64 {
	if step < long+signal {
		return DefaultValue
	}

	difSeries := make([]float64, 0, step-long+1)
	for i := long; i <= step; i++ {
		difSeries = append(difSeries, s.DIF(series, i, short, long))
	}

	return s.emaOver(difSeries, signal)
}

// MACD is the histogram 2*(DIF - DEA); 0 when either input is still at
// its insufficient-history default.
func (s *Service) MACD(series []float64, step, signal, short, long int) float64 {
	dif := s.DIF(series, step, short, long)
	dea := s.DEA(series, step, signal, short, long)

	if dif == 0 || dea == 0 {
		return DefaultValue
	}

	return 2 * (dif - dea)
}
