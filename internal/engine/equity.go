package engine

import (
	"time"

	"github.com/rulelab/ruleback/internal/types"
)

// EquityService tracks mark-to-market equity across a run: one record
// per bar, a monotonically non-decreasing peak, and drawdown figures
// derived from it.
type EquityService struct {
	records     []types.EquityRecord
	peak        float64
	maxDrawdown float64
}

func NewEquityService() *EquityService {
	return &EquityService{}
}

// Mark appends one equity observation and updates peak and drawdown.
func (s *EquityService) Mark(at time.Time, price, position, cash, totalValue float64) {
	s.records = append(s.records, types.EquityRecord{
		Time:       at,
		Price:      price,
		Position:   position,
		Cash:       cash,
		TotalValue: totalValue,
	})

	if totalValue > s.peak {
		s.peak = totalValue
	}

	if dd := s.CurrentDrawdown(); dd > s.maxDrawdown {
		s.maxDrawdown = dd
	}
}

// Peak returns the highest equity observed so far.
func (s *EquityService) Peak() float64 {
	return s.peak
}

// CurrentDrawdown is (peak - current) / peak, clamped to [0, 1].
func (s *EquityService) CurrentDrawdown() float64 {
	if s.peak <= 0 || len(s.records) == 0 {
		return 0
	}

	current := s.records[len(s.records)-1].TotalValue

	dd := (s.peak - current) / s.peak
	if dd < 0 {
		return 0
	}

	if dd > 1 {
		return 1
	}

	return dd
}

// MaxDrawdown is the largest drawdown observed over the run.
func (s *EquityService) MaxDrawdown() float64 {
	return s.maxDrawdown
}

// Curve returns the full equity curve in bar order.
func (s *EquityService) Curve() []types.EquityRecord {
	return s.records
}

// DailyReturns computes bar-over-bar simple returns of total value.
// Bars where the previous value is zero contribute nothing.
func (s *EquityService) DailyReturns() []float64 {
	if len(s.records) < 2 {
		return nil
	}

	returns := make([]float64, 0, len(s.records)-1)

	for i := 1; i < len(s.records); i++ {
		prev := s.records[i-1].TotalValue
		if prev == 0 {
			continue
		}

		returns = append(returns, s.records[i].TotalValue/prev-1)
	}

	return returns
}
