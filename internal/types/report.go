package types

import "time"

// EquityRecord is one mark-to-market observation; the sequence of
// records is the equity curve.
type EquityRecord struct {
	Time       time.Time `yaml:"time" json:"time"`
	Price      float64   `yaml:"price" json:"price"`
	Position   float64   `yaml:"position" json:"position"`
	Cash       float64   `yaml:"cash" json:"cash"`
	TotalValue float64   `yaml:"total_value" json:"total_value"`
}

// Summary is the headline block of a backtest report.
type Summary struct {
	InitialCapital  float64 `yaml:"initial_capital" json:"initial_capital"`
	FinalCapital    float64 `yaml:"final_capital" json:"final_capital"`
	TradeCount      int     `yaml:"trade_count" json:"trade_count"`
	WinRate         float64 `yaml:"win_rate" json:"win_rate"`
	TotalReturnPct  float64 `yaml:"total_return_pct" json:"total_return_pct"`
	CurrentDrawdown float64 `yaml:"current_drawdown_pct" json:"current_drawdown_pct"`
	MaxDrawdown     float64 `yaml:"max_drawdown_pct" json:"max_drawdown_pct"`
}

// Metrics holds the extended risk/return statistics.
type Metrics struct {
	SharpeRatio      float64 `yaml:"sharpe_ratio" json:"sharpe_ratio"`
	SortinoRatio     float64 `yaml:"sortino_ratio" json:"sortino_ratio"`
	CalmarRatio      float64 `yaml:"calmar_ratio" json:"calmar_ratio"`
	AnnualizedReturn float64 `yaml:"annualized_return" json:"annualized_return"`
	AnnualVolatility float64 `yaml:"annual_volatility" json:"annual_volatility"`
}

// TraceTable is one symbol's trace output: every intermediate
// rule/expression column produced during the run, aligned with the
// source table's rows.
type TraceTable struct {
	Symbol  string               `yaml:"symbol" json:"symbol"`
	Columns []string             `yaml:"columns" json:"columns"`
	Bools   map[string][]bool    `yaml:"bools" json:"bools"`
	Floats  map[string][]float64 `yaml:"floats" json:"floats"`
}

// Report is the final output of a backtest run.
type Report struct {
	Summary     Summary        `yaml:"summary" json:"summary"`
	Metrics     Metrics        `yaml:"metrics" json:"metrics"`
	EquityCurve []EquityRecord `yaml:"equity_curve" json:"equity_curve"`
	Trades      []Trade        `yaml:"trades" json:"trades"`
	// Errors collects per-bar failures; a bad bar never aborts the run.
	Errors []string     `yaml:"errors" json:"errors"`
	Traces []TraceTable `yaml:"traces,omitempty" json:"traces,omitempty"`
}
