// Package engine implements the deterministic bar-driven simulation
// loop: per-bar strategy evaluation, a FIFO event queue drained within
// the bar, order sizing and fills against a simulated portfolio, and
// aggregation of the final performance report.
package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/rulelab/ruleback/internal/logger"
	"github.com/rulelab/ruleback/internal/ruleparser"
	"github.com/rulelab/ruleback/internal/types"
	"github.com/rulelab/ruleback/pkg/errors"
	"go.uber.org/zap"
)

// Strategy is the engine's per-bar hook. OnBar runs once per symbol
// per bar and returns the signals to enqueue; implementations that
// act once per timestamp across the whole basket must deduplicate
// internally.
type Strategy interface {
	ID() string
	OnBar(ctx *BarContext) ([]types.Signal, error)
	// RequiresCrossSection reports whether the strategy needs a
	// multi-symbol basket.
	RequiresCrossSection() bool
}

// BarContext is the read view a strategy gets for one symbol at one
// bar. The parser session carries the run's caches and trace for the
// active symbol.
type BarContext struct {
	Symbol    string
	Time      time.Time
	Step      int
	Price     float64
	Table     *types.PriceTable
	Parser    *ruleparser.RuleParser
	Parsers   map[string]*ruleparser.RuleParser
	Tables    map[string]*types.PriceTable
	Steps     map[string]int
	Portfolio *Portfolio
	Rebalance *RebalancePeriodService
	// RebalanceDue is the run-level schedule's verdict for this bar,
	// computed once per timestamp. False means rule strategies sit the
	// bar out.
	RebalanceDue bool
	IsNewDay     bool
}

// ProgressFunc receives run progress in [0,1]. It is the loop's only
// suspension point and is throttled to roughly one call per percent.
type ProgressFunc func(progress float64)

// BacktestEngine replays registered strategies over historical price
// tables. One instance per run; all state is run-local.
type BacktestEngine struct {
	config     Config
	tables     map[string]*types.PriceTable
	parsers    map[string]*ruleparser.RuleParser
	strategies []Strategy
	portfolio  *Portfolio
	events     *EventCoordinator
	orders     *OrderCoordinator
	equity     *EquityService
	ledger     *TradeLedger
	rebalance  *RebalancePeriodService
	results    *ResultsService
	progress   ProgressFunc
	log        *logger.Logger
	runErrors  []string
}

type EngineOption func(*BacktestEngine)

// WithProgress installs a progress callback.
func WithProgress(fn ProgressFunc) EngineOption {
	return func(e *BacktestEngine) { e.progress = fn }
}

// WithLedger attaches a DuckDB trade ledger; without one, trades are
// kept in memory only.
func WithLedger(ledger *TradeLedger) EngineOption {
	return func(e *BacktestEngine) { e.ledger = ledger }
}

// NewBacktestEngine validates the configuration and wires the run's
// collaborators. Tables must be non-empty with every table non-empty.
func NewBacktestEngine(config Config, tables map[string]*types.PriceTable, strategies []Strategy, log *logger.Logger, opts ...EngineOption) (*BacktestEngine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if len(tables) == 0 {
		return nil, errors.New(errors.ErrCodeBacktestNoData, "no price tables supplied")
	}

	if len(strategies) == 0 {
		return nil, errors.New(errors.ErrCodeBacktestNoStrategies, "no strategies registered")
	}

	seen := make(map[string]bool, len(strategies))
	for _, s := range strategies {
		if seen[s.ID()] {
			return nil, errors.Newf(errors.ErrCodeInvalidConfiguration, "duplicate strategy id %q", s.ID())
		}

		seen[s.ID()] = true

		if s.RequiresCrossSection() && len(tables) < 2 {
			return nil, errors.Newf(errors.ErrCodeCrossSectionRequired,
				"strategy %q requires multi-symbol data", s.ID())
		}
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	engine := &BacktestEngine{
		config:     config,
		strategies: strategies,
		portfolio:  NewPortfolio(config.InitialCapital),
		events:     NewEventCoordinator(log),
		equity:     NewEquityService(),
		log:        log,
	}

	for _, opt := range opts {
		opt(engine)
	}

	rebalance, err := NewRebalancePeriodService(config.Rebalance, log)
	if err != nil {
		return nil, err
	}

	engine.rebalance = rebalance

	sizing, err := NewPositionStrategy(config.PositionStrategy, config.PositionPercent, config.UseInitialCapital)
	if err != nil {
		return nil, err
	}

	engine.orders = NewOrderCoordinator(OrderCoordinatorConfig{
		Portfolio:      engine.portfolio,
		Sizing:         sizing,
		Ledger:         engine.ledger,
		CommissionRate: config.CommissionRate,
		Slippage:       config.Slippage,
		LotSize:        config.LotSize,
		Logger:         log,
	})
	engine.orders.wire(engine.events)

	engine.events.Register(EventKindTradingDay, func(Event) error { return nil })

	if err := engine.prepareTables(tables); err != nil {
		return nil, err
	}

	engine.results = NewResultsService(engine.portfolio, engine.equity, engine.ledger)

	return engine, nil
}

// prepareTables slices every table to the configured window and
// builds one parser session per symbol.
func (e *BacktestEngine) prepareTables(tables map[string]*types.PriceTable) error {
	e.tables = make(map[string]*types.PriceTable, len(tables))
	e.parsers = make(map[string]*ruleparser.RuleParser, len(tables))

	for symbol, table := range tables {
		sliced, err := e.sliceTable(table)
		if err != nil {
			// A table entirely outside the window drops out of the run.
			if errors.HasCode(err, errors.ErrCodeEmptyTable) {
				e.log.Warn("Price table has no bars in the configured window",
					zap.String("symbol", symbol),
				)

				continue
			}

			return err
		}

		e.tables[symbol] = sliced
	}

	if len(e.tables) == 0 {
		return errors.New(errors.ErrCodeBacktestNoData, "no bars within the configured time window")
	}

	var crossSection map[string]*types.PriceTable
	if len(e.tables) > 1 {
		crossSection = e.tables
	}

	for symbol, table := range e.tables {
		e.parsers[symbol] = ruleparser.New(ruleparser.Config{
			Table:         table,
			Portfolio:     e.portfolio,
			CrossSection:  crossSection,
			CacheCapacity: e.config.CacheCapacity,
			Logger:        e.log,
		})
	}

	return nil
}

func (e *BacktestEngine) sliceTable(table *types.PriceTable) (*types.PriceTable, error) {
	times := table.Times()

	from := times[0]
	if e.config.StartTime.IsSome() {
		from = e.config.StartTime.Unwrap()
	}

	to := times[len(times)-1]
	if e.config.EndTime.IsSome() {
		to = e.config.EndTime.Unwrap()
	}

	return table.Slice(from, to)
}

// Run drives the whole simulation and returns the final report. A
// per-bar failure is captured into the report's error list; the loop
// continues with the next bar.
func (e *BacktestEngine) Run() (types.Report, error) {
	timestamps := e.calendar()
	steps := make(map[string]int, len(e.tables))
	lastPrices := make(map[string]float64, len(e.tables))
	primary := e.primarySymbol()

	var lastDate time.Time

	lastPercent := -1

	for i, ts := range timestamps {
		isNewDay := !sameDate(ts, lastDate)
		lastDate = ts

		// Advance each symbol whose next bar is this timestamp.
		active := make(map[string]int)

		for symbol, table := range e.tables {
			step, ok := stepAt(table, steps[symbol], ts)
			if !ok {
				continue
			}

			steps[symbol] = step + 1
			active[symbol] = step

			if px, ok := table.Value(types.ColumnClose, step); ok {
				lastPrices[symbol] = px
			}
		}

		if len(active) == 0 {
			continue
		}

		e.markEquity(ts, primary, lastPrices)

		for symbol, step := range active {
			e.events.Publish(TradingDayEvent{
				Time:   ts,
				Symbol: symbol,
				Price:  lastPrices[symbol],
				Step:   step,
			})
		}

		// One schedule consultation per timestamp; the service counts
		// trading days internally.
		due := e.rebalance.ShouldRebalance(ts, isNewDay)

		e.runStrategies(ts, active, lastPrices, isNewDay, due)

		for _, err := range e.events.Drain() {
			e.captureError(ts, "", "events", err)
		}

		if e.progress != nil {
			percent := (i + 1) * 100 / len(timestamps)
			if percent != lastPercent {
				lastPercent = percent
				e.progress(float64(i+1) / float64(len(timestamps)))
			}
		}
	}

	return e.results.Report(e.orders.Trades(), e.runErrors, e.traces())
}

// runStrategies invokes every strategy for every active symbol,
// capturing failures per strategy per symbol.
func (e *BacktestEngine) runStrategies(ts time.Time, active map[string]int, prices map[string]float64, isNewDay, rebalanceDue bool) {
	symbols := make([]string, 0, len(active))
	for symbol := range active {
		symbols = append(symbols, symbol)
	}

	sort.Strings(symbols)

	for _, symbol := range symbols {
		step := active[symbol]

		ctx := &BarContext{
			Symbol:    symbol,
			Time:      ts,
			Step:      step,
			Price:     prices[symbol],
			Table:     e.tables[symbol],
			Parser:    e.parsers[symbol],
			Parsers:   e.parsers,
			Tables:    e.tables,
			Steps:     active,
			Portfolio:    e.portfolio,
			Rebalance:    e.rebalance,
			RebalanceDue: rebalanceDue,
			IsNewDay:     isNewDay && symbol == symbols[0],
		}

		for _, strategy := range e.strategies {
			signals, err := e.safeOnBar(strategy, ctx)
			if err != nil {
				e.captureError(ts, symbol, strategy.ID(), err)

				continue
			}

			for _, signal := range signals {
				e.events.Publish(SignalEvent{Signal: signal})
			}
		}
	}
}

// safeOnBar shields the loop from a panicking strategy.
func (e *BacktestEngine) safeOnBar(strategy Strategy, ctx *BarContext) (signals []types.Signal, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf(errors.ErrCodeUnknown, "strategy panic: %v", r)
		}
	}()

	return strategy.OnBar(ctx)
}

func (e *BacktestEngine) captureError(ts time.Time, symbol, source string, err error) {
	subject := fmt.Sprintf("[%s]", source)
	if symbol != "" {
		subject = fmt.Sprintf("%s [%s]", symbol, source)
	}

	msg := fmt.Sprintf("%s %s: %v", ts.Format("2006-01-02 15:04:05"), subject, err)
	e.runErrors = append(e.runErrors, msg)

	e.log.Error("Bar evaluation failed",
		zap.Time("at", ts),
		zap.String("symbol", symbol),
		zap.String("source", source),
		zap.Error(err),
	)
}

// markEquity appends one equity record for the bar. The record's
// price and position columns describe the primary symbol; total value
// marks every holding at its latest known price.
func (e *BacktestEngine) markEquity(ts time.Time, primary string, prices map[string]float64) {
	price := prices[primary]
	position := e.portfolio.Quantity(primary)
	total := e.portfolio.TotalValue(prices)

	e.equity.Mark(ts, price, position, e.portfolio.Cash(), total)
}

// calendar returns the sorted union of all tables' timestamps.
func (e *BacktestEngine) calendar() []time.Time {
	set := make(map[time.Time]bool)

	for _, table := range e.tables {
		for _, ts := range table.Times() {
			set[ts] = true
		}
	}

	timestamps := make([]time.Time, 0, len(set))
	for ts := range set {
		timestamps = append(timestamps, ts)
	}

	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i].Before(timestamps[j]) })

	return timestamps
}

func (e *BacktestEngine) primarySymbol() string {
	symbols := make([]string, 0, len(e.tables))
	for symbol := range e.tables {
		symbols = append(symbols, symbol)
	}

	sort.Strings(symbols)

	return symbols[0]
}

// Portfolio exposes the run's portfolio for inspection.
func (e *BacktestEngine) Portfolio() *Portfolio {
	return e.portfolio
}

// Equity exposes the run's equity service for inspection.
func (e *BacktestEngine) Equity() *EquityService {
	return e.equity
}

func (e *BacktestEngine) traces() []types.TraceTable {
	symbols := make([]string, 0, len(e.parsers))
	for symbol := range e.parsers {
		symbols = append(symbols, symbol)
	}

	sort.Strings(symbols)

	traces := make([]types.TraceTable, 0, len(symbols))
	for _, symbol := range symbols {
		traces = append(traces, e.parsers[symbol].Trace().Table(symbol))
	}

	return traces
}

// stepAt returns the table row whose timestamp equals ts, scanning
// forward from the cursor.
func stepAt(table *types.PriceTable, cursor int, ts time.Time) (int, bool) {
	times := table.Times()

	for i := cursor; i < len(times); i++ {
		if times[i].Equal(ts) {
			return i, true
		}

		if times[i].After(ts) {
			return 0, false
		}
	}

	return 0, false
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()

	return ay == by && am == bm && ad == bd
}
