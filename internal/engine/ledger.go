package engine

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/rulelab/ruleback/internal/logger"
	"github.com/rulelab/ruleback/internal/types"
	"github.com/rulelab/ruleback/pkg/errors"
	"go.uber.org/zap"
)

// TradeLedger records every order and fill of a run in an in-memory
// DuckDB database. The database is the source of truth for trade
// aggregates (win rate, realized PnL totals) and can be exported to
// Parquet for offline inspection.
type TradeLedger struct {
	db     *sql.DB
	sq     squirrel.StatementBuilderType
	logger *logger.Logger
}

func NewTradeLedger(log *logger.Logger) (*TradeLedger, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}

	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeBacktestInitFailed, "failed to open ledger database", err)
	}

	ledger := &TradeLedger{
		db:     db,
		sq:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
		logger: log,
	}

	if err := ledger.initialize(); err != nil {
		db.Close()

		return nil, err
	}

	return ledger, nil
}

func (l *TradeLedger) initialize() error {
	_, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS orders (
			order_id TEXT PRIMARY KEY,
			symbol TEXT,
			side TEXT,
			quantity DOUBLE,
			price DOUBLE,
			timestamp TIMESTAMP,
			status TEXT,
			reason TEXT,
			message TEXT,
			strategy_id TEXT
		);
		CREATE TABLE IF NOT EXISTS trades (
			order_id TEXT,
			symbol TEXT,
			side TEXT,
			strategy_id TEXT,
			executed_at TIMESTAMP,
			executed_qty DOUBLE,
			executed_price DOUBLE,
			commission DOUBLE,
			total_cost DOUBLE,
			realized_pnl DOUBLE
		);
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeBacktestInitFailed, "failed to create ledger tables", err)
	}

	return nil
}

// RecordOrder persists one order, filled or rejected, assigning it an
// ID when it has none. Returns the order ID.
func (l *TradeLedger) RecordOrder(order *types.Order) (string, error) {
	if order.OrderID == "" {
		order.OrderID = uuid.New().String()
	}

	_, err := l.sq.
		Insert("orders").
		Columns("order_id", "symbol", "side", "quantity", "price",
			"timestamp", "status", "reason", "message", "strategy_id").
		Values(order.OrderID, order.Symbol, string(order.Side), order.Quantity,
			order.Price, order.Timestamp, string(order.Status),
			order.Reason.Reason, order.Reason.Message, order.StrategyID).
		RunWith(l.db).
		Exec()
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeQueryFailed, "failed to record order", err)
	}

	return order.OrderID, nil
}

// RecordTrade persists one executed fill.
func (l *TradeLedger) RecordTrade(trade types.Trade) error {
	_, err := l.sq.
		Insert("trades").
		Columns("order_id", "symbol", "side", "strategy_id", "executed_at",
			"executed_qty", "executed_price", "commission", "total_cost", "realized_pnl").
		Values(trade.Order.OrderID, trade.Order.Symbol, string(trade.Order.Side),
			trade.Order.StrategyID, trade.ExecutedAt, trade.ExecutedQty,
			trade.ExecutedPrice, trade.Commission, trade.TotalCost, trade.RealizedPnL).
		RunWith(l.db).
		Exec()
	if err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to record trade", err)
	}

	return nil
}

// TradeStats is the SQL-side aggregate over closing trades.
type TradeStats struct {
	TotalTrades   int
	ClosingTrades int
	WinningTrades int
	LosingTrades  int
	WinRate       float64
	TotalFees     float64
}

// Stats aggregates the run's trades. Win rate counts sells with
// positive realized PnL over all sells; buys carry no realized PnL
// and are excluded from the ratio.
func (l *TradeLedger) Stats() (TradeStats, error) {
	query := `
		WITH closing AS (
			SELECT realized_pnl
			FROM trades
			WHERE side = ?
		)
		SELECT
			(SELECT COUNT(*) FROM trades) AS total_trades,
			(SELECT COUNT(*) FROM closing) AS closing_trades,
			(SELECT COUNT(*) FROM closing WHERE realized_pnl > 0) AS winning_trades,
			(SELECT COUNT(*) FROM closing WHERE realized_pnl < 0) AS losing_trades,
			CASE WHEN (SELECT COUNT(*) FROM closing) > 0
				THEN CAST((SELECT COUNT(*) FROM closing WHERE realized_pnl > 0) AS DOUBLE)
					/ (SELECT COUNT(*) FROM closing)
				ELSE 0 END AS win_rate,
			(SELECT COALESCE(SUM(commission), 0) FROM trades) AS total_fees
	`

	var stats TradeStats

	err := l.db.QueryRow(query, string(types.SideSell)).Scan(
		&stats.TotalTrades,
		&stats.ClosingTrades,
		&stats.WinningTrades,
		&stats.LosingTrades,
		&stats.WinRate,
		&stats.TotalFees,
	)
	if err != nil {
		return TradeStats{}, errors.Wrap(errors.ErrCodeQueryFailed, "failed to aggregate trades", err)
	}

	return stats, nil
}

// Trades returns every recorded fill in execution order.
func (l *TradeLedger) Trades() ([]types.Trade, error) {
	rows, err := l.sq.
		Select("order_id", "symbol", "side", "strategy_id", "executed_at",
			"executed_qty", "executed_price", "commission", "total_cost", "realized_pnl").
		From("trades").
		OrderBy("executed_at ASC").
		RunWith(l.db).
		Query()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query trades", err)
	}
	defer rows.Close()

	var trades []types.Trade

	for rows.Next() {
		var trade types.Trade

		var side string

		err := rows.Scan(
			&trade.Order.OrderID,
			&trade.Order.Symbol,
			&side,
			&trade.Order.StrategyID,
			&trade.ExecutedAt,
			&trade.ExecutedQty,
			&trade.ExecutedPrice,
			&trade.Commission,
			&trade.TotalCost,
			&trade.RealizedPnL,
		)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan trade", err)
		}

		trade.Order.Side = types.Side(side)
		trade.Order.Status = types.OrderStatusFilled
		trade.Order.Quantity = trade.ExecutedQty
		trade.Order.Price = trade.ExecutedPrice
		trade.Order.Timestamp = trade.ExecutedAt
		trades = append(trades, trade)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "error iterating trades", err)
	}

	return trades, nil
}

// Write exports the orders and trades tables to Parquet files under
// the given directory.
func (l *TradeLedger) Write(path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to create results directory", err)
	}

	tradesPath := filepath.Join(path, "trades.parquet")
	if _, err := l.db.Exec(fmt.Sprintf(`COPY trades TO '%s' (FORMAT PARQUET)`, tradesPath)); err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to export trades", err)
	}

	ordersPath := filepath.Join(path, "orders.parquet")
	if _, err := l.db.Exec(fmt.Sprintf(`COPY orders TO '%s' (FORMAT PARQUET)`, ordersPath)); err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to export orders", err)
	}

	l.logger.Info("Exported ledger to Parquet",
		zap.String("trades", tradesPath),
		zap.String("orders", ordersPath),
	)

	return nil
}

// Cleanup drops the ledger tables and recreates them empty.
func (l *TradeLedger) Cleanup() error {
	_, err := l.db.Exec(`
		DROP TABLE IF EXISTS trades;
		DROP TABLE IF EXISTS orders;
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to drop ledger tables", err)
	}

	return l.initialize()
}

// Close releases the underlying database.
func (l *TradeLedger) Close() error {
	return l.db.Close()
}
