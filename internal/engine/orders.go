package engine

import (
	"github.com/rulelab/ruleback/internal/logger"
	"github.com/rulelab/ruleback/internal/types"
	"github.com/rulelab/ruleback/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderCoordinator turns signals into sized orders, validates them,
// and applies fills. It is the only component that mutates the
// portfolio. Rejected orders are logged and recorded in the ledger
// but never raise; the run continues.
type OrderCoordinator struct {
	portfolio      *Portfolio
	sizing         PositionStrategy
	ledger         *TradeLedger
	commissionRate float64
	slippage       float64
	lotSize        float64
	trades         []types.Trade
	log            *logger.Logger
}

type OrderCoordinatorConfig struct {
	Portfolio      *Portfolio
	Sizing         PositionStrategy
	Ledger         *TradeLedger
	CommissionRate float64
	Slippage       float64
	LotSize        float64
	Logger         *logger.Logger
}

func NewOrderCoordinator(cfg OrderCoordinatorConfig) *OrderCoordinator {
	log := cfg.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &OrderCoordinator{
		portfolio:      cfg.Portfolio,
		sizing:         cfg.Sizing,
		ledger:         cfg.Ledger,
		commissionRate: cfg.CommissionRate,
		slippage:       cfg.Slippage,
		lotSize:        cfg.LotSize,
		log:            log,
	}
}

// Trades returns the fills applied so far, in execution order.
func (c *OrderCoordinator) Trades() []types.Trade {
	return c.trades
}

// HandleSignal sizes a signal into an order and publishes it. A signal
// with an explicit quantity uses it verbatim; otherwise buys are sized
// by the position strategy and floor-rounded to the lot size, and
// sells liquidate the current holding.
func (c *OrderCoordinator) HandleSignal(signal types.Signal, publish func(Event)) {
	qty, err := signal.Quantity.Take()
	if err != nil {
		qty = c.size(signal)
	}

	order := types.Order{
		Symbol:     signal.Symbol,
		Side:       signal.Side,
		Quantity:   qty,
		Price:      signal.Price,
		Timestamp:  signal.Time,
		Reason:     signal.Reason,
		StrategyID: signal.StrategyID,
	}

	publish(OrderEvent{Order: order})
}

func (c *OrderCoordinator) size(signal types.Signal) float64 {
	if signal.Side == types.SideSell {
		return c.portfolio.Quantity(signal.Symbol)
	}

	if c.sizing == nil {
		return 0
	}

	return roundToLot(c.sizing.BuyQuantity(c.portfolio, signal.Price), c.lotSize)
}

// HandleOrder validates an order and either rejects it or publishes a
// fill. Rejection mutates nothing.
func (c *OrderCoordinator) HandleOrder(order types.Order, publish func(Event)) {
	if reason, ok := c.reject(order); !ok {
		c.recordRejection(order, reason)

		return
	}

	execPrice := c.executionPrice(order)
	commission := c.commission(order.Quantity, execPrice)

	trade := types.Trade{
		Order:         order,
		ExecutedAt:    order.Timestamp,
		ExecutedQty:   order.Quantity,
		ExecutedPrice: execPrice,
		Commission:    commission,
	}

	publish(FillEvent{Trade: trade})
}

// HandleFill applies an executed trade to the portfolio and records
// it. Realized PnL for sells is computed against the position's
// average cost before the fill mutates it.
func (c *OrderCoordinator) HandleFill(trade types.Trade) error {
	notional := trade.ExecutedQty * trade.ExecutedPrice

	switch trade.Order.Side {
	case types.SideBuy:
		trade.TotalCost = notional + trade.Commission

		if err := c.portfolio.applyBuy(trade.Order.Symbol, trade.ExecutedQty,
			trade.ExecutedPrice, trade.Commission, trade.ExecutedAt); err != nil {
			return err
		}
	case types.SideSell:
		position := c.portfolio.Position(trade.Order.Symbol)
		trade.RealizedPnL = position.RealizedPnL(trade.ExecutedPrice, trade.ExecutedQty, trade.Commission)
		trade.TotalCost = notional - trade.Commission

		if err := c.portfolio.applySell(trade.Order.Symbol, trade.ExecutedQty,
			trade.ExecutedPrice, trade.Commission); err != nil {
			return err
		}
	default:
		return errors.Newf(errors.ErrCodeOrderRejected, "unknown order side %q", trade.Order.Side)
	}

	trade.Order.Status = types.OrderStatusFilled

	if c.ledger != nil {
		if _, err := c.ledger.RecordOrder(&trade.Order); err != nil {
			return err
		}

		if err := c.ledger.RecordTrade(trade); err != nil {
			return err
		}
	}

	c.trades = append(c.trades, trade)

	c.log.Debug("Order filled",
		zap.String("symbol", trade.Order.Symbol),
		zap.String("side", string(trade.Order.Side)),
		zap.Float64("qty", trade.ExecutedQty),
		zap.Float64("price", trade.ExecutedPrice),
		zap.Float64("pnl", trade.RealizedPnL),
		zap.Time("at", trade.ExecutedAt),
	)

	return nil
}

// reject returns the rejection reason and false when the order cannot
// fill.
func (c *OrderCoordinator) reject(order types.Order) (types.Reason, bool) {
	if order.Quantity == 0 {
		return types.Reason{
			Reason:  types.OrderReasonZeroQuantity,
			Message: "sized quantity is zero",
		}, false
	}

	if order.Price <= 0 {
		return types.Reason{
			Reason:  types.OrderReasonInvalidPrice,
			Message: "order price must be positive",
		}, false
	}

	switch order.Side {
	case types.SideBuy:
		execPrice := c.executionPrice(order)
		required := order.Quantity*execPrice + c.commission(order.Quantity, execPrice)

		if required > c.portfolio.Cash() {
			return types.Reason{
				Reason:  types.OrderReasonInsufficientCash,
				Message: "required cash exceeds available balance",
			}, false
		}
	case types.SideSell:
		if order.Quantity > c.portfolio.Quantity(order.Symbol) {
			return types.Reason{
				Reason:  types.OrderReasonInsufficientPosition,
				Message: "sell quantity exceeds held quantity",
			}, false
		}
	}

	return types.Reason{}, true
}

func (c *OrderCoordinator) recordRejection(order types.Order, reason types.Reason) {
	order.Status = types.OrderStatusRejected
	order.Reason = reason

	c.log.Warn("Order rejected",
		zap.String("symbol", order.Symbol),
		zap.String("side", string(order.Side)),
		zap.Float64("qty", order.Quantity),
		zap.Float64("price", order.Price),
		zap.String("reason", reason.Reason),
	)

	if c.ledger != nil {
		if _, err := c.ledger.RecordOrder(&order); err != nil {
			c.log.Error("Failed to record rejected order", zap.Error(err))
		}
	}
}

// executionPrice applies slippage against the trade: buys fill above
// the bar price, sells below.
func (c *OrderCoordinator) executionPrice(order types.Order) float64 {
	price := decimal.NewFromFloat(order.Price)
	slip := decimal.NewFromFloat(c.slippage)

	switch order.Side {
	case types.SideBuy:
		price = price.Mul(decimal.NewFromInt(1).Add(slip))
	case types.SideSell:
		price = price.Mul(decimal.NewFromInt(1).Sub(slip))
	}

	result, _ := price.Float64()

	return result
}

func (c *OrderCoordinator) commission(qty, price float64) float64 {
	fee := decimal.NewFromFloat(qty).
		Mul(decimal.NewFromFloat(price)).
		Mul(decimal.NewFromFloat(c.commissionRate))

	result, _ := fee.Float64()

	return result
}

// wire registers the coordinator's three handlers on an event queue.
func (c *OrderCoordinator) wire(events *EventCoordinator) {
	events.Register(EventKindSignal, func(event Event) error {
		signal, ok := event.(SignalEvent)
		if !ok {
			return errors.New(errors.ErrCodeInvalidType, "expected signal event")
		}

		c.HandleSignal(signal.Signal, events.Publish)

		return nil
	})

	events.Register(EventKindOrder, func(event Event) error {
		order, ok := event.(OrderEvent)
		if !ok {
			return errors.New(errors.ErrCodeInvalidType, "expected order event")
		}

		c.HandleOrder(order.Order, events.Publish)

		return nil
	})

	events.Register(EventKindFill, func(event Event) error {
		fill, ok := event.(FillEvent)
		if !ok {
			return errors.New(errors.ErrCodeInvalidType, "expected fill event")
		}

		return c.HandleFill(fill.Trade)
	})
}
