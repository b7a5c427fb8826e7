package types

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/moznion/go-optional"
	"github.com/rulelab/ruleback/pkg/errors"
)

type Side string

type SignalType string

type OrderStatus string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

const (
	// Rule-driven signal kinds, in the priority order the strategy
	// evaluates them.
	SignalTypeOpen        SignalType = "OPEN"
	SignalTypeLiquidate   SignalType = "LIQUIDATE"
	SignalTypePartialSell SignalType = "PARTIAL_SELL"
	SignalTypeAdd         SignalType = "ADD"
	// Rebalance-driven signal kinds.
	SignalTypeRebalanceBuy  SignalType = "REBALANCE_BUY"
	SignalTypeRebalanceSell SignalType = "REBALANCE_SELL"
)

const (
	OrderStatusFilled   OrderStatus = "FILLED"
	OrderStatusRejected OrderStatus = "REJECTED"
)

const (
	OrderReasonRule                 string = "rule"
	OrderReasonRebalance            string = "rebalance"
	OrderReasonZeroQuantity         string = "zero_quantity"
	OrderReasonInvalidPrice         string = "invalid_price"
	OrderReasonInsufficientCash     string = "insufficient_cash"
	OrderReasonInsufficientPosition string = "insufficient_position"
)

type Reason struct {
	Reason  string `yaml:"reason" json:"reason" validate:"required"`
	Message string `yaml:"message" json:"message"`
}

// Signal is a strategy's request to trade. Quantity is optional: when
// absent, the order coordinator sizes the order through the configured
// position strategy.
type Signal struct {
	Time       time.Time                `yaml:"time" json:"time" validate:"required"`
	Symbol     string                   `yaml:"symbol" json:"symbol" validate:"required"`
	Type       SignalType               `yaml:"type" json:"type" validate:"required"`
	Side       Side                     `yaml:"side" json:"side" validate:"required,oneof=BUY SELL"`
	Price      float64                  `yaml:"price" json:"price" validate:"required"`
	Quantity   optional.Option[float64] `yaml:"quantity" json:"quantity"`
	Reason     Reason                   `yaml:"reason" json:"reason"`
	StrategyID string                   `yaml:"strategy_id" json:"strategy_id" validate:"required"`
}

// Order is a sized, directional trade request derived from a signal.
type Order struct {
	OrderID    string      `yaml:"order_id" json:"order_id"`
	Symbol     string      `yaml:"symbol" json:"symbol" validate:"required"`
	Side       Side        `yaml:"side" json:"side" validate:"required,oneof=BUY SELL"`
	Quantity   float64     `yaml:"quantity" json:"quantity" validate:"required,gt=0"`
	Price      float64     `yaml:"price" json:"price" validate:"required,gt=0"`
	Timestamp  time.Time   `yaml:"timestamp" json:"timestamp" validate:"required"`
	Status     OrderStatus `yaml:"status" json:"status"`
	Reason     Reason      `yaml:"reason" json:"reason" validate:"required"`
	StrategyID string      `yaml:"strategy_id" json:"strategy_id" validate:"required"`
}

// Validate validates the Order struct.
func (o *Order) Validate() error {
	validate := validator.New()

	if err := validate.Struct(o); err != nil {
		return errors.Wrap(errors.ErrCodeOrderRejected, "invalid order", err)
	}

	return nil
}
