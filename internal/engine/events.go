package engine

import (
	"time"

	"github.com/rulelab/ruleback/internal/logger"
	"github.com/rulelab/ruleback/internal/types"
	"go.uber.org/zap"
)

// Event is the closed set of things that can happen within one bar.
// Each event is created by the engine or a coordinator, consumed
// exactly once by its registered handler, then discarded.
type Event interface {
	eventKind() EventKind
}

type EventKind string

const (
	EventKindTradingDay EventKind = "trading_day"
	EventKindSignal     EventKind = "signal"
	EventKindOrder      EventKind = "order"
	EventKindFill       EventKind = "fill"
)

// TradingDayEvent opens a bar: a new price and timestamp are active.
type TradingDayEvent struct {
	Time   time.Time
	Symbol string
	Price  float64
	Step   int
}

// SignalEvent carries a strategy's trade request into the queue.
type SignalEvent struct {
	Signal types.Signal
}

// OrderEvent carries a sized order awaiting validation and fill.
type OrderEvent struct {
	Order types.Order
}

// FillEvent carries an executed trade to be applied to the portfolio.
type FillEvent struct {
	Trade types.Trade
}

func (TradingDayEvent) eventKind() EventKind { return EventKindTradingDay }
func (SignalEvent) eventKind() EventKind     { return EventKindSignal }
func (OrderEvent) eventKind() EventKind      { return EventKindOrder }
func (FillEvent) eventKind() EventKind       { return EventKindFill }

// EventHandler consumes one event. Handlers may publish follow-up
// events; those are appended to the same queue and drained within the
// same bar.
type EventHandler func(event Event) error

// EventCoordinator is a strictly FIFO, single-threaded event queue.
// One instance per run; drained to empty every bar so no event leaks
// across bars.
type EventCoordinator struct {
	queue    []Event
	handlers map[EventKind]EventHandler
	log      *logger.Logger
}

func NewEventCoordinator(log *logger.Logger) *EventCoordinator {
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &EventCoordinator{
		handlers: make(map[EventKind]EventHandler),
		log:      log,
	}
}

// Register installs the handler for one event kind, replacing any
// previous one.
func (c *EventCoordinator) Register(kind EventKind, handler EventHandler) {
	c.handlers[kind] = handler
}

// Publish appends an event to the queue.
func (c *EventCoordinator) Publish(event Event) {
	c.queue = append(c.queue, event)
}

// Pending returns the number of queued events.
func (c *EventCoordinator) Pending() int {
	return len(c.queue)
}

// Drain processes events in FIFO order until the queue is empty.
// Handler errors never abort the drain; they are logged, collected and
// returned so the caller can surface them. Events without a handler
// are dropped with a warning.
func (c *EventCoordinator) Drain() []error {
	var failures []error

	for len(c.queue) > 0 {
		event := c.queue[0]
		c.queue = c.queue[1:]

		handler, ok := c.handlers[event.eventKind()]
		if !ok {
			c.log.Warn("No handler registered for event",
				zap.String("kind", string(event.eventKind())),
			)

			continue
		}

		if err := handler(event); err != nil {
			c.log.Error("Event handler failed",
				zap.String("kind", string(event.eventKind())),
				zap.Error(err),
			)

			failures = append(failures, err)
		}
	}

	return failures
}
