package engine

import (
	"testing"

	"github.com/rulelab/ruleback/internal/types"
	"github.com/rulelab/ruleback/pkg/errors"
	"github.com/stretchr/testify/suite"
)

type EventsTestSuite struct {
	suite.Suite
	events *EventCoordinator
}

func TestEventsSuite(t *testing.T) {
	suite.Run(t, new(EventsTestSuite))
}

func (suite *EventsTestSuite) SetupTest() {
	suite.events = NewEventCoordinator(nil)
}

func (suite *EventsTestSuite) TestFIFOOrder() {
	var seen []string

	suite.events.Register(EventKindSignal, func(event Event) error {
		seen = append(seen, event.(SignalEvent).Signal.Symbol)

		return nil
	})

	suite.events.Publish(SignalEvent{Signal: types.Signal{Symbol: "A"}})
	suite.events.Publish(SignalEvent{Signal: types.Signal{Symbol: "B"}})
	suite.events.Publish(SignalEvent{Signal: types.Signal{Symbol: "C"}})

	suite.Equal(3, suite.events.Pending())
	suite.events.Drain()

	suite.Equal([]string{"A", "B", "C"}, seen)
	suite.Zero(suite.events.Pending())
}

func (suite *EventsTestSuite) TestFollowUpEventsDrainSameBar() {
	var fills int

	suite.events.Register(EventKindSignal, func(Event) error {
		suite.events.Publish(OrderEvent{})

		return nil
	})
	suite.events.Register(EventKindOrder, func(Event) error {
		suite.events.Publish(FillEvent{})

		return nil
	})
	suite.events.Register(EventKindFill, func(Event) error {
		fills++

		return nil
	})

	suite.events.Publish(SignalEvent{})
	suite.events.Drain()

	suite.Equal(1, fills)
	suite.Zero(suite.events.Pending())
}

func (suite *EventsTestSuite) TestHandlerErrorDoesNotAbortDrain() {
	var handled int

	suite.events.Register(EventKindSignal, func(Event) error {
		handled++

		return errors.New(errors.ErrCodeUnknown, "bad event")
	})

	suite.events.Publish(SignalEvent{})
	suite.events.Publish(SignalEvent{})
	failures := suite.events.Drain()

	suite.Equal(2, handled)

	// Every failure comes back to the caller.
	suite.Require().Len(failures, 2)
	suite.True(errors.HasCode(failures[0], errors.ErrCodeUnknown))
}

func (suite *EventsTestSuite) TestUnhandledEventsAreDropped() {
	suite.events.Publish(TradingDayEvent{})
	suite.events.Drain()
	suite.Zero(suite.events.Pending())
}
