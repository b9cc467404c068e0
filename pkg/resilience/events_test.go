package resilience

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventBusDeliversToSubscribers(t *testing.T) {
	bus := NewEventBus()
	ctx := context.Background()

	var received []Event
	bus.Subscribe(EventRetryInitiated, func(ctx context.Context, event Event, ec *ErrorContext) {
		received = append(received, event)
	})
	bus.Subscribe(EventRetryInitiated, func(ctx context.Context, event Event, ec *ErrorContext) {
		received = append(received, event)
	})

	bus.Emit(ctx, EventRetryInitiated, &ErrorContext{ResourceKey: "db"})

	assert.Len(t, received, 2)
}

func TestEventBusIgnoresUnsubscribedEvents(t *testing.T) {
	bus := NewEventBus()
	ctx := context.Background()

	called := false
	bus.Subscribe(EventCircuitOpened, func(ctx context.Context, event Event, ec *ErrorContext) {
		called = true
	})

	bus.Emit(ctx, EventRetryInitiated, &ErrorContext{})

	assert.False(t, called)
}

func TestEventBusSurvivesPanickingHandler(t *testing.T) {
	bus := NewEventBus()
	ctx := context.Background()

	secondCalled := false
	bus.Subscribe(EventErrorEscalated, func(ctx context.Context, event Event, ec *ErrorContext) {
		panic("handler blew up")
	})
	bus.Subscribe(EventErrorEscalated, func(ctx context.Context, event Event, ec *ErrorContext) {
		secondCalled = true
	})

	assert.NotPanics(t, func() {
		bus.Emit(ctx, EventErrorEscalated, &ErrorContext{})
	})
	assert.True(t, secondCalled)
}

func TestEventBusIgnoresNilHandler(t *testing.T) {
	bus := NewEventBus()

	bus.Subscribe(EventRetryInitiated, nil)

	assert.NotPanics(t, func() {
		bus.Emit(context.Background(), EventRetryInitiated, &ErrorContext{})
	})
}
