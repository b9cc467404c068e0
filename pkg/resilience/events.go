package resilience

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/safetalk/safetalk-resilience/pkg/logging"
)

// Event identifies a recovery lifecycle event
type Event string

const (
	EventRetryInitiated     Event = "retry_initiated"
	EventReconnectRequested Event = "reconnect_requested"
	EventCircuitConfigured  Event = "circuit_breaker_configured"
	EventCircuitBlocked     Event = "circuit_breaker_blocked"
	EventCircuitOpened      Event = "circuit_breaker_opened"
	EventRecoverySucceeded  Event = "recovery_succeeded"
	EventRecoveryFailed     Event = "recovery_failed"
	EventErrorEscalated     Event = "error_escalated"
)

// EventHandler receives recovery lifecycle events. Handlers run inline
// on the recovering goroutine and should return quickly; anything slow
// belongs behind the handler's own channel.
type EventHandler func(ctx context.Context, event Event, ec *ErrorContext)

// EventBus fans recovery events out to subscribed handlers. Delivery is
// best effort: a panicking handler is logged and skipped, and never
// affects the recovery outcome or the other handlers.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[Event][]EventHandler
	logger   *logging.Logger
}

// NewEventBus creates an event bus with no subscriptions
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[Event][]EventHandler),
		logger:   logging.GetLogger(),
	}
}

// Subscribe registers a handler for the given event
func (b *EventBus) Subscribe(event Event, handler EventHandler) {
	if handler == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[event] = append(b.handlers[event], handler)
}

// Emit logs the event for the audit trail and delivers it to every
// subscribed handler.
func (b *EventBus) Emit(ctx context.Context, event Event, ec *ErrorContext) {
	if ec != nil {
		b.logger.LogRecoveryEvent(ctx, string(event), ec.ResourceKey, ec.CorrelationID, logrus.Fields{
			"category":  string(ec.Category),
			"severity":  ec.Severity.String(),
			"operation": ec.Operation,
			"attempt":   ec.AttemptCount,
		})
	}

	b.mu.RLock()
	handlers := b.handlers[event]
	b.mu.RUnlock()

	for _, handler := range handlers {
		b.safeCall(ctx, event, ec, handler)
	}
}

func (b *EventBus) safeCall(ctx context.Context, event Event, ec *ErrorContext, handler EventHandler) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Recovery event handler panicked",
				"event", string(event),
				"panic", r,
			)
		}
	}()

	handler(ctx, event, ec)
}
