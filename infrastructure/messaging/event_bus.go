package messaging

import (
	"context"
	"fmt"
	"sync"

	"canvassync/domain/events"

	"go.uber.org/zap"
)

// Handler reacts to a published domain event
type Handler func(ctx context.Context, event events.DomainEvent) error

type subscription struct {
	id      uint64
	handler Handler
}

// EventBus is an in-process publish/subscribe channel between the sync engine and its observers.
// Handlers run synchronously on the publishing goroutine, in subscription order.
type EventBus struct {
	mu       sync.RWMutex
	byType   map[string][]subscription
	wildcard []subscription
	nextID   uint64
	logger   *zap.Logger
}

// NewEventBus creates a new event bus
func NewEventBus(logger *zap.Logger) *EventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventBus{
		byType: make(map[string][]subscription),
		logger: logger,
	}
}

// Subscribe registers a handler for one event type and returns a function that removes it
func (b *EventBus) Subscribe(eventType string, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.byType[eventType] = append(b.byType[eventType], subscription{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.byType[eventType] = remove(b.byType[eventType], id)
	}
}

// SubscribeAll registers a handler for every event
func (b *EventBus) SubscribeAll(handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.wildcard = append(b.wildcard, subscription{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.wildcard = remove(b.wildcard, id)
	}
}

// On subscribes a handler typed to one concrete event struct
func On[T events.DomainEvent](b *EventBus, handler func(ctx context.Context, event T)) func() {
	return b.SubscribeAll(func(ctx context.Context, event events.DomainEvent) error {
		if typed, ok := event.(T); ok {
			handler(ctx, typed)
		}
		return nil
	})
}

// Publish delivers the event to every matching handler.
// All handlers run; the first handler error is returned.
func (b *EventBus) Publish(ctx context.Context, event events.DomainEvent) error {
	b.mu.RLock()
	subs := make([]subscription, 0, len(b.byType[event.GetEventType()])+len(b.wildcard))
	subs = append(subs, b.byType[event.GetEventType()]...)
	subs = append(subs, b.wildcard...)
	b.mu.RUnlock()

	var firstErr error
	for i, sub := range subs {
		if err := sub.handler(ctx, event); err != nil {
			b.logger.Warn("Event handler failed",
				zap.String("event_type", event.GetEventType()),
				zap.Int("handler", i),
				zap.Error(err))
			if firstErr == nil {
				firstErr = fmt.Errorf("handler %d for %s failed: %w", i, event.GetEventType(), err)
			}
		}
	}
	return firstErr
}

// PublishAll publishes events in order
func (b *EventBus) PublishAll(ctx context.Context, evts []events.DomainEvent) error {
	var firstErr error
	for _, e := range evts {
		if err := b.Publish(ctx, e); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Clear removes every subscription
func (b *EventBus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byType = make(map[string][]subscription)
	b.wildcard = nil
}

func remove(subs []subscription, id uint64) []subscription {
	out := make([]subscription, 0, len(subs))
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}
