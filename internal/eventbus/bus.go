// Package eventbus implements an in-process publish/subscribe layer
// sitting atop the event store: a publish is only
// considered complete once the store has durably appended the event,
// subscribers fan out afterward, and a subscriber failure never
// unpublishes the event.
package eventbus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gorax/gorax/internal/eventstore"
)

// Subscriber receives every event whose type it was registered for.
// Returning an error only logs; it never rolls back the publish.
type Subscriber func(ctx context.Context, event eventstore.Event)

// Bus publishes domain events, persisting each through the Event Store
// before fanning out to registered subscribers. Consumers are expected
// to be idempotent keyed on event id; the bus does not
// deduplicate on their behalf.
type Bus struct {
	store  *eventstore.Store
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[string][]Subscriber // event type -> subscribers; "*" matches all
}

// New constructs a Bus atop store.
func New(store *eventstore.Store, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		store:       store,
		logger:      logger,
		subscribers: make(map[string][]Subscriber),
	}
}

// Subscribe registers sub for eventType; pass "*" to receive every
// event type.
func (b *Bus) Subscribe(eventType string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], sub)
}

// Publish appends the event to the Event Store and, once durably
// committed, invokes every matching subscriber synchronously in
// registration order. A subscriber panic is recovered and logged so
// one bad subscriber cannot crash the publisher or block its peers.
func (b *Bus) Publish(ctx context.Context, eventType, tenantID, workflowID, jobID string, payload interface{}, status string) (eventstore.Event, error) {
	event, err := b.store.Append(ctx, eventType, tenantID, workflowID, jobID, payload, status)
	if err != nil {
		return eventstore.Event{}, err
	}
	b.fanout(ctx, event)
	return event, nil
}

func (b *Bus) fanout(ctx context.Context, event eventstore.Event) {
	b.mu.RLock()
	subs := append([]Subscriber{}, b.subscribers[event.EventType]...)
	subs = append(subs, b.subscribers["*"]...)
	b.mu.RUnlock()

	for _, sub := range subs {
		b.invoke(ctx, sub, event)
	}
}

func (b *Bus) invoke(ctx context.Context, sub Subscriber, event eventstore.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("eventbus: subscriber panic", "event_id", event.ID, "event_type", event.EventType, "panic", r)
		}
	}()
	sub(ctx, event)
}
