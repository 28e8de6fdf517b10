package event

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Handler consumes one event. A returned error is logged by the bus and never
// propagated to the publisher or to other handlers.
type Handler func(ctx context.Context, ev Event) error

// Subscription identifies one registered handler so it can be removed later
// (func values are not comparable).
type Subscription struct {
	typ     Type
	id      uint64
	handler Handler
}

// Bus is an in-process, best-effort fan-out of domain events. Publish hands
// the event to every handler registered for its type at publish time, in
// registration order. Delivery is at-most-once with no replay: an event
// published with no subscribers is gone. Durable history lives only in the
// event store; anything that needs guaranteed delivery must read from there.
//
// The bus is an explicitly constructed object, passed to every producer and
// consumer — there is no process-wide singleton.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[Type][]*Subscription
	logger *slog.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		subs:   make(map[Type][]*Subscription),
		logger: logger.With(slog.String("component", "event_bus")),
	}
}

// Subscribe registers a handler for the exact event type and returns the
// subscription handle used to unsubscribe. Multiple handlers per type are
// allowed.
func (b *Bus) Subscribe(typ Type, h Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{typ: typ, id: b.nextID, handler: h}
	b.subs[typ] = append(b.subs[typ], sub)
	return sub
}

// Unsubscribe removes a previously registered handler. Unknown subscriptions
// are a no-op.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[sub.typ]
	for i, s := range list {
		if s.id == sub.id {
			b.subs[sub.typ] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Publish invokes every handler currently registered for the event's type.
// Handler failures (error return or panic) are logged and isolated so one
// misbehaving subscriber never blocks or crashes the rest. Publish returns
// once each handler has been invoked.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	b.mu.RLock()
	// Snapshot so handlers may subscribe/unsubscribe while we dispatch.
	list := make([]*Subscription, len(b.subs[ev.Type]))
	copy(list, b.subs[ev.Type])
	b.mu.RUnlock()

	if len(list) == 0 {
		b.logger.DebugContext(ctx, "event published with no subscribers",
			slog.String("type", string(ev.Type)),
			slog.String("aggregate_id", ev.AggregateID),
		)
		return
	}

	for _, sub := range list {
		b.invoke(ctx, sub, ev)
	}
}

func (b *Bus) invoke(ctx context.Context, sub *Subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.ErrorContext(ctx, "event handler panicked",
				slog.String("type", string(ev.Type)),
				slog.String("event_id", ev.ID),
				slog.String("panic", fmt.Sprint(r)),
			)
		}
	}()

	if err := sub.handler(ctx, ev); err != nil {
		b.logger.ErrorContext(ctx, "event handler failed",
			slog.String("type", string(ev.Type)),
			slog.String("event_id", ev.ID),
			slog.String("error", err.Error()),
		)
	}
}
