// Package journal persists published domain events into the append-only
// event store, independently of any other subscriber.
package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/liqwatch/liqwatch/internal/domain"
	"github.com/liqwatch/liqwatch/internal/event"
)

// appendRetries bounds how often a lost version race is retried before the
// event is dropped with an error log. Conflicts only happen when two
// producers append to the same aggregate at once, so a couple of retries is
// plenty.
const appendRetries = 3

// Recorder subscribes to the event bus and appends every event it sees to
// the durable store. It holds its subscriptions so Stop can detach it.
type Recorder struct {
	store  event.Store
	bus    *event.Bus
	logger *slog.Logger

	subs []*event.Subscription
}

// NewRecorder creates a Recorder. Call Start to attach it to the bus.
func NewRecorder(store event.Store, bus *event.Bus, logger *slog.Logger) *Recorder {
	return &Recorder{
		store:  store,
		bus:    bus,
		logger: logger.With(slog.String("component", "journal")),
	}
}

// Start subscribes the recorder to every journaled event type.
func (r *Recorder) Start() {
	for _, typ := range []event.Type{
		event.TypeWalletConnected,
		event.TypePositionUpdated,
		event.TypeHealthFactorCritical,
	} {
		r.subs = append(r.subs, r.bus.Subscribe(typ, r.record))
	}
}

// Stop detaches the recorder from the bus.
func (r *Recorder) Stop() {
	for _, sub := range r.subs {
		r.bus.Unsubscribe(sub)
	}
	r.subs = nil
}

// record appends one event, retrying lost version races. A duplicate event id
// means the event is already journaled; that is success, not failure.
func (r *Recorder) record(ctx context.Context, ev event.Event) error {
	var err error
	for attempt := 0; attempt <= appendRetries; attempt++ {
		_, err = r.store.Append(ctx, ev)
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrDuplicateEvent) {
			r.logger.DebugContext(ctx, "event already journaled",
				slog.String("event_id", ev.ID),
				slog.String("type", string(ev.Type)),
			)
			return nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			break
		}
	}
	return fmt.Errorf("journal: append %s (%s): %w", ev.ID, ev.Type, err)
}
