// Package memory implements the store contracts in process memory. It backs
// tests and database-less dry runs; the invariants are the same ones the
// postgres implementations enforce.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/liqwatch/liqwatch/internal/domain"
	"github.com/liqwatch/liqwatch/internal/event"
)

// EventStore is an in-memory append-only event log.
type EventStore struct {
	mu       sync.Mutex
	byAgg    map[string][]event.Event
	eventIDs map[string]struct{}
}

// NewEventStore creates an empty log.
func NewEventStore() *EventStore {
	return &EventStore{
		byAgg:    make(map[string][]event.Event),
		eventIDs: make(map[string]struct{}),
	}
}

// Append assigns the next contiguous version for the aggregate and stores the
// event. Duplicate event IDs are rejected with domain.ErrDuplicateEvent.
func (s *EventStore) Append(ctx context.Context, ev event.Event) (event.Event, error) {
	if ev.ID == "" || ev.AggregateID == "" {
		return event.Event{}, fmt.Errorf("memory: append: missing event or aggregate id: %w", domain.ErrDataIntegrity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.eventIDs[ev.ID]; dup {
		return event.Event{}, fmt.Errorf("memory: append event %s: %w", ev.ID, domain.ErrDuplicateEvent)
	}

	history := s.byAgg[ev.AggregateID]
	ev.Version = int64(len(history)) + 1
	s.byAgg[ev.AggregateID] = append(history, ev)
	s.eventIDs[ev.ID] = struct{}{}
	return ev, nil
}

// Load returns the aggregate's history in version order.
func (s *EventStore) Load(ctx context.Context, aggregateID string) ([]event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.byAgg[aggregateID]
	out := make([]event.Event, len(history))
	copy(out, history)
	return out, nil
}

// CurrentVersion returns the highest version for the aggregate, zero when the
// aggregate has no events.
func (s *EventStore) CurrentVersion(ctx context.Context, aggregateID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.byAgg[aggregateID])), nil
}

// ListByType returns events of one type across aggregates ordered by
// occurrence time.
func (s *EventStore) ListByType(ctx context.Context, typ event.Type, opts event.ListOpts) ([]event.Event, error) {
	s.mu.Lock()
	var out []event.Event
	for _, history := range s.byAgg {
		for _, ev := range history {
			if ev.Type != typ {
				continue
			}
			if opts.Since != nil && ev.OccurredAt.Before(*opts.Since) {
				continue
			}
			if opts.Until != nil && !ev.OccurredAt.Before(*opts.Until) {
				continue
			}
			out = append(out, ev)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

var _ event.Store = (*EventStore)(nil)
