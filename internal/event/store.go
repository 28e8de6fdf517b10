package event

import (
	"context"
	"time"
)

// ListOpts filters store-wide event queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// Store is the append-only durable event log. Rows are never updated or
// deleted through normal operation (retention archival is a separate,
// explicit path); the store is the source of truth for replaying an
// aggregate's history.
//
// Invariants every implementation must hold:
//   - Per aggregate, versions are contiguous starting at 1 — no gaps, no
//     duplicates. Append assigns the version and must serialize concurrent
//     appends to the same aggregate; a lost race surfaces as
//     domain.ErrVersionConflict and is retryable.
//   - Event IDs are unique store-wide. Re-appending a known ID surfaces as
//     domain.ErrDuplicateEvent without creating a new version.
type Store interface {
	// Append writes the event and returns it with Version populated.
	Append(ctx context.Context, ev Event) (Event, error)

	// Load returns an aggregate's full history in version order.
	Load(ctx context.Context, aggregateID string) ([]Event, error)

	// CurrentVersion returns the highest version for the aggregate, zero when
	// the aggregate has no events.
	CurrentVersion(ctx context.Context, aggregateID string) (int64, error)

	// ListByType returns events of one type across aggregates, ordered by
	// occurrence time.
	ListByType(ctx context.Context, typ Type, opts ListOpts) ([]Event, error)
}
