package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/liqwatch/liqwatch/internal/domain"
	"github.com/liqwatch/liqwatch/internal/event"
)

// EventStore implements event.Store on PostgreSQL. Versions are assigned
// inside the append transaction from max(version)+1; a per-aggregate mutex
// serializes appends from this process, and the unique (aggregate_id, version)
// index catches races across processes, surfacing them as
// domain.ErrVersionConflict for the caller to retry.
type EventStore struct {
	pool *pgxpool.Pool

	mu       sync.Mutex
	appendMu map[string]*sync.Mutex
}

// NewEventStore creates an EventStore backed by the given pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{
		pool:     pool,
		appendMu: make(map[string]*sync.Mutex),
	}
}

func (s *EventStore) aggregateLock(aggregateID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.appendMu[aggregateID]
	if !ok {
		m = &sync.Mutex{}
		s.appendMu[aggregateID] = m
	}
	return m
}

// Append writes the event with the next contiguous version for its aggregate
// and returns the stored copy with Version set.
func (s *EventStore) Append(ctx context.Context, ev event.Event) (event.Event, error) {
	if ev.ID == "" || ev.AggregateID == "" {
		return event.Event{}, fmt.Errorf("postgres: append: missing event or aggregate id: %w", domain.ErrDataIntegrity)
	}

	data, err := event.EncodeData(ev.Data)
	if err != nil {
		return event.Event{}, fmt.Errorf("postgres: append %s: %w", ev.ID, err)
	}
	var metadata []byte
	if ev.Metadata != nil {
		metadata, err = json.Marshal(ev.Metadata)
		if err != nil {
			return event.Event{}, fmt.Errorf("postgres: append %s: encode metadata: %w", ev.ID, err)
		}
	}

	lock := s.aggregateLock(ev.AggregateID)
	lock.Lock()
	defer lock.Unlock()

	const query = `
		INSERT INTO event_store (
			event_id, event_type, aggregate_id, aggregate_type,
			data, metadata, version, occurred_at
		)
		SELECT $1, $2, $3, $4, $5, $6,
			COALESCE(MAX(version), 0) + 1, $7
		FROM event_store WHERE aggregate_id = $3
		RETURNING version`

	var version int64
	err = s.pool.QueryRow(ctx, query,
		ev.ID, string(ev.Type), ev.AggregateID, string(ev.AggregateType),
		data, metadata, ev.OccurredAt,
	).Scan(&version)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			switch pgErr.ConstraintName {
			case "event_store_event_id_idx":
				return event.Event{}, fmt.Errorf("postgres: append event %s: %w", ev.ID, domain.ErrDuplicateEvent)
			case "event_store_aggregate_version_idx":
				return event.Event{}, fmt.Errorf("postgres: append event %s: %w", ev.ID, domain.ErrVersionConflict)
			}
		}
		return event.Event{}, fmt.Errorf("postgres: append event %s: %w", ev.ID, err)
	}

	ev.Version = version
	return ev, nil
}

const eventSelectCols = `event_id, event_type, aggregate_id, aggregate_type,
	data, metadata, version, occurred_at`

func scanEvent(row pgx.Row) (event.Event, error) {
	var (
		ev          event.Event
		typ, aggTyp string
		dataRaw     []byte
		metadataRaw []byte
	)
	err := row.Scan(&ev.ID, &typ, &ev.AggregateID, &aggTyp, &dataRaw, &metadataRaw, &ev.Version, &ev.OccurredAt)
	if err != nil {
		return event.Event{}, err
	}
	ev.Type = event.Type(typ)
	ev.AggregateType = event.AggregateType(aggTyp)

	ev.Data, err = event.DecodeData(ev.Type, dataRaw)
	if err != nil {
		return event.Event{}, fmt.Errorf("postgres: %w: %w", err, domain.ErrDataIntegrity)
	}
	if len(metadataRaw) > 0 {
		var md event.Metadata
		if err := json.Unmarshal(metadataRaw, &md); err != nil {
			return event.Event{}, fmt.Errorf("postgres: decode metadata for event %s: %w", ev.ID, domain.ErrDataIntegrity)
		}
		ev.Metadata = &md
	}
	return ev, nil
}

func collectEvents(rows pgx.Rows) ([]event.Event, error) {
	defer rows.Close()
	var out []event.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Load returns the aggregate's history in version order.
func (s *EventStore) Load(ctx context.Context, aggregateID string) ([]event.Event, error) {
	query := `SELECT ` + eventSelectCols + ` FROM event_store WHERE aggregate_id = $1 ORDER BY version`
	rows, err := s.pool.Query(ctx, query, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("postgres: load aggregate %s: %w", aggregateID, err)
	}
	return collectEvents(rows)
}

// CurrentVersion returns the highest version for the aggregate, zero when the
// aggregate has no events.
func (s *EventStore) CurrentVersion(ctx context.Context, aggregateID string) (int64, error) {
	var version int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM event_store WHERE aggregate_id = $1`,
		aggregateID,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("postgres: current version for %s: %w", aggregateID, err)
	}
	return version, nil
}

// ListByType returns events of one type across aggregates ordered by
// occurrence time.
func (s *EventStore) ListByType(ctx context.Context, typ event.Type, opts event.ListOpts) ([]event.Event, error) {
	query := `SELECT ` + eventSelectCols + ` FROM event_store WHERE event_type = $1`
	args := []any{string(typ)}

	if opts.Since != nil {
		args = append(args, *opts.Since)
		query += fmt.Sprintf(" AND occurred_at >= $%d", len(args))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		query += fmt.Sprintf(" AND occurred_at < $%d", len(args))
	}
	query += " ORDER BY occurred_at"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events of type %s: %w", typ, err)
	}
	return collectEvents(rows)
}

var _ event.Store = (*EventStore)(nil)
