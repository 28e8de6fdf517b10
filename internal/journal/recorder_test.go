package journal

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liqwatch/liqwatch/internal/domain"
	"github.com/liqwatch/liqwatch/internal/event"
	"github.com/liqwatch/liqwatch/internal/store/memory"
)

func newRecorder(t *testing.T) (*Recorder, *event.Bus, *memory.EventStore) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	store := memory.NewEventStore()
	bus := event.NewBus(logger)
	r := NewRecorder(store, bus, logger)
	r.Start()
	t.Cleanup(r.Stop)
	return r, bus, store
}

func TestRecorderJournalsPublishedEvents(t *testing.T) {
	_, bus, store := newRecorder(t)
	ctx := context.Background()

	bus.Publish(ctx, event.NewWalletConnected("user-1", "0xabc"))
	bus.Publish(ctx, event.NewPositionUpdated(event.PositionUpdatedData{
		PositionID: "pos-1", UserID: "user-1", Protocol: "aave-v3", HealthFactor: 1.2,
	}))
	bus.Publish(ctx, event.NewHealthFactorCritical(event.HealthFactorCriticalData{
		PositionID: "pos-1", UserID: "user-1", HealthFactor: 1.2, Threshold: 1.5,
	}))

	history, err := store.Load(ctx, "pos-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(1), history[0].Version)
	assert.Equal(t, int64(2), history[1].Version)
	assert.Equal(t, event.TypePositionUpdated, history[0].Type)
	assert.Equal(t, event.TypeHealthFactorCritical, history[1].Type)

	userHistory, err := store.Load(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, userHistory, 1)
	assert.Equal(t, event.TypeWalletConnected, userHistory[0].Type)
}

func TestRecorderTreatsDuplicateAsJournaled(t *testing.T) {
	r, _, store := newRecorder(t)
	ctx := context.Background()

	ev := event.NewWalletConnected("user-1", "0xabc")
	require.NoError(t, r.record(ctx, ev))
	require.NoError(t, r.record(ctx, ev))

	history, err := store.Load(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestRecorderIndependentOfOtherSubscribers(t *testing.T) {
	_, bus, store := newRecorder(t)
	ctx := context.Background()

	// A failing consumer on the same type must not stop journaling.
	bus.Subscribe(event.TypePositionUpdated, func(ctx context.Context, ev event.Event) error {
		return errors.New("consumer down")
	})

	bus.Publish(ctx, event.NewPositionUpdated(event.PositionUpdatedData{
		PositionID: "pos-1", UserID: "user-1", Protocol: "aave-v3", HealthFactor: 1.4,
	}))

	history, err := store.Load(ctx, "pos-1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

// conflictStore fails the first appends with a version conflict to exercise
// the retry path.
type conflictStore struct {
	*memory.EventStore
	mu        sync.Mutex
	conflicts int
}

func (c *conflictStore) Append(ctx context.Context, ev event.Event) (event.Event, error) {
	c.mu.Lock()
	if c.conflicts > 0 {
		c.conflicts--
		c.mu.Unlock()
		return event.Event{}, domain.ErrVersionConflict
	}
	c.mu.Unlock()
	return c.EventStore.Append(ctx, ev)
}

func TestRecorderRetriesVersionConflicts(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	store := &conflictStore{EventStore: memory.NewEventStore(), conflicts: 2}
	bus := event.NewBus(logger)
	r := NewRecorder(store, bus, logger)

	require.NoError(t, r.record(context.Background(), event.NewWalletConnected("user-1", "0xabc")))

	history, err := store.Load(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestRecorderGivesUpAfterRetryBudget(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	store := &conflictStore{EventStore: memory.NewEventStore(), conflicts: 100}
	bus := event.NewBus(logger)
	r := NewRecorder(store, bus, logger)

	err := r.record(context.Background(), event.NewWalletConnected("user-1", "0xabc"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrVersionConflict)
}
