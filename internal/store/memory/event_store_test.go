package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liqwatch/liqwatch/internal/domain"
	"github.com/liqwatch/liqwatch/internal/event"
)

func TestAppendAssignsContiguousVersions(t *testing.T) {
	store := NewEventStore()
	ctx := context.Background()

	const n = 10
	for i := 0; i < n; i++ {
		ev := event.NewPositionUpdated(event.PositionUpdatedData{PositionID: "pos-1"})
		stored, err := store.Append(ctx, ev)
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), stored.Version)
	}

	history, err := store.Load(ctx, "pos-1")
	require.NoError(t, err)
	require.Len(t, history, n)
	for i, ev := range history {
		assert.Equal(t, int64(i+1), ev.Version, "versions must be 1..N with no gaps")
	}

	current, err := store.CurrentVersion(ctx, "pos-1")
	require.NoError(t, err)
	assert.Equal(t, int64(n), current)
}

func TestVersionsAreIndependentPerAggregate(t *testing.T) {
	store := NewEventStore()
	ctx := context.Background()

	a, err := store.Append(ctx, event.NewPositionUpdated(event.PositionUpdatedData{PositionID: "pos-a"}))
	require.NoError(t, err)
	b, err := store.Append(ctx, event.NewPositionUpdated(event.PositionUpdatedData{PositionID: "pos-b"}))
	require.NoError(t, err)

	assert.Equal(t, int64(1), a.Version)
	assert.Equal(t, int64(1), b.Version)
}

func TestDuplicateEventIDRejected(t *testing.T) {
	store := NewEventStore()
	ctx := context.Background()

	ev := event.NewHealthFactorCritical(event.HealthFactorCriticalData{
		PositionID: "pos-1", UserID: "u1", HealthFactor: 1.2, Threshold: 1.5,
	})

	_, err := store.Append(ctx, ev)
	require.NoError(t, err)

	// Redelivery of the same event id must be detected and rejected without
	// creating a new version.
	_, err = store.Append(ctx, ev)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDuplicateEvent))

	current, err := store.CurrentVersion(ctx, "pos-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), current)
}

func TestConcurrentAppendsKeepVersionsContiguous(t *testing.T) {
	store := NewEventStore()
	ctx := context.Background()

	const n = 64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Append(ctx, event.NewPositionUpdated(event.PositionUpdatedData{PositionID: "pos-1"}))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	history, err := store.Load(ctx, "pos-1")
	require.NoError(t, err)
	require.Len(t, history, n)

	seen := make(map[int64]bool, n)
	for _, ev := range history {
		assert.False(t, seen[ev.Version], "duplicate version %d", ev.Version)
		seen[ev.Version] = true
	}
	for v := int64(1); v <= n; v++ {
		assert.True(t, seen[v], "missing version %d", v)
	}
}

func TestListByType(t *testing.T) {
	store := NewEventStore()
	ctx := context.Background()

	_, err := store.Append(ctx, event.NewWalletConnected("u1", "0xabc"))
	require.NoError(t, err)
	_, err = store.Append(ctx, event.NewPositionUpdated(event.PositionUpdatedData{PositionID: "pos-1"}))
	require.NoError(t, err)
	_, err = store.Append(ctx, event.NewPositionUpdated(event.PositionUpdatedData{PositionID: "pos-2"}))
	require.NoError(t, err)

	updated, err := store.ListByType(ctx, event.TypePositionUpdated, event.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, updated, 2)

	connected, err := store.ListByType(ctx, event.TypeWalletConnected, event.ListOpts{Limit: 5})
	require.NoError(t, err)
	require.Len(t, connected, 1)
	assert.Equal(t, "u1", connected[0].AggregateID)
}
