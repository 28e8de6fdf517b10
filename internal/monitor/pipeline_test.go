package monitor

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liqwatch/liqwatch/internal/domain"
	"github.com/liqwatch/liqwatch/internal/event"
	"github.com/liqwatch/liqwatch/internal/platform"
	"github.com/liqwatch/liqwatch/internal/store/memory"
)

// stubAdapter serves a scripted sequence of snapshots.
type stubAdapter struct {
	name string
	next *domain.Position
	err  error
}

func (s *stubAdapter) Name() string { return s.name }

func (s *stubAdapter) GetPosition(ctx context.Context, wallet string) (*domain.Position, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.next == nil {
		return nil, nil
	}
	cp := *s.next
	return &cp, nil
}

func (s *stubAdapter) SimulatePriceChange(ctx context.Context, pos *domain.Position, assetSymbol string, percentChange float64) (float64, error) {
	return 0, nil
}
func (s *stubAdapter) SimulateDeposit(ctx context.Context, pos *domain.Position, assetSymbol string, amountUSD float64) (float64, error) {
	return 0, nil
}
func (s *stubAdapter) SimulateWithdraw(ctx context.Context, pos *domain.Position, assetSymbol string, amountUSD float64) (float64, error) {
	return 0, nil
}
func (s *stubAdapter) SimulateBorrow(ctx context.Context, pos *domain.Position, assetSymbol string, amountUSD float64) (float64, error) {
	return 0, nil
}
func (s *stubAdapter) SimulateRepay(ctx context.Context, pos *domain.Position, assetSymbol string, amountUSD float64) (float64, error) {
	return 0, nil
}

type capture struct {
	updated  []event.Event
	critical []event.Event
}

func newCapture(bus *event.Bus) *capture {
	c := &capture{}
	bus.Subscribe(event.TypePositionUpdated, func(ctx context.Context, ev event.Event) error {
		c.updated = append(c.updated, ev)
		return nil
	})
	bus.Subscribe(event.TypeHealthFactorCritical, func(ctx context.Context, ev event.Event) error {
		c.critical = append(c.critical, ev)
		return nil
	})
	return c
}

const testWallet = "0x1111111111111111111111111111111111111111"

func testPipeline(t *testing.T, adapter *stubAdapter) (*Pipeline, *memory.PositionStore, *capture) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	registry := platform.NewRegistry()
	registry.Register(adapter)

	positions := memory.NewPositionStore()
	users := memory.NewUserStore()
	require.NoError(t, users.Save(context.Background(), domain.User{
		ID:            "user-1",
		WalletAddress: testWallet,
		CreatedAt:     time.Now().UTC(),
	}))

	bus := event.NewBus(logger)
	cap := newCapture(bus)

	p := NewPipeline(registry, positions, users, nil, bus, NewChangeDetector(0), 5*time.Second, logger)
	return p, positions, cap
}

func TestCheckOnceThresholdCrossing(t *testing.T) {
	adapter := &stubAdapter{name: "aave-v3"}
	p, positions, cap := testPipeline(t, adapter)
	ctx := context.Background()

	// First observation: healthy.
	adapter.next = snapshot("snap-1", hfp(1.6), "6000", "1000")
	require.NoError(t, p.CheckOnce(ctx, testWallet, "aave-v3"))

	require.Len(t, cap.updated, 1)
	assert.Empty(t, cap.critical)

	// Health factor drops through the default 1.5 threshold: exactly one
	// update and one critical event.
	adapter.next = snapshot("snap-2", hfp(1.2), "4500", "1000")
	require.NoError(t, p.CheckOnce(ctx, testWallet, "aave-v3"))

	require.Len(t, cap.updated, 2)
	require.Len(t, cap.critical, 1)

	data, ok := cap.critical[0].Data.(event.HealthFactorCriticalData)
	require.True(t, ok)
	assert.Equal(t, "snap-2", data.PositionID)
	assert.Equal(t, "user-1", data.UserID)
	assert.InDelta(t, 1.2, data.HealthFactor, 1e-9)
	assert.InDelta(t, 1.5, data.Threshold, 1e-9)

	// The critical event is caused by the update that carried the change.
	require.NotNil(t, cap.critical[0].Metadata)
	assert.Equal(t, cap.updated[1].ID, cap.critical[0].Metadata.CausationID)

	// Still below the threshold on the next poll: no re-trigger.
	adapter.next = snapshot("snap-3", hfp(1.1), "4100", "1000")
	require.NoError(t, p.CheckOnce(ctx, testWallet, "aave-v3"))

	require.Len(t, cap.updated, 3)
	assert.Len(t, cap.critical, 1)

	latest, err := positions.FindLatestByWalletAndProtocol(ctx, testWallet, "aave-v3")
	require.NoError(t, err)
	assert.Equal(t, "snap-3", latest.ID)
	assert.Equal(t, "user-1", latest.UserID)
}

func TestCheckOnceLiquidationPriceEstimate(t *testing.T) {
	adapter := &stubAdapter{name: "aave-v3"}
	p, _, cap := testPipeline(t, adapter)
	ctx := context.Background()

	// Single-collateral position with a known threshold: 1000 / (1 * 0.8).
	pos := snapshot("snap-1", hfp(1.6), "6000", "1000")
	pos.Metadata = &domain.PositionMetadata{LiquidationThreshold: "0.8"}
	adapter.next = pos
	require.NoError(t, p.CheckOnce(ctx, testWallet, "aave-v3"))

	require.Len(t, cap.updated, 1)
	data, ok := cap.updated[0].Data.(event.PositionUpdatedData)
	require.True(t, ok)
	require.NotNil(t, data.LiquidationPrice)
	assert.InDelta(t, 1250, *data.LiquidationPrice, 1e-9)

	// A malformed threshold degrades to no estimate; the update still flows.
	pos = snapshot("snap-2", hfp(1.3), "5000", "1000")
	pos.Metadata = &domain.PositionMetadata{LiquidationThreshold: "eighty percent"}
	adapter.next = pos
	require.NoError(t, p.CheckOnce(ctx, testWallet, "aave-v3"))

	require.Len(t, cap.updated, 2)
	data, ok = cap.updated[1].Data.(event.PositionUpdatedData)
	require.True(t, ok)
	assert.Nil(t, data.LiquidationPrice)
}

func TestCheckOnceNoMaterialChange(t *testing.T) {
	adapter := &stubAdapter{name: "aave-v3"}
	p, positions, cap := testPipeline(t, adapter)
	ctx := context.Background()

	adapter.next = snapshot("snap-1", hfp(1.6), "6000", "1000")
	require.NoError(t, p.CheckOnce(ctx, testWallet, "aave-v3"))

	// Identical figures under a fresh snapshot id: no events, and the
	// dead-band snapshot is not stored.
	adapter.next = snapshot("snap-2", hfp(1.6), "6000", "1000")
	require.NoError(t, p.CheckOnce(ctx, testWallet, "aave-v3"))

	assert.Len(t, cap.updated, 1)
	assert.Empty(t, cap.critical)

	latest, err := positions.FindLatestByWalletAndProtocol(ctx, testWallet, "aave-v3")
	require.NoError(t, err)
	assert.Equal(t, "snap-1", latest.ID)
}

func TestCheckOnceAdapterFailureKeepsHistory(t *testing.T) {
	adapter := &stubAdapter{name: "aave-v3"}
	p, positions, cap := testPipeline(t, adapter)
	ctx := context.Background()

	adapter.next = snapshot("snap-1", hfp(1.6), "6000", "1000")
	require.NoError(t, p.CheckOnce(ctx, testWallet, "aave-v3"))

	adapter.err = domain.ErrDataSourceUnavailable
	err := p.CheckOnce(ctx, testWallet, "aave-v3")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDataSourceUnavailable))

	// The outage neither publishes nor disturbs the stored snapshot.
	assert.Len(t, cap.updated, 1)
	latest, err := positions.FindLatestByWalletAndProtocol(ctx, testWallet, "aave-v3")
	require.NoError(t, err)
	assert.Equal(t, "snap-1", latest.ID)
}

func TestCheckOnceNoOpenPosition(t *testing.T) {
	adapter := &stubAdapter{name: "aave-v3"}
	p, _, cap := testPipeline(t, adapter)

	adapter.next = nil
	require.NoError(t, p.CheckOnce(context.Background(), testWallet, "aave-v3"))
	assert.Empty(t, cap.updated)
}

func TestCheckOnceUnknownProtocol(t *testing.T) {
	adapter := &stubAdapter{name: "aave-v3"}
	p, _, _ := testPipeline(t, adapter)

	err := p.CheckOnce(context.Background(), testWallet, "compound-v3")
	require.Error(t, err)
}

func TestCheckOnceUnregisteredWalletUsesDefaults(t *testing.T) {
	adapter := &stubAdapter{name: "aave-v3"}
	p, _, cap := testPipeline(t, adapter)
	ctx := context.Background()

	// A wallet nobody registered still gets monitored with the default
	// threshold.
	const stray = "0x2222222222222222222222222222222222222222"
	pos := snapshot("snap-1", hfp(1.2), "4500", "1000")
	pos.UserID = ""
	pos.WalletAddress = stray
	adapter.next = pos

	require.NoError(t, p.CheckOnce(ctx, stray, "aave-v3"))
	require.Len(t, cap.critical, 1)
	data := cap.critical[0].Data.(event.HealthFactorCriticalData)
	assert.Empty(t, data.UserID)
	assert.InDelta(t, domain.DefaultRiskThreshold, data.Threshold, 1e-9)
}
