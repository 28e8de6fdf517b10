package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/liqwatch/liqwatch/internal/domain"
	"github.com/liqwatch/liqwatch/internal/event"
	"github.com/liqwatch/liqwatch/internal/platform"
)

// Pipeline runs one monitoring check for a (wallet, protocol) pair: fetch the
// current position from the adapter, diff it against the previous snapshot,
// persist the new one, and publish events for material changes.
type Pipeline struct {
	registry  *platform.Registry
	positions domain.PositionStore
	users     domain.UserStore
	cache     domain.SnapshotCache // optional
	bus       *event.Bus
	detector  ChangeDetector

	fetchTimeout time.Duration
	logger       *slog.Logger
}

// NewPipeline creates a Pipeline. cache may be nil, in which case the
// previous snapshot always comes from the position store.
func NewPipeline(
	registry *platform.Registry,
	positions domain.PositionStore,
	users domain.UserStore,
	cache domain.SnapshotCache,
	bus *event.Bus,
	detector ChangeDetector,
	fetchTimeout time.Duration,
	logger *slog.Logger,
) *Pipeline {
	if fetchTimeout <= 0 {
		fetchTimeout = 30 * time.Second
	}
	return &Pipeline{
		registry:     registry,
		positions:    positions,
		users:        users,
		cache:        cache,
		bus:          bus,
		detector:     detector,
		fetchTimeout: fetchTimeout,
		logger:       logger.With(slog.String("component", "monitor_pipeline")),
	}
}

// CheckOnce performs a single fetch-diff-publish cycle for the pair. Adapter
// failures are returned to the caller; the previously stored snapshot is left
// untouched so a transient outage never looks like a position change.
func (p *Pipeline) CheckOnce(ctx context.Context, wallet, protocol string) error {
	adapter, err := p.registry.Get(protocol)
	if err != nil {
		return fmt.Errorf("monitor: check %s/%s: %w", wallet, protocol, err)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
	next, err := adapter.GetPosition(fetchCtx, wallet)
	cancel()
	if err != nil {
		return fmt.Errorf("monitor: check %s/%s: %w", wallet, protocol, err)
	}
	if next == nil {
		// Nothing open on this protocol. Drop any cached snapshot so a
		// re-opened position later counts as a first observation.
		if p.cache != nil {
			if err := p.cache.Invalidate(ctx, wallet, protocol); err != nil {
				p.logger.WarnContext(ctx, "cache invalidate failed",
					slog.String("wallet", wallet),
					slog.String("protocol", protocol),
					slog.String("error", err.Error()),
				)
			}
		}
		return nil
	}

	user, err := p.resolveUser(ctx, wallet)
	if err != nil {
		return err
	}
	if user != nil {
		next.UserID = user.ID
	}

	prev, err := p.previousSnapshot(ctx, wallet, protocol)
	if err != nil {
		return err
	}

	material, err := p.detector.Material(prev, next)
	if err != nil {
		return fmt.Errorf("monitor: diff %s/%s: %w", wallet, protocol, err)
	}
	if !material {
		// Dead-band snapshots are dropped entirely; the diff baseline stays
		// on the last stored snapshot so slow drifts accumulate until they
		// clear epsilon.
		p.logger.DebugContext(ctx, "no material change",
			slog.String("wallet", wallet),
			slog.String("protocol", protocol),
		)
		return nil
	}

	if err := p.positions.Save(ctx, *next); err != nil {
		return fmt.Errorf("monitor: save snapshot %s: %w", next.ID, err)
	}
	if p.cache != nil {
		if err := p.cache.Set(ctx, *next); err != nil {
			p.logger.WarnContext(ctx, "cache set failed",
				slog.String("wallet", wallet),
				slog.String("error", err.Error()),
			)
		}
	}

	return p.publish(ctx, user, prev, next)
}

// publish emits PositionUpdated and, on a downward threshold crossing,
// HealthFactorCritical caused by it.
func (p *Pipeline) publish(ctx context.Context, user *domain.User, prev, next *domain.Position) error {
	collateral, err := next.TotalCollateralUSD()
	if err != nil {
		return err
	}
	debt, err := next.TotalDebtUSD()
	if err != nil {
		return err
	}

	var liqPrice *float64
	lp, err := next.EstimateLiquidationPrice()
	switch {
	case err != nil:
		// The snapshot's core figures already validated; a bad threshold in
		// metadata degrades the event to no estimate, but never silently.
		p.logger.WarnContext(ctx, "liquidation price estimate failed",
			slog.String("position_id", next.ID),
			slog.String("error", err.Error()),
		)
	case lp != nil:
		v := lp.InexactFloat64()
		liqPrice = &v
	}

	hf, _ := next.HealthFactorValue()
	updated := event.NewPositionUpdated(event.PositionUpdatedData{
		PositionID:       next.ID,
		UserID:           next.UserID,
		Protocol:         next.Protocol,
		HealthFactor:     hf,
		CollateralUSD:    collateral.InexactFloat64(),
		BorrowedUSD:      debt.InexactFloat64(),
		LiquidationPrice: liqPrice,
	}).WithMetadata(event.Metadata{CorrelationID: next.ID})
	p.bus.Publish(ctx, updated)

	threshold := user.HealthFactorThreshold()
	if CrossedBelow(prev, next, threshold) {
		critical := event.NewHealthFactorCritical(event.HealthFactorCriticalData{
			PositionID:   next.ID,
			UserID:       next.UserID,
			HealthFactor: hf,
			Threshold:    threshold,
		}).WithMetadata(event.Metadata{CorrelationID: next.ID, CausationID: updated.ID})
		p.logger.WarnContext(ctx, "health factor crossed threshold",
			slog.String("position_id", next.ID),
			slog.String("wallet", next.WalletAddress),
			slog.Float64("health_factor", hf),
			slog.Float64("threshold", threshold),
		)
		p.bus.Publish(ctx, critical)
	}
	return nil
}

// resolveUser maps the wallet to its owning user. A wallet monitored without
// a registered user is fine; thresholds then fall back to defaults.
func (p *Pipeline) resolveUser(ctx context.Context, wallet string) (*domain.User, error) {
	user, err := p.users.FindByWalletAddress(ctx, wallet)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("monitor: resolve user for %s: %w", wallet, err)
	}
	return &user, nil
}

// previousSnapshot prefers the cache and falls back to the store. Both
// missing means this is the pair's first observation.
func (p *Pipeline) previousSnapshot(ctx context.Context, wallet, protocol string) (*domain.Position, error) {
	if p.cache != nil {
		pos, err := p.cache.Get(ctx, wallet, protocol)
		if err == nil {
			return &pos, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			p.logger.WarnContext(ctx, "cache get failed",
				slog.String("wallet", wallet),
				slog.String("error", err.Error()),
			)
		}
	}

	pos, err := p.positions.FindLatestByWalletAndProtocol(ctx, wallet, protocol)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("monitor: load previous snapshot %s/%s: %w", wallet, protocol, err)
	}
	return &pos, nil
}
