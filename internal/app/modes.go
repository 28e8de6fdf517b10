package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/liqwatch/liqwatch/internal/alerting"
	"github.com/liqwatch/liqwatch/internal/domain"
	"github.com/liqwatch/liqwatch/internal/event"
	"github.com/liqwatch/liqwatch/internal/feed"
	"github.com/liqwatch/liqwatch/internal/journal"
	"github.com/liqwatch/liqwatch/internal/monitor"
)

// MonitorMode starts the full monitoring pipeline: the event journal, the
// alert dispatcher, the polling orchestrator, and optionally the exchange
// price feed and the background archiver.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode",
		slog.Int("watch_targets", len(a.cfg.Monitor.Watch)),
	)

	g, ctx := errgroup.WithContext(ctx)

	// Journal first so no published event is ever missed.
	recorder := journal.NewRecorder(deps.Events, deps.Bus, a.logger)
	recorder.Start()
	defer recorder.Stop()

	dispatcher := alerting.NewDispatcher(
		deps.Users, deps.Alerts, deps.Notifier, deps.Bus,
		a.cfg.Alerting.Cooldown.Duration, a.logger,
	)
	dispatcher.Start()
	defer dispatcher.Stop()

	a.registerWatchedWallets(ctx, deps)

	pipe := monitor.NewPipeline(
		deps.Registry, deps.Positions, deps.Users, deps.Cache, deps.Bus,
		monitor.NewChangeDetector(a.cfg.Monitor.Epsilon),
		a.cfg.Monitor.FetchTimeout.Duration,
		a.logger,
	)

	targets := make([]monitor.WatchTarget, 0, len(a.cfg.Monitor.Watch))
	for _, w := range a.cfg.Monitor.Watch {
		targets = append(targets, monitor.WatchTarget{Wallet: w.Wallet, Protocol: w.Protocol})
	}

	orch := monitor.NewOrchestrator(pipe, deps.Locks, targets, a.cfg.Monitor.Interval.Duration, a.logger)
	g.Go(func() error {
		return orch.Run(ctx)
	})

	// Exchange price feed: big moves nudge every watch loop to re-check
	// immediately instead of waiting for the next tick.
	if a.cfg.PriceFeed.Enabled {
		pf := feed.NewPriceFeed(
			a.cfg.PriceFeed.WsURL,
			a.cfg.PriceFeed.Products,
			a.cfg.PriceFeed.MovePct,
			func(ctx context.Context, symbol string, changePct float64) {
				a.logger.InfoContext(ctx, "significant price move, nudging checks",
					slog.String("symbol", symbol),
					slog.Float64("change_pct", changePct),
				)
				orch.Nudge()
			},
			a.logger,
		)
		g.Go(func() error {
			defer pf.Close()
			err := pf.Run(ctx)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return err
		})
	}

	// Background archiver.
	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
		g.Go(func() error {
			err := deps.Archiver.Run(ctx, a.cfg.Archive.Interval.Duration, retention)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return err
		})
	}

	return g.Wait()
}

// registerWatchedWallets ensures every configured watch wallet has a user
// record, creating a default one and emitting WalletConnected for wallets
// seen for the first time. Failures here are logged, not fatal: monitoring
// works for unregistered wallets too, with default thresholds.
func (a *App) registerWatchedWallets(ctx context.Context, deps *Dependencies) {
	for _, w := range a.cfg.Monitor.Watch {
		_, err := deps.Users.FindByWalletAddress(ctx, w.Wallet)
		if err == nil {
			continue
		}
		if !errors.Is(err, domain.ErrNotFound) {
			a.logger.WarnContext(ctx, "wallet registration lookup failed",
				slog.String("wallet", w.Wallet),
				slog.String("error", err.Error()),
			)
			continue
		}

		now := time.Now().UTC()
		u := domain.User{
			ID:            uuid.New().String(),
			WalletAddress: w.Wallet,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := deps.Users.Save(ctx, u); err != nil {
			a.logger.WarnContext(ctx, "wallet registration failed",
				slog.String("wallet", w.Wallet),
				slog.String("error", err.Error()),
			)
			continue
		}

		deps.Bus.Publish(ctx, event.NewWalletConnected(u.ID, w.Wallet))
		a.logger.InfoContext(ctx, "wallet registered for monitoring",
			slog.String("wallet", w.Wallet),
			slog.String("user_id", u.ID),
		)
	}
}

// ReplayMode walks the event journal in order and rebuilds the current view
// of every monitored position from its history, logging a summary. It is a
// read-only consistency check: the journal is the source of truth, and replay
// verifies that it tells a coherent story.
func (a *App) ReplayMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting replay mode")

	const pageSize = 500

	type positionView struct {
		userID       string
		protocol     string
		healthFactor float64
		updates      int
		lastSeen     time.Time
	}
	views := make(map[string]*positionView)

	var total int
	for offset := 0; ; offset += pageSize {
		evs, err := deps.Events.ListByType(ctx, event.TypePositionUpdated, event.ListOpts{
			Limit:  pageSize,
			Offset: offset,
		})
		if err != nil {
			return fmt.Errorf("replay mode: list events: %w", err)
		}
		for _, ev := range evs {
			data, ok := ev.Data.(event.PositionUpdatedData)
			if !ok {
				a.logger.WarnContext(ctx, "replay: unexpected payload shape",
					slog.String("event_id", ev.ID),
				)
				continue
			}
			v := views[ev.AggregateID]
			if v == nil {
				v = &positionView{}
				views[ev.AggregateID] = v
			}
			v.userID = data.UserID
			v.protocol = data.Protocol
			v.healthFactor = data.HealthFactor
			v.updates++
			v.lastSeen = ev.OccurredAt
		}
		total += len(evs)
		if len(evs) < pageSize {
			break
		}
	}

	criticals, err := deps.Events.ListByType(ctx, event.TypeHealthFactorCritical, event.ListOpts{})
	if err != nil {
		return fmt.Errorf("replay mode: list critical events: %w", err)
	}

	for id, v := range views {
		a.logger.InfoContext(ctx, "replayed position",
			slog.String("position_id", id),
			slog.String("protocol", v.protocol),
			slog.String("user_id", v.userID),
			slog.Float64("health_factor", v.healthFactor),
			slog.Int("updates", v.updates),
			slog.Time("last_seen", v.lastSeen),
		)
	}

	a.logger.InfoContext(ctx, "replay complete",
		slog.Int("position_updates", total),
		slog.Int("positions", len(views)),
		slog.Int("critical_events", len(criticals)),
	)
	return nil
}

// ArchiveMode runs a single archival pass and exits.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return fmt.Errorf("archive mode: object storage is not wired")
	}

	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
	a.logger.InfoContext(ctx, "starting archive mode",
		slog.Duration("retention", retention),
	)

	if err := deps.Archiver.RunOnce(ctx, retention); err != nil {
		return fmt.Errorf("archive mode: %w", err)
	}
	return nil
}
