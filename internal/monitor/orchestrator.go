package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/liqwatch/liqwatch/internal/domain"
)

// WatchTarget names one (wallet, protocol) pair to monitor.
type WatchTarget struct {
	Wallet   string
	Protocol string
}

// Orchestrator runs a polling loop per watch target. Each loop checks its
// pair on a ticker and can be nudged to re-check immediately when a price
// feed reports a relevant move. A distributed lock per pair keeps multiple
// process instances from double-monitoring.
type Orchestrator struct {
	pipeline *Pipeline
	locks    domain.LockManager // optional
	targets  []WatchTarget
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	nudges []chan struct{}
}

// NewOrchestrator creates an Orchestrator. locks may be nil for
// single-instance deployments.
func NewOrchestrator(pipeline *Pipeline, locks domain.LockManager, targets []WatchTarget, interval time.Duration, logger *slog.Logger) *Orchestrator {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Orchestrator{
		pipeline: pipeline,
		locks:    locks,
		targets:  targets,
		interval: interval,
		logger:   logger.With(slog.String("component", "monitor_orchestrator")),
	}
}

// Nudge wakes every watch loop for an immediate re-check. Loops that are
// already mid-check or already have a pending nudge are not queued further.
func (o *Orchestrator) Nudge() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, ch := range o.nudges {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Run starts one goroutine per target using an errgroup and blocks until ctx
// is cancelled. Check failures are logged and retried on the next tick; only
// context cancellation ends a loop.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("monitor orchestrator starting",
		slog.Int("targets", len(o.targets)),
		slog.Duration("interval", o.interval),
	)

	g, ctx := errgroup.WithContext(ctx)

	for _, target := range o.targets {
		nudge := make(chan struct{}, 1)
		o.mu.Lock()
		o.nudges = append(o.nudges, nudge)
		o.mu.Unlock()

		g.Go(func() error {
			err := o.watch(ctx, target, nudge)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("watch %s/%s: %w", target.Wallet, target.Protocol, err)
		})
	}

	err := g.Wait()
	if err != nil {
		o.logger.Error("monitor orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}

	o.logger.Info("monitor orchestrator stopped cleanly")
	return nil
}

// watch is the per-pair loop: an immediate check on start, then one per tick
// or nudge.
func (o *Orchestrator) watch(ctx context.Context, target WatchTarget, nudge <-chan struct{}) error {
	o.check(ctx, target)

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			o.check(ctx, target)
		case <-nudge:
			o.check(ctx, target)
		}
	}
}

// check runs one pipeline cycle under the pair's distributed lock. A held
// lock means another instance owns the pair right now; skip quietly.
func (o *Orchestrator) check(ctx context.Context, target WatchTarget) {
	if o.locks != nil {
		unlock, err := o.locks.Acquire(ctx, target.Wallet, target.Protocol, 2*o.interval)
		if errors.Is(err, domain.ErrLockHeld) {
			o.logger.DebugContext(ctx, "pair locked by another instance",
				slog.String("wallet", target.Wallet),
				slog.String("protocol", target.Protocol),
			)
			return
		}
		if err != nil {
			o.logger.ErrorContext(ctx, "lock acquire failed",
				slog.String("wallet", target.Wallet),
				slog.String("error", err.Error()),
			)
			return
		}
		defer unlock()
	}

	if err := o.pipeline.CheckOnce(ctx, target.Wallet, target.Protocol); err != nil && ctx.Err() == nil {
		o.logger.ErrorContext(ctx, "check failed",
			slog.String("wallet", target.Wallet),
			slog.String("protocol", target.Protocol),
			slog.String("error", err.Error()),
		)
	}
}
