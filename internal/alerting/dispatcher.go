// Package alerting turns HealthFactorCritical events into persisted alerts
// and outbound notifications.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/liqwatch/liqwatch/internal/domain"
	"github.com/liqwatch/liqwatch/internal/event"
	"github.com/liqwatch/liqwatch/internal/notify"
)

// DefaultCooldown is the minimum spacing between alerts to the same user. A
// position oscillating around the threshold re-crosses on every swing;
// without a cooldown that is a page per poll.
const DefaultCooldown = 15 * time.Minute

// Dispatcher consumes HealthFactorCritical events. For each one it resolves
// the user's channels, persists an Alert (the in-app channel), and fans the
// notification out to the external channels.
type Dispatcher struct {
	users    domain.UserStore
	alerts   domain.AlertStore
	notifier *notify.Notifier
	bus      *event.Bus
	cooldown time.Duration
	logger   *slog.Logger

	sub *event.Subscription
}

// NewDispatcher creates a Dispatcher. A non-positive cooldown falls back to
// DefaultCooldown.
func NewDispatcher(users domain.UserStore, alerts domain.AlertStore, notifier *notify.Notifier, bus *event.Bus, cooldown time.Duration, logger *slog.Logger) *Dispatcher {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Dispatcher{
		users:    users,
		alerts:   alerts,
		notifier: notifier,
		bus:      bus,
		cooldown: cooldown,
		logger:   logger.With(slog.String("component", "alert_dispatcher")),
	}
}

// Start subscribes the dispatcher to the bus.
func (d *Dispatcher) Start() {
	d.sub = d.bus.Subscribe(event.TypeHealthFactorCritical, d.handle)
}

// Stop detaches the dispatcher from the bus.
func (d *Dispatcher) Stop() {
	d.bus.Unsubscribe(d.sub)
	d.sub = nil
}

func (d *Dispatcher) handle(ctx context.Context, ev event.Event) error {
	data, ok := ev.Data.(event.HealthFactorCriticalData)
	if !ok {
		return fmt.Errorf("alerting: unexpected payload %T for %s", ev.Data, ev.Type)
	}

	user, err := d.resolveUser(ctx, data.UserID)
	if err != nil {
		return err
	}

	suppressed, err := d.inCooldown(ctx, data)
	if err != nil {
		return err
	}
	if suppressed {
		d.logger.DebugContext(ctx, "alert suppressed by cooldown",
			slog.String("position_id", data.PositionID),
			slog.String("user_id", data.UserID),
		)
		return nil
	}

	alert := domain.Alert{
		ID:           uuid.New().String(),
		UserID:       data.UserID,
		PositionID:   data.PositionID,
		Severity:     domain.AlertSeverityCritical,
		Title:        "Health factor critical",
		Message:      fmt.Sprintf("Position %s health factor dropped to %.4f (threshold %.2f). Add collateral or repay debt to avoid liquidation.", data.PositionID, data.HealthFactor, data.Threshold),
		HealthFactor: data.HealthFactor,
		Threshold:    data.Threshold,
		Channels:     user.Channels(),
		CreatedAt:    time.Now().UTC(),
	}

	if err := d.alerts.Create(ctx, alert); err != nil {
		return fmt.Errorf("alerting: persist alert %s: %w", alert.ID, err)
	}

	channels := externalChannels(alert.Channels)
	if len(channels) == 0 {
		return nil
	}
	if err := d.notifier.Notify(ctx, channels, alert.Title, alert.Message); err != nil {
		// The alert is already persisted; delivery failure is logged by the
		// notifier per sender and surfaced here for the bus error log.
		return fmt.Errorf("alerting: deliver alert %s: %w", alert.ID, err)
	}
	return nil
}

// resolveUser returns nil for events without a registered user; defaults
// apply then.
func (d *Dispatcher) resolveUser(ctx context.Context, userID string) (*domain.User, error) {
	if userID == "" {
		return nil, nil
	}
	user, err := d.users.FindByID(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("alerting: resolve user %s: %w", userID, err)
	}
	return &user, nil
}

// inCooldown checks the most recent persisted alert for the same user (or,
// for userless wallets, the same position) against the cooldown window.
func (d *Dispatcher) inCooldown(ctx context.Context, data event.HealthFactorCriticalData) (bool, error) {
	var (
		last domain.Alert
		err  error
	)
	if data.UserID != "" {
		var list []domain.Alert
		list, err = d.alerts.ListByUser(ctx, data.UserID, domain.ListOpts{Limit: 1})
		if err == nil && len(list) == 0 {
			return false, nil
		}
		if err == nil {
			last = list[0]
		}
	} else {
		last, err = d.alerts.LastForPosition(ctx, data.PositionID)
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
	}
	if err != nil {
		return false, fmt.Errorf("alerting: cooldown lookup for %s: %w", data.PositionID, err)
	}
	return time.Since(last.CreatedAt) < d.cooldown, nil
}

// externalChannels filters out in_app, which is served by the persisted alert
// itself.
func externalChannels(channels []domain.NotificationChannel) []string {
	var out []string
	for _, c := range channels {
		if c == domain.ChannelInApp {
			continue
		}
		out = append(out, string(c))
	}
	return out
}
