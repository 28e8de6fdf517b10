package alerting

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liqwatch/liqwatch/internal/domain"
	"github.com/liqwatch/liqwatch/internal/event"
	"github.com/liqwatch/liqwatch/internal/notify"
	"github.com/liqwatch/liqwatch/internal/store/memory"
)

// recordingSender captures deliveries per channel.
type recordingSender struct {
	name string
	err  error

	mu   sync.Mutex
	sent []string
}

func (s *recordingSender) Send(ctx context.Context, title, message string) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, title)
	return nil
}

func (s *recordingSender) Name() string { return s.name }

type fixture struct {
	bus      *event.Bus
	users    *memory.UserStore
	alerts   *memory.AlertStore
	telegram *recordingSender
	email    *recordingSender
}

func newFixture(t *testing.T, cooldown time.Duration) *fixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	f := &fixture{
		bus:      event.NewBus(logger),
		users:    memory.NewUserStore(),
		alerts:   memory.NewAlertStore(),
		telegram: &recordingSender{name: "telegram"},
		email:    &recordingSender{name: "email"},
	}
	notifier := notify.NewNotifier([]notify.Sender{f.telegram, f.email}, logger)

	d := NewDispatcher(f.users, f.alerts, notifier, f.bus, cooldown, logger)
	d.Start()
	t.Cleanup(d.Stop)
	return f
}

func criticalEvent(userID string) event.Event {
	return event.NewHealthFactorCritical(event.HealthFactorCriticalData{
		PositionID:   "pos-1",
		UserID:       userID,
		HealthFactor: 1.2,
		Threshold:    1.5,
	})
}

func TestDispatcherPersistsAndDelivers(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, f.users.Save(ctx, domain.User{
		ID: "user-1",
		Preferences: &domain.UserPreferences{
			NotificationChannels: []domain.NotificationChannel{domain.ChannelTelegram, domain.ChannelInApp},
		},
		CreatedAt: time.Now().UTC(),
	}))

	f.bus.Publish(ctx, criticalEvent("user-1"))

	alerts, err := f.alerts.ListByUser(ctx, "user-1", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.AlertSeverityCritical, alerts[0].Severity)
	assert.Equal(t, "pos-1", alerts[0].PositionID)
	assert.InDelta(t, 1.2, alerts[0].HealthFactor, 1e-9)
	assert.InDelta(t, 1.5, alerts[0].Threshold, 1e-9)

	// Telegram enabled, email not.
	assert.Len(t, f.telegram.sent, 1)
	assert.Empty(t, f.email.sent)
}

func TestDispatcherCooldownSuppressesRepeats(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, f.users.Save(ctx, domain.User{
		ID: "user-1",
		Preferences: &domain.UserPreferences{
			NotificationChannels: []domain.NotificationChannel{domain.ChannelTelegram},
		},
		CreatedAt: time.Now().UTC(),
	}))

	f.bus.Publish(ctx, criticalEvent("user-1"))
	f.bus.Publish(ctx, criticalEvent("user-1"))

	alerts, err := f.alerts.ListByUser(ctx, "user-1", domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
	assert.Len(t, f.telegram.sent, 1)
}

func TestDispatcherCooldownExpiry(t *testing.T) {
	f := newFixture(t, 10*time.Millisecond)
	ctx := context.Background()

	f.bus.Publish(ctx, criticalEvent("user-1"))
	time.Sleep(20 * time.Millisecond)
	f.bus.Publish(ctx, criticalEvent("user-1"))

	alerts, err := f.alerts.ListByUser(ctx, "user-1", domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, alerts, 2)
}

func TestDispatcherDefaultsForUnknownUser(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()

	// No registered user: the alert is still persisted (in-app floor) but no
	// external channel fires.
	f.bus.Publish(ctx, criticalEvent(""))

	last, err := f.alerts.LastForPosition(ctx, "pos-1")
	require.NoError(t, err)
	assert.Equal(t, []domain.NotificationChannel{domain.ChannelInApp}, last.Channels)
	assert.Empty(t, f.telegram.sent)
	assert.Empty(t, f.email.sent)
}

func TestDispatcherSenderFailureStillPersists(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()
	f.telegram.err = errors.New("telegram down")

	require.NoError(t, f.users.Save(ctx, domain.User{
		ID: "user-1",
		Preferences: &domain.UserPreferences{
			NotificationChannels: []domain.NotificationChannel{domain.ChannelTelegram, domain.ChannelEmail},
		},
		CreatedAt: time.Now().UTC(),
	}))

	f.bus.Publish(ctx, criticalEvent("user-1"))

	alerts, err := f.alerts.ListByUser(ctx, "user-1", domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, alerts, 1)

	// The healthy sender still delivered.
	assert.Len(t, f.email.sent, 1)
}
