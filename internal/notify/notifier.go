// Package notify provides a multi-channel notification system. Alerts are
// dispatched to all registered senders (Telegram, email, etc.) and can be
// filtered per delivery so each user receives alerts only on the channels
// they enabled.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns the channel identifier (e.g. "telegram").
	Name() string
}

// Notifier dispatches notifications to one or more Senders. Notify forwards
// a message only to the senders whose names appear in the channels slice;
// NotifyAll bypasses the filter.
type Notifier struct {
	senders []Sender
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that delivers to the given senders.
func NewNotifier(senders []Sender, logger *slog.Logger) *Notifier {
	return &Notifier{
		senders: senders,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify sends a notification to the senders matching the requested channels.
// An empty channels slice means every configured sender.
func (n *Notifier) Notify(ctx context.Context, channels []string, title, message string) error {
	allowed := make(map[string]bool, len(channels))
	for _, c := range channels {
		allowed[strings.TrimSpace(c)] = true
	}
	return n.dispatch(ctx, allowed, title, message)
}

// NotifyAll sends a notification to all senders regardless of channel.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, nil, title, message)
}

// dispatch iterates over the senders and sends the notification. Errors from
// individual senders are collected and returned as a combined error; a single
// sender failure does not prevent delivery to the remaining senders.
func (n *Notifier) dispatch(ctx context.Context, allowed map[string]bool, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if len(allowed) > 0 && !allowed[s.Name()] {
			continue
		}
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("title", title),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
