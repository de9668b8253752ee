// Package notify sends operator alerts about trades and cascades to Telegram
// and Discord. Alerts are filtered by event type and throttled per event so a
// burst of failures produces one message, not hundreds.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Sender is a single notification channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches notifications to one or more Senders.
type Notifier struct {
	senders  []Sender
	events   map[string]bool // allowed event types; empty allows all
	cooldown time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu         sync.Mutex
	lastSent   map[string]time.Time
	suppressed map[string]int
}

// NewNotifier creates a Notifier. Only events listed in events are forwarded
// by Notify; an empty list allows every event. With a positive cooldown, an
// event type is sent at most once per cooldown and the next message reports
// how many were suppressed.
func NewNotifier(senders []Sender, events []string, cooldown time.Duration, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders:    senders,
		events:     allowed,
		cooldown:   cooldown,
		logger:     logger.With(slog.String("component", "notifier")),
		now:        time.Now,
		lastSent:   make(map[string]time.Time),
		suppressed: make(map[string]int),
	}
}

// Notify sends a notification for event if it passes the filter and the
// event's cooldown has elapsed.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}

	skipped, ok := n.admit(event)
	if !ok {
		return nil
	}
	if skipped > 0 {
		message = fmt.Sprintf("%s\n(%d similar %s alerts suppressed)", message, skipped, event)
	}
	return n.dispatch(ctx, title, message)
}

// NotifyAll sends a notification to all senders regardless of event type or
// cooldown.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// admit applies the per-event cooldown. It returns how many messages were
// suppressed since the last one sent, and whether this one may go out.
func (n *Notifier) admit(event string) (int, bool) {
	if n.cooldown <= 0 {
		return 0, true
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now()
	if last, ok := n.lastSent[event]; ok && now.Sub(last) < n.cooldown {
		n.suppressed[event]++
		return 0, false
	}
	skipped := n.suppressed[event]
	n.lastSent[event] = now
	delete(n.suppressed, event)
	return skipped, true
}

// dispatch sends to every sender. A failing sender does not stop delivery to
// the others; all failures are joined into the returned error.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
