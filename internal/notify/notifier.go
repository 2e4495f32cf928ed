package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, a Alert) error
	Name() string
}

// Notifier dispatches alerts to every Sender. When kinds is non-empty only
// those kinds are forwarded by Notify; NotifyAll bypasses the filter.
type Notifier struct {
	senders []Sender
	kinds   map[Kind]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty kinds slice allows every kind.
func NewNotifier(senders []Sender, kinds []string, logger *slog.Logger) *Notifier {
	allowed := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		k = strings.TrimSpace(k)
		if k != "" {
			allowed[Kind(k)] = true
		}
	}
	return &Notifier{
		senders: senders,
		kinds:   allowed,
		logger:  logger.With("component", "notifier"),
	}
}

// Add registers another sender. Not safe to call concurrently with Notify.
func (n *Notifier) Add(s Sender) {
	n.senders = append(n.senders, s)
}

// Notify sends a to all senders if its kind passes the filter.
func (n *Notifier) Notify(ctx context.Context, a Alert) error {
	if len(n.kinds) > 0 && !n.kinds[a.Kind] {
		n.logger.Debug("alert filtered out", "kind", a.Kind)
		return nil
	}
	return n.dispatch(ctx, a)
}

// NotifyAll sends a to all senders regardless of kind.
func (n *Notifier) NotifyAll(ctx context.Context, a Alert) error {
	return n.dispatch(ctx, a)
}

// dispatch sends to every sender. One sender failing does not stop delivery
// to the rest; failures are combined into the returned error.
func (n *Notifier) dispatch(ctx context.Context, a Alert) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, a); err != nil {
			n.logger.Error("sender failed", "sender", s.Name(), "kind", a.Kind, "error", err)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.Debug("alert sent", "sender", s.Name(), "kind", a.Kind)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// LogSender writes alerts to the structured log. Always registered so alerts
// are visible even with no external channel configured.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger.With("component", "alerts")}
}

func (l *LogSender) Name() string { return "log" }

func (l *LogSender) Send(ctx context.Context, a Alert) error {
	level := slog.LevelInfo
	switch a.Kind {
	case KindKillSwitch, KindExecutionFailed:
		level = slog.LevelWarn
	}
	l.logger.Log(ctx, level, a.Title,
		"kind", a.Kind,
		"opportunity", a.OpportunityID,
		"message", a.Message,
	)
	return nil
}
