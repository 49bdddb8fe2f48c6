package shared

import (
	"context"
	"log/slog"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Notifier delivers user-facing summaries of domain operations. Deliveries are
// fire-and-forget: failures are logged by implementations, never propagated.
type Notifier interface {
	Notify(ctx context.Context, level NotifyLevel, summary string)
}

// NotifyLevel classifies notification severity.
type NotifyLevel string

const (
	NotifyInfo    NotifyLevel = "info"
	NotifyWarning NotifyLevel = "warning"
	NotifyError   NotifyLevel = "error"
)

// LogNotifier writes notifications to the structured log. It is the default
// sink when no external notification channel is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the summary at a level matching the notification severity.
func (n *LogNotifier) Notify(ctx context.Context, level NotifyLevel, summary string) {
	if n == nil || n.logger == nil {
		return
	}
	switch level {
	case NotifyError:
		n.logger.Error(summary, slog.String("channel", "notify"))
	case NotifyWarning:
		n.logger.Warn(summary, slog.String("channel", "notify"))
	default:
		n.logger.Info(summary, slog.String("channel", "notify"))
	}
}

// Printer formats quantities and amounts in notification text.
var Printer = message.NewPrinter(language.English)
