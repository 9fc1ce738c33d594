package notify

import (
	"context"

	"go.uber.org/zap"

	"machine-monitor/internal/observability/logging"
)

// AlertNotifier receives alerts.
type AlertNotifier interface {
	Notify(ctx context.Context, alert Alert)
}

// MultiNotifier dispatches alerts to multiple notifiers.
type MultiNotifier struct {
	notifiers []AlertNotifier
}

// NewMultiNotifier constructs a MultiNotifier. Nil entries are skipped.
func NewMultiNotifier(notifiers ...AlertNotifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Notify forwards alerts to all notifiers.
func (m *MultiNotifier) Notify(ctx context.Context, alert Alert) {
	if m == nil {
		return
	}
	for _, notifier := range m.notifiers {
		if notifier != nil {
			notifier.Notify(ctx, alert)
		}
	}
}

// LogNotifier writes every alert to the log.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logging.OrNop(logger).Named("alerts")}
}

// Notify implements AlertNotifier.
func (l *LogNotifier) Notify(_ context.Context, alert Alert) {
	if l == nil {
		return
	}
	fields := []zap.Field{
		zap.String("machine", alert.MachineID),
		zap.String("event", string(alert.Event)),
		zap.Stringer("from", alert.From),
		zap.Stringer("to", alert.To),
		zap.Float64("score", alert.Score),
		zap.Uint64("seq", alert.Seq),
	}
	if alert.Event == EventCleared {
		l.logger.Info("alert", fields...)
		return
	}
	l.logger.Warn("alert", append(fields, zap.String("detail", alert.Detail))...)
}
