package notify

import (
	"context"

	alarmapp "frostguard/internal/alarms/application"

	"go.uber.org/zap"
)

// MultiNotifier dispatches alarm events to multiple notifiers.
type MultiNotifier struct {
	notifiers []alarmapp.AlarmNotifier
	logger    *zap.Logger
}

// NewMultiNotifier constructs a MultiNotifier. Nil notifiers are dropped.
func NewMultiNotifier(logger *zap.Logger, notifiers ...alarmapp.AlarmNotifier) *MultiNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	set := make([]alarmapp.AlarmNotifier, 0, len(notifiers))
	for _, notifier := range notifiers {
		if notifier != nil {
			set = append(set, notifier)
		}
	}
	return &MultiNotifier{notifiers: set, logger: logger}
}

// Notify forwards events to all notifiers. A panicking notifier does not
// stop delivery to the rest.
func (m *MultiNotifier) Notify(ctx context.Context, event alarmapp.AlarmEvent) {
	if m == nil {
		return
	}
	for _, notifier := range m.notifiers {
		m.deliver(ctx, notifier, event)
	}
}

func (m *MultiNotifier) deliver(ctx context.Context, notifier alarmapp.AlarmNotifier, event alarmapp.AlarmEvent) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("alarm notifier panicked",
				zap.String("event_type", event.Type),
				zap.String("alarm_event_id", event.Event.ID),
				zap.Any("panic", r))
		}
	}()
	notifier.Notify(ctx, event)
}

// LogNotifier writes lifecycle events to the structured log.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// Notify implements alarmapp.AlarmNotifier.
func (n *LogNotifier) Notify(ctx context.Context, event alarmapp.AlarmEvent) {
	_ = ctx
	n.logger.Info("alarm lifecycle",
		zap.String("event_type", event.Type),
		zap.String("alarm_event_id", event.Event.ID),
		zap.String("alarm_slug", event.Event.Slug),
		zap.String("unit_id", event.Event.UnitID),
		zap.String("status", string(event.Event.Status)),
		zap.String("severity", string(event.Event.Severity)),
		zap.String("correlation_id", event.Event.CorrelationID))
}
