package application

import (
	"context"
	"time"

	alarms "frostguard/internal/alarms/domain"
)

// Lifecycle event types.
const (
	EventFired        = "fired"
	EventAutoResolved = "auto_resolved"
	EventAcknowledged = "acknowledged"
	EventResolved     = "resolved"
	EventSuppressed   = "suppressed"
)

// AlarmNotifier publishes alarm lifecycle events.
type AlarmNotifier interface {
	Notify(ctx context.Context, event AlarmEvent)
}

// AlarmEvent represents a lifecycle update.
type AlarmEvent struct {
	Type  string       `json:"type"`
	Event alarms.Event `json:"event"`
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
