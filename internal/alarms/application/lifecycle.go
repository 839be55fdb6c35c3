package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	alarms "frostguard/internal/alarms/domain"
	"frostguard/internal/auth"
	"frostguard/internal/observability/metrics"
	telemetry "frostguard/internal/telemetry/domain"
)

// SystemActor resolves events on behalf of the engine.
const SystemActor = "system"

// Firing is an evaluation that passed the suppression gate.
type Firing struct {
	Definition   alarms.Definition
	Config       alarms.EffectiveConfig
	TriggerValue *float64
	TriggerField string
	Detail       string
}

// FireOutcome reports what happened to one firing.
type FireOutcome struct {
	EventID string
	// Reason is empty when the event was persisted.
	Reason alarms.Reason
	Err    error
}

// Lifecycle owns cooldown, dedup, event creation and resolution.
type Lifecycle struct {
	events   alarms.EventRepository
	alerts   alarms.AlertRepository
	notifier AlarmNotifier
	clock    Clock
	logger   *zap.Logger
}

// LifecycleOption customizes the lifecycle manager.
type LifecycleOption func(*Lifecycle)

// WithNotifier assigns a notifier.
func WithNotifier(notifier AlarmNotifier) LifecycleOption {
	return func(l *Lifecycle) {
		l.notifier = notifier
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) LifecycleOption {
	return func(l *Lifecycle) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// WithLifecycleLogger assigns a logger.
func WithLifecycleLogger(logger *zap.Logger) LifecycleOption {
	return func(l *Lifecycle) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLifecycle constructs a lifecycle manager.
func NewLifecycle(events alarms.EventRepository, alerts alarms.AlertRepository, opts ...LifecycleOption) (*Lifecycle, error) {
	if events == nil {
		return nil, errors.New("alarms lifecycle: nil event repository")
	}
	if alerts == nil {
		return nil, errors.New("alarms lifecycle: nil alert repository")
	}
	l := &Lifecycle{
		events: events,
		alerts: alerts,
		clock:  systemClock{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Suppress checks the most recent open event of the definition. It returns
// cooldown_active while the cooldown runs and dedup_active_exists while the
// prior event is still active. open must be newest first.
func (l *Lifecycle) Suppress(open []alarms.Event, definitionID string, cfg alarms.EffectiveConfig, now time.Time) (alarms.Reason, bool) {
	for _, event := range open {
		if event.DefinitionID != definitionID {
			continue
		}
		if now.Before(event.CooldownExpiry(cfg.CooldownMinutes)) {
			return alarms.ReasonCooldownActive, true
		}
		if event.Status == alarms.StatusActive {
			return alarms.ReasonDedupActiveExists, true
		}
		return "", false
	}
	return "", false
}

// Fire persists one event per firing and bridges each to an alert. Firings
// from the same reading share a correlation id when there is more than one.
func (l *Lifecycle) Fire(ctx context.Context, reading telemetry.Reading, firings []Firing) ([]FireOutcome, string) {
	outcomes := make([]FireOutcome, len(firings))
	if len(firings) == 0 {
		return outcomes, ""
	}
	var correlationID string
	if len(firings) > 1 {
		correlationID = uuid.NewString()
	}
	snapshot := reading.Snapshot()
	createdAt := l.clock.Now().UTC()
	triggeredAt := reading.RecordedAt.UTC()

	for i, firing := range firings {
		event := &alarms.Event{
			ID:            uuid.NewString(),
			DefinitionID:  firing.Definition.ID,
			Slug:          firing.Definition.Slug,
			Tier:          firing.Definition.Tier,
			OrgID:         reading.OrgID,
			SiteID:        reading.SiteID,
			UnitID:        reading.UnitID,
			DeviceID:      reading.DeviceID,
			ReadingID:     reading.ReadingID,
			Status:        alarms.StatusActive,
			Severity:      firing.Config.Severity,
			TriggerValue:  firing.TriggerValue,
			TriggerField:  firing.TriggerField,
			Detail:        firing.Detail,
			Snapshot:      snapshot,
			TriggeredAt:   triggeredAt,
			CooldownUntil: triggeredAt.Add(time.Duration(firing.Config.CooldownMinutes) * time.Minute),
			CreatedAt:     createdAt,
			UpdatedAt:     createdAt,
		}
		if correlationID != "" {
			event.CorrelationID = correlationID
			event.CorrelationType = alarms.CorrelationMultiFire
		}

		if err := l.events.Create(ctx, event); err != nil {
			if errors.Is(err, alarms.ErrActiveEventExists) {
				outcomes[i] = FireOutcome{Reason: alarms.ReasonDedupActiveExists, Err: err}
				metrics.IncAlarmEvent(EventSuppressed)
				continue
			}
			l.logger.Error("alarm event write failed",
				zap.String("unit_id", reading.UnitID),
				zap.String("alarm_slug", firing.Definition.Slug),
				zap.String("reading_id", reading.ReadingID),
				zap.Error(err),
			)
			outcomes[i] = FireOutcome{Reason: alarms.ReasonPersistFailed, Err: err}
			continue
		}
		outcomes[i] = FireOutcome{EventID: event.ID}

		alert := &alarms.Alert{
			ID:           uuid.NewString(),
			AlarmEventID: event.ID,
			OrgID:        event.OrgID,
			SiteID:       event.SiteID,
			UnitID:       event.UnitID,
			Title:        alertTitle(firing.Definition),
			Message:      firing.Detail,
			Severity:     event.Severity,
			Status:       alarms.AlertActive,
			Metadata: map[string]any{
				"alarm_slug":            firing.Definition.Slug,
				"tier":                  string(firing.Definition.Tier),
				"notification_channels": firing.Config.NotificationChannels,
				"escalation_minutes":    firing.Config.EscalationMinutes,
			},
			CreatedAt: createdAt,
		}
		if firing.Definition.CorrectiveAction != "" {
			alert.Metadata["corrective_action"] = firing.Definition.CorrectiveAction
		}
		if err := l.alerts.Create(ctx, alert); err != nil {
			l.logger.Error("alert write failed",
				zap.String("unit_id", reading.UnitID),
				zap.String("alarm_slug", firing.Definition.Slug),
				zap.String("alarm_event_id", event.ID),
				zap.Error(err),
			)
		}
		l.notify(ctx, EventFired, *event)
	}
	return outcomes, correlationID
}

// AutoResolve resolves every active event whose definition is in cleared.
// Acknowledged events stay open until a human resolves them.
func (l *Lifecycle) AutoResolve(ctx context.Context, open []alarms.Event, cleared map[string]bool, at time.Time) []alarms.Event {
	var resolved []alarms.Event
	for _, event := range open {
		if event.Status != alarms.StatusActive || !cleared[event.DefinitionID] {
			continue
		}
		if err := l.events.Resolve(ctx, event.ID, alarms.StatusAutoResolved, SystemActor, alarms.AutoResolveNote, at); err != nil {
			if !errors.Is(err, alarms.ErrInvalidTransition) {
				l.logger.Error("auto-resolve failed",
					zap.String("unit_id", event.UnitID),
					zap.String("alarm_slug", event.Slug),
					zap.String("alarm_event_id", event.ID),
					zap.Error(err),
				)
			}
			continue
		}
		if err := l.alerts.ResolveByEvent(ctx, event.ID, at); err != nil {
			l.logger.Error("alert resolve failed",
				zap.String("alarm_event_id", event.ID),
				zap.Error(err),
			)
		}
		event.Status = alarms.StatusAutoResolved
		event.ResolvedAt = at
		event.ResolvedBy = SystemActor
		event.ResolutionNote = alarms.AutoResolveNote
		event.UpdatedAt = at
		resolved = append(resolved, event)
		l.notify(ctx, EventAutoResolved, event)
	}
	return resolved
}

// Acknowledge moves an active event to acknowledged.
func (l *Lifecycle) Acknowledge(ctx context.Context, eventID, by string) (*alarms.Event, error) {
	event, err := l.load(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event.Status == alarms.StatusAcknowledged {
		return event, nil
	}
	if !event.Status.CanTransition(alarms.StatusAcknowledged) {
		return nil, alarms.ErrInvalidTransition
	}
	at := l.clock.Now().UTC()
	if err := l.events.Acknowledge(ctx, event.ID, by, at); err != nil {
		return nil, err
	}
	event.Status = alarms.StatusAcknowledged
	event.AcknowledgedAt = at
	event.AcknowledgedBy = by
	event.UpdatedAt = at
	l.notify(ctx, EventAcknowledged, *event)
	return event, nil
}

// Resolve closes an active or acknowledged event and its alert.
func (l *Lifecycle) Resolve(ctx context.Context, eventID, by, note string) (*alarms.Event, error) {
	event, err := l.load(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !event.Status.CanTransition(alarms.StatusResolved) {
		return nil, alarms.ErrInvalidTransition
	}
	at := l.clock.Now().UTC()
	if err := l.events.Resolve(ctx, event.ID, alarms.StatusResolved, by, note, at); err != nil {
		return nil, err
	}
	if err := l.alerts.ResolveByEvent(ctx, event.ID, at); err != nil {
		l.logger.Error("alert resolve failed", zap.String("alarm_event_id", event.ID), zap.Error(err))
	}
	event.Status = alarms.StatusResolved
	event.ResolvedAt = at
	event.ResolvedBy = by
	event.ResolutionNote = note
	event.UpdatedAt = at
	l.notify(ctx, EventResolved, *event)
	return event, nil
}

func (l *Lifecycle) load(ctx context.Context, eventID string) (*alarms.Event, error) {
	if eventID == "" {
		return nil, errors.New("alarms lifecycle: event id required")
	}
	event, err := l.events.GetByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, alarms.ErrNotFound
	}
	if orgID := auth.OrgIDFromContext(ctx); orgID != "" && event.OrgID != orgID {
		return nil, auth.ErrOrgMismatch
	}
	return event, nil
}

func (l *Lifecycle) notify(ctx context.Context, eventType string, event alarms.Event) {
	metrics.IncAlarmEvent(eventType)
	if l.notifier == nil {
		return
	}
	l.notifier.Notify(ctx, AlarmEvent{Type: eventType, Event: event})
}

func alertTitle(def alarms.Definition) string {
	name := def.DisplayName
	if name == "" {
		name = def.Slug
	}
	return fmt.Sprintf("[%s] %s", def.Tier, name)
}
