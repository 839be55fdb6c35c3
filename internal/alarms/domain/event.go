package alarms

import (
	"time"
)

// EventStatus is the lifecycle state of an AlarmEvent.
type EventStatus string

const (
	StatusActive       EventStatus = "active"
	StatusAcknowledged EventStatus = "acknowledged"
	StatusResolved     EventStatus = "resolved"
	StatusAutoResolved EventStatus = "auto_resolved"
)

// Open reports whether the status is still live.
func (s EventStatus) Open() bool {
	return s == StatusActive || s == StatusAcknowledged
}

// CanTransition reports whether moving from s to next is allowed.
func (s EventStatus) CanTransition(next EventStatus) bool {
	switch s {
	case StatusActive:
		return next == StatusAcknowledged || next == StatusResolved || next == StatusAutoResolved
	case StatusAcknowledged:
		return next == StatusResolved
	default:
		return false
	}
}

// CorrelationMultiFire tags events fired together from one reading.
const CorrelationMultiFire = "multi_alarm_reading"

// AutoResolveNote is stamped on events cleared by the engine.
const AutoResolveNote = "Auto-resolved: condition no longer detected"

// Event is one firing of an alarm definition on a unit.
type Event struct {
	ID              string         `json:"id"`
	DefinitionID    string         `json:"alarm_definition_id"`
	Slug            string         `json:"slug"`
	Tier            Tier           `json:"tier"`
	OrgID           string         `json:"org_id"`
	SiteID          string         `json:"site_id,omitempty"`
	UnitID          string         `json:"unit_id"`
	DeviceID        string         `json:"device_id,omitempty"`
	ReadingID       string         `json:"reading_id,omitempty"`
	Status          EventStatus    `json:"status"`
	Severity        Severity       `json:"severity"`
	TriggerValue    *float64       `json:"trigger_value,omitempty"`
	TriggerField    string         `json:"trigger_field,omitempty"`
	Detail          string         `json:"detail,omitempty"`
	Snapshot        map[string]any `json:"telemetry_snapshot,omitempty"`
	CorrelationID   string         `json:"correlation_id,omitempty"`
	CorrelationType string         `json:"correlation_type,omitempty"`
	TriggeredAt     time.Time      `json:"triggered_at"`
	CooldownUntil   time.Time      `json:"cooldown_until,omitempty"`
	AcknowledgedAt  time.Time      `json:"acknowledged_at,omitempty"`
	AcknowledgedBy  string         `json:"acknowledged_by,omitempty"`
	ResolvedAt      time.Time      `json:"resolved_at,omitempty"`
	ResolvedBy      string         `json:"resolved_by,omitempty"`
	ResolutionNote  string         `json:"resolution_note,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// CooldownExpiry returns the stored cooldown or triggeredAt + cooldown.
func (e Event) CooldownExpiry(cooldownMinutes int) time.Time {
	if !e.CooldownUntil.IsZero() {
		return e.CooldownUntil
	}
	return e.TriggeredAt.Add(time.Duration(cooldownMinutes) * time.Minute)
}

// AlertStatus is the state of the bridged alert.
type AlertStatus string

const (
	AlertActive   AlertStatus = "active"
	AlertResolved AlertStatus = "resolved"
)

// Alert is the tier-agnostic escalation record bridged from an Event.
type Alert struct {
	ID           string         `json:"id"`
	AlarmEventID string         `json:"alarm_event_id"`
	OrgID        string         `json:"org_id"`
	SiteID       string         `json:"site_id,omitempty"`
	UnitID       string         `json:"unit_id"`
	Title        string         `json:"title"`
	Message      string         `json:"message"`
	Severity     Severity       `json:"severity"`
	Status       AlertStatus    `json:"status"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	ResolvedAt   time.Time      `json:"resolved_at,omitempty"`
}

// EvaluationLog is the immutable audit row for one evaluation. Thresholds are
// the ones in force when the reading was evaluated.
type EvaluationLog struct {
	ID              string    `json:"id"`
	DefinitionID    string    `json:"alarm_definition_id"`
	Slug            string    `json:"slug"`
	Tier            Tier      `json:"tier"`
	OrgID           string    `json:"org_id"`
	SiteID          string    `json:"site_id,omitempty"`
	UnitID          string    `json:"unit_id"`
	ReadingID       string    `json:"reading_id,omitempty"`
	Fired           bool      `json:"fired"`
	Reason          Reason    `json:"reason"`
	TriggerValue    *float64  `json:"trigger_value,omitempty"`
	ThresholdMin    *float64  `json:"threshold_min,omitempty"`
	ThresholdMax    *float64  `json:"threshold_max,omitempty"`
	Detail          string    `json:"detail,omitempty"`
	Severity        Severity  `json:"severity"`
	EventID         string    `json:"alarm_event_id,omitempty"`
	// CooldownActive and DedupSuppressed mark a firing held back by the lifecycle.
	CooldownActive  bool      `json:"cooldown_active"`
	DedupSuppressed bool      `json:"dedup_suppressed"`
	DurationMS      int64     `json:"duration_ms"`
	EvaluatedAt     time.Time `json:"evaluated_at"`
}
