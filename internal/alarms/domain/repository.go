package alarms

import (
	"context"
	"time"
)

// DefinitionRepository reads and seeds the alarm catalog.
type DefinitionRepository interface {
	List(ctx context.Context) ([]Definition, error)
	Upsert(ctx context.Context, def *Definition) error
}

// OverrideRepository loads scoped overrides.
type OverrideRepository interface {
	// ListForScopes returns every override keyed to the org, site or unit.
	ListForScopes(ctx context.Context, orgID, siteID, unitID string) ([]Override, error)
	Upsert(ctx context.Context, override *Override) error
}

// EventRepository persists alarm events.
type EventRepository interface {
	// Create fails with ErrActiveEventExists when an active event exists for the definition and unit.
	Create(ctx context.Context, event *Event) error
	GetByID(ctx context.Context, id string) (*Event, error)
	// ListOpenByUnit returns active and acknowledged events, newest first.
	ListOpenByUnit(ctx context.Context, unitID string) ([]Event, error)
	Acknowledge(ctx context.Context, id, by string, at time.Time) error
	// Resolve moves an event into a terminal status. Auto resolution only applies to active events.
	Resolve(ctx context.Context, id string, status EventStatus, by, note string, at time.Time) error
}

// AlertRepository persists bridged alerts.
type AlertRepository interface {
	Create(ctx context.Context, alert *Alert) error
	ResolveByEvent(ctx context.Context, eventID string, at time.Time) error
}

// EvaluationLogWriter appends evaluation audit rows.
type EvaluationLogWriter interface {
	Write(ctx context.Context, logs []EvaluationLog) error
}
