package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	alarms "frostguard/internal/alarms/domain"
)

const defaultEventsTable = "alarm_events"

const eventColumns = `id, alarm_definition_id, slug, tier, org_id, site_id, unit_id, device_id, reading_id,
	status, severity, trigger_value, trigger_field, detail, telemetry_snapshot,
	correlation_id, correlation_type, triggered_at, cooldown_until,
	acknowledged_at, acknowledged_by, resolved_at, resolved_by, resolution_note,
	created_at, updated_at`

// EventRepository is a Postgres repository for alarm events.
type EventRepository struct {
	db    *sql.DB
	table string
}

// NewEventRepository constructs a repository.
func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db, table: defaultEventsTable}
}

// Create inserts a new event. The partial unique index on active events
// turns a concurrent duplicate into ErrActiveEventExists.
func (r *EventRepository) Create(ctx context.Context, event *alarms.Event) error {
	if r == nil || r.db == nil {
		return errors.New("alarm event repo: nil db")
	}
	if event == nil {
		return errors.New("alarm event repo: nil event")
	}
	if event.ID == "" || event.DefinitionID == "" || event.UnitID == "" || event.OrgID == "" {
		return errors.New("alarm event repo: missing fields")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if event.UpdatedAt.IsZero() {
		event.UpdatedAt = event.CreatedAt
	}
	_, err := r.db.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (
	%s
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9,
	$10, $11, $12, $13, $14, $15,
	$16, $17, $18, $19,
	$20, $21, $22, $23, $24,
	$25, $26
)`, r.table, eventColumns),
		event.ID,
		event.DefinitionID,
		event.Slug,
		string(event.Tier),
		event.OrgID,
		nullableString(event.SiteID),
		event.UnitID,
		nullableString(event.DeviceID),
		nullableString(event.ReadingID),
		string(event.Status),
		string(event.Severity),
		nullableFloat(event.TriggerValue),
		event.TriggerField,
		event.Detail,
		jsonObject(event.Snapshot),
		nullableString(event.CorrelationID),
		nullableString(event.CorrelationType),
		event.TriggeredAt,
		nullableTime(event.CooldownUntil),
		nullableTime(event.AcknowledgedAt),
		nullableString(event.AcknowledgedBy),
		nullableTime(event.ResolvedAt),
		nullableString(event.ResolvedBy),
		nullableString(event.ResolutionNote),
		event.CreatedAt,
		event.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return alarms.ErrActiveEventExists
		}
		return err
	}
	return nil
}

// GetByID fetches an event by id.
func (r *EventRepository) GetByID(ctx context.Context, id string) (*alarms.Event, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm event repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, fmt.Sprintf(`
SELECT %s
FROM %s
WHERE id = $1`, eventColumns, r.table), id)
	event, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return event, nil
}

// ListOpenByUnit returns active and acknowledged events for a unit, newest first.
func (r *EventRepository) ListOpenByUnit(ctx context.Context, unitID string) ([]alarms.Event, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm event repo: nil db")
	}
	if unitID == "" {
		return nil, errors.New("alarm event repo: unit id required")
	}
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
SELECT %s
FROM %s
WHERE unit_id = $1 AND status IN ('active', 'acknowledged')
ORDER BY triggered_at DESC`, eventColumns, r.table), unitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []alarms.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Acknowledge moves an active event to acknowledged.
func (r *EventRepository) Acknowledge(ctx context.Context, id, by string, at time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("alarm event repo: nil db")
	}
	res, err := r.db.ExecContext(ctx, fmt.Sprintf(`
UPDATE %s
SET status = 'acknowledged', acknowledged_at = $2, acknowledged_by = $3, updated_at = $2
WHERE id = $1 AND status = 'active'`, r.table), id, at.UTC(), nullableString(by))
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// Resolve moves an event into resolved or auto_resolved.
func (r *EventRepository) Resolve(ctx context.Context, id string, status alarms.EventStatus, by, note string, at time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("alarm event repo: nil db")
	}
	var from string
	switch status {
	case alarms.StatusAutoResolved:
		from = "status = 'active'"
	case alarms.StatusResolved:
		from = "status IN ('active', 'acknowledged')"
	default:
		return alarms.ErrInvalidTransition
	}
	res, err := r.db.ExecContext(ctx, fmt.Sprintf(`
UPDATE %s
SET status = $2, resolved_at = $3, resolved_by = $4, resolution_note = $5, updated_at = $3
WHERE id = $1 AND %s`, r.table, from), id, string(status), at.UTC(), nullableString(by), nullableString(note))
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func expectOneRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return alarms.ErrInvalidTransition
	}
	return nil
}

func scanEvent(row rowScanner) (*alarms.Event, error) {
	var event alarms.Event
	var tier, status, severity string
	var siteID, deviceID, readingID sql.NullString
	var triggerValue sql.NullFloat64
	var snapshot []byte
	var correlationID, correlationType sql.NullString
	var cooldownUntil, ackedAt, resolvedAt sql.NullTime
	var ackedBy, resolvedBy, note sql.NullString
	if err := row.Scan(
		&event.ID,
		&event.DefinitionID,
		&event.Slug,
		&tier,
		&event.OrgID,
		&siteID,
		&event.UnitID,
		&deviceID,
		&readingID,
		&status,
		&severity,
		&triggerValue,
		&event.TriggerField,
		&event.Detail,
		&snapshot,
		&correlationID,
		&correlationType,
		&event.TriggeredAt,
		&cooldownUntil,
		&ackedAt,
		&ackedBy,
		&resolvedAt,
		&resolvedBy,
		&note,
		&event.CreatedAt,
		&event.UpdatedAt,
	); err != nil {
		return nil, err
	}
	event.Tier = alarms.Tier(tier)
	event.Status = alarms.EventStatus(status)
	event.Severity = alarms.Severity(severity)
	event.SiteID = siteID.String
	event.DeviceID = deviceID.String
	event.ReadingID = readingID.String
	event.TriggerValue = floatFromNull(triggerValue)
	event.CorrelationID = correlationID.String
	event.CorrelationType = correlationType.String
	event.TriggeredAt = event.TriggeredAt.UTC()
	event.CooldownUntil = timeFromNull(cooldownUntil)
	event.AcknowledgedAt = timeFromNull(ackedAt)
	event.AcknowledgedBy = ackedBy.String
	event.ResolvedAt = timeFromNull(resolvedAt)
	event.ResolvedBy = resolvedBy.String
	event.ResolutionNote = note.String
	event.CreatedAt = event.CreatedAt.UTC()
	event.UpdatedAt = event.UpdatedAt.UTC()
	var err error
	if event.Snapshot, err = decodeObject(snapshot); err != nil {
		return nil, fmt.Errorf("alarm event %s: snapshot: %w", event.ID, err)
	}
	return &event, nil
}
