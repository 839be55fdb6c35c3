package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	alarms "frostguard/internal/alarms/domain"
)

const defaultAlertsTable = "alerts"

// AlertRepository is a Postgres repository for bridged alerts.
type AlertRepository struct {
	db    *sql.DB
	table string
}

// NewAlertRepository constructs a repository.
func NewAlertRepository(db *sql.DB) *AlertRepository {
	return &AlertRepository{db: db, table: defaultAlertsTable}
}

// Create inserts an alert for an event.
func (r *AlertRepository) Create(ctx context.Context, alert *alarms.Alert) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	if alert == nil {
		return errors.New("alert repo: nil alert")
	}
	if alert.ID == "" || alert.AlarmEventID == "" {
		return errors.New("alert repo: missing fields")
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (
	id, alarm_event_id, org_id, site_id, unit_id, title, message,
	severity, status, metadata, created_at, resolved_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7,
	$8, $9, $10, $11, $12
)`, r.table),
		alert.ID,
		alert.AlarmEventID,
		alert.OrgID,
		nullableString(alert.SiteID),
		alert.UnitID,
		alert.Title,
		alert.Message,
		string(alert.Severity),
		string(alert.Status),
		jsonObject(alert.Metadata),
		alert.CreatedAt,
		nullableTime(alert.ResolvedAt),
	)
	return err
}

// ResolveByEvent resolves the active alert bridged from an event.
func (r *AlertRepository) ResolveByEvent(ctx context.Context, eventID string, at time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, fmt.Sprintf(`
UPDATE %s
SET status = 'resolved', resolved_at = $2
WHERE alarm_event_id = $1 AND status = 'active'`, r.table), eventID, at.UTC())
	return err
}
