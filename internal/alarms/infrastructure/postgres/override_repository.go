package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	alarms "frostguard/internal/alarms/domain"
	"frostguard/internal/audit"
	"frostguard/internal/auth"
)

const defaultOverridesTable = "alarm_overrides"

// OverrideRepository stores org, site and unit overrides.
type OverrideRepository struct {
	db    *sql.DB
	table string
	audit audit.Logger
}

// OverrideOption configures the repository.
type OverrideOption func(*OverrideRepository)

// WithOverrideAudit records override changes in the audit log.
func WithOverrideAudit(logger audit.Logger) OverrideOption {
	return func(r *OverrideRepository) {
		r.audit = logger
	}
}

// NewOverrideRepository constructs a repository.
func NewOverrideRepository(db *sql.DB, opts ...OverrideOption) *OverrideRepository {
	repo := &OverrideRepository{db: db, table: defaultOverridesTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// ListForScopes loads every override for the org, site and unit in one query.
func (r *OverrideRepository) ListForScopes(ctx context.Context, orgID, siteID, unitID string) ([]alarms.Override, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm override repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
SELECT definition_id, scope, scope_id, enabled, severity, threshold_min, threshold_max,
	duration_minutes, cooldown_minutes, escalation_minutes, notification_channels
FROM %s
WHERE (scope = 'org' AND scope_id = $1)
	OR (scope = 'site' AND scope_id = $2)
	OR (scope = 'unit' AND scope_id = $3)`, r.table), orgID, siteID, unitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []alarms.Override
	for rows.Next() {
		var o alarms.Override
		var scope string
		var enabled sql.NullBool
		var severity sql.NullString
		var thresholdMin, thresholdMax sql.NullFloat64
		var duration, cooldown, escalation sql.NullInt64
		var channels []byte
		if err := rows.Scan(
			&o.DefinitionID,
			&scope,
			&o.ScopeID,
			&enabled,
			&severity,
			&thresholdMin,
			&thresholdMax,
			&duration,
			&cooldown,
			&escalation,
			&channels,
		); err != nil {
			return nil, err
		}
		o.Scope = alarms.Scope(scope)
		o.Enabled = boolFromNull(enabled)
		if severity.Valid {
			sev := alarms.Severity(severity.String)
			o.Severity = &sev
		}
		o.ThresholdMin = floatFromNull(thresholdMin)
		o.ThresholdMax = floatFromNull(thresholdMax)
		o.DurationMinutes = intFromNull(duration)
		o.CooldownMinutes = intFromNull(cooldown)
		o.EscalationMinutes = intFromNull(escalation)
		if o.NotificationChannels, err = decodeList(channels); err != nil {
			return nil, fmt.Errorf("alarm override %s/%s: channels: %w", o.Scope, o.ScopeID, err)
		}
		result = append(result, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Upsert inserts or replaces an override.
func (r *OverrideRepository) Upsert(ctx context.Context, override *alarms.Override) error {
	if r == nil || r.db == nil {
		return errors.New("alarm override repo: nil db")
	}
	if override == nil {
		return errors.New("alarm override repo: nil override")
	}
	if err := override.Validate(); err != nil {
		return err
	}
	var severity sql.NullString
	if override.Severity != nil {
		severity = sql.NullString{String: string(*override.Severity), Valid: true}
	}
	_, err := r.db.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (
	definition_id, scope, scope_id, enabled, severity, threshold_min, threshold_max,
	duration_minutes, cooldown_minutes, escalation_minutes, notification_channels, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7,
	$8, $9, $10, $11, $12
)
ON CONFLICT (definition_id, scope, scope_id)
DO UPDATE SET
	enabled = EXCLUDED.enabled,
	severity = EXCLUDED.severity,
	threshold_min = EXCLUDED.threshold_min,
	threshold_max = EXCLUDED.threshold_max,
	duration_minutes = EXCLUDED.duration_minutes,
	cooldown_minutes = EXCLUDED.cooldown_minutes,
	escalation_minutes = EXCLUDED.escalation_minutes,
	notification_channels = EXCLUDED.notification_channels,
	updated_at = EXCLUDED.updated_at`, r.table),
		override.DefinitionID,
		string(override.Scope),
		override.ScopeID,
		nullableBool(override.Enabled),
		severity,
		nullableFloat(override.ThresholdMin),
		nullableFloat(override.ThresholdMax),
		nullableInt(override.DurationMinutes),
		nullableInt(override.CooldownMinutes),
		nullableInt(override.EscalationMinutes),
		jsonList(override.NotificationChannels),
		time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	r.logAudit(ctx, override)
	return nil
}

func (r *OverrideRepository) logAudit(ctx context.Context, override *alarms.Override) {
	if r.audit == nil || override == nil {
		return
	}
	orgID := auth.OrgIDFromContext(ctx)
	if orgID == "" && override.Scope == alarms.ScopeOrg {
		orgID = override.ScopeID
	}
	if orgID == "" {
		return
	}
	entry := audit.NewEntry(ctx, audit.ActionOverrideUpsert, audit.ResourceAlarmOverride,
		override.DefinitionID+":"+string(override.Scope)+":"+override.ScopeID, override)
	entry.OrgID = orgID
	if override.Scope == alarms.ScopeUnit {
		entry.UnitID = override.ScopeID
	}
	_ = r.audit.Log(ctx, entry)
}
