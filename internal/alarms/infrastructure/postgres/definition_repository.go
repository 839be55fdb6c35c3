package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	alarms "frostguard/internal/alarms/domain"
)

const defaultDefinitionsTable = "alarm_definitions"

const definitionColumns = `id, slug, display_name, description, category, subcategory, severity, tier,
	detection_field, threshold_min, threshold_max, threshold_unit,
	duration_minutes, cooldown_minutes, escalation_minutes,
	applicable_unit_types, applicable_sensor_types, notification_channels,
	corrective_action, ai_hints, enabled, sort_order`

// DefinitionRepository is a Postgres repository for the alarm catalog.
type DefinitionRepository struct {
	db    *sql.DB
	table string
}

// NewDefinitionRepository constructs a repository.
func NewDefinitionRepository(db *sql.DB) *DefinitionRepository {
	return &DefinitionRepository{db: db, table: defaultDefinitionsTable}
}

// List returns every definition ordered by sort order.
func (r *DefinitionRepository) List(ctx context.Context) ([]alarms.Definition, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm definition repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
SELECT %s
FROM %s
ORDER BY sort_order ASC, slug ASC`, definitionColumns, r.table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []alarms.Definition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *def)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Upsert inserts or updates a definition by slug.
func (r *DefinitionRepository) Upsert(ctx context.Context, def *alarms.Definition) error {
	if r == nil || r.db == nil {
		return errors.New("alarm definition repo: nil db")
	}
	if def == nil {
		return errors.New("alarm definition repo: nil definition")
	}
	if err := def.Validate(); err != nil {
		return err
	}
	if def.ID == "" {
		return errors.New("alarm definition repo: empty id")
	}
	now := time.Now().UTC()
	row := r.db.QueryRowContext(ctx, fmt.Sprintf(`
INSERT INTO %s (
	%s, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8,
	$9, $10, $11, $12,
	$13, $14, $15,
	$16, $17, $18,
	$19, $20, $21, $22, $23, $23
)
ON CONFLICT (slug) DO UPDATE SET
	display_name = EXCLUDED.display_name,
	description = EXCLUDED.description,
	category = EXCLUDED.category,
	subcategory = EXCLUDED.subcategory,
	severity = EXCLUDED.severity,
	tier = EXCLUDED.tier,
	detection_field = EXCLUDED.detection_field,
	threshold_min = EXCLUDED.threshold_min,
	threshold_max = EXCLUDED.threshold_max,
	threshold_unit = EXCLUDED.threshold_unit,
	duration_minutes = EXCLUDED.duration_minutes,
	cooldown_minutes = EXCLUDED.cooldown_minutes,
	escalation_minutes = EXCLUDED.escalation_minutes,
	applicable_unit_types = EXCLUDED.applicable_unit_types,
	applicable_sensor_types = EXCLUDED.applicable_sensor_types,
	notification_channels = EXCLUDED.notification_channels,
	corrective_action = EXCLUDED.corrective_action,
	ai_hints = EXCLUDED.ai_hints,
	enabled = EXCLUDED.enabled,
	sort_order = EXCLUDED.sort_order,
	updated_at = EXCLUDED.updated_at
RETURNING id`, r.table, definitionColumns),
		def.ID,
		def.Slug,
		def.DisplayName,
		def.Description,
		def.Category,
		def.Subcategory,
		string(def.Severity),
		string(def.Tier),
		def.DetectionField,
		nullableFloat(def.ThresholdMin),
		nullableFloat(def.ThresholdMax),
		def.ThresholdUnit,
		def.DurationMinutes,
		def.CooldownMinutes,
		def.EscalationMinutes,
		jsonList(def.ApplicableUnitTypes),
		jsonList(def.ApplicableSensorTypes),
		jsonList(def.NotificationChannels),
		def.CorrectiveAction,
		jsonList(def.AIHints),
		def.Enabled,
		def.SortOrder,
		now,
	)
	return row.Scan(&def.ID)
}

func scanDefinition(row rowScanner) (*alarms.Definition, error) {
	var def alarms.Definition
	var severity, tier string
	var thresholdMin, thresholdMax sql.NullFloat64
	var unitTypes, sensorTypes, channels, hints []byte
	if err := row.Scan(
		&def.ID,
		&def.Slug,
		&def.DisplayName,
		&def.Description,
		&def.Category,
		&def.Subcategory,
		&severity,
		&tier,
		&def.DetectionField,
		&thresholdMin,
		&thresholdMax,
		&def.ThresholdUnit,
		&def.DurationMinutes,
		&def.CooldownMinutes,
		&def.EscalationMinutes,
		&unitTypes,
		&sensorTypes,
		&channels,
		&def.CorrectiveAction,
		&hints,
		&def.Enabled,
		&def.SortOrder,
	); err != nil {
		return nil, err
	}
	def.Severity = alarms.Severity(severity)
	def.Tier = alarms.Tier(tier)
	def.ThresholdMin = floatFromNull(thresholdMin)
	def.ThresholdMax = floatFromNull(thresholdMax)

	var err error
	if def.ApplicableUnitTypes, err = decodeList(unitTypes); err != nil {
		return nil, fmt.Errorf("alarm definition %s: unit types: %w", def.Slug, err)
	}
	if def.ApplicableSensorTypes, err = decodeList(sensorTypes); err != nil {
		return nil, fmt.Errorf("alarm definition %s: sensor types: %w", def.Slug, err)
	}
	if def.NotificationChannels, err = decodeList(channels); err != nil {
		return nil, fmt.Errorf("alarm definition %s: channels: %w", def.Slug, err)
	}
	if def.AIHints, err = decodeList(hints); err != nil {
		return nil, fmt.Errorf("alarm definition %s: hints: %w", def.Slug, err)
	}
	return &def, nil
}
