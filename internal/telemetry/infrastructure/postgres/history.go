package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"frostguard/internal/telemetry/domain"
)

const (
	defaultReadingsTable   = "sensor_readings"
	defaultDoorEventsTable = "door_events"
)

var fieldColumns = map[string]string{
	telemetry.FieldTemperature:    "temperature",
	telemetry.FieldHumidity:       "humidity",
	telemetry.FieldBatteryLevel:   "battery_level",
	telemetry.FieldBatteryVoltage: "battery_voltage",
	telemetry.FieldSignalStrength: "signal_strength",
	telemetry.FieldAirQuality:     "air_quality",
}

// History is a Postgres implementation of telemetry.History.
type History struct {
	db         *sql.DB
	readings   string
	doorEvents string
}

// HistoryOption configures the history reader.
type HistoryOption func(*History)

// WithReadingsTable overrides the readings table name.
func WithReadingsTable(table string) HistoryOption {
	return func(h *History) {
		if h != nil && table != "" {
			h.readings = table
		}
	}
}

// WithDoorEventsTable overrides the door events table name.
func WithDoorEventsTable(table string) HistoryOption {
	return func(h *History) {
		if h != nil && table != "" {
			h.doorEvents = table
		}
	}
}

// NewHistory constructs a history reader with default tables.
func NewHistory(db *sql.DB, opts ...HistoryOption) *History {
	h := &History{db: db, readings: defaultReadingsTable, doorEvents: defaultDoorEventsTable}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Samples returns non-null field values in [from, to], oldest first.
func (h *History) Samples(ctx context.Context, unitID, field string, from, to time.Time) ([]telemetry.Sample, error) {
	if h == nil || h.db == nil {
		return nil, errors.New("telemetry history: nil db")
	}
	column, ok := fieldColumns[field]
	if !ok {
		return nil, fmt.Errorf("telemetry history: unsupported field %q", field)
	}
	if unitID == "" || from.IsZero() || to.IsZero() {
		return nil, errors.New("telemetry history: invalid arguments")
	}

	query := fmt.Sprintf(`
SELECT %[1]s, recorded_at
FROM %[2]s
WHERE unit_id = $1
	AND recorded_at >= $2
	AND recorded_at <= $3
	AND %[1]s IS NOT NULL
ORDER BY recorded_at ASC`, column, h.readings)

	rows, err := h.db.QueryContext(ctx, query, unitID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []telemetry.Sample
	for rows.Next() {
		var sample telemetry.Sample
		if err := rows.Scan(&sample.Value, &sample.RecordedAt); err != nil {
			return nil, err
		}
		sample.RecordedAt = sample.RecordedAt.UTC()
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return samples, nil
}

// LatestDoorEvent returns the newest door event with state at or before at.
func (h *History) LatestDoorEvent(ctx context.Context, unitID, state string, at time.Time) (*telemetry.DoorEvent, error) {
	if h == nil || h.db == nil {
		return nil, errors.New("telemetry history: nil db")
	}
	query := fmt.Sprintf(`
SELECT state, occurred_at
FROM %s
WHERE unit_id = $1 AND state = $2 AND occurred_at <= $3
ORDER BY occurred_at DESC
LIMIT 1`, h.doorEvents)

	var event telemetry.DoorEvent
	err := h.db.QueryRowContext(ctx, query, unitID, state, at.UTC()).Scan(&event.State, &event.OccurredAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	event.OccurredAt = event.OccurredAt.UTC()
	return &event, nil
}

// SiteSnapshots returns the last known non-null value of field per unit at a site.
func (h *History) SiteSnapshots(ctx context.Context, siteID, field string) ([]telemetry.UnitSnapshot, error) {
	if h == nil || h.db == nil {
		return nil, errors.New("telemetry history: nil db")
	}
	column, ok := fieldColumns[field]
	if !ok {
		return nil, fmt.Errorf("telemetry history: unsupported field %q", field)
	}
	if siteID == "" {
		return nil, errors.New("telemetry history: site id required")
	}

	query := fmt.Sprintf(`
SELECT DISTINCT ON (unit_id) unit_id, %[1]s, recorded_at
FROM %[2]s
WHERE site_id = $1
	AND %[1]s IS NOT NULL
ORDER BY unit_id, recorded_at DESC`, column, h.readings)

	rows, err := h.db.QueryContext(ctx, query, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []telemetry.UnitSnapshot
	for rows.Next() {
		var snap telemetry.UnitSnapshot
		if err := rows.Scan(&snap.UnitID, &snap.Value, &snap.RecordedAt); err != nil {
			return nil, err
		}
		snap.RecordedAt = snap.RecordedAt.UTC()
		snapshots = append(snapshots, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return snapshots, nil
}

// Record stores a reading and, when the door state changed, a door event.
func (h *History) Record(ctx context.Context, reading telemetry.Reading) error {
	if h == nil || h.db == nil {
		return errors.New("telemetry history: nil db")
	}
	if err := reading.Validate(); err != nil {
		return err
	}
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (
	reading_id, unit_id, org_id, site_id, device_id,
	temperature, humidity, battery_level, battery_voltage, signal_strength, air_quality,
	door_open, leak_detected, tamper, recorded_at
) VALUES (
	$1, $2, $3, $4, $5,
	$6, $7, $8, $9, $10, $11,
	$12, $13, $14, $15
)`, h.readings),
		nullableString(reading.ReadingID),
		reading.UnitID,
		reading.OrgID,
		nullableString(reading.SiteID),
		nullableString(reading.DeviceID),
		nullableFloat(reading.Temperature),
		nullableFloat(reading.Humidity),
		nullableFloat(reading.BatteryLevel),
		nullableFloat(reading.BatteryVoltage),
		nullableFloat(reading.SignalStrength),
		nullableFloat(reading.AirQuality),
		nullableBool(doorOpenPtr(reading)),
		nullableBool(reading.LeakDetected),
		nullableBool(reading.Tamper),
		reading.RecordedAt.UTC(),
	)
	if err != nil {
		return err
	}

	if open, ok := reading.IsDoorOpen(); ok {
		state := telemetry.DoorClosed
		if open {
			state = telemetry.DoorOpen
		}
		var last sql.NullString
		err := tx.QueryRowContext(ctx, fmt.Sprintf(`
SELECT state FROM %s
WHERE unit_id = $1 AND occurred_at <= $2
ORDER BY occurred_at DESC
LIMIT 1`, h.doorEvents), reading.UnitID, reading.RecordedAt.UTC()).Scan(&last)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if !last.Valid || last.String != state {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (unit_id, state, occurred_at) VALUES ($1, $2, $3)`, h.doorEvents),
				reading.UnitID, state, reading.RecordedAt.UTC()); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

func doorOpenPtr(reading telemetry.Reading) *bool {
	open, ok := reading.IsDoorOpen()
	if !ok {
		return nil
	}
	return &open
}

func nullableString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

func nullableFloat(value *float64) sql.NullFloat64 {
	if value == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *value, Valid: true}
}

func nullableBool(value *bool) sql.NullBool {
	if value == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *value, Valid: true}
}
