package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	masterdata "frostguard/internal/masterdata/domain"
)

const (
	defaultUnitsTable       = "units"
	defaultUnitSensorsTable = "unit_sensors"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// UnitRepository is a Postgres implementation for units.
type UnitRepository struct {
	db      DBTX
	table   string
	sensors string
}

// UnitOption configures the repository.
type UnitOption func(*UnitRepository)

// WithUnitTable overrides the default table name.
func WithUnitTable(table string) UnitOption {
	return func(repo *UnitRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewUnitRepository constructs a repository.
func NewUnitRepository(db DBTX, opts ...UnitOption) *UnitRepository {
	repo := &UnitRepository{db: db, table: defaultUnitsTable, sensors: defaultUnitSensorsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Get loads a unit and its attached sensor types.
func (r *UnitRepository) Get(ctx context.Context, id string) (*masterdata.Unit, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("unit repo: nil db")
	}
	if id == "" {
		return nil, errors.New("unit repo: empty id")
	}

	query := fmt.Sprintf(`
SELECT id, org_id, COALESCE(site_id, ''), name, unit_type, created_at, updated_at
FROM %s
WHERE id = $1
LIMIT 1`, r.table)

	var unit masterdata.Unit
	if err := r.db.QueryRowContext(ctx, query, id).Scan(
		&unit.ID,
		&unit.OrgID,
		&unit.SiteID,
		&unit.Name,
		&unit.UnitType,
		&unit.CreatedAt,
		&unit.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	unit.CreatedAt = unit.CreatedAt.UTC()
	unit.UpdatedAt = unit.UpdatedAt.UTC()

	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
SELECT DISTINCT sensor_type
FROM %s
WHERE unit_id = $1 AND active
ORDER BY sensor_type`, r.sensors), id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var sensorType string
		if err := rows.Scan(&sensorType); err != nil {
			return nil, err
		}
		unit.SensorTypes = append(unit.SensorTypes, sensorType)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &unit, nil
}

// Save upserts a unit. Sensor attachments are managed by provisioning.
func (r *UnitRepository) Save(ctx context.Context, unit *masterdata.Unit) error {
	if r == nil || r.db == nil {
		return errors.New("unit repo: nil db")
	}
	if unit == nil {
		return errors.New("unit repo: nil unit")
	}
	if err := unit.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if unit.CreatedAt.IsZero() {
		unit.CreatedAt = now
	}
	unit.UpdatedAt = now

	query := fmt.Sprintf(`
INSERT INTO %s (id, org_id, site_id, name, unit_type, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
	org_id = EXCLUDED.org_id,
	site_id = EXCLUDED.site_id,
	name = EXCLUDED.name,
	unit_type = EXCLUDED.unit_type,
	updated_at = EXCLUDED.updated_at`, r.table)

	var siteID sql.NullString
	if unit.SiteID != "" {
		siteID = sql.NullString{String: unit.SiteID, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, query,
		unit.ID,
		unit.OrgID,
		siteID,
		unit.Name,
		unit.UnitType,
		unit.CreatedAt,
		unit.UpdatedAt,
	)
	return err
}
