package masterdata

import (
	"context"
	"errors"
	"time"
)

// ErrUnitNotFound indicates a missing unit.
var ErrUnitNotFound = errors.New("unit: not found")

// Unit is a monitored refrigeration unit.
type Unit struct {
	ID          string
	OrgID       string
	SiteID      string
	Name        string
	UnitType    string
	SensorTypes []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Validate checks unit invariants.
func (u Unit) Validate() error {
	if u.ID == "" {
		return errors.New("unit: empty id")
	}
	if u.OrgID == "" {
		return errors.New("unit: empty org id")
	}
	if u.UnitType == "" {
		return errors.New("unit: empty unit type")
	}
	return nil
}

// UnitRepository manages unit persistence.
type UnitRepository interface {
	Get(ctx context.Context, id string) (*Unit, error)
	Save(ctx context.Context, unit *Unit) error
}
