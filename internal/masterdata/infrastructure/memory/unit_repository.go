package memory

import (
	"context"
	"errors"
	"sync"

	masterdata "frostguard/internal/masterdata/domain"
)

// UnitRepository is an in-memory repository for demo/testing.
type UnitRepository struct {
	mu    sync.RWMutex
	units map[string]masterdata.Unit
}

// NewUnitRepository constructs a repository seeded with units.
func NewUnitRepository(units ...masterdata.Unit) *UnitRepository {
	repo := &UnitRepository{units: make(map[string]masterdata.Unit)}
	for _, unit := range units {
		repo.units[unit.ID] = unit
	}
	return repo
}

// Get returns a copy of the unit, nil when missing.
func (r *UnitRepository) Get(ctx context.Context, id string) (*masterdata.Unit, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	unit, ok := r.units[id]
	if !ok {
		return nil, nil
	}
	unit.SensorTypes = append([]string(nil), unit.SensorTypes...)
	return &unit, nil
}

// Save stores the unit.
func (r *UnitRepository) Save(ctx context.Context, unit *masterdata.Unit) error {
	_ = ctx
	if unit == nil {
		return errors.New("unit repo: nil unit")
	}
	if err := unit.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.units[unit.ID] = *unit
	r.mu.Unlock()
	return nil
}
