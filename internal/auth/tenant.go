package auth

import (
	"context"
	"errors"

	masterdata "frostguard/internal/masterdata/domain"
)

var (
	// ErrOrgMismatch indicates the resource belongs to another org.
	ErrOrgMismatch = errors.New("auth: org mismatch")
	// ErrNotFound indicates the unit is not registered.
	ErrNotFound = errors.New("auth: resource not found")
)

// UnitOrgChecker validates that a unit belongs to the caller's org.
type UnitOrgChecker interface {
	EnsureUnitOrg(ctx context.Context, orgID, unitID string) error
}

// UnitChecker resolves unit ownership through the unit registry.
type UnitChecker struct {
	units masterdata.UnitRepository
}

// NewUnitChecker returns nil for a nil registry; a nil checker allows all.
func NewUnitChecker(units masterdata.UnitRepository) *UnitChecker {
	if units == nil {
		return nil
	}
	return &UnitChecker{units: units}
}

// EnsureUnitOrg returns ErrNotFound for unknown units and ErrOrgMismatch
// when the unit is registered to another org. Anonymous calls pass.
func (c *UnitChecker) EnsureUnitOrg(ctx context.Context, orgID, unitID string) error {
	if c == nil || orgID == "" || unitID == "" {
		return nil
	}
	unit, err := c.units.Get(ctx, unitID)
	if errors.Is(err, masterdata.ErrUnitNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if unit == nil {
		return ErrNotFound
	}
	if unit.OrgID != orgID {
		return ErrOrgMismatch
	}
	return nil
}
