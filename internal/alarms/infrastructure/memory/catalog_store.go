// Package memory provides in-memory alarm stores for tests and dev mode.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	alarms "frostguard/internal/alarms/domain"
)

// DefinitionStore is an in-memory alarms.DefinitionRepository.
type DefinitionStore struct {
	mu    sync.RWMutex
	items map[string]alarms.Definition
}

// NewDefinitionStore constructs a store seeded with definitions.
func NewDefinitionStore(defs ...alarms.Definition) *DefinitionStore {
	s := &DefinitionStore{items: make(map[string]alarms.Definition)}
	for i := range defs {
		_ = s.Upsert(context.Background(), &defs[i])
	}
	return s
}

// List returns definitions ordered by sort order then slug.
func (s *DefinitionStore) List(ctx context.Context) ([]alarms.Definition, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]alarms.Definition, 0, len(s.items))
	for _, def := range s.items {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].Slug < out[j].Slug
	})
	return out, nil
}

// Upsert stores a definition keyed by slug.
func (s *DefinitionStore) Upsert(ctx context.Context, def *alarms.Definition) error {
	_ = ctx
	if def == nil {
		return errors.New("definition store: nil definition")
	}
	if def.Slug == "" {
		return errors.New("definition store: empty slug")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.items[def.Slug]; ok && def.ID == "" {
		def.ID = existing.ID
	}
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	s.items[def.Slug] = *def
	return nil
}

// OverrideStore is an in-memory alarms.OverrideRepository.
type OverrideStore struct {
	mu    sync.RWMutex
	items map[overrideKey]alarms.Override
}

type overrideKey struct {
	definitionID string
	scope        alarms.Scope
	scopeID      string
}

// NewOverrideStore constructs an empty store.
func NewOverrideStore() *OverrideStore {
	return &OverrideStore{items: make(map[overrideKey]alarms.Override)}
}

// ListForScopes returns overrides keyed to the org, site or unit.
func (s *OverrideStore) ListForScopes(ctx context.Context, orgID, siteID, unitID string) ([]alarms.Override, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []alarms.Override
	for key, o := range s.items {
		switch {
		case key.scope == alarms.ScopeOrg && key.scopeID == orgID,
			key.scope == alarms.ScopeSite && key.scopeID == siteID,
			key.scope == alarms.ScopeUnit && key.scopeID == unitID:
			out = append(out, o)
		}
	}
	return out, nil
}

// Upsert stores an override keyed by definition, scope and scope id.
func (s *OverrideStore) Upsert(ctx context.Context, override *alarms.Override) error {
	_ = ctx
	if override == nil {
		return errors.New("override store: nil override")
	}
	if err := override.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[overrideKey{override.DefinitionID, override.Scope, override.ScopeID}] = *override
	return nil
}
