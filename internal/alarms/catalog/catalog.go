// Package catalog answers which alarms apply to a unit and how they are configured.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	alarms "frostguard/internal/alarms/domain"
	masterdata "frostguard/internal/masterdata/domain"
	"frostguard/internal/observability/metrics"
)

const (
	definitionsKey  = "definitions"
	defaultCacheTTL = 5 * time.Minute
	cleanupInterval = 10 * time.Minute
)

// OverrideSource loads the override layers for one unit. Implemented by the
// Postgres repository and the Redis cache in front of it.
type OverrideSource interface {
	ListForScopes(ctx context.Context, orgID, siteID, unitID string) ([]alarms.Override, error)
}

// AvailableAlarm is one applicable definition with its effective config.
type AvailableAlarm struct {
	Definition alarms.Definition      `json:"definition"`
	Config     alarms.EffectiveConfig `json:"config"`
	Enabled    bool                   `json:"enabled"`
	// ConfigErr is set when the definition cannot be evaluated.
	ConfigErr error `json:"-"`
}

// Catalog reads definitions, applicability and overrides.
type Catalog struct {
	definitions alarms.DefinitionRepository
	overrides   OverrideSource
	units       masterdata.UnitRepository
	cache       *gocache.Cache
	logger      *zap.Logger
}

// Option configures the catalog.
type Option func(*Catalog)

// WithCacheTTL sets how long definitions stay cached.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Catalog) {
		if ttl > 0 {
			c.cache = gocache.New(ttl, cleanupInterval)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Catalog) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New constructs a catalog.
func New(definitions alarms.DefinitionRepository, overrides OverrideSource, units masterdata.UnitRepository, opts ...Option) (*Catalog, error) {
	if definitions == nil {
		return nil, errors.New("catalog: nil definition repository")
	}
	if overrides == nil {
		return nil, errors.New("catalog: nil override source")
	}
	if units == nil {
		return nil, errors.New("catalog: nil unit repository")
	}
	c := &Catalog{
		definitions: definitions,
		overrides:   overrides,
		units:       units,
		cache:       gocache.New(defaultCacheTTL, cleanupInterval),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Invalidate drops cached definitions.
func (c *Catalog) Invalidate() {
	c.cache.Delete(definitionsKey)
}

// Definitions returns every definition ordered by sort order.
func (c *Catalog) Definitions(ctx context.Context) ([]alarms.Definition, error) {
	if cached, ok := c.cache.Get(definitionsKey); ok {
		metrics.IncConfigCache("definitions", true)
		return cached.([]alarms.Definition), nil
	}
	metrics.IncConfigCache("definitions", false)
	defs, err := c.definitions.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog: list definitions: %w", err)
	}
	sort.SliceStable(defs, func(i, j int) bool {
		if defs[i].SortOrder != defs[j].SortOrder {
			return defs[i].SortOrder < defs[j].SortOrder
		}
		return defs[i].Slug < defs[j].Slug
	})
	c.cache.SetDefault(definitionsKey, defs)
	return defs, nil
}

// ListAvailableAlarms returns the definitions applicable to the unit with
// their resolved configs. Disabled alarms are included with Enabled=false.
func (c *Catalog) ListAvailableAlarms(ctx context.Context, unitID, orgID, siteID string) ([]AvailableAlarm, error) {
	defs, err := c.Definitions(ctx)
	if err != nil {
		return nil, err
	}
	unit, err := c.units.Get(ctx, unitID)
	if err != nil {
		return nil, fmt.Errorf("catalog: load unit %s: %w", unitID, err)
	}
	if unit != nil && unit.OrgID != "" && unit.OrgID != orgID {
		return nil, fmt.Errorf("catalog: unit %s does not belong to org %s: %w", unitID, orgID, masterdata.ErrUnitNotFound)
	}
	if unit == nil {
		c.logger.Warn("unit not in catalog, using universal alarms only",
			zap.String("unit_id", unitID),
			zap.String("org_id", orgID),
		)
	}

	applicable := make([]alarms.Definition, 0, len(defs))
	for _, def := range defs {
		if unit == nil {
			if len(def.ApplicableUnitTypes) == 0 && !def.SensorSpecific() {
				applicable = append(applicable, def)
			}
			continue
		}
		if def.AppliesTo(unit.UnitType, unit.SensorTypes) {
			applicable = append(applicable, def)
		}
	}

	configs, err := c.ResolveAll(ctx, applicable, orgID, siteID, unitID)
	if err != nil {
		return nil, err
	}
	out := make([]AvailableAlarm, 0, len(applicable))
	for _, def := range applicable {
		item := AvailableAlarm{Definition: def, Config: configs[def.ID]}
		if err := def.Validate(); err != nil {
			item.ConfigErr = err
		} else {
			item.Enabled = item.Config.Enabled
		}
		out = append(out, item)
	}
	return out, nil
}

// Resolve returns the effective config of one alarm for a unit.
func (c *Catalog) Resolve(ctx context.Context, slug, orgID, siteID, unitID string) (alarms.EffectiveConfig, error) {
	defs, err := c.Definitions(ctx)
	if err != nil {
		return alarms.EffectiveConfig{}, err
	}
	for _, def := range defs {
		if def.Slug != slug {
			continue
		}
		configs, err := c.ResolveAll(ctx, []alarms.Definition{def}, orgID, siteID, unitID)
		if err != nil {
			return alarms.EffectiveConfig{}, err
		}
		return configs[def.ID], nil
	}
	return alarms.EffectiveConfig{}, fmt.Errorf("%w: %s", alarms.ErrDefinitionNotFound, slug)
}

// ResolveAll resolves configs for many definitions with a single override load.
// The result is keyed by definition id.
func (c *Catalog) ResolveAll(ctx context.Context, defs []alarms.Definition, orgID, siteID, unitID string) (map[string]alarms.EffectiveConfig, error) {
	overrides, err := c.overrides.ListForScopes(ctx, orgID, siteID, unitID)
	if err != nil {
		return nil, fmt.Errorf("catalog: load overrides: %w", err)
	}
	layers := indexOverrides(overrides, orgID, siteID, unitID)
	out := make(map[string]alarms.EffectiveConfig, len(defs))
	for _, def := range defs {
		l := layers[def.ID]
		out[def.ID] = alarms.ResolveConfig(def, l.unit, l.site, l.org)
	}
	return out, nil
}

type overrideLayers struct {
	org, site, unit *alarms.Override
}

func indexOverrides(overrides []alarms.Override, orgID, siteID, unitID string) map[string]overrideLayers {
	out := make(map[string]overrideLayers)
	for i := range overrides {
		o := &overrides[i]
		l := out[o.DefinitionID]
		switch {
		case o.Scope == alarms.ScopeUnit && o.ScopeID == unitID && unitID != "":
			l.unit = o
		case o.Scope == alarms.ScopeSite && o.ScopeID == siteID && siteID != "":
			l.site = o
		case o.Scope == alarms.ScopeOrg && o.ScopeID == orgID && orgID != "":
			l.org = o
		default:
			continue
		}
		out[o.DefinitionID] = l
	}
	return out
}
