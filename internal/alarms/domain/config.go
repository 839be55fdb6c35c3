package alarms

import "errors"

// Scope identifies the level an override applies at.
type Scope string

const (
	ScopeOrg  Scope = "org"
	ScopeSite Scope = "site"
	ScopeUnit Scope = "unit"
)

// Override holds optional per-scope settings. Nil fields are unset.
type Override struct {
	DefinitionID         string    `json:"definition_id"`
	Scope                Scope     `json:"scope"`
	ScopeID              string    `json:"scope_id"`
	Enabled              *bool     `json:"enabled,omitempty"`
	Severity             *Severity `json:"severity,omitempty"`
	ThresholdMin         *float64  `json:"threshold_min,omitempty"`
	ThresholdMax         *float64  `json:"threshold_max,omitempty"`
	DurationMinutes      *int      `json:"duration_minutes,omitempty"`
	CooldownMinutes      *int      `json:"cooldown_minutes,omitempty"`
	EscalationMinutes    *int      `json:"escalation_minutes,omitempty"`
	NotificationChannels []string  `json:"notification_channels,omitempty"`
}

// Validate checks the override key.
func (o Override) Validate() error {
	if o.DefinitionID == "" {
		return errors.New("alarm override: definition id required")
	}
	switch o.Scope {
	case ScopeOrg, ScopeSite, ScopeUnit:
	default:
		return errors.New("alarm override: invalid scope " + string(o.Scope))
	}
	if o.ScopeID == "" {
		return errors.New("alarm override: scope id required")
	}
	return nil
}

// EffectiveConfig is the resolved configuration for one alarm on one unit.
type EffectiveConfig struct {
	Enabled              bool     `json:"enabled"`
	Severity             Severity `json:"severity"`
	ThresholdMin         *float64 `json:"threshold_min,omitempty"`
	ThresholdMax         *float64 `json:"threshold_max,omitempty"`
	DurationMinutes      int      `json:"duration_minutes"`
	CooldownMinutes      int      `json:"cooldown_minutes"`
	EscalationMinutes    int      `json:"escalation_minutes"`
	NotificationChannels []string `json:"notification_channels,omitempty"`
}

// HasThresholds reports whether at least one bound is set.
func (c EffectiveConfig) HasThresholds() bool {
	return c.ThresholdMin != nil || c.ThresholdMax != nil
}

// InRange reports whether value lies inside the inclusive, possibly open-ended range.
func (c EffectiveConfig) InRange(value float64) bool {
	if !c.HasThresholds() {
		return false
	}
	if c.ThresholdMin != nil && value < *c.ThresholdMin {
		return false
	}
	if c.ThresholdMax != nil && value > *c.ThresholdMax {
		return false
	}
	return true
}

// ResolveConfig merges override layers onto definition defaults.
// Layers are ordered most specific first; nil layers are ignored.
func ResolveConfig(def Definition, layers ...*Override) EffectiveConfig {
	set := make([]*Override, 0, len(layers))
	for _, layer := range layers {
		if layer != nil {
			set = append(set, layer)
		}
	}

	cfg := EffectiveConfig{
		Enabled:           firstSet(def.Enabled, set, func(o *Override) *bool { return o.Enabled }),
		Severity:          firstSet(def.Severity, set, func(o *Override) *Severity { return o.Severity }),
		DurationMinutes:   firstSet(def.DurationMinutes, set, func(o *Override) *int { return o.DurationMinutes }),
		CooldownMinutes:   firstSet(def.CooldownMinutes, set, func(o *Override) *int { return o.CooldownMinutes }),
		EscalationMinutes: firstSet(def.EscalationMinutes, set, func(o *Override) *int { return o.EscalationMinutes }),
	}
	cfg.ThresholdMin = firstSetPtr(def.ThresholdMin, set, func(o *Override) *float64 { return o.ThresholdMin })
	cfg.ThresholdMax = firstSetPtr(def.ThresholdMax, set, func(o *Override) *float64 { return o.ThresholdMax })

	cfg.NotificationChannels = append([]string(nil), def.NotificationChannels...)
	for _, layer := range set {
		if layer.NotificationChannels != nil {
			cfg.NotificationChannels = append([]string(nil), layer.NotificationChannels...)
			break
		}
	}
	return cfg
}

func firstSet[T any](fallback T, layers []*Override, field func(*Override) *T) T {
	for _, layer := range layers {
		if value := field(layer); value != nil {
			return *value
		}
	}
	return fallback
}

func firstSetPtr[T any](fallback *T, layers []*Override, field func(*Override) *T) *T {
	for _, layer := range layers {
		if value := field(layer); value != nil {
			copied := *value
			return &copied
		}
	}
	if fallback == nil {
		return nil
	}
	copied := *fallback
	return &copied
}
