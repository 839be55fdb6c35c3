package alarms

import "testing"

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }
func boolPtr(v bool) *bool        { return &v }

func highTempDefinition() Definition {
	return Definition{
		ID:                   "def-high-temp",
		Slug:                 "temp_high",
		Severity:             SeverityCritical,
		Tier:                 TierInstant,
		DetectionField:       "temperature",
		ThresholdMin:         floatPtr(41),
		DurationMinutes:      0,
		CooldownMinutes:      30,
		EscalationMinutes:    15,
		NotificationChannels: []string{"sms"},
		Enabled:              true,
	}
}

func TestResolveConfigDefaultsOnly(t *testing.T) {
	cfg := ResolveConfig(highTempDefinition())
	if !cfg.Enabled || cfg.Severity != SeverityCritical {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.ThresholdMin == nil || *cfg.ThresholdMin != 41 {
		t.Fatalf("expected default threshold 41, got %v", cfg.ThresholdMin)
	}
	if cfg.ThresholdMax != nil {
		t.Fatalf("expected open upper bound")
	}
	if cfg.CooldownMinutes != 30 || cfg.EscalationMinutes != 15 {
		t.Fatalf("unexpected windows: %+v", cfg)
	}
}

func TestResolveConfigMostSpecificWins(t *testing.T) {
	def := highTempDefinition()
	org := &Override{Scope: ScopeOrg, ScopeID: "org-1", ThresholdMin: floatPtr(38), CooldownMinutes: intPtr(60)}
	site := &Override{Scope: ScopeSite, ScopeID: "site-1", ThresholdMin: floatPtr(39)}
	unit := &Override{Scope: ScopeUnit, ScopeID: "unit-1", ThresholdMin: floatPtr(40)}

	cfg := ResolveConfig(def, unit, site, org)
	if *cfg.ThresholdMin != 40 {
		t.Fatalf("expected unit threshold 40, got %v", *cfg.ThresholdMin)
	}
	if cfg.CooldownMinutes != 60 {
		t.Fatalf("expected org cooldown 60, got %d", cfg.CooldownMinutes)
	}

	cfg = ResolveConfig(def, nil, site, org)
	if *cfg.ThresholdMin != 39 {
		t.Fatalf("expected site threshold 39, got %v", *cfg.ThresholdMin)
	}
}

func TestResolveConfigUnitOverrideDoesNotLeakToSibling(t *testing.T) {
	def := highTempDefinition()
	site := &Override{Scope: ScopeSite, ScopeID: "site-1", Severity: sevPtr(SeverityWarning)}
	unitA := &Override{Scope: ScopeUnit, ScopeID: "unit-a", ThresholdMin: floatPtr(45)}

	a := ResolveConfig(def, unitA, site)
	b := ResolveConfig(def, nil, site)
	if *a.ThresholdMin != 45 {
		t.Fatalf("expected unit-a threshold 45, got %v", *a.ThresholdMin)
	}
	if *b.ThresholdMin != 41 {
		t.Fatalf("expected sibling threshold 41, got %v", *b.ThresholdMin)
	}
	if a.Severity != SeverityWarning || b.Severity != SeverityWarning {
		t.Fatalf("expected site severity on both units")
	}
}

func TestResolveConfigDisableAtAnyScope(t *testing.T) {
	cfg := ResolveConfig(highTempDefinition(), nil, nil, &Override{Scope: ScopeOrg, ScopeID: "org-1", Enabled: boolPtr(false)})
	if cfg.Enabled {
		t.Fatalf("expected org disable to apply")
	}
	cfg = ResolveConfig(highTempDefinition(), &Override{Scope: ScopeUnit, ScopeID: "u", Enabled: boolPtr(true)}, nil, &Override{Scope: ScopeOrg, ScopeID: "org-1", Enabled: boolPtr(false)})
	if !cfg.Enabled {
		t.Fatalf("expected unit enable to win over org disable")
	}
}

func TestResolveConfigDoesNotAliasDefinition(t *testing.T) {
	def := highTempDefinition()
	cfg := ResolveConfig(def)
	*cfg.ThresholdMin = 0
	cfg.NotificationChannels[0] = "changed"
	if *def.ThresholdMin != 41 || def.NotificationChannels[0] != "sms" {
		t.Fatalf("resolved config aliases definition")
	}
}

func TestEffectiveConfigInRange(t *testing.T) {
	cfg := EffectiveConfig{ThresholdMin: floatPtr(41)}
	if !cfg.InRange(41) || !cfg.InRange(100) || cfg.InRange(40.9) {
		t.Fatalf("open-ended min range mismatch")
	}
	cfg = EffectiveConfig{ThresholdMax: floatPtr(20)}
	if !cfg.InRange(20) || cfg.InRange(20.1) {
		t.Fatalf("open-ended max range mismatch")
	}
	cfg = EffectiveConfig{}
	if cfg.InRange(0) {
		t.Fatalf("range without bounds must never match")
	}
}

func TestDefinitionAppliesTo(t *testing.T) {
	def := Definition{ApplicableUnitTypes: []string{"walk_in_cooler", "freezer"}}
	if !def.AppliesTo("freezer", nil) {
		t.Fatalf("expected freezer to match")
	}
	if def.AppliesTo("display_case", nil) {
		t.Fatalf("expected display_case to be excluded")
	}

	universal := Definition{ApplicableSensorTypes: []string{"door"}}
	if universal.AppliesTo("freezer", []string{"temperature"}) {
		t.Fatalf("sensor-specific alarm must require a matching sensor")
	}
	if !universal.AppliesTo("freezer", []string{"temperature", "door"}) {
		t.Fatalf("expected door sensor to match")
	}
}

func TestEventStatusTransitions(t *testing.T) {
	if !StatusActive.CanTransition(StatusAutoResolved) {
		t.Fatalf("active -> auto_resolved must be allowed")
	}
	if StatusAcknowledged.CanTransition(StatusAutoResolved) {
		t.Fatalf("acknowledged -> auto_resolved must not be allowed")
	}
	if StatusResolved.CanTransition(StatusActive) || StatusAutoResolved.CanTransition(StatusResolved) {
		t.Fatalf("terminal states must be final")
	}
}

func sevPtr(v Severity) *Severity { return &v }
