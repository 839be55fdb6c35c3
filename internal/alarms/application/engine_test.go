package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"frostguard/internal/alarms/catalog"
	alarms "frostguard/internal/alarms/domain"
	"frostguard/internal/alarms/evaluator"
	"frostguard/internal/alarms/infrastructure/memory"
	"frostguard/internal/auth"
	masterdata "frostguard/internal/masterdata/domain"
	unitmemory "frostguard/internal/masterdata/infrastructure/memory"
	telemetry "frostguard/internal/telemetry/domain"
	historymemory "frostguard/internal/telemetry/infrastructure/memory"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func floatPtr(v float64) *float64 { return &v }
func boolPtr(v bool) *bool        { return &v }

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type recordingNotifier struct {
	mu     sync.Mutex
	events []AlarmEvent
}

func (n *recordingNotifier) Notify(ctx context.Context, event AlarmEvent) {
	n.mu.Lock()
	n.events = append(n.events, event)
	n.mu.Unlock()
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	engine    *Engine
	lifecycle *Lifecycle
	events    *memory.EventStore
	alerts    *memory.AlertStore
	logs      *memory.EvaluationLogStore
	overrides *memory.OverrideStore
	history   *historymemory.History
	notifier  *recordingNotifier
}

func newFixture(t *testing.T, registry *evaluator.Registry, defs ...alarms.Definition) *fixture {
	t.Helper()
	f := &fixture{
		events:    memory.NewEventStore(),
		alerts:    memory.NewAlertStore(),
		logs:      memory.NewEvaluationLogStore(),
		overrides: memory.NewOverrideStore(),
		history:   historymemory.NewHistory(),
		notifier:  &recordingNotifier{},
	}
	units := unitmemory.NewUnitRepository(masterdata.Unit{
		ID: "unit-1", OrgID: "org-1", SiteID: "site-1", UnitType: "walk_in_cooler", SensorTypes: []string{"temperature", "door", "humidity"},
	})
	cat, err := catalog.New(memory.NewDefinitionStore(defs...), f.overrides, units)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	f.lifecycle, err = NewLifecycle(f.events, f.alerts, WithNotifier(f.notifier), WithClock(fixedClock{now: t0}))
	if err != nil {
		t.Fatalf("lifecycle: %v", err)
	}
	if registry == nil {
		registry = evaluator.NewDefaultRegistry(evaluator.DefaultTuning())
	}
	f.engine, err = NewEngine(cat, registry, f.history, f.events, f.lifecycle, f.logs,
		WithRecorder(f.history),
		WithEngineClock(fixedClock{now: t0}),
		WithWorkers(4),
	)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	return f
}

func tempHigh() alarms.Definition {
	return alarms.Definition{ID: "def-temp-high", Slug: "temp_high", DisplayName: "High temperature", Category: alarms.CategoryTemperature, Tier: alarms.TierInstant, Severity: alarms.SeverityCritical, DetectionField: "temperature", ThresholdMin: floatPtr(41), CooldownMinutes: 30, Enabled: true, SortOrder: 10}
}

func sustainedHigh() alarms.Definition {
	return alarms.Definition{ID: "def-sustained", Slug: "temp_sustained_high", Category: alarms.CategoryTemperature, Subcategory: "sustained", Tier: alarms.TierPattern, Severity: alarms.SeverityCritical, DetectionField: "temperature", ThresholdMin: floatPtr(41), DurationMinutes: 30, CooldownMinutes: 60, Enabled: true, SortOrder: 20}
}

func humidityHigh() alarms.Definition {
	return alarms.Definition{ID: "def-humidity", Slug: "humidity_high", Category: alarms.CategoryEnvironment, Tier: alarms.TierEnvironment, Severity: alarms.SeverityWarning, DetectionField: "humidity", ThresholdMin: floatPtr(85), CooldownMinutes: 60, Enabled: true, SortOrder: 30}
}

func doorOpen() alarms.Definition {
	return alarms.Definition{ID: "def-door", Slug: "door_open_warning", Category: alarms.CategoryDoor, Tier: alarms.TierInstant, Severity: alarms.SeverityWarning, DetectionField: "door_open", DurationMinutes: 5, CooldownMinutes: 15, ApplicableSensorTypes: []string{"door"}, Enabled: true, SortOrder: 40}
}

func reading(at time.Time, temp float64) telemetry.Reading {
	return telemetry.Reading{ReadingID: "r-" + at.Format("150405"), UnitID: "unit-1", OrgID: "org-1", SiteID: "site-1", Temperature: floatPtr(temp), RecordedAt: at}
}

func logsFor(logs []alarms.EvaluationLog, readingID, slug string) *alarms.EvaluationLog {
	for i := range logs {
		if logs[i].ReadingID == readingID && logs[i].Slug == slug {
			return &logs[i]
		}
	}
	return nil
}

func TestEngineNormalSeverityNeverFires(t *testing.T) {
	def := alarms.Definition{ID: "def-safe", Slug: "temp_in_safe_range", Tier: alarms.TierInstant, Severity: alarms.SeverityNormal, DetectionField: "temperature", ThresholdMin: floatPtr(-100), Enabled: true}
	f := newFixture(t, nil, def)

	summary, err := f.engine.Evaluate(context.Background(), reading(t0, 45))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if summary.Fired != 0 || len(f.events.All()) != 0 {
		t.Fatalf("normal severity must never create events, got %+v", summary)
	}
	if summary.Evaluated != 0 {
		t.Fatalf("normal severity alarms are not dispatched, got %+v", summary)
	}
	row := logsFor(f.logs.All(), reading(t0, 45).ReadingID, "temp_in_safe_range")
	if row == nil || row.Reason != alarms.ReasonSeverityNormal {
		t.Fatalf("expected severity_normal log row, got %+v", row)
	}
}

func TestEngineHighTemperatureCooldownScenario(t *testing.T) {
	f := newFixture(t, nil, tempHigh(), sustainedHigh())

	readings := []telemetry.Reading{reading(t0, 45), reading(t0.Add(2*time.Minute), 45), reading(t0.Add(4*time.Minute), 45)}
	var summaries []Summary
	for _, r := range readings {
		summary, err := f.engine.Evaluate(context.Background(), r)
		if err != nil {
			t.Fatalf("evaluate: %v", err)
		}
		summaries = append(summaries, summary)
	}

	if summaries[0].Fired != 1 || summaries[0].FiredSlugs[0] != "temp_high" {
		t.Fatalf("expected temp_high to fire on first reading, got %+v", summaries[0])
	}
	for i, summary := range summaries[1:] {
		if summary.Fired != 0 || summary.Suppressed != 1 {
			t.Fatalf("reading %d: expected cooldown suppression, got %+v", i+2, summary)
		}
	}
	if len(f.events.All()) != 1 || len(f.alerts.All()) != 1 {
		t.Fatalf("expected one event and one alert, got %d/%d", len(f.events.All()), len(f.alerts.All()))
	}

	logs := f.logs.All()
	if len(logs) != 6 {
		t.Fatalf("expected one log row per alarm per reading, got %d", len(logs))
	}
	for _, r := range readings {
		row := logsFor(logs, r.ReadingID, "temp_sustained_high")
		if row == nil || row.Fired || row.Reason != alarms.ReasonInsufficientHistory {
			t.Fatalf("expected sustained rule to wait for its duration, got %+v", row)
		}
	}
	for _, r := range readings[1:] {
		row := logsFor(logs, r.ReadingID, "temp_high")
		if row == nil || row.Reason != alarms.ReasonCooldownActive || !row.CooldownActive || row.DedupSuppressed {
			t.Fatalf("expected cooldown_active row, got %+v", row)
		}
		if row.ThresholdMin == nil || *row.ThresholdMin != 41 || row.ThresholdMax != nil {
			t.Fatalf("expected thresholds in force on the row, got min=%v max=%v", row.ThresholdMin, row.ThresholdMax)
		}
	}
	row := logsFor(logs, readings[0].ReadingID, "temp_high")
	if row == nil || !row.Fired || row.EventID == "" {
		t.Fatalf("expected fired row with event id, got %+v", row)
	}
	if row.CooldownActive || row.DedupSuppressed {
		t.Fatalf("fired row must not carry suppression flags, got %+v", row)
	}
	if row.ThresholdMin == nil || *row.ThresholdMin != 41 {
		t.Fatalf("expected threshold_min 41 on fired row, got %v", row.ThresholdMin)
	}
}

func TestEngineDoorScenarioAutoResolves(t *testing.T) {
	f := newFixture(t, nil, doorOpen())
	door := func(at time.Time, open bool) telemetry.Reading {
		return telemetry.Reading{ReadingID: "d-" + at.Format("150405"), UnitID: "unit-1", OrgID: "org-1", SiteID: "site-1", DoorOpen: boolPtr(open), RecordedAt: at}
	}
	ctx := context.Background()

	if _, err := f.engine.Evaluate(ctx, door(t0, true)); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	summary, _ := f.engine.Evaluate(ctx, door(t0.Add(time.Minute), true))
	if summary.Fired != 0 {
		t.Fatalf("door open one minute must not fire, got %+v", summary)
	}
	summary, _ = f.engine.Evaluate(ctx, door(t0.Add(6*time.Minute), true))
	if summary.Fired != 1 {
		t.Fatalf("expected door alarm at T+6, got %+v", summary)
	}
	event := f.events.All()[0]
	if event.TriggerValue == nil || *event.TriggerValue != 6 {
		t.Fatalf("expected trigger value 6 minutes, got %v", event.TriggerValue)
	}

	f.history.AddDoorEvent("unit-1", telemetry.DoorEvent{State: telemetry.DoorClosed, OccurredAt: t0.Add(7 * time.Minute)})
	summary, _ = f.engine.Evaluate(ctx, door(t0.Add(8*time.Minute), false))
	if summary.AutoResolved != 1 {
		t.Fatalf("expected auto-resolve at T+8, got %+v", summary)
	}
	event = f.events.All()[0]
	if event.Status != alarms.StatusAutoResolved || event.ResolutionNote != alarms.AutoResolveNote {
		t.Fatalf("expected auto_resolved event, got %+v", event)
	}
	if alert := f.alerts.All()[0]; alert.Status != alarms.AlertResolved {
		t.Fatalf("expected bridged alert resolved, got %s", alert.Status)
	}
	got := f.notifier.types()
	if len(got) != 2 || got[0] != EventFired || got[1] != EventAutoResolved {
		t.Fatalf("unexpected lifecycle notifications: %v", got)
	}
}

func TestEngineSharedCorrelationID(t *testing.T) {
	f := newFixture(t, nil, tempHigh(), humidityHigh())
	r := reading(t0, 45)
	r.Humidity = floatPtr(90)

	summary, err := f.engine.Evaluate(context.Background(), r)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if summary.Fired != 2 || summary.CorrelationID == "" {
		t.Fatalf("expected two correlated firings, got %+v", summary)
	}
	for _, event := range f.events.All() {
		if event.CorrelationID != summary.CorrelationID || event.CorrelationType != alarms.CorrelationMultiFire {
			t.Fatalf("expected shared correlation id, got %+v", event)
		}
	}
}

func TestEngineSingleFiringHasNoCorrelationID(t *testing.T) {
	f := newFixture(t, nil, tempHigh(), humidityHigh())
	summary, _ := f.engine.Evaluate(context.Background(), reading(t0, 45))
	if summary.Fired != 1 || summary.CorrelationID != "" {
		t.Fatalf("single firing must not be correlated, got %+v", summary)
	}
}

func TestEngineFailedEventWriteSuppressesAlert(t *testing.T) {
	f := newFixture(t, nil, tempHigh(), humidityHigh())
	f.events.FailCreate = errors.New("db down")
	r := reading(t0, 45)

	summary, err := f.engine.Evaluate(context.Background(), r)
	if err != nil {
		t.Fatalf("storage errors must not fail the invocation: %v", err)
	}
	if summary.Fired != 0 || len(f.alerts.All()) != 0 {
		t.Fatalf("expected no alert without a persisted event, got %+v alerts=%d", summary, len(f.alerts.All()))
	}
	if row := logsFor(f.logs.All(), r.ReadingID, "temp_high"); row == nil || row.Reason != alarms.ReasonPersistFailed {
		t.Fatalf("expected persist_failed row, got %+v", row)
	}
	if row := logsFor(f.logs.All(), r.ReadingID, "humidity_high"); row == nil || row.Reason != alarms.ReasonFieldMissing {
		t.Fatalf("other alarms must still be evaluated, got %+v", row)
	}
}

func TestEngineRejectsMissingIdentifiers(t *testing.T) {
	f := newFixture(t, nil, tempHigh())
	r := reading(t0, 45)
	r.OrgID = ""
	if _, err := f.engine.Evaluate(context.Background(), r); !errors.Is(err, telemetry.ErrInvalidReading) {
		t.Fatalf("expected ErrInvalidReading, got %v", err)
	}
	if len(f.logs.All()) != 0 {
		t.Fatalf("no evaluation may run for an invalid reading")
	}
}

func TestEngineDedupUntilAcknowledged(t *testing.T) {
	def := tempHigh()
	def.CooldownMinutes = 1
	f := newFixture(t, nil, def)
	ctx := context.Background()

	if s, _ := f.engine.Evaluate(ctx, reading(t0, 45)); s.Fired != 1 {
		t.Fatalf("expected first firing, got %+v", s)
	}
	r2 := reading(t0.Add(5*time.Minute), 45)
	s, _ := f.engine.Evaluate(ctx, r2)
	if s.Fired != 0 || s.Suppressed != 1 {
		t.Fatalf("expected dedup while active, got %+v", s)
	}
	if row := logsFor(f.logs.All(), r2.ReadingID, "temp_high"); row == nil || row.Reason != alarms.ReasonDedupActiveExists || !row.DedupSuppressed || row.CooldownActive {
		t.Fatalf("expected dedup_active_exists, got %+v", row)
	}

	first := f.events.All()[0]
	if _, err := f.lifecycle.Acknowledge(ctx, first.ID, "ops@example.com"); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if s, _ := f.engine.Evaluate(ctx, reading(t0.Add(10*time.Minute), 45)); s.Fired != 1 {
		t.Fatalf("expected re-fire after acknowledgement and cooldown, got %+v", s)
	}
	active := 0
	for _, event := range f.events.All() {
		if event.Status == alarms.StatusActive {
			active++
		}
	}
	if active != 1 {
		t.Fatalf("expected exactly one active event, got %d", active)
	}
}

func TestEngineMissingFieldKeepsEventActive(t *testing.T) {
	f := newFixture(t, nil, tempHigh())
	ctx := context.Background()
	if s, _ := f.engine.Evaluate(ctx, reading(t0, 45)); s.Fired != 1 {
		t.Fatalf("expected temp_high to fire, got %+v", s)
	}

	doorOnly := telemetry.Reading{ReadingID: "door-only", UnitID: "unit-1", OrgID: "org-1", SiteID: "site-1", DoorOpen: boolPtr(false), RecordedAt: t0.Add(time.Minute)}
	s, err := f.engine.Evaluate(ctx, doorOnly)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if s.AutoResolved != 0 {
		t.Fatalf("a reading without temperature must not resolve temp_high, got %+v", s)
	}
	if event := f.events.All()[0]; event.Status != alarms.StatusActive {
		t.Fatalf("expected event to stay active, got %s", event.Status)
	}
	if alert := f.alerts.All()[0]; alert.Status == alarms.AlertResolved {
		t.Fatalf("bridged alert must stay open")
	}
	if row := logsFor(f.logs.All(), "door-only", "temp_high"); row == nil || row.Reason != alarms.ReasonFieldMissing {
		t.Fatalf("expected field_missing log row, got %+v", row)
	}

	s, _ = f.engine.Evaluate(ctx, reading(t0.Add(2*time.Minute), 38))
	if s.AutoResolved != 1 {
		t.Fatalf("expected in-range temperature to auto-resolve, got %+v", s)
	}
}

func TestEngineAcknowledgedEventIsNotAutoResolved(t *testing.T) {
	f := newFixture(t, nil, tempHigh())
	ctx := context.Background()
	_, _ = f.engine.Evaluate(ctx, reading(t0, 45))
	event := f.events.All()[0]
	if _, err := f.lifecycle.Acknowledge(ctx, event.ID, "ops"); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	s, _ := f.engine.Evaluate(ctx, reading(t0.Add(5*time.Minute), 38))
	if s.AutoResolved != 0 {
		t.Fatalf("acknowledged events wait for a human, got %+v", s)
	}
}

func TestEngineDisabledIsNotEvidenceOfRecovery(t *testing.T) {
	f := newFixture(t, nil, tempHigh())
	ctx := context.Background()
	_, _ = f.engine.Evaluate(ctx, reading(t0, 45))

	if err := f.overrides.Upsert(ctx, &alarms.Override{DefinitionID: "def-temp-high", Scope: alarms.ScopeUnit, ScopeID: "unit-1", Enabled: boolPtr(false)}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	s, _ := f.engine.Evaluate(ctx, reading(t0.Add(40*time.Minute), 38))
	if s.AutoResolved != 0 || s.Evaluated != 0 {
		t.Fatalf("disabled alarm must not resolve or evaluate, got %+v", s)
	}
	if f.events.All()[0].Status != alarms.StatusActive {
		t.Fatalf("event must stay active")
	}

	if err := f.overrides.Upsert(ctx, &alarms.Override{DefinitionID: "def-temp-high", Scope: alarms.ScopeUnit, ScopeID: "unit-1", Enabled: boolPtr(true)}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	s, _ = f.engine.Evaluate(ctx, reading(t0.Add(41*time.Minute), 38))
	if s.AutoResolved != 1 {
		t.Fatalf("expected recovery to auto-resolve, got %+v", s)
	}
}

type blockingEvaluator struct{}

func (blockingEvaluator) Tier() alarms.Tier { return alarms.TierInstant }

func (blockingEvaluator) Evaluate(ctx context.Context, in evaluator.Input, history telemetry.History) (evaluator.Result, error) {
	<-ctx.Done()
	return evaluator.Result{Fired: true}, nil
}

func TestEngineTimedOutEvaluationIsNotAFire(t *testing.T) {
	f := newFixture(t, evaluator.NewRegistry(blockingEvaluator{}), tempHigh())
	f.engine.timeout = 20 * time.Millisecond
	r := reading(t0, 45)

	s, err := f.engine.Evaluate(context.Background(), r)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if s.Fired != 0 {
		t.Fatalf("timed out evaluation must not fire, got %+v", s)
	}
	if row := logsFor(f.logs.All(), r.ReadingID, "temp_high"); row == nil || row.Reason != alarms.ReasonEvaluationError {
		t.Fatalf("expected evaluation_error, got %+v", row)
	}
}

func TestLifecycleResolveAndTerminalStates(t *testing.T) {
	f := newFixture(t, nil, tempHigh())
	ctx := context.Background()
	_, _ = f.engine.Evaluate(ctx, reading(t0, 45))
	event := f.events.All()[0]

	resolved, err := f.lifecycle.Resolve(ctx, event.ID, "ops", "product moved")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != alarms.StatusResolved || f.alerts.All()[0].Status != alarms.AlertResolved {
		t.Fatalf("expected resolved event and alert")
	}
	if _, err := f.lifecycle.Acknowledge(ctx, event.ID, "ops"); !errors.Is(err, alarms.ErrInvalidTransition) {
		t.Fatalf("terminal events refuse transitions, got %v", err)
	}
	if _, err := f.lifecycle.Resolve(ctx, "missing", "ops", ""); !errors.Is(err, alarms.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLifecycleRejectsForeignOrg(t *testing.T) {
	f := newFixture(t, nil, tempHigh())
	_, _ = f.engine.Evaluate(context.Background(), reading(t0, 45))
	event := f.events.All()[0]
	ctx := auth.WithIdentity(context.Background(), "org-2", auth.RoleOperator, "intruder")
	if _, err := f.lifecycle.Acknowledge(ctx, event.ID, "intruder"); !errors.Is(err, auth.ErrOrgMismatch) {
		t.Fatalf("expected ErrOrgMismatch, got %v", err)
	}
}
