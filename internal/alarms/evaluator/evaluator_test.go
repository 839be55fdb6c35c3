package evaluator

import (
	"context"
	"errors"
	"testing"
	"time"

	alarms "frostguard/internal/alarms/domain"
	telemetry "frostguard/internal/telemetry/domain"
	"frostguard/internal/telemetry/infrastructure/memory"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func floatPtr(v float64) *float64 { return &v }
func boolPtr(v bool) *bool        { return &v }

func tempReading(unitID string, at time.Time, temp float64) telemetry.Reading {
	return telemetry.Reading{UnitID: unitID, OrgID: "org-1", SiteID: "site-1", Temperature: floatPtr(temp), RecordedAt: at}
}

func input(def alarms.Definition, reading telemetry.Reading) Input {
	return Input{Definition: def, Config: alarms.ResolveConfig(def), Reading: reading}
}

func recordAll(t *testing.T, h *memory.History, readings ...telemetry.Reading) {
	t.Helper()
	for _, r := range readings {
		if err := h.Record(context.Background(), r); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
}

type failingHistory struct{}

func (failingHistory) Samples(context.Context, string, string, time.Time, time.Time) ([]telemetry.Sample, error) {
	return nil, errors.New("history down")
}
func (failingHistory) LatestDoorEvent(context.Context, string, string, time.Time) (*telemetry.DoorEvent, error) {
	return nil, errors.New("history down")
}
func (failingHistory) SiteSnapshots(context.Context, string, string) ([]telemetry.UnitSnapshot, error) {
	return nil, errors.New("history down")
}

func TestRegistryNormalSeverityNeverFires(t *testing.T) {
	reg := NewDefaultRegistry(DefaultTuning())
	def := alarms.Definition{Slug: "temp_info", Tier: alarms.TierInstant, Severity: alarms.SeverityNormal, DetectionField: "temperature", ThresholdMin: floatPtr(-100), Enabled: true}
	res, err := reg.Evaluate(context.Background(), input(def, tempReading("u1", base, 80)), nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Fired || res.Reason != alarms.ReasonSeverityNormal {
		t.Fatalf("expected severity_normal non-fire, got %+v", res)
	}
}

func TestRegistryUnknownTier(t *testing.T) {
	reg := NewRegistry(NewThresholdEvaluator(alarms.TierInstant))
	def := alarms.Definition{Slug: "x", Tier: alarms.TierSite, Severity: alarms.SeverityWarning}
	res, err := reg.Evaluate(context.Background(), input(def, tempReading("u1", base, 10)), nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Fired || res.Reason != alarms.ReasonUnknownTier {
		t.Fatalf("expected unknown_tier, got %+v", res)
	}
}

func TestThresholdEvaluator(t *testing.T) {
	ev := NewThresholdEvaluator(alarms.TierInstant)
	def := alarms.Definition{Slug: "temp_high", Tier: alarms.TierInstant, Severity: alarms.SeverityCritical, DetectionField: "temperature", ThresholdMin: floatPtr(41)}

	cases := []struct {
		name    string
		reading telemetry.Reading
		fired   bool
		reason  alarms.Reason
	}{
		{"breach", tempReading("u1", base, 45), true, alarms.ReasonThresholdBreached},
		{"boundary", tempReading("u1", base, 41), true, alarms.ReasonThresholdBreached},
		{"within", tempReading("u1", base, 38), false, alarms.ReasonWithinRange},
		{"missing", telemetry.Reading{UnitID: "u1", OrgID: "org-1", RecordedAt: base}, false, alarms.ReasonFieldMissing},
	}
	for _, tc := range cases {
		in := input(def, tc.reading)
		in.Now = base
		res, err := ev.Evaluate(context.Background(), in, nil)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if res.Fired != tc.fired || res.Reason != tc.reason {
			t.Fatalf("%s: got %+v", tc.name, res)
		}
	}

	noBounds := def
	noBounds.ThresholdMin = nil
	in := input(noBounds, tempReading("u1", base, 45))
	res, _ := ev.Evaluate(context.Background(), in, nil)
	if res.Fired || res.Reason != alarms.ReasonNoThresholds {
		t.Fatalf("expected no_thresholds, got %+v", res)
	}
}

func TestThresholdEvaluatorBooleanField(t *testing.T) {
	ev := NewThresholdEvaluator(alarms.TierEnvironment)
	def := alarms.Definition{Slug: "leak_detected", Tier: alarms.TierEnvironment, Severity: alarms.SeverityCritical, DetectionField: "leak_detected"}
	reading := telemetry.Reading{UnitID: "u1", OrgID: "org-1", LeakDetected: boolPtr(true), RecordedAt: base}
	res, err := ev.Evaluate(context.Background(), input(def, reading), nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.Fired || *res.TriggerValue != 1 {
		t.Fatalf("expected leak to fire, got %+v", res)
	}
}

func TestDoorOpenDuration(t *testing.T) {
	h := memory.NewHistory()
	def := alarms.Definition{Slug: "door_open_warning", Category: alarms.CategoryDoor, Tier: alarms.TierInstant, Severity: alarms.SeverityWarning, DetectionField: "door_open", DurationMinutes: 5}
	ev := NewThresholdEvaluator(alarms.TierInstant)

	open := func(at time.Time) telemetry.Reading {
		return telemetry.Reading{UnitID: "u1", OrgID: "org-1", DoorOpen: boolPtr(true), RecordedAt: at}
	}
	recordAll(t, h, open(base))

	in := input(def, open(base.Add(time.Minute)))
	in.Now = base.Add(time.Minute)
	res, err := ev.Evaluate(context.Background(), in, h)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Fired || res.Reason != alarms.ReasonDoorDurationNotMet {
		t.Fatalf("expected door_duration_not_met at T+1, got %+v", res)
	}

	in = input(def, open(base.Add(6*time.Minute)))
	in.Now = base.Add(6 * time.Minute)
	res, err = ev.Evaluate(context.Background(), in, h)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.Fired || *res.TriggerValue != 6 {
		t.Fatalf("expected fire at T+6 with 6 minutes, got %+v", res)
	}

	closed := telemetry.Reading{UnitID: "u1", OrgID: "org-1", DoorOpen: boolPtr(false), RecordedAt: base.Add(8 * time.Minute)}
	in = input(def, closed)
	in.Now = closed.RecordedAt
	res, _ = ev.Evaluate(context.Background(), in, h)
	if res.Fired || res.Reason != alarms.ReasonDoorClosed {
		t.Fatalf("expected door_closed, got %+v", res)
	}

	fresh := memory.NewHistory()
	in = input(def, open(base))
	in.Now = base
	res, _ = ev.Evaluate(context.Background(), in, fresh)
	if res.Fired || res.Reason != alarms.ReasonNoDoorEvent {
		t.Fatalf("expected no_door_event, got %+v", res)
	}
}

func TestDoorHistoryErrorPropagates(t *testing.T) {
	def := alarms.Definition{Slug: "door_open_warning", Category: alarms.CategoryDoor, Tier: alarms.TierInstant, Severity: alarms.SeverityWarning, DetectionField: "door_open", DurationMinutes: 5}
	reading := telemetry.Reading{UnitID: "u1", OrgID: "org-1", DoorOpen: boolPtr(true), RecordedAt: base}
	in := input(def, reading)
	in.Now = base
	if _, err := NewThresholdEvaluator(alarms.TierInstant).Evaluate(context.Background(), in, failingHistory{}); err == nil {
		t.Fatalf("expected history error")
	}
}

func TestPatternRateOfChange(t *testing.T) {
	h := memory.NewHistory()
	recordAll(t, h,
		tempReading("u1", base, 35),
		tempReading("u1", base.Add(15*time.Minute), 36),
	)
	def := alarms.Definition{Slug: "temp_rise_fast", Tier: alarms.TierPattern, Severity: alarms.SeverityWarning, DetectionField: "temperature", ThresholdMin: floatPtr(5)}
	ev := NewPatternEvaluator(DefaultTuning())

	now := base.Add(30 * time.Minute)
	in := input(def, tempReading("u1", now, 39))
	in.Now = now
	res, err := ev.Evaluate(context.Background(), in, h)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.Fired || *res.TriggerValue != 8 {
		t.Fatalf("expected 8/hr rise to fire, got %+v", res)
	}

	in = input(def, tempReading("u1", now, 35.5))
	in.Now = now
	res, _ = ev.Evaluate(context.Background(), in, h)
	if res.Fired || res.Reason != alarms.ReasonPatternNotDetected {
		t.Fatalf("expected slow rise to not fire, got %+v", res)
	}
}

func TestPatternRateNeedsSpan(t *testing.T) {
	h := memory.NewHistory()
	recordAll(t, h, tempReading("u1", base, 35))
	def := alarms.Definition{Slug: "temp_rise_fast", Tier: alarms.TierPattern, Severity: alarms.SeverityWarning, DetectionField: "temperature", ThresholdMin: floatPtr(5)}
	now := base.Add(2 * time.Minute)
	in := input(def, tempReading("u1", now, 40))
	in.Now = now
	res, err := NewPatternEvaluator(DefaultTuning()).Evaluate(context.Background(), in, h)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Fired || res.Reason != alarms.ReasonInsufficientHistory {
		t.Fatalf("expected insufficient_history, got %+v", res)
	}
}

func TestPatternSustained(t *testing.T) {
	def := alarms.Definition{Slug: "temp_sustained_high", Tier: alarms.TierPattern, Severity: alarms.SeverityCritical, DetectionField: "temperature", ThresholdMin: floatPtr(41), DurationMinutes: 30}
	ev := NewPatternEvaluator(DefaultTuning())

	h := memory.NewHistory()
	now := base.Add(30 * time.Minute)
	in := input(def, tempReading("u1", now, 45))
	in.Now = now
	res, err := ev.Evaluate(context.Background(), in, h)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Fired || res.Reason != alarms.ReasonInsufficientHistory {
		t.Fatalf("expected insufficient_history with one sample, got %+v", res)
	}

	recordAll(t, h, tempReading("u1", base, 42), tempReading("u1", base.Add(15*time.Minute), 44))
	res, _ = ev.Evaluate(context.Background(), in, h)
	if !res.Fired || *res.TriggerValue != 45 {
		t.Fatalf("expected sustained fire, got %+v", res)
	}

	dip := memory.NewHistory()
	recordAll(t, dip, tempReading("u1", base, 42), tempReading("u1", base.Add(15*time.Minute), 39))
	res, _ = ev.Evaluate(context.Background(), in, dip)
	if res.Fired || res.Reason != alarms.ReasonPatternNotDetected {
		t.Fatalf("expected dip to break the pattern, got %+v", res)
	}

	noWindow := def
	noWindow.DurationMinutes = 0
	in = input(noWindow, tempReading("u1", now, 45))
	in.Now = now
	res, _ = ev.Evaluate(context.Background(), in, h)
	if res.Reason != alarms.ReasonConfigError {
		t.Fatalf("expected config_error without duration, got %+v", res)
	}
}

func TestPatternSustainedDurationNotMet(t *testing.T) {
	def := alarms.Definition{Slug: "temp_sustained_high", Tier: alarms.TierPattern, Severity: alarms.SeverityCritical, DetectionField: "temperature", ThresholdMin: floatPtr(41), DurationMinutes: 30}
	h := memory.NewHistory()
	recordAll(t, h, tempReading("u1", base, 45), tempReading("u1", base.Add(2*time.Minute), 45))
	now := base.Add(4 * time.Minute)
	in := input(def, tempReading("u1", now, 45))
	in.Now = now
	res, err := NewPatternEvaluator(DefaultTuning()).Evaluate(context.Background(), in, h)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Fired || res.Reason != alarms.ReasonInsufficientHistory {
		t.Fatalf("expected duration not met, got %+v", res)
	}
}

func TestPatternNoRecovery(t *testing.T) {
	def := alarms.Definition{Slug: "temp_no_recovery", Tier: alarms.TierPattern, Severity: alarms.SeverityWarning, DetectionField: "temperature", ThresholdMin: floatPtr(41), DurationMinutes: 60}
	ev := NewPatternEvaluator(DefaultTuning())
	now := base.Add(60 * time.Minute)

	stuck := memory.NewHistory()
	recordAll(t, stuck, tempReading("u1", base, 44), tempReading("u1", base.Add(30*time.Minute), 44.2))
	in := input(def, tempReading("u1", now, 44))
	in.Now = now
	res, err := ev.Evaluate(context.Background(), in, stuck)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.Fired {
		t.Fatalf("expected no recovery to fire, got %+v", res)
	}

	recovering := memory.NewHistory()
	recordAll(t, recovering, tempReading("u1", base, 46), tempReading("u1", base.Add(30*time.Minute), 44))
	in = input(def, tempReading("u1", now, 42))
	in.Now = now
	res, _ = ev.Evaluate(context.Background(), in, recovering)
	if res.Fired || res.Reason != alarms.ReasonPatternNotDetected {
		t.Fatalf("expected recovering unit to not fire, got %+v", res)
	}
}

func TestPatternNotImplemented(t *testing.T) {
	for _, slug := range []string{"temp_oscillation", "defrost_cycle_anomaly"} {
		def := alarms.Definition{Slug: slug, Tier: alarms.TierPattern, Severity: alarms.SeverityWarning}
		res, err := NewPatternEvaluator(DefaultTuning()).Evaluate(context.Background(), input(def, tempReading("u1", base, 40)), memory.NewHistory())
		if err != nil {
			t.Fatalf("%s: %v", slug, err)
		}
		if res.Fired || res.Reason != alarms.ReasonNotImplemented {
			t.Fatalf("%s: expected not_implemented, got %+v", slug, res)
		}
	}
}

func TestPatternHistoryErrorPropagates(t *testing.T) {
	def := alarms.Definition{Slug: "temp_sustained_high", Tier: alarms.TierPattern, Severity: alarms.SeverityCritical, DetectionField: "temperature", ThresholdMin: floatPtr(41), DurationMinutes: 30}
	in := input(def, tempReading("u1", base, 45))
	in.Now = base
	if _, err := NewPatternEvaluator(DefaultTuning()).Evaluate(context.Background(), in, failingHistory{}); err == nil {
		t.Fatalf("expected history error")
	}
}

func TestCorrelationDoorClosedTempRising(t *testing.T) {
	h := memory.NewHistory()
	recordAll(t, h, tempReading("u1", base, 36))
	def := alarms.Definition{Slug: "door_closed_temp_rising", Tier: alarms.TierMultiSignal, Severity: alarms.SeverityWarning, DetectionField: "temperature", ThresholdMin: floatPtr(2)}
	ev := NewCorrelationEvaluator(DefaultTuning())

	now := base.Add(30 * time.Minute)
	reading := tempReading("u1", now, 39)
	reading.DoorOpen = boolPtr(false)
	in := input(def, reading)
	in.Now = now
	res, err := ev.Evaluate(context.Background(), in, h)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.Fired || *res.TriggerValue != 6 {
		t.Fatalf("expected 6/hr rise with door closed to fire, got %+v", res)
	}

	reading.DoorOpen = boolPtr(true)
	in = input(def, reading)
	in.Now = now
	res, _ = ev.Evaluate(context.Background(), in, h)
	if res.Fired {
		t.Fatalf("open door must not fire, got %+v", res)
	}
}

func TestCorrelationNoRecoveryAfterClose(t *testing.T) {
	h := memory.NewHistory()
	h.AddDoorEvent("u1", telemetry.DoorEvent{State: telemetry.DoorClosed, OccurredAt: base})
	def := alarms.Definition{Slug: "door_close_no_recovery", Tier: alarms.TierMultiSignal, Severity: alarms.SeverityWarning, DetectionField: "temperature", ThresholdMin: floatPtr(41), DurationMinutes: 20}
	ev := NewCorrelationEvaluator(DefaultTuning())

	at := func(minutes int, temp float64) Input {
		r := tempReading("u1", base.Add(time.Duration(minutes)*time.Minute), temp)
		r.DoorOpen = boolPtr(false)
		in := input(def, r)
		in.Now = r.RecordedAt
		return in
	}

	res, err := ev.Evaluate(context.Background(), at(10, 44), h)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Fired || res.Reason != alarms.ReasonDoorDurationNotMet {
		t.Fatalf("expected door_duration_not_met, got %+v", res)
	}
	res, _ = ev.Evaluate(context.Background(), at(25, 44), h)
	if !res.Fired {
		t.Fatalf("expected fire 25 minutes after close, got %+v", res)
	}
	res, _ = ev.Evaluate(context.Background(), at(25, 38), h)
	if res.Fired || res.Reason != alarms.ReasonPatternNotDetected {
		t.Fatalf("expected recovered unit to not fire, got %+v", res)
	}
}

func TestCorrelationCompressorNotImplemented(t *testing.T) {
	def := alarms.Definition{Slug: "compressor_failure_suspected", Tier: alarms.TierMultiSignal, Severity: alarms.SeverityCritical}
	res, err := NewCorrelationEvaluator(DefaultTuning()).Evaluate(context.Background(), input(def, tempReading("u1", base, 40)), memory.NewHistory())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Reason != alarms.ReasonNotImplemented {
		t.Fatalf("expected not_implemented, got %+v", res)
	}
}

func siteHistory(t *testing.T, temps map[string]float64, at time.Time) *memory.History {
	t.Helper()
	h := memory.NewHistory()
	for unit, temp := range temps {
		recordAll(t, h, tempReading(unit, at, temp))
	}
	return h
}

func TestSiteWideExcursion(t *testing.T) {
	def := alarms.Definition{Slug: "site_wide_temp_excursion", Tier: alarms.TierSite, Severity: alarms.SeverityCritical, DetectionField: "temperature", ThresholdMin: floatPtr(41)}
	ev := NewSiteEvaluator(DefaultTuning())
	now := base.Add(5 * time.Minute)

	h := siteHistory(t, map[string]float64{"u2": 45, "u3": 46, "u4": 37}, base)
	in := input(def, tempReading("u1", now, 44))
	in.Now = now
	res, err := ev.Evaluate(context.Background(), in, h)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.Fired || *res.TriggerValue != 3 {
		t.Fatalf("expected site-wide fire with 3 unsafe units, got %+v", res)
	}

	h = siteHistory(t, map[string]float64{"u2": 45, "u3": 37, "u4": 37}, base)
	res, _ = ev.Evaluate(context.Background(), in, h)
	if res.Fired {
		t.Fatalf("two unsafe units must not fire site-wide, got %+v", res)
	}
}

func TestSiteExcludesStaleSnapshots(t *testing.T) {
	def := alarms.Definition{Slug: "site_wide_temp_excursion", Tier: alarms.TierSite, Severity: alarms.SeverityCritical, DetectionField: "temperature", ThresholdMin: floatPtr(41)}
	h := siteHistory(t, map[string]float64{"u2": 45, "u3": 46}, base)
	now := base.Add(2 * time.Hour)
	in := input(def, tempReading("u1", now, 44))
	in.Now = now
	res, err := NewSiteEvaluator(DefaultTuning()).Evaluate(context.Background(), in, h)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.Fired || res.Reason != alarms.ReasonInsufficientHistory {
		t.Fatalf("expected stale siblings to be ignored, got %+v", res)
	}
}

func TestIsolatedUnitFailure(t *testing.T) {
	def := alarms.Definition{Slug: "isolated_unit_failure", Tier: alarms.TierSite, Severity: alarms.SeverityCritical, DetectionField: "temperature", ThresholdMin: floatPtr(41)}
	ev := NewSiteEvaluator(DefaultTuning())
	now := base.Add(5 * time.Minute)

	h := siteHistory(t, map[string]float64{"u2": 36, "u3": 37}, base)
	in := input(def, tempReading("u1", now, 44))
	in.Now = now
	res, err := ev.Evaluate(context.Background(), in, h)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.Fired || *res.TriggerValue != 44 {
		t.Fatalf("expected isolated failure to fire, got %+v", res)
	}

	h = siteHistory(t, map[string]float64{"u2": 45, "u3": 46, "u4": 36, "u5": 36}, base)
	res, _ = ev.Evaluate(context.Background(), in, h)
	if res.Fired {
		t.Fatalf("site-wide excursion is not isolated, got %+v", res)
	}

	in = input(def, tempReading("u1", now, 38))
	in.Now = now
	h = siteHistory(t, map[string]float64{"u2": 36, "u3": 37}, base)
	res, _ = ev.Evaluate(context.Background(), in, h)
	if res.Fired || res.Reason != alarms.ReasonWithinRange {
		t.Fatalf("safe unit must not fire, got %+v", res)
	}
}

func TestWithCurrentMergesByTimestamp(t *testing.T) {
	samples := []telemetry.Sample{{Value: 1, RecordedAt: base}, {Value: 3, RecordedAt: base.Add(2 * time.Minute)}}
	merged := withCurrent(samples, tempReading("u1", base.Add(time.Minute), 2), "temperature")
	if len(merged) != 3 || merged[1].Value != 2 {
		t.Fatalf("expected current reading inserted in order, got %+v", merged)
	}
	same := withCurrent(samples, tempReading("u1", base, 9), "temperature")
	if len(same) != 2 {
		t.Fatalf("duplicate timestamp must not be added, got %+v", same)
	}
}
