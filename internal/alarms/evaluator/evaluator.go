// Package evaluator decides whether an alarm condition holds for a reading.
// One evaluator is registered per tier; the orchestrator dispatches by tier tag.
package evaluator

import (
	"context"
	"fmt"
	"time"

	alarms "frostguard/internal/alarms/domain"
	telemetry "frostguard/internal/telemetry/domain"
)

// Input is everything an evaluator may inspect for one alarm.
type Input struct {
	Definition alarms.Definition
	Config     alarms.EffectiveConfig
	Reading    telemetry.Reading
	// Now anchors every window; it is the reading timestamp.
	Now time.Time
}

// Result is the tentative outcome before lifecycle checks.
type Result struct {
	Fired        bool
	TriggerValue *float64
	TriggerField string
	Reason       alarms.Reason
	Detail       string
}

// Evaluator evaluates alarms of one tier.
type Evaluator interface {
	Tier() alarms.Tier
	// Evaluate returns an error only when history could not be read.
	Evaluate(ctx context.Context, in Input, history telemetry.History) (Result, error)
}

// Registry dispatches evaluations by tier.
type Registry struct {
	evaluators map[alarms.Tier]Evaluator
}

// NewRegistry registers evaluators; later registrations replace earlier ones.
func NewRegistry(evaluators ...Evaluator) *Registry {
	r := &Registry{evaluators: make(map[alarms.Tier]Evaluator, len(evaluators))}
	for _, ev := range evaluators {
		r.Register(ev)
	}
	return r
}

// NewDefaultRegistry registers the T1 through T5 evaluators.
func NewDefaultRegistry(tuning Tuning) *Registry {
	tuning = tuning.withDefaults()
	return NewRegistry(
		NewThresholdEvaluator(alarms.TierInstant),
		NewPatternEvaluator(tuning),
		NewCorrelationEvaluator(tuning),
		NewSiteEvaluator(tuning),
		NewThresholdEvaluator(alarms.TierEnvironment),
	)
}

// Register adds or replaces the evaluator for its tier.
func (r *Registry) Register(ev Evaluator) {
	if r == nil || ev == nil {
		return
	}
	r.evaluators[ev.Tier()] = ev
}

// Evaluate short-circuits normal severity and dispatches by tier.
func (r *Registry) Evaluate(ctx context.Context, in Input, history telemetry.History) (Result, error) {
	if in.Config.Severity == alarms.SeverityNormal {
		return Result{Reason: alarms.ReasonSeverityNormal, Detail: "normal severity alarms are informational"}, nil
	}
	if r == nil {
		return Result{Reason: alarms.ReasonUnknownTier}, nil
	}
	ev, ok := r.evaluators[in.Definition.Tier]
	if !ok {
		return Result{Reason: alarms.ReasonUnknownTier, Detail: fmt.Sprintf("no evaluator for tier %q", in.Definition.Tier)}, nil
	}
	if in.Now.IsZero() {
		in.Now = in.Reading.RecordedAt
	}
	return ev.Evaluate(ctx, in, history)
}

// Tuning holds window and population constants for history-based tiers.
type Tuning struct {
	RateWindow          time.Duration `yaml:"rate_window"`
	RateMinSpan         time.Duration `yaml:"rate_min_span"`
	SustainedMinSamples int           `yaml:"sustained_min_samples"`
	// SustainedGrace is how far short of the full duration window sample coverage may fall.
	SustainedGrace      time.Duration `yaml:"sustained_grace"`
	NoRecoveryTolerance float64       `yaml:"no_recovery_tolerance"`
	DoorRateWindow      time.Duration `yaml:"door_rate_window"`
	SiteMinUnsafe       int           `yaml:"site_min_unsafe"`
	IsolatedMinSafe     int           `yaml:"isolated_min_safe"`
	SiteMinPopulation   int           `yaml:"site_min_population"`
	SnapshotMaxAge      time.Duration `yaml:"snapshot_max_age"`
}

// DefaultTuning returns the production defaults.
func DefaultTuning() Tuning {
	return Tuning{
		RateWindow:          time.Hour,
		RateMinSpan:         6 * time.Minute,
		SustainedMinSamples: 3,
		SustainedGrace:      5 * time.Minute,
		NoRecoveryTolerance: 0.5,
		DoorRateWindow:      30 * time.Minute,
		SiteMinUnsafe:       3,
		IsolatedMinSafe:     2,
		SiteMinPopulation:   3,
		SnapshotMaxAge:      30 * time.Minute,
	}
}

func (t Tuning) withDefaults() Tuning {
	def := DefaultTuning()
	if t.RateWindow <= 0 {
		t.RateWindow = def.RateWindow
	}
	if t.RateMinSpan <= 0 {
		t.RateMinSpan = def.RateMinSpan
	}
	if t.SustainedMinSamples <= 0 {
		t.SustainedMinSamples = def.SustainedMinSamples
	}
	if t.SustainedGrace <= 0 {
		t.SustainedGrace = def.SustainedGrace
	}
	if t.NoRecoveryTolerance <= 0 {
		t.NoRecoveryTolerance = def.NoRecoveryTolerance
	}
	if t.DoorRateWindow <= 0 {
		t.DoorRateWindow = def.DoorRateWindow
	}
	if t.SiteMinUnsafe <= 0 {
		t.SiteMinUnsafe = def.SiteMinUnsafe
	}
	if t.IsolatedMinSafe <= 0 {
		t.IsolatedMinSafe = def.IsolatedMinSafe
	}
	if t.SiteMinPopulation <= 0 {
		t.SiteMinPopulation = def.SiteMinPopulation
	}
	if t.SnapshotMaxAge <= 0 {
		t.SnapshotMaxAge = def.SnapshotMaxAge
	}
	return t
}

func fired(value float64, field string, reason alarms.Reason, detail string) Result {
	v := value
	return Result{Fired: true, TriggerValue: &v, TriggerField: field, Reason: reason, Detail: detail}
}

func notFired(reason alarms.Reason, detail string) Result {
	return Result{Reason: reason, Detail: detail}
}

func notImplemented(def alarms.Definition) Result {
	return notFired(alarms.ReasonNotImplemented, fmt.Sprintf("%s pattern %q is not implemented", def.Tier, def.Slug))
}

func detectionField(def alarms.Definition, fallback string) string {
	if def.DetectionField != "" {
		return def.DetectionField
	}
	return fallback
}

// patternKey selects a pattern implementation by slug, then subcategory.
func patternKey[T any](def alarms.Definition, patterns map[string]T) (T, bool) {
	if p, ok := patterns[def.Slug]; ok {
		return p, true
	}
	p, ok := patterns[def.Subcategory]
	return p, ok
}

// withCurrent appends the current reading to history samples unless it is already present.
func withCurrent(samples []telemetry.Sample, reading telemetry.Reading, field string) []telemetry.Sample {
	value, ok := reading.NumericField(field)
	if !ok {
		return samples
	}
	for _, s := range samples {
		if s.RecordedAt.Equal(reading.RecordedAt) {
			return samples
		}
	}
	out := make([]telemetry.Sample, 0, len(samples)+1)
	inserted := false
	for _, s := range samples {
		if !inserted && s.RecordedAt.After(reading.RecordedAt) {
			out = append(out, telemetry.Sample{Value: value, RecordedAt: reading.RecordedAt})
			inserted = true
		}
		out = append(out, s)
	}
	if !inserted {
		out = append(out, telemetry.Sample{Value: value, RecordedAt: reading.RecordedAt})
	}
	return out
}
