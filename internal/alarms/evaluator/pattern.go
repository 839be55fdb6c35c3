package evaluator

import (
	"context"
	"fmt"
	"time"

	alarms "frostguard/internal/alarms/domain"
	telemetry "frostguard/internal/telemetry/domain"
)

type patternFunc func(ctx context.Context, in Input, history telemetry.History) (Result, error)

// PatternEvaluator implements T2 time-series patterns.
type PatternEvaluator struct {
	tuning   Tuning
	patterns map[string]patternFunc
}

// NewPatternEvaluator constructs the T2 evaluator.
func NewPatternEvaluator(tuning Tuning) *PatternEvaluator {
	e := &PatternEvaluator{tuning: tuning.withDefaults()}
	e.patterns = map[string]patternFunc{
		"temp_rise_fast":      e.rateOfChange,
		"temp_rise_slow":      e.rateOfChange,
		"rate_of_change":      e.rateOfChange,
		"temp_sustained_high": e.sustained,
		"temp_sustained_low":  e.sustained,
		"sustained":           e.sustained,
		"temp_no_recovery":    e.noRecovery,
		"no_recovery":         e.noRecovery,
	}
	return e
}

// Tier returns T2.
func (e *PatternEvaluator) Tier() alarms.Tier { return alarms.TierPattern }

// Evaluate dispatches to the pattern for the slug.
func (e *PatternEvaluator) Evaluate(ctx context.Context, in Input, history telemetry.History) (Result, error) {
	pattern, ok := patternKey(in.Definition, e.patterns)
	if !ok {
		return notImplemented(in.Definition), nil
	}
	if history == nil {
		return notFired(alarms.ReasonInsufficientHistory, "history unavailable"), nil
	}
	return pattern(ctx, in, history)
}

// rateOfChange fires when the hourly rate between the oldest and newest
// sample in the window falls inside the configured band.
func (e *PatternEvaluator) rateOfChange(ctx context.Context, in Input, history telemetry.History) (Result, error) {
	field := detectionField(in.Definition, telemetry.FieldTemperature)
	if !in.Config.HasThresholds() {
		return notFired(alarms.ReasonNoThresholds, "no rate band configured"), nil
	}
	rate, ok, err := hourlyRate(ctx, history, in, field, e.tuning.RateWindow, e.tuning.RateMinSpan)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return notFired(alarms.ReasonInsufficientHistory, fmt.Sprintf("need 2 samples spanning %s", e.tuning.RateMinSpan)), nil
	}
	if !in.Config.InRange(rate) {
		return notFired(alarms.ReasonPatternNotDetected, fmt.Sprintf("rate %.2f/hr outside band %s", rate, describeRange(in.Config))), nil
	}
	return fired(rate, field, alarms.ReasonPatternDetected, fmt.Sprintf("rate %.2f/hr in band %s", rate, describeRange(in.Config))), nil
}

// sustained fires only when every sample in the duration window is in range.
func (e *PatternEvaluator) sustained(ctx context.Context, in Input, history telemetry.History) (Result, error) {
	field := detectionField(in.Definition, telemetry.FieldTemperature)
	if !in.Config.HasThresholds() {
		return notFired(alarms.ReasonNoThresholds, "no threshold configured"), nil
	}
	window := time.Duration(in.Config.DurationMinutes) * time.Minute
	if window <= 0 {
		return notFired(alarms.ReasonConfigError, "sustained pattern requires a duration"), nil
	}
	samples, err := history.Samples(ctx, in.Reading.UnitID, field, in.Now.Add(-window), in.Now)
	if err != nil {
		return Result{}, err
	}
	samples = withCurrent(samples, in.Reading, field)
	if res, ok := e.coverage(samples, window); !ok {
		return res, nil
	}
	for _, s := range samples {
		if !in.Config.InRange(s.Value) {
			return notFired(alarms.ReasonPatternNotDetected, fmt.Sprintf("sample %.2f at %s outside alarm range", s.Value, s.RecordedAt.Format(time.RFC3339))), nil
		}
	}
	latest := samples[len(samples)-1].Value
	return fired(latest, field, alarms.ReasonPatternDetected, fmt.Sprintf("%d samples in alarm range for %d minutes", len(samples), in.Config.DurationMinutes)), nil
}

// noRecovery fires when every sample stays above the floor and the newest
// is not meaningfully below the oldest.
func (e *PatternEvaluator) noRecovery(ctx context.Context, in Input, history telemetry.History) (Result, error) {
	field := detectionField(in.Definition, telemetry.FieldTemperature)
	if in.Config.ThresholdMin == nil {
		return notFired(alarms.ReasonNoThresholds, "no safety floor configured"), nil
	}
	floor := *in.Config.ThresholdMin
	window := time.Duration(in.Config.DurationMinutes) * time.Minute
	if window <= 0 {
		return notFired(alarms.ReasonConfigError, "no-recovery pattern requires a duration"), nil
	}
	samples, err := history.Samples(ctx, in.Reading.UnitID, field, in.Now.Add(-window), in.Now)
	if err != nil {
		return Result{}, err
	}
	samples = withCurrent(samples, in.Reading, field)
	if res, ok := e.coverage(samples, window); !ok {
		return res, nil
	}
	for _, s := range samples {
		if s.Value <= floor {
			return notFired(alarms.ReasonPatternNotDetected, fmt.Sprintf("sample %.2f at or below floor %.2f", s.Value, floor)), nil
		}
	}
	oldest := samples[0].Value
	newest := samples[len(samples)-1].Value
	if newest < oldest-e.tuning.NoRecoveryTolerance {
		return notFired(alarms.ReasonPatternNotDetected, fmt.Sprintf("recovering %.2f -> %.2f", oldest, newest)), nil
	}
	return fired(newest, field, alarms.ReasonPatternDetected, fmt.Sprintf("no recovery %.2f -> %.2f above floor %.2f", oldest, newest, floor)), nil
}

// coverage requires enough samples spanning the duration window.
func (e *PatternEvaluator) coverage(samples []telemetry.Sample, window time.Duration) (Result, bool) {
	if len(samples) < e.tuning.SustainedMinSamples {
		return notFired(alarms.ReasonInsufficientHistory, fmt.Sprintf("%d of %d samples in window", len(samples), e.tuning.SustainedMinSamples)), false
	}
	span := samples[len(samples)-1].RecordedAt.Sub(samples[0].RecordedAt)
	if span < window-e.tuning.SustainedGrace {
		return notFired(alarms.ReasonInsufficientHistory, fmt.Sprintf("duration not met, samples span %.1f of %.0f minutes", span.Minutes(), window.Minutes())), false
	}
	return Result{}, true
}

// hourlyRate computes the linear rate between the oldest and newest sample
// in [now-window, now]. ok is false when history is too thin.
func hourlyRate(ctx context.Context, history telemetry.History, in Input, field string, window, minSpan time.Duration) (float64, bool, error) {
	samples, err := history.Samples(ctx, in.Reading.UnitID, field, in.Now.Add(-window), in.Now)
	if err != nil {
		return 0, false, err
	}
	samples = withCurrent(samples, in.Reading, field)
	if len(samples) < 2 {
		return 0, false, nil
	}
	oldest := samples[0]
	newest := samples[len(samples)-1]
	span := newest.RecordedAt.Sub(oldest.RecordedAt)
	if span < minSpan || span <= 0 {
		return 0, false, nil
	}
	return (newest.Value - oldest.Value) / span.Hours(), true, nil
}
