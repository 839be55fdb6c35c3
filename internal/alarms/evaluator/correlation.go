package evaluator

import (
	"context"
	"fmt"
	"time"

	alarms "frostguard/internal/alarms/domain"
	telemetry "frostguard/internal/telemetry/domain"
)

// CorrelationEvaluator implements T3 door plus temperature rules.
type CorrelationEvaluator struct {
	tuning   Tuning
	patterns map[string]patternFunc
}

// NewCorrelationEvaluator constructs the T3 evaluator.
func NewCorrelationEvaluator(tuning Tuning) *CorrelationEvaluator {
	e := &CorrelationEvaluator{tuning: tuning.withDefaults()}
	e.patterns = map[string]patternFunc{
		"door_closed_temp_rising": e.closedButRising,
		"door_close_no_recovery":  e.noRecoveryAfterClose,
	}
	return e
}

// Tier returns T3.
func (e *CorrelationEvaluator) Tier() alarms.Tier { return alarms.TierMultiSignal }

// Evaluate dispatches to the rule for the slug.
func (e *CorrelationEvaluator) Evaluate(ctx context.Context, in Input, history telemetry.History) (Result, error) {
	pattern, ok := patternKey(in.Definition, e.patterns)
	if !ok {
		return notImplemented(in.Definition), nil
	}
	if history == nil {
		return notFired(alarms.ReasonInsufficientHistory, "history unavailable"), nil
	}
	return pattern(ctx, in, history)
}

// closedButRising fires when the door is closed but temperature rises faster
// than the closed-door baseline held in threshold_min.
func (e *CorrelationEvaluator) closedButRising(ctx context.Context, in Input, history telemetry.History) (Result, error) {
	open, ok := in.Reading.IsDoorOpen()
	if !ok {
		return notFired(alarms.ReasonFieldMissing, "door state not reported"), nil
	}
	if open {
		return notFired(alarms.ReasonPatternNotDetected, "door is open"), nil
	}
	if in.Config.ThresholdMin == nil {
		return notFired(alarms.ReasonNoThresholds, "no baseline rate configured"), nil
	}
	baseline := *in.Config.ThresholdMin
	field := detectionField(in.Definition, telemetry.FieldTemperature)
	rate, ok, err := hourlyRate(ctx, history, in, field, e.tuning.DoorRateWindow, e.tuning.RateMinSpan)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return notFired(alarms.ReasonInsufficientHistory, fmt.Sprintf("need 2 samples spanning %s", e.tuning.RateMinSpan)), nil
	}
	if rate <= baseline {
		return notFired(alarms.ReasonPatternNotDetected, fmt.Sprintf("rate %.2f/hr within closed-door baseline %.2f", rate, baseline)), nil
	}
	return fired(rate, field, alarms.ReasonPatternDetected, fmt.Sprintf("door closed, rate %.2f/hr above baseline %.2f", rate, baseline)), nil
}

// noRecoveryAfterClose fires when, N minutes after the last close, the
// temperature is still in the alarm range.
func (e *CorrelationEvaluator) noRecoveryAfterClose(ctx context.Context, in Input, history telemetry.History) (Result, error) {
	open, ok := in.Reading.IsDoorOpen()
	if !ok {
		return notFired(alarms.ReasonFieldMissing, "door state not reported"), nil
	}
	if open {
		return notFired(alarms.ReasonPatternNotDetected, "door is open"), nil
	}
	field := detectionField(in.Definition, telemetry.FieldTemperature)
	value, ok := in.Reading.NumericField(field)
	if !ok {
		return notFired(alarms.ReasonFieldMissing, field+" not reported"), nil
	}
	if !in.Config.HasThresholds() {
		return notFired(alarms.ReasonNoThresholds, "no ceiling configured"), nil
	}
	closed, err := history.LatestDoorEvent(ctx, in.Reading.UnitID, telemetry.DoorClosed, in.Now)
	if err != nil {
		return Result{}, err
	}
	if closed == nil {
		return notFired(alarms.ReasonNoDoorEvent, "no door close event recorded"), nil
	}
	elapsed := in.Now.Sub(closed.OccurredAt)
	required := time.Duration(in.Config.DurationMinutes) * time.Minute
	if elapsed < required {
		return notFired(alarms.ReasonDoorDurationNotMet, fmt.Sprintf("door closed %.1f of %d minutes", elapsed.Minutes(), in.Config.DurationMinutes)), nil
	}
	if !in.Config.InRange(value) {
		return notFired(alarms.ReasonPatternNotDetected, fmt.Sprintf("%s=%.2f recovered after close", field, value)), nil
	}
	return fired(value, field, alarms.ReasonPatternDetected, fmt.Sprintf("%s=%.2f still in alarm range %.1f minutes after close", field, value, elapsed.Minutes())), nil
}
