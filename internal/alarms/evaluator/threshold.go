package evaluator

import (
	"context"
	"fmt"

	alarms "frostguard/internal/alarms/domain"
	telemetry "frostguard/internal/telemetry/domain"
)

// ThresholdEvaluator implements instantaneous range and flag checks.
// It serves both T1 and T5; only the tier tag differs.
type ThresholdEvaluator struct {
	tier alarms.Tier
}

// NewThresholdEvaluator constructs a threshold evaluator for a tier.
func NewThresholdEvaluator(tier alarms.Tier) *ThresholdEvaluator {
	return &ThresholdEvaluator{tier: tier}
}

// Tier returns the tier tag.
func (e *ThresholdEvaluator) Tier() alarms.Tier { return e.tier }

// Evaluate checks the detection field of the current reading.
func (e *ThresholdEvaluator) Evaluate(ctx context.Context, in Input, history telemetry.History) (Result, error) {
	field := in.Definition.DetectionField
	if field == "" {
		return notFired(alarms.ReasonConfigError, "definition has no detection field"), nil
	}
	if in.Definition.Category == alarms.CategoryDoor || field == telemetry.FieldDoorOpen {
		return e.evaluateDoor(ctx, in, history)
	}

	if telemetry.IsBoolField(field) {
		value, ok := in.Reading.BoolField(field)
		if !ok {
			return notFired(alarms.ReasonFieldMissing, field+" not reported"), nil
		}
		if !value {
			return notFired(alarms.ReasonWithinRange, field+" is false"), nil
		}
		return fired(1, field, alarms.ReasonThresholdBreached, field+" is true"), nil
	}

	value, ok := in.Reading.NumericField(field)
	if !ok {
		return notFired(alarms.ReasonFieldMissing, field+" not reported"), nil
	}
	if !in.Config.HasThresholds() {
		return notFired(alarms.ReasonNoThresholds, "no threshold configured"), nil
	}
	if !in.Config.InRange(value) {
		return notFired(alarms.ReasonWithinRange, fmt.Sprintf("%s=%.2f outside alarm range %s", field, value, describeRange(in.Config))), nil
	}
	return fired(value, field, alarms.ReasonThresholdBreached, fmt.Sprintf("%s=%.2f in alarm range %s", field, value, describeRange(in.Config))), nil
}

// evaluateDoor confirms an open door against the most recent open event.
func (e *ThresholdEvaluator) evaluateDoor(ctx context.Context, in Input, history telemetry.History) (Result, error) {
	open, ok := in.Reading.IsDoorOpen()
	if !ok {
		return notFired(alarms.ReasonFieldMissing, "door state not reported"), nil
	}
	if !open {
		return notFired(alarms.ReasonDoorClosed, "door is closed"), nil
	}
	if history == nil {
		return notFired(alarms.ReasonNoDoorEvent, "door history unavailable"), nil
	}
	event, err := history.LatestDoorEvent(ctx, in.Reading.UnitID, telemetry.DoorOpen, in.Now)
	if err != nil {
		return Result{}, err
	}
	if event == nil {
		return notFired(alarms.ReasonNoDoorEvent, "no door open event recorded"), nil
	}
	openMinutes := in.Now.Sub(event.OccurredAt).Minutes()
	if openMinutes < float64(in.Config.DurationMinutes) {
		return notFired(alarms.ReasonDoorDurationNotMet, fmt.Sprintf("door open %.1f of %d minutes", openMinutes, in.Config.DurationMinutes)), nil
	}
	return fired(openMinutes, telemetry.FieldDoorOpen, alarms.ReasonThresholdBreached, fmt.Sprintf("door open %.1f minutes", openMinutes)), nil
}

func describeRange(cfg alarms.EffectiveConfig) string {
	switch {
	case cfg.ThresholdMin != nil && cfg.ThresholdMax != nil:
		return fmt.Sprintf("[%.2f, %.2f]", *cfg.ThresholdMin, *cfg.ThresholdMax)
	case cfg.ThresholdMin != nil:
		return fmt.Sprintf("[%.2f, +inf)", *cfg.ThresholdMin)
	case cfg.ThresholdMax != nil:
		return fmt.Sprintf("(-inf, %.2f]", *cfg.ThresholdMax)
	default:
		return "(unset)"
	}
}
