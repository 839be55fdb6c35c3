package evaluator

import (
	"context"
	"fmt"

	alarms "frostguard/internal/alarms/domain"
	telemetry "frostguard/internal/telemetry/domain"
)

// SiteEvaluator implements T4 fleet correlation across a site.
type SiteEvaluator struct {
	tuning Tuning
}

// NewSiteEvaluator constructs the T4 evaluator.
func NewSiteEvaluator(tuning Tuning) *SiteEvaluator {
	return &SiteEvaluator{tuning: tuning.withDefaults()}
}

// Tier returns T4.
func (e *SiteEvaluator) Tier() alarms.Tier { return alarms.TierSite }

type siteCensus struct {
	population int
	unsafe     int
	safe       int
	selfUnsafe bool
	selfValue  float64
}

// Evaluate dispatches on the site pattern.
func (e *SiteEvaluator) Evaluate(ctx context.Context, in Input, history telemetry.History) (Result, error) {
	switch {
	case in.Definition.Slug == "site_wide_temp_excursion" || in.Definition.Subcategory == "site_wide":
		return e.evaluate(ctx, in, history, e.siteWide)
	case in.Definition.Slug == "isolated_unit_failure" || in.Definition.Subcategory == "isolated":
		return e.evaluate(ctx, in, history, e.isolated)
	default:
		return notImplemented(in.Definition), nil
	}
}

func (e *SiteEvaluator) evaluate(ctx context.Context, in Input, history telemetry.History, decide func(Input, siteCensus, string) Result) (Result, error) {
	field := detectionField(in.Definition, telemetry.FieldTemperature)
	if in.Reading.SiteID == "" {
		return notFired(alarms.ReasonInsufficientHistory, "reading has no site"), nil
	}
	value, ok := in.Reading.NumericField(field)
	if !ok {
		return notFired(alarms.ReasonFieldMissing, field+" not reported"), nil
	}
	if !in.Config.HasThresholds() {
		return notFired(alarms.ReasonNoThresholds, "no safe band configured"), nil
	}
	if history == nil {
		return notFired(alarms.ReasonInsufficientHistory, "history unavailable"), nil
	}
	snapshots, err := history.SiteSnapshots(ctx, in.Reading.SiteID, field)
	if err != nil {
		return Result{}, err
	}

	census := siteCensus{population: 1, selfValue: value, selfUnsafe: in.Config.InRange(value)}
	if census.selfUnsafe {
		census.unsafe++
	}
	for _, snap := range snapshots {
		if snap.UnitID == in.Reading.UnitID {
			continue
		}
		if in.Now.Sub(snap.RecordedAt) > e.tuning.SnapshotMaxAge {
			continue
		}
		census.population++
		if in.Config.InRange(snap.Value) {
			census.unsafe++
		} else {
			census.safe++
		}
	}
	if census.population < e.tuning.SiteMinPopulation {
		return notFired(alarms.ReasonInsufficientHistory, fmt.Sprintf("%d of %d units reporting", census.population, e.tuning.SiteMinPopulation)), nil
	}
	return decide(in, census, field), nil
}

// siteWide fires on an unsafe unit when enough units at the site are unsafe.
func (e *SiteEvaluator) siteWide(in Input, c siteCensus, field string) Result {
	if !c.selfUnsafe {
		return notFired(alarms.ReasonWithinRange, fmt.Sprintf("unit safe, %d of %d units unsafe", c.unsafe, c.population))
	}
	if c.unsafe < e.tuning.SiteMinUnsafe {
		return notFired(alarms.ReasonPatternNotDetected, fmt.Sprintf("%d of %d units unsafe", c.unsafe, c.population))
	}
	return fired(float64(c.unsafe), field, alarms.ReasonPatternDetected, fmt.Sprintf("%d of %d units at site unsafe", c.unsafe, c.population))
}

// isolated fires when this unit is unsafe while its siblings hold.
func (e *SiteEvaluator) isolated(in Input, c siteCensus, field string) Result {
	if !c.selfUnsafe {
		return notFired(alarms.ReasonWithinRange, "unit within safe band")
	}
	if c.unsafe >= e.tuning.SiteMinUnsafe {
		return notFired(alarms.ReasonPatternNotDetected, fmt.Sprintf("site-wide excursion, %d units unsafe", c.unsafe))
	}
	if c.safe < e.tuning.IsolatedMinSafe {
		return notFired(alarms.ReasonPatternNotDetected, fmt.Sprintf("only %d siblings safe", c.safe))
	}
	return fired(c.selfValue, field, alarms.ReasonPatternDetected, fmt.Sprintf("unit unsafe while %d siblings safe", c.safe))
}
