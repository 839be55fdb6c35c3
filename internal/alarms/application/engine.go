package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"frostguard/internal/alarms/catalog"
	alarms "frostguard/internal/alarms/domain"
	"frostguard/internal/alarms/evaluator"
	"frostguard/internal/observability/metrics"
	telemetry "frostguard/internal/telemetry/domain"
)

// AlarmCatalog lists the alarms applicable to a unit with resolved configs.
type AlarmCatalog interface {
	ListAvailableAlarms(ctx context.Context, unitID, orgID, siteID string) ([]catalog.AvailableAlarm, error)
}

// ReadingRecorder persists readings so later evaluations see them as history.
type ReadingRecorder interface {
	Record(ctx context.Context, reading telemetry.Reading) error
}

// Summary is the result of evaluating one reading.
type Summary struct {
	Evaluated     int      `json:"evaluated"`
	Fired         int      `json:"fired"`
	FiredSlugs    []string `json:"firedSlugs"`
	AutoResolved  int      `json:"autoResolved"`
	Suppressed    int      `json:"suppressed"`
	CorrelationID string   `json:"correlationId,omitempty"`
}

// Engine evaluates every applicable alarm for a reading.
type Engine struct {
	catalog   AlarmCatalog
	registry  *evaluator.Registry
	history   telemetry.History
	events    alarms.EventRepository
	lifecycle *Lifecycle
	logs      alarms.EvaluationLogWriter
	recorder  ReadingRecorder
	workers   int
	timeout   time.Duration
	clock     Clock
	logger    *zap.Logger
}

// EngineOption customizes the engine.
type EngineOption func(*Engine)

// WithWorkers bounds concurrent evaluations per reading.
func WithWorkers(workers int) EngineOption {
	return func(e *Engine) {
		if workers > 0 {
			e.workers = workers
		}
	}
}

// WithEvaluationTimeout bounds a single evaluation.
func WithEvaluationTimeout(timeout time.Duration) EngineOption {
	return func(e *Engine) {
		if timeout > 0 {
			e.timeout = timeout
		}
	}
}

// WithRecorder stores each reading before evaluation.
func WithRecorder(recorder ReadingRecorder) EngineOption {
	return func(e *Engine) {
		e.recorder = recorder
	}
}

// WithEngineClock assigns a clock.
func WithEngineClock(clock Clock) EngineOption {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithEngineLogger assigns a logger.
func WithEngineLogger(logger *zap.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine constructs an engine.
func NewEngine(cat AlarmCatalog, registry *evaluator.Registry, history telemetry.History, events alarms.EventRepository, lifecycle *Lifecycle, logs alarms.EvaluationLogWriter, opts ...EngineOption) (*Engine, error) {
	if cat == nil {
		return nil, errors.New("alarms engine: nil catalog")
	}
	if registry == nil {
		return nil, errors.New("alarms engine: nil registry")
	}
	if events == nil || lifecycle == nil {
		return nil, errors.New("alarms engine: nil lifecycle")
	}
	if logs == nil {
		return nil, errors.New("alarms engine: nil evaluation log writer")
	}
	cfg := DefaultConfig()
	e := &Engine{
		catalog:   cat,
		registry:  registry,
		history:   history,
		events:    events,
		lifecycle: lifecycle,
		logs:      logs,
		workers:   cfg.Workers,
		timeout:   cfg.EvaluationTimeout,
		clock:     systemClock{},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// evaluation is one slot of the batch result.
type evaluation struct {
	alarm      catalog.AvailableAlarm
	result     evaluator.Result
	dispatched bool
	duration   time.Duration
	// final outcome after lifecycle checks
	reason  alarms.Reason
	fired   bool
	eventID string
}

// Evaluate runs every applicable alarm against the reading.
func (e *Engine) Evaluate(ctx context.Context, reading telemetry.Reading) (Summary, error) {
	if e == nil {
		return Summary{}, errors.New("alarms engine: nil engine")
	}
	start := time.Now()
	summary, err := e.evaluate(ctx, reading)
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.ObserveEngineRun(result, time.Since(start))
	return summary, err
}

func (e *Engine) evaluate(ctx context.Context, reading telemetry.Reading) (Summary, error) {
	summary := Summary{FiredSlugs: []string{}}
	if err := reading.Validate(); err != nil {
		return summary, err
	}
	reading.RecordedAt = reading.RecordedAt.UTC()
	logger := e.logger.With(
		zap.String("unit_id", reading.UnitID),
		zap.String("org_id", reading.OrgID),
		zap.String("reading_id", reading.ReadingID),
	)

	if e.recorder != nil {
		if err := e.recorder.Record(ctx, reading); err != nil {
			logger.Warn("record reading failed", zap.Error(err))
		}
	}

	available, err := e.catalog.ListAvailableAlarms(ctx, reading.UnitID, reading.OrgID, reading.SiteID)
	if err != nil {
		return summary, fmt.Errorf("alarms engine: list alarms: %w", err)
	}

	open, err := e.events.ListOpenByUnit(ctx, reading.UnitID)
	openLoaded := err == nil
	if err != nil {
		logger.Error("load open events failed", zap.Error(err))
		open = nil
	}

	slots := e.run(ctx, reading, available)

	var firings []Firing
	var firingSlots []int
	for i := range slots {
		slot := &slots[i]
		if !slot.result.Fired {
			slot.reason = slot.result.Reason
			continue
		}
		if reason, suppressed := e.lifecycle.Suppress(open, slot.alarm.Definition.ID, slot.alarm.Config, reading.RecordedAt); suppressed {
			slot.reason = reason
			summary.Suppressed++
			metrics.IncAlarmEvent(EventSuppressed)
			continue
		}
		firings = append(firings, Firing{
			Definition:   slot.alarm.Definition,
			Config:       slot.alarm.Config,
			TriggerValue: slot.result.TriggerValue,
			TriggerField: slot.result.TriggerField,
			Detail:       slot.result.Detail,
		})
		firingSlots = append(firingSlots, i)
	}

	outcomes, correlationID := e.lifecycle.Fire(ctx, reading, firings)
	for j, outcome := range outcomes {
		slot := &slots[firingSlots[j]]
		if outcome.Reason != "" {
			slot.reason = outcome.Reason
			if outcome.Reason == alarms.ReasonDedupActiveExists {
				summary.Suppressed++
			}
			continue
		}
		slot.fired = true
		slot.reason = slot.result.Reason
		slot.eventID = outcome.EventID
		summary.Fired++
		summary.FiredSlugs = append(summary.FiredSlugs, slot.alarm.Definition.Slug)
	}
	summary.CorrelationID = correlationID

	if openLoaded {
		cleared := make(map[string]bool)
		for _, slot := range slots {
			if !slot.result.Fired && slot.reason.EvidenceOfRecovery() {
				cleared[slot.alarm.Definition.ID] = true
			}
		}
		summary.AutoResolved = len(e.lifecycle.AutoResolve(ctx, open, cleared, reading.RecordedAt))
	}

	for _, slot := range slots {
		if slot.dispatched {
			summary.Evaluated++
		}
		metrics.ObserveEvaluation(string(slot.alarm.Definition.Tier), outcomeOf(slot), slot.duration)
	}
	e.writeLogs(ctx, logger, reading, slots)
	return summary, nil
}

// run evaluates alarms in a bounded pool. Each worker owns one slot.
func (e *Engine) run(ctx context.Context, reading telemetry.Reading, available []catalog.AvailableAlarm) []evaluation {
	slots := make([]evaluation, len(available))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := range available {
		i := i
		slots[i].alarm = available[i]
		g.Go(func() error {
			e.evaluateOne(gctx, reading, &slots[i])
			return nil
		})
	}
	_ = g.Wait()
	return slots
}

func (e *Engine) evaluateOne(ctx context.Context, reading telemetry.Reading, slot *evaluation) {
	item := slot.alarm
	switch {
	case item.ConfigErr != nil:
		slot.result = evaluator.Result{Reason: alarms.ReasonConfigError, Detail: item.ConfigErr.Error()}
		e.logger.Warn("alarm skipped: invalid configuration",
			zap.String("unit_id", reading.UnitID),
			zap.String("alarm_slug", item.Definition.Slug),
			zap.Error(item.ConfigErr),
		)
		return
	case !item.Enabled:
		slot.result = evaluator.Result{Reason: alarms.ReasonDisabled, Detail: "alarm disabled for unit"}
		return
	case item.Config.Severity == alarms.SeverityNormal:
		slot.result = evaluator.Result{Reason: alarms.ReasonSeverityNormal, Detail: "normal severity alarms are informational"}
		return
	}

	slot.dispatched = true
	start := time.Now()
	evalCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type answer struct {
		result evaluator.Result
		err    error
	}
	done := make(chan answer, 1)
	go func() {
		result, err := e.registry.Evaluate(evalCtx, evaluator.Input{
			Definition: item.Definition,
			Config:     item.Config,
			Reading:    reading,
			Now:        reading.RecordedAt,
		}, e.history)
		done <- answer{result: result, err: err}
	}()

	var got answer
	select {
	case got = <-done:
	case <-evalCtx.Done():
	}
	if err := evalCtx.Err(); err != nil && got.err == nil {
		got = answer{err: err}
	}
	slot.duration = time.Since(start)
	if got.err != nil {
		slot.result = evaluator.Result{Reason: alarms.ReasonEvaluationError, Detail: got.err.Error()}
		e.logger.Warn("alarm evaluation failed",
			zap.String("unit_id", reading.UnitID),
			zap.String("alarm_slug", item.Definition.Slug),
			zap.String("reading_id", reading.ReadingID),
			zap.Error(got.err),
		)
		return
	}
	slot.result = got.result
}

func (e *Engine) writeLogs(ctx context.Context, logger *zap.Logger, reading telemetry.Reading, slots []evaluation) {
	if len(slots) == 0 {
		return
	}
	evaluatedAt := e.clock.Now().UTC()
	logs := make([]alarms.EvaluationLog, 0, len(slots))
	for _, slot := range slots {
		logs = append(logs, alarms.EvaluationLog{
			ID:              uuid.NewString(),
			DefinitionID:    slot.alarm.Definition.ID,
			Slug:            slot.alarm.Definition.Slug,
			Tier:            slot.alarm.Definition.Tier,
			OrgID:           reading.OrgID,
			SiteID:          reading.SiteID,
			UnitID:          reading.UnitID,
			ReadingID:       reading.ReadingID,
			Fired:           slot.fired,
			Reason:          slot.reason,
			TriggerValue:    slot.result.TriggerValue,
			ThresholdMin:    slot.alarm.Config.ThresholdMin,
			ThresholdMax:    slot.alarm.Config.ThresholdMax,
			Detail:          slot.result.Detail,
			Severity:        slot.alarm.Config.Severity,
			EventID:         slot.eventID,
			CooldownActive:  slot.reason == alarms.ReasonCooldownActive,
			DedupSuppressed: slot.reason == alarms.ReasonDedupActiveExists,
			DurationMS:      slot.duration.Milliseconds(),
			EvaluatedAt:     evaluatedAt,
		})
	}
	if err := e.logs.Write(ctx, logs); err != nil {
		metrics.IncEvaluationLogError()
		logger.Error("evaluation log write failed", zap.Int("rows", len(logs)), zap.Error(err))
	}
}

func outcomeOf(slot evaluation) string {
	switch {
	case slot.fired:
		return metrics.OutcomeFired
	case !slot.dispatched:
		return metrics.OutcomeSkipped
	case slot.reason == alarms.ReasonEvaluationError:
		return metrics.OutcomeError
	case slot.result.Fired:
		return metrics.OutcomeSuppressed
	default:
		return metrics.OutcomeNotFired
	}
}
