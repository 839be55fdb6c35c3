package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	metricPrefix = "frostguard_"

	resultSuccess = "success"
	resultError   = "error"

	outcomeFired      = "fired"
	outcomeNotFired   = "not_fired"
	outcomeSuppressed = "suppressed"
	outcomeSkipped    = "skipped"
	outcomeError      = "error"
)

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestErrors   *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec

	engineRuns    *prometheus.CounterVec
	engineLatency *prometheus.HistogramVec

	evaluationsTotal  *prometheus.CounterVec
	evaluationLatency *prometheus.HistogramVec

	alarmEventsTotal  *prometheus.CounterVec
	auditWriteErrors  prometheus.Counter
	configCacheLookup *prometheus.CounterVec
)

// Init registers metrics and, when db is set, DB-backed gauges.
func Init(db *sql.DB, logger *zap.Logger) {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total reading ingest requests by source and result",
			},
			[]string{"source", "result"},
		)
		ingestErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_errors_total",
				Help: "Total ingest errors by reason",
			},
			[]string{"reason"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Ingest latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source"},
		)

		engineRuns = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "engine_runs_total",
				Help: "Total engine invocations by result",
			},
			[]string{"result"},
		)
		engineLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "engine_latency_seconds",
				Help:    "Engine invocation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		evaluationsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alarm_evaluations_total",
				Help: "Total alarm evaluations by tier and outcome",
			},
			[]string{"tier", "outcome"},
		)
		evaluationLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "alarm_evaluation_latency_seconds",
				Help:    "Single alarm evaluation latency in seconds",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5},
			},
			[]string{"tier"},
		)

		alarmEventsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alarm_events_total",
				Help: "Total alarm lifecycle events by type",
			},
			[]string{"event"},
		)
		auditWriteErrors = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "evaluation_log_write_errors_total",
				Help: "Failed evaluation log batch writes",
			},
		)
		configCacheLookup = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "config_cache_lookups_total",
				Help: "Config cache lookups by cache and result",
			},
			[]string{"cache", "result"},
		)

		prometheus.MustRegister(
			ingestRequests,
			ingestErrors,
			ingestLatency,
			engineRuns,
			engineLatency,
			evaluationsTotal,
			evaluationLatency,
			alarmEventsTotal,
			auditWriteErrors,
			configCacheLookup,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveIngest records ingest duration and result for a source.
func ObserveIngest(source, result string, duration time.Duration) {
	if source == "" {
		source = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(source, result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(source).Observe(duration.Seconds())
	}
}

// IncIngestError increments ingest error counter.
func IncIngestError(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if ingestErrors != nil {
		ingestErrors.WithLabelValues(reason).Inc()
	}
}

// ObserveEngineRun records one engine invocation.
func ObserveEngineRun(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if engineRuns != nil {
		engineRuns.WithLabelValues(result).Inc()
	}
	if engineLatency != nil {
		engineLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// ObserveEvaluation records one alarm evaluation.
func ObserveEvaluation(tier, outcome string, duration time.Duration) {
	if tier == "" {
		tier = "unknown"
	}
	if outcome == "" {
		outcome = outcomeNotFired
	}
	if evaluationsTotal != nil {
		evaluationsTotal.WithLabelValues(tier, outcome).Inc()
	}
	if evaluationLatency != nil {
		evaluationLatency.WithLabelValues(tier).Observe(duration.Seconds())
	}
}

// IncAlarmEvent increments alarm lifecycle counters.
func IncAlarmEvent(event string) {
	if event == "" {
		event = "unknown"
	}
	if alarmEventsTotal != nil {
		alarmEventsTotal.WithLabelValues(event).Inc()
	}
}

// IncEvaluationLogError counts a failed evaluation log write.
func IncEvaluationLogError() {
	if auditWriteErrors != nil {
		auditWriteErrors.Inc()
	}
}

// IncConfigCache counts a definition or override cache hit or miss.
func IncConfigCache(cache string, hit bool) {
	if configCacheLookup == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	configCacheLookup.WithLabelValues(cache, result).Inc()
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError

	OutcomeFired      = outcomeFired
	OutcomeNotFired   = outcomeNotFired
	OutcomeSuppressed = outcomeSuppressed
	OutcomeSkipped    = outcomeSkipped
	OutcomeError      = outcomeError
)
