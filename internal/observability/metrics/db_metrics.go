package metrics

import (
	"context"
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const dbScrapeTimeout = 3 * time.Second

// alarmStateCollector reports open alarm state straight from the store on
// every scrape.
type alarmStateCollector struct {
	db     *sql.DB
	logger *zap.Logger

	openEvents   *prometheus.Desc
	activeAlerts *prometheus.Desc
	oldestActive *prometheus.Desc
}

func newAlarmStateCollector(db *sql.DB, logger *zap.Logger) *alarmStateCollector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &alarmStateCollector{
		db:     db,
		logger: logger,
		openEvents: prometheus.NewDesc(
			metricPrefix+"alarm_events_open",
			"Open alarm events by status and severity",
			[]string{"status", "severity"}, nil,
		),
		activeAlerts: prometheus.NewDesc(
			metricPrefix+"alerts_active",
			"Bridged alerts not yet resolved",
			nil, nil,
		),
		oldestActive: prometheus.NewDesc(
			metricPrefix+"alarm_oldest_unacknowledged_seconds",
			"Age of the oldest active, unacknowledged alarm event",
			nil, nil,
		),
	}
}

func (c *alarmStateCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.openEvents
	ch <- c.activeAlerts
	ch <- c.oldestActive
}

func (c *alarmStateCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), dbScrapeTimeout)
	defer cancel()

	rows, err := c.db.QueryContext(ctx, `
SELECT status, severity, COUNT(*)
FROM alarm_events
WHERE status IN ('active', 'acknowledged')
GROUP BY status, severity`)
	if err != nil {
		c.logger.Warn("metrics query failed", zap.String("metric", "alarm_events_open"), zap.Error(err))
	} else {
		for rows.Next() {
			var status, severity string
			var count int64
			if err := rows.Scan(&status, &severity, &count); err != nil {
				c.logger.Warn("metrics scan failed", zap.Error(err))
				break
			}
			ch <- prometheus.MustNewConstMetric(c.openEvents, prometheus.GaugeValue, float64(count), status, severity)
		}
		_ = rows.Close()
	}

	var alerts int64
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts WHERE status = 'active'`).Scan(&alerts); err != nil {
		c.logger.Warn("metrics query failed", zap.String("metric", "alerts_active"), zap.Error(err))
	} else {
		ch <- prometheus.MustNewConstMetric(c.activeAlerts, prometheus.GaugeValue, float64(alerts))
	}

	var oldest sql.NullTime
	if err := c.db.QueryRowContext(ctx, `SELECT MIN(triggered_at) FROM alarm_events WHERE status = 'active'`).Scan(&oldest); err != nil {
		c.logger.Warn("metrics query failed", zap.String("metric", "alarm_oldest_unacknowledged_seconds"), zap.Error(err))
		return
	}
	age := 0.0
	if oldest.Valid {
		age = time.Since(oldest.Time).Seconds()
	}
	ch <- prometheus.MustNewConstMetric(c.oldestActive, prometheus.GaugeValue, age)
}

func registerDBMetrics(db *sql.DB, logger *zap.Logger) {
	prometheus.MustRegister(newAlarmStateCollector(db, logger))
}
