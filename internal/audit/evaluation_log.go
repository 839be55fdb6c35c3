package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	alarms "frostguard/internal/alarms/domain"

	"github.com/google/uuid"
)

// DefaultEvaluationBatchSize is the number of rows per insert statement.
const DefaultEvaluationBatchSize = 50

const evaluationLogColumnCount = 20

// EvaluationLogRepository appends alarm evaluation rows in chunks.
type EvaluationLogRepository struct {
	db        *sql.DB
	batchSize int
}

// EvaluationLogOption configures the repository.
type EvaluationLogOption func(*EvaluationLogRepository)

// WithBatchSize overrides the rows per insert.
func WithBatchSize(size int) EvaluationLogOption {
	return func(r *EvaluationLogRepository) {
		if size > 0 {
			r.batchSize = size
		}
	}
}

// NewEvaluationLogRepository constructs a repository.
func NewEvaluationLogRepository(db *sql.DB, opts ...EvaluationLogOption) *EvaluationLogRepository {
	repo := &EvaluationLogRepository{db: db, batchSize: DefaultEvaluationBatchSize}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Write inserts logs in chunks. A failed chunk does not stop later chunks;
// the joined error reports every failure.
func (r *EvaluationLogRepository) Write(ctx context.Context, logs []alarms.EvaluationLog) error {
	if r == nil || r.db == nil {
		return errors.New("evaluation log repo: nil db")
	}
	var errs []error
	for start := 0; start < len(logs); start += r.batchSize {
		end := start + r.batchSize
		if end > len(logs) {
			end = len(logs)
		}
		if err := r.insertChunk(ctx, logs[start:end]); err != nil {
			errs = append(errs, fmt.Errorf("evaluation log chunk %d-%d: %w", start, end, err))
		}
	}
	return errors.Join(errs...)
}

func (r *EvaluationLogRepository) insertChunk(ctx context.Context, chunk []alarms.EvaluationLog) error {
	if len(chunk) == 0 {
		return nil
	}
	var b strings.Builder
	b.WriteString(`
INSERT INTO alarm_evaluation_logs (
	id, alarm_definition_id, slug, tier, org_id, site_id, unit_id, reading_id,
	fired, reason, trigger_value, threshold_min, threshold_max, detail, severity, alarm_event_id,
	cooldown_active, dedup_suppressed, duration_ms, evaluated_at
) VALUES `)
	args := make([]any, 0, len(chunk)*evaluationLogColumnCount)
	for i, log := range chunk {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for c := 0; c < evaluationLogColumnCount; c++ {
			if c > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", i*evaluationLogColumnCount+c+1)
		}
		b.WriteString(")")

		if log.ID == "" {
			log.ID = uuid.NewString()
		}
		evaluatedAt := log.EvaluatedAt
		if evaluatedAt.IsZero() {
			evaluatedAt = time.Now().UTC()
		}
		args = append(args,
			log.ID,
			log.DefinitionID,
			log.Slug,
			string(log.Tier),
			log.OrgID,
			nullString(log.SiteID),
			log.UnitID,
			nullString(log.ReadingID),
			log.Fired,
			string(log.Reason),
			nullFloat(log.TriggerValue),
			nullFloat(log.ThresholdMin),
			nullFloat(log.ThresholdMax),
			log.Detail,
			string(log.Severity),
			nullString(log.EventID),
			log.CooldownActive,
			log.DedupSuppressed,
			log.DurationMS,
			evaluatedAt,
		)
	}
	_, err := r.db.ExecContext(ctx, b.String(), args...)
	return err
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

func nullFloat(value *float64) sql.NullFloat64 {
	if value == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *value, Valid: true}
}
