package audit

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Repository appends audit entries to audit_logs.
type Repository struct {
	db *sql.DB
}

// NewRepository returns nil for a nil db.
func NewRepository(db *sql.DB) *Repository {
	if db == nil {
		return nil
	}
	return &Repository{db: db}
}

// Log inserts one entry. Entries without an org are rejected.
func (r *Repository) Log(ctx context.Context, entry Entry) error {
	if r == nil || r.db == nil {
		return errors.New("audit repo: nil db")
	}
	if entry.OrgID == "" || entry.Action == "" {
		return errors.New("audit repo: org id and action required")
	}
	entry = entry.normalize(time.Now().UTC())

	var unitID sql.NullString
	if entry.UnitID != "" {
		unitID = sql.NullString{String: entry.UnitID, Valid: true}
	}
	var metadata any
	if len(entry.Metadata) > 0 {
		metadata = []byte(entry.Metadata)
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO audit_logs (
	id, org_id, actor, role, action, resource_type, resource_id, unit_id,
	metadata, payload_digest, ip, user_agent, created_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
)`, entry.ID, entry.OrgID, entry.Actor, entry.Role, entry.Action, entry.ResourceType, entry.ResourceID, unitID,
		metadata, entry.PayloadDigest, entry.IP, entry.UserAgent, entry.CreatedAt)
	return err
}
