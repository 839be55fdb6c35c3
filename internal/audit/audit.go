package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"frostguard/internal/auth"

	"github.com/google/uuid"
)

// Operator actions recorded in audit_logs.
const (
	ActionAlarmEventAck     = "alarm_event.ack"
	ActionAlarmEventResolve = "alarm_event.resolve"
	ActionOverrideUpsert    = "alarm_override.upsert"

	ResourceAlarmEvent    = "alarm_event"
	ResourceAlarmOverride = "alarm_override"
)

// Entry is one operator action against an alarm resource.
type Entry struct {
	ID            string
	OrgID         string
	Actor         string
	Role          string
	Action        string
	ResourceType  string
	ResourceID    string
	UnitID        string
	Metadata      json.RawMessage
	PayloadDigest string
	IP            string
	UserAgent     string
	CreatedAt     time.Time
}

// Logger writes audit entries.
type Logger interface {
	Log(ctx context.Context, entry Entry) error
}

// NewEntry builds an entry attributed to the caller identity in ctx.
// metadata is marshalled to JSON and digested.
func NewEntry(ctx context.Context, action, resourceType, resourceID string, metadata any) Entry {
	id, _ := auth.IdentityFromContext(ctx)
	entry := Entry{
		OrgID:        id.OrgID,
		Actor:        id.Subject,
		Role:         string(id.Role),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
	if metadata != nil {
		if raw, err := json.Marshal(metadata); err == nil {
			entry.Metadata = raw
		}
	}
	return entry.normalize(time.Now().UTC())
}

func (e Entry) normalize(now time.Time) Entry {
	if e.ID == "" {
		e.ID = NewID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.PayloadDigest == "" {
		e.PayloadDigest = DigestJSON(e.Metadata)
	}
	return e
}

// NewID generates a random audit id.
func NewID() string {
	return "audit-" + uuid.NewString()
}

// DigestJSON computes a SHA256 hex digest for metadata payloads.
func DigestJSON(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// MemoryLogger keeps entries in process. Used in DEV_MODE.
type MemoryLogger struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemoryLogger constructs an empty logger.
func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{}
}

// Log appends the entry.
func (m *MemoryLogger) Log(_ context.Context, entry Entry) error {
	m.mu.Lock()
	m.entries = append(m.entries, entry.normalize(time.Now().UTC()))
	m.mu.Unlock()
	return nil
}

// Entries returns a copy of every logged entry.
func (m *MemoryLogger) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...)
}
