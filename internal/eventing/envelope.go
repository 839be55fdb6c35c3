package eventing

import (
	"encoding/json"
	"errors"
	"reflect"
	"time"

	"github.com/google/uuid"
)

// Envelope wraps event payload with metadata.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id"`
	OrgID         string          `json:"org_id"`
	UnitID        string          `json:"unit_id,omitempty"`
	SchemaVersion int             `json:"schema_version"`
	Payload       json.RawMessage `json:"payload"`
}

// Meta provides envelope overrides.
type Meta struct {
	EventID       string
	EventType     string
	OccurredAt    time.Time
	CorrelationID string
	OrgID         string
	UnitID        string
	SchemaVersion int
}

// BuildEnvelope constructs an envelope from event payload and metadata.
func BuildEnvelope(event any, meta Meta) (Envelope, error) {
	if event == nil {
		return Envelope{}, errors.New("eventing: nil event")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return Envelope{}, err
	}

	eventType := meta.EventType
	if eventType == "" {
		t := reflect.TypeOf(event)
		for t.Kind() == reflect.Ptr {
			t = t.Elem()
		}
		eventType = t.String()
	}
	orgID := meta.OrgID
	if orgID == "" {
		orgID = extractStringField(event, "OrgID")
	}
	unitID := meta.UnitID
	if unitID == "" {
		unitID = extractStringField(event, "UnitID")
	}
	occurredAt := meta.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = extractTimeField(event, "OccurredAt", "RecordedAt")
	}
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	eventID := meta.EventID
	if eventID == "" {
		eventID = uuid.NewString()
	}
	correlationID := meta.CorrelationID
	if correlationID == "" {
		correlationID = eventID
	}
	schemaVersion := meta.SchemaVersion
	if schemaVersion == 0 {
		schemaVersion = 1
	}

	return Envelope{
		EventID:       eventID,
		EventType:     eventType,
		OccurredAt:    occurredAt.UTC(),
		CorrelationID: correlationID,
		OrgID:         orgID,
		UnitID:        unitID,
		SchemaVersion: schemaVersion,
		Payload:       payload,
	}, nil
}

// DecodeEnvelope parses data as an envelope. ok is false when data is not enveloped.
func DecodeEnvelope(data []byte) (Envelope, bool, error) {
	var probe struct {
		EventID *string         `json:"event_id"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return Envelope{}, false, err
	}
	if probe.EventID == nil || len(probe.Payload) == 0 {
		return Envelope{}, false, nil
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, false, err
	}
	return env, true, nil
}

func extractStringField(event any, names ...string) string {
	value := reflect.ValueOf(event)
	for value.Kind() == reflect.Ptr {
		if value.IsNil() {
			return ""
		}
		value = value.Elem()
	}
	if value.Kind() != reflect.Struct {
		return ""
	}
	for _, name := range names {
		field := value.FieldByName(name)
		if field.IsValid() && field.Kind() == reflect.String {
			return field.String()
		}
	}
	return ""
}

func extractTimeField(event any, names ...string) time.Time {
	value := reflect.ValueOf(event)
	for value.Kind() == reflect.Ptr {
		if value.IsNil() {
			return time.Time{}
		}
		value = value.Elem()
	}
	if value.Kind() != reflect.Struct {
		return time.Time{}
	}
	for _, name := range names {
		field := value.FieldByName(name)
		if !field.IsValid() {
			continue
		}
		if t, ok := field.Interface().(time.Time); ok && !t.IsZero() {
			return t
		}
	}
	return time.Time{}
}
