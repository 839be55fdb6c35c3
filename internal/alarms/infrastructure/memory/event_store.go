package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	alarms "frostguard/internal/alarms/domain"
)

// EventStore is an in-memory alarms.EventRepository. It enforces one active
// event per definition and unit like the partial unique index in Postgres.
type EventStore struct {
	mu     sync.RWMutex
	events map[string]alarms.Event
	// FailCreate makes Create fail, for exercising write failures.
	FailCreate error
}

// NewEventStore constructs an empty store.
func NewEventStore() *EventStore {
	return &EventStore{events: make(map[string]alarms.Event)}
}

// Create stores a new event.
func (s *EventStore) Create(ctx context.Context, event *alarms.Event) error {
	_ = ctx
	if event == nil {
		return errors.New("event store: nil event")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailCreate != nil {
		return s.FailCreate
	}
	if event.Status == alarms.StatusActive {
		for _, existing := range s.events {
			if existing.Status == alarms.StatusActive &&
				existing.DefinitionID == event.DefinitionID &&
				existing.UnitID == event.UnitID {
				return alarms.ErrActiveEventExists
			}
		}
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = event.TriggeredAt
	}
	event.UpdatedAt = event.CreatedAt
	s.events[event.ID] = cloneEvent(*event)
	return nil
}

// GetByID returns the event, nil when missing.
func (s *EventStore) GetByID(ctx context.Context, id string) (*alarms.Event, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	event, ok := s.events[id]
	if !ok {
		return nil, nil
	}
	event = cloneEvent(event)
	return &event, nil
}

// ListOpenByUnit returns active and acknowledged events, newest first.
func (s *EventStore) ListOpenByUnit(ctx context.Context, unitID string) ([]alarms.Event, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []alarms.Event
	for _, event := range s.events {
		if event.UnitID == unitID && event.Status.Open() {
			out = append(out, cloneEvent(event))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TriggeredAt.After(out[j].TriggeredAt) })
	return out, nil
}

// Acknowledge moves an active event to acknowledged.
func (s *EventStore) Acknowledge(ctx context.Context, id, by string, at time.Time) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[id]
	if !ok {
		return alarms.ErrNotFound
	}
	if !event.Status.CanTransition(alarms.StatusAcknowledged) {
		return alarms.ErrInvalidTransition
	}
	event.Status = alarms.StatusAcknowledged
	event.AcknowledgedAt = at
	event.AcknowledgedBy = by
	event.UpdatedAt = at
	s.events[id] = event
	return nil
}

// Resolve moves an event into a terminal status.
func (s *EventStore) Resolve(ctx context.Context, id string, status alarms.EventStatus, by, note string, at time.Time) error {
	_ = ctx
	if status != alarms.StatusResolved && status != alarms.StatusAutoResolved {
		return alarms.ErrInvalidTransition
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[id]
	if !ok {
		return alarms.ErrNotFound
	}
	if !event.Status.CanTransition(status) {
		return alarms.ErrInvalidTransition
	}
	event.Status = status
	event.ResolvedAt = at
	event.ResolvedBy = by
	event.ResolutionNote = note
	event.UpdatedAt = at
	s.events[id] = event
	return nil
}

// All returns every stored event ordered by trigger time.
func (s *EventStore) All() []alarms.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]alarms.Event, 0, len(s.events))
	for _, event := range s.events {
		out = append(out, cloneEvent(event))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TriggeredAt.Before(out[j].TriggeredAt) })
	return out
}

func cloneEvent(event alarms.Event) alarms.Event {
	if event.TriggerValue != nil {
		v := *event.TriggerValue
		event.TriggerValue = &v
	}
	if event.Snapshot != nil {
		snapshot := make(map[string]any, len(event.Snapshot))
		for k, v := range event.Snapshot {
			snapshot[k] = v
		}
		event.Snapshot = snapshot
	}
	return event
}
