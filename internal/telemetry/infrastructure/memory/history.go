package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"frostguard/internal/telemetry/domain"
)

// History is an in-memory telemetry.History for demo/testing.
type History struct {
	mu       sync.RWMutex
	readings map[string][]telemetry.Reading
	doors    map[string][]telemetry.DoorEvent
}

// NewHistory constructs an empty history.
func NewHistory() *History {
	return &History{
		readings: make(map[string][]telemetry.Reading),
		doors:    make(map[string][]telemetry.DoorEvent),
	}
}

// Record stores a reading and derives a door event on state change.
func (h *History) Record(ctx context.Context, reading telemetry.Reading) error {
	_ = ctx
	if err := reading.Validate(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	list := append(h.readings[reading.UnitID], reading)
	sort.SliceStable(list, func(i, j int) bool { return list[i].RecordedAt.Before(list[j].RecordedAt) })
	h.readings[reading.UnitID] = list

	if open, ok := reading.IsDoorOpen(); ok {
		state := telemetry.DoorClosed
		if open {
			state = telemetry.DoorOpen
		}
		events := h.doors[reading.UnitID]
		if len(events) == 0 || events[len(events)-1].State != state {
			h.appendDoorLocked(reading.UnitID, telemetry.DoorEvent{State: state, OccurredAt: reading.RecordedAt.UTC()})
		}
	}
	return nil
}

// AddDoorEvent records a door transition directly.
func (h *History) AddDoorEvent(unitID string, event telemetry.DoorEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.appendDoorLocked(unitID, event)
}

func (h *History) appendDoorLocked(unitID string, event telemetry.DoorEvent) {
	events := append(h.doors[unitID], event)
	sort.SliceStable(events, func(i, j int) bool { return events[i].OccurredAt.Before(events[j].OccurredAt) })
	h.doors[unitID] = events
}

// Samples returns values of field in [from, to], oldest first.
func (h *History) Samples(ctx context.Context, unitID, field string, from, to time.Time) ([]telemetry.Sample, error) {
	_ = ctx
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []telemetry.Sample
	for _, reading := range h.readings[unitID] {
		if reading.RecordedAt.Before(from) || reading.RecordedAt.After(to) {
			continue
		}
		if value, ok := reading.NumericField(field); ok {
			out = append(out, telemetry.Sample{Value: value, RecordedAt: reading.RecordedAt})
		}
	}
	return out, nil
}

// LatestDoorEvent returns the newest event with state at or before at.
func (h *History) LatestDoorEvent(ctx context.Context, unitID, state string, at time.Time) (*telemetry.DoorEvent, error) {
	_ = ctx
	h.mu.RLock()
	defer h.mu.RUnlock()
	events := h.doors[unitID]
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].OccurredAt.After(at) {
			continue
		}
		if events[i].State == state {
			event := events[i]
			return &event, nil
		}
	}
	return nil, nil
}

// SiteSnapshots returns the last known value of field per unit at a site.
func (h *History) SiteSnapshots(ctx context.Context, siteID, field string) ([]telemetry.UnitSnapshot, error) {
	_ = ctx
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []telemetry.UnitSnapshot
	for unitID, readings := range h.readings {
		for i := len(readings) - 1; i >= 0; i-- {
			if readings[i].SiteID != siteID {
				continue
			}
			if value, ok := readings[i].NumericField(field); ok {
				out = append(out, telemetry.UnitSnapshot{UnitID: unitID, Value: value, RecordedAt: readings[i].RecordedAt})
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UnitID < out[j].UnitID })
	return out, nil
}
