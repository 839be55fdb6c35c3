package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	alarms "frostguard/internal/alarms/domain"
)

// AlertStore is an in-memory alarms.AlertRepository.
type AlertStore struct {
	mu     sync.RWMutex
	alerts []alarms.Alert
}

// NewAlertStore constructs an empty store.
func NewAlertStore() *AlertStore {
	return &AlertStore{}
}

// Create stores an alert.
func (s *AlertStore) Create(ctx context.Context, alert *alarms.Alert) error {
	_ = ctx
	if alert == nil {
		return errors.New("alert store: nil alert")
	}
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	s.mu.Lock()
	s.alerts = append(s.alerts, *alert)
	s.mu.Unlock()
	return nil
}

// ResolveByEvent resolves active alerts bridged from the event.
func (s *AlertStore) ResolveByEvent(ctx context.Context, eventID string, at time.Time) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.alerts {
		if s.alerts[i].AlarmEventID == eventID && s.alerts[i].Status == alarms.AlertActive {
			s.alerts[i].Status = alarms.AlertResolved
			s.alerts[i].ResolvedAt = at
		}
	}
	return nil
}

// All returns a copy of every alert.
func (s *AlertStore) All() []alarms.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]alarms.Alert(nil), s.alerts...)
}

// EvaluationLogStore is an in-memory alarms.EvaluationLogWriter.
type EvaluationLogStore struct {
	mu   sync.RWMutex
	logs []alarms.EvaluationLog
	// Batches counts Write calls.
	Batches int
}

// NewEvaluationLogStore constructs an empty store.
func NewEvaluationLogStore() *EvaluationLogStore {
	return &EvaluationLogStore{}
}

// Write appends logs.
func (s *EvaluationLogStore) Write(ctx context.Context, logs []alarms.EvaluationLog) error {
	_ = ctx
	s.mu.Lock()
	s.logs = append(s.logs, logs...)
	s.Batches++
	s.mu.Unlock()
	return nil
}

// All returns a copy of every log row.
func (s *EvaluationLogStore) All() []alarms.EvaluationLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]alarms.EvaluationLog(nil), s.logs...)
}
