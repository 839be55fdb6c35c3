package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	alarmapp "frostguard/internal/alarms/application"
	"frostguard/internal/alarms/catalog"
	alarms "frostguard/internal/alarms/domain"
	"frostguard/internal/audit"
	"frostguard/internal/auth"
	masterdata "frostguard/internal/masterdata/domain"
	"frostguard/internal/observability/metrics"
	telemetry "frostguard/internal/telemetry/domain"
	"frostguard/internal/telemetry/interfaces/ingest"

	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// ReadingEvaluator evaluates one reading.
type ReadingEvaluator interface {
	Evaluate(ctx context.Context, reading telemetry.Reading) (alarmapp.Summary, error)
}

// AlarmLister lists the alarm catalog for a unit.
type AlarmLister interface {
	ListAvailableAlarms(ctx context.Context, unitID, orgID, siteID string) ([]catalog.AvailableAlarm, error)
}

// EventActions applies human lifecycle transitions.
type EventActions interface {
	Acknowledge(ctx context.Context, eventID, by string) (*alarms.Event, error)
	Resolve(ctx context.Context, eventID, by, note string) (*alarms.Event, error)
}

// Handler provides alarm HTTP endpoints.
type Handler struct {
	engine    ReadingEvaluator
	catalog   AlarmLister
	lifecycle EventActions
	units     auth.UnitOrgChecker
	audit     audit.Logger
	logger    *zap.Logger
}

// Option configures the handler.
type Option func(*Handler)

// WithAuditLogger records operator actions.
func WithAuditLogger(logger audit.Logger) Option {
	return func(h *Handler) {
		h.audit = logger
	}
}

// WithUnitChecker rejects requests for units outside the caller's org.
func WithUnitChecker(checker auth.UnitOrgChecker) Option {
	return func(h *Handler) {
		h.units = checker
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandler constructs a handler.
func NewHandler(engine ReadingEvaluator, cat AlarmLister, lifecycle EventActions, opts ...Option) (*Handler, error) {
	if engine == nil {
		return nil, errors.New("alarms handler: nil engine")
	}
	if cat == nil {
		return nil, errors.New("alarms handler: nil catalog")
	}
	if lifecycle == nil {
		return nil, errors.New("alarms handler: nil lifecycle")
	}
	h := &Handler{engine: engine, catalog: cat, lifecycle: lifecycle, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Register mounts the alarm routes.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("/api/v1/readings/evaluate", h)
	mux.Handle("/api/v1/units/", h)
	mux.Handle("/api/v1/alarm-events/", h)
}

// ServeHTTP handles the alarm routes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/readings/evaluate":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleEvaluate(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/v1/units/"):
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleListAlarms(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/v1/alarm-events/"):
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleAction(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	result := metrics.ResultError
	defer func() {
		metrics.ObserveIngest("http", result, time.Since(start))
	}()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		metrics.IncIngestError("read_body")
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	reading, err := ingest.DecodeReading(body)
	if err != nil {
		metrics.IncIngestError("decode")
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if orgID := auth.OrgIDFromContext(r.Context()); orgID != "" && reading.OrgID != "" && orgID != reading.OrgID {
		metrics.IncIngestError("org_mismatch")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if err := h.ensureUnitOrg(r.Context(), reading.UnitID); err != nil {
		metrics.IncIngestError("unit_scope")
		respondEngineError(w, err)
		return
	}

	summary, err := h.engine.Evaluate(r.Context(), reading)
	if err != nil {
		h.logger.Warn("reading evaluation failed",
			zap.String("unit_id", reading.UnitID),
			zap.String("reading_id", reading.ReadingID),
			zap.Error(err))
		respondEngineError(w, err)
		return
	}
	result = metrics.ResultSuccess
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleListAlarms(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/units/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "alarms" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	unitID := parts[0]

	orgID := r.URL.Query().Get("org_id")
	tokenOrg := auth.OrgIDFromContext(r.Context())
	if orgID == "" {
		orgID = tokenOrg
	}
	if orgID == "" {
		http.Error(w, "org_id is required", http.StatusBadRequest)
		return
	}
	if tokenOrg != "" && orgID != tokenOrg {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if err := h.ensureUnitOrg(r.Context(), unitID); err != nil {
		respondEngineError(w, err)
		return
	}

	list, err := h.catalog.ListAvailableAlarms(r.Context(), unitID, orgID, r.URL.Query().Get("site_id"))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) ensureUnitOrg(ctx context.Context, unitID string) error {
	if h.units == nil {
		return nil
	}
	err := h.units.EnsureUnitOrg(ctx, auth.OrgIDFromContext(ctx), unitID)
	if errors.Is(err, auth.ErrNotFound) {
		// unregistered units still get the universal alarms
		return nil
	}
	return err
}

type actionRequest struct {
	Note string `json:"note"`
}

func (h *Handler) handleAction(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/alarm-events/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	id := parts[0]
	action := parts[1]

	var req actionRequest
	if r.Body != nil {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			http.Error(w, "read body error", http.StatusBadRequest)
			return
		}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &req); err != nil {
				http.Error(w, "invalid json", http.StatusBadRequest)
				return
			}
		}
	}

	actor := auth.SubjectFromContext(r.Context())
	if actor == "" {
		actor = "operator"
	}

	var (
		event *alarms.Event
		err   error
	)
	switch action {
	case "ack":
		event, err = h.lifecycle.Acknowledge(r.Context(), id, actor)
	case "resolve":
		event, err = h.lifecycle.Resolve(r.Context(), id, actor, req.Note)
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		respondEngineError(w, err)
		return
	}
	h.recordAudit(r, action, actor, event)
	writeJSON(w, http.StatusOK, event)
}

func (h *Handler) recordAudit(r *http.Request, action, actor string, event *alarms.Event) {
	if h.audit == nil || event == nil {
		return
	}
	entry := audit.NewEntry(r.Context(), "alarm_event."+action, audit.ResourceAlarmEvent, event.ID, map[string]any{
		"status":     event.Status,
		"alarm_slug": event.Slug,
		"note":       event.ResolutionNote,
	})
	entry.OrgID = event.OrgID
	entry.Actor = actor
	entry.UnitID = event.UnitID
	if err := h.audit.Log(r.Context(), audit.WithRequest(entry, r)); err != nil {
		h.logger.Warn("audit log failed", zap.String("alarm_event_id", event.ID), zap.Error(err))
	}
}

func respondEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, telemetry.ErrInvalidReading):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, auth.ErrOrgMismatch):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, masterdata.ErrUnitNotFound), errors.Is(err, alarms.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, alarms.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}
