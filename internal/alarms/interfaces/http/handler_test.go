package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	alarmapp "frostguard/internal/alarms/application"
	"frostguard/internal/alarms/catalog"
	alarms "frostguard/internal/alarms/domain"
	"frostguard/internal/audit"
	"frostguard/internal/auth"
	masterdata "frostguard/internal/masterdata/domain"
	masterdatamemory "frostguard/internal/masterdata/infrastructure/memory"
	telemetry "frostguard/internal/telemetry/domain"
)

type stubEngine struct {
	got telemetry.Reading
	err error
}

func (s *stubEngine) Evaluate(ctx context.Context, reading telemetry.Reading) (alarmapp.Summary, error) {
	s.got = reading
	if s.err != nil {
		return alarmapp.Summary{}, s.err
	}
	if err := reading.Validate(); err != nil {
		return alarmapp.Summary{}, err
	}
	return alarmapp.Summary{Evaluated: 3, Fired: 1, FiredSlugs: []string{"temp_high"}}, nil
}

type stubCatalog struct {
	err error
}

func (s stubCatalog) ListAvailableAlarms(ctx context.Context, unitID, orgID, siteID string) ([]catalog.AvailableAlarm, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []catalog.AvailableAlarm{{Definition: alarms.Definition{Slug: "temp_high"}, Enabled: true}}, nil
}

type stubLifecycle struct {
	err error
}

func (s stubLifecycle) Acknowledge(ctx context.Context, eventID, by string) (*alarms.Event, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &alarms.Event{ID: eventID, OrgID: "org-a", Status: alarms.StatusAcknowledged, AcknowledgedBy: by}, nil
}

func (s stubLifecycle) Resolve(ctx context.Context, eventID, by, note string) (*alarms.Event, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &alarms.Event{ID: eventID, OrgID: "org-a", Status: alarms.StatusResolved, ResolvedBy: by, ResolutionNote: note}, nil
}

type recordingAudit struct {
	entries []audit.Entry
}

func (a *recordingAudit) Log(ctx context.Context, entry audit.Entry) error {
	a.entries = append(a.entries, entry)
	return nil
}

func newTestHandler(t *testing.T, engine ReadingEvaluator, cat AlarmLister, lifecycle EventActions, opts ...Option) *Handler {
	t.Helper()
	h, err := NewHandler(engine, cat, lifecycle, opts...)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return h
}

func withOrg(req *http.Request, orgID string) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), orgID, auth.RoleService, "svc"))
}

const readingBody = `{"unitId":"unit-1","orgId":"org-a","temperature":45,"recordedAt":"2026-03-01T12:00:00Z"}`

func TestEvaluateReturnsSummary(t *testing.T) {
	engine := &stubEngine{}
	h := newTestHandler(t, engine, stubCatalog{}, stubLifecycle{})

	req := withOrg(httptest.NewRequest(http.MethodPost, "/api/v1/readings/evaluate", strings.NewReader(readingBody)), "org-a")
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if !strings.Contains(resp.Body.String(), `"firedSlugs":["temp_high"]`) {
		t.Fatalf("unexpected body %s", resp.Body.String())
	}
	if engine.got.UnitID != "unit-1" {
		t.Fatalf("reading not passed to engine: %+v", engine.got)
	}
}

func TestEvaluateRejectsOrgMismatch(t *testing.T) {
	h := newTestHandler(t, &stubEngine{}, stubCatalog{}, stubLifecycle{})
	req := withOrg(httptest.NewRequest(http.MethodPost, "/api/v1/readings/evaluate", strings.NewReader(readingBody)), "org-b")
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
}

func TestEvaluateErrorMapping(t *testing.T) {
	cases := []struct {
		body string
		err  error
		want int
	}{
		{body: `{"orgId":"org-a","recordedAt":"2026-03-01T12:00:00Z"}`, want: http.StatusBadRequest},
		{body: `{bad`, want: http.StatusBadRequest},
		{body: readingBody, err: fmt.Errorf("catalog: %w", masterdata.ErrUnitNotFound), want: http.StatusNotFound},
		{body: readingBody, err: errors.New("db down"), want: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		h := newTestHandler(t, &stubEngine{err: tc.err}, stubCatalog{}, stubLifecycle{})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/readings/evaluate", strings.NewReader(tc.body))
		resp := httptest.NewRecorder()
		h.ServeHTTP(resp, req)
		if resp.Code != tc.want {
			t.Fatalf("body %s: expected %d, got %d", tc.body, tc.want, resp.Code)
		}
	}
}

func TestListUnitAlarms(t *testing.T) {
	h := newTestHandler(t, &stubEngine{}, stubCatalog{}, stubLifecycle{})

	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/units/unit-1/alarms?org_id=org-a", nil))
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), "temp_high") {
		t.Fatalf("unexpected response %d %s", resp.Code, resp.Body.String())
	}

	resp = httptest.NewRecorder()
	h.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/units/unit-1/alarms", nil))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without org, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	h.ServeHTTP(resp, withOrg(httptest.NewRequest(http.MethodGet, "/api/v1/units/unit-1/alarms?org_id=org-b", nil), "org-a"))
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign org, got %d", resp.Code)
	}
}

func TestListUnitAlarmsUnknownUnit(t *testing.T) {
	h := newTestHandler(t, &stubEngine{}, stubCatalog{err: masterdata.ErrUnitNotFound}, stubLifecycle{})
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/units/missing/alarms?org_id=org-a", nil))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestAlarmEventActionsAreAudited(t *testing.T) {
	recorder := &recordingAudit{}
	h := newTestHandler(t, &stubEngine{}, stubCatalog{}, stubLifecycle{}, WithAuditLogger(recorder))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/alarm-events/evt-1/resolve", strings.NewReader(`{"note":"door fixed"}`))
	req = req.WithContext(auth.WithIdentity(req.Context(), "org-a", auth.RoleOperator, "alice"))
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), `"resolution_note":"door fixed"`) {
		t.Fatalf("unexpected body %s", resp.Body.String())
	}
	if len(recorder.entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(recorder.entries))
	}
	entry := recorder.entries[0]
	if entry.Action != "alarm_event.resolve" || entry.Actor != "alice" || entry.ResourceID != "evt-1" {
		t.Fatalf("unexpected audit entry %+v", entry)
	}
}

func TestAlarmEventActionErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{err: alarms.ErrNotFound, want: http.StatusNotFound},
		{err: alarms.ErrInvalidTransition, want: http.StatusConflict},
		{err: auth.ErrOrgMismatch, want: http.StatusForbidden},
	}
	for _, tc := range cases {
		h := newTestHandler(t, &stubEngine{}, stubCatalog{}, stubLifecycle{err: tc.err})
		resp := httptest.NewRecorder()
		h.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/v1/alarm-events/evt-1/ack", nil))
		if resp.Code != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, resp.Code)
		}
	}

	h := newTestHandler(t, &stubEngine{}, stubCatalog{}, stubLifecycle{})
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/v1/alarm-events/evt-1/clear", nil))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown action, got %d", resp.Code)
	}
}

func TestUnitCheckerRejectsForeignUnit(t *testing.T) {
	units := masterdatamemory.NewUnitRepository(masterdata.Unit{ID: "unit-1", OrgID: "org-b", UnitType: "freezer"})
	engine := &stubEngine{}
	h := newTestHandler(t, engine, stubCatalog{}, stubLifecycle{}, WithUnitChecker(auth.NewUnitChecker(units)))

	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, withOrg(httptest.NewRequest(http.MethodPost, "/api/v1/readings/evaluate", strings.NewReader(readingBody)), "org-a"))
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign unit, got %d", resp.Code)
	}
	if engine.got.UnitID != "" {
		t.Fatalf("engine must not run for foreign unit")
	}

	resp = httptest.NewRecorder()
	h.ServeHTTP(resp, withOrg(httptest.NewRequest(http.MethodGet, "/api/v1/units/unit-1/alarms", nil), "org-a"))
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 listing foreign unit, got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	h.ServeHTTP(resp, withOrg(httptest.NewRequest(http.MethodGet, "/api/v1/units/unit-1/alarms", nil), "org-b"))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for owning org, got %d", resp.Code)
	}
}

func TestUnitCheckerAllowsUnregisteredUnit(t *testing.T) {
	engine := &stubEngine{}
	h := newTestHandler(t, engine, stubCatalog{}, stubLifecycle{}, WithUnitChecker(auth.NewUnitChecker(masterdatamemory.NewUnitRepository())))

	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, withOrg(httptest.NewRequest(http.MethodPost, "/api/v1/readings/evaluate", strings.NewReader(readingBody)), "org-a"))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if engine.got.UnitID != "unit-1" {
		t.Fatalf("expected engine to evaluate unregistered unit")
	}
}
