package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/friendsincode/wateringd/internal/audit"
	"github.com/friendsincode/wateringd/internal/auth"
	"github.com/friendsincode/wateringd/internal/clock"
	"github.com/friendsincode/wateringd/internal/db/dbtest"
	"github.com/friendsincode/wateringd/internal/events"
	"github.com/friendsincode/wateringd/internal/executor"
	"github.com/friendsincode/wateringd/internal/irrigation"
	"github.com/friendsincode/wateringd/internal/maintenance"
	"github.com/friendsincode/wateringd/internal/models"
	"github.com/friendsincode/wateringd/internal/scheduler"
)

// monday0630 is a Monday.
var monday0630 = time.Date(2026, time.October, 19, 6, 30, 0, 0, time.Local)

type testServer struct {
	router http.Handler
	audit  *audit.Service
}

func newTestServer(t *testing.T, cfg Config) *testServer {
	t.Helper()
	database := dbtest.Open(t)
	bus := events.NewBus()
	clk := clock.Func(func() time.Time { return monday0630 })
	nop := zerolog.Nop()

	ctl := executor.New(executor.DriverFunc(func(context.Context, int, executor.Level) error { return nil }),
		executor.Polarity{}, []int{7, 11, 12}, bus, nop, executor.WithClock(clk))
	mode := maintenance.New(database, ctl, bus, nop)
	if err := mode.Load(context.Background()); err != nil {
		t.Fatalf("load maintenance: %v", err)
	}
	sched := scheduler.New(clock.NewCompiler(database, nop), ctl, mode, clk, bus, time.Second, nop)
	svc := irrigation.New(irrigation.Deps{DB: database, Controller: ctl, Maintenance: mode, Scheduler: sched, Clock: clk, Bus: bus, Logger: nop})
	auditSvc := audit.NewService(database, bus, nop)

	r := chi.NewRouter()
	New(svc, auditSvc, bus, cfg, nop).Routes(r)
	return &testServer{router: r, audit: auditSvc}
}

func (s *testServer) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, Config{})
	rr := s.do(t, http.MethodGet, "/api/v1/health", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestCreateLineAndSchedule(t *testing.T) {
	s := newTestServer(t, Config{})

	rr := s.do(t, http.MethodPost, "/api/v1/lines", map[string]any{"name": "Grass", "channel": 7}, "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("create line: %d %s", rr.Code, rr.Body.String())
	}
	line := decode[models.WateringLine](t, rr)

	rr = s.do(t, http.MethodPost, "/api/v1/lines", map[string]any{"name": "Lawn", "channel": 7}, "")
	if rr.Code != http.StatusConflict || decode[map[string]any](t, rr)["error"] != "duplicate_channel" {
		t.Fatalf("duplicate channel: %d %s", rr.Code, rr.Body.String())
	}

	window := map[string]any{"line_id": line.ID, "start": "06:00", "end": "07:00", "weekdays": []string{"Mon"}}
	rr = s.do(t, http.MethodPost, "/api/v1/schedules", window, "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("create schedule: %d %s", rr.Code, rr.Body.String())
	}
	created := decode[map[string]any](t, rr)
	if created["line_name"] != "Grass" || created["active_now"] != true {
		t.Fatalf("unexpected schedule view %v", created)
	}

	overlap := map[string]any{"line_id": line.ID, "start": "06:30", "end": "08:00", "weekdays": []string{"Mon", "Tue"}}
	rr = s.do(t, http.MethodPost, "/api/v1/schedules", overlap, "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", rr.Code, rr.Body.String())
	}
	body := decode[struct {
		Error string   `json:"error"`
		Days  []string `json:"days"`
	}](t, rr)
	if body.Error != "schedule_conflict" || len(body.Days) != 1 || body.Days[0] != "Mon" {
		t.Fatalf("unexpected conflict body %+v", body)
	}

	rr = s.do(t, http.MethodGet, "/api/v1/triggers", nil, "")
	if triggers := decode[[]clock.Trigger](t, rr); len(triggers) != 2 {
		t.Fatalf("expected 2 compiled triggers, got %d", len(triggers))
	}
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t, Config{})

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"bad time", http.MethodPost, "/api/v1/schedules", map[string]any{"line_id": 1, "start": "25:00", "end": "26:00", "weekdays": []string{"Mon"}}, http.StatusBadRequest, "invalid_input"},
		{"missing line", http.MethodPost, "/api/v1/schedules", map[string]any{"line_id": 99, "start": "05:00", "end": "06:00", "weekdays": []string{"Mon"}}, http.StatusNotFound, "not_found"},
		{"unknown field", http.MethodPost, "/api/v1/lines", map[string]any{"name": "x", "channel": 7, "pin": 3}, http.StatusBadRequest, "invalid_input"},
		{"unconfigured channel", http.MethodPost, "/api/v1/lines", map[string]any{"name": "x", "channel": 40}, http.StatusBadRequest, "invalid_input"},
		{"unknown relay channel", http.MethodPost, "/api/v1/channels/40/on", nil, http.StatusNotFound, "unknown_channel"},
		{"bad line id", http.MethodGet, "/api/v1/lines/abc", nil, http.StatusBadRequest, "invalid_input"},
		{"missing schedule", http.MethodDelete, "/api/v1/schedules/42", nil, http.StatusNotFound, "not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := s.do(t, tt.method, tt.path, tt.body, "")
			if rr.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rr.Code, tt.status, rr.Body.String())
			}
			if got := decode[map[string]any](t, rr)["error"]; got != tt.code {
				t.Fatalf("error = %v, want %s", got, tt.code)
			}
		})
	}
}

func TestManualControlIsExclusive(t *testing.T) {
	s := newTestServer(t, Config{})

	for _, ch := range []string{"7", "11"} {
		if rr := s.do(t, http.MethodPost, "/api/v1/channels/"+ch+"/on", nil, ""); rr.Code != http.StatusOK {
			t.Fatalf("on %s: %d %s", ch, rr.Code, rr.Body.String())
		}
	}
	st := decode[irrigation.Status](t, s.do(t, http.MethodGet, "/api/v1/status", nil, ""))
	if st.ActiveChannel == nil || *st.ActiveChannel != 11 {
		t.Fatalf("expected channel 11 active, got %v", st.ActiveChannel)
	}

	if rr := s.do(t, http.MethodPost, "/api/v1/channels/off", nil, ""); rr.Code != http.StatusOK {
		t.Fatalf("all off: %d", rr.Code)
	}
	st = decode[irrigation.Status](t, s.do(t, http.MethodGet, "/api/v1/status", nil, ""))
	if st.ActiveChannel != nil {
		t.Fatalf("expected no active channel, got %d", *st.ActiveChannel)
	}
}

func TestManualControlIsRateLimited(t *testing.T) {
	s := newTestServer(t, Config{ManualRatePerSec: 0.001, ManualRateBurst: 1})

	if rr := s.do(t, http.MethodPost, "/api/v1/channels/7/on", nil, ""); rr.Code != http.StatusOK {
		t.Fatalf("first command: %d", rr.Code)
	}
	rr := s.do(t, http.MethodPost, "/api/v1/channels/7/off", nil, "")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
}

func TestMaintenanceToggle(t *testing.T) {
	s := newTestServer(t, Config{})

	rr := s.do(t, http.MethodPost, "/api/v1/maintenance/toggle", nil, "")
	if rr.Code != http.StatusOK || decode[map[string]bool](t, rr)["maintenance"] != true {
		t.Fatalf("toggle on: %d %s", rr.Code, rr.Body.String())
	}
	rr = s.do(t, http.MethodGet, "/api/v1/maintenance", nil, "")
	if decode[map[string]bool](t, rr)["maintenance"] != true {
		t.Fatalf("expected maintenance on, got %s", rr.Body.String())
	}
}

func TestWritesRequireTokenWhenAuthEnabled(t *testing.T) {
	secret := []byte("test-secret")
	hash, err := auth.HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	s := newTestServer(t, Config{JWTSecret: secret, AdminPasswordHash: hash, TokenTTL: time.Hour})

	if rr := s.do(t, http.MethodGet, "/api/v1/lines", nil, ""); rr.Code != http.StatusOK {
		t.Fatalf("reads should stay public, got %d", rr.Code)
	}
	if rr := s.do(t, http.MethodPost, "/api/v1/lines", map[string]any{"name": "Grass", "channel": 7}, ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}

	if rr := s.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{"password": "nope"}, ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password, got %d", rr.Code)
	}
	rr := s.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{"password": "hunter2"}, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("login: %d %s", rr.Code, rr.Body.String())
	}
	token, _ := decode[map[string]any](t, rr)["access_token"].(string)

	if rr := s.do(t, http.MethodPost, "/api/v1/lines", map[string]any{"name": "Grass", "channel": 7}, token); rr.Code != http.StatusCreated {
		t.Fatalf("expected 201 with token, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestHistory(t *testing.T) {
	s := newTestServer(t, Config{})
	ctx := context.Background()
	seven, eleven := 7, 11
	for _, entry := range []*models.ActivationLog{
		{Action: models.ActionActivate, Channel: &seven, Source: executor.SourceScheduler},
		{Action: models.ActionActivate, Channel: &eleven, Source: executor.SourceManual},
		{Action: models.ActionDeactivate, Channel: &seven, Source: executor.SourceScheduler},
	} {
		if err := s.audit.Log(ctx, entry); err != nil {
			t.Fatalf("log: %v", err)
		}
	}

	rr := s.do(t, http.MethodGet, "/api/v1/history?channel=7", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("history: %d", rr.Code)
	}
	body := decode[struct {
		History []models.ActivationLog `json:"history"`
		Total   int64                  `json:"total"`
	}](t, rr)
	if body.Total != 2 || len(body.History) != 2 {
		t.Fatalf("expected 2 rows for channel 7, got %+v", body)
	}
}

func TestParseEventTypes(t *testing.T) {
	got := parseEventTypes(" line.activated, ,maintenance.toggled")
	if len(got) != 2 || got[0] != events.EventLineActivated || got[1] != events.EventMaintenanceToggled {
		t.Fatalf("parseEventTypes = %v", got)
	}
	if parseEventTypes("") != nil {
		t.Fatal("expected nil for empty input")
	}
}
