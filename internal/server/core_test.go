package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/wateringd/internal/config"
	"github.com/friendsincode/wateringd/internal/scheduling"
)

func testConfig() *config.Config {
	return &config.Config{
		Environment:  "test",
		DBBackend:    config.DatabaseSQLite,
		DBDSN:        "file::memory:?_foreign_keys=on",
		TickInterval: time.Second,
		Channels:     []int{11, 12, 13},
		RelayDriver:  config.RelayDriverLog,
	}
}

func TestCoreStartupClosesValvesAndCompiles(t *testing.T) {
	ctx := context.Background()
	core, err := NewCore(ctx, testConfig(), true, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewCore: %v", err)
	}
	defer core.Close()

	line, err := core.Irrigation.CreateLine(ctx, scheduling.LineInput{Name: "Beds", Channel: 12})
	if err != nil {
		t.Fatalf("CreateLine: %v", err)
	}
	if _, err := core.Irrigation.CreateSchedule(ctx, scheduling.WindowInput{LineID: line.ID, Start: "05:00", End: "05:20", Weekdays: []string{"Mon", "Thu"}}); err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}
	if err := core.Controller.Activate(ctx, 13, "manual"); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	if err := core.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if ch, on := core.Controller.Active(); on {
		t.Fatalf("expected every valve closed after startup, channel %d is open", ch)
	}
	if n := len(core.Scheduler.Triggers()); n != 4 {
		t.Fatalf("expected 4 compiled triggers, got %d", n)
	}
}

func TestHealthzReportsLeaderOnlyWhenElectionEnabled(t *testing.T) {
	s := &Server{}
	rr := httptest.NewRecorder()
	s.handleHealthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != `{"status":"ok"}` {
		t.Fatalf("healthz = %d %s", rr.Code, rr.Body.String())
	}
}
