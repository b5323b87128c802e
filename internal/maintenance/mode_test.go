package maintenance

import (
	"context"
	"errors"
	"testing"

	"github.com/friendsincode/wateringd/internal/db/dbtest"
	"github.com/friendsincode/wateringd/internal/events"
	"github.com/friendsincode/wateringd/internal/models"
	"github.com/rs/zerolog"
)

type countingValves struct {
	calls int
	err   error
}

func (v *countingValves) DeactivateAll(context.Context, string) error {
	v.calls++
	return v.err
}

func TestToggleFlipsPersistsAndClosesValves(t *testing.T) {
	ctx := context.Background()
	database := dbtest.Open(t)
	valves := &countingValves{}
	bus := events.NewBus()
	sub := bus.Subscribe(events.EventMaintenanceToggled)
	mode := New(database, valves, bus, zerolog.Nop())

	if err := mode.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	if mode.IsOn() {
		t.Fatal("expected maintenance off initially")
	}

	on, err := mode.Toggle(ctx)
	if err != nil || !on {
		t.Fatalf("toggle = %v, %v; want true, nil", on, err)
	}
	if !mode.IsOn() {
		t.Fatal("expected maintenance on after toggle")
	}
	if valves.calls != 1 {
		t.Fatalf("expected valves closed once, got %d", valves.calls)
	}
	if p := <-sub; p["on"] != true {
		t.Fatalf("unexpected event payload %v", p)
	}

	setting, err := models.GetSetting(database, models.SettingMaintenanceMode, "")
	if err != nil {
		t.Fatalf("read setting: %v", err)
	}
	if setting.Value != models.MaintenanceOn {
		t.Fatalf("persisted value = %q, want on", setting.Value)
	}

	reloaded := New(database, valves, nil, zerolog.Nop())
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !reloaded.IsOn() {
		t.Fatal("expected persisted on to survive reload")
	}

	on, err = mode.Toggle(ctx)
	if err != nil || on {
		t.Fatalf("second toggle = %v, %v; want false, nil", on, err)
	}
	if valves.calls != 2 {
		t.Fatalf("expected valves closed on every toggle, got %d", valves.calls)
	}
}

func TestToggleReportsValveFailure(t *testing.T) {
	ctx := context.Background()
	valves := &countingValves{err: errors.New("relay offline")}
	mode := New(dbtest.Open(t), valves, nil, zerolog.Nop())
	if err := mode.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	on, err := mode.Toggle(ctx)
	if err == nil {
		t.Fatal("expected error when valves fail to close")
	}
	if !on || !mode.IsOn() {
		t.Fatal("expected mode to change even though valves failed")
	}
}
