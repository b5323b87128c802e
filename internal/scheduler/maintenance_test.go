package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/friendsincode/wateringd/internal/clock"
	"github.com/friendsincode/wateringd/internal/db/dbtest"
	"github.com/friendsincode/wateringd/internal/events"
	"github.com/friendsincode/wateringd/internal/executor"
	"github.com/friendsincode/wateringd/internal/maintenance"
	"github.com/rs/zerolog"
)

type toggleResult struct {
	on  bool
	err error
}

// staleFlag reports "off" on its first read, but only after a concurrent
// Toggle has already switched maintenance on.
type staleFlag struct {
	t      *testing.T
	mode   *maintenance.Mode
	once   sync.Once
	result chan toggleResult
}

func (f *staleFlag) IsOn() bool {
	stale := false
	f.once.Do(func() {
		go func() {
			on, err := f.mode.Toggle(context.Background())
			f.result <- toggleResult{on, err}
		}()
		deadline := time.Now().Add(5 * time.Second)
		for !f.mode.IsOn() {
			if time.Now().After(deadline) {
				f.t.Error("toggle never set the flag")
				break
			}
			time.Sleep(time.Millisecond)
		}
		stale = true
	})
	if stale {
		return false
	}
	return f.mode.IsOn()
}

func TestToggleDuringScheduledActivationEndsWithValvesClosed(t *testing.T) {
	ctx := context.Background()
	bus := events.NewBus()
	ctl := executor.New(executor.DriverFunc(func(context.Context, int, executor.Level) error { return nil }),
		executor.Polarity{}, []int{7}, bus, zerolog.Nop())
	mode := maintenance.New(dbtest.Open(t), ctl, bus, zerolog.Nop())
	if err := mode.Load(ctx); err != nil {
		t.Fatalf("load maintenance: %v", err)
	}

	f := &staleFlag{t: t, mode: mode, result: make(chan toggleResult, 1)}
	svc, _ := newTestService(t, []clock.Trigger{
		{Weekday: "Mon", Time: "06:00", Action: clock.ActionActivate, Channel: 7},
	}, ctl, f, clock.Func(func() time.Time { return monday0600 }))

	svc.tick(ctx)

	var res toggleResult
	select {
	case res = <-f.result:
	case <-time.After(5 * time.Second):
		t.Fatal("toggle did not finish")
	}
	if res.err != nil || !res.on {
		t.Fatalf("toggle = %v, %v; want true, nil", res.on, res.err)
	}
	if ch, ok := ctl.Active(); ok {
		t.Fatalf("valve %d left open while maintenance is on", ch)
	}
}

func TestMaintenanceOnSuppressesActivationOnRealController(t *testing.T) {
	ctx := context.Background()
	bus := events.NewBus()
	skipped := bus.Subscribe(events.EventTriggerSkipped)
	ctl := executor.New(executor.DriverFunc(func(context.Context, int, executor.Level) error { return nil }),
		executor.Polarity{}, []int{7}, bus, zerolog.Nop())
	mode := maintenance.New(dbtest.Open(t), ctl, bus, zerolog.Nop())
	if err := mode.Load(ctx); err != nil {
		t.Fatalf("load maintenance: %v", err)
	}
	if on, err := mode.Toggle(ctx); err != nil || !on {
		t.Fatalf("toggle = %v, %v", on, err)
	}

	comp := &fakeCompiler{triggers: []clock.Trigger{
		{Weekday: "Mon", Time: "06:00", Action: clock.ActionActivate, Channel: 7, LineName: "Beds"},
	}}
	svc := New(comp, ctl, mode, clock.Func(func() time.Time { return monday0600 }), bus, time.Second, zerolog.Nop())
	if _, err := svc.Reload(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	svc.tick(ctx)

	if ch, ok := ctl.Active(); ok {
		t.Fatalf("valve %d opened in maintenance mode", ch)
	}
	select {
	case p := <-skipped:
		if p["reason"] != "maintenance" || p["channel"] != 7 {
			t.Fatalf("skip payload = %v", p)
		}
	default:
		t.Fatal("expected a trigger.skipped event")
	}
}
