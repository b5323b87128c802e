package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type orderedRunner struct {
	mu        sync.Mutex
	calls     []string
	reloadErr error
	started   chan struct{}
}

func (r *orderedRunner) record(name string) {
	r.mu.Lock()
	r.calls = append(r.calls, name)
	r.mu.Unlock()
}

func (r *orderedRunner) Reload(context.Context) (int, error) {
	r.record("reload")
	return 3, r.reloadErr
}

func (r *orderedRunner) Run(ctx context.Context) error {
	r.record("run")
	close(r.started)
	<-ctx.Done()
	return ctx.Err()
}

func TestPromotionReloadsBeforeRunning(t *testing.T) {
	tests := []struct {
		name      string
		reloadErr error
	}{
		{"reload ok", nil},
		{"reload fails", errors.New("database is locked")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &orderedRunner{reloadErr: tt.reloadErr, started: make(chan struct{})}
			las := NewLeaderAware(runner, nil, nil, zerolog.Nop())
			las.parent = context.Background()

			las.startLoop()
			select {
			case <-runner.started:
			case <-time.After(5 * time.Second):
				t.Fatal("loop did not start")
			}
			las.stopLoop()

			runner.mu.Lock()
			defer runner.mu.Unlock()
			if len(runner.calls) != 2 || runner.calls[0] != "reload" || runner.calls[1] != "run" {
				t.Fatalf("calls = %v, want [reload run]", runner.calls)
			}
		})
	}
}
