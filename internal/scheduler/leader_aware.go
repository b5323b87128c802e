/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/wateringd/internal/leadership"
)

// Runner is the scheduler loop. Reload recompiles its trigger set; Run
// blocks until its context is cancelled.
type Runner interface {
	Reload(ctx context.Context) (int, error)
	Run(ctx context.Context) error
}

// LeaderAwareScheduler runs the loop only while this instance holds the
// leadership lease. On losing it the loop stops and every valve is closed,
// since the new leader takes over the board.
type LeaderAwareScheduler struct {
	runner   Runner
	election *leadership.Election
	onLost   func(ctx context.Context)
	logger   zerolog.Logger

	mu      sync.Mutex
	parent  context.Context
	cancel  context.CancelFunc
	running sync.WaitGroup
}

// NewLeaderAware wraps runner. onLost, if set, runs after the loop stops
// because leadership was lost.
func NewLeaderAware(runner Runner, election *leadership.Election, onLost func(ctx context.Context), logger zerolog.Logger) *LeaderAwareScheduler {
	return &LeaderAwareScheduler{
		runner:   runner,
		election: election,
		onLost:   onLost,
		logger:   logger.With().Str("component", "leader_aware_scheduler").Logger(),
	}
}

// Run campaigns for leadership and starts or stops the loop as it changes.
// It blocks until ctx is cancelled.
func (las *LeaderAwareScheduler) Run(ctx context.Context) error {
	las.mu.Lock()
	las.parent = ctx
	las.mu.Unlock()

	if err := las.election.Start(ctx); err != nil {
		return err
	}
	defer func() {
		las.stopLoop()
		if err := las.election.Stop(); err != nil {
			las.logger.Warn().Err(err).Msg("stop leader election")
		}
	}()

	leaderCh := las.election.LeaderCh()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case isLeader := <-leaderCh:
			if isLeader {
				las.logger.Info().Msg("became leader, starting scheduler loop")
				las.startLoop()
				continue
			}
			las.logger.Warn().Msg("lost leadership, stopping scheduler loop")
			las.stopLoop()
			if las.onLost != nil {
				las.onLost(ctx)
			}
		}
	}
}

// IsLeader reports whether this instance currently drives the valves.
func (las *LeaderAwareScheduler) IsLeader() bool {
	return las.election.IsLeader()
}

func (las *LeaderAwareScheduler) startLoop() {
	las.mu.Lock()
	defer las.mu.Unlock()
	if las.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(las.parent)
	las.cancel = cancel
	las.running.Add(1)
	go func() {
		defer las.running.Done()
		// Other instances may have changed the schedule while we followed.
		if n, err := las.runner.Reload(ctx); err != nil {
			las.logger.Warn().Err(err).Int("triggers", n).Msg("reload on promotion failed, running last good trigger set")
		}
		if err := las.runner.Run(ctx); err != nil && ctx.Err() == nil {
			las.logger.Error().Err(err).Msg("scheduler loop exited")
		}
	}()
}

func (las *LeaderAwareScheduler) stopLoop() {
	las.mu.Lock()
	cancel := las.cancel
	las.cancel = nil
	las.mu.Unlock()

	if cancel != nil {
		cancel()
		las.running.Wait()
	}
}
