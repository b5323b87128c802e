/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/wateringd/internal/clock"
	"github.com/friendsincode/wateringd/internal/events"
	"github.com/friendsincode/wateringd/internal/executor"
	"github.com/friendsincode/wateringd/internal/scheduler/state"
	"github.com/friendsincode/wateringd/internal/telemetry"
)

// Compiler produces the full trigger set from the schedule store.
type Compiler interface {
	Compile(ctx context.Context) ([]clock.Trigger, error)
}

// Controller switches valves. ActivateUnless must evaluate suppressed under
// the same lock that serializes every other level write, and return
// executor.ErrSuppressed when it vetoes the activation.
type Controller interface {
	ActivateUnless(ctx context.Context, channel int, source string, suppressed func() bool) error
	Deactivate(ctx context.Context, channel int, source string) error
}

// MaintenanceFlag reports whether scheduled activations are suppressed.
type MaintenanceFlag interface {
	IsOn() bool
}

// Service fires compiled triggers when the wall clock reaches them.
type Service struct {
	compiler    Compiler
	controller  Controller
	maintenance MaintenanceFlag
	calendar    *clock.Calendar
	bus         *events.Bus
	interval    time.Duration
	logger      zerolog.Logger

	store    *state.Store
	reloadMu sync.Mutex

	// Triggers already dispatched during firedMinute. Guarded by tickMu.
	tickMu      sync.Mutex
	firedMinute string
	fired       map[string]struct{}
	lastTick    time.Time
}

// New constructs the scheduler service.
func New(compiler Compiler, controller Controller, maintenance MaintenanceFlag, c clock.Clock, bus *events.Bus, interval time.Duration, logger zerolog.Logger) *Service {
	if interval <= 0 {
		interval = time.Second
	}
	return &Service{
		compiler:    compiler,
		controller:  controller,
		maintenance: maintenance,
		calendar:    clock.NewCalendar(c),
		bus:         bus,
		interval:    interval,
		logger:      logger.With().Str("component", "scheduler").Logger(),
		store:       state.NewStore(),
		fired:       make(map[string]struct{}),
	}
}

// Run executes the scheduler loop until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.interval).Int("triggers", s.store.Load().Len()).Msg("scheduler loop started")
	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler loop stopped")
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// Reload recompiles the trigger set and swaps it in. On failure the previous
// set stays active.
func (s *Service) Reload(ctx context.Context) (n int, err error) {
	ctx, span := telemetry.StartSpan(ctx, "scheduler.reload")
	defer func() { telemetry.EndSpan(span, err) }()

	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	started := time.Now()
	triggers, err := s.compiler.Compile(ctx)
	telemetry.ReloadDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		telemetry.ReloadsTotal.WithLabelValues("error").Inc()
		telemetry.SchedulerErrorsTotal.WithLabelValues("reload").Inc()
		kept := s.store.Load().Len()
		s.logger.Error().Err(err).Int("kept_triggers", kept).Msg("schedule reload failed, keeping last good trigger set")
		return kept, fmt.Errorf("reload schedule: %w", err)
	}

	s.store.Swap(state.NewSnapshot(triggers, s.calendar.Now()))
	telemetry.ReloadsTotal.WithLabelValues("ok").Inc()
	telemetry.CompiledTriggers.Set(float64(len(triggers)))

	s.logger.Info().Int("triggers", len(triggers)).Msg("schedule reloaded")
	s.bus.Publish(events.EventScheduleReloaded, events.Payload{"triggers": len(triggers)})
	return len(triggers), nil
}

// Triggers returns the active compiled trigger set.
func (s *Service) Triggers() []clock.Trigger {
	return append([]clock.Trigger(nil), s.store.Load().Triggers...)
}

// CompiledAt returns when the active trigger set was compiled.
func (s *Service) CompiledAt() time.Time {
	return s.store.Load().CompiledAt
}

// LastTick returns when the loop last evaluated the clock.
func (s *Service) LastTick() time.Time {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	return s.lastTick
}

// Next returns the first trigger due after now, and when it is due.
func (s *Service) Next(now time.Time) (clock.Trigger, time.Time, bool) {
	var (
		best   clock.Trigger
		bestAt time.Time
		found  bool
	)
	minute := now.Truncate(time.Minute)
	for _, t := range s.store.Load().Triggers {
		at, ok := occurrenceAfter(t, minute)
		if ok && (!found || at.Before(bestAt)) {
			best, bestAt, found = t, at, true
		}
	}
	return best, bestAt, found
}

// occurrenceAfter returns the first occurrence of t strictly after minute.
func occurrenceAfter(t clock.Trigger, minute time.Time) (time.Time, bool) {
	day := clock.WeekdayIndex(t.Weekday)
	hh, mm, err := splitClock(t.Time)
	if day < 0 || err != nil {
		return time.Time{}, false
	}
	// WeekdayIndex is Monday based; time.Weekday is Sunday based.
	offset := (day + 1 - int(minute.Weekday()) + 7) % 7
	y, m, d := minute.Date()
	at := time.Date(y, m, d+offset, hh, mm, 0, 0, minute.Location())
	if !at.After(minute) {
		at = at.AddDate(0, 0, 7)
	}
	return at, true
}

func splitClock(v string) (int, int, error) {
	var hh, mm int
	if _, err := fmt.Sscanf(v, "%d:%d", &hh, &mm); err != nil {
		return 0, 0, err
	}
	return hh, mm, nil
}

func (s *Service) tick(ctx context.Context) {
	telemetry.SchedulerTicksTotal.Inc()

	now := s.calendar.Now()
	minute := now.Format("2006-01-02 15:04")
	slot := clock.WeekdayAbbrev(now.Weekday()) + " " + clock.FormatTime(now)

	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	s.lastTick = now
	if minute != s.firedMinute {
		s.firedMinute = minute
		s.fired = make(map[string]struct{})
	}

	for _, t := range s.store.Load().Due(slot) {
		key := t.Key()
		if _, done := s.fired[key]; done {
			continue
		}
		s.fired[key] = struct{}{}
		s.dispatch(ctx, t)
	}
}

func (s *Service) maintenanceOn() bool {
	return s.maintenance != nil && s.maintenance.IsOn()
}

// dispatch fires one trigger. Failures are logged and never stop the loop.
func (s *Service) dispatch(ctx context.Context, t clock.Trigger) {
	logger := s.logger.With().
		Str("action", string(t.Action)).
		Int("channel", t.Channel).
		Str("line", t.LineName).
		Str("slot", t.Slot()).
		Logger()

	var err error
	switch t.Action {
	case clock.ActionActivate:
		err = s.controller.ActivateUnless(ctx, t.Channel, executor.SourceScheduler, s.maintenanceOn)
		if errors.Is(err, executor.ErrSuppressed) {
			telemetry.TriggersSkippedTotal.WithLabelValues("maintenance").Inc()
			logger.Info().Msg("maintenance mode on, skipping scheduled activation")
			s.bus.Publish(events.EventTriggerSkipped, events.Payload{
				"channel": t.Channel,
				"line":    t.LineName,
				"reason":  "maintenance",
			})
			return
		}
	case clock.ActionDeactivate:
		err = s.controller.Deactivate(ctx, t.Channel, executor.SourceScheduler)
	default:
		err = fmt.Errorf("unknown trigger action %q", t.Action)
	}

	if err != nil {
		stage := "dispatch"
		if errors.Is(err, executor.ErrUnknownChannel) {
			stage = "unknown_channel"
		}
		telemetry.SchedulerErrorsTotal.WithLabelValues(stage).Inc()
		logger.Error().Err(err).Msg("trigger dispatch failed")
		return
	}

	telemetry.TriggersFiredTotal.WithLabelValues(string(t.Action)).Inc()
	logger.Info().Msg("trigger fired")
}
