/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package irrigation is the application facade used by the HTTP API and the
// command line. Every schedule change goes through the conflict check and is
// followed by a reload.
package irrigation

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/wateringd/internal/clock"
	"github.com/friendsincode/wateringd/internal/db"
	"github.com/friendsincode/wateringd/internal/events"
	"github.com/friendsincode/wateringd/internal/executor"
	"github.com/friendsincode/wateringd/internal/models"
	"github.com/friendsincode/wateringd/internal/scheduling"
)

// Scheduler is the part of the scheduler loop the facade drives.
type Scheduler interface {
	Reload(ctx context.Context) (int, error)
	Triggers() []clock.Trigger
	CompiledAt() time.Time
	LastTick() time.Time
	Next(now time.Time) (clock.Trigger, time.Time, bool)
}

// Maintenance is the maintenance flag.
type Maintenance interface {
	IsOn() bool
	Toggle(ctx context.Context) (bool, error)
}

// Service implements the line, schedule and valve operations.
type Service struct {
	db          *gorm.DB
	lines       *scheduling.LineStore
	validator   *scheduling.Validator
	controller  *executor.Controller
	maintenance Maintenance
	scheduler   Scheduler
	calendar    *clock.Calendar
	bus         *events.Bus
	logger      zerolog.Logger
}

// Deps groups the collaborators of Service.
type Deps struct {
	DB          *gorm.DB
	Controller  *executor.Controller
	Maintenance Maintenance
	Scheduler   Scheduler
	Clock       clock.Clock
	Bus         *events.Bus
	Logger      zerolog.Logger
}

// New creates the facade.
func New(d Deps) *Service {
	return &Service{
		db:          d.DB,
		lines:       scheduling.NewLineStore(d.DB, d.Logger),
		validator:   scheduling.NewValidator(d.DB, d.Logger),
		controller:  d.Controller,
		maintenance: d.Maintenance,
		scheduler:   d.Scheduler,
		calendar:    clock.NewCalendar(d.Clock),
		bus:         d.Bus,
		logger:      d.Logger.With().Str("component", "irrigation").Logger(),
	}
}

// LineView is a line with its live valve state.
type LineView struct {
	models.WateringLine
	Active bool `json:"active"`
}

// ScheduleView is a window with the line it waters and whether it is running now.
type ScheduleView struct {
	scheduling.WindowView
	ActiveNow bool `json:"active_now"`
}

// CreateLine registers a line on a configured relay channel.
func (s *Service) CreateLine(ctx context.Context, in scheduling.LineInput) (*models.WateringLine, error) {
	if err := s.requireChannel(in.Channel); err != nil {
		return nil, err
	}
	line, err := s.lines.Create(ctx, in)
	if err != nil {
		return nil, err
	}
	s.bus.Publish(events.EventLineChanged, events.Payload{"line_id": line.ID, "op": "create"})
	return line, nil
}

// UpdateLine renames a line or moves it to another channel. Moving a line
// closes its old valve and recompiles the schedule.
func (s *Service) UpdateLine(ctx context.Context, id uint, in scheduling.LineInput) (*models.WateringLine, error) {
	if err := s.requireChannel(in.Channel); err != nil {
		return nil, err
	}
	before, err := s.lines.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	line, err := s.lines.Update(ctx, id, in)
	if err != nil {
		return nil, err
	}
	if before.Channel != line.Channel {
		s.closeIfScheduled(ctx, before.Channel)
	}
	s.reload(ctx)
	s.bus.Publish(events.EventLineChanged, events.Payload{"line_id": id, "op": "update"})
	return line, nil
}

// DeleteLine removes a line with its windows and closes its valve.
func (s *Service) DeleteLine(ctx context.Context, id uint) error {
	line, err := s.lines.Delete(ctx, id)
	if err != nil {
		return err
	}
	if err := s.controller.Deactivate(ctx, line.Channel, executor.SourceManual); err != nil {
		s.logger.Warn().Err(err).Int("channel", line.Channel).Msg("failed to close valve of deleted line")
	}
	s.reload(ctx)
	s.bus.Publish(events.EventLineChanged, events.Payload{"line_id": id, "op": "delete"})
	return nil
}

// ListLines returns every line ordered by channel with its valve state.
func (s *Service) ListLines(ctx context.Context) ([]LineView, error) {
	lines, err := s.lines.List(ctx)
	if err != nil {
		return nil, err
	}
	active, on := s.controller.Active()
	views := make([]LineView, 0, len(lines))
	for _, l := range lines {
		views = append(views, LineView{WateringLine: l, Active: on && l.Channel == active})
	}
	return views, nil
}

// GetLine loads one line.
func (s *Service) GetLine(ctx context.Context, id uint) (*LineView, error) {
	line, err := s.lines.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	active, on := s.controller.Active()
	return &LineView{WateringLine: *line, Active: on && line.Channel == active}, nil
}

// CreateSchedule stores a window after the conflict check and reloads.
func (s *Service) CreateSchedule(ctx context.Context, in scheduling.WindowInput) (uint, error) {
	id, err := s.validator.CheckAndInsert(ctx, in)
	if err != nil {
		return 0, err
	}
	s.reload(ctx)
	s.bus.Publish(events.EventScheduleChanged, events.Payload{"schedule_id": id, "op": "create"})
	return id, nil
}

// UpdateSchedule replaces a window after checking it against every other window.
func (s *Service) UpdateSchedule(ctx context.Context, id uint, in scheduling.WindowInput) error {
	before, err := s.lines.GetWindow(ctx, id)
	if err != nil {
		return err
	}
	if err := s.validator.CheckAndUpdate(ctx, id, in); err != nil {
		return err
	}
	s.reload(ctx)
	s.closeIfScheduled(ctx, before.Channel)
	s.bus.Publish(events.EventScheduleChanged, events.Payload{"schedule_id": id, "op": "update"})
	return nil
}

// DeleteSchedule removes a window. A valve it had opened is closed.
func (s *Service) DeleteSchedule(ctx context.Context, id uint) error {
	before, err := s.lines.GetWindow(ctx, id)
	if err != nil {
		return err
	}
	if err := s.validator.DeleteWindow(ctx, id); err != nil {
		return err
	}
	s.reload(ctx)
	s.closeIfScheduled(ctx, before.Channel)
	s.bus.Publish(events.EventScheduleChanged, events.Payload{"schedule_id": id, "op": "delete"})
	return nil
}

// GetSchedule loads one window.
func (s *Service) GetSchedule(ctx context.Context, id uint) (*ScheduleView, error) {
	w, err := s.lines.GetWindow(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ScheduleView{WindowView: *w, ActiveNow: s.activeNow(*w)}, nil
}

// ListSchedules returns every window ordered by start time then line name.
func (s *Service) ListSchedules(ctx context.Context) ([]ScheduleView, error) {
	windows, err := s.lines.ListWindows(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]ScheduleView, 0, len(windows))
	for _, w := range windows {
		views = append(views, ScheduleView{WindowView: w, ActiveNow: s.activeNow(w)})
	}
	return views, nil
}

// Reload recompiles the trigger set.
func (s *Service) Reload(ctx context.Context) (int, error) {
	return s.scheduler.Reload(ctx)
}

// ApplyRemoteChange catches up with a line or schedule change committed by
// another instance. It recompiles, then closes the open valve if the
// scheduler opened it and its window is gone.
func (s *Service) ApplyRemoteChange(ctx context.Context) {
	s.reload(ctx)
	if ch, ok := s.controller.Active(); ok {
		s.closeIfScheduled(ctx, ch)
	}
}

// Triggers returns the compiled trigger set.
func (s *Service) Triggers() []clock.Trigger {
	return s.scheduler.Triggers()
}

// ActivateLineManual opens one valve, closing any other.
func (s *Service) ActivateLineManual(ctx context.Context, channel int) error {
	return s.controller.Activate(ctx, channel, executor.SourceManual)
}

// DeactivateLineManual closes one valve.
func (s *Service) DeactivateLineManual(ctx context.Context, channel int) error {
	return s.controller.Deactivate(ctx, channel, executor.SourceManual)
}

// DeactivateAll closes every valve.
func (s *Service) DeactivateAll(ctx context.Context) error {
	return s.controller.DeactivateAll(ctx, executor.SourceManual)
}

// ToggleMaintenance flips maintenance mode and closes every valve.
func (s *Service) ToggleMaintenance(ctx context.Context) (bool, error) {
	return s.maintenance.Toggle(ctx)
}

// IsMaintenanceOn reports the maintenance flag.
func (s *Service) IsMaintenanceOn() bool {
	return s.maintenance.IsOn()
}

// NextTrigger is the next trigger the loop will fire.
type NextTrigger struct {
	clock.Trigger
	At time.Time `json:"at"`
}

// Status summarizes the running system.
type Status struct {
	Maintenance   bool                    `json:"maintenance"`
	ActiveChannel *int                    `json:"active_channel"`
	Channels      []executor.ChannelState `json:"channels"`
	Triggers      int                     `json:"triggers"`
	CompiledAt    time.Time               `json:"compiled_at"`
	LastTick      time.Time               `json:"last_tick"`
	Now           string                  `json:"now"`
	Today         string                  `json:"today"`
	Next          *NextTrigger            `json:"next,omitempty"`
}

// Status reports the maintenance flag, valve states and scheduler progress.
func (s *Service) Status() Status {
	snap := s.controller.Snapshot()
	now := s.calendar.Now()
	st := Status{
		Maintenance:   s.maintenance.IsOn(),
		ActiveChannel: snap.Active,
		Channels:      snap.Channels,
		Triggers:      len(s.scheduler.Triggers()),
		CompiledAt:    s.scheduler.CompiledAt(),
		LastTick:      s.scheduler.LastTick(),
		Now:           clock.FormatTime(now),
		Today:         clock.WeekdayAbbrev(now.Weekday()),
	}
	if t, at, ok := s.scheduler.Next(now); ok {
		st.Next = &NextTrigger{Trigger: t, At: at}
	}
	return st
}

// Reset deletes every line and window, closes every valve and reloads.
func (s *Service) Reset(ctx context.Context) error {
	err := db.WithTx(ctx, s.db, func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&models.ScheduleWindow{}).Error; err != nil {
			return err
		}
		return tx.Where("1 = 1").Delete(&models.WateringLine{}).Error
	})
	if err != nil {
		return fmt.Errorf("reset schedule store: %w", err)
	}
	if err := s.controller.DeactivateAll(ctx, executor.SourceManual); err != nil {
		s.logger.Warn().Err(err).Msg("failed to close valves after reset")
	}
	s.reload(ctx)
	s.logger.Warn().Msg("schedule store reset")
	return nil
}

func (s *Service) requireChannel(channel int) error {
	if channel > 0 && !s.controller.Known(channel) {
		return fmt.Errorf("%w: channel %d is not a configured relay channel", scheduling.ErrInvalidInput, channel)
	}
	return nil
}

func (s *Service) activeNow(w scheduling.WindowView) bool {
	return slices.Contains(w.Weekdays, s.calendar.Today()) && s.calendar.IsWithin(w.Start, w.End)
}

// reload recompiles after a committed change. A failed reload keeps the last
// good trigger set; the change itself is already stored.
func (s *Service) reload(ctx context.Context) {
	if _, err := s.scheduler.Reload(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("reload after schedule change failed")
	}
}

// closeIfScheduled closes channel if the scheduler opened it and no stored
// window for it covers the current minute any more. Without this a valve
// whose closing trigger was removed would stay open.
func (s *Service) closeIfScheduled(ctx context.Context, channel int) {
	var state *executor.ChannelState
	for _, st := range s.controller.Snapshot().Channels {
		if st.Channel == channel {
			state = &st
			break
		}
	}
	if state == nil || !state.Active || state.Source != executor.SourceScheduler {
		return
	}

	windows, err := s.lines.ListWindows(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("could not verify running window after change")
		return
	}
	for _, w := range windows {
		if w.Channel == channel && s.activeNow(w) {
			return
		}
	}

	if err := s.controller.Deactivate(ctx, channel, executor.SourceScheduler); err != nil {
		s.logger.Warn().Err(err).Int("channel", channel).Msg("failed to close valve after its window was removed")
		return
	}
	s.logger.Info().Int("channel", channel).Msg("closed valve whose window no longer covers now")
}
