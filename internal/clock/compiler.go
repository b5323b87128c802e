/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package clock

import (
	"context"
	"fmt"
	"sort"

	"github.com/friendsincode/wateringd/internal/models"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Action is what a trigger does to its channel.
type Action string

const (
	ActionActivate   Action = "activate"
	ActionDeactivate Action = "deactivate"
)

// Trigger is one compiled (weekday, time, action, channel) event.
type Trigger struct {
	Weekday  string `json:"weekday"`
	Time     string `json:"time"`
	Action   Action `json:"action"`
	Channel  int    `json:"channel"`
	LineName string `json:"line_name"`
	WindowID uint   `json:"window_id"`
}

// Slot returns the (weekday, time) key the trigger is due at.
func (t Trigger) Slot() string {
	return t.Weekday + " " + t.Time
}

// Key identifies the trigger within a snapshot.
func (t Trigger) Key() string {
	return fmt.Sprintf("%s %s %s %d %d", t.Weekday, t.Time, t.Action, t.Channel, t.WindowID)
}

// windowRow is the join of watering_schedule with watering_lines.
type windowRow struct {
	WindowID   uint
	Channel    int
	Name       string
	StartTime  string
	EndTime    string
	RepeatDays string
}

// Compiler expands stored schedule windows into triggers.
type Compiler struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewCompiler constructs a schedule compiler.
func NewCompiler(db *gorm.DB, logger zerolog.Logger) *Compiler {
	return &Compiler{db: db, logger: logger.With().Str("component", "compiler").Logger()}
}

// Compile reads every window and emits an activate trigger at its start and a
// deactivate trigger at its end for each recurrence day. The result depends only
// on the stored rows and is sorted by weekday, time, then deactivations before
// activations so back-to-back windows on one channel hand over cleanly.
func (c *Compiler) Compile(ctx context.Context) ([]Trigger, error) {
	var rows []windowRow
	err := c.db.WithContext(ctx).
		Table("watering_schedule AS ws").
		Select("ws.id AS window_id, wl.channel AS channel, wl.name AS name, ws.start_time AS start_time, ws.end_time AS end_time, ws.repeat_days AS repeat_days").
		Joins("JOIN watering_lines wl ON wl.id = ws.watering_line_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load schedule windows: %w", err)
	}

	triggers := make([]Trigger, 0, len(rows)*4)
	for _, row := range rows {
		start, errStart := ParseTime(row.StartTime)
		end, errEnd := ParseTime(row.EndTime)
		days, errDays := NormalizeWeekdays(models.SplitDays(row.RepeatDays))
		if errStart != nil || errEnd != nil || errDays != nil || start >= end {
			c.logger.Warn().
				Uint("window_id", row.WindowID).
				Str("start", row.StartTime).
				Str("end", row.EndTime).
				Str("days", row.RepeatDays).
				Msg("skipping malformed schedule window")
			continue
		}

		for _, day := range days {
			triggers = append(triggers,
				Trigger{Weekday: day, Time: start, Action: ActionActivate, Channel: row.Channel, LineName: row.Name, WindowID: row.WindowID},
				Trigger{Weekday: day, Time: end, Action: ActionDeactivate, Channel: row.Channel, LineName: row.Name, WindowID: row.WindowID},
			)
		}
	}

	SortTriggers(triggers)

	c.logger.Debug().Int("windows", len(rows)).Int("triggers", len(triggers)).Msg("schedule compiled")
	return triggers, nil
}

// SortTriggers orders triggers deterministically.
func SortTriggers(triggers []Trigger) {
	sort.SliceStable(triggers, func(i, j int) bool {
		a, b := triggers[i], triggers[j]
		if a.Weekday != b.Weekday {
			return WeekdayIndex(a.Weekday) < WeekdayIndex(b.Weekday)
		}
		if a.Time != b.Time {
			return a.Time < b.Time
		}
		if a.Action != b.Action {
			return a.Action == ActionDeactivate
		}
		if a.Channel != b.Channel {
			return a.Channel < b.Channel
		}
		return a.WindowID < b.WindowID
	})
}
