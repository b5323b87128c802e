/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduling

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/wateringd/internal/clock"
	"github.com/friendsincode/wateringd/internal/db"
	"github.com/friendsincode/wateringd/internal/models"
)

// WindowInput is a candidate schedule window.
type WindowInput struct {
	LineID   uint     `json:"line_id" yaml:"-"`
	Start    string   `json:"start" yaml:"start"`
	End      string   `json:"end" yaml:"end"`
	Weekdays []string `json:"weekdays" yaml:"weekdays"`
}

// Normalize validates the window and returns it with zero-padded times and
// weekdays in calendar order.
func (in WindowInput) Normalize() (WindowInput, error) {
	if in.LineID == 0 {
		return in, invalidInput("line_id is required")
	}
	start, err := clock.ParseTime(in.Start)
	if err != nil {
		return in, invalidInput("start: %v", err)
	}
	end, err := clock.ParseTime(in.End)
	if err != nil {
		return in, invalidInput("end: %v", err)
	}
	if start >= end {
		return in, invalidInput("start %s must be before end %s", start, end)
	}
	days, err := clock.NormalizeWeekdays(in.Weekdays)
	if err != nil {
		return in, invalidInput("weekdays: %v", err)
	}
	return WindowInput{LineID: in.LineID, Start: start, End: end, Weekdays: days}, nil
}

// Validator guards schedule window writes against overlapping windows.
// Any two windows that share a weekday must not overlap, regardless of line,
// since only one valve may be open at a time.
type Validator struct {
	db     *gorm.DB
	logger zerolog.Logger

	// Serializes check-then-write within this process.
	mu sync.Mutex
}

// NewValidator creates a new schedule validator.
func NewValidator(database *gorm.DB, logger zerolog.Logger) *Validator {
	return &Validator{
		db:     database,
		logger: logger.With().Str("component", "schedule_validator").Logger(),
	}
}

// CheckAndInsert validates in and stores it as a new window. The caller is
// responsible for reloading the scheduler afterwards.
func (v *Validator) CheckAndInsert(ctx context.Context, in WindowInput) (uint, error) {
	in, err := in.Normalize()
	if err != nil {
		return 0, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	window := models.ScheduleWindow{
		WateringLineID: in.LineID,
		StartTime:      in.Start,
		EndTime:        in.End,
		RepeatDays:     models.JoinDays(in.Weekdays),
	}
	err = db.WithTx(ctx, v.db, func(tx *gorm.DB) error {
		if err := requireLine(tx, in.LineID); err != nil {
			return err
		}
		if err := v.check(tx, in, 0); err != nil {
			return err
		}
		return tx.Create(&window).Error
	})
	if err != nil {
		return 0, err
	}

	v.logger.Info().
		Uint("window_id", window.ID).
		Uint("line_id", in.LineID).
		Str("start", in.Start).
		Str("end", in.End).
		Strs("weekdays", in.Weekdays).
		Msg("schedule window created")
	return window.ID, nil
}

// CheckAndUpdate validates in against every window except id and replaces id.
func (v *Validator) CheckAndUpdate(ctx context.Context, id uint, in WindowInput) error {
	in, err := in.Normalize()
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	err = db.WithTx(ctx, v.db, func(tx *gorm.DB) error {
		var existing models.ScheduleWindow
		if err := tx.First(&existing, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: schedule %d", ErrNotFound, id)
			}
			return fmt.Errorf("load schedule %d: %w", id, err)
		}
		if err := requireLine(tx, in.LineID); err != nil {
			return err
		}
		if err := v.check(tx, in, id); err != nil {
			return err
		}
		return tx.Model(&existing).Updates(map[string]any{
			"watering_line_id": in.LineID,
			"start_time":       in.Start,
			"end_time":         in.End,
			"repeat_days":      models.JoinDays(in.Weekdays),
		}).Error
	})
	if err != nil {
		return err
	}

	v.logger.Info().Uint("window_id", id).Str("start", in.Start).Str("end", in.End).Msg("schedule window updated")
	return nil
}

// Check reports whether in (already normalized or not) would conflict with the
// stored windows, ignoring excludeID. It does not write.
func (v *Validator) Check(ctx context.Context, in WindowInput, excludeID uint) error {
	in, err := in.Normalize()
	if err != nil {
		return err
	}
	return v.check(v.db.WithContext(ctx), in, excludeID)
}

// check collects the weekdays used by every window overlapping [start, end)
// and fails if any of them is also a candidate weekday. Stored times are
// parsed the way the compiler parses them, so rows written without zero
// padding ("6:00") are compared as clock times rather than strings.
func (v *Validator) check(tx *gorm.DB, in WindowInput, excludeID uint) error {
	q := tx.Model(&models.ScheduleWindow{})
	if excludeID != 0 {
		q = q.Where("id <> ?", excludeID)
	}

	var stored []models.ScheduleWindow
	if err := q.Find(&stored).Error; err != nil {
		return fmt.Errorf("query schedule windows: %w", err)
	}

	var overlapping []models.ScheduleWindow
	for _, w := range stored {
		start, errStart := clock.ParseTime(w.StartTime)
		end, errEnd := clock.ParseTime(w.EndTime)
		if errStart != nil || errEnd != nil {
			v.logger.Warn().Uint("window_id", w.ID).Str("start", w.StartTime).Str("end", w.EndTime).Msg("ignoring malformed window in conflict check")
			continue
		}
		if clock.Overlaps(in.Start, in.End, start, end) {
			overlapping = append(overlapping, w)
		}
	}
	if len(overlapping) == 0 {
		return nil
	}

	used := make(map[string]bool)
	var ids []uint
	for _, w := range overlapping {
		hit := false
		for _, d := range w.Days() {
			used[d] = true
			for _, cand := range in.Weekdays {
				if cand == d {
					hit = true
				}
			}
		}
		if hit {
			ids = append(ids, w.ID)
		}
	}

	var collide []string
	for _, d := range in.Weekdays {
		if used[d] {
			collide = append(collide, d)
		}
	}
	if len(collide) == 0 {
		return nil
	}

	v.logger.Debug().Strs("days", collide).Uints("window_ids", ids).Msg("schedule conflict")
	return &ConflictError{Days: collide, WindowIDs: ids}
}

// DeleteWindow removes a schedule window.
func (v *Validator) DeleteWindow(ctx context.Context, id uint) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	result := v.db.WithContext(ctx).Delete(&models.ScheduleWindow{}, id)
	if result.Error != nil {
		return fmt.Errorf("delete schedule %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: schedule %d", ErrNotFound, id)
	}
	v.logger.Info().Uint("window_id", id).Msg("schedule window deleted")
	return nil
}

func requireLine(tx *gorm.DB, lineID uint) error {
	var count int64
	if err := tx.Model(&models.WateringLine{}).Where("id = ?", lineID).Count(&count).Error; err != nil {
		return fmt.Errorf("load line %d: %w", lineID, err)
	}
	if count == 0 {
		return fmt.Errorf("%w: line %d", ErrNotFound, lineID)
	}
	return nil
}
