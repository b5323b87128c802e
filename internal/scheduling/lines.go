/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/wateringd/internal/db"
	"github.com/friendsincode/wateringd/internal/models"
)

// LineInput describes a watering line to create or update.
type LineInput struct {
	Name    string `json:"name" yaml:"name"`
	Channel int    `json:"channel" yaml:"channel"`
}

// Normalize trims the name and checks required fields.
func (in LineInput) Normalize() (LineInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return in, invalidInput("name is required")
	}
	if in.Channel <= 0 {
		return in, invalidInput("channel must be positive")
	}
	return in, nil
}

// LineStore persists watering lines.
type LineStore struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewLineStore creates a line store.
func NewLineStore(database *gorm.DB, logger zerolog.Logger) *LineStore {
	return &LineStore{
		db:     database,
		logger: logger.With().Str("component", "line_store").Logger(),
	}
}

// Create stores a new line. Channels are unique across lines.
func (s *LineStore) Create(ctx context.Context, in LineInput) (*models.WateringLine, error) {
	in, err := in.Normalize()
	if err != nil {
		return nil, err
	}

	line := models.WateringLine{Name: in.Name, Channel: in.Channel}
	err = db.WithTx(ctx, s.db, func(tx *gorm.DB) error {
		if err := channelFree(tx, in.Channel, 0); err != nil {
			return err
		}
		return tx.Create(&line).Error
	})
	if err != nil {
		return nil, mapLineError(err)
	}

	s.logger.Info().Uint("line_id", line.ID).Str("name", line.Name).Int("channel", line.Channel).Msg("line created")
	return &line, nil
}

// Update renames a line or moves it to another channel.
func (s *LineStore) Update(ctx context.Context, id uint, in LineInput) (*models.WateringLine, error) {
	in, err := in.Normalize()
	if err != nil {
		return nil, err
	}

	var line models.WateringLine
	err = db.WithTx(ctx, s.db, func(tx *gorm.DB) error {
		if err := tx.First(&line, id).Error; err != nil {
			return err
		}
		if err := channelFree(tx, in.Channel, id); err != nil {
			return err
		}
		line.Name = in.Name
		line.Channel = in.Channel
		return tx.Save(&line).Error
	})
	if err != nil {
		return nil, mapLineError(err)
	}

	s.logger.Info().Uint("line_id", id).Str("name", line.Name).Int("channel", line.Channel).Msg("line updated")
	return &line, nil
}

// Delete removes a line and every schedule window that references it.
func (s *LineStore) Delete(ctx context.Context, id uint) (*models.WateringLine, error) {
	var line models.WateringLine
	var removed int64
	err := db.WithTx(ctx, s.db, func(tx *gorm.DB) error {
		if err := tx.First(&line, id).Error; err != nil {
			return err
		}
		res := tx.Where("watering_line_id = ?", id).Delete(&models.ScheduleWindow{})
		if res.Error != nil {
			return res.Error
		}
		removed = res.RowsAffected
		return tx.Delete(&line).Error
	})
	if err != nil {
		return nil, mapLineError(err)
	}

	s.logger.Info().Uint("line_id", id).Int64("windows_removed", removed).Msg("line deleted")
	return &line, nil
}

// Get loads a line by id.
func (s *LineStore) Get(ctx context.Context, id uint) (*models.WateringLine, error) {
	var line models.WateringLine
	if err := s.db.WithContext(ctx).First(&line, id).Error; err != nil {
		return nil, mapLineError(err)
	}
	return &line, nil
}

// GetByChannel loads the line bound to channel.
func (s *LineStore) GetByChannel(ctx context.Context, channel int) (*models.WateringLine, error) {
	var line models.WateringLine
	if err := s.db.WithContext(ctx).Where("channel = ?", channel).First(&line).Error; err != nil {
		return nil, mapLineError(err)
	}
	return &line, nil
}

// List returns every line ordered by channel.
func (s *LineStore) List(ctx context.Context) ([]models.WateringLine, error) {
	var lines []models.WateringLine
	if err := s.db.WithContext(ctx).Order("channel ASC").Find(&lines).Error; err != nil {
		return nil, fmt.Errorf("list lines: %w", err)
	}
	return lines, nil
}

// WindowView is a schedule window joined with its line.
type WindowView struct {
	ID       uint     `json:"id"`
	LineID   uint     `json:"line_id"`
	LineName string   `json:"line_name"`
	Channel  int      `json:"channel"`
	Start    string   `json:"start"`
	End      string   `json:"end"`
	Weekdays []string `json:"weekdays"`
}

type windowViewRow struct {
	ID         uint
	LineID     uint
	LineName   string
	Channel    int
	StartTime  string
	EndTime    string
	RepeatDays string
}

// ListWindows returns every window with its line, ordered by start time then line name.
func (s *LineStore) ListWindows(ctx context.Context) ([]WindowView, error) {
	return s.queryWindows(ctx, nil)
}

// GetWindow loads one window with its line.
func (s *LineStore) GetWindow(ctx context.Context, id uint) (*WindowView, error) {
	views, err := s.queryWindows(ctx, &id)
	if err != nil {
		return nil, err
	}
	if len(views) == 0 {
		return nil, fmt.Errorf("%w: schedule %d", ErrNotFound, id)
	}
	return &views[0], nil
}

func (s *LineStore) queryWindows(ctx context.Context, id *uint) ([]WindowView, error) {
	q := s.db.WithContext(ctx).
		Table("watering_schedule AS ws").
		Select("ws.id, ws.watering_line_id AS line_id, wl.name AS line_name, wl.channel, ws.start_time, ws.end_time, ws.repeat_days").
		Joins("JOIN watering_lines wl ON wl.id = ws.watering_line_id")
	if id != nil {
		q = q.Where("ws.id = ?", *id)
	}

	var rows []windowViewRow
	if err := q.Order("ws.start_time ASC, wl.name ASC, ws.id ASC").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}

	views := make([]WindowView, 0, len(rows))
	for _, r := range rows {
		views = append(views, WindowView{
			ID:       r.ID,
			LineID:   r.LineID,
			LineName: r.LineName,
			Channel:  r.Channel,
			Start:    r.StartTime,
			End:      r.EndTime,
			Weekdays: models.SplitDays(r.RepeatDays),
		})
	}
	return views, nil
}

func channelFree(tx *gorm.DB, channel int, excludeID uint) error {
	q := tx.Model(&models.WateringLine{}).Where("channel = ?", channel)
	if excludeID != 0 {
		q = q.Where("id <> ?", excludeID)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: channel %d", ErrDuplicateChannel, channel)
	}
	return nil
}

func mapLineError(err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%w: line", ErrNotFound)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicateChannel
	default:
		return err
	}
}
