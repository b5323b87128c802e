/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"strings"
	"time"
)

// ScheduleWindow is a recurring weekly interval during which a line should be watering.
// StartTime and EndTime are "HH:MM" strings; lexical order equals chronological order.
type ScheduleWindow struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	WateringLineID uint      `gorm:"column:watering_line_id;not null;index" json:"line_id"`
	StartTime      string    `gorm:"column:start_time;type:char(5);not null;index" json:"start"`
	EndTime        string    `gorm:"column:end_time;type:char(5);not null" json:"end"`
	RepeatDays     string    `gorm:"column:repeat_days;type:varchar(32);not null" json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (ScheduleWindow) TableName() string {
	return "watering_schedule"
}

// Days splits the stored comma-joined weekday list.
func (w ScheduleWindow) Days() []string {
	return SplitDays(w.RepeatDays)
}

// SplitDays parses a comma-joined weekday list, ignoring blanks.
func SplitDays(raw string) []string {
	parts := strings.Split(raw, ",")
	days := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			days = append(days, p)
		}
	}
	return days
}

// JoinDays renders weekdays in the stored column format.
func JoinDays(days []string) string {
	return strings.Join(days, ",")
}
