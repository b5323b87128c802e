/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// WateringLine is one relay-controlled valve bound to a single output channel.
type WateringLine struct {
	ID        uint             `gorm:"primaryKey" json:"id"`
	Name      string           `gorm:"type:varchar(255);not null" json:"name"`
	Channel   int              `gorm:"not null;uniqueIndex" json:"channel"`
	Schedules []ScheduleWindow `gorm:"foreignKey:WateringLineID;constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (WateringLine) TableName() string {
	return "watering_lines"
}
