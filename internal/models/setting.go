/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Setting keys.
const (
	SettingMaintenanceMode = "maintenance_mode"
)

// Maintenance mode values as stored in the settings table.
const (
	MaintenanceOn  = "on"
	MaintenanceOff = "off"
)

// Setting is a process-wide key/value pair persisted across restarts.
type Setting struct {
	Key       string    `gorm:"primaryKey;type:varchar(64)"`
	Value     string    `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

// TableName returns the table name for GORM.
func (Setting) TableName() string {
	return "settings"
}

// GetSetting retrieves a setting, creating it with def if it doesn't exist.
func GetSetting(db *gorm.DB, key, def string) (*Setting, error) {
	var setting Setting
	result := db.Where(Setting{Key: key}).Attrs(Setting{Value: def}).FirstOrCreate(&setting)
	if result.Error != nil {
		return nil, result.Error
	}
	return &setting, nil
}

// PutSetting upserts a setting value.
func PutSetting(db *gorm.DB, key, value string) error {
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&Setting{Key: key, Value: value}).Error
}
