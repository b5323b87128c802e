/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"github.com/friendsincode/wateringd/internal/models"
	"gorm.io/gorm"
)

// Migrate applies database schema migrations using GORM auto-migrate and seeds
// the settings the scheduler depends on.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		&models.WateringLine{},
		&models.ScheduleWindow{},
		&models.Setting{},
		&models.ActivationLog{},
	); err != nil {
		return err
	}

	if _, err := models.GetSetting(database, models.SettingMaintenanceMode, models.MaintenanceOff); err != nil {
		return fmt.Errorf("seed maintenance mode: %w", err)
	}

	return nil
}
