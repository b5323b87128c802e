/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// ActivationAction enumerates recorded line state changes.
type ActivationAction string

const (
	ActionActivate       ActivationAction = "activate"
	ActionDeactivate     ActivationAction = "deactivate"
	ActionDeactivateAll  ActivationAction = "deactivate_all"
	ActionSkipped        ActivationAction = "skipped"
	ActionMaintenanceOn  ActivationAction = "maintenance_on"
	ActionMaintenanceOff ActivationAction = "maintenance_off"
	ActionReload         ActivationAction = "reload"
)

// ActivationLog records one line state change and what caused it.
type ActivationLog struct {
	ID        string           `gorm:"type:varchar(36);primaryKey" json:"id"`
	Action    ActivationAction `gorm:"type:varchar(32);index" json:"action"`
	Channel   *int             `json:"channel,omitempty"`
	LineName  string           `gorm:"type:varchar(255)" json:"line_name,omitempty"`
	Source    string           `gorm:"type:varchar(32);index" json:"source"`
	Error     string           `gorm:"type:text" json:"error,omitempty"`
	CreatedAt time.Time        `gorm:"index" json:"created_at"`
}

// TableName returns the table name for GORM.
func (ActivationLog) TableName() string {
	return "activation_log"
}
