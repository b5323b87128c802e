/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package maintenance holds the persisted maintenance override flag.
package maintenance

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/wateringd/internal/db"
	"github.com/friendsincode/wateringd/internal/events"
	"github.com/friendsincode/wateringd/internal/models"
	"github.com/friendsincode/wateringd/internal/telemetry"
)

// Deactivator closes every valve.
type Deactivator interface {
	DeactivateAll(ctx context.Context, source string) error
}

// Mode is the maintenance flag. Reads are served from memory; the settings
// row is the source of truth and is reloaded by Load.
type Mode struct {
	db     *gorm.DB
	valves Deactivator
	bus    *events.Bus
	logger zerolog.Logger

	mu sync.Mutex // serializes toggles
	on atomic.Bool
}

// New creates the maintenance flag. Call Load before first use.
func New(database *gorm.DB, valves Deactivator, bus *events.Bus, logger zerolog.Logger) *Mode {
	return &Mode{
		db:     database,
		valves: valves,
		bus:    bus,
		logger: logger.With().Str("component", "maintenance").Logger(),
	}
}

// Load reads the persisted flag, creating it as off when missing.
func (m *Mode) Load(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	setting, err := models.GetSetting(m.db.WithContext(ctx), models.SettingMaintenanceMode, models.MaintenanceOff)
	if err != nil {
		return fmt.Errorf("load maintenance mode: %w", err)
	}
	m.set(setting.Value == models.MaintenanceOn)
	m.logger.Info().Bool("on", m.on.Load()).Msg("maintenance mode loaded")
	return nil
}

// IsOn reports whether automatic activations are suppressed.
func (m *Mode) IsOn() bool {
	return m.on.Load()
}

// Toggle flips the persisted flag and closes every valve. The new mode is
// returned even when closing valves fails; the error reports the failure.
func (m *Mode) Toggle(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var next bool
	err := db.WithTx(ctx, m.db, func(tx *gorm.DB) error {
		current, err := models.GetSetting(tx, models.SettingMaintenanceMode, models.MaintenanceOff)
		if err != nil {
			return err
		}
		next = current.Value != models.MaintenanceOn
		value := models.MaintenanceOff
		if next {
			value = models.MaintenanceOn
		}
		return models.PutSetting(tx, models.SettingMaintenanceMode, value)
	})
	if err != nil {
		return m.on.Load(), fmt.Errorf("persist maintenance mode: %w", err)
	}
	m.set(next)

	m.logger.Info().Bool("on", next).Msg("maintenance mode toggled")
	m.bus.Publish(events.EventMaintenanceToggled, events.Payload{"on": next})

	if err := m.valves.DeactivateAll(ctx, "maintenance"); err != nil {
		return next, fmt.Errorf("close valves after maintenance toggle: %w", err)
	}
	return next, nil
}

func (m *Mode) set(on bool) {
	m.on.Store(on)
	if on {
		telemetry.MaintenanceMode.Set(1)
	} else {
		telemetry.MaintenanceMode.Set(0)
	}
}
