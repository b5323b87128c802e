/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/wateringd/internal/audit"
	"github.com/friendsincode/wateringd/internal/clock"
	"github.com/friendsincode/wateringd/internal/config"
	"github.com/friendsincode/wateringd/internal/db"
	"github.com/friendsincode/wateringd/internal/events"
	"github.com/friendsincode/wateringd/internal/executor"
	"github.com/friendsincode/wateringd/internal/irrigation"
	"github.com/friendsincode/wateringd/internal/maintenance"
	"github.com/friendsincode/wateringd/internal/relay"
	"github.com/friendsincode/wateringd/internal/scheduler"
)

// Core is the storage, valve and scheduling stack without any HTTP surface.
// The CLI builds it offline, with a log-only relay driver, so that running a
// command next to the daemon never touches the relays.
type Core struct {
	DB          *gorm.DB
	Bus         *events.Bus
	Controller  *executor.Controller
	Maintenance *maintenance.Mode
	Scheduler   *scheduler.Service
	Irrigation  *irrigation.Service
	Audit       *audit.Service

	closers []func() error
}

// NewCore connects and migrates the database, builds the relay driver and
// wires the scheduler. It does not touch valve state or start any loop.
func NewCore(ctx context.Context, cfg *config.Config, offline bool, logger zerolog.Logger) (*Core, error) {
	c := &Core{Bus: events.NewBus()}

	database, err := db.Connect(cfg)
	if err != nil {
		return nil, err
	}
	c.deferClose(func() error { return db.Close(database) })
	if err := db.Migrate(database); err != nil {
		_ = c.Close()
		return nil, err
	}
	c.DB = database

	var driver relay.Driver
	if offline {
		driver = relay.NewLogDriver(logger)
	} else {
		driver, err = relay.New(ctx, cfg, logger)
		if err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("relay driver: %w", err)
		}
	}
	c.deferClose(driver.Close)

	c.Controller = executor.New(driver, executor.Polarity{ActiveHigh: cfg.ActiveHigh}, cfg.Channels, c.Bus, logger)
	c.Maintenance = maintenance.New(database, c.Controller, c.Bus, logger)
	if err := c.Maintenance.Load(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}

	c.Scheduler = scheduler.New(clock.NewCompiler(database, logger), c.Controller, c.Maintenance, clock.SystemClock{}, c.Bus, cfg.TickInterval, logger)
	c.Irrigation = irrigation.New(irrigation.Deps{
		DB:          database,
		Controller:  c.Controller,
		Maintenance: c.Maintenance,
		Scheduler:   c.Scheduler,
		Clock:       clock.SystemClock{},
		Bus:         c.Bus,
		Logger:      logger,
	})
	c.Audit = audit.NewService(database, c.Bus, logger)

	return c, nil
}

// Start runs the startup sequence: every valve off, then the first compile.
func (c *Core) Start(ctx context.Context) error {
	if err := c.Controller.Init(ctx); err != nil {
		return fmt.Errorf("close valves at startup: %w", err)
	}
	if _, err := c.Scheduler.Reload(ctx); err != nil {
		return fmt.Errorf("initial schedule compile: %w", err)
	}
	return nil
}

// Close releases owned resources in reverse order.
func (c *Core) Close() error {
	var firstErr error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.closers = nil
	return firstErr
}

func (c *Core) deferClose(fn func() error) {
	c.closers = append(c.closers, fn)
}
