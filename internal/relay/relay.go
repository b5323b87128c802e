/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package relay provides output drivers for the valve relay board.
package relay

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/friendsincode/wateringd/internal/config"
	"github.com/friendsincode/wateringd/internal/executor"
)

// Driver is an executor.Driver that holds resources until closed.
type Driver interface {
	executor.Driver
	Close() error
}

// New builds the driver selected by cfg.RelayDriver.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (Driver, error) {
	switch cfg.RelayDriver {
	case config.RelayDriverLog, "":
		return NewLogDriver(logger), nil
	case config.RelayDriverGPIO:
		return NewGPIODriver(cfg.Channels, cfg.PinNumbering, logger)
	case config.RelayDriverMQTT:
		return NewMQTTDriver(ctx, MQTTConfig{
			Broker:      cfg.MQTTBroker,
			ClientID:    cfg.MQTTClientID,
			TopicPrefix: cfg.MQTTTopicPrefix,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
		}, logger)
	default:
		return nil, fmt.Errorf("unsupported relay driver %q", cfg.RelayDriver)
	}
}

// LogDriver records level changes without touching hardware. It stands in
// for the board on development machines.
type LogDriver struct {
	logger zerolog.Logger
}

// NewLogDriver creates a log-only driver.
func NewLogDriver(logger zerolog.Logger) *LogDriver {
	return &LogDriver{logger: logger.With().Str("component", "relay_log").Logger()}
}

// SetChannelLevel logs the requested level.
func (d *LogDriver) SetChannelLevel(_ context.Context, channel int, level executor.Level) error {
	d.logger.Debug().Int("channel", channel).Str("level", level.String()).Msg("set channel level")
	return nil
}

// Close is a no-op.
func (d *LogDriver) Close() error { return nil }
