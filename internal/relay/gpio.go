/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package relay

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/friendsincode/wateringd/internal/config"
	"github.com/friendsincode/wateringd/internal/executor"
)

// boardToBCM maps physical 40-pin header positions to Broadcom GPIO numbers.
var boardToBCM = map[int]int{
	3: 2, 5: 3, 7: 4, 8: 14, 10: 15, 11: 17, 12: 18, 13: 27,
	15: 22, 16: 23, 18: 24, 19: 10, 21: 9, 22: 25, 23: 11, 24: 8,
	26: 7, 27: 0, 28: 1, 29: 5, 31: 6, 32: 12, 33: 13, 35: 19,
	36: 16, 37: 26, 38: 20, 40: 21,
}

// GPIOName returns the registry name for channel under numbering.
func GPIOName(channel int, numbering config.PinNumbering) (string, error) {
	bcm := channel
	if numbering == config.PinNumberingBoard {
		n, ok := boardToBCM[channel]
		if !ok {
			return "", fmt.Errorf("header pin %d is not a GPIO", channel)
		}
		bcm = n
	}
	if bcm < 0 || bcm > 27 {
		return "", fmt.Errorf("gpio %d out of range", bcm)
	}
	return fmt.Sprintf("GPIO%d", bcm), nil
}

// GPIODriver drives relay inputs directly from the host's GPIO lines.
type GPIODriver struct {
	pins   map[int]gpio.PinIO
	logger zerolog.Logger
}

// NewGPIODriver initializes the host and resolves a pin for every channel.
func NewGPIODriver(channels []int, numbering config.PinNumbering, logger zerolog.Logger) (*GPIODriver, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("init gpio host: %w", err)
	}

	d := &GPIODriver{
		pins:   make(map[int]gpio.PinIO, len(channels)),
		logger: logger.With().Str("component", "relay_gpio").Logger(),
	}
	for _, ch := range channels {
		name, err := GPIOName(ch, numbering)
		if err != nil {
			return nil, fmt.Errorf("channel %d: %w", ch, err)
		}
		pin := gpioreg.ByName(name)
		if pin == nil {
			return nil, fmt.Errorf("channel %d: %s not present on this host", ch, name)
		}
		d.pins[ch] = pin
		d.logger.Debug().Int("channel", ch).Str("pin", name).Msg("gpio pin resolved")
	}
	return d, nil
}

// SetChannelLevel drives the channel's pin as an output at level.
func (d *GPIODriver) SetChannelLevel(_ context.Context, channel int, level executor.Level) error {
	pin, ok := d.pins[channel]
	if !ok {
		return &executor.UnknownChannelError{Channel: channel}
	}
	if err := pin.Out(gpio.Level(level)); err != nil {
		return fmt.Errorf("%s out %s: %w", pin.Name(), level, err)
	}
	return nil
}

// Close releases every pin.
func (d *GPIODriver) Close() error {
	for ch, pin := range d.pins {
		if err := pin.Halt(); err != nil {
			d.logger.Warn().Err(err).Int("channel", ch).Msg("halt gpio pin")
		}
	}
	return nil
}
