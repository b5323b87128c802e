/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package executor

import (
	"context"
	"errors"
	"fmt"
)

// Level is the electrical level of an output channel.
type Level bool

const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l {
		return "high"
	}
	return "low"
}

// Polarity maps the logical valve state to an output level.
type Polarity struct {
	ActiveHigh bool
}

// On returns the level that opens a valve.
func (p Polarity) On() Level { return Level(p.ActiveHigh) }

// Off returns the level that closes a valve.
func (p Polarity) Off() Level { return Level(!p.ActiveHigh) }

// Level returns the output level for the logical state active.
func (p Polarity) Level(active bool) Level {
	if active {
		return p.On()
	}
	return p.Off()
}

// Driver sets output levels on relay channels.
type Driver interface {
	SetChannelLevel(ctx context.Context, channel int, level Level) error
}

// DriverFunc adapts a function to Driver.
type DriverFunc func(ctx context.Context, channel int, level Level) error

// SetChannelLevel calls f.
func (f DriverFunc) SetChannelLevel(ctx context.Context, channel int, level Level) error {
	return f(ctx, channel, level)
}

// ErrUnknownChannel is matched by *UnknownChannelError.
var ErrUnknownChannel = errors.New("unknown channel")

// UnknownChannelError reports a channel the controller does not manage.
type UnknownChannelError struct {
	Channel int
}

func (e *UnknownChannelError) Error() string {
	return fmt.Sprintf("unknown channel %d", e.Channel)
}

// Is lets errors.Is(err, ErrUnknownChannel) match.
func (e *UnknownChannelError) Is(target error) bool {
	return target == ErrUnknownChannel
}

// ErrSuppressed is returned by ActivateUnless when the activation was vetoed.
var ErrSuppressed = errors.New("activation suppressed")

// ErrRelay wraps driver failures.
var ErrRelay = errors.New("relay driver failure")

func relayError(op string, channel int, err error) error {
	return fmt.Errorf("%w: %s channel %d: %w", ErrRelay, op, channel, err)
}
