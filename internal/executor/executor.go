/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package executor

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/wateringd/internal/clock"
	"github.com/friendsincode/wateringd/internal/events"
	"github.com/friendsincode/wateringd/internal/telemetry"
)

// Activation sources recorded with state changes.
const (
	SourceScheduler   = "scheduler"
	SourceManual      = "manual"
	SourceMaintenance = "maintenance"
	SourceStartup     = "startup"
	SourceShutdown    = "shutdown"
)

// Controller owns the relay channels and keeps at most one of them active.
// Every call that writes a level holds mu for its whole duration, so an
// activation sequence is never interleaved with another.
type Controller struct {
	driver   Driver
	polarity Polarity
	bus      *events.Bus
	clock    clock.Clock
	logger   zerolog.Logger

	mu       sync.Mutex
	states   map[int]*ChannelState
	channels []int
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock overrides the clock used to stamp state changes.
func WithClock(c clock.Clock) Option {
	return func(ctl *Controller) { ctl.clock = c }
}

// New creates a controller for channels. All channels start inactive; call
// Init to drive them to the inactive level.
func New(driver Driver, polarity Polarity, channels []int, bus *events.Bus, logger zerolog.Logger, opts ...Option) *Controller {
	c := &Controller{
		driver:   driver,
		polarity: polarity,
		bus:      bus,
		clock:    clock.SystemClock{},
		logger:   logger.With().Str("component", "relay_controller").Logger(),
		states:   make(map[int]*ChannelState, len(channels)),
	}
	for _, opt := range opts {
		opt(c)
	}
	for _, ch := range channels {
		c.registerLocked(ch)
	}
	return c
}

// Register adds a channel in the inactive state. Registering a known channel
// is a no-op.
func (c *Controller) Register(channel int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registerLocked(channel)
}

func (c *Controller) registerLocked(channel int) {
	if _, ok := c.states[channel]; ok {
		return
	}
	c.states[channel] = &ChannelState{Channel: channel, ChangedAt: c.clock.Now()}
	c.channels = append(c.channels, channel)
	sort.Ints(c.channels)
	telemetry.ChannelActive.WithLabelValues(strconv.Itoa(channel)).Set(0)
}

// Init writes the inactive level to every channel.
func (c *Controller) Init(ctx context.Context) error {
	return c.DeactivateAll(ctx, SourceStartup)
}

// Channels returns the registered channels in ascending order.
func (c *Controller) Channels() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.channels...)
}

// Known reports whether channel is registered.
func (c *Controller) Known(channel int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.states[channel]
	return ok
}

// Activate turns every other channel off and then turns channel on. If any
// other channel fails to turn off the target is left off and the error is
// returned.
func (c *Controller) Activate(ctx context.Context, channel int, source string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activateLocked(ctx, channel, source)
}

// ActivateUnless is Activate, except that it writes nothing and returns
// ErrSuppressed when suppressed reports true. suppressed is evaluated with
// the controller lock held, so it cannot race DeactivateAll.
func (c *Controller) ActivateUnless(ctx context.Context, channel int, source string, suppressed func() bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if suppressed != nil && suppressed() {
		return ErrSuppressed
	}
	return c.activateLocked(ctx, channel, source)
}

func (c *Controller) activateLocked(ctx context.Context, channel int, source string) error {
	target, ok := c.states[channel]
	if !ok {
		telemetry.ActivationErrorsTotal.WithLabelValues("activate", "unknown_channel").Inc()
		return &UnknownChannelError{Channel: channel}
	}

	var errs []error
	for _, ch := range c.channels {
		if ch == channel {
			continue
		}
		if err := c.setLocked(ctx, ch, false, source); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		err := errors.Join(errs...)
		c.logger.Error().Err(err).Int("channel", channel).Str("source", source).Msg("activation aborted, could not close other valves")
		return err
	}

	if err := c.setLocked(ctx, channel, true, source); err != nil {
		return err
	}

	telemetry.ActivationsTotal.WithLabelValues("activate").Inc()
	c.logger.Info().Int("channel", channel).Str("source", source).Time("at", target.ChangedAt).Msg("valve opened")
	return nil
}

// Deactivate turns channel off.
func (c *Controller) Deactivate(ctx context.Context, channel int, source string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.states[channel]; !ok {
		telemetry.ActivationErrorsTotal.WithLabelValues("deactivate", "unknown_channel").Inc()
		return &UnknownChannelError{Channel: channel}
	}
	if err := c.setLocked(ctx, channel, false, source); err != nil {
		return err
	}

	telemetry.ActivationsTotal.WithLabelValues("deactivate").Inc()
	c.logger.Info().Int("channel", channel).Str("source", source).Msg("valve closed")
	return nil
}

// DeactivateAll turns every channel off. It attempts every channel even when
// some fail and returns the joined errors.
func (c *Controller) DeactivateAll(ctx context.Context, source string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for _, ch := range c.channels {
		if err := c.setLocked(ctx, ch, false, source); err != nil {
			errs = append(errs, err)
		}
	}

	telemetry.ActivationsTotal.WithLabelValues("deactivate_all").Inc()
	c.bus.Publish(events.EventAllOff, events.Payload{
		"source": source,
		"failed": len(errs),
	})

	if len(errs) > 0 {
		err := errors.Join(errs...)
		c.logger.Error().Err(err).Str("source", source).Msg("some valves failed to close")
		return err
	}
	c.logger.Info().Str("source", source).Int("channels", len(c.channels)).Msg("all valves closed")
	return nil
}

// Active returns the active channel, if any.
func (c *Controller) Active() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.channels {
		if c.states[ch].Active {
			return ch, true
		}
	}
	return 0, false
}

// Snapshot returns a copy of every channel state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// setLocked writes the level for active to channel and records the new state
// only if the driver accepted it. Callers hold mu.
func (c *Controller) setLocked(ctx context.Context, channel int, active bool, source string) error {
	op := "deactivate"
	if active {
		op = "activate"
	}

	level := c.polarity.Level(active)
	if err := c.driver.SetChannelLevel(ctx, channel, level); err != nil {
		telemetry.ActivationErrorsTotal.WithLabelValues(op, "driver").Inc()
		c.bus.Publish(events.EventRelayError, events.Payload{
			"channel":   channel,
			"operation": op,
			"source":    source,
			"error":     err.Error(),
		})
		return relayError(op, channel, err)
	}

	st := c.states[channel]
	changed := st.Active != active
	st.Active = active
	if changed {
		st.ChangedAt = c.clock.Now()
		st.Source = source
	}

	gauge := 0.0
	if active {
		gauge = 1
	}
	telemetry.ChannelActive.WithLabelValues(strconv.Itoa(channel)).Set(gauge)

	if changed {
		eventType := events.EventLineDeactivated
		if active {
			eventType = events.EventLineActivated
		}
		c.bus.Publish(eventType, events.Payload{
			"channel":   channel,
			"source":    source,
			"timestamp": st.ChangedAt.Format(time.RFC3339),
		})
	}
	return nil
}
