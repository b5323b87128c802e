/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/friendsincode/wateringd/internal/executor"
)

// MQTTConfig configures a networked relay board.
type MQTTConfig struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	Username    string
	Password    string
	Timeout     time.Duration
}

// Payloads written to a channel's command topic.
const (
	PayloadOn  = "ON"
	PayloadOff = "OFF"
)

// MQTTDriver publishes electrical levels to <prefix>/<channel>/set. The board
// is expected to apply the level verbatim, so the payload carries the level
// and not the valve state.
type MQTTDriver struct {
	client  mqtt.Client
	prefix  string
	timeout time.Duration
	logger  zerolog.Logger

	publish func(ctx context.Context, topic, payload string) error
}

// NewMQTTDriver connects to the broker.
func NewMQTTDriver(ctx context.Context, cfg MQTTConfig, logger zerolog.Logger) (*MQTTDriver, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	logger = logger.With().Str("component", "relay_mqtt").Str("broker", cfg.Broker).Logger()

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.Timeout).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn().Err(err).Msg("mqtt connection lost")
		}).
		SetOnConnectHandler(func(mqtt.Client) {
			logger.Info().Msg("mqtt connected")
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	if err := wait(ctx, client.Connect(), cfg.Timeout); err != nil {
		return nil, fmt.Errorf("connect mqtt broker %s: %w", cfg.Broker, err)
	}

	d := &MQTTDriver{
		client:  client,
		prefix:  cfg.TopicPrefix,
		timeout: cfg.Timeout,
		logger:  logger,
	}
	d.publish = func(ctx context.Context, topic, payload string) error {
		return wait(ctx, client.Publish(topic, 1, true, payload), d.timeout)
	}
	return d, nil
}

// Topic returns the command topic for channel.
func (d *MQTTDriver) Topic(channel int) string {
	return fmt.Sprintf("%s/%d/set", d.prefix, channel)
}

// SetChannelLevel publishes the level as a retained QoS 1 message.
func (d *MQTTDriver) SetChannelLevel(ctx context.Context, channel int, level executor.Level) error {
	payload := PayloadOff
	if level == executor.High {
		payload = PayloadOn
	}
	topic := d.Topic(channel)
	if err := d.publish(ctx, topic, payload); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	d.logger.Debug().Str("topic", topic).Str("payload", payload).Msg("relay level published")
	return nil
}

// Close disconnects from the broker.
func (d *MQTTDriver) Close() error {
	if d.client != nil && d.client.IsConnected() {
		d.client.Disconnect(250)
	}
	return nil
}

var errMQTTTimeout = errors.New("mqtt operation timed out")

func wait(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return errMQTTTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
