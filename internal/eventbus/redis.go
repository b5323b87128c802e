/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/wateringd/internal/events"
)

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	ChannelPrefix string

	DialTimeout  time.Duration
	WriteTimeout time.Duration

	// MaxFailures consecutive publish errors open the breaker for CheckInterval.
	MaxFailures   int
	CheckInterval time.Duration
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:          "localhost:6379",
		ChannelPrefix: "wateringd:events:",
		DialTimeout:   5 * time.Second,
		WriteTimeout:  3 * time.Second,
		MaxFailures:   5,
		CheckInterval: 30 * time.Second,
	}
}

// RedisPublisher publishes events on Redis pub/sub channels. After repeated
// failures it stops trying for a while instead of stalling every event.
type RedisPublisher struct {
	client *redis.Client
	cfg    RedisConfig
	logger zerolog.Logger

	mu        sync.Mutex
	failCount int
	openUntil time.Time
	now       func() time.Time
}

// NewRedisPublisher creates a publisher. The connection is not verified;
// failures surface on publish.
func NewRedisPublisher(cfg RedisConfig, logger zerolog.Logger) *RedisPublisher {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	return newRedisPublisher(client, cfg, logger)
}

func newRedisPublisher(client *redis.Client, cfg RedisConfig, logger zerolog.Logger) *RedisPublisher {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	return &RedisPublisher{
		client: client,
		cfg:    cfg,
		logger: logger.With().Str("component", "redis_publisher").Logger(),
		now:    time.Now,
	}
}

// Name identifies the publisher in logs.
func (p *RedisPublisher) Name() string { return "redis" }

// Channel returns the pub/sub channel for an event type.
func (p *RedisPublisher) Channel(msg Message) string {
	return p.cfg.ChannelPrefix + string(msg.EventType)
}

// Publish sends data unless the breaker is open.
func (p *RedisPublisher) Publish(ctx context.Context, msg Message, data []byte) error {
	if !p.allow() {
		return fmt.Errorf("redis publisher paused after %d failures", p.cfg.MaxFailures)
	}
	if err := p.client.Publish(ctx, p.Channel(msg), data).Err(); err != nil {
		p.recordFailure()
		return fmt.Errorf("redis publish: %w", err)
	}
	p.recordSuccess()
	return nil
}

// Close closes the Redis client.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

func (p *RedisPublisher) allow() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.now().Before(p.openUntil)
}

func (p *RedisPublisher) recordFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failCount++
	if p.failCount >= p.cfg.MaxFailures {
		p.openUntil = p.now().Add(p.cfg.CheckInterval)
		p.failCount = 0
		p.logger.Warn().Dur("pause", p.cfg.CheckInterval).Msg("redis failure threshold reached, pausing event publishing")
	}
}

func (p *RedisPublisher) recordSuccess() {
	p.mu.Lock()
	p.failCount = 0
	p.mu.Unlock()
}

// HandlerFunc receives an event published by another node.
type HandlerFunc func(ctx context.Context, msg *Message)

// RedisSubscriber receives events other nodes forwarded to Redis. Messages
// carrying this node's id are dropped so a node never reacts to its own
// events.
type RedisSubscriber struct {
	client *redis.Client
	cfg    RedisConfig
	nodeID string
	logger zerolog.Logger
}

// NewRedisSubscriber creates a subscriber for nodeID, which must match the
// id the local Forwarder stamps on outgoing messages.
func NewRedisSubscriber(cfg RedisConfig, nodeID string, logger zerolog.Logger) *RedisSubscriber {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})
	return newRedisSubscriber(client, cfg, nodeID, logger)
}

func newRedisSubscriber(client *redis.Client, cfg RedisConfig, nodeID string, logger zerolog.Logger) *RedisSubscriber {
	return &RedisSubscriber{
		client: client,
		cfg:    cfg,
		nodeID: nodeID,
		logger: logger.With().Str("component", "redis_subscriber").Logger(),
	}
}

// Run subscribes to eventTypes and calls handle for every remote message
// until ctx is cancelled.
func (s *RedisSubscriber) Run(ctx context.Context, handle HandlerFunc, eventTypes ...events.EventType) error {
	channels := make([]string, len(eventTypes))
	for i, et := range eventTypes {
		channels[i] = s.cfg.ChannelPrefix + string(et)
	}
	pubsub := s.client.Subscribe(ctx, channels...)
	defer pubsub.Close()

	s.logger.Info().Strs("channels", channels).Str("node_id", s.nodeID).Msg("listening for remote events")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("redis subscription closed")
			}
			s.deliver(ctx, []byte(msg.Payload), handle)
		}
	}
}

// deliver decodes one message and hands it to handle unless it is malformed
// or came from this node. It reports whether handle ran.
func (s *RedisSubscriber) deliver(ctx context.Context, data []byte, handle HandlerFunc) bool {
	msg, err := DecodeMessage(data)
	if err != nil {
		s.logger.Warn().Err(err).Msg("dropping malformed remote event")
		return false
	}
	if msg.NodeID == s.nodeID {
		return false
	}
	s.logger.Debug().
		Str("event_type", string(msg.EventType)).
		Str("source_node", msg.NodeID).
		Msg("remote event received")
	handle(ctx, msg)
	return true
}

// Close closes the Redis client.
func (s *RedisSubscriber) Close() error {
	return s.client.Close()
}
