/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus forwards in-process events to external brokers so other
// services (dashboards, home automation) can follow valve activity.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/wateringd/internal/events"
	"github.com/friendsincode/wateringd/internal/telemetry"
)

// Publisher delivers encoded events to a broker.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, msg Message, data []byte) error
	Close() error
}

// Message is the envelope written to brokers.
type Message struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"`
}

// Encode marshals the envelope.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeMessage parses an envelope.
func DecodeMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal event message: %w", err)
	}
	return &msg, nil
}

// NodeID returns hostname-uuid, or just a uuid when the hostname is unknown.
func NodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return uuid.NewString()
	}
	return host + "-" + uuid.NewString()[:8]
}

// Forwarder copies every bus event to its publishers.
type Forwarder struct {
	bus        *events.Bus
	publishers []Publisher
	nodeID     string
	timeout    time.Duration
	logger     zerolog.Logger
}

// NewForwarder creates a forwarder. Publishers are closed when Run returns.
func NewForwarder(bus *events.Bus, nodeID string, logger zerolog.Logger, publishers ...Publisher) *Forwarder {
	if nodeID == "" {
		nodeID = NodeID()
	}
	return &Forwarder{
		bus:        bus,
		publishers: publishers,
		nodeID:     nodeID,
		timeout:    2 * time.Second,
		logger:     logger.With().Str("component", "event_forwarder").Logger(),
	}
}

// Run forwards events until ctx is cancelled.
func (f *Forwarder) Run(ctx context.Context) error {
	if len(f.publishers) == 0 {
		return nil
	}

	subs := make([]events.Subscriber, len(events.AllEventTypes))
	cases := make([]reflect.SelectCase, 0, len(subs)+1)
	cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())})
	for i, et := range events.AllEventTypes {
		subs[i] = f.bus.SubscribeBuffered(et, 64)
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(subs[i])})
	}
	defer func() {
		for i, et := range events.AllEventTypes {
			f.bus.Unsubscribe(et, subs[i])
		}
		f.close()
	}()

	names := make([]string, 0, len(f.publishers))
	for _, p := range f.publishers {
		names = append(names, p.Name())
	}
	f.logger.Info().Strs("publishers", names).Str("node_id", f.nodeID).Msg("event forwarding started")

	for {
		chosen, value, ok := reflect.Select(cases)
		if chosen == 0 {
			f.logger.Info().Msg("event forwarding stopped")
			return ctx.Err()
		}
		if !ok {
			continue
		}
		payload, _ := value.Interface().(events.Payload)
		f.Forward(ctx, events.AllEventTypes[chosen-1], payload)
	}
}

// Forward sends one event to every publisher.
func (f *Forwarder) Forward(ctx context.Context, eventType events.EventType, payload events.Payload) {
	msg := Message{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    f.nodeID,
		MessageID: uuid.NewString(),
	}
	data, err := msg.Encode()
	if err != nil {
		f.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to encode event")
		return
	}

	for _, p := range f.publishers {
		pctx, cancel := context.WithTimeout(ctx, f.timeout)
		err := p.Publish(pctx, msg, data)
		cancel()
		if err != nil {
			telemetry.EventsForwardedTotal.WithLabelValues(string(eventType), "error").Inc()
			f.logger.Warn().Err(err).Str("publisher", p.Name()).Str("event_type", string(eventType)).Msg("failed to forward event")
			continue
		}
		telemetry.EventsForwardedTotal.WithLabelValues(string(eventType), "ok").Inc()
	}
}

func (f *Forwarder) close() {
	var wg sync.WaitGroup
	for _, p := range f.publishers {
		wg.Add(1)
		go func(p Publisher) {
			defer wg.Done()
			if err := p.Close(); err != nil {
				f.logger.Warn().Err(err).Str("publisher", p.Name()).Msg("failed to close publisher")
			}
		}(p)
	}
	wg.Wait()
}
