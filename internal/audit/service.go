/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package audit records valve activity in the activation history.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/wateringd/internal/events"
	"github.com/friendsincode/wateringd/internal/models"
)

// Service writes activation history rows for bus events.
type Service struct {
	db     *gorm.DB
	bus    *events.Bus
	logger zerolog.Logger
	now    func() time.Time
}

// NewService creates a new audit service.
func NewService(db *gorm.DB, bus *events.Bus, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "audit").Logger(),
		now:    time.Now,
	}
}

// audited maps the recorded event types to history actions. Relay errors and
// maintenance toggles resolve their action from the payload.
var audited = []events.EventType{
	events.EventLineActivated,
	events.EventLineDeactivated,
	events.EventAllOff,
	events.EventRelayError,
	events.EventTriggerSkipped,
	events.EventMaintenanceToggled,
	events.EventScheduleReloaded,
}

// Start subscribes to valve events and records them until ctx is done.
func (s *Service) Start(ctx context.Context) {
	activated := s.bus.SubscribeBuffered(events.EventLineActivated, 64)
	deactivated := s.bus.SubscribeBuffered(events.EventLineDeactivated, 64)
	allOff := s.bus.SubscribeBuffered(events.EventAllOff, 16)
	relayErr := s.bus.SubscribeBuffered(events.EventRelayError, 64)
	skipped := s.bus.SubscribeBuffered(events.EventTriggerSkipped, 64)
	maintenance := s.bus.SubscribeBuffered(events.EventMaintenanceToggled, 16)
	reloaded := s.bus.SubscribeBuffered(events.EventScheduleReloaded, 16)

	defer func() {
		s.bus.Unsubscribe(events.EventLineActivated, activated)
		s.bus.Unsubscribe(events.EventLineDeactivated, deactivated)
		s.bus.Unsubscribe(events.EventAllOff, allOff)
		s.bus.Unsubscribe(events.EventRelayError, relayErr)
		s.bus.Unsubscribe(events.EventTriggerSkipped, skipped)
		s.bus.Unsubscribe(events.EventMaintenanceToggled, maintenance)
		s.bus.Unsubscribe(events.EventScheduleReloaded, reloaded)
	}()

	s.logger.Info().Int("event_types", len(audited)).Msg("audit service started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("audit service stopping")
			return
		case p := <-activated:
			s.Record(ctx, events.EventLineActivated, p)
		case p := <-deactivated:
			s.Record(ctx, events.EventLineDeactivated, p)
		case p := <-allOff:
			s.Record(ctx, events.EventAllOff, p)
		case p := <-relayErr:
			s.Record(ctx, events.EventRelayError, p)
		case p := <-skipped:
			s.Record(ctx, events.EventTriggerSkipped, p)
		case p := <-maintenance:
			s.Record(ctx, events.EventMaintenanceToggled, p)
		case p := <-reloaded:
			s.Record(ctx, events.EventScheduleReloaded, p)
		}
	}
}

// Record converts one event into a history row and stores it.
func (s *Service) Record(ctx context.Context, eventType events.EventType, payload events.Payload) {
	entry := s.entryFor(eventType, payload)
	if entry == nil {
		return
	}
	if entry.Channel != nil && entry.LineName == "" {
		entry.LineName = s.lineName(ctx, *entry.Channel)
	}
	if err := s.Log(ctx, entry); err != nil {
		s.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to record activation history")
	}
}

func (s *Service) entryFor(eventType events.EventType, p events.Payload) *models.ActivationLog {
	entry := &models.ActivationLog{
		Channel:  channelOf(p),
		Source:   stringOf(p, "source"),
		LineName: stringOf(p, "line"),
	}

	switch eventType {
	case events.EventLineActivated:
		entry.Action = models.ActionActivate
	case events.EventLineDeactivated:
		entry.Action = models.ActionDeactivate
	case events.EventAllOff:
		entry.Action = models.ActionDeactivateAll
		if failed, ok := p["failed"].(int); ok && failed > 0 {
			entry.Error = fmt.Sprintf("%d channels failed to close", failed)
		}
	case events.EventRelayError:
		entry.Action = models.ActionDeactivate
		if stringOf(p, "operation") == "activate" {
			entry.Action = models.ActionActivate
		}
		entry.Error = stringOf(p, "error")
	case events.EventTriggerSkipped:
		entry.Action = models.ActionSkipped
		entry.Source = "scheduler"
		entry.Error = stringOf(p, "reason")
	case events.EventMaintenanceToggled:
		entry.Action = models.ActionMaintenanceOff
		if on, _ := p["on"].(bool); on {
			entry.Action = models.ActionMaintenanceOn
		}
		entry.Source = "api"
	case events.EventScheduleReloaded:
		entry.Action = models.ActionReload
		entry.Source = "scheduler"
	default:
		return nil
	}
	return entry
}

// Log stores an entry directly.
func (s *Service) Log(ctx context.Context, entry *models.ActivationLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return err
	}
	s.logger.Debug().Str("action", string(entry.Action)).Str("id", entry.ID).Msg("activation recorded")
	return nil
}

func (s *Service) lineName(ctx context.Context, channel int) string {
	var names []string
	if err := s.db.WithContext(ctx).Model(&models.WateringLine{}).
		Where("channel = ?", channel).Limit(1).Pluck("name", &names).Error; err != nil || len(names) == 0 {
		return ""
	}
	return names[0]
}

// QueryFilters defines filters for querying the history.
type QueryFilters struct {
	Channel   *int
	Action    *models.ActivationAction
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}

// Query returns history rows, newest first, and the total matching count.
func (s *Service) Query(ctx context.Context, filters QueryFilters) ([]models.ActivationLog, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.ActivationLog{})
	if filters.Channel != nil {
		query = query.Where("channel = ?", *filters.Channel)
	}
	if filters.Action != nil {
		query = query.Where("action = ?", *filters.Action)
	}
	if filters.StartTime != nil {
		query = query.Where("created_at >= ?", *filters.StartTime)
	}
	if filters.EndTime != nil {
		query = query.Where("created_at < ?", *filters.EndTime)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count history: %w", err)
	}

	limit := filters.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var logs []models.ActivationLog
	if err := query.Order("created_at DESC").Limit(limit).Offset(filters.Offset).Find(&logs).Error; err != nil {
		return nil, 0, fmt.Errorf("query history: %w", err)
	}
	return logs, total, nil
}

func channelOf(p events.Payload) *int {
	switch v := p["channel"].(type) {
	case int:
		return &v
	case float64:
		ch := int(v)
		return &ch
	default:
		return nil
	}
}

func stringOf(p events.Payload, key string) string {
	v, _ := p[key].(string)
	return v
}
