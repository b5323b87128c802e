/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/friendsincode/wateringd/internal/models"
)

var pruneParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Prune deletes history rows older than retention.
func (s *Service) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.now().Add(-retention)
	result := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.ActivationLog{})
	if result.Error != nil {
		return 0, fmt.Errorf("prune history: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		s.logger.Info().Int64("deleted", result.RowsAffected).Time("cutoff", cutoff).Msg("pruned activation history")
	}
	return result.RowsAffected, nil
}

// RunPruner prunes on the cron spec until ctx is done. A non-positive
// retention keeps history forever.
func (s *Service) RunPruner(ctx context.Context, spec string, retention time.Duration) error {
	if retention <= 0 {
		return nil
	}
	if _, err := pruneParser.Parse(spec); err != nil {
		return fmt.Errorf("parse prune schedule %q: %w", spec, err)
	}

	c := cron.New(cron.WithParser(pruneParser), cron.WithLocation(time.Local))
	if _, err := c.AddFunc(spec, func() {
		if _, err := s.Prune(ctx, retention); err != nil {
			s.logger.Error().Err(err).Msg("history prune failed")
		}
	}); err != nil {
		return fmt.Errorf("schedule history prune: %w", err)
	}

	c.Start()
	s.logger.Info().Str("schedule", spec).Dur("retention", retention).Msg("history pruner started")
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
