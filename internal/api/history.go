/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/friendsincode/wateringd/internal/audit"
	"github.com/friendsincode/wateringd/internal/models"
)

// handleHistory returns a paginated list of valve and maintenance actions.
func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	if a.auditSvc == nil {
		writeError(w, http.StatusNotFound, "history_disabled")
		return
	}
	filters := parseHistoryFilters(r)

	logs, total, err := a.auditSvc.Query(r.Context(), filters)
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to query history")
		writeError(w, http.StatusInternalServerError, "query_failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"history": logs,
		"total":   total,
		"limit":   filters.Limit,
		"offset":  filters.Offset,
	})
}

// parseHistoryFilters extracts query filters from the request.
func parseHistoryFilters(r *http.Request) audit.QueryFilters {
	filters := audit.QueryFilters{
		Limit:  100,
		Offset: 0,
	}
	q := r.URL.Query()

	if channel := q.Get("channel"); channel != "" {
		if n, err := strconv.Atoi(channel); err == nil {
			filters.Channel = &n
		}
	}

	if action := q.Get("action"); action != "" {
		a := models.ActivationAction(action)
		filters.Action = &a
	}

	if startTime := q.Get("start_time"); startTime != "" {
		if t, err := time.Parse(time.RFC3339, startTime); err == nil {
			filters.StartTime = &t
		}
	}

	if endTime := q.Get("end_time"); endTime != "" {
		if t, err := time.Parse(time.RFC3339, endTime); err == nil {
			filters.EndTime = &t
		}
	}

	if limit := q.Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 && n <= 500 {
			filters.Limit = n
		}
	}

	if offset := q.Get("offset"); offset != "" {
		if n, err := strconv.Atoi(offset); err == nil && n >= 0 {
			filters.Offset = n
		}
	}

	return filters
}
