/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/wateringd/internal/executor"
)

// Manual valve and maintenance handlers

func channelParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	ch, err := strconv.Atoi(chi.URLParam(r, "channel"))
	if err != nil || ch <= 0 {
		writeErrorDetail(w, http.StatusBadRequest, "invalid_input", "channel must be a positive integer")
		return 0, false
	}
	return ch, true
}

func (a *API) handleChannelOn(w http.ResponseWriter, r *http.Request) {
	ch, ok := channelParam(w, r)
	if !ok {
		return
	}
	if err := a.svc.ActivateLineManual(r.Context(), ch); err != nil {
		a.writeServiceError(w, err, "manual activation failed")
		return
	}
	writeJSON(w, http.StatusOK, a.svc.Status())
}

func (a *API) handleChannelOff(w http.ResponseWriter, r *http.Request) {
	ch, ok := channelParam(w, r)
	if !ok {
		return
	}
	if err := a.svc.DeactivateLineManual(r.Context(), ch); err != nil {
		a.writeServiceError(w, err, "manual deactivation failed")
		return
	}
	writeJSON(w, http.StatusOK, a.svc.Status())
}

func (a *API) handleAllOff(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.DeactivateAll(r.Context()); err != nil {
		a.writeServiceError(w, err, "deactivate all failed")
		return
	}
	writeJSON(w, http.StatusOK, a.svc.Status())
}

func (a *API) handleMaintenanceGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"maintenance": a.svc.IsMaintenanceOn()})
}

func (a *API) handleMaintenanceToggle(w http.ResponseWriter, r *http.Request) {
	on, err := a.svc.ToggleMaintenance(r.Context())
	if err != nil && !errors.Is(err, executor.ErrRelay) {
		a.writeServiceError(w, err, "maintenance toggle failed")
		return
	}
	if err != nil {
		// The flag flipped but closing the valves failed.
		a.logger.Error().Err(err).Bool("maintenance", on).Msg("maintenance toggle reported an error")
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":       "relay_error",
			"detail":      err.Error(),
			"maintenance": on,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"maintenance": on})
}
