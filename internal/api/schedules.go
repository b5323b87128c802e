/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"

	"github.com/friendsincode/wateringd/internal/scheduling"
)

func (a *API) handleSchedulesList(w http.ResponseWriter, r *http.Request) {
	views, err := a.svc.ListSchedules(r.Context())
	if err != nil {
		a.writeServiceError(w, err, "list schedules failed")
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (a *API) handleSchedulesGet(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(w, r, "scheduleID")
	if !ok {
		return
	}
	view, err := a.svc.GetSchedule(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, err, "get schedule failed")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleSchedulesCreate(w http.ResponseWriter, r *http.Request) {
	var req scheduling.WindowInput
	if !decodeJSON(w, r, &req) {
		return
	}
	id, err := a.svc.CreateSchedule(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err, "create schedule failed")
		return
	}
	view, err := a.svc.GetSchedule(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, err, "load created schedule failed")
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (a *API) handleSchedulesUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(w, r, "scheduleID")
	if !ok {
		return
	}
	var req scheduling.WindowInput
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := a.svc.UpdateSchedule(r.Context(), id, req); err != nil {
		a.writeServiceError(w, err, "update schedule failed")
		return
	}
	view, err := a.svc.GetSchedule(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, err, "load updated schedule failed")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleSchedulesDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(w, r, "scheduleID")
	if !ok {
		return
	}
	if err := a.svc.DeleteSchedule(r.Context(), id); err != nil {
		a.writeServiceError(w, err, "delete schedule failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
