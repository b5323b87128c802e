/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"

	"github.com/friendsincode/wateringd/internal/scheduling"
)

type lineRequest struct {
	Name    string `json:"name"`
	Channel int    `json:"channel"`
}

func (req lineRequest) input() scheduling.LineInput {
	return scheduling.LineInput{Name: req.Name, Channel: req.Channel}
}

func (a *API) handleLinesList(w http.ResponseWriter, r *http.Request) {
	lines, err := a.svc.ListLines(r.Context())
	if err != nil {
		a.writeServiceError(w, err, "list lines failed")
		return
	}
	writeJSON(w, http.StatusOK, lines)
}

func (a *API) handleLinesGet(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(w, r, "lineID")
	if !ok {
		return
	}
	line, err := a.svc.GetLine(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, err, "get line failed")
		return
	}
	writeJSON(w, http.StatusOK, line)
}

func (a *API) handleLinesCreate(w http.ResponseWriter, r *http.Request) {
	var req lineRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	line, err := a.svc.CreateLine(r.Context(), req.input())
	if err != nil {
		a.writeServiceError(w, err, "create line failed")
		return
	}
	writeJSON(w, http.StatusCreated, line)
}

func (a *API) handleLinesUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(w, r, "lineID")
	if !ok {
		return
	}
	var req lineRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	line, err := a.svc.UpdateLine(r.Context(), id, req.input())
	if err != nil {
		a.writeServiceError(w, err, "update line failed")
		return
	}
	writeJSON(w, http.StatusOK, line)
}

func (a *API) handleLinesDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := uintParam(w, r, "lineID")
	if !ok {
		return
	}
	if err := a.svc.DeleteLine(r.Context(), id); err != nil {
		a.writeServiceError(w, err, "delete line failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
