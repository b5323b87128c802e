/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/friendsincode/wateringd/internal/audit"
	"github.com/friendsincode/wateringd/internal/auth"
	"github.com/friendsincode/wateringd/internal/events"
	"github.com/friendsincode/wateringd/internal/executor"
	"github.com/friendsincode/wateringd/internal/irrigation"
	"github.com/friendsincode/wateringd/internal/scheduling"
	"github.com/friendsincode/wateringd/internal/version"
)

// Config holds the auth and throttling settings of the API.
type Config struct {
	JWTSecret         []byte
	AdminPasswordHash string
	TokenTTL          time.Duration
	ManualRatePerSec  float64
	ManualRateBurst   int
}

// API exposes HTTP handlers.
type API struct {
	svc      *irrigation.Service
	auditSvc *audit.Service
	bus      *events.Bus
	cfg      Config
	manual   *rate.Limiter
	logger   zerolog.Logger
}

// New creates the API router wrapper.
func New(svc *irrigation.Service, auditSvc *audit.Service, bus *events.Bus, cfg Config, logger zerolog.Logger) *API {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	limit := rate.Inf
	if cfg.ManualRatePerSec > 0 {
		limit = rate.Limit(cfg.ManualRatePerSec)
	}
	burst := cfg.ManualRateBurst
	if burst <= 0 {
		burst = 1
	}

	return &API{
		svc:      svc,
		auditSvc: auditSvc,
		bus:      bus,
		cfg:      cfg,
		manual:   rate.NewLimiter(limit, burst),
		logger:   logger.With().Str("component", "api").Logger(),
	}
}

// Routes mounts the /api/v1 tree. Reads are public; writes need a bearer
// token when a signing key is configured.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)
		r.Get("/status", a.handleStatus)
		r.Post("/auth/login", a.handleLogin)

		r.Get("/lines", a.handleLinesList)
		r.Get("/lines/{lineID}", a.handleLinesGet)
		r.Get("/schedules", a.handleSchedulesList)
		r.Get("/schedules/{scheduleID}", a.handleSchedulesGet)
		r.Get("/triggers", a.handleTriggers)
		r.Get("/maintenance", a.handleMaintenanceGet)

		r.Group(func(pr chi.Router) {
			pr.Use(auth.MiddlewareWithJWT(a.cfg.JWTSecret))

			pr.Get("/events", a.handleEvents)
			pr.Get("/history", a.handleHistory)

			pr.Post("/lines", a.handleLinesCreate)
			pr.Put("/lines/{lineID}", a.handleLinesUpdate)
			pr.Delete("/lines/{lineID}", a.handleLinesDelete)

			pr.Post("/schedules", a.handleSchedulesCreate)
			pr.Put("/schedules/{scheduleID}", a.handleSchedulesUpdate)
			pr.Delete("/schedules/{scheduleID}", a.handleSchedulesDelete)
			pr.Post("/reload", a.handleReload)

			pr.Group(func(mr chi.Router) {
				mr.Use(a.throttleManual)
				mr.Post("/channels/{channel}/on", a.handleChannelOn)
				mr.Post("/channels/{channel}/off", a.handleChannelOff)
				mr.Post("/channels/off", a.handleAllOff)
			})
			pr.Post("/maintenance/toggle", a.handleMaintenanceToggle)
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version.Version})
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.Status())
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if len(a.cfg.JWTSecret) == 0 {
		writeError(w, http.StatusNotFound, "auth_disabled")
		return
	}
	var req struct {
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	token, err := auth.Login(a.cfg.JWTSecret, a.cfg.AdminPasswordHash, req.Password, a.cfg.TokenTTL)
	if err != nil {
		a.logger.Warn().Str("remote", r.RemoteAddr).Msg("failed login attempt")
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   int(a.cfg.TokenTTL.Seconds()),
	})
}

func (a *API) handleTriggers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.svc.Triggers())
}

func (a *API) handleReload(w http.ResponseWriter, r *http.Request) {
	n, err := a.svc.Reload(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Msg("manual reload failed")
		writeError(w, http.StatusInternalServerError, "reload_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"triggers": n})
}

// throttleManual rate limits manual valve commands so a stuck client cannot
// chatter the relays.
func (a *API) throttleManual(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.manual.Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate_limited")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeErrorDetail(w, http.StatusBadRequest, "invalid_input", err.Error())
		return false
	}
	return true
}

func uintParam(w http.ResponseWriter, r *http.Request, name string) (uint, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, name), 10, 64)
	if err != nil || id == 0 {
		writeErrorDetail(w, http.StatusBadRequest, "invalid_input", name+" must be a positive integer")
		return 0, false
	}
	return uint(id), true
}

// writeServiceError maps domain errors to status codes.
func (a *API) writeServiceError(w http.ResponseWriter, err error, msg string) {
	var conflict *scheduling.ConflictError
	var unknown *executor.UnknownChannelError
	switch {
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":   "schedule_conflict",
			"days":    conflict.Days,
			"windows": conflict.WindowIDs,
		})
	case errors.Is(err, scheduling.ErrDuplicateChannel):
		writeErrorDetail(w, http.StatusConflict, "duplicate_channel", err.Error())
	case errors.Is(err, scheduling.ErrInvalidInput):
		writeErrorDetail(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.As(err, &unknown):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown_channel", "channel": unknown.Channel})
	case errors.Is(err, scheduling.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found")
	case errors.Is(err, executor.ErrRelay):
		a.logger.Error().Err(err).Msg(msg)
		writeErrorDetail(w, http.StatusBadGateway, "relay_error", err.Error())
	default:
		a.logger.Error().Err(err).Msg(msg)
		writeError(w, http.StatusInternalServerError, "db_error")
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func writeErrorDetail(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, map[string]string{"error": code, "detail": detail})
}
