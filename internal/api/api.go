/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api exposes the mutation surface over HTTP and the sync stream
// over WebSocket. Mutations return errors synchronously to the caller only;
// state reaches everyone else through the broadcast hub.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/friendsincode/skald/internal/devices"
	"github.com/friendsincode/skald/internal/history"
	"github.com/friendsincode/skald/internal/hub"
	"github.com/friendsincode/skald/internal/queue"
	"github.com/friendsincode/skald/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// API bundles the HTTP handlers.
type API struct {
	manager  *session.Manager
	hub      *hub.Hub
	recorder *history.Recorder
	logger   zerolog.Logger
}

// New creates the API.
func New(manager *session.Manager, h *hub.Hub, recorder *history.Recorder, logger zerolog.Logger) *API {
	return &API{
		manager:  manager,
		hub:      h,
		recorder: recorder,
		logger:   logger.With().Str("component", "api").Logger(),
	}
}

// Routes mounts all endpoints.
func (a *API) Routes(r chi.Router) {
	r.Get("/ws", a.HandleWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Route("/playback", func(r chi.Router) {
			r.Get("/", a.handleGetPlayback)
			r.Post("/play", a.handlePlay)
			r.Post("/pause", a.handlePause)
			r.Post("/resume", a.handleResume)
			r.Post("/next", a.handleNext)
			r.Post("/prev", a.handlePrev)
			r.Post("/seek", a.handleSeek)
			r.Post("/shuffle", a.handleShuffle)
			r.Post("/sort", a.handleSort)
		})
		r.Route("/devices", func(r chi.Router) {
			r.Get("/", a.handleListDevices)
			r.Post("/register", a.handleRegisterDevice)
			r.Post("/active", a.handleSetActiveDevice)
		})
		r.Get("/history", a.handleHistory)
	})
}

type playRequest struct {
	DeviceID       string            `json:"device_id"`
	TargetDeviceID string            `json:"target_device_id,omitempty"`
	TrackID        string            `json:"track_id"`
	Context        queue.PlayContext `json:"context"`
}

func (a *API) handlePlay(w http.ResponseWriter, r *http.Request) {
	var req playRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := a.manager.Play(r.Context(), req.TrackID, req.Context, req.DeviceID, req.TargetDeviceID); err != nil {
		a.writeMutationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.manager.Snapshot())
}

func (a *API) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := a.manager.Pause(); err != nil {
		a.writeMutationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.manager.Snapshot())
}

func (a *API) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := a.manager.Resume(); err != nil {
		a.writeMutationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.manager.Snapshot())
}

func (a *API) handleNext(w http.ResponseWriter, r *http.Request) {
	if err := a.manager.Next(); err != nil {
		a.writeMutationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.manager.Snapshot())
}

func (a *API) handlePrev(w http.ResponseWriter, r *http.Request) {
	if err := a.manager.Prev(); err != nil {
		a.writeMutationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.manager.Snapshot())
}

func (a *API) handleSeek(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PositionMS int64 `json:"position_ms"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := a.manager.Seek(req.PositionMS); err != nil {
		a.writeMutationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.manager.Snapshot())
}

func (a *API) handleShuffle(w http.ResponseWriter, r *http.Request) {
	if err := a.manager.ToggleShuffle(r.Context()); err != nil {
		a.writeMutationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.manager.Snapshot())
}

func (a *API) handleSort(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Field     string              `json:"field"`
		Direction queue.SortDirection `json:"direction"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := a.manager.SetSort(r.Context(), req.Field, req.Direction); err != nil {
		a.writeMutationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.manager.Snapshot())
}

func (a *API) handleGetPlayback(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.manager.Snapshot())
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := a.recorder.Recent(limit)
	if err != nil {
		a.logger.Error().Err(err).Msg("history query failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (a *API) handleListDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.manager.Devices())
}

func (a *API) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "device id required")
		return
	}
	a.manager.RegisterDevice(req.ID, req.Name)
	writeJSON(w, http.StatusOK, a.manager.Devices())
}

func (a *API) handleSetActiveDevice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := a.manager.SetActiveDevice(req.ID); err != nil {
		a.writeMutationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a.manager.Snapshot())
}

// writeMutationError maps the error taxonomy onto HTTP status codes. The
// failure is visible to the issuing caller only; shared state is untouched.
func (a *API) writeMutationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, devices.ErrDeviceNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrPlaybackUnavailable):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, queue.ErrUnresolved),
		errors.Is(err, session.ErrTrackNotInQueue),
		errors.Is(err, session.ErrStartIndexOutOfRange):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		a.logger.Error().Err(err).Msg("mutation failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
