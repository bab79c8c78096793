/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api exposes the AutoMix Engine's debug HTTP surface: current state
// machine status and a Prometheus scrape endpoint. It is intentionally small
// next to the station's main API — AutoMix has no end-user routes, only
// operational ones.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/friendsincode/automixengine/internal/automix/service"
)

// API exposes the AutoMix debug HTTP handlers.
type API struct {
	svc    *service.Service
	logger zerolog.Logger
}

// New builds the router wrapper around a running Service.
func New(svc *service.Service, logger zerolog.Logger) *API {
	return &API{svc: svc, logger: logger.With().Str("component", "automix.api").Logger()}
}

// Router returns the mountable chi.Router for this surface. Callers mount it
// under whatever prefix they like, e.g. r.Mount("/automix", automixAPI.Router()).
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/status", a.handleStatus)
	r.Get("/metrics", a.handleMetrics)
	return r
}

// statusResponse is the wire shape for GET /automix/status.
type statusResponse struct {
	State     string    `json:"state"`
	CheckedAt time.Time `json:"checked_at"`
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		State:     string(a.svc.State()),
		CheckedAt: time.Now().UTC(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		a.logger.Error().Err(err).Msg("failed to encode automix status response")
	}
}

func (a *API) handleMetrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}
