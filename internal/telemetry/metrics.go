/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler exposes the process's registered Prometheus collectors.
func Handler() http.Handler {
	return promhttp.Handler()
}

var (
	// APIActiveConnections tracks in-flight HTTP requests across the station API.
	APIActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "automixengine_api_active_connections",
		Help: "Number of HTTP requests currently being served.",
	})

	// APIRequestDuration buckets request latency by method, route and status.
	APIRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "automixengine_api_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	// APIRequestsTotal counts HTTP requests by method, route and status.
	APIRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "automixengine_api_requests_total",
		Help: "Total HTTP requests served.",
	}, []string{"method", "route", "status"})
)

// AutoMix-scoped metrics. Crossfade cadence is slow (one boundary every few
// minutes per station) so these favour clear labels over cardinality control.
var (
	// AutomixBoundaryEvaluations counts each evaluateBoundary pass that
	// reaches the planner, labelled by outcome (scheduled, rejected).
	AutomixBoundaryEvaluations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "automixengine_boundary_evaluations_total",
		Help: "Boundary evaluations performed by the AutoMix engine, by outcome.",
	}, []string{"outcome"})

	// AutomixCrossfadesTotal counts crossfade executions by the plan's mix
	// type (default, bassSwap) and whether it ended in a hard cut fallback.
	AutomixCrossfadesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "automixengine_crossfades_total",
		Help: "Completed track transitions, by mix type and fallback status.",
	}, []string{"mix_type", "fallback"})

	// AutomixAnalysisDuration tracks analyser worker call latency.
	AutomixAnalysisDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "automixengine_analysis_duration_seconds",
		Help:    "Analyser worker invocation latency in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
	}, []string{"op"})

	// AutomixCacheHits counts analysis cache lookups by hit/miss.
	AutomixCacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "automixengine_cache_lookups_total",
		Help: "Analysis cache lookups, by result.",
	}, []string{"result"})

	// AutomixGainClips counts LoudnessCompensation calls that hit the peak clamp.
	AutomixGainClips = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "automixengine_gain_clips_total",
		Help: "Crossfade gain calculations that were peak-clamped to avoid clipping.",
	})

	// Database metrics recorded by the gorm callbacks in internal/db.
	DatabaseQueryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "automixengine_database_query_duration_seconds",
		Help: "Database operation latency in seconds, by operation and table.",
	}, []string{"operation", "table"})
	DatabaseErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "automixengine_database_errors_total",
		Help: "Database operation errors, by operation and error type.",
	}, []string{"operation", "error_type"})
	DatabaseConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "automixengine_database_connections_active",
		Help: "Open database connections.",
	})
)

func init() {
	prometheus.MustRegister(
		APIActiveConnections,
		APIRequestDuration,
		APIRequestsTotal,
		AutomixBoundaryEvaluations,
		AutomixCrossfadesTotal,
		AutomixAnalysisDuration,
		AutomixCacheHits,
		AutomixGainClips,
		DatabaseQueryDuration, DatabaseErrorsTotal, DatabaseConnectionsActive,
	)
}
