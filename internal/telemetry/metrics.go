/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// APIActiveConnections tracks in-flight control-plane HTTP requests.
	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tizonia_api_active_connections",
		Help: "Number of in-flight control-plane HTTP requests.",
	})

	// APIRequestDuration observes control-plane HTTP request latency.
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tizonia_api_request_duration_seconds",
			Help:    "Control-plane HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	// APIRequestsTotal counts control-plane HTTP requests.
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tizonia_api_requests_total",
			Help: "Total control-plane HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	// GraphFSMTransitionsTotal counts Graph FSM state transitions by
	// encoding and destination state.
	GraphFSMTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tizonia_graph_fsm_transitions_total",
			Help: "Total Graph FSM state transitions.",
		},
		[]string{"encoding", "state"},
	)

	// ManagerFSMTransitionsTotal counts Manager FSM state transitions.
	ManagerFSMTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tizonia_manager_fsm_transitions_total",
			Help: "Total Manager FSM state transitions.",
		},
		[]string{"state"},
	)

	// GraphQueueDepth reports the Graph command queue's current length.
	GraphQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tizonia_graph_queue_depth",
			Help: "Current Graph command queue depth.",
		},
		[]string{"encoding"},
	)

	// ManagerQueueDepth reports the Manager command queue's current length.
	ManagerQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tizonia_manager_queue_depth",
		Help: "Current Manager command queue depth.",
	})

	// GraphOpFailuresTotal counts graphops/managerops failures by code.
	GraphOpFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tizonia_graph_op_failures_total",
			Help: "Total graph/manager operation failures by error code.",
		},
		[]string{"error_code"},
	)
)

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
