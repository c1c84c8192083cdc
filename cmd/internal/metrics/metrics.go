// Package metrics defines Courier's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "courier_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	UsersRegistered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "courier_users_registered_total",
			Help: "Total users registered",
		},
	)

	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_messages_sent_total",
			Help: "Total messages durably persisted",
		},
		[]string{"path"}, // "rest" or "ws"
	)

	LiveDeliveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "courier_live_deliveries_total",
			Help: "Total messages pushed to a receiver's live room",
		},
	)

	// Websocket metrics
	WSConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "courier_ws_connections_active",
			Help: "Currently open websocket sessions",
		},
	)

	WSEventsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_ws_events_rejected_total",
			Help: "Websocket events rejected before reaching the pipeline",
		},
		[]string{"reason"},
	)
)
