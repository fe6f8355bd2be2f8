// Package metrics holds the Prometheus collectors shared by the transport,
// camera, and API layers. Collectors register on the default registry and are
// served by the API's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Reconnects counts transport reconnect attempts by transport kind.
	Reconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nanit_transport_reconnects_total",
		Help: "WebSocket reconnect attempts by transport kind.",
	}, []string{"transport"})

	// Frames counts WebSocket frames by transport kind and direction.
	Frames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nanit_transport_frames_total",
		Help: "Binary WebSocket frames by transport kind and direction.",
	}, []string{"transport", "direction"})

	// Requests counts camera protocol requests by type and outcome.
	Requests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nanit_camera_requests_total",
		Help: "Camera protocol requests by request type and outcome.",
	}, []string{"type", "outcome"})

	// RequestDuration observes camera request round-trip times.
	RequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nanit_camera_request_duration_seconds",
		Help:    "Round-trip time of camera protocol requests.",
		Buckets: prometheus.DefBuckets,
	})

	// PushEvents counts unsolicited camera push requests by type.
	PushEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nanit_camera_push_events_total",
		Help: "Unsolicited camera push requests by request type.",
	}, []string{"type"})

	// TokenRefreshes counts cloud token refreshes by outcome.
	TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nanit_token_refreshes_total",
		Help: "Cloud token refreshes by outcome.",
	}, []string{"outcome"})

	// APIRequests counts daemon HTTP API requests by method, path and status.
	APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nanit_api_requests_total",
		Help: "Daemon HTTP API requests by method, route and status code.",
	}, []string{"method", "route", "status"})
)
