// Package metrics declares the Prometheus collectors exposed at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gaadisathi"

var (
	RidesRequested = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "rides_requested_total", Help: "Ride requests created"},
		[]string{"ride_type"},
	)
	AcceptAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "accept_attempts_total", Help: "Ride accept attempts by outcome (won, lost, error)"},
		[]string{"outcome"},
	)
	StatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "ride_status_transitions_total", Help: "Ride status changes by target status"},
		[]string{"status"},
	)
	NoDriversFound = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "no_drivers_found_total", Help: "Driver searches that timed out without an acceptance"},
	)
	DriversOnline = promauto.NewGauge(
		prometheus.GaugeOpts{Namespace: namespace, Name: "drivers_online", Help: "Drivers with an active location tracker on this instance"},
	)
	ActiveSubscriptions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: namespace, Name: "active_subscriptions", Help: "Open live streams by kind"},
		[]string{"kind"},
	)
	LocationFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "location_fallbacks_total", Help: "Position lookups answered with the fallback location"},
	)
	RouteFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Name: "route_fallbacks_total", Help: "Routes answered with straight-line interpolation"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
