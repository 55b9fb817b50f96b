package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ride_dispatch"

var (
	RidesCreated = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "rides_created_total", Help: "Total number of rides created"})

	RideTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "ride_transitions_total", Help: "Ride status transitions by target status and outcome"},
		[]string{"to", "outcome"},
	)
	Acceptances = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "acceptances_total", Help: "Acceptance attempts by outcome"},
		[]string{"outcome"},
	)
	NearbyLatency = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "nearby_query_seconds", Help: "Nearby driver query latency seconds"})
	NearbyResults = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "nearby_candidates",
		Help:      "Number of candidates returned per nearby query",
		Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
	})

	ConnectedChannels = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "realtime_channels", Help: "Number of connected realtime channels"})
	EventsDelivered   = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "realtime_events_delivered_total", Help: "Events enqueued to channels by event name"},
		[]string{"event"},
	)
	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "realtime_events_dropped_total", Help: "Events dropped because a channel queue was full"},
		[]string{"event"},
	)
	IntentErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "realtime_intent_errors_total", Help: "Inbound intents answered with an error event"},
		[]string{"event"},
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
