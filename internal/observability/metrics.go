package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "dispatch", Name: "transitions_total", Help: "Status change requests by result"},
		[]string{"result"},
	)
	AssignmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "dispatch", Name: "assignments_total", Help: "Driver assignment requests by result"},
		[]string{"result"},
	)
	SuggestionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "dispatch", Name: "suggestions_total", Help: "Auto-assign evaluations by mode"},
		[]string{"mode"},
	)
	ProblemTrips = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "dispatch", Name: "problem_trips", Help: "Trips flagged in the latest evaluation pass"})

	SnapshotsApplied   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dispatch", Name: "snapshot_applied_total", Help: "Authoritative snapshots applied to the local view"})
	SnapshotsDiscarded = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dispatch", Name: "snapshot_discarded_total", Help: "Snapshots dropped because a newer one was already applied"})

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "dispatch", Name: "events_published_total", Help: "Trip events fanned out by sink and result"},
		[]string{"sink", "result"},
	)
	LocationsIngested = promauto.NewCounter(prometheus.CounterOpts{Namespace: "dispatch", Name: "driver_locations_total", Help: "Driver location updates accepted"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
