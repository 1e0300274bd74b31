package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Lifecycle metrics
	RideTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ridelink_ride_transitions_total",
			Help: "Ride status transitions written by this process",
		},
		[]string{"from", "to"},
	)

	RideRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ridelink_ride_rejections_total",
			Help: "Lifecycle intents rejected before or during the write",
		},
		[]string{"event", "reason"},
	)

	LocationUpdatesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ridelink_location_updates_dropped_total",
			Help: "Driver location updates dropped because one was already in flight",
		},
	)

	SnapshotsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ridelink_snapshots_received_total",
			Help: "Subscription snapshots reconciled by role",
		},
		[]string{"role"},
	)

	ActiveSessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ridelink_sessions_active",
			Help: "Open controller sessions by role",
		},
		[]string{"role"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ridelink_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ridelink_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(RideTransitions)
	prometheus.MustRegister(RideRejections)
	prometheus.MustRegister(LocationUpdatesDropped)
	prometheus.MustRegister(SnapshotsReceived)
	prometheus.MustRegister(ActiveSessions)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer observes elapsed time into a histogram.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) ObserveDurationVec(h *prometheus.HistogramVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}
