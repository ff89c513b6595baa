package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "buildmart",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buildmart",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "buildmart",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "route"},
	)

	rotationOffers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buildmart",
			Subsystem: "rotation",
			Name:      "offers_total",
			Help:      "Provider offers by outcome.",
		},
		[]string{"outcome"},
	)

	securityEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buildmart",
			Subsystem: "security",
			Name:      "events_total",
			Help:      "Security events by kind.",
		},
		[]string{"kind"},
	)

	realtimeClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "buildmart",
			Subsystem: "realtime",
			Name:      "connected_clients",
			Help:      "Currently connected realtime websocket clients.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		rotationOffers,
		securityEvents,
		realtimeClients,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
}

// Handler exposes the registry for scraping.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RequestStarted increments the in-flight gauge and returns a func that records completion.
func RequestStarted() func(method, route string, status int) {
	start := time.Now()
	httpInFlight.Inc()
	return func(method, route string, status int) {
		httpInFlight.Dec()
		httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
		httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}

// RecordOffer counts a rotation outcome: offered, accepted, declined, expired, exhausted.
func RecordOffer(outcome string) {
	rotationOffers.WithLabelValues(outcome).Inc()
}

// RecordSecurityEvent counts a security event by kind.
func RecordSecurityEvent(kind string) {
	securityEvents.WithLabelValues(kind).Inc()
}

// RealtimeConnected adjusts the connected-client gauge by delta.
func RealtimeConnected(delta int) {
	realtimeClients.Add(float64(delta))
}
