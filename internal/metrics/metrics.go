// Package metrics holds the Prometheus registry and collectors for the
// dispatch service.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the service.
	Registry = prometheus.NewRegistry()

	// RequestsCreated counts ambulance requests by priority.
	RequestsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatch_requests_total", Help: "Ambulance requests created, by priority."},
		[]string{"priority"},
	)
	// Transitions counts lifecycle transition attempts by event and outcome.
	Transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "request_transitions_total", Help: "Lifecycle transition attempts by event and outcome."},
		[]string{"event", "outcome"},
	)
	// EtaTicks counts committed ETA decrements across all countdowns.
	EtaTicks = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "eta_ticks_total", Help: "Committed ETA countdown decrements."},
	)
	// ActiveCountdowns tracks the number of live countdown goroutines.
	ActiveCountdowns = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "active_countdowns", Help: "Countdown goroutines currently running."},
	)

	// HTTPRequests counts requests by method, path, and status.
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds.
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)
)

var regOnce sync.Once

// Register installs all collectors on the registry, exactly once.
func Register() {
	regOnce.Do(func() {
		Registry.MustRegister(RequestsCreated)
		Registry.MustRegister(Transitions)
		Registry.MustRegister(EtaTicks)
		Registry.MustRegister(ActiveCountdowns)
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}
