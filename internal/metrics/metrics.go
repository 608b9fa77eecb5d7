// Package metrics exposes usbsas's Prometheus instrumentation: transfer
// throughput and outcome counters, a live-session gauge, and per-worker
// state gauges, scraped from the front-end's /metrics endpoint.
// Collectors are promauto-registered once behind an enabled/disabled
// switch; every recording helper is a no-op until Init runs.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mu      sync.Mutex
	enabled bool
	reg     *prometheus.Registry

	transfersTotal    *prometheus.CounterVec
	transferBytes     *prometheus.CounterVec
	transferDuration  *prometheus.HistogramVec
	activeSessions    prometheus.Gauge
	workerState       *prometheus.GaugeVec
	filesPerTransfer  *prometheus.HistogramVec
)

// Init registers usbsas's collectors against a fresh registry and enables
// every Record*/Set* call below. Calling Init more than once is a no-op
// after the first call.
func Init() {
	mu.Lock()
	defer mu.Unlock()
	if enabled {
		return
	}
	enabled = true
	reg = prometheus.NewRegistry()

	transfersTotal = promauto.With(reg).NewCounterVec(
		prometheus.CounterOpts{
			Name: "usbsas_transfers_total",
			Help: "Total number of completed transfers by destination kind and outcome",
		},
		[]string{"destination", "outcome"}, // destination: usb/net/cmd; outcome: done/not_enough_space/nothing_to_copy/error
	)
	transferBytes = promauto.With(reg).NewCounterVec(
		prometheus.CounterOpts{
			Name: "usbsas_transfer_bytes_total",
			Help: "Total bytes moved through the staging tar by destination kind",
		},
		[]string{"destination"},
	)
	transferDuration = promauto.With(reg).NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "usbsas_transfer_duration_seconds",
			Help: "Wall-clock duration of a Copy/Wipe/ImageDisk operation",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"operation"}, // copy/wipe/imgdisk
	)
	activeSessions = promauto.With(reg).NewGauge(
		prometheus.GaugeOpts{
			Name: "usbsas_active_sessions",
			Help: "Number of sessions currently tracked by the session manager",
		},
	)
	workerState = promauto.With(reg).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "usbsas_worker_locked",
			Help: "1 if the named worker is currently blocked waiting for its unlock payload, 0 otherwise",
		},
		[]string{"worker"},
	)
	filesPerTransfer = promauto.With(reg).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "usbsas_transfer_files",
			Help:    "Number of survivor files written per transfer",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
		[]string{"destination"},
	)
}

// IsEnabled reports whether Init has been called.
func IsEnabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return enabled
}

// Handler returns the HTTP handler serving Prometheus text exposition for
// usbsas's registry. Returns a 404-always handler if Init was never called.
func Handler() http.Handler {
	mu.Lock()
	defer mu.Unlock()
	if !enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		})
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// RecordTransfer records one completed Copy's outcome and byte count.
func RecordTransfer(destination, outcome string, bytes uint64, fileCount int) {
	if !IsEnabled() {
		return
	}
	transfersTotal.WithLabelValues(destination, outcome).Inc()
	transferBytes.WithLabelValues(destination).Add(float64(bytes))
	filesPerTransfer.WithLabelValues(destination).Observe(float64(fileCount))
}

// ObserveDuration records how long operation (copy/wipe/imgdisk) took.
func ObserveDuration(operation string, seconds float64) {
	if !IsEnabled() {
		return
	}
	transferDuration.WithLabelValues(operation).Observe(seconds)
}

// SetActiveSessions sets the current live-session count.
func SetActiveSessions(n int) {
	if !IsEnabled() {
		return
	}
	activeSessions.Set(float64(n))
}

// SetWorkerLocked records whether worker is currently blocked on its
// initial unlock read.
func SetWorkerLocked(worker string, locked bool) {
	if !IsEnabled() {
		return
	}
	v := 0.0
	if locked {
		v = 1.0
	}
	workerState.WithLabelValues(worker).Set(v)
}
