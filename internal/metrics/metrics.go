// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchOutcomesTotal         *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	fetchesInFlight            prometheus.Gauge
	pacingDelaySeconds         prometheus.Histogram
	checkpointSavesTotal       *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	checkpointSaveDurationSecs prometheus.Histogram

	once sync.Once
)

// Init initializes the Prometheus collectors on the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_fetch_outcomes_total",
				Help: "Fetch tasks by page role and outcome status.",
			},
			[]string{"role", "status"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_fetch_bytes_total",
				Help: "Response body bytes fetched, by page role.",
			},
			[]string{"role"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_fetch_duration_seconds",
				Help:    "Network time per dispatched fetch, by page role.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"role"},
		)

		fetchesInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_fetches_in_flight",
				Help: "Fetches currently holding a worker slot.",
			},
		)

		pacingDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "harvester_pacing_delay_seconds",
				Help:    "Time spent waiting on per-entity pacing before dispatch.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
		)

		checkpointSavesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_checkpoint_saves_total",
				Help: "Checkpoint save attempts by result.",
			},
			[]string{"result"},
		)

		checkpointSaveDurationSecs = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "harvester_checkpoint_save_duration_seconds",
				Help:    "Wall time of checkpoint saves.",
				Buckets: prometheus.DefBuckets,
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_http_requests_total",
				Help: "Operator endpoint requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_http_request_duration_seconds",
				Help:    "Operator endpoint latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records a classified fetch outcome.
func ObserveFetch(role, status string, bytesFetched int, duration time.Duration) {
	Init()
	fetchOutcomesTotal.WithLabelValues(role, status).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(role).Add(float64(bytesFetched))
	}
	if duration > 0 {
		fetchDurationSeconds.WithLabelValues(role).Observe(duration.Seconds())
	}
}

// IncInFlight increments the in-flight fetch gauge.
func IncInFlight() {
	Init()
	fetchesInFlight.Inc()
}

// DecInFlight decrements the in-flight fetch gauge.
func DecInFlight() {
	Init()
	fetchesInFlight.Dec()
}

// ObservePacingDelay records how long a task waited for its entity's pacer.
func ObservePacingDelay(duration time.Duration) {
	Init()
	pacingDelaySeconds.Observe(duration.Seconds())
}

// ObserveCheckpointSave records a checkpoint save and its duration.
func ObserveCheckpointSave(err error, duration time.Duration) {
	Init()
	result := "ok"
	if err != nil {
		result = "error"
	}
	checkpointSavesTotal.WithLabelValues(result).Inc()
	checkpointSaveDurationSecs.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the operator endpoint request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
