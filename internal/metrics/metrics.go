// Package metrics exposes Prometheus collectors for the roster crawler.
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

// Company outcome labels.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

var (
	rosterCompaniesTotal       *prometheus.CounterVec
	rosterDriversTotal         prometheus.Counter
	rosterRunDurationSeconds   prometheus.Histogram
	backendAttemptsTotal       *prometheus.CounterVec
	alertsTotal                *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		rosterCompaniesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roster_companies_total",
				Help: "Total number of companies processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		rosterDriversTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "roster_drivers_total",
				Help: "Total number of normalized drivers emitted.",
			},
		)

		rosterRunDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "roster_run_duration_seconds",
				Help:    "Histogram of full aggregation run durations.",
				Buckets: []float64{1, 10, 30, 60, 300, 900, 1800, 3600},
			},
		)

		backendAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roster_backend_attempts_total",
				Help: "Total number of backend call attempts, labeled by operation and result.",
			},
			[]string{"operation", "result"},
		)

		alertsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "roster_alerts_total",
				Help: "Total number of retry-exhaustion alerts raised, labeled by service.",
			},
			[]string{"service"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 120},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCompany increments the company counter for the given outcome.
func ObserveCompany(outcome string) {
	Init()
	rosterCompaniesTotal.WithLabelValues(outcome).Inc()
}

// ObserveDrivers adds n to the emitted drivers counter.
func ObserveDrivers(n int) {
	Init()
	if n > 0 {
		rosterDriversTotal.Add(float64(n))
	}
}

// ObserveRun records the duration of a full aggregation run.
func ObserveRun(duration time.Duration) {
	Init()
	rosterRunDurationSeconds.Observe(duration.Seconds())
}

// ObserveAttempt counts one backend call attempt.
func ObserveAttempt(operation string, err error) {
	Init()
	result := "ok"
	if err != nil {
		result = "error"
	}
	backendAttemptsTotal.WithLabelValues(operation, result).Inc()
}

// ObserveAlert counts one raised alert.
func ObserveAlert(service string) {
	Init()
	alertsTotal.WithLabelValues(service).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
