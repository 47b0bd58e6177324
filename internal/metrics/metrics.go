// Package metrics exposes process-wide Prometheus collectors for the HTTP
// control surface and the request throttle. Crawl progress counters live in
// progress/sinks.
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
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	throttleDelaySeconds       prometheus.Gauge
	throttleWaitSeconds        prometheus.Histogram

	once sync.Once
)

// Init registers the collectors. It is safe to call more than once, and the
// Observe helpers call it themselves.
func Init() {
	once.Do(func() {
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		throttleDelaySeconds = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "nga_throttle_delay_seconds",
				Help: "Current minimum delay between outbound forum requests.",
			},
		)

		throttleWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "nga_throttle_wait_seconds",
				Help:    "Time spent waiting on the request throttle.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest records one API request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// SetThrottleDelay publishes the throttle's current delay.
func SetThrottleDelay(d time.Duration) {
	Init()
	throttleDelaySeconds.Set(d.Seconds())
}

// ObserveThrottleWait records how long a request waited for the throttle.
func ObserveThrottleWait(d time.Duration) {
	Init()
	throttleWaitSeconds.Observe(d.Seconds())
}
