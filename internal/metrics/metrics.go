// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_pages_total",
			Help: "Total number of results pages fetched, labeled by status.",
		},
		[]string{"status"},
	)

	listingsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "harvester_listings_total",
			Help: "Total number of new listings harvested.",
		},
	)

	enrichmentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_enrichment_total",
			Help: "Total number of oracle calls, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	jobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_jobs_total",
			Help: "Total number of jobs processed, labeled by status.",
		},
		[]string{"status"},
	)

	activeWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "harvester_active_workers",
			Help: "Number of workers currently processing a job.",
		},
	)

	sinkWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_sink_writes_total",
			Help: "Total number of batch writes, labeled by sink and status.",
		},
		[]string{"sink", "status"},
	)

	rateLimitDelaysSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvester_rate_limit_delays_seconds",
			Help:    "Histogram of rate limit wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"domain"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_http_requests_total",
			Help: "Total number of status server requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvester_http_request_duration_seconds",
			Help:    "Histogram of status server latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)
)

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage counts one fetched results page.
func ObservePage(status string) {
	pagesTotal.WithLabelValues(status).Inc()
}

// ObserveListings adds n freshly harvested listings.
func ObserveListings(n int) {
	if n > 0 {
		listingsTotal.Add(float64(n))
	}
}

// ObserveEnrichment counts one oracle call by outcome ("ok" or "fallback").
func ObserveEnrichment(outcome string) {
	enrichmentTotal.WithLabelValues(outcome).Inc()
}

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string) {
	jobsTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveSinkWrite counts one batch write against sink.
func ObserveSinkWrite(sink string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	sinkWritesTotal.WithLabelValues(sink, status).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
