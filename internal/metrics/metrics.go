// Package metrics exposes Prometheus collectors for the lead finder service.
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
	runsTotal                  *prometheus.CounterVec
	reservationsTotal          *prometheus.CounterVec
	upstreamErrorsTotal        *prometheus.CounterVec
	scrapesTotal               *prometheus.CounterVec
	fundingEventsTotal         *prometheus.CounterVec
	enrichDurationSeconds      prometheus.Histogram
	throttleDelaySeconds       *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadfinder_runs_total",
				Help: "Enrichment runs by terminal outcome.",
			},
			[]string{"outcome"},
		)

		reservationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadfinder_ledger_reservations_total",
				Help: "Credit reservations by result (paid, free, insufficient, error).",
			},
			[]string{"result"},
		)

		upstreamErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadfinder_upstream_errors_total",
				Help: "Places API failures by endpoint and classified kind.",
			},
			[]string{"endpoint", "kind"},
		)

		scrapesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadfinder_scrapes_total",
				Help: "Homepage scrapes by result.",
			},
			[]string{"result"},
		)

		fundingEventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "leadfinder_funding_events_total",
				Help: "Funding events by result (applied, duplicate, rejected, error).",
			},
			[]string{"result"},
		)

		enrichDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "leadfinder_enrich_duration_seconds",
				Help:    "Wall time spent in the enrichment phase.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 15, 20, 25, 30},
			},
		)

		throttleDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "leadfinder_upstream_throttle_seconds",
				Help:    "Time spent waiting on the upstream rate limiter.",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"host"},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Observers are no-ops until Init has run so packages can be exercised in
// isolation.

// ObserveRun counts a finished enrichment run.
func ObserveRun(outcome string) {
	if runsTotal == nil {
		return
	}
	runsTotal.WithLabelValues(outcome).Inc()
}

// ObserveReservation counts a ledger reservation attempt.
func ObserveReservation(result string) {
	if reservationsTotal == nil {
		return
	}
	reservationsTotal.WithLabelValues(result).Inc()
}

// ObserveUpstreamError counts a classified Places API failure.
func ObserveUpstreamError(endpoint, kind string) {
	if upstreamErrorsTotal == nil {
		return
	}
	upstreamErrorsTotal.WithLabelValues(endpoint, kind).Inc()
}

// ObserveScrape counts a homepage scrape.
func ObserveScrape(result string) {
	if scrapesTotal == nil {
		return
	}
	scrapesTotal.WithLabelValues(result).Inc()
}

// ObserveFundingEvent counts a processed funding event.
func ObserveFundingEvent(result string) {
	if fundingEventsTotal == nil {
		return
	}
	fundingEventsTotal.WithLabelValues(result).Inc()
}

// ObserveEnrichDuration records how long the enrichment phase ran.
func ObserveEnrichDuration(d time.Duration) {
	if enrichDurationSeconds == nil {
		return
	}
	enrichDurationSeconds.Observe(d.Seconds())
}

// ObserveThrottleDelay records a rate limiter wait.
func ObserveThrottleDelay(host string, d time.Duration) {
	if throttleDelaySeconds == nil {
		return
	}
	throttleDelaySeconds.WithLabelValues(host).Observe(d.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
