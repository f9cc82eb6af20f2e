// Package metrics exposes Prometheus collectors for the bytewatch service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	interceptedRequestsTotal   *prometheus.CounterVec
	cacheLookupsTotal          *prometheus.CounterVec
	idLookupsTotal             *prometheus.CounterVec
	browserActiveContexts      prometheus.Gauge
	browserSlotWaitSeconds     prometheus.Histogram

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
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
				Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 10, 20, 40},
			},
			[]string{"method", "route"},
		)

		interceptedRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bytewatch_intercepted_requests_total",
				Help: "Browser requests seen by the traffic classifier, labeled by source, verdict and site.",
			},
			[]string{"source", "verdict", "site"},
		)

		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bytewatch_cache_lookups_total",
				Help: "Candidate cache lookups, labeled by result (hit or miss).",
			},
			[]string{"result"},
		)

		idLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bytewatch_id_lookups_total",
				Help: "Identifier resolutions, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		browserActiveContexts = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "bytewatch_browser_active_contexts",
				Help: "Number of isolated browser contexts currently open.",
			},
		)

		browserSlotWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bytewatch_browser_slot_wait_seconds",
				Help:    "Time spent waiting for a free browser context slot.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)
	})
}

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
	Init()
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Pages load from arbitrarily many hosts, so only blocked and candidate
// requests keep their hostname as the site label.
const (
	passthroughVerdict = "passthrough"
	passthroughSite    = "other"
)

// ObserveInterception counts one classified browser request against the
// sanitized host of rawURL.
func ObserveInterception(source, verdict, rawURL string) {
	Init()
	site := passthroughSite
	if verdict != passthroughVerdict {
		site = SanitizeSite(rawURL)
	}
	interceptedRequestsTotal.WithLabelValues(source, verdict, site).Inc()
}

// ObserveCacheLookup counts a cache hit or miss.
func ObserveCacheLookup(hit bool) {
	Init()
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveIDLookup counts an identifier resolution by outcome
// (ok, not_found, unavailable).
func ObserveIDLookup(outcome string) {
	Init()
	idLookupsTotal.WithLabelValues(outcome).Inc()
}

// IncActiveContexts increments the open browser context gauge.
func IncActiveContexts() {
	Init()
	browserActiveContexts.Inc()
}

// DecActiveContexts decrements the open browser context gauge.
func DecActiveContexts() {
	Init()
	browserActiveContexts.Dec()
}

// ObserveSlotWait records how long a session waited for a browser slot.
func ObserveSlotWait(d time.Duration) {
	Init()
	browserSlotWaitSeconds.Observe(d.Seconds())
}
