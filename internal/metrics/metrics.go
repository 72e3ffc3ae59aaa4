// Package metrics exposes Prometheus collectors for scrape runs.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Record outcomes reported through ObserveRecord.
const (
	OutcomeAppended  = "appended"
	OutcomeDuplicate = "duplicate"
	OutcomeNotFound  = "not_found"
	OutcomeFailed    = "failed"
)

var (
	fetchTotal       *prometheus.CounterVec
	fetchBytesTotal  *prometheus.CounterVec
	nodesTotal       *prometheus.CounterVec
	recordsTotal     *prometheus.CounterVec
	pacerWaitSeconds prometheus.Histogram

	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitescraper_fetch_total",
				Help: "Total number of fetches, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitescraper_fetch_bytes_total",
				Help: "Total number of raw bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		nodesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitescraper_nodes_total",
				Help: "Frontier nodes by terminal state.",
			},
			[]string{"state"},
		)

		recordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitescraper_records_total",
				Help: "Records handled by the pipeline, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		pacerWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sitescraper_pacer_wait_seconds",
				Help:    "Histogram of politeness delay waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 3, 5, 10},
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitescraper_http_requests_total",
				Help: "Total number of control API requests.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sitescraper_http_request_duration_seconds",
				Help:    "Control API request latency.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
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
	return promhttp.Handler()
}

// ObserveFetch counts one fetch attempt and the bytes it returned.
func ObserveFetch(site string, status string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	fetchTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveNode counts a frontier node reaching a terminal state.
func ObserveNode(state string) {
	Init()
	nodesTotal.WithLabelValues(state).Inc()
}

// ObserveRecord counts a record outcome.
func ObserveRecord(outcome string) {
	Init()
	recordsTotal.WithLabelValues(outcome).Inc()
}

// ObservePacerWait records the duration of a politeness wait.
func ObservePacerWait(duration time.Duration) {
	Init()
	pacerWaitSeconds.Observe(duration.Seconds())
}

// Middleware records request counts and latency for the control API.
func Middleware(next http.Handler) http.Handler {
	Init()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		httpRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(status)).Inc()
		httpRequestDurationSeconds.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}
