// Package metrics exposes Prometheus collectors for the spider.
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
	spiderEventsTotal            *prometheus.CounterVec
	spiderSpectraTotal           *prometheus.CounterVec
	spiderDownloadBytesTotal     prometheus.Counter
	spiderRunsTotal              *prometheus.CounterVec
	spiderFetchesTotal           *prometheus.CounterVec
	spiderFetchDurationSeconds   *prometheus.HistogramVec
	spiderRateLimitDelaysSeconds *prometheus.HistogramVec
	httpRequestsTotal            *prometheus.CounterVec
	httpRequestDurationSeconds   *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		spiderEventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wiserep_spider_events_total",
				Help: "Events processed, labeled by terminal outcome.",
			},
			[]string{"outcome"},
		)

		spiderSpectraTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wiserep_spider_spectra_total",
				Help: "Spectrum rows seen, labeled by what happened to them.",
			},
			[]string{"kind"},
		)

		spiderDownloadBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "wiserep_spider_download_bytes_total",
				Help: "Bytes of spectrum files written to the mirror.",
			},
		)

		spiderRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wiserep_spider_runs_total",
				Help: "Crawl runs, labeled by mode and status.",
			},
			[]string{"mode", "status"},
		)

		spiderFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wiserep_spider_fetches_total",
				Help: "Outbound requests to the site, labeled by host and status code.",
			},
			[]string{"host", "code"},
		)

		spiderFetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wiserep_spider_fetch_duration_seconds",
				Help:    "Histogram of outbound request latencies, labeled by method.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"method"},
		)

		spiderRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wiserep_spider_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of status server requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of status server latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeHost extracts a lowercase hostname from rawURL.
// It returns "unknown" if the URL is invalid.
func SanitizeHost(rawURL string) string {
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

// ObserveEvent counts an event reaching outcome.
func ObserveEvent(outcome string) {
	Init()
	spiderEventsTotal.WithLabelValues(outcome).Inc()
}

// ObserveSpectra adds n spectrum rows of the given kind.
func ObserveSpectra(kind string, n int) {
	if n <= 0 {
		return
	}
	Init()
	spiderSpectraTotal.WithLabelValues(kind).Add(float64(n))
}

// ObserveDownload records bytes written for one spectrum file.
func ObserveDownload(bytes int) {
	Init()
	spiderDownloadBytesTotal.Add(float64(bytes))
}

// ObserveRun counts a finished run.
func ObserveRun(mode, status string) {
	Init()
	spiderRunsTotal.WithLabelValues(mode, status).Inc()
}

// ObserveFetch records one outbound request. A zero code means the request
// failed before a response arrived.
func ObserveFetch(rawURL, method string, code int, duration time.Duration) {
	Init()
	spiderFetchesTotal.WithLabelValues(SanitizeHost(rawURL), strconv.Itoa(code)).Inc()
	spiderFetchDurationSeconds.WithLabelValues(method).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	spiderRateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveHTTPRequest records one status server request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
