// Package metrics exposes Prometheus collectors for the harvester.
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
	sitesTotal                 *prometheus.CounterVec
	fetchAttemptsTotal         *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	fallbacksTotal             prometheus.Counter
	budgetRejectionsTotal      prometheus.Counter
	pagesSelectedTotal         prometheus.Counter
	pagesExcludedTotal         prometheus.Counter
	extractionRequestsTotal    *prometheus.CounterVec
	discoveryAPICallsTotal     *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	activeWorkers              prometheus.Gauge
	rateLimitDelaySeconds      *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		sitesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_sites_total",
				Help: "Sites crawled, labeled by outcome status.",
			},
			[]string{"status"},
		)

		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_fetch_attempts_total",
				Help: "Fetch attempts, labeled by path and outcome class.",
			},
			[]string{"path", "outcome"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_fetch_duration_seconds",
				Help:    "Duration of individual fetch attempts.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"path"},
		)

		fallbacksTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_fallbacks_total",
				Help: "Pages promoted to the rendering fallback.",
			},
		)

		budgetRejectionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_budget_rejections_total",
				Help: "Fetches refused because the global budget was spent.",
			},
		)

		pagesSelectedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_pages_selected_total",
				Help: "Pages selected into a site's top-K set.",
			},
		)

		pagesExcludedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_pages_excluded_total",
				Help: "Discovered URLs removed by exclusion rules.",
			},
		)

		extractionRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_extraction_requests_total",
				Help: "Calls to the contact extraction service, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		discoveryAPICallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_discovery_api_calls_total",
				Help: "Calls made to the entity search API, labeled by outcome.",
			},
			[]string{"outcome"},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_active_workers",
				Help: "Number of workers currently crawling a site.",
			},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_rate_limit_delay_seconds",
				Help:    "Histogram of per-host rate limit waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
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

// ObserveSite counts a finished site by status.
func ObserveSite(status string) {
	Init()
	sitesTotal.WithLabelValues(status).Inc()
}

// ObserveFetchAttempt records one attempt. An empty outcome means success.
func ObserveFetchAttempt(path, outcome string, duration time.Duration) {
	Init()
	if outcome == "" {
		outcome = "ok"
	}
	fetchAttemptsTotal.WithLabelValues(path, outcome).Inc()
	fetchDurationSeconds.WithLabelValues(path).Observe(duration.Seconds())
}

// ObserveFallback counts a promotion to the rendering path.
func ObserveFallback() {
	Init()
	fallbacksTotal.Inc()
}

// ObserveBudgetRejection counts a fetch refused by the global budget.
func ObserveBudgetRejection() {
	Init()
	budgetRejectionsTotal.Inc()
}

// ObserveSelection records the frontier outcome for a site.
func ObserveSelection(selected, excluded int) {
	Init()
	pagesSelectedTotal.Add(float64(selected))
	pagesExcludedTotal.Add(float64(excluded))
}

// ObserveExtraction counts an extraction call by outcome.
func ObserveExtraction(outcome string) {
	Init()
	extractionRequestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveDiscoveryCall counts one entity search API call.
func ObserveDiscoveryCall(outcome string) {
	Init()
	discoveryAPICallsTotal.WithLabelValues(outcome).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(SanitizeSite(host)).Observe(duration.Seconds())
}
