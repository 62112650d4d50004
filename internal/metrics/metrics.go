// Package metrics exposes Prometheus collectors for the audit service.
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
	auditsTotal                *prometheus.CounterVec
	auditDurationSeconds       prometheus.Histogram
	pagesTotal                 *prometheus.CounterVec
	findingsTotal              *prometheus.CounterVec
	approvalsTotal             *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		auditsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fixlab_audits_total",
				Help: "Total number of audits run, labeled by final status.",
			},
			[]string{"status"},
		)

		auditDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fixlab_audit_duration_seconds",
				Help:    "Histogram of end-to-end audit durations.",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
		)

		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fixlab_pages_total",
				Help: "Total number of pages visited, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		findingsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fixlab_findings_total",
				Help: "Total number of findings produced, labeled by rule and severity.",
			},
			[]string{"rule_id", "severity"},
		)

		approvalsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fixlab_approval_updates_total",
				Help: "Total number of fix state updates applied, labeled by state.",
			},
			[]string{"state"},
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

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fixlab_rate_limit_delays_seconds",
				Help:    "Histogram of politeness wait durations between page loads.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
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

// ObserveAudit records one finished audit.
func ObserveAudit(status string, duration time.Duration) {
	Init()
	auditsTotal.WithLabelValues(status).Inc()
	auditDurationSeconds.Observe(duration.Seconds())
}

// ObservePage records one page visit outcome ("captured" or "failed").
func ObservePage(outcome string) {
	Init()
	pagesTotal.WithLabelValues(outcome).Inc()
}

// ObserveFinding records one rule match.
func ObserveFinding(ruleID, severity string) {
	Init()
	findingsTotal.WithLabelValues(ruleID, severity).Inc()
}

// ObserveApproval records one applied fix state update.
func ObserveApproval(state string) {
	Init()
	approvalsTotal.WithLabelValues(state).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a politeness wait.
func ObserveRateLimitDelay(site string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(SanitizeSite(site)).Observe(duration.Seconds())
}
