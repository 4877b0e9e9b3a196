package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dictation_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dictation_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Speech to text
	STTAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dictation_stt_attempts_total",
			Help: "Speech-to-text upstream attempts by outcome",
		},
		[]string{"provider", "outcome"},
	)

	STTDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dictation_stt_duration_seconds",
			Help:    "Speech-to-text stage latency including retries",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
		},
		[]string{"provider"},
	)

	// Rewrite
	RewriteOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dictation_rewrite_outcomes_total",
			Help: "Rewrite stage outcomes (completed, fallback_raw, skipped)",
		},
		[]string{"provider", "status"},
	)

	RewriteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dictation_rewrite_duration_seconds",
			Help:    "Rewrite stage latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.2, 0.4, 0.8, 1.6, 3.2},
		},
		[]string{"provider"},
	)

	// Rate limiting
	RateLimitRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dictation_rate_limit_rejections_total",
			Help: "Requests rejected by the fixed-window limiter",
		},
		[]string{"scope"},
	)

	// Usage
	UsageEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dictation_usage_events_total",
			Help: "Usage events by sink and result",
		},
		[]string{"sink", "result"},
	)
)

func RecordHTTPRequest(method, route string, status int, seconds float64) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(seconds)
}

func RecordSTTAttempt(provider, outcome string) {
	STTAttemptsTotal.WithLabelValues(provider, outcome).Inc()
}

func RecordSTT(provider string, seconds float64) {
	STTDuration.WithLabelValues(provider).Observe(seconds)
}

func RecordRewrite(provider, status string, seconds float64) {
	RewriteOutcomesTotal.WithLabelValues(provider, status).Inc()
	if status != "skipped" {
		RewriteDuration.WithLabelValues(provider).Observe(seconds)
	}
}

func RecordRateLimitRejection(scope string) {
	RateLimitRejectionsTotal.WithLabelValues(scope).Inc()
}

func RecordUsageEvent(sink string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	UsageEventsTotal.WithLabelValues(sink, result).Inc()
}
