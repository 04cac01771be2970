// Package metrics holds the Prometheus collectors of the clinic queue service.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QueueCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_commands_total",
			Help: "Queue controller commands by command and result",
		},
		[]string{"command", "result"},
	)

	QueueCASRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "queue_cas_retries_total",
			Help: "Optimistic compare-and-set retries on clinic counters",
		},
	)

	EventsAppendedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "event_log_appended_total",
			Help: "Events appended to the event log by type",
		},
		[]string{"type"},
	)

	RouterEffectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_effects_total",
			Help: "Effects dispatched to sessions by session kind and effect class",
		},
		[]string{"session", "class"},
	)

	RouterDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "router_events_dropped_total",
			Help: "Events not rendered by a session router, by reason",
		},
		[]string{"reason"},
	)

	AudioClipsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audio_clips_total",
			Help: "Audio clips handled by sequencers, by outcome",
		},
		[]string{"outcome"},
	)

	SessionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "realtime_sessions_active",
			Help: "Connected realtime sessions by kind",
		},
		[]string{"kind"},
	)

	StoreBreakerOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "store_breaker_open",
			Help: "1 while the store circuit breaker is open",
		},
	)

	DailyResetsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daily_resets_total",
			Help: "Scheduled bulk resets by result",
		},
		[]string{"result"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route and status code",
		},
		[]string{"method", "route", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	RateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "http_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
	)
)

func RecordCommand(command string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	QueueCommandsTotal.WithLabelValues(command, result).Inc()
}

func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func SetBreakerOpen(open bool) {
	if open {
		StoreBreakerOpen.Set(1)
		return
	}
	StoreBreakerOpen.Set(0)
}
