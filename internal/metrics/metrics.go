package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Tracks executions started and finished, by mode and outcome.
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swap_executions_total",
			Help: "Total swap executions by mode (standard|delegated) and outcome.",
		},
		[]string{"mode", "outcome"}, // outcome = "success" | "failed" | "aborted"
	)

	// Measures end-to-end execution duration.
	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "swap_execution_duration_seconds",
			Help:    "Duration of swap executions in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s → ~34m
		},
		[]string{"mode"},
	)

	// Tracks status poll attempts against the check endpoint.
	PollAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "status_poll_attempts_total",
			Help: "Total status poll attempts by result.",
		},
		[]string{"result"}, // a check status, "network_error", or "unrecognized"
	)

	// Tracks terminal outcomes reached by tracked items.
	StatusTerminalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "status_terminal_outcomes_total",
			Help: "Terminal statuses reached by tracked items.",
		},
		[]string{"status"},
	)

	// Tracks push-channel subscription failures.
	PushFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "status_push_failures_total",
			Help: "Push-channel subscriptions that failed over to polling.",
		},
	)

	// Tracks NATS messages published by subject and result.
	NATSMessageCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_messages_total",
			Help: "Total number of NATS messages published.",
		},
		[]string{"subject", "result"}, // result = "ok" | "error"
	)

	NATSMessageLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nats_message_latency_seconds",
			Help:    "Time taken to publish NATS messages.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"subject"},
	)

	// Tracks total errors (aggregated).
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_errors_total",
			Help: "Count of engine-level errors by component.",
		},
		[]string{"component", "reason"},
	)
)

// IncError increments the aggregate error counter.
func IncError(component, reason string) {
	ErrorsTotal.WithLabelValues(component, reason).Inc()
}

// IncNATSMessage records a publish result for a subject.
func IncNATSMessage(subject, result string) {
	NATSMessageCount.WithLabelValues(subject, result).Inc()
}

// ObserveDuration records elapsed time since start on a histogram.
func ObserveDuration(h *prometheus.HistogramVec, start time.Time, labels ...string) {
	h.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
}
