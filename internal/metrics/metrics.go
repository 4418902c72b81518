// Package metrics defines the Prometheus collectors shared by
// relay-api and relay-orchestrator, registered at process start via
// promauto and exposed on /metrics via promhttp, grounded in the
// teacher's cmd/automata-api/main.go counter.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds every collector the system exports. One Registry is
// constructed per process and passed by reference to the packages that
// report against it.
type Registry struct {
	WebhookRequestsTotal *prometheus.CounterVec
	SessionOutcomesTotal *prometheus.CounterVec
	BreakerTripsTotal    *prometheus.CounterVec
	RetryAttemptsTotal   *prometheus.CounterVec
	ExecutionDuration    *prometheus.HistogramVec
	WorktreesActive      prometheus.Gauge
	PollCycleDuration    prometheus.Histogram
	PollCycleErrorsTotal *prometheus.CounterVec
}

// New registers every collector against the default registry and
// returns the Registry handle. Calling it more than once per process
// panics (promauto re-registration), matching Prometheus client
// conventions — callers construct exactly one Registry at startup.
func New() *Registry {
	return &Registry{
		WebhookRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_webhook_requests_total",
			Help: "Webhook requests received, labeled by tracker and outcome.",
		}, []string{"tracker", "outcome"}),

		SessionOutcomesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_session_outcomes_total",
			Help: "Terminal session outcomes, labeled by provider and status.",
		}, []string{"provider", "status"}),

		BreakerTripsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_breaker_trips_total",
			Help: "Circuit breaker state transitions into OPEN, labeled by provider.",
		}, []string{"provider"}),

		RetryAttemptsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_retry_attempts_total",
			Help: "Retry attempts made against a provider, labeled by provider and outcome.",
		}, []string{"provider", "outcome"}),

		ExecutionDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_execution_duration_seconds",
			Help:    "Agent Executor wall-clock duration, labeled by provider.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s .. ~34min
		}, []string{"provider"}),

		WorktreesActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "relay_worktrees_active",
			Help: "Worktrees currently checked out.",
		}),

		PollCycleDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_poll_cycle_duration_seconds",
			Help:    "Wall-clock duration of one poller reconciliation cycle.",
			Buckets: prometheus.DefBuckets,
		}),

		PollCycleErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_poll_cycle_errors_total",
			Help: "Poller cycle failures, labeled by error tag.",
		}, []string{"tag"}),
	}
}
