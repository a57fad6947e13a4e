// Package metrics holds the Prometheus collectors of the execution engine and
// the HTTP middleware that records REST API traffic.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// ExecutionBuckets covers everything from an interpreter start-up to a
// killed run at a generous deadline, in seconds.
var ExecutionBuckets = []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 15, 30, 60}

// Outcome label values of ExecutionsTotal.
const (
	OutcomeCompleted    = "completed"
	OutcomeTimedOut     = "timed_out"
	OutcomeLaunchFailed = "launch_failed"
	OutcomeRejected     = "rejected"
)

var (
	// ExecutionsTotal counts finished executions by language and outcome.
	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coderun_executions_total",
			Help: "Executions by outcome",
		},
		[]string{"language", "outcome"},
	)

	// ExecutionDuration records wall time from launch to release in seconds.
	ExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coderun_execution_duration_seconds",
			Help:    "Execution duration",
			Buckets: ExecutionBuckets,
		},
		[]string{"language"},
	)

	// ActiveExecutions tracks executions that hold a workspace.
	ActiveExecutions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coderun_executions_active",
			Help: "Executions in flight",
		},
	)

	// WorkspaceCleanupFailures counts workspaces that could not be removed.
	WorkspaceCleanupFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coderun_workspace_cleanup_failures_total",
			Help: "Workspace removal failures",
		},
	)

	// KillFailures counts sandboxes whose forced termination reported an error.
	KillFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coderun_kill_failures_total",
			Help: "Sandbox kill failures",
		},
		[]string{"backend"},
	)

	// HTTPRequestsTotal counts REST API requests by method, route and status class.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coderun_http_requests_total",
			Help: "HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		ExecutionsTotal,
		ExecutionDuration,
		ActiveExecutions,
		WorkspaceCleanupFailures,
		KillFailures,
		HTTPRequestsTotal,
	)
}
