// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for the kernel's externally visible operations: request
// execution, job lifecycle transitions, and workspace I/O.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// REQUEST EXECUTION METRICS
// =============================================================================

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "esrp_requests_total",
			Help: "Total number of ESRP requests executed",
		},
		[]string{"service", "operation", "status"}, // status: succeeded, failed, accepted
	)

	requestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "esrp_request_duration_seconds",
			Help:    "ESRP request execution duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"service", "operation"},
	)
)

// =============================================================================
// IDEMPOTENCY CACHE METRICS
// =============================================================================

var (
	idempotencyLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "esrp_idempotency_lookups_total",
			Help: "Total idempotency cache lookups",
		},
		[]string{"outcome"}, // outcome: hit, miss
	)
)

// =============================================================================
// JOB LIFECYCLE METRICS
// =============================================================================

var (
	jobTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "esrp_job_transitions_total",
			Help: "Total job state machine transitions",
		},
		[]string{"from", "to"},
	)

	jobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "esrp_jobs_active",
			Help: "Number of jobs currently in a non-terminal state",
		},
		[]string{"state"},
	)
)

// =============================================================================
// WORKSPACE I/O METRICS
// =============================================================================

var (
	workspaceOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "esrp_workspace_operations_total",
			Help: "Total workspace provider operations",
		},
		[]string{"operation", "status"}, // operation: store, retrieve, delete; status: ok, error
	)

	workspaceBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "esrp_workspace_bytes_total",
			Help: "Total bytes written or read through the workspace provider",
		},
		[]string{"operation"},
	)
)

// =============================================================================
// PUBLIC API
// =============================================================================

// RecordRequest records a completed request's status and duration.
func RecordRequest(service, operation, status string, durationSeconds float64) {
	requestsTotal.WithLabelValues(service, operation, status).Inc()
	requestDurationSeconds.WithLabelValues(service, operation).Observe(durationSeconds)
}

// RecordIdempotencyLookup records whether an idempotency cache lookup hit
// or missed.
func RecordIdempotencyLookup(hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	idempotencyLookupsTotal.WithLabelValues(outcome).Inc()
}

// RecordJobTransition records a job state machine transition.
func RecordJobTransition(from, to string) {
	jobTransitionsTotal.WithLabelValues(from, to).Inc()
}

// SetJobsActive sets the current gauge value for jobs in state.
func SetJobsActive(state string, count float64) {
	jobsActive.WithLabelValues(state).Set(count)
}

// RecordWorkspaceOp records a workspace provider operation outcome and,
// when relevant, the number of bytes moved.
func RecordWorkspaceOp(operation, status string, bytes int) {
	workspaceOpsTotal.WithLabelValues(operation, status).Inc()
	if bytes > 0 {
		workspaceBytesTotal.WithLabelValues(operation).Add(float64(bytes))
	}
}
