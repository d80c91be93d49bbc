package domain

import "context"

// HealthStatus is the result of a worker health probe.
type HealthStatus struct {
	Healthy bool   `json:"healthy"`
	Details string `json:"details,omitempty"`
}

// Worker is the contract every task-performing unit implements. Process
// must never let an internal failure escape as an error for expected
// failure modes; those come back as Response{Success:false, Error:...}.
type Worker interface {
	// Metadata returns the worker's descriptor. Capabilities are fixed
	// at construction.
	Metadata() WorkerMetadata
	// Metrics returns a snapshot of the worker's running counters.
	Metrics() WorkerMetrics
	// CanHandle reports whether a declared capability matches intent.
	// When input is non-nil it must additionally satisfy the matched
	// capability's input schema; a schema failure means not capable
	// regardless of the intent match.
	CanHandle(intent string, input map[string]any) CapabilityMatch
	// Process runs the worker against a request under the given
	// execution context.
	Process(ctx context.Context, req Request, ec *ExecutionContext) (*Response, error)
	// HealthCheck performs a synthetic minimal invocation of the
	// underlying capability within a bounded time.
	HealthCheck(ctx context.Context) HealthStatus
	// UpdateStatus transitions the worker's registry-visible status.
	UpdateStatus(status WorkerStatus)
	// ResetMetrics clears the running counters (registry cleanup only).
	ResetMetrics()
}
