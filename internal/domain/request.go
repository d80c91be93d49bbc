package domain

import (
	"time"
)

// Request is a single external call into the coordination layer.
// Immutable once created.
type Request struct {
	ID          string         `json:"id"`
	CallerID    string         `json:"caller_id"`
	SessionID   string         `json:"session_id,omitempty"`
	SubmittedAt time.Time      `json:"submitted_at"`
	Payload     map[string]any `json:"payload"`
	Context     map[string]any `json:"context,omitempty"`
}

// Response is the outcome of processing a Request (or one sub-task of it).
// Produced exactly once per Request, or once per sub-task and then merged.
type Response struct {
	ID          string         `json:"id"`
	RequestID   string         `json:"request_id"`
	Success     bool           `json:"success"`
	SubmittedAt time.Time      `json:"submitted_at"`
	DurationMs  int64          `json:"duration_ms"`
	WorkerID    string         `json:"worker_id"`
	Payload     map[string]any `json:"payload,omitempty"`
	Error       string         `json:"error,omitempty"`
	Meta        *ResponseMeta  `json:"meta,omitempty"`
}

// ResponseMeta carries execution metadata attached by the coordinator.
type ResponseMeta struct {
	Classification *IntentClassification `json:"classification,omitempty"`
	WorkerIDs      []string              `json:"worker_ids,omitempty"`
	Strategy       Strategy              `json:"strategy,omitempty"`
	FanOut         int                   `json:"fan_out,omitempty"`
	CacheHit       bool                  `json:"cache_hit,omitempty"`
	WorkflowID     string                `json:"workflow_id,omitempty"`
	Usage          *UsageTotals          `json:"usage,omitempty"`
}

// UsageTotals is what an execution actually consumed, as reported by the
// worker, or summed across a workflow's tasks.
type UsageTotals struct {
	ResourceUnits int64   `json:"resource_units"`
	Cost          float64 `json:"cost"`
}

// MaxDispatchDepth is the ceiling for nested dispatch. A context whose
// depth exceeds it fails closed before any work is attempted. Depth is
// the only loop-breaker; there is no real cycle detection.
const MaxDispatchDepth = 10

// ExecutionConstraints bound what a single dispatch is allowed to consume.
// MaxExecutionTime is declared per context but enforced by the caller of
// Process (or the transport wrapping the coordinator), not internally.
type ExecutionConstraints struct {
	MaxExecutionTime time.Duration `json:"max_execution_time"`
	MaxResourceUnits int64         `json:"max_resource_units"`
	MaxCost          float64       `json:"max_cost"`
	AllowSubWorkers  bool          `json:"allow_sub_workers"`
	RetryCount       int           `json:"retry_count"`
}

// ExecutionContext threads per-request execution state through nested
// dispatches. Depth is non-decreasing along a call chain.
type ExecutionContext struct {
	RequestID      string               `json:"request_id"`
	CallerID       string               `json:"caller_id"`
	SessionID      string               `json:"session_id,omitempty"`
	ParentWorkerID string               `json:"parent_worker_id,omitempty"`
	Depth          int                  `json:"depth"`
	SharedState    map[string]any       `json:"shared_state,omitempty"`
	Constraints    ExecutionConstraints `json:"constraints"`
}

// NewExecutionContext creates the top-level context for a request.
func NewExecutionContext(req Request, constraints ExecutionConstraints) *ExecutionContext {
	return &ExecutionContext{
		RequestID:   req.ID,
		CallerID:    req.CallerID,
		SessionID:   req.SessionID,
		Depth:       0,
		SharedState: make(map[string]any),
		Constraints: constraints,
	}
}

// Child derives a context for a nested dispatch from parentWorkerID,
// incrementing depth. SharedState is shared, not copied.
func (ec *ExecutionContext) Child(parentWorkerID string) *ExecutionContext {
	child := *ec
	child.ParentWorkerID = parentWorkerID
	child.Depth = ec.Depth + 1
	return &child
}
