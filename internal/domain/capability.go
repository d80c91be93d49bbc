package domain

import (
	"encoding/json"
	"time"
)

// Capability is one (intent, schema, confidence) triple a worker supports.
// Declared statically at worker construction; immutable afterwards, and
// Confidence is stable for the lifetime of the worker.
type Capability struct {
	Intent       string          `json:"intent"`
	Description  string          `json:"description"`
	InputSchema  json.RawMessage `json:"input_schema"`
	OutputSchema json.RawMessage `json:"output_schema"`
	Confidence   float64         `json:"confidence"` // in [0,1]
	Examples     []string        `json:"examples,omitempty"`
}

// CapabilityMatch is the result of asking a worker whether it can handle
// an intent (and, optionally, a concrete input).
type CapabilityMatch struct {
	Capable    bool    `json:"capable"`
	Confidence float64 `json:"confidence"`
	Intent     string  `json:"intent,omitempty"`
}

// WorkerStatus is the registry-visible availability of a worker.
type WorkerStatus string

const (
	WorkerActive      WorkerStatus = "active"
	WorkerInactive    WorkerStatus = "inactive"
	WorkerMaintenance WorkerStatus = "maintenance"
	WorkerError       WorkerStatus = "error"
)

// ResourceRequirements declares what a worker expects per invocation.
type ResourceRequirements struct {
	EstimatedUnits int64   `json:"estimated_units,omitempty"`
	EstimatedCost  float64 `json:"estimated_cost,omitempty"`
}

// WorkerMetadata describes a registered worker. Status is mutated only
// via the worker's UpdateStatus.
type WorkerMetadata struct {
	ID           string               `json:"id"`
	Name         string               `json:"name"`
	Category     string               `json:"category"`
	Capabilities []Capability         `json:"capabilities"`
	Requirements ResourceRequirements `json:"requirements"`
	Status       WorkerStatus         `json:"status"`
}

// WorkerMetrics is a point-in-time snapshot of a worker's running
// counters. The live counters are owned exclusively by the worker
// instance and updated after every processed request; they reset only on
// registry cleanup.
type WorkerMetrics struct {
	TotalRequests        int64     `json:"total_requests"`
	SuccessfulRequests   int64     `json:"successful_requests"`
	FailedRequests       int64     `json:"failed_requests"`
	AverageLatencyMs     float64   `json:"average_latency_ms"`
	AverageResourceUnits float64   `json:"average_resource_units"`
	TotalCost            float64   `json:"total_cost"`
	ErrorRate            float64   `json:"error_rate"`
	LastActivity         time.Time `json:"last_activity"`
}
