package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/kaptinlin/jsonschema"

	"conductor/internal/domain"
)

// discardLogger returns a no-op logger for components created without one.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ExecuteUsage reports what a single execution actually consumed.
type ExecuteUsage struct {
	ResourceUnits int64
	Cost          float64
}

// ExecuteFunc is the worker-specific logic wrapped by BaseWorker. It
// returns the response payload and actual resource usage. Returning an
// error marks the request failed; it never propagates past Process.
type ExecuteFunc func(ctx context.Context, req domain.Request, ec *domain.ExecutionContext) (map[string]any, ExecuteUsage, error)

// defaultHealthTimeout bounds the synthetic health-check invocation.
const defaultHealthTimeout = 5 * time.Second

// BaseWorker wraps heterogeneous task-performing logic with the uniform
// worker contract: capability matching with schema validation, constraint
// checks, metrics bookkeeping, and error-to-Response translation.
type BaseWorker struct {
	execute       ExecuteFunc
	logger        *slog.Logger
	healthTimeout time.Duration

	// Compiled per-intent schemas, built once at construction.
	inputSchemas  map[string]*jsonschema.Schema
	outputSchemas map[string]*jsonschema.Schema

	mu      sync.Mutex
	meta    domain.WorkerMetadata
	metrics domain.WorkerMetrics
}

// NewBaseWorker constructs a worker from metadata and an execute function.
// Capability schemas are compiled eagerly; a malformed schema fails
// construction rather than the first request.
func NewBaseWorker(meta domain.WorkerMetadata, execute ExecuteFunc, logger *slog.Logger) (*BaseWorker, error) {
	if logger == nil {
		logger = discardLogger()
	}
	if meta.Status == "" {
		meta.Status = domain.WorkerActive
	}

	compiler := jsonschema.NewCompiler()
	in := make(map[string]*jsonschema.Schema, len(meta.Capabilities))
	out := make(map[string]*jsonschema.Schema, len(meta.Capabilities))
	for _, cap := range meta.Capabilities {
		if len(cap.InputSchema) > 0 {
			s, err := compiler.Compile(cap.InputSchema)
			if err != nil {
				return nil, fmt.Errorf("compile input schema for %q: %w", cap.Intent, err)
			}
			in[cap.Intent] = s
		}
		if len(cap.OutputSchema) > 0 {
			s, err := compiler.Compile(cap.OutputSchema)
			if err != nil {
				return nil, fmt.Errorf("compile output schema for %q: %w", cap.Intent, err)
			}
			out[cap.Intent] = s
		}
	}

	return &BaseWorker{
		execute:       execute,
		logger:        logger,
		healthTimeout: defaultHealthTimeout,
		inputSchemas:  in,
		outputSchemas: out,
		meta:          meta,
	}, nil
}

// Metadata implements domain.Worker.
func (w *BaseWorker) Metadata() domain.WorkerMetadata {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.meta
}

// Metrics implements domain.Worker.
func (w *BaseWorker) Metrics() domain.WorkerMetrics {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.metrics
}

// UpdateStatus implements domain.Worker.
func (w *BaseWorker) UpdateStatus(status domain.WorkerStatus) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.meta.Status = status
}

// ResetMetrics implements domain.Worker. Only registry cleanup calls this.
func (w *BaseWorker) ResetMetrics() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.metrics = domain.WorkerMetrics{}
}

// CanHandle implements domain.Worker. A schema validation failure on the
// supplied input means not capable, independent of the intent match.
func (w *BaseWorker) CanHandle(intent string, input map[string]any) domain.CapabilityMatch {
	w.mu.Lock()
	caps := w.meta.Capabilities
	w.mu.Unlock()

	for _, cap := range caps {
		if cap.Intent != intent {
			continue
		}
		if input != nil {
			if s, ok := w.inputSchemas[intent]; ok {
				if result := s.Validate(input); !result.IsValid() {
					return domain.CapabilityMatch{Capable: false}
				}
			}
		}
		return domain.CapabilityMatch{Capable: true, Confidence: cap.Confidence, Intent: intent}
	}
	return domain.CapabilityMatch{Capable: false}
}

// Process implements domain.Worker. Constraint violations fail fast with
// a typed error before any work; everything the execute function raises
// is translated into a Response{Success:false} so that no failure escapes
// the worker boundary as a panic or stray error.
func (w *BaseWorker) Process(ctx context.Context, req domain.Request, ec *domain.ExecutionContext) (*domain.Response, error) {
	meta := w.Metadata()
	op := "Worker.Process(" + meta.ID + ")"

	if err := w.checkConstraints(ec, meta); err != nil {
		return nil, err
	}

	if intent := intentOf(req); intent != "" {
		if s, ok := w.inputSchemas[intent]; ok {
			if result := s.Validate(req.Payload); !result.IsValid() {
				return nil, domain.NewDomainError(op, domain.ErrSchemaValidation, result.Error())
			}
		}
	}

	w.mu.Lock()
	w.metrics.TotalRequests++
	w.mu.Unlock()

	start := time.Now()
	payload, usage, err := w.runExecute(ctx, req, ec)
	elapsed := time.Since(start)

	resp := &domain.Response{
		ID:          NewID(),
		RequestID:   req.ID,
		SubmittedAt: start,
		DurationMs:  elapsed.Milliseconds(),
		WorkerID:    meta.ID,
		Meta: &domain.ResponseMeta{
			Usage: &domain.UsageTotals{ResourceUnits: usage.ResourceUnits, Cost: usage.Cost},
		},
	}

	if err != nil {
		resp.Success = false
		resp.Error = err.Error()
		w.logger.Debug("worker execution failed", "worker_id", meta.ID, "request_id", req.ID, "error", err)
	} else {
		if intent := intentOf(req); intent != "" {
			if s, ok := w.outputSchemas[intent]; ok {
				if result := s.Validate(payload); !result.IsValid() {
					w.recordOutcome(false, elapsed, usage)
					return nil, domain.NewDomainError(op, domain.ErrSchemaValidation,
						"output: "+result.Error())
				}
			}
		}
		resp.Success = true
		resp.Payload = payload
	}

	w.recordOutcome(resp.Success, elapsed, usage)

	// A failed response without error detail is a contract violation,
	// raised instead of returned.
	if !resp.Success && resp.Error == "" {
		return nil, domain.NewDomainError(op, domain.ErrContractViolation, "")
	}
	return resp, nil
}

// checkConstraints enforces the depth ceiling and budget sufficiency
// before any work is attempted.
func (w *BaseWorker) checkConstraints(ec *domain.ExecutionContext, meta domain.WorkerMetadata) error {
	op := "Worker.Process(" + meta.ID + ")"
	if ec == nil {
		return domain.NewWorkerError(op, domain.ErrInvalidInput, "nil execution context", false)
	}
	if ec.Depth > domain.MaxDispatchDepth {
		return domain.NewWorkerError(op, domain.ErrDepthExceeded,
			fmt.Sprintf("depth %d exceeds ceiling %d", ec.Depth, domain.MaxDispatchDepth), false)
	}
	c := ec.Constraints
	if c.MaxResourceUnits > 0 && meta.Requirements.EstimatedUnits > c.MaxResourceUnits {
		return domain.NewWorkerError(op, domain.ErrBudgetExceeded,
			fmt.Sprintf("needs %d units, budget %d", meta.Requirements.EstimatedUnits, c.MaxResourceUnits), false)
	}
	if c.MaxCost > 0 && meta.Requirements.EstimatedCost > c.MaxCost {
		return domain.NewWorkerError(op, domain.ErrBudgetExceeded,
			fmt.Sprintf("needs %.4f cost, budget %.4f", meta.Requirements.EstimatedCost, c.MaxCost), false)
	}
	return nil
}

// runExecute invokes the wrapped logic, converting panics into errors so
// they never cross the worker boundary.
func (w *BaseWorker) runExecute(ctx context.Context, req domain.Request, ec *domain.ExecutionContext) (payload map[string]any, usage ExecuteUsage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", domain.ErrWorkerFailed, r)
		}
	}()
	return w.execute(ctx, req, ec)
}

// recordOutcome updates the running counters after a processed request.
// The running means use avg' = (avg*(n-1) + sample) / n.
func (w *BaseWorker) recordOutcome(success bool, elapsed time.Duration, usage ExecuteUsage) {
	w.mu.Lock()
	defer w.mu.Unlock()

	m := &w.metrics
	if success {
		m.SuccessfulRequests++
	} else {
		m.FailedRequests++
	}

	n := float64(m.SuccessfulRequests + m.FailedRequests)
	sample := float64(elapsed.Milliseconds())
	m.AverageLatencyMs = (m.AverageLatencyMs*(n-1) + sample) / n
	m.AverageResourceUnits = (m.AverageResourceUnits*(n-1) + float64(usage.ResourceUnits)) / n
	m.TotalCost += usage.Cost
	m.ErrorRate = float64(m.FailedRequests) / n
	m.LastActivity = time.Now()
}

// HealthCheck implements domain.Worker: a synthetic minimal invocation of
// the first declared capability. Healthy iff it returns non-empty output
// within the bounded time.
func (w *BaseWorker) HealthCheck(ctx context.Context) domain.HealthStatus {
	meta := w.Metadata()
	if len(meta.Capabilities) == 0 {
		return domain.HealthStatus{Healthy: false, Details: "no capabilities declared"}
	}

	ctx, cancel := context.WithTimeout(ctx, w.healthTimeout)
	defer cancel()

	cap := meta.Capabilities[0]
	probe := domain.Request{
		ID:          NewID(),
		CallerID:    "healthcheck",
		SubmittedAt: time.Now(),
		Payload:     probePayload(cap),
	}
	ec := domain.NewExecutionContext(probe, domain.ExecutionConstraints{})

	payload, _, err := w.runExecute(ctx, probe, ec)
	if err != nil {
		return domain.HealthStatus{Healthy: false, Details: err.Error()}
	}
	if len(payload) == 0 {
		return domain.HealthStatus{Healthy: false, Details: "empty probe output"}
	}
	return domain.HealthStatus{Healthy: true}
}

// probePayload builds a minimal synthetic input for a capability, using
// its first example when one exists.
func probePayload(cap domain.Capability) map[string]any {
	p := map[string]any{"intent": cap.Intent, "probe": true}
	if len(cap.Examples) > 0 {
		p["example"] = cap.Examples[0]
	}
	return p
}

// intentOf extracts the request's declared intent from its payload, under
// either the "intent" or "type" key. Empty when the payload carries none.
func intentOf(req domain.Request) string {
	for _, key := range []string{"intent", "type"} {
		if v, ok := req.Payload[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// Compile-time interface check.
var _ domain.Worker = (*BaseWorker)(nil)
