package usecase

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"conductor/internal/domain"
	"conductor/internal/infra/tracer"
)

// CoordinatorConfig tunes strategy selection and default constraints.
type CoordinatorConfig struct {
	// HighConfidence is the classifier confidence above which a single
	// worker is trusted and multi-worker coordination is skipped.
	HighConfidence float64 `yaml:"high_confidence"`
	// SecondaryThreshold is the minimum confidence for a secondary
	// intent to widen the candidate search.
	SecondaryThreshold float64 `yaml:"secondary_threshold"`
	// MaxCandidates caps the selected worker list to bound fan-out.
	MaxCandidates int `yaml:"max_candidates"`
	// CostPerUnit converts estimated resource units into cost for quota
	// accounting.
	CostPerUnit float64 `yaml:"cost_per_unit"`
	// Constraints applied to every top-level request.
	Constraints domain.ExecutionConstraints `yaml:"constraints"`
}

const (
	defaultHighConfidence     = 0.9
	defaultSecondaryThreshold = 0.5
	defaultMaxCandidates      = 3
)

// Coordinator is the top-level entry point: it classifies a request's
// intent, discovers capable workers, picks an execution strategy, runs
// it, and aggregates the result. Classification, selection, and
// execution failures are distinct terminal errors; nothing is retried
// here — retry policy belongs to the caller.
type Coordinator struct {
	registry   *Registry
	classifier *IntentClassifier
	quota      *QuotaEnforcer  // optional
	cache      *ResultCache    // optional
	estimator  *TokenEstimator // optional
	bus        domain.EventBus // optional
	cfg        CoordinatorConfig
	logger     *slog.Logger

	mu        sync.RWMutex
	workflows map[string]*domain.Workflow
}

// NewCoordinator wires the coordinator. Quota, cache, estimator, and bus
// are optional; pass nil to disable each concern.
func NewCoordinator(
	registry *Registry,
	classifier *IntentClassifier,
	quota *QuotaEnforcer,
	cache *ResultCache,
	estimator *TokenEstimator,
	bus domain.EventBus,
	cfg CoordinatorConfig,
	logger *slog.Logger,
) *Coordinator {
	if cfg.HighConfidence <= 0 {
		cfg.HighConfidence = defaultHighConfidence
	}
	if cfg.SecondaryThreshold <= 0 {
		cfg.SecondaryThreshold = defaultSecondaryThreshold
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = defaultMaxCandidates
	}
	if logger == nil {
		logger = discardLogger()
	}
	return &Coordinator{
		registry:   registry,
		classifier: classifier,
		quota:      quota,
		cache:      cache,
		estimator:  estimator,
		bus:        bus,
		cfg:        cfg,
		logger:     logger,
		workflows:  make(map[string]*domain.Workflow),
	}
}

// Dispatch routes one request end to end: quota gate, memoizer lookup,
// classify, select, strategize, execute, aggregate.
func (c *Coordinator) Dispatch(ctx context.Context, req domain.Request) (*domain.Response, error) {
	if req.ID == "" {
		req.ID = NewID()
	}
	if req.SubmittedAt.IsZero() {
		req.SubmittedAt = time.Now()
	}
	ctx = domain.ContextWithRequestID(ctx, req.ID)

	ctx, span := tracer.StartSpan(ctx, "coordinator.dispatch",
		trace.WithAttributes(
			tracer.StringAttr("request.id", req.ID),
			tracer.StringAttr("request.caller", req.CallerID),
		),
	)
	defer span.End()

	c.publish(domain.EventRequestReceived, req.ID, nil)

	estimatedUnits := int64(0)
	if c.estimator != nil {
		estimatedUnits = c.estimator.EstimateUnits(req.Payload)
	}
	estimatedCost := float64(estimatedUnits) * c.cfg.CostPerUnit

	if c.quota != nil {
		decision := c.quota.Check(ctx, req.CallerID, estimatedUnits, estimatedCost)
		if !decision.Allowed {
			c.publish(domain.EventQuotaDenied, req.ID, map[string]any{
				"caller":     req.CallerID,
				"limit_type": decision.LimitType,
				"reset_at":   decision.ResetAt,
			})
			err := domain.NewCoordinationError(domain.PhaseCoordination, "Coordinator.Dispatch",
				domain.ErrQuotaExceeded, string(decision.LimitType))
			tracer.RecordError(span, err)
			return nil, err
		}
	}

	if c.cache != nil {
		if cached, ok := c.cache.Get(ctx, req); ok {
			cached.RequestID = req.ID
			if cached.Meta == nil {
				cached.Meta = &domain.ResponseMeta{}
			}
			cached.Meta.CacheHit = true
			span.SetAttributes(tracer.StringAttr("cache", "hit"))
			c.publish(domain.EventRequestCached, req.ID, nil)
			return cached, nil
		}
	}

	resp, err := c.dispatchUncached(ctx, req)
	if err != nil {
		tracer.RecordError(span, err)
		c.publish(domain.EventRequestFailed, req.ID, map[string]any{"error": err.Error()})
		c.recordQuota(ctx, req.CallerID, estimatedUnits, estimatedCost, false)
		return nil, err
	}

	// Estimates only gate admission; committed usage follows what the
	// workers report they actually consumed.
	actualUnits, actualCost := estimatedUnits, estimatedCost
	if resp.Meta != nil && resp.Meta.Usage != nil {
		actualUnits = resp.Meta.Usage.ResourceUnits
		actualCost = resp.Meta.Usage.Cost
	}
	c.recordQuota(ctx, req.CallerID, actualUnits, actualCost, resp.Success)

	if c.cache != nil {
		if err := c.cache.Set(ctx, req, resp); err != nil {
			c.logger.Warn("memoize failed", "request_id", req.ID, "error", err)
		}
	}

	tracer.SetOK(span)
	c.publish(domain.EventRequestCompleted, req.ID, map[string]any{"success": resp.Success})
	return resp, nil
}

// dispatchUncached is the classify → select → strategize → execute →
// aggregate pipeline, strictly in program order.
func (c *Coordinator) dispatchUncached(ctx context.Context, req domain.Request) (*domain.Response, error) {
	classification, err := c.classifier.Classify(ctx, req)
	if err != nil {
		return nil, err
	}

	matches := c.selectWorkers(classification, req.Payload)
	if len(matches) == 0 {
		return nil, domain.NewCoordinationError(domain.PhaseSelection, "Coordinator.Dispatch",
			domain.ErrNoCapableWorker, classification.PrimaryIntent.Name)
	}

	strategy := c.determineStrategy(classification, matches, req)
	c.logger.Debug("strategy selected",
		"request_id", req.ID,
		"strategy", string(strategy),
		"candidates", len(matches),
		"intent", classification.PrimaryIntent.Name,
	)

	ec := domain.NewExecutionContext(req, c.cfg.Constraints)
	resp, workflowID, err := c.execute(ctx, req, ec, strategy, matches)
	if err != nil {
		return nil, err
	}

	workerIDs := make([]string, len(matches))
	for i, m := range matches {
		workerIDs[i] = m.Worker.Metadata().ID
	}
	if resp.Meta == nil {
		resp.Meta = &domain.ResponseMeta{}
	}
	resp.Meta.Classification = classification
	resp.Meta.WorkerIDs = workerIDs
	resp.Meta.Strategy = strategy
	resp.Meta.WorkflowID = workflowID
	return resp, nil
}

// selectWorkers queries the registry for the primary intent, widens by
// qualifying secondary intents (max confidence per worker, union of
// matched labels), sorts by combined confidence, and caps the list.
func (c *Coordinator) selectWorkers(classification *domain.IntentClassification, input map[string]any) []WorkerMatch {
	merged := make(map[string]*WorkerMatch)
	var order []string

	absorb := func(matches []WorkerMatch) {
		for _, m := range matches {
			id := m.Worker.Metadata().ID
			existing, ok := merged[id]
			if !ok {
				copied := m
				merged[id] = &copied
				order = append(order, id)
				continue
			}
			if m.Confidence > existing.Confidence {
				existing.Confidence = m.Confidence
			}
			existing.Intents = unionLabels(existing.Intents, m.Intents)
		}
	}

	absorb(c.registry.FindWorkersForIntent(classification.PrimaryIntent.Name, input))
	for _, secondary := range classification.SecondaryIntents {
		if secondary.Confidence <= c.cfg.SecondaryThreshold {
			continue
		}
		absorb(c.registry.FindWorkersForIntent(secondary.Name, input))
	}

	selected := make([]WorkerMatch, 0, len(order))
	for _, id := range order {
		selected = append(selected, *merged[id])
	}
	sortMatches(selected)

	if len(selected) > c.cfg.MaxCandidates {
		selected = selected[:c.cfg.MaxCandidates]
	}
	return selected
}

// determineStrategy picks the execution mode. Sequential is a supported
// mode but the default rule never chooses it; it runs only on an explicit
// per-request override.
func (c *Coordinator) determineStrategy(classification *domain.IntentClassification, matches []WorkerMatch, req domain.Request) domain.Strategy {
	if override, ok := req.Context["strategy"].(string); ok {
		switch domain.Strategy(override) {
		case domain.StrategySingle, domain.StrategyParallel, domain.StrategySequential:
			return domain.Strategy(override)
		}
	}

	if len(matches) == 1 {
		return domain.StrategySingle
	}
	if classification.PrimaryIntent.Confidence > c.cfg.HighConfidence {
		// The classifier is trusted enough that fan-out is overhead.
		return domain.StrategySingle
	}

	labels := make(map[string]bool)
	for _, m := range matches {
		for _, intent := range m.Intents {
			labels[intent] = true
		}
	}
	if len(labels) > 1 {
		return domain.StrategyParallel
	}
	return domain.StrategySingle
}

// CancelWorkflow marks a tracked workflow paused and flips its running
// tasks to cancelled. Cancellation is advisory: in-flight worker calls
// run to completion and their results are discarded.
func (c *Coordinator) CancelWorkflow(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	wf, ok := c.workflows[id]
	if !ok {
		return domain.NewDomainError("Coordinator.CancelWorkflow", domain.ErrNotFound, id)
	}
	wf.Status = domain.WorkflowPaused
	wf.UpdatedAt = time.Now()
	for _, task := range wf.Tasks {
		if task.Status == domain.TaskRunning || task.Status == domain.TaskPending {
			task.Status = domain.TaskCancelled
			task.EndedAt = time.Now()
		}
	}
	c.publish(domain.EventWorkflowCancelled, wf.RequestID, map[string]any{"workflow_id": id})
	return nil
}

// GetWorkflow returns a tracked workflow, or ErrNotFound.
func (c *Coordinator) GetWorkflow(id string) (*domain.Workflow, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	wf, ok := c.workflows[id]
	if !ok {
		return nil, domain.NewDomainError("Coordinator.GetWorkflow", domain.ErrNotFound, id)
	}
	return wf, nil
}

// PruneWorkflows drops finished workflows older than the given age and
// returns how many were removed.
func (c *Coordinator) PruneWorkflows(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)

	c.mu.Lock()
	defer c.mu.Unlock()

	pruned := 0
	for id, wf := range c.workflows {
		if wf.Status == domain.WorkflowRunning {
			continue
		}
		if wf.UpdatedAt.Before(cutoff) {
			delete(c.workflows, id)
			pruned++
		}
	}
	return pruned
}

func (c *Coordinator) recordQuota(ctx context.Context, caller string, units int64, cost float64, success bool) {
	if c.quota == nil {
		return
	}
	if err := c.quota.Record(ctx, caller, units, cost, success); err != nil {
		c.logger.Warn("quota record failed", "caller", caller, "error", err)
	}
}

func (c *Coordinator) publish(eventType domain.EventType, requestID string, payload map[string]any) {
	if c.bus == nil {
		return
	}
	var raw json.RawMessage
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			raw = data
		}
	}
	c.bus.Publish(context.Background(), domain.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		RequestID: requestID,
		Payload:   raw,
	})
}

// unionLabels merges two label sets preserving first-seen order.
func unionLabels(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	out := append([]string(nil), a...)
	for _, label := range a {
		seen[label] = true
	}
	for _, label := range b {
		if !seen[label] {
			seen[label] = true
			out = append(out, label)
		}
	}
	return out
}

// sortMatches orders by descending confidence, keeping the existing order
// for equal confidence.
func sortMatches(matches []WorkerMatch) {
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Confidence > matches[j].Confidence
	})
}
