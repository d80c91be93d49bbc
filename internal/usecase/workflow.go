package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"conductor/internal/domain"
)

// execute drives the chosen strategy. Single dispatch is untracked;
// parallel and sequential runs are tracked as workflows so they can be
// observed and cancelled.
func (c *Coordinator) execute(
	ctx context.Context,
	req domain.Request,
	ec *domain.ExecutionContext,
	strategy domain.Strategy,
	matches []WorkerMatch,
) (*domain.Response, string, error) {
	switch strategy {
	case domain.StrategyParallel:
		wf := c.trackWorkflow(req, strategy, matches)
		resp, err := c.runParallel(ctx, req, ec, wf, matches)
		return resp, wf.ID, err
	case domain.StrategySequential:
		wf := c.trackWorkflow(req, strategy, matches)
		resp, err := c.runSequential(ctx, req, ec, wf, matches)
		return resp, wf.ID, err
	default:
		resp, err := c.runSingle(ctx, req, ec, matches[0])
		return resp, "", err
	}
}

// runSingle invokes the highest-confidence worker once and propagates its
// response directly, including well-formed failures.
func (c *Coordinator) runSingle(ctx context.Context, req domain.Request, ec *domain.ExecutionContext, match WorkerMatch) (*domain.Response, error) {
	resp, err := match.Worker.Process(ctx, req, ec)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// trackWorkflow registers a new multi-worker workflow with one pending
// task per selected worker.
func (c *Coordinator) trackWorkflow(req domain.Request, strategy domain.Strategy, matches []WorkerMatch) *domain.Workflow {
	now := time.Now()
	wf := &domain.Workflow{
		ID:        NewID(),
		RequestID: req.ID,
		Strategy:  strategy,
		Status:    domain.WorkflowRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, m := range matches {
		wf.Tasks = append(wf.Tasks, &domain.Task{
			ID:       NewID(),
			WorkerID: m.Worker.Metadata().ID,
			Input:    req.Payload,
			Status:   domain.TaskPending,
		})
	}

	c.mu.Lock()
	c.workflows[wf.ID] = wf
	c.mu.Unlock()

	c.publish(domain.EventWorkflowStarted, req.ID, map[string]any{
		"workflow_id": wf.ID,
		"strategy":    string(strategy),
		"tasks":       len(wf.Tasks),
	})
	return wf
}

// transitionTask advances a task's status under the coordinator lock.
// Only forward transitions are applied; it returns false when the task
// has already reached a terminal state (e.g. cancelled mid-flight), in
// which case the caller discards its result.
func (c *Coordinator) transitionTask(task *domain.Task, to domain.TaskStatus) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if task.Status.Terminal() {
		return false
	}
	switch to {
	case domain.TaskRunning:
		if task.Status != domain.TaskPending {
			return false
		}
		task.Status = domain.TaskRunning
		task.StartedAt = time.Now()
	case domain.TaskCompleted, domain.TaskFailed, domain.TaskCancelled:
		task.Status = to
		task.EndedAt = time.Now()
	default:
		return false
	}
	return true
}

// finishWorkflow records the workflow's terminal status.
func (c *Coordinator) finishWorkflow(wf *domain.Workflow, status domain.WorkflowStatus) {
	c.mu.Lock()
	// A cancelled workflow stays paused; do not overwrite.
	if wf.Status == domain.WorkflowRunning {
		wf.Status = status
		wf.UpdatedAt = time.Now()
	}
	finalStatus := wf.Status
	c.mu.Unlock()

	eventType := domain.EventWorkflowCompleted
	if finalStatus == domain.WorkflowFailed {
		eventType = domain.EventWorkflowFailed
	}
	if finalStatus != domain.WorkflowPaused {
		c.publish(eventType, wf.RequestID, map[string]any{"workflow_id": wf.ID})
	}
}

// runParallel launches every task at once and waits for all to settle;
// one slow worker never blocks the others from starting, and a failure
// never aborts its siblings. Successful payloads merge via shallow union
// (later task order wins on key collision). All tasks failing is a
// terminal coordination error.
func (c *Coordinator) runParallel(ctx context.Context, req domain.Request, ec *domain.ExecutionContext, wf *domain.Workflow, matches []WorkerMatch) (*domain.Response, error) {
	start := time.Now()
	results := make([]*domain.Response, len(wf.Tasks))

	var wg sync.WaitGroup
	for i, task := range wf.Tasks {
		if !c.transitionTask(task, domain.TaskRunning) {
			continue
		}
		wg.Add(1)
		go func(idx int, task *domain.Task, worker domain.Worker) {
			defer wg.Done()

			taskReq := req
			taskReq.Payload = task.Input
			resp, err := worker.Process(ctx, taskReq, ec)

			switch {
			case err != nil:
				if c.transitionTask(task, domain.TaskFailed) {
					c.setTaskError(task, err.Error())
				}
			case !resp.Success:
				if c.transitionTask(task, domain.TaskFailed) {
					c.setTaskError(task, resp.Error)
					c.setTaskResult(task, resp)
				}
			default:
				// Cancelled mid-flight: the call ran to completion but
				// its result is discarded.
				if c.transitionTask(task, domain.TaskCompleted) {
					c.setTaskResult(task, resp)
					results[idx] = resp
				}
			}
		}(i, task, matches[i].Worker)
	}
	wg.Wait()

	merged := make(map[string]any)
	var workerID string
	var failures []string
	succeeded := 0
	for i, resp := range results {
		if resp == nil {
			failures = append(failures, fmt.Sprintf("%s: %s", wf.Tasks[i].WorkerID, taskFailureDetail(wf.Tasks[i])))
			continue
		}
		succeeded++
		if workerID == "" {
			workerID = resp.WorkerID
		}
		for k, v := range resp.Payload {
			merged[k] = v
		}
	}

	if succeeded == 0 {
		c.finishWorkflow(wf, domain.WorkflowFailed)
		return nil, domain.NewCoordinationError(domain.PhaseExecution, "Coordinator.Dispatch",
			domain.ErrAllTasksFailed, strings.Join(failures, "; "))
	}

	c.finishWorkflow(wf, domain.WorkflowCompleted)
	return &domain.Response{
		ID:          NewID(),
		RequestID:   req.ID,
		Success:     true,
		SubmittedAt: start,
		DurationMs:  time.Since(start).Milliseconds(),
		WorkerID:    workerID,
		Payload:     merged,
		Meta: &domain.ResponseMeta{
			FanOut: len(wf.Tasks),
			Usage:  c.sumTaskUsage(wf),
		},
	}, nil
}

// sumTaskUsage totals reported usage across every task result in the
// workflow, failed tasks included: their workers consumed resources too.
func (c *Coordinator) sumTaskUsage(wf *domain.Workflow) *domain.UsageTotals {
	total := &domain.UsageTotals{}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, task := range wf.Tasks {
		if task.Result == nil || task.Result.Meta == nil || task.Result.Meta.Usage == nil {
			continue
		}
		total.ResourceUnits += task.Result.Meta.Usage.ResourceUnits
		total.Cost += task.Result.Meta.Usage.Cost
	}
	return total
}

// runSequential invokes workers in order, threading each worker's output
// into the next input as previous_result. Any failure aborts the rest of
// the chain and surfaces that failure.
func (c *Coordinator) runSequential(ctx context.Context, req domain.Request, ec *domain.ExecutionContext, wf *domain.Workflow, matches []WorkerMatch) (*domain.Response, error) {
	var previous *domain.Response

	for i, task := range wf.Tasks {
		if !c.transitionTask(task, domain.TaskRunning) {
			c.finishWorkflow(wf, domain.WorkflowFailed)
			return nil, domain.NewCoordinationError(domain.PhaseExecution, "Coordinator.Dispatch",
				domain.ErrAllTasksFailed, "workflow cancelled before task "+task.ID)
		}

		input := make(map[string]any, len(task.Input)+1)
		for k, v := range task.Input {
			input[k] = v
		}
		if previous != nil {
			input["previous_result"] = previous.Payload
		}

		taskReq := req
		taskReq.Payload = input
		resp, err := matches[i].Worker.Process(ctx, taskReq, ec)
		if err != nil {
			if c.transitionTask(task, domain.TaskFailed) {
				c.setTaskError(task, err.Error())
			}
			c.finishWorkflow(wf, domain.WorkflowFailed)
			return nil, err
		}
		if !resp.Success {
			if c.transitionTask(task, domain.TaskFailed) {
				c.setTaskError(task, resp.Error)
				c.setTaskResult(task, resp)
			}
			c.finishWorkflow(wf, domain.WorkflowFailed)
			c.annotateUsage(resp, wf)
			return resp, nil
		}

		if !c.transitionTask(task, domain.TaskCompleted) {
			c.finishWorkflow(wf, domain.WorkflowFailed)
			return nil, domain.NewCoordinationError(domain.PhaseExecution, "Coordinator.Dispatch",
				domain.ErrAllTasksFailed, "workflow cancelled during task "+task.ID)
		}
		c.setTaskResult(task, resp)
		previous = resp
	}

	c.finishWorkflow(wf, domain.WorkflowCompleted)
	c.annotateUsage(previous, wf)
	return previous, nil
}

// annotateUsage replaces a chain response's own usage with the totals
// consumed across the whole workflow.
func (c *Coordinator) annotateUsage(resp *domain.Response, wf *domain.Workflow) {
	if resp.Meta == nil {
		resp.Meta = &domain.ResponseMeta{}
	}
	resp.Meta.Usage = c.sumTaskUsage(wf)
}

func (c *Coordinator) setTaskResult(task *domain.Task, resp *domain.Response) {
	c.mu.Lock()
	task.Result = resp
	c.mu.Unlock()
}

func (c *Coordinator) setTaskError(task *domain.Task, detail string) {
	c.mu.Lock()
	task.Error = detail
	c.mu.Unlock()
}

func taskFailureDetail(task *domain.Task) string {
	if task.Error != "" {
		return task.Error
	}
	return string(task.Status)
}
