package domain

import "time"

// TaskStatus is the lifecycle state of a Task. Transitions only move
// forward (pending → running → completed/failed/cancelled); a task never
// re-enters running after reaching a terminal state.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// Task is one unit of a multi-worker execution plan. Created by the
// coordinator; mutated only by the executor driving it.
type Task struct {
	ID           string         `json:"id"`
	WorkerID     string         `json:"worker_id"`
	Input        map[string]any `json:"input"`
	Dependencies []string       `json:"dependencies,omitempty"`
	Priority     int            `json:"priority"`
	Status       TaskStatus     `json:"status"`
	Result       *Response      `json:"result,omitempty"`
	Error        string         `json:"error,omitempty"`
	StartedAt    time.Time      `json:"started_at,omitempty"`
	EndedAt      time.Time      `json:"ended_at,omitempty"`
}

// Strategy selects how a set of candidate workers is executed.
type Strategy string

const (
	StrategySingle     Strategy = "single"
	StrategyParallel   Strategy = "parallel"
	StrategySequential Strategy = "sequential"
)

// WorkflowStatus tracks a multi-worker workflow as a whole.
type WorkflowStatus string

const (
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowFailed    WorkflowStatus = "failed"
	WorkflowPaused    WorkflowStatus = "paused"
)

// Workflow is a coordinator-managed set of tasks with an execution plan.
type Workflow struct {
	ID        string         `json:"id"`
	RequestID string         `json:"request_id"`
	Strategy  Strategy       `json:"strategy"`
	Tasks     []*Task        `json:"tasks"`
	Status    WorkflowStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}
