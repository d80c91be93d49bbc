package domain

import (
	"context"
	"testing"
	"time"
)

func TestNewExecutionContext(t *testing.T) {
	req := Request{
		ID:          "req-1",
		CallerID:    "caller-1",
		SessionID:   "sess-1",
		SubmittedAt: time.Now(),
	}
	constraints := ExecutionConstraints{MaxResourceUnits: 100}

	ec := NewExecutionContext(req, constraints)
	if ec.RequestID != "req-1" || ec.CallerID != "caller-1" || ec.SessionID != "sess-1" {
		t.Errorf("identity = %+v", ec)
	}
	if ec.Depth != 0 {
		t.Errorf("Depth = %d, want 0", ec.Depth)
	}
	if ec.Constraints.MaxResourceUnits != 100 {
		t.Errorf("Constraints = %+v", ec.Constraints)
	}
	if ec.SharedState == nil {
		t.Error("SharedState must be initialized")
	}
}

func TestExecutionContextChild(t *testing.T) {
	req := Request{ID: "req-1", CallerID: "caller-1"}
	parent := NewExecutionContext(req, ExecutionConstraints{})
	parent.SharedState["seen"] = true

	child := parent.Child("worker-a")
	if child.Depth != 1 {
		t.Errorf("child depth = %d, want 1", child.Depth)
	}
	if child.ParentWorkerID != "worker-a" {
		t.Errorf("ParentWorkerID = %q", child.ParentWorkerID)
	}
	if parent.Depth != 0 {
		t.Error("deriving a child must not mutate the parent")
	}

	grandchild := child.Child("worker-b")
	if grandchild.Depth != 2 {
		t.Errorf("grandchild depth = %d, want 2", grandchild.Depth)
	}

	// SharedState is shared along the chain, not copied.
	grandchild.SharedState["added"] = 1
	if parent.SharedState["added"] != 1 {
		t.Error("SharedState must be shared with descendants")
	}
	if parent.SharedState["seen"] != true {
		t.Error("SharedState lost existing entries")
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := context.Background()
	if got := RequestIDFromContext(ctx); got != "" {
		t.Errorf("empty context: got %q", got)
	}

	ctx = ContextWithRequestID(ctx, "req-42")
	if got := RequestIDFromContext(ctx); got != "req-42" {
		t.Errorf("got %q, want req-42", got)
	}
}

func TestTaskStatusTerminal(t *testing.T) {
	terminal := []TaskStatus{TaskCompleted, TaskFailed, TaskCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%q should be terminal", s)
		}
	}
	for _, s := range []TaskStatus{TaskPending, TaskRunning} {
		if s.Terminal() {
			t.Errorf("%q should not be terminal", s)
		}
	}
}
