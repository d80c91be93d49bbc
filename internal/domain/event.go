package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventWorkerRegistered   EventType = "worker.registered"
	EventWorkerUnregistered EventType = "worker.unregistered"
	EventWorkerUnhealthy    EventType = "worker.unhealthy"
	EventWorkerRecovered    EventType = "worker.recovered"
	EventWorkerReaped       EventType = "worker.reaped"

	EventRequestReceived  EventType = "request.received"
	EventRequestCompleted EventType = "request.completed"
	EventRequestFailed    EventType = "request.failed"
	EventRequestCached    EventType = "request.cached"
	EventQuotaDenied      EventType = "quota.denied"

	EventWorkflowStarted   EventType = "workflow.started"
	EventWorkflowCompleted EventType = "workflow.completed"
	EventWorkflowFailed    EventType = "workflow.failed"
	EventWorkflowCancelled EventType = "workflow.cancelled"
)

// Event is a single lifecycle notification.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventHandler processes a published event.
type EventHandler func(ctx context.Context, event Event)

// EventBus is an in-process publish/subscribe fan-out.
type EventBus interface {
	Publish(ctx context.Context, event Event)
	Subscribe(eventType EventType, handler EventHandler) (unsubscribe func())
	SubscribeAll(handler EventHandler) (unsubscribe func())
}
