package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies a kind of core lifecycle event.
type EventType string

const (
	EventBreakerStateChanged EventType = "breaker.state_changed"
	EventWorkerRespawned     EventType = "worker.respawned"
	EventBatchSeeded         EventType = "seeder.batch_seeded"
	EventTaskCompleted       EventType = "task.completed"
	EventTaskFailed          EventType = "task.failed"
)

// Event is published on the in-process bus when core state changes.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventHandler processes a published event.
type EventHandler func(ctx context.Context, event Event)

// EventBus decouples event producers from subscribers.
type EventBus interface {
	Publish(ctx context.Context, event Event)
	Subscribe(eventType EventType, handler EventHandler) func()
}
