package domain

import (
	"context"
	"encoding/json"
	"time"
)

// Priority bounds for queued tasks. Higher is more urgent.
const (
	MinPriority = 1
	MaxPriority = 10
)

// QueuePartition is the per-domain queue configuration. Partitions are created
// at startup from static configuration and never mutated at runtime.
type QueuePartition struct {
	Domain      Domain
	MaxSize     int64 // maximum enqueued items across all priority levels
	MaxDepth    int64 // producer overload threshold; 0 disables the check
	WorkerCount int
}

// Task is a unit of work routed through a queue partition.
// Retry and timeout hints are inherited from the originating agent descriptor.
type Task struct {
	ID         string          `json:"id"`
	TenantID   string          `json:"tenant_id,omitempty"`
	Domain     Domain          `json:"domain"`
	Priority   int             `json:"priority"`
	AgentID    string          `json:"agent_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	BatchID    string          `json:"batch_id,omitempty"`
	BatchIndex int             `json:"batch_index,omitempty"`
	MaxRetries int             `json:"max_retries,omitempty"`
	Timeout    time.Duration   `json:"timeout,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// TaskStatus is the terminal state of a processed task.
type TaskStatus string

const (
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusTimedOut  TaskStatus = "timed_out"
)

// TaskOutcome is what a handler reports back for a processed task.
type TaskOutcome struct {
	Status TaskStatus      `json:"status"`
	Detail string          `json:"detail,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// TaskHandler executes the business logic for a task. Implementations live
// outside the distribution core; workers only see this contract.
type TaskHandler interface {
	Process(ctx context.Context, task Task) (TaskOutcome, error)
}

// TaskRecord is one row of processing history.
type TaskRecord struct {
	TaskID     string
	TenantID   string
	Domain     Domain
	AgentID    string
	BatchID    string
	Status     TaskStatus
	Error      string
	Duration   time.Duration
	WorkerID   string
	FinishedAt time.Time
}

// HistoryStore persists task processing records. A nil store disables history.
type HistoryStore interface {
	Record(ctx context.Context, rec TaskRecord) error
	RecentByDomain(ctx context.Context, d Domain, limit int) ([]TaskRecord, error)
	Close() error
}
