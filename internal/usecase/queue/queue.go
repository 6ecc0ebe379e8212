// Package queue maps (domain, priority) pairs onto keys in the shared ordered
// store and enforces per-domain capacity.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"taskgrid/internal/domain"
	"taskgrid/internal/infra/tracer"
)

// Manager is the partitioned queue front. All state lives in the shared
// ordered store; Manager instances are stateless and safe to replicate.
type Manager struct {
	store      domain.OrderedStore
	partitions map[domain.Domain]domain.QueuePartition
	keyPrefix  string
	logger     *slog.Logger
}

// NewManager creates a Manager over the given partitions.
func NewManager(store domain.OrderedStore, partitions []domain.QueuePartition, keyPrefix string, logger *slog.Logger) *Manager {
	byDomain := make(map[domain.Domain]domain.QueuePartition, len(partitions))
	for _, p := range partitions {
		byDomain[p.Domain] = p
	}
	if keyPrefix == "" {
		keyPrefix = "taskgrid"
	}
	return &Manager{
		store:      store,
		partitions: byDomain,
		keyPrefix:  keyPrefix,
		logger:     logger,
	}
}

// Partition returns the partition config for a domain.
func (m *Manager) Partition(d domain.Domain) (domain.QueuePartition, bool) {
	p, ok := m.partitions[d]
	return p, ok
}

// Partitions returns all configured partitions.
func (m *Manager) Partitions() []domain.QueuePartition {
	out := make([]domain.QueuePartition, 0, len(m.partitions))
	for _, d := range domain.Domains() {
		if p, ok := m.partitions[d]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Enqueue inserts a task into its domain partition at the task's priority.
// The capacity check (depth read, then insert) is not atomic against the
// store; two racing enqueues near the limit can overshoot by a small bounded
// margin. Callers that need the hard bound must serialize enqueues.
func (m *Manager) Enqueue(ctx context.Context, task domain.Task) error {
	ctx, span := tracer.StartSpan(ctx, "queue.Enqueue")
	defer span.End()
	span.SetAttributes(
		tracer.StringAttr("domain", string(task.Domain)),
		tracer.IntAttr("priority", task.Priority),
	)

	p, ok := m.partitions[task.Domain]
	if !ok {
		return domain.NewDomainError("Queue.Enqueue", domain.ErrNotFound,
			fmt.Sprintf("no partition for domain %q", task.Domain))
	}
	if task.Priority < domain.MinPriority || task.Priority > domain.MaxPriority {
		return domain.NewDomainError("Queue.Enqueue", domain.ErrInvalidInput,
			fmt.Sprintf("priority %d outside 1..10", task.Priority))
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	if task.TenantID == "" {
		task.TenantID = domain.TenantIDFromContext(ctx)
	}

	depth, err := m.Depth(ctx, task.Domain)
	if err != nil {
		tracer.RecordError(span, err)
		return err
	}
	if depth >= p.MaxSize {
		err := domain.NewDomainError("Queue.Enqueue", domain.ErrCapacityExceeded,
			fmt.Sprintf("partition %q at %d/%d", task.Domain, depth, p.MaxSize))
		tracer.RecordError(span, err)
		return err
	}

	payload, err := json.Marshal(task)
	if err != nil {
		return domain.WrapOp("Queue.Enqueue", err)
	}
	if err := m.store.ZAdd(ctx, m.key(task.Domain, task.Priority), float64(task.Priority), string(payload)); err != nil {
		tracer.RecordError(span, err)
		return domain.WrapOp("Queue.Enqueue", err)
	}

	m.logger.Debug("task enqueued",
		"task_id", task.ID,
		"domain", string(task.Domain),
		"priority", task.Priority,
		"depth", depth+1,
	)
	return nil
}

// Dequeue scans priority levels from highest to lowest and atomically pops the
// first available task. Returns ErrQueueEmpty when every level is empty.
func (m *Manager) Dequeue(ctx context.Context, d domain.Domain) (*domain.Task, error) {
	if _, ok := m.partitions[d]; !ok {
		return nil, domain.NewDomainError("Queue.Dequeue", domain.ErrNotFound,
			fmt.Sprintf("no partition for domain %q", d))
	}

	for prio := domain.MaxPriority; prio >= domain.MinPriority; prio-- {
		member, ok, err := m.store.ZPopMax(ctx, m.key(d, prio))
		if err != nil {
			return nil, domain.WrapOp("Queue.Dequeue", err)
		}
		if !ok {
			continue
		}
		var task domain.Task
		if err := json.Unmarshal([]byte(member), &task); err != nil {
			// The popped entry is already removed; losing it beats wedging
			// the partition on a corrupt payload.
			m.logger.Error("dropping undecodable queue entry",
				"domain", string(d), "priority", prio, "error", err)
			continue
		}
		return &task, nil
	}
	return nil, domain.ErrQueueEmpty
}

// Depth returns the total entries across all priority levels of one domain.
func (m *Manager) Depth(ctx context.Context, d domain.Domain) (int64, error) {
	var total int64
	for prio := domain.MinPriority; prio <= domain.MaxPriority; prio++ {
		n, err := m.store.ZCard(ctx, m.key(d, prio))
		if err != nil {
			return 0, domain.WrapOp("Queue.Depth", err)
		}
		total += n
	}
	return total, nil
}

// Depths returns the per-domain total depth for every configured partition.
func (m *Manager) Depths(ctx context.Context) (map[domain.Domain]int64, error) {
	out := make(map[domain.Domain]int64, len(m.partitions))
	for d := range m.partitions {
		depth, err := m.Depth(ctx, d)
		if err != nil {
			return nil, err
		}
		out[d] = depth
	}
	return out, nil
}

func (m *Manager) key(d domain.Domain, priority int) string {
	return fmt.Sprintf("%s:queue:%s:p%02d", m.keyPrefix, d, priority)
}
