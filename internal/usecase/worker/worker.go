package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"taskgrid/internal/domain"
)

// Fallback deadline for tasks whose descriptor carried no timeout hint.
const defaultTaskTimeout = 5 * time.Minute

// workerLoop is one worker's poll loop: scan priority levels high to low,
// pop, hand off to the handler. Handler errors and panics are isolated to
// the task; only cancellation or the supervisor's stop signal ends the loop.
func (m *Manager) workerLoop(p domain.QueuePartition, h *workerHandle) {
	defer m.wg.Done()
	defer close(h.done)

	workerID := fmt.Sprintf("%s-%d", p.Domain, h.index)
	logger := m.logger.With("domain", string(p.Domain), "worker", workerID)
	logger.Debug("worker started")

	for {
		select {
		case <-m.ctx.Done():
			logger.Debug("worker stopping: shutdown")
			return
		case <-h.stop:
			logger.Debug("worker stopping: supervisor signal")
			return
		default:
		}

		task, err := m.queue.Dequeue(m.ctx, p.Domain)
		if err != nil {
			if errors.Is(err, domain.ErrQueueEmpty) {
				m.idle(h)
				continue
			}
			if m.ctx.Err() != nil {
				return
			}
			logger.Warn("dequeue failed", "error", err)
			m.idle(h)
			continue
		}

		m.processTask(logger, workerID, *task)
	}
}

// idle sleeps for the configured interval, waking early on shutdown.
func (m *Manager) idle(h *workerHandle) {
	select {
	case <-m.ctx.Done():
	case <-h.stop:
	case <-time.After(m.cfg.IdleSleep):
	}
}

// processTask runs one task through the handler under the task's deadline.
// Panics in the handler are recovered here so they cannot take the worker
// down or leave partition state inconsistent.
func (m *Manager) processTask(logger *slog.Logger, workerID string, task domain.Task) {
	start := time.Now()

	timeout := task.Timeout
	if timeout <= 0 {
		timeout = defaultTaskTimeout
	}
	ctx, cancel := context.WithTimeout(m.ctx, timeout)
	defer cancel()

	var outcome domain.TaskOutcome
	var err error

	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: handler panic: %v", domain.ErrHandlerFailed, r)
			}
		}()
		outcome, err = m.handler.Process(ctx, task)
	}()

	duration := time.Since(start)
	status := outcome.Status
	switch {
	case err != nil && ctx.Err() == context.DeadlineExceeded:
		status = domain.TaskStatusTimedOut
	case err != nil:
		status = domain.TaskStatusFailed
	case status == "":
		status = domain.TaskStatusCompleted
	}

	if err != nil {
		logger.Warn("task failed",
			"task_id", task.ID,
			"status", string(status),
			"duration", duration,
			"error", err,
		)
	} else {
		logger.Info("task completed",
			"task_id", task.ID,
			"duration", duration,
		)
	}

	m.metrics.TaskCompleted(ctx, task.TenantID, task.Domain, task.AgentID, status, duration)
	m.publishOutcome(task, status, duration)
	m.recordHistory(task, workerID, status, err, duration)
}

func (m *Manager) recordHistory(task domain.Task, workerID string, status domain.TaskStatus, taskErr error, duration time.Duration) {
	if m.history == nil {
		return
	}
	rec := domain.TaskRecord{
		TaskID:     task.ID,
		TenantID:   task.TenantID,
		Domain:     task.Domain,
		AgentID:    task.AgentID,
		BatchID:    task.BatchID,
		Status:     status,
		Duration:   duration,
		WorkerID:   workerID,
		FinishedAt: time.Now().UTC(),
	}
	if taskErr != nil {
		rec.Error = taskErr.Error()
	}
	// History writes are best-effort; a failed insert must not fail the task.
	hctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.history.Record(hctx, rec); err != nil {
		m.logger.Warn("history record failed", "task_id", task.ID, "error", err)
	}
}
