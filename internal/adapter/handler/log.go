package handler

import (
	"context"
	"log/slog"

	"taskgrid/internal/domain"
)

// LogHandler records each task at info level and reports completion.
// Useful for wiring verification before a real downstream handler exists.
type LogHandler struct {
	logger *slog.Logger
}

// NewLogHandler creates a LogHandler.
func NewLogHandler(logger *slog.Logger) *LogHandler {
	return &LogHandler{logger: logger}
}

// Process implements domain.TaskHandler.
func (h *LogHandler) Process(_ context.Context, task domain.Task) (domain.TaskOutcome, error) {
	h.logger.Info("task processed",
		"task_id", task.ID,
		"domain", string(task.Domain),
		"priority", task.Priority,
		"agent", task.AgentID,
		"batch", task.BatchID,
	)
	return domain.TaskOutcome{Status: domain.TaskStatusCompleted}, nil
}

var _ domain.TaskHandler = (*LogHandler)(nil)
