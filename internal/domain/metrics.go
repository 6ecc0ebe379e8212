package domain

import (
	"context"
	"time"
)

// MetricsSink receives counters and histograms from the distribution core.
// The core never blocks on the sink; implementations must be cheap.
type MetricsSink interface {
	// TaskCompleted records one finished task with its outcome.
	TaskCompleted(ctx context.Context, tenant string, d Domain, agentID string, status TaskStatus, duration time.Duration)
	// QueueDepth records the current total depth of a domain partition.
	QueueDepth(ctx context.Context, d Domain, depth int64)
	// RateLimitHit records one rejected request for a limit type.
	RateLimitHit(ctx context.Context, limitType, tenant string)
}

// NopMetrics discards all measurements.
type NopMetrics struct{}

func (NopMetrics) TaskCompleted(context.Context, string, Domain, string, TaskStatus, time.Duration) {
}
func (NopMetrics) QueueDepth(context.Context, Domain, int64)   {}
func (NopMetrics) RateLimitHit(context.Context, string, string) {}

var _ MetricsSink = NopMetrics{}
