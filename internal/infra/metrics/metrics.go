package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	mnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"taskgrid/internal/domain"
	"taskgrid/internal/infra/config"
)

const meterName = "taskgrid"

// Setup initializes the OpenTelemetry metrics pipeline and returns a shutdown
// function. When cfg.Enabled is false, a noop MeterProvider is used.
func Setup(ctx context.Context, cfg config.MetricsConfig) (func(context.Context) error, error) {
	noopShutdown := func(context.Context) error { return nil }

	if !cfg.Enabled {
		otel.SetMeterProvider(mnoop.NewMeterProvider())
		return noopShutdown, nil
	}

	switch cfg.Exporter {
	case "stdout":
		exporter, err := stdoutmetric.New()
		if err != nil {
			return nil, fmt.Errorf("create stdout metric exporter: %w", err)
		}
		provider := sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
				sdkmetric.WithInterval(cfg.Interval.Std()))),
		)
		otel.SetMeterProvider(provider)
		return provider.Shutdown, nil
	case "noop", "":
		otel.SetMeterProvider(mnoop.NewMeterProvider())
		return noopShutdown, nil
	default:
		return nil, fmt.Errorf("unsupported metric exporter: %s", cfg.Exporter)
	}
}

// Sink implements domain.MetricsSink on the OpenTelemetry metric API.
type Sink struct {
	completions metric.Int64Counter
	duration    metric.Float64Histogram
	depth       metric.Int64Gauge
	rateHits    metric.Int64Counter
}

// NewSink creates instruments on the global meter provider.
func NewSink() (*Sink, error) {
	meter := otel.Meter(meterName)

	completions, err := meter.Int64Counter("taskgrid.tasks.completed",
		metric.WithDescription("Tasks processed by workers, by outcome status"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("taskgrid.task.duration",
		metric.WithDescription("Task processing duration"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	depth, err := meter.Int64Gauge("taskgrid.queue.depth",
		metric.WithDescription("Total partition depth across all priority levels"))
	if err != nil {
		return nil, err
	}
	rateHits, err := meter.Int64Counter("taskgrid.ratelimit.hits",
		metric.WithDescription("Requests rejected by the rate limiter"))
	if err != nil {
		return nil, err
	}

	return &Sink{
		completions: completions,
		duration:    duration,
		depth:       depth,
		rateHits:    rateHits,
	}, nil
}

// TaskCompleted implements domain.MetricsSink.
func (s *Sink) TaskCompleted(ctx context.Context, tenant string, d domain.Domain, agentID string, status domain.TaskStatus, dur time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("tenant", tenant),
		attribute.String("domain", string(d)),
		attribute.String("agent", agentID),
		attribute.String("status", string(status)),
	)
	s.completions.Add(ctx, 1, attrs)
	s.duration.Record(ctx, dur.Seconds(), attrs)
}

// QueueDepth implements domain.MetricsSink.
func (s *Sink) QueueDepth(ctx context.Context, d domain.Domain, depth int64) {
	s.depth.Record(ctx, depth, metric.WithAttributes(attribute.String("domain", string(d))))
}

// RateLimitHit implements domain.MetricsSink.
func (s *Sink) RateLimitHit(ctx context.Context, limitType, tenant string) {
	s.rateHits.Add(ctx, 1, metric.WithAttributes(
		attribute.String("limit_type", limitType),
		attribute.String("tenant", tenant),
	))
}

var _ domain.MetricsSink = (*Sink)(nil)
