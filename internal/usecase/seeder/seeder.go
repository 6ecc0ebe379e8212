// Package seeder keeps queue partitions fed with templated task batches on
// recurring schedules, sized adaptively against current queue depth.
package seeder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"taskgrid/internal/domain"
	"taskgrid/internal/infra/tracer"
	"taskgrid/internal/usecase/queue"
	"taskgrid/internal/usecase/ratelimit"
	"taskgrid/internal/usecase/registry"
	"taskgrid/internal/usecase/scheduling"
)

// Config tunes seeding behavior shared by all schedules.
type Config struct {
	// HighWaterRatio is the fraction of partition capacity above which a
	// firing halves its batch size (default: 0.8).
	HighWaterRatio float64
	// FailureBackoff suspends a schedule after a firing fails outright
	// (default: 60s). Per-task capacity rejections do not count.
	FailureBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.HighWaterRatio <= 0 || c.HighWaterRatio > 1 {
		c.HighWaterRatio = 0.8
	}
	if c.FailureBackoff <= 0 {
		c.FailureBackoff = 60 * time.Second
	}
	return c
}

// Schedule defines one recurring seeding job.
type Schedule struct {
	Name       string
	Domain     domain.Domain
	Capability domain.Capability
	Interval   time.Duration
	BatchSize  int
	Priority   int
	Tenant     string
	Template   map[string]any
}

// OverloadChecker reports whether a partition sits above its producer
// threshold. Satisfied by backpressure.Manager.
type OverloadChecker interface {
	IsOverloaded(ctx context.Context, d domain.Domain, maxDepth int64) (bool, error)
}

// Seeder owns a set of named schedules, each firing on its own timer.
type Seeder struct {
	queue     *queue.Manager
	agents    *registry.Registry
	limiter   *ratelimit.Limiter // may be nil
	pressure  OverloadChecker
	scheduler *scheduling.Scheduler
	bus       domain.EventBus // may be nil
	logger    *slog.Logger
	cfg       Config

	mu        sync.Mutex
	schedules []Schedule
	suspended map[string]time.Time // schedule name -> earliest next attempt
}

// New creates a Seeder. limiter and bus may be nil.
func New(q *queue.Manager, agents *registry.Registry, limiter *ratelimit.Limiter, pressure OverloadChecker, bus domain.EventBus, cfg Config, logger *slog.Logger) *Seeder {
	return &Seeder{
		queue:     q,
		agents:    agents,
		limiter:   limiter,
		pressure:  pressure,
		scheduler: scheduling.New(logger),
		bus:       bus,
		logger:    logger,
		cfg:       cfg.withDefaults(),
		suspended: make(map[string]time.Time),
	}
}

// AddSchedule registers a schedule. Must be called before Start.
func (s *Seeder) AddSchedule(sc Schedule) error {
	if sc.Name == "" {
		return fmt.Errorf("%w: schedule name is required", domain.ErrInvalidInput)
	}
	if sc.Interval <= 0 {
		return fmt.Errorf("%w: schedule %q interval must be positive", domain.ErrInvalidInput, sc.Name)
	}
	if sc.BatchSize <= 0 {
		return fmt.Errorf("%w: schedule %q batch size must be positive", domain.ErrInvalidInput, sc.Name)
	}
	if sc.Priority < domain.MinPriority || sc.Priority > domain.MaxPriority {
		return fmt.Errorf("%w: schedule %q priority outside 1..10", domain.ErrInvalidInput, sc.Name)
	}
	if _, ok := s.queue.Partition(sc.Domain); !ok {
		return fmt.Errorf("%w: schedule %q targets unconfigured domain %q", domain.ErrInvalidInput, sc.Name, sc.Domain)
	}

	s.mu.Lock()
	s.schedules = append(s.schedules, sc)
	s.mu.Unlock()

	return s.scheduler.Add(sc.Name, scheduling.NewConstantDelay(sc.Interval), func(ctx context.Context) error {
		return s.fire(ctx, sc)
	})
}

// Start begins all schedule loops.
func (s *Seeder) Start(ctx context.Context) {
	s.scheduler.Start(ctx)
	s.logger.Info("seeder started", "schedules", len(s.schedules))
}

// Stop halts all schedule loops cooperatively.
func (s *Seeder) Stop() {
	s.scheduler.Stop()
	s.logger.Info("seeder stopped")
}

// fire runs one scheduled batch. A hard failure suspends the schedule for
// FailureBackoff; per-task capacity rejections are logged and skipped.
func (s *Seeder) fire(ctx context.Context, sc Schedule) error {
	s.mu.Lock()
	until, suspended := s.suspended[sc.Name]
	s.mu.Unlock()
	if suspended && time.Now().Before(until) {
		s.logger.Debug("schedule suspended, skipping firing",
			"schedule", sc.Name, "until", until)
		return nil
	}

	if err := s.seedBatch(ctx, sc); err != nil {
		s.mu.Lock()
		s.suspended[sc.Name] = time.Now().Add(s.cfg.FailureBackoff)
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	delete(s.suspended, sc.Name)
	s.mu.Unlock()
	return nil
}

func (s *Seeder) seedBatch(ctx context.Context, sc Schedule) error {
	ctx, span := tracer.StartSpan(ctx, "seeder.seedBatch")
	defer span.End()
	span.SetAttributes(
		tracer.StringAttr("schedule", sc.Name),
		tracer.StringAttr("domain", string(sc.Domain)),
	)

	p, _ := s.queue.Partition(sc.Domain)
	if p.MaxDepth > 0 {
		over, err := s.pressure.IsOverloaded(ctx, sc.Domain, p.MaxDepth)
		if err != nil {
			tracer.RecordError(span, err)
			return err
		}
		if over {
			s.logger.Warn("partition overloaded, skipping firing",
				"schedule", sc.Name,
				"max_depth", p.MaxDepth,
			)
			return nil
		}
	}

	eligible := s.agents.Eligible(sc.Domain, sc.Capability)
	if len(eligible) == 0 {
		s.logger.Debug("no eligible agents, skipping firing",
			"schedule", sc.Name,
			"capability", string(sc.Capability),
		)
		return nil
	}

	batchSize, err := s.adaptiveBatchSize(ctx, sc, p)
	if err != nil {
		tracer.RecordError(span, err)
		return err
	}

	batchID := s.newID()
	payload, err := json.Marshal(sc.Template)
	if err != nil {
		return domain.WrapOp("Seeder.seedBatch", err)
	}

	enqueued := 0
	next := 0
	for i := 0; i < batchSize; i++ {
		agent, ok, err := s.pickAgent(ctx, eligible, &next, sc.Tenant)
		if err != nil {
			tracer.RecordError(span, err)
			return err
		}
		if !ok {
			s.logger.Warn("every eligible agent rate limited, ending batch early",
				"schedule", sc.Name,
				"batch", batchID,
				"remaining", batchSize-i,
			)
			break
		}
		task := domain.Task{
			ID:         s.newID(),
			TenantID:   sc.Tenant,
			Domain:     sc.Domain,
			Priority:   sc.Priority,
			AgentID:    agent.ID,
			Payload:    payload,
			BatchID:    batchID,
			BatchIndex: i,
			MaxRetries: agent.RetryAttempts,
			Timeout:    agent.Timeout,
			CreatedAt:  time.Now().UTC(),
		}
		if err := s.queue.Enqueue(ctx, task); err != nil {
			if errors.Is(err, domain.ErrCapacityExceeded) {
				s.logger.Warn("batch task rejected at capacity",
					"schedule", sc.Name,
					"batch", batchID,
					"index", i,
				)
				continue
			}
			tracer.RecordError(span, err)
			return err
		}
		enqueued++
	}

	s.logger.Info("batch seeded",
		"schedule", sc.Name,
		"batch", batchID,
		"requested", batchSize,
		"enqueued", enqueued,
		"agents", len(eligible),
	)
	s.publishBatch(ctx, sc, batchID, enqueued)
	return nil
}

// pickAgent returns the next round-robin agent that clears its hourly rate
// limit, trying each eligible agent at most once per task.
func (s *Seeder) pickAgent(ctx context.Context, eligible []domain.AgentDescriptor, next *int, tenant string) (domain.AgentDescriptor, bool, error) {
	for j := 0; j < len(eligible); j++ {
		agent := eligible[(*next+j)%len(eligible)]
		ok, err := s.agentAllowed(ctx, agent, tenant)
		if err != nil {
			return domain.AgentDescriptor{}, false, err
		}
		if ok {
			*next = (*next + j + 1) % len(eligible)
			return agent, true, nil
		}
	}
	return domain.AgentDescriptor{}, false, nil
}

// agentAllowed counts one assignment against the agent's hourly window. A
// descriptor's HourlyRateLimit overrides the configured agent default.
func (s *Seeder) agentAllowed(ctx context.Context, agent domain.AgentDescriptor, tenant string) (bool, error) {
	if s.limiter == nil {
		return true, nil
	}
	rl := s.limiter.LimitFor(ratelimit.LimitAgentHourly, tenant)
	if agent.HourlyRateLimit > 0 {
		// The descriptor's limit is a hard hourly cap, no burst on top.
		rl = domain.RateLimit{Limit: agent.HourlyRateLimit, WindowSeconds: 3600}
	}
	err := s.limiter.CheckLimit(ctx, ratelimit.LimitAgentHourly, agent.ID, tenant, rl)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, domain.ErrRateLimited):
		s.logger.Debug("agent rate limited, skipping",
			"agent", agent.ID,
			"tenant", tenant,
		)
		return false, nil
	default:
		return false, err
	}
}

// adaptiveBatchSize halves the nominal batch (minimum 1) when the partition
// sits above the high-water ratio of its capacity. The halving applies to
// this firing only.
func (s *Seeder) adaptiveBatchSize(ctx context.Context, sc Schedule, p domain.QueuePartition) (int, error) {
	highWater := int64(float64(p.MaxSize) * s.cfg.HighWaterRatio)
	over, err := s.pressure.IsOverloaded(ctx, sc.Domain, highWater)
	if err != nil {
		return 0, err
	}
	if !over {
		return sc.BatchSize, nil
	}

	size := sc.BatchSize / 2
	if size < 1 {
		size = 1
	}
	s.logger.Debug("partition above high water, halving batch",
		"schedule", sc.Name,
		"high_water", highWater,
		"batch", size,
	)
	return size, nil
}

func (s *Seeder) publishBatch(ctx context.Context, sc Schedule, batchID string, enqueued int) {
	if s.bus == nil {
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"schedule": sc.Name,
		"batch":    batchID,
		"enqueued": enqueued,
	})
	s.bus.Publish(ctx, domain.Event{
		Type:      domain.EventBatchSeeded,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}

func (s *Seeder) newID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
