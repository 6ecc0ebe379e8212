// Command taskgrid runs the task-distribution core: partitioned queues over a
// shared ordered store, supervised worker pools, and the continuous seeder.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"taskgrid/internal/adapter/handler"
	"taskgrid/internal/adapter/history"
	"taskgrid/internal/adapter/store"
	"taskgrid/internal/domain"
	"taskgrid/internal/infra/config"
	"taskgrid/internal/infra/logger"
	"taskgrid/internal/infra/metrics"
	"taskgrid/internal/infra/tracer"
	"taskgrid/internal/usecase/backpressure"
	"taskgrid/internal/usecase/eventbus"
	"taskgrid/internal/usecase/queue"
	"taskgrid/internal/usecase/ratelimit"
	"taskgrid/internal/usecase/registry"
	"taskgrid/internal/usecase/seeder"
	"taskgrid/internal/usecase/worker"
)

// Breaker guarding downstream task delivery; config may override its settings
// by registering the same name.
const handlerBreaker = "handler"

func main() {
	configPath := flag.String("config", "taskgrid.yaml", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer setup: %w", err)
	}
	defer shutdownTracer(context.Background())

	shutdownMetrics, err := metrics.Setup(ctx, cfg.Metrics)
	if err != nil {
		return fmt.Errorf("metrics setup: %w", err)
	}
	defer shutdownMetrics(context.Background())

	sink, err := metrics.NewSink()
	if err != nil {
		return fmt.Errorf("metrics sink: %w", err)
	}

	ordered, err := openStore(ctx, cfg.Store, log)
	if err != nil {
		return err
	}
	defer ordered.Close()

	var hist domain.HistoryStore
	if cfg.History.Enabled {
		h, err := history.NewSQLiteHistoryStore(cfg.History.Path)
		if err != nil {
			return fmt.Errorf("open history store: %w", err)
		}
		defer h.Close()
		hist = h
	}

	bus := eventbus.New(log)
	defer bus.Close()

	agents := registry.New(log)
	if err := bootstrapAgents(agents, cfg.Agents); err != nil {
		return err
	}
	log.Info("agent roster loaded", "agents", agents.Len())

	partitions := make([]domain.QueuePartition, 0, len(cfg.Partitions))
	for _, p := range cfg.Partitions {
		partitions = append(partitions, domain.QueuePartition{
			Domain:      domain.Domain(p.Domain),
			MaxSize:     p.MaxSize,
			MaxDepth:    p.MaxDepth,
			WorkerCount: p.Workers,
		})
	}
	queues := queue.NewManager(ordered, partitions, cfg.Store.KeyPrefix, log)

	pressure := backpressure.NewManager(queues, bus, log)
	for _, b := range cfg.Breakers {
		err := pressure.Register(b.Name, backpressure.BreakerConfig{
			FailureThreshold: b.FailureThreshold,
			RecoveryTimeout:  b.RecoveryTimeout.Std(),
			SuccessThreshold: b.SuccessThreshold,
			Timeout:          b.Timeout.Std(),
		})
		if err != nil {
			return fmt.Errorf("register breaker %q: %w", b.Name, err)
		}
	}

	limiter := ratelimit.NewLimiter(ordered, sink, cfg.Store.KeyPrefix, log)
	applyRateLimits(limiter, cfg.RateLimits)

	taskHandler, err := buildHandler(cfg.Handler, log)
	if err != nil {
		return err
	}
	// Downstream delivery runs through its own breaker so a failing endpoint
	// trips fast instead of tying up workers.
	if _, stateErr := pressure.State(handlerBreaker); errors.Is(stateErr, domain.ErrNotFound) {
		if err := pressure.Register(handlerBreaker, backpressure.BreakerConfig{}); err != nil {
			return fmt.Errorf("register breaker %q: %w", handlerBreaker, err)
		}
	}
	taskHandler = pressure.Handler(handlerBreaker, taskHandler)

	workers := worker.NewManager(queues, taskHandler, hist, sink, bus, worker.Config{
		MonitorInterval:  cfg.Workers.MonitorInterval.Std(),
		IdleSleep:        cfg.Workers.IdleSleep.Std(),
		ErrorBackoff:     cfg.Workers.ErrorBackoff.Std(),
		RespawnPerMinute: cfg.Workers.RespawnPerMinute,
	}, log)
	if err := workers.StartAll(ctx); err != nil {
		return err
	}
	defer workers.Stop()

	if cfg.Seeder.Enabled {
		seed := seeder.New(queues, agents, limiter, pressure, bus, seeder.Config{
			HighWaterRatio: cfg.Seeder.HighWaterRatio,
			FailureBackoff: cfg.Seeder.FailureBackoff.Std(),
		}, log)
		for _, sc := range cfg.Seeder.Schedules {
			err := seed.AddSchedule(seeder.Schedule{
				Name:       sc.Name,
				Domain:     domain.Domain(sc.Domain),
				Capability: domain.Capability(sc.Capability),
				Interval:   sc.Interval.Std(),
				BatchSize:  sc.BatchSize,
				Priority:   sc.Priority,
				Tenant:     sc.Tenant,
				Template:   sc.Template,
			})
			if err != nil {
				return fmt.Errorf("add schedule %q: %w", sc.Name, err)
			}
		}
		seed.Start(ctx)
		defer seed.Stop()
	}

	log.Info("taskgrid running",
		"partitions", len(partitions),
		"seeder", cfg.Seeder.Enabled,
		"history", cfg.History.Enabled,
	)

	<-ctx.Done()
	log.Info("shutdown signal received, draining")
	return nil
}

// openStore connects to Redis when a URL is configured, otherwise falls back
// to the in-memory standalone store.
func openStore(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (domain.OrderedStore, error) {
	if cfg.RedisURL == "" {
		log.Warn("no redis_url configured, using in-memory store (standalone mode)")
		return store.NewMemoryStore(), nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	s, err := store.NewRedisStore(pingCtx, cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	log.Info("connected to redis", "url", cfg.RedisURL)
	return s, nil
}

func bootstrapAgents(agents *registry.Registry, roster []config.AgentConfig) error {
	for _, a := range roster {
		caps := make([]domain.Capability, 0, len(a.Capabilities))
		for _, c := range a.Capabilities {
			caps = append(caps, domain.Capability(c))
		}
		desc := domain.AgentDescriptor{
			ID:              a.ID,
			Domain:          domain.Domain(a.Domain),
			Capabilities:    caps,
			PriorityWeight:  a.PriorityWeight,
			MaxConcurrent:   a.MaxConcurrent,
			RetryAttempts:   a.RetryAttempts,
			HourlyRateLimit: a.HourlyRateLimit,
			Timeout:         a.Timeout.Std(),
		}
		if err := agents.Register(desc); err != nil {
			return fmt.Errorf("register agent %q: %w", a.ID, err)
		}
	}
	return nil
}

func applyRateLimits(limiter *ratelimit.Limiter, cfg config.RateLimitsConfig) {
	for lt, rl := range cfg.Defaults {
		limiter.SetDefault(ratelimit.LimitType(lt), domain.RateLimit{
			Limit:          rl.Limit,
			WindowSeconds:  rl.WindowSeconds,
			BurstAllowance: rl.BurstAllowance,
		})
	}
	for _, o := range cfg.Overrides {
		limiter.SetTenantOverride(o.Tenant, ratelimit.LimitType(o.LimitType), domain.RateLimit{
			Limit:          o.Limit.Limit,
			WindowSeconds:  o.Limit.WindowSeconds,
			BurstAllowance: o.Limit.BurstAllowance,
		})
	}
}

func buildHandler(cfg config.HandlerConfig, log *slog.Logger) (domain.TaskHandler, error) {
	switch cfg.Type {
	case "webhook":
		return handler.NewWebhookHandler(cfg.URL, cfg.ConnTimeout.Std(), cfg.RespTimeout.Std()), nil
	case "log", "":
		return handler.NewLogHandler(log), nil
	default:
		return nil, fmt.Errorf("unknown handler type %q", cfg.Type)
	}
}
