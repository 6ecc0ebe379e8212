// Package ratelimit implements fixed-window rate limiting with burst
// allowance over the shared ordered store.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"taskgrid/internal/domain"
)

// LimitType scopes a rate limit to a kind of caller or resource.
type LimitType string

const (
	LimitAgentHourly     LimitType = "agent_hourly"
	LimitTenantHourly    LimitType = "tenant_hourly"
	LimitDomainHourly    LimitType = "domain_hourly"
	LimitAPIEndpoint     LimitType = "api_endpoint"
	LimitWebhookEndpoint LimitType = "webhook_endpoint"
)

// Package defaults per limit type, used when no tenant override applies.
var defaultLimits = map[LimitType]domain.RateLimit{
	LimitAgentHourly:     {Limit: 100, WindowSeconds: 3600, BurstAllowance: 10},
	LimitTenantHourly:    {Limit: 1000, WindowSeconds: 3600, BurstAllowance: 50},
	LimitDomainHourly:    {Limit: 5000, WindowSeconds: 3600, BurstAllowance: 100},
	LimitAPIEndpoint:     {Limit: 600, WindowSeconds: 60, BurstAllowance: 20},
	LimitWebhookEndpoint: {Limit: 120, WindowSeconds: 60, BurstAllowance: 10},
}

// Limiter counts events in fixed windows of the shared store. Counters are
// created lazily on first check and expire with their window, so stale
// buckets reclaim themselves.
type Limiter struct {
	store     domain.OrderedStore
	metrics   domain.MetricsSink
	keyPrefix string
	logger    *slog.Logger

	mu        sync.RWMutex
	defaults  map[LimitType]domain.RateLimit
	overrides map[string]map[LimitType]domain.RateLimit
}

// NewLimiter creates a Limiter with the package defaults.
func NewLimiter(store domain.OrderedStore, metrics domain.MetricsSink, keyPrefix string, logger *slog.Logger) *Limiter {
	if metrics == nil {
		metrics = domain.NopMetrics{}
	}
	if keyPrefix == "" {
		keyPrefix = "taskgrid"
	}
	defaults := make(map[LimitType]domain.RateLimit, len(defaultLimits))
	for lt, rl := range defaultLimits {
		defaults[lt] = rl
	}
	return &Limiter{
		store:     store,
		metrics:   metrics,
		keyPrefix: keyPrefix,
		logger:    logger,
		defaults:  defaults,
		overrides: make(map[string]map[LimitType]domain.RateLimit),
	}
}

// SetDefault replaces the default limit for a limit type.
func (l *Limiter) SetDefault(lt LimitType, rl domain.RateLimit) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.defaults[lt] = rl
}

// SetTenantOverride replaces the limit for one (tenant, limit type) pair.
func (l *Limiter) SetTenantOverride(tenant string, lt LimitType, rl domain.RateLimit) {
	l.mu.Lock()
	defer l.mu.Unlock()
	byType, ok := l.overrides[tenant]
	if !ok {
		byType = make(map[LimitType]domain.RateLimit)
		l.overrides[tenant] = byType
	}
	byType[lt] = rl
}

// LimitFor returns the effective limit for a (limit type, tenant) pair.
func (l *Limiter) LimitFor(lt LimitType, tenant string) domain.RateLimit {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if byType, ok := l.overrides[tenant]; ok {
		if rl, ok := byType[lt]; ok {
			return rl
		}
	}
	return l.defaults[lt]
}

// Check counts one event against the active window under the configured limit
// for (lt, tenant). It increments first and rejects when the new count lands
// above limit+burst, so at most limit+burst events are ever accepted per
// window. Each rejection emits one rate-limit-hit metric.
func (l *Limiter) Check(ctx context.Context, lt LimitType, identifier, tenant string) error {
	if tenant == "" {
		tenant = domain.DefaultTenant
	}
	return l.CheckLimit(ctx, lt, identifier, tenant, l.LimitFor(lt, tenant))
}

// CheckLimit is Check with an explicit limit, bypassing the configured
// defaults. Callers that carry per-entity limits (an agent's hourly rate)
// use this directly.
func (l *Limiter) CheckLimit(ctx context.Context, lt LimitType, identifier, tenant string, rl domain.RateLimit) error {
	if tenant == "" {
		tenant = domain.DefaultTenant
	}
	if rl.WindowSeconds <= 0 {
		return domain.NewDomainError("RateLimit.Check", domain.ErrInvalidInput,
			fmt.Sprintf("no limit configured for type %q", lt))
	}

	window := time.Duration(rl.WindowSeconds) * time.Second
	bucket := time.Now().Unix() / int64(rl.WindowSeconds)
	key := fmt.Sprintf("%s:rl:%s:%s:%s:%d", l.keyPrefix, lt, tenant, identifier, bucket)

	count, err := l.store.IncrWithTTL(ctx, key, window)
	if err != nil {
		return domain.WrapOp("RateLimit.Check", err)
	}
	if count > rl.Ceiling() {
		l.metrics.RateLimitHit(ctx, string(lt), tenant)
		l.logger.Warn("rate limit exceeded",
			"limit_type", string(lt),
			"identifier", identifier,
			"tenant", tenant,
			"count", count,
			"ceiling", rl.Ceiling(),
		)
		return domain.NewDomainError("RateLimit.Check", domain.ErrRateLimited,
			fmt.Sprintf("%s %q at %d/%d this window", lt, identifier, count, rl.Ceiling()))
	}
	return nil
}
