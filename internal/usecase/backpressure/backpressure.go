// Package backpressure combines per-service circuit breakers with a
// queue-depth overload check.
package backpressure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"taskgrid/internal/domain"
)

// Default breaker settings.
const (
	defaultFailureThreshold uint32        = 5
	defaultRecoveryTimeout  time.Duration = 60 * time.Second
	defaultSuccessThreshold uint32        = 3
	defaultOpTimeout        time.Duration = 30 * time.Second
)

// BreakerConfig configures one named circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before the
	// circuit opens.
	FailureThreshold uint32
	// RecoveryTimeout is how long the circuit stays open before a probe is
	// allowed through (half-open).
	RecoveryTimeout time.Duration
	// SuccessThreshold is the number of consecutive half-open successes that
	// close the circuit again.
	SuccessThreshold uint32
	// Timeout is the hard deadline applied to each wrapped operation.
	// An operation that exceeds it counts as a breaker failure.
	Timeout time.Duration
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = defaultFailureThreshold
	}
	if c.RecoveryTimeout == 0 {
		c.RecoveryTimeout = defaultRecoveryTimeout
	}
	if c.SuccessThreshold == 0 {
		c.SuccessThreshold = defaultSuccessThreshold
	}
	if c.Timeout == 0 {
		c.Timeout = defaultOpTimeout
	}
	return c
}

// QueueDepths reports per-domain queue depth; satisfied by queue.Manager.
type QueueDepths interface {
	Depth(ctx context.Context, d domain.Domain) (int64, error)
}

// Manager owns a set of named circuit breakers plus the overload check.
// Breaker state is process-local: replicas of this manager do not share
// open/closed state, so the protection is best-effort per instance.
type Manager struct {
	depths QueueDepths
	logger *slog.Logger
	bus    domain.EventBus

	mu       sync.RWMutex
	breakers map[string]*breakerEntry
}

type breakerEntry struct {
	cb  *gobreaker.CircuitBreaker[struct{}]
	cfg BreakerConfig
}

// NewManager creates a Manager. bus may be nil.
func NewManager(depths QueueDepths, bus domain.EventBus, logger *slog.Logger) *Manager {
	return &Manager{
		depths:   depths,
		logger:   logger,
		bus:      bus,
		breakers: make(map[string]*breakerEntry),
	}
}

// Register creates a breaker for the named service.
// Returns ErrDuplicate if the name is taken.
func (m *Manager) Register(name string, cfg BreakerConfig) error {
	cfg = cfg.withDefaults()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.breakers[name]; exists {
		return domain.ErrDuplicate
	}

	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name: name,
		// Half-open closes after this many consecutive successes.
		MaxRequests: cfg.SuccessThreshold,
		Timeout:     cfg.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			m.logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
			m.publishStateChange(name, from, to)
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})

	m.breakers[name] = &breakerEntry{cb: cb, cfg: cfg}
	m.logger.Debug("circuit breaker registered",
		"breaker", name,
		"failure_threshold", cfg.FailureThreshold,
		"recovery_timeout", cfg.RecoveryTimeout,
	)
	return nil
}

// Execute runs op through the named breaker with a hard deadline.
// Rejections surface as ErrCircuitOpen without invoking op; deadline
// overruns surface as ErrOperationTimeout and count as breaker failures.
func (m *Manager) Execute(ctx context.Context, name string, op func(context.Context) error) error {
	m.mu.RLock()
	entry, ok := m.breakers[name]
	m.mu.RUnlock()
	if !ok {
		return domain.NewDomainError("Backpressure.Execute", domain.ErrNotFound,
			fmt.Sprintf("breaker %q not registered", name))
	}

	_, err := entry.cb.Execute(func() (struct{}, error) {
		opCtx, cancel := context.WithTimeout(ctx, entry.cfg.Timeout)
		defer cancel()

		done := make(chan error, 1)
		go func() { done <- op(opCtx) }()

		select {
		case opErr := <-done:
			return struct{}{}, opErr
		case <-opCtx.Done():
			// The operation keeps running in its goroutine but its result is
			// discarded; the breaker records the timeout as a failure.
			return struct{}{}, domain.NewDomainError("Backpressure.Execute",
				domain.ErrOperationTimeout,
				fmt.Sprintf("breaker %q deadline %s exceeded", name, entry.cfg.Timeout))
		}
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return domain.NewDomainError("Backpressure.Execute", domain.ErrCircuitOpen, name)
	}
	return err
}

// State returns the current gobreaker state for monitoring.
func (m *Manager) State(name string) (gobreaker.State, error) {
	m.mu.RLock()
	entry, ok := m.breakers[name]
	m.mu.RUnlock()
	if !ok {
		return gobreaker.StateClosed, domain.ErrNotFound
	}
	return entry.cb.State(), nil
}

// Handler wraps a task handler so every Process call runs through the named
// breaker with its per-operation deadline. The breaker must be registered
// before the first call.
func (m *Manager) Handler(name string, inner domain.TaskHandler) domain.TaskHandler {
	return &guardedHandler{m: m, name: name, inner: inner}
}

type guardedHandler struct {
	m     *Manager
	name  string
	inner domain.TaskHandler
}

// Process implements domain.TaskHandler. The outcome travels through a
// buffered channel so a timed-out delivery cannot race the caller.
func (h *guardedHandler) Process(ctx context.Context, task domain.Task) (domain.TaskOutcome, error) {
	outcomes := make(chan domain.TaskOutcome, 1)
	err := h.m.Execute(ctx, h.name, func(ctx context.Context) error {
		outcome, perr := h.inner.Process(ctx, task)
		outcomes <- outcome
		return perr
	})
	if err != nil {
		return domain.TaskOutcome{}, err
	}
	return <-outcomes, nil
}

// IsOverloaded reports whether a domain's queue depth exceeds maxDepth.
// Producers use this to throttle; it never blocks enqueue itself.
func (m *Manager) IsOverloaded(ctx context.Context, d domain.Domain, maxDepth int64) (bool, error) {
	depth, err := m.depths.Depth(ctx, d)
	if err != nil {
		return false, domain.WrapOp("Backpressure.IsOverloaded", err)
	}
	return depth > maxDepth, nil
}

func (m *Manager) publishStateChange(name string, from, to gobreaker.State) {
	if m.bus == nil {
		return
	}
	payload, _ := json.Marshal(map[string]string{
		"breaker": name,
		"from":    from.String(),
		"to":      to.String(),
	})
	m.bus.Publish(context.Background(), domain.Event{
		Type:      domain.EventBreakerStateChanged,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}
