// Package worker runs and supervises the per-domain worker pools that drain
// the partitioned queue.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"taskgrid/internal/domain"
	"taskgrid/internal/usecase/queue"
)

// Config tunes the pool supervisor.
type Config struct {
	// MonitorInterval is how often the monitor counts alive workers and
	// respawns the deficit (default: 15s).
	MonitorInterval time.Duration
	// IdleSleep is how long a worker waits after finding every priority
	// level empty (default: 500ms).
	IdleSleep time.Duration
	// ErrorBackoff is how long the monitor loop pauses after an unexpected
	// error before resuming (default: 30s).
	ErrorBackoff time.Duration
	// RespawnPerMinute caps replacement worker launches so a crash loop
	// cannot turn into a spawn storm (default: 30).
	RespawnPerMinute int
}

func (c Config) withDefaults() Config {
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = 15 * time.Second
	}
	if c.IdleSleep <= 0 {
		c.IdleSleep = 500 * time.Millisecond
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = 30 * time.Second
	}
	if c.RespawnPerMinute <= 0 {
		c.RespawnPerMinute = 30
	}
	return c
}

// Manager launches Config-many workers per domain partition and keeps the
// pools at strength with a periodic monitor loop. Workers are goroutines with
// per-task panic isolation; a dead worker is detected by the monitor and
// replaced.
type Manager struct {
	queue   *queue.Manager
	handler domain.TaskHandler
	history domain.HistoryStore // may be nil
	metrics domain.MetricsSink
	bus     domain.EventBus // may be nil
	logger  *slog.Logger
	cfg     Config
	respawn *rate.Limiter

	mu      sync.Mutex
	pools   map[domain.Domain]*pool
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// pool tracks one domain's workers. Guarded by Manager.mu.
type pool struct {
	partition domain.QueuePartition
	workers   map[int]*workerHandle
	nextIndex int
}

// workerHandle is the supervisor's view of one worker goroutine.
type workerHandle struct {
	index int
	stop  chan struct{}
	done  chan struct{}
}

func (h *workerHandle) alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// NewManager creates a Manager. history and bus may be nil.
func NewManager(q *queue.Manager, h domain.TaskHandler, history domain.HistoryStore, metrics domain.MetricsSink, bus domain.EventBus, cfg Config, logger *slog.Logger) *Manager {
	if metrics == nil {
		metrics = domain.NopMetrics{}
	}
	cfg = cfg.withDefaults()
	return &Manager{
		queue:   q,
		handler: h,
		history: history,
		metrics: metrics,
		bus:     bus,
		logger:  logger,
		cfg:     cfg,
		respawn: rate.NewLimiter(rate.Limit(cfg.RespawnPerMinute)/60.0, cfg.RespawnPerMinute),
		pools:   make(map[domain.Domain]*pool),
	}
}

// StartAll launches every partition's workers and the monitor loop.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return fmt.Errorf("worker manager already started")
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.started = true

	for _, p := range m.queue.Partitions() {
		pl := &pool{partition: p, workers: make(map[int]*workerHandle)}
		m.pools[p.Domain] = pl
		for i := 0; i < p.WorkerCount; i++ {
			m.spawnLocked(pl)
		}
		m.logger.Info("worker pool started",
			"domain", string(p.Domain),
			"workers", p.WorkerCount,
		)
	}

	m.wg.Add(1)
	go m.monitorLoop()
	return nil
}

// Stop cancels every worker and the monitor, then waits for them to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.cancel()
	m.mu.Unlock()

	m.wg.Wait()

	m.mu.Lock()
	m.started = false
	m.mu.Unlock()
	m.logger.Info("worker pools stopped")
}

// AliveCount returns the number of live workers for a domain.
func (m *Manager) AliveCount(d domain.Domain) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	pl, ok := m.pools[d]
	if !ok {
		return 0
	}
	n := 0
	for _, h := range pl.workers {
		if h.alive() {
			n++
		}
	}
	return n
}

// spawnLocked launches one worker goroutine. Caller holds m.mu.
func (m *Manager) spawnLocked(pl *pool) *workerHandle {
	h := &workerHandle{
		index: pl.nextIndex,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	pl.nextIndex++
	pl.workers[h.index] = h

	m.wg.Add(1)
	go m.workerLoop(pl.partition, h)
	return h
}

// monitorLoop keeps pools at configured strength and records depth gauges.
func (m *Manager) monitorLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if err := m.heal(m.ctx); err != nil {
				m.logger.Error("worker monitor error, backing off",
					"error", err,
					"backoff", m.cfg.ErrorBackoff,
				)
				select {
				case <-m.ctx.Done():
					return
				case <-time.After(m.cfg.ErrorBackoff):
				}
			}
		}
	}
}

// heal prunes dead worker handles and launches the deficit per pool.
func (m *Manager) heal(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for d, pl := range m.pools {
		for idx, h := range pl.workers {
			if !h.alive() {
				delete(pl.workers, idx)
			}
		}

		deficit := pl.partition.WorkerCount - len(pl.workers)
		for i := 0; i < deficit; i++ {
			if !m.respawn.Allow() {
				m.logger.Warn("respawn throttled",
					"domain", string(d),
					"remaining_deficit", deficit-i,
				)
				break
			}
			h := m.spawnLocked(pl)
			m.logger.Info("worker respawned",
				"domain", string(d),
				"worker", h.index,
			)
			m.publishRespawn(ctx, d, h.index)
		}

		depth, err := m.queue.Depth(ctx, d)
		if err != nil {
			return err
		}
		m.metrics.QueueDepth(ctx, d, depth)
	}
	return nil
}

// publishOutcome emits a task lifecycle event. Timed-out tasks count as
// failures for subscribers.
func (m *Manager) publishOutcome(task domain.Task, status domain.TaskStatus, duration time.Duration) {
	if m.bus == nil {
		return
	}
	et := domain.EventTaskCompleted
	if status != domain.TaskStatusCompleted {
		et = domain.EventTaskFailed
	}
	payload, _ := json.Marshal(map[string]any{
		"task_id":     task.ID,
		"tenant":      task.TenantID,
		"domain":      string(task.Domain),
		"agent":       task.AgentID,
		"status":      string(status),
		"duration_ms": duration.Milliseconds(),
	})
	m.bus.Publish(m.ctx, domain.Event{
		Type:      et,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}

func (m *Manager) publishRespawn(ctx context.Context, d domain.Domain, index int) {
	if m.bus == nil {
		return
	}
	payload, _ := json.Marshal(map[string]any{
		"domain": string(d),
		"worker": index,
	})
	m.bus.Publish(ctx, domain.Event{
		Type:      domain.EventWorkerRespawned,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}
