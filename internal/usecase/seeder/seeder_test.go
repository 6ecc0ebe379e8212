package seeder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"taskgrid/internal/adapter/store"
	"taskgrid/internal/domain"
	"taskgrid/internal/usecase/backpressure"
	"taskgrid/internal/usecase/queue"
	"taskgrid/internal/usecase/ratelimit"
	"taskgrid/internal/usecase/registry"
)

func newTestQueue(t *testing.T, p domain.QueuePartition) *queue.Manager {
	t.Helper()
	return queue.NewManager(store.NewMemoryStore(), []domain.QueuePartition{p}, "test", slog.Default())
}

func newTestRoster(t *testing.T, agents ...domain.AgentDescriptor) *registry.Registry {
	t.Helper()
	r := registry.New(slog.Default())
	for _, a := range agents {
		if a.Domain == "" {
			a.Domain = domain.DomainResearch
		}
		if len(a.Capabilities) == 0 {
			a.Capabilities = []domain.Capability{domain.CapMarketResearch}
		}
		if err := r.Register(a); err != nil {
			t.Fatalf("Register %q: %v", a.ID, err)
		}
	}
	return r
}

func newTestSeeder(t *testing.T, maxSize int64, agentIDs ...string) (*Seeder, *queue.Manager) {
	t.Helper()
	q := newTestQueue(t, domain.QueuePartition{Domain: domain.DomainResearch, MaxSize: maxSize, WorkerCount: 1})
	agents := make([]domain.AgentDescriptor, 0, len(agentIDs))
	for _, id := range agentIDs {
		agents = append(agents, domain.AgentDescriptor{ID: id})
	}
	roster := newTestRoster(t, agents...)
	pressure := backpressure.NewManager(q, nil, slog.Default())
	return New(q, roster, nil, pressure, nil, Config{}, slog.Default()), q
}

func testSchedule(batchSize int) Schedule {
	return Schedule{
		Name:       "research-hourly",
		Domain:     domain.DomainResearch,
		Capability: domain.CapMarketResearch,
		Interval:   time.Hour,
		BatchSize:  batchSize,
		Priority:   5,
		Template:   map[string]any{"query": "market overview"},
	}
}

func prefill(t *testing.T, q *queue.Manager, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		err := q.Enqueue(ctx, domain.Task{
			ID:       fmt.Sprintf("fill-%d", i),
			Domain:   domain.DomainResearch,
			Priority: 1,
		})
		if err != nil {
			t.Fatalf("prefill %d: %v", i, err)
		}
	}
}

func TestSeedBatch(t *testing.T) {
	ctx := context.Background()
	s, q := newTestSeeder(t, 1000, "agent-a", "agent-b")

	if err := s.seedBatch(ctx, testSchedule(6)); err != nil {
		t.Fatalf("seedBatch: %v", err)
	}

	depth, _ := q.Depth(ctx, domain.DomainResearch)
	if depth != 6 {
		t.Fatalf("depth = %d, want 6", depth)
	}

	var batchID string
	seen := make(map[int]bool)
	byAgent := make(map[string]int)
	for i := 0; i < 6; i++ {
		tk, err := q.Dequeue(ctx, domain.DomainResearch)
		if err != nil {
			t.Fatalf("Dequeue %d: %v", i, err)
		}
		if batchID == "" {
			batchID = tk.BatchID
		}
		if tk.BatchID != batchID {
			t.Errorf("task %s batch = %q, want shared %q", tk.ID, tk.BatchID, batchID)
		}
		seen[tk.BatchIndex] = true
		byAgent[tk.AgentID]++
	}
	if batchID == "" {
		t.Error("batch ID not set")
	}
	for i := 0; i < 6; i++ {
		if !seen[i] {
			t.Errorf("batch index %d missing", i)
		}
	}
	// Round-robin over two eligible agents.
	if byAgent["agent-a"] != 3 || byAgent["agent-b"] != 3 {
		t.Errorf("agent distribution = %v, want 3 each", byAgent)
	}
}

func TestSeedBatchHalvesAboveHighWater(t *testing.T) {
	ctx := context.Background()
	s, q := newTestSeeder(t, 1000, "agent-a")
	prefill(t, q, 850)

	if err := s.seedBatch(ctx, testSchedule(20)); err != nil {
		t.Fatalf("seedBatch: %v", err)
	}

	depth, _ := q.Depth(ctx, domain.DomainResearch)
	if depth != 860 {
		t.Errorf("depth = %d, want 860 (batch halved to 10)", depth)
	}
}

func TestSeedBatchMinimumOne(t *testing.T) {
	ctx := context.Background()
	s, q := newTestSeeder(t, 1000, "agent-a")
	prefill(t, q, 900)

	if err := s.seedBatch(ctx, testSchedule(1)); err != nil {
		t.Fatalf("seedBatch: %v", err)
	}

	depth, _ := q.Depth(ctx, domain.DomainResearch)
	if depth != 901 {
		t.Errorf("depth = %d, want 901 (halving bottoms out at 1)", depth)
	}
}

func TestSeedBatchSkipsWhenOverloaded(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, domain.QueuePartition{
		Domain:   domain.DomainResearch,
		MaxSize:  1000,
		MaxDepth: 900,
	})
	roster := newTestRoster(t, domain.AgentDescriptor{ID: "agent-a"})
	pressure := backpressure.NewManager(q, nil, slog.Default())
	s := New(q, roster, nil, pressure, nil, Config{}, slog.Default())
	prefill(t, q, 901)

	if err := s.seedBatch(ctx, testSchedule(10)); err != nil {
		t.Fatalf("seedBatch: %v", err)
	}

	depth, _ := q.Depth(ctx, domain.DomainResearch)
	if depth != 901 {
		t.Errorf("depth = %d, want 901 (overloaded partition gets nothing)", depth)
	}
}

func TestSeedBatchNoEligibleAgents(t *testing.T) {
	ctx := context.Background()
	s, q := newTestSeeder(t, 1000) // empty roster

	if err := s.seedBatch(ctx, testSchedule(5)); err != nil {
		t.Fatalf("seedBatch without agents should be a no-op, got %v", err)
	}
	depth, _ := q.Depth(ctx, domain.DomainResearch)
	if depth != 0 {
		t.Errorf("depth = %d, want 0", depth)
	}
}

func TestSeedBatchToleratesCapacityRejections(t *testing.T) {
	ctx := context.Background()
	s, q := newTestSeeder(t, 10, "agent-a")
	prefill(t, q, 7)

	// 7/10 is below the 0.8 high water so the full batch fires, but only
	// three slots remain. The overflow is skipped, not fatal.
	if err := s.seedBatch(ctx, testSchedule(5)); err != nil {
		t.Fatalf("seedBatch: %v", err)
	}
	depth, _ := q.Depth(ctx, domain.DomainResearch)
	if depth != 10 {
		t.Errorf("depth = %d, want 10 (filled to capacity)", depth)
	}
}

func TestSeedBatchSkipsRateLimitedAgents(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, domain.QueuePartition{Domain: domain.DomainResearch, MaxSize: 1000, WorkerCount: 1})
	roster := newTestRoster(t,
		domain.AgentDescriptor{ID: "agent-a", HourlyRateLimit: 1},
		domain.AgentDescriptor{ID: "agent-b"},
	)
	pressure := backpressure.NewManager(q, nil, slog.Default())
	limiter := ratelimit.NewLimiter(store.NewMemoryStore(), nil, "test", slog.Default())
	limiter.SetDefault(ratelimit.LimitAgentHourly, domain.RateLimit{Limit: 100, WindowSeconds: 3600})
	s := New(q, roster, limiter, pressure, nil, Config{}, slog.Default())

	if err := s.seedBatch(ctx, testSchedule(4)); err != nil {
		t.Fatalf("seedBatch: %v", err)
	}

	byAgent := make(map[string]int)
	for i := 0; i < 4; i++ {
		tk, err := q.Dequeue(ctx, domain.DomainResearch)
		if err != nil {
			t.Fatalf("Dequeue %d: %v", i, err)
		}
		byAgent[tk.AgentID]++
	}
	// agent-a's descriptor limit caps it at one assignment; agent-b absorbs
	// the rest of the round-robin.
	if byAgent["agent-a"] != 1 || byAgent["agent-b"] != 3 {
		t.Errorf("agent distribution = %v, want agent-a=1 agent-b=3", byAgent)
	}
}

func TestSeedBatchEndsWhenAllAgentsRateLimited(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, domain.QueuePartition{Domain: domain.DomainResearch, MaxSize: 1000, WorkerCount: 1})
	roster := newTestRoster(t, domain.AgentDescriptor{ID: "agent-a", HourlyRateLimit: 2})
	pressure := backpressure.NewManager(q, nil, slog.Default())
	limiter := ratelimit.NewLimiter(store.NewMemoryStore(), nil, "test", slog.Default())
	s := New(q, roster, limiter, pressure, nil, Config{}, slog.Default())

	if err := s.seedBatch(ctx, testSchedule(5)); err != nil {
		t.Fatalf("seedBatch: %v", err)
	}

	depth, _ := q.Depth(ctx, domain.DomainResearch)
	if depth != 2 {
		t.Errorf("depth = %d, want 2 (agent's hourly limit)", depth)
	}
}

func TestAddScheduleValidation(t *testing.T) {
	s, _ := newTestSeeder(t, 1000, "agent-a")

	cases := []struct {
		name string
		mut  func(*Schedule)
	}{
		{"empty name", func(sc *Schedule) { sc.Name = "" }},
		{"zero interval", func(sc *Schedule) { sc.Interval = 0 }},
		{"zero batch", func(sc *Schedule) { sc.BatchSize = 0 }},
		{"priority too high", func(sc *Schedule) { sc.Priority = 11 }},
		{"unconfigured domain", func(sc *Schedule) { sc.Domain = domain.DomainFinance }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sc := testSchedule(5)
			tc.mut(&sc)
			if err := s.AddSchedule(sc); !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestFireSuspendsAfterFailure(t *testing.T) {
	ctx := context.Background()
	failing := &flakyStore{MemoryStore: store.NewMemoryStore(), fail: true}
	partitions := []domain.QueuePartition{
		{Domain: domain.DomainResearch, MaxSize: 1000, WorkerCount: 1},
	}
	q := queue.NewManager(failing, partitions, "test", slog.Default())
	roster := newTestRoster(t, domain.AgentDescriptor{ID: "agent-a"})
	pressure := backpressure.NewManager(q, nil, slog.Default())
	s := New(q, roster, nil, pressure, nil, Config{FailureBackoff: time.Hour}, slog.Default())

	sc := testSchedule(5)
	if err := s.fire(ctx, sc); err == nil {
		t.Fatal("fire should fail while the store is down")
	}

	// Store recovers, but the schedule is suspended for the backoff window.
	failing.fail = false
	if err := s.fire(ctx, sc); err != nil {
		t.Fatalf("suspended fire should no-op, got %v", err)
	}
	depth, _ := q.Depth(ctx, domain.DomainResearch)
	if depth != 0 {
		t.Errorf("depth = %d, want 0 (schedule suspended)", depth)
	}
}

// flakyStore fails depth reads on demand.
type flakyStore struct {
	*store.MemoryStore
	fail bool
}

func (f *flakyStore) ZCard(ctx context.Context, key string) (int64, error) {
	if f.fail {
		return 0, domain.ErrStoreUnavailable
	}
	return f.MemoryStore.ZCard(ctx, key)
}
