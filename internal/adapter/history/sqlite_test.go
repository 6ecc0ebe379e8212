package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"taskgrid/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteHistoryStore {
	t.Helper()
	s, err := NewSQLiteHistoryStore(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("NewSQLiteHistoryStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndQuery(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	recs := []domain.TaskRecord{
		{
			TaskID:     "t1",
			TenantID:   "acme",
			Domain:     domain.DomainResearch,
			AgentID:    "agent-a",
			BatchID:    "b1",
			Status:     domain.TaskStatusCompleted,
			Duration:   120 * time.Millisecond,
			WorkerID:   "research-0",
			FinishedAt: base,
		},
		{
			TaskID:     "t2",
			Domain:     domain.DomainResearch,
			Status:     domain.TaskStatusFailed,
			Error:      "handler exploded",
			Duration:   40 * time.Millisecond,
			FinishedAt: base.Add(time.Minute),
		},
		{
			TaskID:     "t3",
			Domain:     domain.DomainSales,
			Status:     domain.TaskStatusCompleted,
			FinishedAt: base,
		},
	}
	for _, rec := range recs {
		if err := s.Record(ctx, rec); err != nil {
			t.Fatalf("Record %s: %v", rec.TaskID, err)
		}
	}

	got, err := s.RecentByDomain(ctx, domain.DomainResearch, 10)
	if err != nil {
		t.Fatalf("RecentByDomain: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("records = %d, want 2", len(got))
	}
	// Newest first.
	if got[0].TaskID != "t2" || got[1].TaskID != "t1" {
		t.Errorf("order = [%s, %s], want [t2, t1]", got[0].TaskID, got[1].TaskID)
	}

	first := got[1]
	if first.TenantID != "acme" || first.AgentID != "agent-a" || first.BatchID != "b1" {
		t.Errorf("record roundtrip = %+v", first)
	}
	if first.Duration != 120*time.Millisecond {
		t.Errorf("duration = %v, want 120ms", first.Duration)
	}
	if !first.FinishedAt.Equal(base) {
		t.Errorf("finished_at = %v, want %v", first.FinishedAt, base)
	}
	if got[0].Error != "handler exploded" {
		t.Errorf("error = %q", got[0].Error)
	}
}

func TestRecentByDomainDefaultLimit(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	got, err := s.RecentByDomain(ctx, domain.DomainFinance, 0)
	if err != nil {
		t.Fatalf("RecentByDomain: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("records = %d, want 0", len(got))
	}
}
