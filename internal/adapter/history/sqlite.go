// Package history persists task processing records to SQLite.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"taskgrid/internal/domain"
)

// SQLiteHistoryStore implements domain.HistoryStore using SQLite.
type SQLiteHistoryStore struct {
	db *sql.DB
}

// NewSQLiteHistoryStore opens (or creates) a SQLite database at dbPath
// and runs the schema migration.
func NewSQLiteHistoryStore(dbPath string) (*SQLiteHistoryStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history db: %w", err)
	}
	return &SQLiteHistoryStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS task_runs (
			task_id     TEXT NOT NULL,
			tenant_id   TEXT NOT NULL DEFAULT '',
			domain      TEXT NOT NULL,
			agent_id    TEXT NOT NULL DEFAULT '',
			batch_id    TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL,
			error       TEXT NOT NULL DEFAULT '',
			duration_ms INTEGER NOT NULL,
			worker_id   TEXT NOT NULL DEFAULT '',
			finished_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_task_runs_domain ON task_runs(domain, finished_at)
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteHistoryStore) Close() error {
	return s.db.Close()
}

// Record implements domain.HistoryStore.
func (s *SQLiteHistoryStore) Record(ctx context.Context, rec domain.TaskRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO task_runs (task_id, tenant_id, domain, agent_id, batch_id, status, error, duration_ms, worker_id, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TaskID, rec.TenantID, string(rec.Domain), rec.AgentID, rec.BatchID,
		string(rec.Status), rec.Error, rec.Duration.Milliseconds(), rec.WorkerID,
		rec.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("history: record: %w", err)
	}
	return nil
}

// RecentByDomain implements domain.HistoryStore. Records come back newest first.
func (s *SQLiteHistoryStore) RecentByDomain(ctx context.Context, d domain.Domain, limit int) ([]domain.TaskRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id, tenant_id, domain, agent_id, batch_id, status, error, duration_ms, worker_id, finished_at
		 FROM task_runs WHERE domain = ? ORDER BY finished_at DESC LIMIT ?`,
		string(d), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	var recs []domain.TaskRecord
	for rows.Next() {
		var rec domain.TaskRecord
		var dom, status, finishedAt string
		var durationMS int64
		if err := rows.Scan(&rec.TaskID, &rec.TenantID, &dom, &rec.AgentID, &rec.BatchID,
			&status, &rec.Error, &durationMS, &rec.WorkerID, &finishedAt); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		rec.Domain = domain.Domain(dom)
		rec.Status = domain.TaskStatus(status)
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		if t, err := time.Parse(time.RFC3339Nano, finishedAt); err == nil {
			rec.FinishedAt = t
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

var _ domain.HistoryStore = (*SQLiteHistoryStore)(nil)
