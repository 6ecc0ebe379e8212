package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "taskgrid.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
logger:
  level: debug
  format: json
store:
  redis_url: redis://localhost:6379
  key_prefix: tg
partitions:
  - domain: research
    max_size: 500
    workers: 8
  - domain: sales
workers:
  monitor_interval: 5s
  idle_sleep: 250ms
breakers:
  - name: redis
    failure_threshold: 3
    recovery_timeout: 90s
seeder:
  enabled: true
  high_water_ratio: 0.7
  schedules:
    - name: research-hourly
      domain: research
      capability: market_research
      interval: 1h
      batch_size: 20
      priority: 5
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Logger.Level != "debug" || cfg.Logger.Format != "json" {
		t.Errorf("logger = %+v", cfg.Logger)
	}
	if cfg.Store.KeyPrefix != "tg" {
		t.Errorf("key prefix = %q", cfg.Store.KeyPrefix)
	}
	if cfg.Workers.MonitorInterval.Std() != 5*time.Second {
		t.Errorf("monitor interval = %v, want 5s", cfg.Workers.MonitorInterval.Std())
	}
	if cfg.Workers.IdleSleep.Std() != 250*time.Millisecond {
		t.Errorf("idle sleep = %v, want 250ms", cfg.Workers.IdleSleep.Std())
	}

	if len(cfg.Partitions) != 2 {
		t.Fatalf("partitions = %d, want 2", len(cfg.Partitions))
	}
	if cfg.Partitions[0].MaxDepth != 450 {
		t.Errorf("research max_depth = %d, want 450 (90%% of max_size)", cfg.Partitions[0].MaxDepth)
	}
	// Unset partition fields pick up defaults.
	if cfg.Partitions[1].MaxSize != 10000 || cfg.Partitions[1].Workers != 4 {
		t.Errorf("sales partition = %+v, want defaults", cfg.Partitions[1])
	}

	b := cfg.Breakers[0]
	if b.FailureThreshold != 3 || b.RecoveryTimeout.Std() != 90*time.Second {
		t.Errorf("breaker = %+v", b)
	}
	if b.SuccessThreshold != 3 || b.Timeout.Std() != 30*time.Second {
		t.Errorf("breaker defaults = %+v", b)
	}

	if cfg.Seeder.HighWaterRatio != 0.7 {
		t.Errorf("high water = %v, want 0.7", cfg.Seeder.HighWaterRatio)
	}
	if cfg.Seeder.Schedules[0].Interval.Std() != time.Hour {
		t.Errorf("schedule interval = %v, want 1h", cfg.Seeder.Schedules[0].Interval.Std())
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadBadDuration(t *testing.T) {
	path := writeConfig(t, "workers:\n  monitor_interval: soon\n")
	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid duration")
	}
}

func TestDefaultPartitions(t *testing.T) {
	cfg := Default()
	if len(cfg.Partitions) != 6 {
		t.Fatalf("default partitions = %d, want one per domain", len(cfg.Partitions))
	}
	for _, p := range cfg.Partitions {
		if p.MaxSize != 10000 || p.Workers != 4 || p.MaxDepth != 9000 {
			t.Errorf("partition %q = %+v, want defaults", p.Domain, p)
		}
	}
	if cfg.Handler.Type != "log" {
		t.Errorf("handler type = %q, want log", cfg.Handler.Type)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"unknown domain", "partitions:\n  - domain: gardening\n"},
		{"duplicate domain", "partitions:\n  - domain: sales\n  - domain: sales\n"},
		{"schedule without name", `
seeder:
  schedules:
    - domain: research
      interval: 1m
      batch_size: 5
      priority: 5
`},
		{"schedule priority out of range", `
seeder:
  schedules:
    - name: bad
      domain: research
      interval: 1m
      batch_size: 5
      priority: 11
`},
		{"webhook without url", "handler:\n  type: webhook\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.body)); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
