package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML fields accept "30s"-style strings.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the top-level application configuration.
type Config struct {
	Logger     LoggerConfig      `yaml:"logger"`
	Tracer     TracerConfig      `yaml:"tracer"`
	Metrics    MetricsConfig     `yaml:"metrics"`
	Store      StoreConfig       `yaml:"store"`
	History    HistoryConfig     `yaml:"history"`
	Partitions []PartitionConfig `yaml:"partitions"`
	Workers    WorkersConfig     `yaml:"workers"`
	Breakers   []BreakerConfig   `yaml:"breakers"`
	RateLimits RateLimitsConfig  `yaml:"rate_limits"`
	Seeder     SeederConfig      `yaml:"seeder"`
	Handler    HandlerConfig     `yaml:"handler"`
	Agents     []AgentConfig     `yaml:"agents"`
}

// LoggerConfig controls structured logging output.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
	Output string `yaml:"output"` // stdout, stderr, or a file path
}

// TracerConfig controls OpenTelemetry tracing.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // "stdout" or "noop"
}

// MetricsConfig controls the OpenTelemetry metrics pipeline.
type MetricsConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Exporter string   `yaml:"exporter"` // "stdout" or "noop"
	Interval Duration `yaml:"interval"` // export interval (default: 30s)
}

// StoreConfig selects the shared ordered store backend.
// An empty RedisURL selects the in-memory standalone store.
type StoreConfig struct {
	RedisURL  string `yaml:"redis_url"` // e.g. "redis://localhost:6379"
	KeyPrefix string `yaml:"key_prefix"`
}

// HistoryConfig controls the SQLite task history store.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// PartitionConfig defines one per-domain queue partition.
type PartitionConfig struct {
	Domain   string `yaml:"domain"`
	MaxSize  int64  `yaml:"max_size"`
	Workers  int    `yaml:"workers"`
	MaxDepth int64  `yaml:"max_depth,omitempty"` // backpressure threshold; 0 = 90% of max_size
}

// WorkersConfig tunes the worker pool supervisor.
type WorkersConfig struct {
	MonitorInterval  Duration `yaml:"monitor_interval"`   // default: 15s
	IdleSleep        Duration `yaml:"idle_sleep"`         // default: 500ms
	ErrorBackoff     Duration `yaml:"error_backoff"`      // default: 30s
	RespawnPerMinute int      `yaml:"respawn_per_minute"` // default: 30
}

// BreakerConfig defines one named circuit breaker.
type BreakerConfig struct {
	Name             string   `yaml:"name"`
	FailureThreshold uint32   `yaml:"failure_threshold"` // default: 5
	RecoveryTimeout  Duration `yaml:"recovery_timeout"`  // default: 60s
	SuccessThreshold uint32   `yaml:"success_threshold"` // default: 3
	Timeout          Duration `yaml:"timeout"`           // per-operation deadline, default: 30s
}

// RateLimitConfig is the YAML form of a domain.RateLimit.
type RateLimitConfig struct {
	Limit          int `yaml:"limit"`
	WindowSeconds  int `yaml:"window_seconds"`
	BurstAllowance int `yaml:"burst_allowance"`
}

// TenantOverrideConfig replaces the default limit of one limit type for a tenant.
type TenantOverrideConfig struct {
	Tenant    string          `yaml:"tenant"`
	LimitType string          `yaml:"limit_type"`
	Limit     RateLimitConfig `yaml:"limit"`
}

// RateLimitsConfig holds default limits keyed by limit type, plus overrides.
type RateLimitsConfig struct {
	Defaults  map[string]RateLimitConfig `yaml:"defaults,omitempty"`
	Overrides []TenantOverrideConfig     `yaml:"overrides,omitempty"`
}

// SeederConfig holds the continuous seeder settings.
type SeederConfig struct {
	Enabled        bool             `yaml:"enabled"`
	HighWaterRatio float64          `yaml:"high_water_ratio"` // default: 0.8
	FailureBackoff Duration         `yaml:"failure_backoff"`  // default: 60s
	Schedules      []ScheduleConfig `yaml:"schedules"`
}

// ScheduleConfig defines one seeding schedule.
type ScheduleConfig struct {
	Name       string         `yaml:"name"`
	Domain     string         `yaml:"domain"`
	Capability string         `yaml:"capability"`
	Interval   Duration       `yaml:"interval"`
	BatchSize  int            `yaml:"batch_size"`
	Priority   int            `yaml:"priority"`
	Tenant     string         `yaml:"tenant,omitempty"`
	Template   map[string]any `yaml:"template,omitempty"`
}

// HandlerConfig selects the task handler wired into workers.
type HandlerConfig struct {
	Type        string   `yaml:"type"` // "log" or "webhook"
	URL         string   `yaml:"url,omitempty"`
	ConnTimeout Duration `yaml:"conn_timeout,omitempty"`
	RespTimeout Duration `yaml:"resp_timeout,omitempty"`
}

// AgentConfig is one bootstrap agent roster entry.
type AgentConfig struct {
	ID              string   `yaml:"id"`
	Domain          string   `yaml:"domain"`
	Capabilities    []string `yaml:"capabilities"`
	PriorityWeight  int      `yaml:"priority_weight"`
	MaxConcurrent   int      `yaml:"max_concurrent"`
	RetryAttempts   int      `yaml:"retry_attempts"`
	HourlyRateLimit int      `yaml:"hourly_rate_limit"`
	Timeout         Duration `yaml:"timeout"`
}

// Load reads, parses, validates, and applies defaults to a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a config with every default applied and one partition per
// domain. Useful for tests and the zero-config standalone mode.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Logger.Format == "" {
		c.Logger.Format = "text"
	}
	if c.Store.KeyPrefix == "" {
		c.Store.KeyPrefix = "taskgrid"
	}
	if c.Metrics.Interval == 0 {
		c.Metrics.Interval = Duration(30 * time.Second)
	}
	if len(c.Partitions) == 0 {
		for _, d := range defaultDomains {
			c.Partitions = append(c.Partitions, PartitionConfig{
				Domain:  d,
				MaxSize: 10000,
				Workers: 4,
			})
		}
	}
	for i := range c.Partitions {
		if c.Partitions[i].MaxSize <= 0 {
			c.Partitions[i].MaxSize = 10000
		}
		if c.Partitions[i].Workers <= 0 {
			c.Partitions[i].Workers = 4
		}
		if c.Partitions[i].MaxDepth <= 0 {
			c.Partitions[i].MaxDepth = c.Partitions[i].MaxSize * 9 / 10
		}
	}
	if c.Workers.MonitorInterval == 0 {
		c.Workers.MonitorInterval = Duration(15 * time.Second)
	}
	if c.Workers.IdleSleep == 0 {
		c.Workers.IdleSleep = Duration(500 * time.Millisecond)
	}
	if c.Workers.ErrorBackoff == 0 {
		c.Workers.ErrorBackoff = Duration(30 * time.Second)
	}
	if c.Workers.RespawnPerMinute <= 0 {
		c.Workers.RespawnPerMinute = 30
	}
	for i := range c.Breakers {
		b := &c.Breakers[i]
		if b.FailureThreshold == 0 {
			b.FailureThreshold = 5
		}
		if b.RecoveryTimeout == 0 {
			b.RecoveryTimeout = Duration(60 * time.Second)
		}
		if b.SuccessThreshold == 0 {
			b.SuccessThreshold = 3
		}
		if b.Timeout == 0 {
			b.Timeout = Duration(30 * time.Second)
		}
	}
	if c.Seeder.HighWaterRatio <= 0 || c.Seeder.HighWaterRatio > 1 {
		c.Seeder.HighWaterRatio = 0.8
	}
	if c.Seeder.FailureBackoff == 0 {
		c.Seeder.FailureBackoff = Duration(60 * time.Second)
	}
	if c.Handler.Type == "" {
		c.Handler.Type = "log"
	}
}

var defaultDomains = []string{"research", "marketing", "sales", "finance", "operations", "analytics"}

// Validate checks cross-field constraints that defaults cannot repair.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Partitions))
	for _, p := range c.Partitions {
		if !validDomain(p.Domain) {
			return fmt.Errorf("partition: unknown domain %q", p.Domain)
		}
		if seen[p.Domain] {
			return fmt.Errorf("partition: duplicate domain %q", p.Domain)
		}
		seen[p.Domain] = true
	}
	for _, s := range c.Seeder.Schedules {
		if s.Name == "" {
			return fmt.Errorf("seeder schedule: name is required")
		}
		if !validDomain(s.Domain) {
			return fmt.Errorf("seeder schedule %q: unknown domain %q", s.Name, s.Domain)
		}
		if s.Interval <= 0 {
			return fmt.Errorf("seeder schedule %q: interval must be positive", s.Name)
		}
		if s.BatchSize <= 0 {
			return fmt.Errorf("seeder schedule %q: batch_size must be positive", s.Name)
		}
		if s.Priority < 1 || s.Priority > 10 {
			return fmt.Errorf("seeder schedule %q: priority must be 1..10", s.Name)
		}
	}
	if c.Handler.Type == "webhook" && c.Handler.URL == "" {
		return fmt.Errorf("handler: webhook requires url")
	}
	return nil
}

func validDomain(s string) bool {
	for _, d := range defaultDomains {
		if s == d {
			return true
		}
	}
	return false
}
