// Package config loads and validates the service's typed configuration
// via viper: one struct per concern, sane defaults, and a per-section
// Validate().
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the service.
type Config struct {
	Sources     []SourceConfig    `mapstructure:"sources"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Performance PerformanceConfig `mapstructure:"performance"`
	Deadlines   DeadlineConfig    `mapstructure:"deadlines"`
	Log         LogConfig         `mapstructure:"log"`
	Feedback    FeedbackConfig    `mapstructure:"feedback"`
	Escalation  EscalationConfig  `mapstructure:"escalation"`
}

// SourceConfig configures one adapter instance. Credentials are never
// inlined: AuthRef names an environment variable resolved at startup.
type SourceConfig struct {
	Name     string            `mapstructure:"name"`
	Kind     string            `mapstructure:"kind"` // filesystem | web | github
	Priority int               `mapstructure:"priority"`
	AuthRef  string            `mapstructure:"auth_ref"`
	Options  map[string]string `mapstructure:"options"`
}

// CacheConfig configures the hybrid T1/T2 cache.
type CacheConfig struct {
	MemoryMaxEntries int                        `mapstructure:"memory_max_entries"`
	DefaultTTL       time.Duration              `mapstructure:"default_ttl"`
	ContentTTL       map[string]time.Duration   `mapstructure:"content_ttl"`
	Warmup           map[string]bool            `mapstructure:"warmup"`
	CriticalSet      map[string][]string        `mapstructure:"critical_set"`
	WarmInterval     time.Duration              `mapstructure:"warm_interval"`
	Redis            RedisConfig                `mapstructure:"redis"`
	EnableMetrics    bool                       `mapstructure:"enable_metrics"`
}

// RedisConfig configures the T2 remote cache tier.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	PasswordRef  string        `mapstructure:"password_ref"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// PerformanceConfig bounds outbound concurrency and limiter behavior.
type PerformanceConfig struct {
	GlobalConcurrency  int           `mapstructure:"global_concurrency"`
	QueueWaitBudget    time.Duration `mapstructure:"queue_wait_budget"`
	AdapterRatePerSec  float64       `mapstructure:"adapter_rate_per_sec"`
	AdapterBurst       int           `mapstructure:"adapter_burst"`
}

// DeadlineConfig bounds the time budget for various operation classes.
type DeadlineConfig struct {
	Search       time.Duration `mapstructure:"search"`
	AdapterCall  time.Duration `mapstructure:"adapter_call"`
	RefreshIndex time.Duration `mapstructure:"refresh_index"`
}

// LogConfig holds logging configuration, mirroring logging.Config.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// FeedbackConfig configures the append-only feedback sink.
type FeedbackConfig struct {
	Path string `mapstructure:"path"`
}

// Contact is one entry in an escalation chain.
type Contact struct {
	Name              string `mapstructure:"name" json:"name"`
	Role              string `mapstructure:"role" json:"role,omitempty"`
	Channel           string `mapstructure:"channel" json:"channel"` // pager | slack | email | phone
	Target            string `mapstructure:"target" json:"target"`
	BusinessHoursOnly bool   `mapstructure:"business_hours_only" json:"business_hours_only,omitempty"`
}

// EscalationPolicy is one severity level's ordered contact chain plus
// the thresholds that govern when to advance along it.
type EscalationPolicy struct {
	Contacts               []Contact     `mapstructure:"contacts" json:"contacts"`
	InitialWaitBeforeNext  time.Duration `mapstructure:"initial_wait_before_next" json:"initial_wait_before_next"`
	FailedAttemptThreshold int           `mapstructure:"failed_attempt_threshold" json:"failed_attempt_threshold"`
}

// EscalationConfig configures the get_escalation_path tool: a
// per-severity ordered contact chain and the thresholds that trigger
// advancing to the next contact.
type EscalationConfig struct {
	BySeverity map[string]EscalationPolicy `mapstructure:"by_severity"`
}

// PolicyFor returns the configured policy for severity, or the zero
// value and false if none is configured.
func (e *EscalationConfig) PolicyFor(severity string) (EscalationPolicy, bool) {
	p, ok := e.BySeverity[severity]
	return p, ok
}

// Load reads configuration from path (if non-empty) plus environment
// variables, applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("cache.memory_max_entries", 10000)
	v.SetDefault("cache.default_ttl", "15m")
	v.SetDefault("cache.content_ttl", map[string]string{
		"runbook":       "1h",
		"procedure":     "1h",
		"decision-tree": "1h",
		"api":           "10m",
		"guide":         "24h",
		"general":       "15m",
	})
	v.SetDefault("cache.enable_metrics", true)
	v.SetDefault("cache.warm_interval", "10m")
	v.SetDefault("cache.redis.addr", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.pool_size", 10)
	v.SetDefault("cache.redis.dial_timeout", "5s")
	v.SetDefault("cache.redis.read_timeout", "3s")
	v.SetDefault("cache.redis.write_timeout", "3s")

	v.SetDefault("performance.global_concurrency", 50)
	v.SetDefault("performance.queue_wait_budget", "2s")
	v.SetDefault("performance.adapter_rate_per_sec", 10.0)
	v.SetDefault("performance.adapter_burst", 20)

	v.SetDefault("deadlines.search", "5s")
	v.SetDefault("deadlines.adapter_call", "3s")
	v.SetDefault("deadlines.refresh_index", "2m")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stderr")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)
	v.SetDefault("log.compress", true)

	v.SetDefault("feedback.path", "feedback.jsonl")

	v.SetDefault("escalation.by_severity.critical.failed_attempt_threshold", 1)
	v.SetDefault("escalation.by_severity.critical.initial_wait_before_next", "5m")
	v.SetDefault("escalation.by_severity.high.failed_attempt_threshold", 2)
	v.SetDefault("escalation.by_severity.high.initial_wait_before_next", "15m")
	v.SetDefault("escalation.by_severity.medium.failed_attempt_threshold", 3)
	v.SetDefault("escalation.by_severity.medium.initial_wait_before_next", "30m")
	v.SetDefault("escalation.by_severity.low.failed_attempt_threshold", 5)
	v.SetDefault("escalation.by_severity.low.initial_wait_before_next", "2h")
}

// Validate validates the full configuration tree.
func (c *Config) Validate() error {
	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one source must be configured")
	}
	seen := make(map[string]bool, len(c.Sources))
	for i := range c.Sources {
		if err := c.Sources[i].Validate(); err != nil {
			return fmt.Errorf("sources[%d]: %w", i, err)
		}
		if seen[c.Sources[i].Name] {
			return fmt.Errorf("sources[%d]: duplicate source name %q", i, c.Sources[i].Name)
		}
		seen[c.Sources[i].Name] = true
	}
	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if err := c.Performance.Validate(); err != nil {
		return fmt.Errorf("performance: %w", err)
	}
	if err := c.Deadlines.Validate(); err != nil {
		return fmt.Errorf("deadlines: %w", err)
	}
	if c.Log.Level == "" {
		return fmt.Errorf("log.level cannot be empty")
	}
	if c.Feedback.Path == "" {
		return fmt.Errorf("feedback.path cannot be empty")
	}
	return nil
}

// Validate validates a single source entry.
func (s *SourceConfig) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	switch s.Kind {
	case "filesystem", "web", "github":
	default:
		return fmt.Errorf("unknown kind %q (must be filesystem, web, or github)", s.Kind)
	}
	if s.Priority < 0 {
		return fmt.Errorf("priority cannot be negative")
	}
	return nil
}

// Validate validates cache configuration.
func (c *CacheConfig) Validate() error {
	if c.MemoryMaxEntries <= 0 {
		return fmt.Errorf("memory_max_entries must be positive")
	}
	if c.DefaultTTL <= 0 {
		return fmt.Errorf("default_ttl must be positive")
	}
	for contentType, ttl := range c.ContentTTL {
		if ttl <= 0 {
			return fmt.Errorf("content_ttl[%s] must be positive", contentType)
		}
	}
	return nil
}

// Validate validates performance/concurrency configuration.
func (p *PerformanceConfig) Validate() error {
	if p.GlobalConcurrency <= 0 {
		return fmt.Errorf("global_concurrency must be positive")
	}
	if p.QueueWaitBudget <= 0 {
		return fmt.Errorf("queue_wait_budget must be positive")
	}
	if p.AdapterRatePerSec <= 0 {
		return fmt.Errorf("adapter_rate_per_sec must be positive")
	}
	if p.AdapterBurst <= 0 {
		return fmt.Errorf("adapter_burst must be positive")
	}
	return nil
}

// Validate validates deadline configuration.
func (d *DeadlineConfig) Validate() error {
	if d.Search <= 0 {
		return fmt.Errorf("search deadline must be positive")
	}
	if d.AdapterCall <= 0 {
		return fmt.Errorf("adapter_call deadline must be positive")
	}
	if d.RefreshIndex <= 0 {
		return fmt.Errorf("refresh_index deadline must be positive")
	}
	return nil
}

// TTLFor returns the configured TTL for contentType, falling back to
// DefaultTTL when no entry exists.
func (c *CacheConfig) TTLFor(contentType string) time.Duration {
	if ttl, ok := c.ContentTTL[contentType]; ok {
		return ttl
	}
	return c.DefaultTTL
}

// WarmupEnabled reports whether contentType participates in cache warming.
func (c *CacheConfig) WarmupEnabled(contentType string) bool {
	return c.Warmup[contentType]
}
