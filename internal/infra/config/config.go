package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Classifier  ClassifierConfig  `yaml:"classifier"`
	Registry    RegistryConfig    `yaml:"registry"`
	Quota       QuotaConfig       `yaml:"quota"`
	Cache       CacheConfig       `yaml:"cache"`
	Store       StoreConfig       `yaml:"store"`
	LLM         LLMConfig         `yaml:"llm"`
	Workers     []WorkerConfig    `yaml:"workers"`
	Logger      LoggerConfig      `yaml:"logger"`
	Tracer      TracerConfig      `yaml:"tracer"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
}

// CoordinatorConfig holds dispatch and worker selection settings.
type CoordinatorConfig struct {
	HighConfidence     float64           `yaml:"high_confidence"`
	SecondaryThreshold float64           `yaml:"secondary_threshold"`
	MaxCandidates      int               `yaml:"max_candidates"`
	CostPerUnit        float64           `yaml:"cost_per_unit"`
	Constraints        ConstraintsConfig `yaml:"constraints"`
}

// ConstraintsConfig holds per-request execution limits.
type ConstraintsConfig struct {
	MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	MaxResourceUnits int64         `yaml:"max_resource_units"`
	MaxCost          float64       `yaml:"max_cost"`
	AllowSubWorkers  bool          `yaml:"allow_sub_workers"`
	RetryCount       int           `yaml:"retry_count"`
}

// ClassifierConfig holds intent classification settings.
type ClassifierConfig struct {
	Model           string   `yaml:"model"`
	Taxonomy        []string `yaml:"taxonomy"`
	ConfidenceFloor float64  `yaml:"confidence_floor"`
	MaxTokens       int      `yaml:"max_tokens"`
	RequestsPerMin  float64  `yaml:"requests_per_min"`
	BurstSize       int      `yaml:"burst_size"`
}

// RegistryConfig holds worker registry settings.
type RegistryConfig struct {
	MaxWorkers int           `yaml:"max_workers"` // 0 = unlimited
	StaleAfter time.Duration `yaml:"stale_after"`
}

// QuotaConfig holds per-caller quota settings.
type QuotaConfig struct {
	Enabled      bool              `yaml:"enabled"`
	Window       time.Duration     `yaml:"window"`
	RecordFailed bool              `yaml:"record_failed"`
	Limits       QuotaLimitsConfig `yaml:"limits"`
}

// QuotaLimitsConfig holds per-window quota ceilings. Zero disables a dimension.
type QuotaLimitsConfig struct {
	MaxRequests      int64   `yaml:"max_requests"`
	MaxResourceUnits int64   `yaml:"max_resource_units"`
	MaxCost          float64 `yaml:"max_cost"`
}

// CacheConfig holds response memoization settings.
type CacheConfig struct {
	Enabled       bool          `yaml:"enabled"`
	TTL           time.Duration `yaml:"ttl"`
	MaxEntryBytes int           `yaml:"max_entry_bytes"`
}

// StoreConfig selects the shared KV backend used for quota and cache state.
type StoreConfig struct {
	Backend    string `yaml:"backend"`     // "memory", "redis", "sqlite"
	RedisURL   string `yaml:"redis_url"`   // e.g. "redis://localhost:6379/0"
	SQLitePath string `yaml:"sqlite_path"` // e.g. "./data/conductor.db"
}

// LLMConfig holds LLM provider settings.
type LLMConfig struct {
	DefaultProvider string               `yaml:"default_provider"`
	Providers       []ProviderConfig     `yaml:"providers"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ProviderConfig defines a single LLM provider endpoint.
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	Type        string        `yaml:"type"` // "openai", "bedrock"
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Region      string        `yaml:"region,omitempty"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	Pool        PoolConfig    `yaml:"pool"`
}

// PoolConfig holds HTTP connection pool settings for a provider.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// CircuitBreakerConfig holds circuit breaker settings for LLM calls.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// WorkerConfig defines an LLM-backed task worker loaded at startup.
type WorkerConfig struct {
	ID           string             `yaml:"id"`
	Name         string             `yaml:"name"`
	Description  string             `yaml:"description"`
	Provider     string             `yaml:"provider,omitempty"` // defaults to llm.default_provider
	Model        string             `yaml:"model"`
	Prompt       string             `yaml:"prompt"`
	MaxTokens    int                `yaml:"max_tokens"`
	Capabilities []CapabilityConfig `yaml:"capabilities"`
}

// CapabilityConfig declares one intent a worker can handle.
type CapabilityConfig struct {
	Intent       string         `yaml:"intent"`
	Description  string         `yaml:"description"`
	Confidence   float64        `yaml:"confidence"`
	InputSchema  map[string]any `yaml:"input_schema"`
	OutputSchema map[string]any `yaml:"output_schema"`
	Examples     []string       `yaml:"examples,omitempty"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint"`
}

// SchedulerConfig holds recurring maintenance task settings.
type SchedulerConfig struct {
	Enabled bool                  `yaml:"enabled"`
	Tasks   []ScheduledTaskConfig `yaml:"tasks"`
}

// ScheduledTaskConfig defines one scheduled maintenance task.
type ScheduledTaskConfig struct {
	Name     string `yaml:"name"`
	Schedule string `yaml:"schedule"` // cron expression or duration string
	Action   string `yaml:"action"`
	OneShot  bool   `yaml:"one_shot,omitempty"`
}

// Defaults returns a Config with sane defaults applied.
func Defaults() *Config {
	return &Config{
		Coordinator: CoordinatorConfig{
			HighConfidence:     0.9,
			SecondaryThreshold: 0.5,
			MaxCandidates:      3,
			Constraints: ConstraintsConfig{
				MaxExecutionTime: 2 * time.Minute,
			},
		},
		Classifier: ClassifierConfig{
			ConfidenceFloor: 0.3,
			MaxTokens:       512,
		},
		Registry: RegistryConfig{
			StaleAfter: time.Hour,
		},
		Quota: QuotaConfig{
			Enabled: false,
			Window:  time.Minute,
		},
		Cache: CacheConfig{
			Enabled:       false,
			TTL:           5 * time.Minute,
			MaxEntryBytes: 256 * 1024,
		},
		Store: StoreConfig{
			Backend: "memory",
		},
		LLM: LLMConfig{
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
		Scheduler: SchedulerConfig{
			Enabled: false,
		},
	}
}

// Load reads a YAML config file and applies env var overrides. A missing
// file yields the defaults, still subject to overrides and validation.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps CONDUCTOR_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CONDUCTOR_LLM_DEFAULT_PROVIDER"); v != "" {
		cfg.LLM.DefaultProvider = v
	}
	if v := os.Getenv("CONDUCTOR_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("CONDUCTOR_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("CONDUCTOR_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("CONDUCTOR_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("CONDUCTOR_STORE_REDIS_URL"); v != "" {
		cfg.Store.RedisURL = v
	}
	if v := os.Getenv("CONDUCTOR_STORE_SQLITE_PATH"); v != "" {
		cfg.Store.SQLitePath = v
	}
	if v := os.Getenv("CONDUCTOR_QUOTA_ENABLED"); v == "true" {
		cfg.Quota.Enabled = true
	} else if v == "false" {
		cfg.Quota.Enabled = false
	}
	if v := os.Getenv("CONDUCTOR_QUOTA_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Quota.Window = d
		}
	}
	if v := os.Getenv("CONDUCTOR_QUOTA_MAX_REQUESTS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			cfg.Quota.Limits.MaxRequests = n
		}
	}
	if v := os.Getenv("CONDUCTOR_CACHE_ENABLED"); v == "true" {
		cfg.Cache.Enabled = true
	} else if v == "false" {
		cfg.Cache.Enabled = false
	}
	if v := os.Getenv("CONDUCTOR_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Cache.TTL = d
		}
	}
	if v := os.Getenv("CONDUCTOR_CLASSIFIER_MODEL"); v != "" {
		cfg.Classifier.Model = v
	}

	// Per-provider API key overrides: CONDUCTOR_LLM_PROVIDER_<NAME>_API_KEY
	for i := range cfg.LLM.Providers {
		envKey := fmt.Sprintf("CONDUCTOR_LLM_PROVIDER_%s_API_KEY",
			strings.ToUpper(cfg.LLM.Providers[i].Name))
		if v := os.Getenv(envKey); v != "" {
			cfg.LLM.Providers[i].APIKey = v
		}
	}
}

// validatePermissions rejects config files readable or writable by group/other
// beyond 0644. Provider API keys live in the file.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
