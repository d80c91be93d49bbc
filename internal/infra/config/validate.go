package config

import (
	"fmt"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateCoordinator(cfg, ve)
	validateClassifier(cfg, ve)
	validateLLM(cfg, ve)
	validateStore(cfg, ve)
	validateQuota(cfg, ve)
	validateCache(cfg, ve)
	validateWorkers(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	validateScheduler(cfg, ve)

	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateCoordinator(cfg *Config, ve *ValidationError) {
	c := cfg.Coordinator
	if c.HighConfidence < 0 || c.HighConfidence > 1 {
		ve.Add("coordinator.high_confidence must be in [0,1], got %v", c.HighConfidence)
	}
	if c.SecondaryThreshold < 0 || c.SecondaryThreshold > 1 {
		ve.Add("coordinator.secondary_threshold must be in [0,1], got %v", c.SecondaryThreshold)
	}
	if c.MaxCandidates < 0 {
		ve.Add("coordinator.max_candidates must be >= 0, got %d", c.MaxCandidates)
	}
	if c.CostPerUnit < 0 {
		ve.Add("coordinator.cost_per_unit must be >= 0, got %v", c.CostPerUnit)
	}
	if c.Constraints.MaxExecutionTime < 0 {
		ve.Add("coordinator.constraints.max_execution_time must be >= 0")
	}
}

func validateClassifier(cfg *Config, ve *ValidationError) {
	c := cfg.Classifier
	if len(cfg.Workers) > 0 && len(c.Taxonomy) == 0 {
		ve.Add("classifier.taxonomy must not be empty when workers are configured")
	}
	if c.ConfidenceFloor < 0 || c.ConfidenceFloor > 1 {
		ve.Add("classifier.confidence_floor must be in [0,1], got %v", c.ConfidenceFloor)
	}
	if c.RequestsPerMin < 0 {
		ve.Add("classifier.requests_per_min must be >= 0, got %v", c.RequestsPerMin)
	}
}

func validateLLM(cfg *Config, ve *ValidationError) {
	names := make(map[string]bool)
	for i, p := range cfg.LLM.Providers {
		if p.Name == "" {
			ve.Add("llm.providers[%d].name is required", i)
			continue
		}
		if names[p.Name] {
			ve.Add("llm.providers[%d]: duplicate provider name %q", i, p.Name)
		}
		names[p.Name] = true

		switch p.Type {
		case "openai":
			if p.BaseURL == "" {
				ve.Add("llm.providers[%d] (%s): base_url is required for openai providers", i, p.Name)
			}
		case "bedrock":
			if p.Region == "" {
				ve.Add("llm.providers[%d] (%s): region is required for bedrock providers", i, p.Name)
			}
		default:
			ve.Add("llm.providers[%d] (%s): unknown type %q (want openai or bedrock)", i, p.Name, p.Type)
		}
	}

	if cfg.LLM.DefaultProvider != "" && !names[cfg.LLM.DefaultProvider] {
		ve.Add("llm.default_provider %q does not match any configured provider", cfg.LLM.DefaultProvider)
	}
	if len(cfg.LLM.Providers) > 1 && cfg.LLM.DefaultProvider == "" {
		ve.Add("llm.default_provider is required when multiple providers are configured")
	}
}

func validateStore(cfg *Config, ve *ValidationError) {
	switch cfg.Store.Backend {
	case "memory", "":
	case "redis":
		if cfg.Store.RedisURL == "" {
			ve.Add("store.redis_url is required when store.backend is redis")
		}
	case "sqlite":
		if cfg.Store.SQLitePath == "" {
			ve.Add("store.sqlite_path is required when store.backend is sqlite")
		}
	default:
		ve.Add("store.backend %q is not supported (want memory, redis, or sqlite)", cfg.Store.Backend)
	}
}

func validateQuota(cfg *Config, ve *ValidationError) {
	q := cfg.Quota
	if !q.Enabled {
		return
	}
	if q.Window <= 0 {
		ve.Add("quota.window must be > 0 when quota is enabled")
	}
	if q.Limits.MaxRequests < 0 || q.Limits.MaxResourceUnits < 0 || q.Limits.MaxCost < 0 {
		ve.Add("quota.limits must be >= 0")
	}
	if q.Limits.MaxRequests == 0 && q.Limits.MaxResourceUnits == 0 && q.Limits.MaxCost == 0 {
		ve.Add("quota is enabled but all limits are zero; disable quota or set a limit")
	}
}

func validateCache(cfg *Config, ve *ValidationError) {
	if cfg.Cache.Enabled && cfg.Cache.TTL <= 0 {
		ve.Add("cache.ttl must be > 0 when cache is enabled")
	}
	if cfg.Cache.MaxEntryBytes < 0 {
		ve.Add("cache.max_entry_bytes must be >= 0")
	}
}

func validateWorkers(cfg *Config, ve *ValidationError) {
	ids := make(map[string]bool)
	for i, w := range cfg.Workers {
		if w.ID == "" {
			ve.Add("workers[%d].id is required", i)
			continue
		}
		if ids[w.ID] {
			ve.Add("workers[%d]: duplicate worker id %q", i, w.ID)
		}
		ids[w.ID] = true

		if w.Prompt == "" {
			ve.Add("workers[%d] (%s): prompt is required", i, w.ID)
		}
		if len(w.Capabilities) == 0 {
			ve.Add("workers[%d] (%s): at least one capability is required", i, w.ID)
		}
		for j, c := range w.Capabilities {
			if c.Intent == "" {
				ve.Add("workers[%d].capabilities[%d]: intent is required", i, j)
			}
			if c.Confidence <= 0 || c.Confidence > 1 {
				ve.Add("workers[%d].capabilities[%d] (%s): confidence must be in (0,1], got %v", i, j, c.Intent, c.Confidence)
			}
			if len(c.InputSchema) == 0 || len(c.OutputSchema) == 0 {
				ve.Add("workers[%d].capabilities[%d] (%s): input_schema and output_schema are required", i, j, c.Intent)
			}
		}
	}

	if len(cfg.Workers) > 0 && len(cfg.LLM.Providers) == 0 {
		ve.Add("workers are configured but llm.providers is empty")
	}
	providers := make(map[string]bool)
	for _, p := range cfg.LLM.Providers {
		providers[p.Name] = true
	}
	for i, w := range cfg.Workers {
		if w.Provider != "" && !providers[w.Provider] {
			ve.Add("workers[%d] (%s): provider %q does not match any configured provider", i, w.ID, w.Provider)
		}
	}
	if cfg.Registry.MaxWorkers > 0 && len(cfg.Workers) > cfg.Registry.MaxWorkers {
		ve.Add("workers: %d configured but registry.max_workers is %d", len(cfg.Workers), cfg.Registry.MaxWorkers)
	}
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		ve.Add("logger.level %q is not supported", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		ve.Add("logger.format %q is not supported (want text or json)", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "stdout", "noop", "":
	default:
		ve.Add("tracer.exporter %q is not supported (want stdout or noop)", cfg.Tracer.Exporter)
	}
}

func validateScheduler(cfg *Config, ve *ValidationError) {
	if !cfg.Scheduler.Enabled {
		return
	}
	for i, t := range cfg.Scheduler.Tasks {
		if t.Name == "" {
			ve.Add("scheduler.tasks[%d].name is required", i)
		}
		if t.Schedule == "" {
			ve.Add("scheduler.tasks[%d] (%s): schedule is required", i, t.Name)
		}
		switch t.Action {
		case "health_check", "registry_cleanup", "workflow_prune":
		default:
			ve.Add("scheduler.tasks[%d] (%s): unknown action %q", i, t.Name, t.Action)
		}
	}
}
