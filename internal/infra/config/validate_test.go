package config

import (
	"strings"
	"testing"
	"time"
)

// baseConfig returns a valid config with one provider and one worker.
func baseConfig() *Config {
	cfg := Defaults()
	cfg.Classifier.Taxonomy = []string{"summarize"}
	cfg.LLM.Providers = []ProviderConfig{{
		Name:    "main",
		Type:    "openai",
		BaseURL: "https://api.example.com/v1",
		Model:   "gpt-4o-mini",
	}}
	cfg.Workers = []WorkerConfig{{
		ID:     "summarizer",
		Name:   "Summarizer",
		Prompt: "Summarize.",
		Capabilities: []CapabilityConfig{{
			Intent:       "summarize",
			Confidence:   0.9,
			InputSchema:  map[string]any{"type": "object"},
			OutputSchema: map[string]any{"type": "object"},
		}},
	}}
	return cfg
}

func TestValidateAcceptsBaseConfig(t *testing.T) {
	if err := Validate(baseConfig()); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateAccumulatesErrors(t *testing.T) {
	cfg := baseConfig()
	cfg.Coordinator.HighConfidence = 2
	cfg.Workers[0].Prompt = ""
	cfg.Logger.Level = "shouty"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("err type = %T", err)
	}
	if len(ve.Errors) != 3 {
		t.Errorf("got %d errors, want 3: %v", len(ve.Errors), ve.Errors)
	}
}

func TestValidateProviderRules(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"openai needs base_url", func(c *Config) { c.LLM.Providers[0].BaseURL = "" }, "base_url is required"},
		{"unknown type", func(c *Config) { c.LLM.Providers[0].Type = "llamacpp" }, "unknown type"},
		{"bedrock needs region", func(c *Config) {
			c.LLM.Providers[0] = ProviderConfig{Name: "main", Type: "bedrock"}
		}, "region is required"},
		{"default must exist", func(c *Config) { c.LLM.DefaultProvider = "ghost" }, "does not match any configured provider"},
		{"duplicate names", func(c *Config) {
			c.LLM.Providers = append(c.LLM.Providers, c.LLM.Providers[0])
			c.LLM.DefaultProvider = "main"
		}, "duplicate provider name"},
		{"multiple providers need a default", func(c *Config) {
			second := c.LLM.Providers[0]
			second.Name = "backup"
			c.LLM.Providers = append(c.LLM.Providers, second)
		}, "default_provider is required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := baseConfig()
			tc.mutate(cfg)
			err := Validate(cfg)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("err = %v, want substring %q", err, tc.want)
			}
		})
	}
}

func TestValidateWorkerRules(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing id", func(c *Config) { c.Workers[0].ID = "" }, "id is required"},
		{"missing prompt", func(c *Config) { c.Workers[0].Prompt = "" }, "prompt is required"},
		{"no capabilities", func(c *Config) { c.Workers[0].Capabilities = nil }, "at least one capability"},
		{"missing intent", func(c *Config) { c.Workers[0].Capabilities[0].Intent = "" }, "intent is required"},
		{"zero confidence", func(c *Config) { c.Workers[0].Capabilities[0].Confidence = 0 }, "confidence must be in (0,1]"},
		{"confidence above one", func(c *Config) { c.Workers[0].Capabilities[0].Confidence = 1.5 }, "confidence must be in (0,1]"},
		{"missing schema", func(c *Config) { c.Workers[0].Capabilities[0].OutputSchema = nil }, "output_schema are required"},
		{"unknown provider ref", func(c *Config) { c.Workers[0].Provider = "ghost" }, "does not match any configured provider"},
		{"duplicate ids", func(c *Config) { c.Workers = append(c.Workers, c.Workers[0]) }, "duplicate worker id"},
		{"over registry ceiling", func(c *Config) {
			c.Registry.MaxWorkers = 1
			second := c.Workers[0]
			second.ID = "second"
			c.Workers = append(c.Workers, second)
		}, "registry.max_workers"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := baseConfig()
			tc.mutate(cfg)
			err := Validate(cfg)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("err = %v, want substring %q", err, tc.want)
			}
		})
	}
}

func TestValidateQuotaRules(t *testing.T) {
	cfg := baseConfig()
	cfg.Quota.Enabled = true
	cfg.Quota.Window = 0
	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "quota.window must be > 0") {
		t.Errorf("err = %v", err)
	}

	cfg = baseConfig()
	cfg.Quota.Enabled = true
	cfg.Quota.Window = time.Minute
	err = Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "all limits are zero") {
		t.Errorf("err = %v", err)
	}

	cfg.Quota.Limits.MaxRequests = 10
	if err := Validate(cfg); err != nil {
		t.Errorf("quota with one limit should validate: %v", err)
	}

	// Disabled quota skips the checks entirely.
	cfg = baseConfig()
	cfg.Quota.Enabled = false
	cfg.Quota.Window = 0
	if err := Validate(cfg); err != nil {
		t.Errorf("disabled quota must not be validated: %v", err)
	}
}

func TestValidateStoreRules(t *testing.T) {
	cfg := baseConfig()
	cfg.Store.Backend = "redis"
	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "redis_url is required") {
		t.Errorf("err = %v", err)
	}

	cfg.Store.RedisURL = "redis://localhost:6379/0"
	if err := Validate(cfg); err != nil {
		t.Errorf("redis with url should validate: %v", err)
	}

	cfg = baseConfig()
	cfg.Store.Backend = "etcd"
	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "not supported") {
		t.Errorf("err = %v", err)
	}
}

func TestValidateSchedulerRules(t *testing.T) {
	cfg := baseConfig()
	cfg.Scheduler.Enabled = true
	cfg.Scheduler.Tasks = []ScheduledTaskConfig{
		{Name: "hc", Schedule: "30s", Action: "health_check"},
		{Name: "bad", Schedule: "30s", Action: "defrag"},
	}
	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), `unknown action "defrag"`) {
		t.Errorf("err = %v", err)
	}
}

func TestValidateClassifierNeedsTaxonomy(t *testing.T) {
	cfg := baseConfig()
	cfg.Classifier.Taxonomy = nil
	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "taxonomy must not be empty") {
		t.Errorf("err = %v", err)
	}
}
