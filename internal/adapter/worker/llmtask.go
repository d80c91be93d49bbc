// Package worker provides Worker implementations built on external
// services. LLMTaskWorker delegates structured tasks to an LLM provider
// and enforces JSON-only output.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"conductor/internal/domain"
	"conductor/internal/infra/config"
	"conductor/internal/usecase"
)

// LLMTaskConfig holds settings for an LLM-backed task worker.
type LLMTaskConfig struct {
	Model       string
	Prompt      string        // task instruction; the request payload is appended as INPUT_JSON
	MaxTokens   int           // default 4096
	Timeout     time.Duration // per-call LLM timeout, default 30s
	CostPerUnit float64       // converts total tokens into cost
}

// NewLLMTaskWorker builds a BaseWorker whose execute step sends the
// request payload to the provider and parses the JSON it returns. The
// output schema declared in meta is enforced by BaseWorker afterwards.
func NewLLMTaskWorker(
	meta domain.WorkerMetadata,
	provider domain.LLMProvider,
	cfg LLMTaskConfig,
	logger *slog.Logger,
) (*usecase.BaseWorker, error) {
	if provider == nil {
		return nil, fmt.Errorf("llm task worker %q: provider is required", meta.ID)
	}
	if strings.TrimSpace(cfg.Prompt) == "" {
		return nil, fmt.Errorf("llm task worker %q: prompt is required", meta.ID)
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	execute := func(ctx context.Context, req domain.Request, _ *domain.ExecutionContext) (map[string]any, usecase.ExecuteUsage, error) {
		input, err := json.Marshal(req.Payload)
		if err != nil {
			return nil, usecase.ExecuteUsage{}, fmt.Errorf("marshal input: %w", err)
		}

		var userContent strings.Builder
		userContent.WriteString("TASK:\n")
		userContent.WriteString(cfg.Prompt)
		userContent.WriteString("\n\nINPUT_JSON:\n")
		userContent.Write(input)
		userContent.WriteString("\n")

		chatCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()

		resp, err := provider.Chat(chatCtx, domain.ChatRequest{
			Model: cfg.Model,
			Messages: []domain.Message{
				{Role: "system", Content: jsonOnlySystemPrompt},
				{Role: "user", Content: userContent.String()},
			},
			MaxTokens:   cfg.MaxTokens,
			Temperature: 0,
		})
		if err != nil {
			return nil, usecase.ExecuteUsage{}, fmt.Errorf("%w: %s", domain.ErrProviderError, err.Error())
		}

		payload, err := parseTaskOutput(resp.Content)
		if err != nil {
			return nil, usecase.ExecuteUsage{}, err
		}

		units := int64(resp.Usage.TotalTokens)
		return payload, usecase.ExecuteUsage{
			ResourceUnits: units,
			Cost:          float64(units) * cfg.CostPerUnit,
		}, nil
	}

	return usecase.NewBaseWorker(meta, execute, logger)
}

// FromConfig builds an LLM task worker from its config block.
func FromConfig(wc config.WorkerConfig, provider domain.LLMProvider, costPerUnit float64, logger *slog.Logger) (*usecase.BaseWorker, error) {
	caps := make([]domain.Capability, 0, len(wc.Capabilities))
	for _, cc := range wc.Capabilities {
		in, err := json.Marshal(cc.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("worker %q: marshal input schema for %q: %w", wc.ID, cc.Intent, err)
		}
		out, err := json.Marshal(cc.OutputSchema)
		if err != nil {
			return nil, fmt.Errorf("worker %q: marshal output schema for %q: %w", wc.ID, cc.Intent, err)
		}
		caps = append(caps, domain.Capability{
			Intent:       cc.Intent,
			Description:  cc.Description,
			InputSchema:  in,
			OutputSchema: out,
			Confidence:   cc.Confidence,
			Examples:     cc.Examples,
		})
	}

	meta := domain.WorkerMetadata{
		ID:           wc.ID,
		Name:         wc.Name,
		Category:     "llm",
		Capabilities: caps,
		Status:       domain.WorkerActive,
	}

	return NewLLMTaskWorker(meta, provider, LLMTaskConfig{
		Model:       wc.Model,
		Prompt:      wc.Prompt,
		MaxTokens:   wc.MaxTokens,
		CostPerUnit: costPerUnit,
	}, logger)
}

const jsonOnlySystemPrompt = "You are a JSON-only function. " +
	"Return ONLY a valid JSON object. " +
	"Do not wrap in markdown fences. " +
	"Do not include commentary."

// codeFenceRe matches markdown code fences wrapping JSON.
var codeFenceRe = regexp.MustCompile(`(?si)^` + "```" + `(?:json)?\s*(.*?)\s*` + "```" + `$`)

// parseTaskOutput decodes the model's reply as a JSON object, tolerating
// a markdown fence the system prompt failed to suppress.
func parseTaskOutput(content string) (map[string]any, error) {
	content = strings.TrimSpace(content)
	if m := codeFenceRe.FindStringSubmatch(content); len(m) > 1 {
		content = strings.TrimSpace(m[1])
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return nil, fmt.Errorf("model returned non-JSON output: %w", err)
	}
	return payload, nil
}
