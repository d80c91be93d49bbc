package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"golang.org/x/time/rate"

	"conductor/internal/domain"
)

// ClassifierConfig configures intent classification.
type ClassifierConfig struct {
	// Model overrides the provider default when set.
	Model string `yaml:"model"`
	// Taxonomy is the closed set of intent labels the classifier may
	// emit. Anything else is coerced through the prompt, not the parser.
	Taxonomy []string `yaml:"taxonomy"`
	// ConfidenceFloor below which classification is a terminal failure.
	ConfidenceFloor float64 `yaml:"confidence_floor"`
	MaxTokens       int     `yaml:"max_tokens"`
	// RequestsPerMin throttles classifier LLM calls; 0 disables.
	RequestsPerMin float64 `yaml:"requests_per_min"`
	BurstSize      int     `yaml:"burst_size"`
}

const defaultConfidenceFloor = 0.3

// IntentClassifier maps raw request payloads to the fixed intent taxonomy
// via the injected completion service. It does not retry: a low-confidence
// result is terminal at this layer and the caller may resubmit.
type IntentClassifier struct {
	provider domain.LLMProvider
	limiter  *rate.Limiter
	cfg      ClassifierConfig
	logger   *slog.Logger
}

// NewIntentClassifier creates a classifier.
func NewIntentClassifier(provider domain.LLMProvider, cfg ClassifierConfig, logger *slog.Logger) *IntentClassifier {
	if cfg.ConfidenceFloor <= 0 {
		cfg.ConfidenceFloor = defaultConfidenceFloor
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	if logger == nil {
		logger = discardLogger()
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerMin > 0 {
		burst := cfg.BurstSize
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerMin)/60.0, burst)
	}

	return &IntentClassifier{provider: provider, limiter: limiter, cfg: cfg, logger: logger}
}

const classifyPromptTemplate = `You classify task requests into a fixed taxonomy of intents.

Valid intents:
%s

Respond with ONLY a JSON object, no prose and no markdown fences:
{"primary_intent":{"name":"<intent>","confidence":<0..1>},"secondary_intents":[{"name":"<intent>","confidence":<0..1>}],"ambiguous":<bool>}

Rules:
- primary_intent.name MUST be one of the valid intents.
- List secondary intents only when genuinely plausible.
- Set ambiguous=true when no single intent clearly dominates.`

// Classify determines the request's primary and secondary intents.
// Confidence below the floor is a terminal classification failure.
func (c *IntentClassifier) Classify(ctx context.Context, req domain.Request) (*domain.IntentClassification, error) {
	const op = "IntentClassifier.Classify"

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, domain.NewCoordinationError(domain.PhaseClassification, op, domain.ErrTimeout, err.Error())
		}
	}

	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return nil, domain.NewCoordinationError(domain.PhaseClassification, op, domain.ErrInvalidInput, err.Error())
	}

	resp, err := c.provider.Chat(ctx, domain.ChatRequest{
		Model: c.cfg.Model,
		Messages: []domain.Message{
			{Role: "system", Content: fmt.Sprintf(classifyPromptTemplate, "- "+strings.Join(c.cfg.Taxonomy, "\n- "))},
			{Role: "user", Content: string(payload)},
		},
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: 0,
	})
	if err != nil {
		return nil, &domain.DomainError{
			Op:        op,
			Err:       domain.ErrProviderError,
			Detail:    err.Error(),
			Phase:     domain.PhaseClassification,
			Retryable: true,
		}
	}

	classification, err := parseClassification(resp.Content)
	if err != nil {
		return nil, domain.NewCoordinationError(domain.PhaseClassification, op, domain.ErrClassificationFailed, err.Error())
	}

	if classification.PrimaryIntent.Confidence < c.cfg.ConfidenceFloor {
		return nil, domain.NewCoordinationError(domain.PhaseClassification, op, domain.ErrClassificationFailed,
			fmt.Sprintf("confidence %.2f below floor %.2f", classification.PrimaryIntent.Confidence, c.cfg.ConfidenceFloor))
	}

	c.logger.Debug("intent classified",
		"request_id", req.ID,
		"intent", classification.PrimaryIntent.Name,
		"confidence", classification.PrimaryIntent.Confidence,
		"ambiguous", classification.Ambiguous,
	)
	return classification, nil
}

func parseClassification(content string) (*domain.IntentClassification, error) {
	var classification domain.IntentClassification
	if err := json.Unmarshal([]byte(stripCodeFences(content)), &classification); err != nil {
		return nil, fmt.Errorf("parse classifier output: %w", err)
	}
	if classification.PrimaryIntent.Name == "" {
		return nil, fmt.Errorf("classifier output missing primary intent")
	}
	return &classification, nil
}

// codeFenceRe matches markdown code fences wrapping JSON.
var codeFenceRe = regexp.MustCompile(`(?si)^` + "```" + `(?:json)?\s*(.*?)\s*` + "```" + `$`)

// stripCodeFences removes markdown code fences if the LLM wrapped its output.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if m := codeFenceRe.FindStringSubmatch(s); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return s
}
