//go:build bedrock

package main

import (
	"log/slog"

	"conductor/internal/adapter/llm"
	"conductor/internal/domain"
	"conductor/internal/infra/config"
)

func createBedrockProvider(pc config.ProviderConfig, log *slog.Logger) (domain.LLMProvider, error) {
	return llm.NewBedrockProvider(pc, log)
}
