package orchestrator

import (
	"context"
	"fmt"

	"github.com/zen-systems/agentgate/pkg/adapter"
	"github.com/zen-systems/agentgate/pkg/config"
)

// CreateAdapters builds every adapter the configuration has credentials for.
// Ollama and the mock adapter are always present.
func CreateAdapters(ctx context.Context, cfg *config.Config) (map[string]adapter.Adapter, error) {
	adapters := make(map[string]adapter.Adapter)

	switch {
	case cfg.Bedrock:
		a, err := adapter.NewBedrockAdapter(ctx, cfg.AWSRegion, cfg.AWSProfile)
		if err != nil {
			return nil, fmt.Errorf("failed to create bedrock adapter: %w", err)
		}
		adapters["anthropic"] = a
	case cfg.AnthropicAPIKey != "":
		a, err := adapter.NewAnthropicAdapter(cfg.AnthropicAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create anthropic adapter: %w", err)
		}
		adapters["anthropic"] = a
	}

	if cfg.OpenAIAPIKey != "" {
		a, err := adapter.NewOpenAIAdapter(cfg.OpenAIAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create openai adapter: %w", err)
		}
		adapters["openai"] = a
	}

	if cfg.GoogleAPIKey != "" {
		a, err := adapter.NewGoogleAdapter(ctx, cfg.GoogleAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create google adapter: %w", err)
		}
		adapters["google"] = a
	}

	if cfg.DeepSeekAPIKey != "" {
		a, err := adapter.NewDeepSeekAdapter(cfg.DeepSeekAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create deepseek adapter: %w", err)
		}
		adapters["deepseek"] = a
	}

	if cfg.OllamaHost != "" {
		adapters["ollama"] = adapter.NewOllamaAdapter(cfg.OllamaHost)
	}

	adapters["mock"] = adapter.NewMockAdapter()
	return adapters, nil
}
