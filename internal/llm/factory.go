package llm

import (
	"strings"

	"github.com/tomsuharto-git/irm-personas-api/internal/config"
)

// NewFromConfig picks the provider from configuration. Unknown or missing
// providers fall back to the deterministic mock so local development never
// needs credentials. onRetry, if non-nil, is called with the provider name
// once per retry backoff.
func NewFromConfig(cfg config.Config, onRetry func(provider string)) Client {
	switch strings.ToLower(strings.TrimSpace(cfg.LLMProvider)) {
	case "anthropic":
		client := NewAnthropicClient(
			cfg.AnthropicAPIKey,
			cfg.AnthropicModel,
			cfg.ProviderTimeout,
			cfg.ProviderMaxRetries,
			cfg.ProviderRetryBase,
		)
		if onRetry != nil {
			client.OnRetry(func() { onRetry(client.Name()) })
		}
		return client
	case "openai":
		client := NewOpenAIClient(
			cfg.OpenAIAPIKey,
			cfg.OpenAIBaseURL,
			cfg.OpenAIModel,
			cfg.ProviderTimeout,
			cfg.ProviderMaxRetries,
			cfg.ProviderRetryBase,
		)
		if onRetry != nil {
			client.OnRetry(func() { onRetry(client.Name()) })
		}
		return client
	default:
		return NewMockClient()
	}
}
