package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/agenthands/council/internal/config"
)

func NewClient(ctx context.Context, cfg config.MemberConfig) (Client, error) {
	provider := strings.ToLower(cfg.Provider)

	switch provider {
	case "openai":
		return NewOpenAIClient(cfg.APIKey, cfg.Model, cfg.BaseURL), nil

	case "gemini":
		return NewGeminiClient(ctx, cfg.APIKey, cfg.Model)

	case "claude", "anthropic":
		return NewClaudeClient(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.ExtendedReasoning), nil

	case "ollama":
		// Ollama speaks the OpenAI-compatible API under /v1.
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		if !strings.HasSuffix(baseURL, "/v1") {
			baseURL = fmt.Sprintf("%s/v1", strings.TrimRight(baseURL, "/"))
		}
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = "ollama" // ignored by Ollama but required by the client config
		}
		return NewOpenAIClient(apiKey, cfg.Model, baseURL), nil

	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}
}
