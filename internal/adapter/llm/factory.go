package llm

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Provider names accepted by NewLLMClient.
const (
	ProviderOpenAI = "openai"
	ProviderEino   = "eino"
	ProviderMock   = "mock"
)

// NewLLMClient creates the client for provider. An empty provider means openai.
func NewLLMClient(ctx context.Context, provider string, cfg Config) (LLMClient, error) {
	switch provider {
	case "", ProviderOpenAI:
		return NewClient(cfg), nil
	case ProviderEino:
		return NewEinoClient(ctx, cfg)
	case ProviderMock:
		log.Info().Msg("LLM provider mock selected, using mock LLM client")
		return NewMockClient(), nil
	}
	return nil, fmt.Errorf("unknown LLM provider %q", provider)
}
