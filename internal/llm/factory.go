package llm

import (
	"context"
	"fmt"
	"net/http"

	"github.com/josinaldojr/smart-mrag/internal/rag"
)

// Factory builds provider clients from a ModelConfig, picking the provider
// from the model name.
type Factory struct {
	HTTPClient *http.Client
}

func (f Factory) NewEmbeddings(ctx context.Context, cfg rag.ModelConfig) (rag.EmbeddingsClient, error) {
	p, ok := rag.ProviderForModel(cfg.EmbeddingModel)
	if !ok {
		return nil, fmt.Errorf("%w: embedding model %q", rag.ErrUnknownModel, cfg.EmbeddingModel)
	}

	switch p {
	case rag.ProviderOpenAI:
		return NewOpenAIClient(OpenAIConfig{
			APIKey:         cfg.OpenAIAPIKey,
			BaseURL:        cfg.OpenAIEndpoint,
			EmbeddingModel: cfg.EmbeddingModel,
			ChatModel:      cfg.OpenAIModel,
			HTTPClient:     f.HTTPClient,
		})
	case rag.ProviderGoogle:
		return NewGeminiClient(ctx, GeminiConfig{
			APIKey:         cfg.GoogleAPIKey,
			BaseURL:        cfg.GoogleEndpoint,
			EmbeddingModel: cfg.EmbeddingModel,
			ChatModel:      cfg.GoogleModel,
			Dimensions:     cfg.EmbeddingDimensions,
			HTTPClient:     f.HTTPClient,
		})
	default:
		return nil, fmt.Errorf("%w: %s has no embeddings API", rag.ErrUnknownModel, p)
	}
}

func (f Factory) NewLLM(ctx context.Context, cfg rag.ModelConfig) (rag.LLMClient, error) {
	p, ok := rag.ProviderForModel(cfg.LLMModel)
	if !ok {
		return nil, fmt.Errorf("%w: llm model %q", rag.ErrUnknownModel, cfg.LLMModel)
	}

	switch p {
	case rag.ProviderOpenAI:
		return NewOpenAIClient(OpenAIConfig{
			APIKey:     cfg.OpenAIAPIKey,
			BaseURL:    cfg.OpenAIEndpoint,
			ChatModel:  cfg.LLMModel,
			HTTPClient: f.HTTPClient,
		})
	case rag.ProviderAnthropic:
		return NewAnthropicClient(AnthropicConfig{
			APIKey:     cfg.AnthropicAPIKey,
			BaseURL:    cfg.AnthropicEndpoint,
			ChatModel:  cfg.LLMModel,
			HTTPClient: f.HTTPClient,
		})
	case rag.ProviderGoogle:
		return NewGeminiClient(ctx, GeminiConfig{
			APIKey:     cfg.GoogleAPIKey,
			BaseURL:    cfg.GoogleEndpoint,
			ChatModel:  cfg.LLMModel,
			HTTPClient: f.HTTPClient,
		})
	default:
		return nil, fmt.Errorf("%w: llm model %q", rag.ErrUnknownModel, cfg.LLMModel)
	}
}

var _ rag.ClientFactory = Factory{}
