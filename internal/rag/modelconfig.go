package rag

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	OpenAIBaseURL    = "https://api.openai.com"
	AnthropicBaseURL = "https://api.anthropic.com"
	GoogleBaseURL    = "https://generativelanguage.googleapis.com"
)

// ModelConfig holds everything a session needs to talk to the providers:
// model names, keys, endpoint overrides and the chunking, retrieval and
// generation parameters.
type ModelConfig struct {
	LLMModel       string `yaml:"llm_model"`
	EmbeddingModel string `yaml:"embedding_model"`

	OpenAIAPIKey    string `yaml:"openai_api_key"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	GoogleAPIKey    string `yaml:"google_api_key"`

	OpenAIEndpoint    string `yaml:"openai_endpoint"`
	AnthropicEndpoint string `yaml:"anthropic_endpoint"`
	GoogleEndpoint    string `yaml:"google_endpoint"`

	// Chat model per provider, picked by SwitchModel.
	OpenAIModel    string `yaml:"openai_model"`
	AnthropicModel string `yaml:"anthropic_model"`
	GoogleModel    string `yaml:"google_model"`

	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`

	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	TopK                int     `yaml:"top_k"`

	Temperature      float64 `yaml:"temperature"`
	MaxTokens        int     `yaml:"max_tokens"`
	MaxContextTokens int     `yaml:"max_context_tokens"`

	// EmbeddingDimensions overrides the width derived from EmbeddingModel.
	EmbeddingDimensions int `yaml:"embedding_dimensions"`
}

// DefaultModelConfig returns the configuration used when the caller sets nothing.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		LLMModel:            "gpt-3.5-turbo",
		EmbeddingModel:      "text-embedding-ada-002",
		OpenAIModel:         "gpt-3.5-turbo",
		AnthropicModel:      "claude-3-opus-20240229",
		GoogleModel:         "gemini-pro",
		ChunkSize:           1000,
		ChunkOverlap:        200,
		SimilarityThreshold: 0.7,
		TopK:                5,
		Temperature:         0.7,
		MaxTokens:           4000,
		MaxContextTokens:    4000,
	}
}

// WithDefaults fills the fields whose zero value is never valid.
// Temperature, ChunkOverlap and SimilarityThreshold are left alone: zero is
// a legitimate setting for all three.
func (c ModelConfig) WithDefaults() ModelConfig {
	d := DefaultModelConfig()
	if c.LLMModel == "" {
		c.LLMModel = d.LLMModel
	}
	if c.EmbeddingModel == "" {
		c.EmbeddingModel = d.EmbeddingModel
	}
	if c.OpenAIModel == "" {
		c.OpenAIModel = d.OpenAIModel
	}
	if c.AnthropicModel == "" {
		c.AnthropicModel = d.AnthropicModel
	}
	if c.GoogleModel == "" {
		c.GoogleModel = d.GoogleModel
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = d.ChunkSize
	}
	if c.TopK == 0 {
		c.TopK = d.TopK
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = d.MaxTokens
	}
	if c.MaxContextTokens == 0 {
		c.MaxContextTokens = d.MaxContextTokens
	}
	return c
}

// ProviderForModel classifies a model identifier by the substrings each
// provider uses in its model names.
func ProviderForModel(model string) (Provider, bool) {
	m := strings.ToLower(strings.TrimSpace(model))
	switch {
	case m == "":
		return "", false
	case strings.Contains(m, "claude"):
		return ProviderAnthropic, true
	case strings.Contains(m, "gemini"), strings.HasPrefix(m, "models/"), m == "embedding-001":
		return ProviderGoogle, true
	case strings.Contains(m, "gpt"), strings.Contains(m, "text-embedding"), isOSeries(m):
		return ProviderOpenAI, true
	default:
		return "", false
	}
}

// o1, o3-mini, o4-mini...
func isOSeries(m string) bool {
	return len(m) >= 2 && m[0] == 'o' && m[1] >= '0' && m[1] <= '9'
}

// ParseProvider accepts the names SwitchModel understands.
func ParseProvider(name string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "openai", "gpt":
		return ProviderOpenAI, nil
	case "anthropic", "claude":
		return ProviderAnthropic, nil
	case "google", "gemini":
		return ProviderGoogle, nil
	default:
		return "", fmt.Errorf("%w: %q (use openai, anthropic or google)", ErrUnknownProvider, name)
	}
}

// ModelForProvider returns the chat model configured for p.
func (c ModelConfig) ModelForProvider(p Provider) string {
	switch p {
	case ProviderOpenAI:
		return c.OpenAIModel
	case ProviderAnthropic:
		return c.AnthropicModel
	case ProviderGoogle:
		return c.GoogleModel
	default:
		return ""
	}
}

// APIKey returns the key configured for p.
func (c ModelConfig) APIKey(p Provider) string {
	switch p {
	case ProviderOpenAI:
		return c.OpenAIAPIKey
	case ProviderAnthropic:
		return c.AnthropicAPIKey
	case ProviderGoogle:
		return c.GoogleAPIKey
	default:
		return ""
	}
}

// Endpoint returns the endpoint override for p, empty when unset.
func (c ModelConfig) Endpoint(p Provider) string {
	switch p {
	case ProviderOpenAI:
		return c.OpenAIEndpoint
	case ProviderAnthropic:
		return c.AnthropicEndpoint
	case ProviderGoogle:
		return c.GoogleEndpoint
	default:
		return ""
	}
}

// Keys are spelled the way ProviderForModel routes them: a bare
// text-embedding-004 would go to OpenAI, which has no such model.
var knownDimensions = map[string]int{
	"text-embedding-ada-002":      1536,
	"text-embedding-3-small":      1536,
	"text-embedding-3-large":      3072,
	"models/text-embedding-004":   768,
	"gemini-embedding-001":        3072,
	"models/gemini-embedding-001": 3072,
	"embedding-001":               768,
	"models/embedding-001":        768,
}

// Dimensions is the embedding width, 0 when it can't be known up front.
func (c ModelConfig) Dimensions() int {
	if c.EmbeddingDimensions > 0 {
		return c.EmbeddingDimensions
	}
	return knownDimensions[strings.ToLower(strings.TrimSpace(c.EmbeddingModel))]
}

// Validate checks that every provider the models need has a key, that the
// parameters are in range, and that endpoint overrides are usable URLs.
// An endpoint that does not point at the provider's own API is reported as
// a warning, not an error.
func (c ModelConfig) Validate() ([]string, error) {
	if err := c.validateParameters(); err != nil {
		return nil, err
	}

	if strings.TrimSpace(c.LLMModel) == "" {
		return nil, fmt.Errorf("llm model: %w", ErrMissingModel)
	}
	if strings.TrimSpace(c.EmbeddingModel) == "" {
		return nil, fmt.Errorf("embedding model: %w", ErrMissingModel)
	}

	llmProvider, ok := ProviderForModel(c.LLMModel)
	if !ok {
		return nil, fmt.Errorf("%w: llm model %q", ErrUnknownModel, c.LLMModel)
	}
	embProvider, ok := ProviderForModel(c.EmbeddingModel)
	if !ok || embProvider == ProviderAnthropic {
		return nil, fmt.Errorf("%w: embedding model %q", ErrUnknownModel, c.EmbeddingModel)
	}

	// per-provider chat models must belong to their provider
	for _, pm := range []struct {
		provider Provider
		model    string
	}{
		{ProviderOpenAI, c.OpenAIModel},
		{ProviderAnthropic, c.AnthropicModel},
		{ProviderGoogle, c.GoogleModel},
	} {
		if pm.model == "" {
			continue
		}
		if got, ok := ProviderForModel(pm.model); !ok || got != pm.provider {
			return nil, fmt.Errorf("%w: %s model %q", ErrUnknownModel, pm.provider, pm.model)
		}
	}

	llmLower := strings.ToLower(c.LLMModel)
	embLower := strings.ToLower(c.EmbeddingModel)

	if strings.Contains(llmLower, "gpt") || llmProvider == ProviderOpenAI ||
		(strings.Contains(embLower, "text-embedding") && embProvider == ProviderOpenAI) {
		if c.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI %w for OpenAI models and embeddings", ErrMissingAPIKey)
		}
	}
	if strings.Contains(llmLower, "claude") && c.AnthropicAPIKey == "" {
		return nil, fmt.Errorf("Anthropic %w for Claude models", ErrMissingAPIKey)
	}
	if (strings.Contains(llmLower, "gemini") || llmProvider == ProviderGoogle || embProvider == ProviderGoogle) &&
		c.GoogleAPIKey == "" {
		return nil, fmt.Errorf("Google %w for Gemini models", ErrMissingAPIKey)
	}

	var warnings []string
	endpoints := []struct {
		name  string
		value string
		canon string
	}{
		{"OpenAI", c.OpenAIEndpoint, OpenAIBaseURL},
		{"Anthropic", c.AnthropicEndpoint, AnthropicBaseURL},
		{"Google", c.GoogleEndpoint, GoogleBaseURL},
	}
	for _, e := range endpoints {
		if e.value == "" {
			continue
		}
		if !isHTTPURL(e.value) {
			return nil, fmt.Errorf("%w: %s endpoint %q", ErrInvalidEndpoint, e.name, e.value)
		}
		if !strings.HasPrefix(e.value, e.canon) {
			warnings = append(warnings, fmt.Sprintf(
				"using custom %s endpoint %s; make sure your API key is valid for this endpoint", e.name, e.value))
		}
	}

	return warnings, nil
}

func (c ModelConfig) validateParameters() error {
	switch {
	case c.ChunkSize <= 0:
		return fmt.Errorf("%w: chunk_size must be positive, got %d", ErrInvalidParameter, c.ChunkSize)
	case c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize:
		return fmt.Errorf("%w: chunk_overlap must be in [0, chunk_size), got %d", ErrInvalidParameter, c.ChunkOverlap)
	case c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1:
		return fmt.Errorf("%w: similarity_threshold must be in [0, 1], got %g", ErrInvalidParameter, c.SimilarityThreshold)
	case c.TopK <= 0:
		return fmt.Errorf("%w: top_k must be positive, got %d", ErrInvalidParameter, c.TopK)
	case c.Temperature < 0 || c.Temperature > 2:
		return fmt.Errorf("%w: temperature must be in [0, 2], got %g", ErrInvalidParameter, c.Temperature)
	case c.MaxTokens <= 0:
		return fmt.Errorf("%w: max_tokens must be positive, got %d", ErrInvalidParameter, c.MaxTokens)
	case c.MaxContextTokens <= 0:
		return fmt.Errorf("%w: max_context_tokens must be positive, got %d", ErrInvalidParameter, c.MaxContextTokens)
	case c.EmbeddingDimensions < 0:
		return fmt.Errorf("%w: embedding_dimensions must not be negative", ErrInvalidParameter)
	}
	return nil
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
