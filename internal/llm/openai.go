package llm

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"

	"github.com/josinaldojr/smart-mrag/internal/rag"
	openai "github.com/sashabaranov/go-openai"
)

type OpenAIConfig struct {
	APIKey         string
	BaseURL        string // vazio = https://api.openai.com/v1; *.openai.azure.com usa config Azure
	EmbeddingModel string
	ChatModel      string
	HTTPClient     *http.Client
}

// OpenAIClient talks to OpenAI or any OpenAI-compatible API.
type OpenAIClient struct {
	client     *openai.Client
	embedModel string
	chatModel  string
}

func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI %w", rag.ErrMissingAPIKey)
	}

	var config openai.ClientConfig
	switch {
	case isAzureEndpoint(cfg.BaseURL):
		config = openai.DefaultAzureConfig(cfg.APIKey, cfg.BaseURL)
	default:
		config = openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			config.BaseURL = openAIBaseURL(cfg.BaseURL)
		}
	}
	if cfg.HTTPClient != nil {
		config.HTTPClient = cfg.HTTPClient
	}

	return &OpenAIClient{
		client:     openai.NewClientWithConfig(config),
		embedModel: cfg.EmbeddingModel,
		chatModel:  cfg.ChatModel,
	}, nil
}

func isAzureEndpoint(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return strings.HasSuffix(strings.ToLower(u.Hostname()), ".openai.azure.com")
}

// openAIBaseURL adds the /v1 prefix when the endpoint is a bare host,
// e.g. "https://api.openai.com".
func openAIBaseURL(raw string) string {
	raw = strings.TrimRight(raw, "/")
	u, err := url.Parse(raw)
	if err == nil && (u.Path == "" || u.Path == "/") {
		return raw + "/v1"
	}
	return raw
}

func (c *OpenAIClient) Model() string { return c.chatModel }
func (c *OpenAIClient) Provider() rag.Provider { return rag.ProviderOpenAI }

func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (c *OpenAIClient) EmbedBatch(ctx context.Context, texts []string) (_ [][]float32, err error) {
	inputs := make([]string, len(texts))
	for i, t := range texts {
		inputs[i] = normalizeWhitespace(t)
		if inputs[i] == "" {
			return nil, fmt.Errorf("empty text for embedding")
		}
	}

	ctx, done := observe(ctx, rag.ProviderOpenAI, "embed", c.embedModel)
	defer func() { done(err) }()

	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.embedModel),
		Input: inputs,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings error: %w", err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d texts", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("openai embedding index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

func (c *OpenAIClient) GenerateAnswer(ctx context.Context, req rag.GenerateRequest) (_ string, err error) {
	ctx, done := observe(ctx, rag.ProviderOpenAI, "generate", c.chatModel)
	defer func() { done(err) }()

	systemPrompt, userContent := buildPrompt(req)

	creq := openai.ChatCompletionRequest{
		Model: c.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userContent},
		},
	}

	if reasoningModel(c.chatModel) {
		// o-series: only the default temperature, and max_tokens is rejected
		creq.MaxCompletionTokens = req.MaxTokens
	} else {
		creq.MaxTokens = req.MaxTokens
		creq.Temperature = float32(req.Temperature)
		if creq.Temperature == 0 {
			// 0 is dropped by omitempty and the API would use its default of 1
			creq.Temperature = math.SmallestNonzeroFloat32
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return "", fmt.Errorf("openai chat completion error: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from openai")
	}

	txt := strings.TrimSpace(resp.Choices[0].Message.Content)
	if txt == "" {
		return "", fmt.Errorf("model returned empty text")
	}
	return txt, nil
}

func reasoningModel(model string) bool {
	m := strings.ToLower(model)
	return len(m) >= 2 && m[0] == 'o' && m[1] >= '0' && m[1] <= '9'
}

var _ rag.BatchEmbeddingsClient = (*OpenAIClient)(nil)
var _ rag.LLMClient = (*OpenAIClient)(nil)
