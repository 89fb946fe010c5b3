package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/josinaldojr/smart-mrag/internal/rag"
	"google.golang.org/genai"
)

type GeminiConfig struct {
	APIKey         string
	BaseURL        string // vazio = endpoint oficial
	EmbeddingModel string
	ChatModel      string
	Dimensions     int // 0 = dimensão padrão do modelo
	HTTPClient     *http.Client
}

type GeminiClient struct {
	client     *genai.Client
	embedModel string
	chatModel  string
	dims       int
}

func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Google %w", rag.ErrMissingAPIKey)
	}

	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: strings.TrimRight(cfg.BaseURL, "/") + "/"}
	}

	c, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return &GeminiClient{
		client:     c,
		embedModel: cfg.EmbeddingModel,
		chatModel:  cfg.ChatModel,
		dims:       cfg.Dimensions,
	}, nil
}

func (g *GeminiClient) Model() string { return g.chatModel }
func (g *GeminiClient) Provider() rag.Provider { return rag.ProviderGoogle }

func (g *GeminiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := g.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (g *GeminiClient) EmbedBatch(ctx context.Context, texts []string) (_ [][]float32, err error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		clean := normalizeWhitespace(t)
		if clean == "" {
			return nil, fmt.Errorf("empty text for embedding")
		}
		contents[i] = genai.NewContentFromText(clean, genai.RoleUser)
	}

	ctx, done := observe(ctx, rag.ProviderGoogle, "embed", g.embedModel)
	defer func() { done(err) }()

	var ecfg *genai.EmbedContentConfig
	if g.dims > 0 {
		ecfg = &genai.EmbedContentConfig{
			OutputDimensionality: genai.Ptr(int32(g.dims)),
		}
	}

	resp, err := g.client.Models.EmbedContent(ctx, g.embedModel, contents, ecfg)
	if err != nil {
		return nil, fmt.Errorf("gemini embed error: %w", err)
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini returned %d embeddings for %d texts", len(resp.Embeddings), len(texts))
	}

	out := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		if g.dims > 0 && len(e.Values) != g.dims {
			return nil, fmt.Errorf("unexpected embedding size %d (expected %d)", len(e.Values), g.dims)
		}
		out[i] = e.Values
	}
	return out, nil
}

func (g *GeminiClient) GenerateAnswer(ctx context.Context, req rag.GenerateRequest) (_ string, err error) {
	ctx, done := observe(ctx, rag.ProviderGoogle, "generate", g.chatModel)
	defer func() { done(err) }()

	systemPrompt, userContent := buildPrompt(req)

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		Temperature:       genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	resp, err := g.client.Models.GenerateContent(
		ctx,
		g.chatModel,
		genai.Text(userContent),
		cfg,
	)
	if err != nil {
		return "", fmt.Errorf("gemini generateContent error: %w", err)
	}

	if resp == nil {
		return "", fmt.Errorf("empty response from gemini")
	}

	txt := strings.TrimSpace(resp.Text())
	if txt == "" {
		return "", fmt.Errorf("model returned empty text")
	}

	return txt, nil
}

var _ rag.BatchEmbeddingsClient = (*GeminiClient)(nil)
var _ rag.LLMClient = (*GeminiClient)(nil)
