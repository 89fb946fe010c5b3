package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/josinaldojr/smart-mrag/internal/rag"
	"github.com/tidwall/gjson"
)

const anthropicVersion = "2023-06-01"

type AnthropicConfig struct {
	APIKey     string
	BaseURL    string // vazio = https://api.anthropic.com
	ChatModel  string
	HTTPClient *http.Client
}

// AnthropicClient calls the Messages API. Anthropic has no embeddings
// endpoint, so it only implements rag.LLMClient.
type AnthropicClient struct {
	httpClient *http.Client
	url        string
	apiKey     string
	model      string
}

func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Anthropic %w", rag.ErrMissingAPIKey)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}

	return &AnthropicClient{
		httpClient: httpClient,
		url:        messagesURL(cfg.BaseURL),
		apiKey:     cfg.APIKey,
		model:      cfg.ChatModel,
	}, nil
}

func messagesURL(base string) string {
	base = strings.TrimRight(base, "/")
	if base == "" {
		base = rag.AnthropicBaseURL
	}
	if strings.HasSuffix(base, "/v1") {
		return base + "/messages"
	}
	return base + "/v1/messages"
}

func (a *AnthropicClient) Model() string { return a.model }
func (a *AnthropicClient) Provider() rag.Provider { return rag.ProviderAnthropic }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Temperature float64            `json:"temperature"`
	Messages    []anthropicMessage `json:"messages"`
}

func (a *AnthropicClient) GenerateAnswer(ctx context.Context, req rag.GenerateRequest) (_ string, err error) {
	ctx, done := observe(ctx, rag.ProviderAnthropic, "generate", a.model)
	defer func() { done(err) }()

	systemPrompt, userContent := buildPrompt(req)

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	// a API aceita temperatura só em [0, 1]
	temperature := min(req.Temperature, 1)

	jsonData, err := json.Marshal(anthropicRequest{
		Model:       a.model,
		MaxTokens:   maxTokens,
		System:      systemPrompt,
		Temperature: temperature,
		Messages:    []anthropicMessage{{Role: "user", Content: userContent}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	httpReq.Header.Set("content-type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := gjson.GetBytes(body, "error.message").String()
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return "", fmt.Errorf("anthropic API error: %s - %s", resp.Status, msg)
	}

	var parts []string
	for _, block := range gjson.GetBytes(body, "content").Array() {
		if block.Get("type").String() == "text" {
			parts = append(parts, block.Get("text").String())
		}
	}

	txt := strings.TrimSpace(strings.Join(parts, ""))
	if txt == "" {
		return "", fmt.Errorf("empty response from Anthropic")
	}
	return txt, nil
}

var _ rag.LLMClient = (*AnthropicClient)(nil)
