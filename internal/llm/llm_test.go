package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/josinaldojr/smart-mrag/internal/rag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRequest() rag.GenerateRequest {
	return rag.GenerateRequest{
		Question: "  What is the refund window?  ",
		Chunks: []rag.ScoredChunk{
			{DocChunk: rag.DocChunk{ID: 7, Title: "Policy\nv2", Source: "policy.pdf", Content: " Refunds within 30 days. "}, Score: 0.91},
		},
		Lang:        "pt",
		Temperature: 0.2,
		MaxTokens:   256,
	}
}

func TestBuildPrompt(t *testing.T) {
	sys, user := buildPrompt(sampleRequest())

	assert.Contains(t, sys, "Brazilian Portuguese")
	assert.Contains(t, sys, "ONLY based on the provided document excerpts")
	assert.True(t, strings.HasPrefix(user, "Question:\nWhat is the refund window?\n"))
	assert.Contains(t, user, "[DOC 7] title=Policy v2 source=policy.pdf score=0.910")
	assert.Contains(t, user, "Refunds within 30 days.\n----")
}

func TestBuildPrompt_UnknownLanguage(t *testing.T) {
	req := sampleRequest()
	req.Lang = "xx"
	sys, _ := buildPrompt(req)
	assert.Contains(t, sys, "the same language as the question")
}

func TestNormalizeWhitespace(t *testing.T) {
	assert.Equal(t, "a b c", normalizeWhitespace("  a \n\t b\r\nc "))
	assert.Equal(t, "", normalizeWhitespace(" \n "))
}

func TestOpenAIBaseURL(t *testing.T) {
	assert.Equal(t, "https://api.openai.com/v1", openAIBaseURL("https://api.openai.com"))
	assert.Equal(t, "https://api.openai.com/v1", openAIBaseURL("https://api.openai.com/"))
	assert.Equal(t, "http://proxy.local/openai/v1", openAIBaseURL("http://proxy.local/openai/v1/"))
	assert.True(t, isAzureEndpoint("https://acme.openai.azure.com/"))
	assert.False(t, isAzureEndpoint("https://api.openai.com"))
}

func TestOpenAIClient_EmbedBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "text-embedding-3-small", body.Model)
		assert.Equal(t, []string{"first text", "second"}, body.Input)

		w.Header().Set("Content-Type", "application/json")
		// out of order on purpose
		_, _ = io.WriteString(w, `{"object":"list","model":"text-embedding-3-small","data":[
			{"object":"embedding","index":1,"embedding":[0,1]},
			{"object":"embedding","index":0,"embedding":[1,0]}]}`)
	}))
	defer srv.Close()

	c, err := NewOpenAIClient(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL, EmbeddingModel: "text-embedding-3-small"})
	require.NoError(t, err)

	out, err := c.EmbedBatch(context.Background(), []string{"first\n text", "second"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, out)
}

func TestOpenAIClient_EmbedEmptyText(t *testing.T) {
	c, err := NewOpenAIClient(OpenAIConfig{APIKey: "sk-test", EmbeddingModel: "text-embedding-3-small"})
	require.NoError(t, err)

	_, err = c.Embed(context.Background(), "  \n ")
	assert.Error(t, err)
}

func TestOpenAIClient_GenerateAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)

		var body struct {
			Model       string  `json:"model"`
			MaxTokens   int     `json:"max_tokens"`
			Temperature float64 `json:"temperature"`
			Messages    []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o-mini", body.Model)
		assert.Equal(t, 256, body.MaxTokens)
		assert.InDelta(t, 0.2, body.Temperature, 1e-6)
		require.Len(t, body.Messages, 2)
		assert.Equal(t, "system", body.Messages[0].Role)
		assert.Equal(t, "user", body.Messages[1].Role)
		assert.Contains(t, body.Messages[1].Content, "Refunds within 30 days.")

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c1","object":"chat.completion","model":"gpt-4o-mini",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"  30 days.  "}}]}`)
	}))
	defer srv.Close()

	c, err := NewOpenAIClient(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1", ChatModel: "gpt-4o-mini"})
	require.NoError(t, err)

	answer, err := c.GenerateAnswer(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, "30 days.", answer)
	assert.Equal(t, "gpt-4o-mini", c.Model())
	assert.Equal(t, rag.ProviderOpenAI, c.Provider())
}

func TestOpenAIClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	c, err := NewOpenAIClient(OpenAIConfig{APIKey: "sk-bad", BaseURL: srv.URL, ChatModel: "gpt-4o-mini"})
	require.NoError(t, err)

	_, err = c.GenerateAnswer(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad key")
}

func TestAnthropicClient_GenerateAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-ant", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		var body anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "claude-3-haiku-20240307", body.Model)
		assert.Equal(t, 256, body.MaxTokens)
		assert.Contains(t, body.System, "Brazilian Portuguese")
		require.Len(t, body.Messages, 1)
		assert.Equal(t, "user", body.Messages[0].Role)

		_, _ = io.WriteString(w, `{"id":"msg_1","type":"message","role":"assistant",
			"content":[{"type":"text","text":"Thirty "},{"type":"text","text":"days."}],
			"stop_reason":"end_turn"}`)
	}))
	defer srv.Close()

	c, err := NewAnthropicClient(AnthropicConfig{APIKey: "sk-ant", BaseURL: srv.URL, ChatModel: "claude-3-haiku-20240307"})
	require.NoError(t, err)

	answer, err := c.GenerateAnswer(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, "Thirty days.", answer)
	assert.Equal(t, rag.ProviderAnthropic, c.Provider())
}

func TestAnthropicClient_ClampsTemperature(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, 1.0, body.Temperature)
		_, _ = io.WriteString(w, `{"content":[{"type":"text","text":"ok"}]}`)
	}))
	defer srv.Close()

	c, err := NewAnthropicClient(AnthropicConfig{APIKey: "k", BaseURL: srv.URL + "/v1/", ChatModel: "claude-3-opus-20240229"})
	require.NoError(t, err)

	req := sampleRequest()
	req.Temperature = 1.7
	_, err = c.GenerateAnswer(context.Background(), req)
	require.NoError(t, err)
}

func TestAnthropicClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"invalid_request_error","message":"model not found"}}`)
	}))
	defer srv.Close()

	c, err := NewAnthropicClient(AnthropicConfig{APIKey: "k", BaseURL: srv.URL, ChatModel: "claude-x"})
	require.NoError(t, err)

	_, err = c.GenerateAnswer(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not found")
}

func TestMessagesURL(t *testing.T) {
	assert.Equal(t, "https://api.anthropic.com/v1/messages", messagesURL(""))
	assert.Equal(t, "https://proxy.local/v1/messages", messagesURL("https://proxy.local/v1"))
	assert.Equal(t, "https://proxy.local/v1/messages", messagesURL("https://proxy.local/"))
}

// geminiServer responde como a Gemini API: batchEmbedContents devolve um
// vetor [i, width] por request e generateContent devolve answer.
func geminiServer(t *testing.T, width int, answer string, bodies *[]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "g-test", r.Header.Get("x-goog-api-key"))
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		if bodies != nil {
			*bodies = append(*bodies, string(raw))
		}
		w.Header().Set("Content-Type", "application/json")

		switch {
		case strings.HasSuffix(r.URL.Path, "models/text-embedding-004:batchEmbedContents"):
			var body struct {
				Requests []json.RawMessage `json:"requests"`
			}
			require.NoError(t, json.Unmarshal(raw, &body))
			type embedding struct {
				Values []float32 `json:"values"`
			}
			out := struct {
				Embeddings []embedding `json:"embeddings"`
			}{}
			for i := range body.Requests {
				vec := make([]float32, width)
				vec[0] = float32(i)
				out.Embeddings = append(out.Embeddings, embedding{Values: vec})
			}
			require.NoError(t, json.NewEncoder(w).Encode(out))
		case strings.HasSuffix(r.URL.Path, "models/gemini-1.5-flash:generateContent"):
			resp := map[string]any{
				"candidates": []map[string]any{{
					"content": map[string]any{
						"role":  "model",
						"parts": []map[string]any{{"text": answer}},
					},
					"finishReason": "STOP",
				}},
			}
			require.NoError(t, json.NewEncoder(w).Encode(resp))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestGemini(t *testing.T, baseURL string, dims int) *GeminiClient {
	t.Helper()
	c, err := NewGeminiClient(context.Background(), GeminiConfig{
		APIKey:         "g-test",
		BaseURL:        baseURL,
		EmbeddingModel: "models/text-embedding-004",
		ChatModel:      "gemini-1.5-flash",
		Dimensions:     dims,
	})
	require.NoError(t, err)
	return c
}

func TestGeminiClient_EmbedBatch(t *testing.T) {
	var bodies []string
	srv := geminiServer(t, 4, "", &bodies)
	c := newTestGemini(t, srv.URL, 4)

	out, err := c.EmbedBatch(context.Background(), []string{"first\n text", "second"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0, 0, 0, 0}, {1, 0, 0, 0}}, out)

	require.Len(t, bodies, 1)
	assert.Contains(t, bodies[0], "first text")
	assert.Contains(t, bodies[0], `"outputDimensionality":4`)

	vec, err := c.Embed(context.Background(), "only one")
	require.NoError(t, err)
	assert.Len(t, vec, 4)
}

func TestGeminiClient_EmbedWrongWidth(t *testing.T) {
	srv := geminiServer(t, 3, "", nil)
	c := newTestGemini(t, srv.URL, 768)

	_, err := c.Embed(context.Background(), "refund")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected embedding size 3 (expected 768)")
}

func TestGeminiClient_EmbedEmptyText(t *testing.T) {
	c := newTestGemini(t, "http://127.0.0.1:1", 0)

	_, err := c.EmbedBatch(context.Background(), []string{"ok", " \t "})
	assert.Error(t, err)
}

func TestGeminiClient_GenerateAnswer(t *testing.T) {
	var bodies []string
	srv := geminiServer(t, 0, "  Reembolso em 30 dias.  ", &bodies)
	c := newTestGemini(t, srv.URL, 0)

	answer, err := c.GenerateAnswer(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, "Reembolso em 30 dias.", answer)
	assert.Equal(t, "gemini-1.5-flash", c.Model())
	assert.Equal(t, rag.ProviderGoogle, c.Provider())

	require.Len(t, bodies, 1)
	var body struct {
		SystemInstruction struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"systemInstruction"`
		Contents []struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"contents"`
		GenerationConfig struct {
			MaxOutputTokens int     `json:"maxOutputTokens"`
			Temperature     float64 `json:"temperature"`
		} `json:"generationConfig"`
	}
	require.NoError(t, json.Unmarshal([]byte(bodies[0]), &body))
	require.NotEmpty(t, body.SystemInstruction.Parts)
	assert.Contains(t, body.SystemInstruction.Parts[0].Text, "Brazilian Portuguese")
	require.Len(t, body.Contents, 1)
	require.NotEmpty(t, body.Contents[0].Parts)
	assert.Contains(t, body.Contents[0].Parts[0].Text, "Refunds within 30 days.")
	assert.Equal(t, 256, body.GenerationConfig.MaxOutputTokens)
	assert.InDelta(t, 0.2, body.GenerationConfig.Temperature, 1e-6)
}

func TestGeminiClient_EmptyAnswer(t *testing.T) {
	srv := geminiServer(t, 0, "   ", nil)
	c := newTestGemini(t, srv.URL, 0)

	_, err := c.GenerateAnswer(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty text")
}

func TestGeminiClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"code":400,"message":"API key not valid","status":"INVALID_ARGUMENT"}}`)
	}))
	defer srv.Close()
	c := newTestGemini(t, srv.URL, 0)

	_, err := c.GenerateAnswer(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key not valid")
}

func TestNewClients_MissingKey(t *testing.T) {
	_, err := NewOpenAIClient(OpenAIConfig{})
	assert.ErrorIs(t, err, rag.ErrMissingAPIKey)

	_, err = NewAnthropicClient(AnthropicConfig{})
	assert.ErrorIs(t, err, rag.ErrMissingAPIKey)

	_, err = NewGeminiClient(context.Background(), GeminiConfig{})
	assert.ErrorIs(t, err, rag.ErrMissingAPIKey)
}

func TestFactory(t *testing.T) {
	ctx := context.Background()
	cfg := rag.DefaultModelConfig()
	cfg.OpenAIAPIKey = "sk"
	cfg.AnthropicAPIKey = "ant"
	cfg.GoogleAPIKey = "g"

	f := Factory{}

	emb, err := f.NewEmbeddings(ctx, cfg)
	require.NoError(t, err)
	assert.IsType(t, &OpenAIClient{}, emb)

	llm, err := f.NewLLM(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, "gpt-3.5-turbo", llm.Model())

	cfg.LLMModel = "claude-3-opus-20240229"
	llm, err = f.NewLLM(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, rag.ProviderAnthropic, llm.Provider())

	cfg.LLMModel = "gemini-1.5-flash"
	cfg.EmbeddingModel = "models/text-embedding-004"
	llm, err = f.NewLLM(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, rag.ProviderGoogle, llm.Provider())
	emb, err = f.NewEmbeddings(ctx, cfg)
	require.NoError(t, err)
	assert.IsType(t, &GeminiClient{}, emb)

	cfg.EmbeddingModel = "claude-3-opus-20240229"
	_, err = f.NewEmbeddings(ctx, cfg)
	assert.ErrorIs(t, err, rag.ErrUnknownModel)

	cfg.LLMModel = "llama-3"
	_, err = f.NewLLM(ctx, cfg)
	assert.ErrorIs(t, err, rag.ErrUnknownModel)
}

func TestEstimateFallbackCounter(t *testing.T) {
	var tc rag.TokenCounter = rag.EstimateTokens{}
	assert.Equal(t, 0, tc.CountTokens(""))
	assert.Equal(t, 1, tc.CountTokens("abcd"))
	assert.Equal(t, 2, tc.CountTokens("abcde"))
}
