package rag

import (
	"context"
	"unicode/utf8"
)

type EmbeddingsClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// BatchEmbeddingsClient is implemented by clients that can embed several
// texts in one request. The result is index-aligned with texts.
type BatchEmbeddingsClient interface {
	EmbeddingsClient
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type LLMClient interface {
	GenerateAnswer(ctx context.Context, req GenerateRequest) (string, error)
	Model() string
	Provider() Provider
}

// GenerateRequest carries the question, the retrieved chunks and the
// generation parameters to an LLMClient. Chunks already fit the context
// budget.
type GenerateRequest struct {
	Question    string
	Chunks      []ScoredChunk
	Lang        string
	Temperature float64
	MaxTokens   int
}

// ClientFactory builds provider clients from a ModelConfig. The LLM client
// is built for cfg.LLMModel, the embeddings client for cfg.EmbeddingModel.
type ClientFactory interface {
	NewEmbeddings(ctx context.Context, cfg ModelConfig) (EmbeddingsClient, error)
	NewLLM(ctx context.Context, cfg ModelConfig) (LLMClient, error)
}

// HistoryRecorder persists answered questions.
type HistoryRecorder interface {
	Record(ctx context.Context, rec QueryRecord) error
}

// TokenCounter measures text the way the model tokenizer would.
type TokenCounter interface {
	CountTokens(text string) int
}

// EstimateTokens is the fallback TokenCounter: about one token per four
// characters, rounded up.
type EstimateTokens struct{}

func (EstimateTokens) CountTokens(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}
