package llm

import (
	"log/slog"

	"github.com/josinaldojr/smart-mrag/internal/rag"
	"github.com/pkoukk/tiktoken-go"
)

type TokenCounter struct {
	encoder *tiktoken.Tiktoken
}

// NewTokenCounter loads the cl100k_base encoding. tiktoken fetches the
// encoding file on first use, so when that fails (offline, no cache) the
// character estimate is returned instead.
func NewTokenCounter() rag.TokenCounter {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		slog.Warn("tiktoken unavailable, estimating tokens from length", "err", err)
		return rag.EstimateTokens{}
	}
	return &TokenCounter{encoder: enc}
}

func (tc *TokenCounter) CountTokens(text string) int {
	return len(tc.encoder.Encode(text, nil, nil))
}
