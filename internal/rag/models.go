package rag

import "time"

// Provider identifica qual API hospedada atende um modelo.
// Tipado p/ evitar string solta no código.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGoogle    Provider = "google"
)

// DefaultCollection is used when the session is not given a collection name.
const DefaultCollection = "default"

// Document
// Um arquivo carregado na sessão (PDF, markdown, html, txt).
type Document struct {
	ID       string    `json:"id"`
	Source   string    `json:"source"`
	Title    string    `json:"title"`
	Pages    int       `json:"pages,omitempty"`
	Chunks   int       `json:"chunks"`
	LoadedAt time.Time `json:"loadedAt"`
}

// DocChunk
// Um pedaço de texto de um documento, já pronto para embedding.
type DocChunk struct {
	ID         int64     `json:"id"`
	Collection string    `json:"collection"`
	DocumentID string    `json:"documentId"`
	Source     string    `json:"source"`
	Title      string    `json:"title"`
	ChunkIndex int       `json:"chunkIndex"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ScoredChunk
// Resultado da busca vetorial: chunk + similaridade de cosseno.
type ScoredChunk struct {
	DocChunk
	Score float64 `json:"score"`
}

// AskRequest
// Payload de uma pergunta.
type AskRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"topK,omitempty"` // opcional; default vem do ModelConfig
	Lang     string `json:"lang,omitempty"` // ISO 639-1; vazio ou "auto" detecta pelo texto
}

// SourceRef
// Metadados dos trechos usados para montar a resposta.
type SourceRef struct {
	ChunkID    int64   `json:"chunkId"`
	DocumentID string  `json:"documentId"`
	Title      string  `json:"title"`
	Source     string  `json:"source"`
	Score      float64 `json:"score"`
}

// AskResponse
// Resposta: texto + fontes + qual modelo respondeu.
type AskResponse struct {
	Answer   string      `json:"answer"`
	Model    string      `json:"model"`
	Provider Provider    `json:"provider"`
	Lang     string      `json:"lang"`
	Sources  []SourceRef `json:"sources"`
}

// QueryRecord
// Uma pergunta respondida, para o histórico.
type QueryRecord struct {
	Collection string
	Question   string
	Answer     string
	Model      string
	Provider   Provider
	Lang       string
	Sources    int
	Duration   time.Duration
	AskedAt    time.Time
}
