package rag

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	wl "github.com/abadojack/whatlanggo"
	"github.com/google/uuid"
	"github.com/josinaldojr/smart-mrag/internal/loader"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

const (
	maxQuestionLength = 500
	embedBatchSize    = 64
	loadWorkers       = 4

	notFoundAnswer = "I couldn't find any relevant information in the loaded documents for this question."
)

var (
	tracer = otel.Tracer("github.com/josinaldojr/smart-mrag/internal/rag")
	meter  = otel.Meter("github.com/josinaldojr/smart-mrag/internal/rag")

	askDuration, _ = meter.Float64Histogram(
		"rag.ask.duration",
		metric.WithDescription("Time to answer one question in milliseconds"),
		metric.WithUnit("ms"),
	)
	chunksIndexed, _ = meter.Int64Counter(
		"rag.chunks.indexed",
		metric.WithDescription("Chunks embedded and stored"),
	)
)

// Service is one question-answering session: a validated ModelConfig, the
// provider clients built from it, a vector repository and the documents
// loaded so far.
type Service struct {
	mu         sync.RWMutex
	cfg        ModelConfig
	embeddings EmbeddingsClient
	llm        LLMClient
	docs       []Document

	repo       Repository
	factory    ClientFactory
	history    HistoryRecorder
	tokens     TokenCounter
	logger     *slog.Logger
	collection string
}

type Option func(*Service)

func WithRepository(r Repository) Option { return func(s *Service) { s.repo = r } }

func WithClientFactory(f ClientFactory) Option { return func(s *Service) { s.factory = f } }

// WithEmbeddings skips the factory for the embeddings client.
func WithEmbeddings(e EmbeddingsClient) Option { return func(s *Service) { s.embeddings = e } }

// WithLLM skips the factory for the initial LLM client. SwitchModel still
// needs a factory.
func WithLLM(l LLMClient) Option { return func(s *Service) { s.llm = l } }

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

func WithHistory(h HistoryRecorder) Option { return func(s *Service) { s.history = h } }

func WithCollection(name string) Option { return func(s *Service) { s.collection = name } }

func WithTokenCounter(tc TokenCounter) Option { return func(s *Service) { s.tokens = tc } }

// New validates cfg and builds a session. Validation warnings (custom
// endpoints) are logged, errors are returned as is.
func New(ctx context.Context, cfg ModelConfig, opts ...Option) (*Service, error) {
	s := &Service{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.collection == "" {
		s.collection = DefaultCollection
	}
	if s.repo == nil {
		s.repo = NewMemoryRepository()
	}
	if s.tokens == nil {
		s.tokens = EstimateTokens{}
	}

	warnings, err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		s.logger.Warn(w)
	}

	if s.embeddings == nil {
		if s.factory == nil {
			return nil, errors.New("no embeddings client and no client factory")
		}
		if s.embeddings, err = s.factory.NewEmbeddings(ctx, cfg); err != nil {
			return nil, fmt.Errorf("embeddings client: %w", err)
		}
	}
	if s.llm == nil {
		if s.factory == nil {
			return nil, errors.New("no LLM client and no client factory")
		}
		if s.llm, err = s.factory.NewLLM(ctx, cfg); err != nil {
			return nil, fmt.Errorf("llm client: %w", err)
		}
	}

	s.logger.Info("session ready",
		"llm", cfg.LLMModel,
		"embedding", cfg.EmbeddingModel,
		"collection", s.collection,
	)
	return s, nil
}

// Config returns a copy of the current configuration.
func (s *Service) Config() ModelConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *Service) Collection() string { return s.collection }

// Documents lists what this session loaded, oldest first.
func (s *Service) Documents() []Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Document, len(s.docs))
	copy(out, s.docs)
	return out
}

// Reset drops every chunk of the session collection and forgets the loaded
// documents.
func (s *Service) Reset(ctx context.Context) error {
	if err := s.repo.DeleteCollection(ctx, s.collection); err != nil {
		return fmt.Errorf("reset collection %s: %w", s.collection, err)
	}
	s.mu.Lock()
	s.docs = nil
	s.mu.Unlock()
	return nil
}

// LoadDocument extracts, splits, embeds and stores one file.
func (s *Service) LoadDocument(ctx context.Context, path string) (*Document, error) {
	content, err := loader.Load(path)
	if err != nil {
		return nil, err
	}
	return s.IngestContent(ctx, path, content)
}

// IngestContent indexes text that was already extracted, e.g. a crawled page.
func (s *Service) IngestContent(ctx context.Context, source string, c *loader.Content) (_ *Document, err error) {
	ctx, span := tracer.Start(ctx, "rag.ingest")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	span.SetAttributes(attribute.String("rag.source", source))

	if strings.TrimSpace(c.Text) == "" {
		return nil, fmt.Errorf("%w: %s", ErrEmptyDocument, source)
	}

	s.mu.RLock()
	cfg := s.cfg
	emb := s.embeddings
	s.mu.RUnlock()

	splitter := TextSplitter{ChunkSize: cfg.ChunkSize, ChunkOverlap: cfg.ChunkOverlap}
	pieces := splitter.Split(c.Text)
	if len(pieces) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyDocument, source)
	}

	vectors, err := embedAll(ctx, emb, pieces)
	if err != nil {
		return nil, fmt.Errorf("embedding %s: %w", source, err)
	}

	doc := Document{
		ID:       uuid.NewString(),
		Source:   source,
		Title:    c.Title,
		Pages:    c.Pages,
		Chunks:   len(pieces),
		LoadedAt: time.Now(),
	}

	chunks := make([]*DocChunk, len(pieces))
	for i, text := range pieces {
		chunks[i] = &DocChunk{
			Collection: s.collection,
			DocumentID: doc.ID,
			Source:     source,
			Title:      doc.Title,
			ChunkIndex: i,
			Content:    text,
			CreatedAt:  doc.LoadedAt,
		}
	}
	if err := s.storeChunks(ctx, doc.ID, chunks, vectors); err != nil {
		return nil, fmt.Errorf("store %s: %w", source, err)
	}
	if chunksIndexed != nil {
		chunksIndexed.Add(ctx, int64(len(pieces)))
	}

	s.mu.Lock()
	s.docs = append(s.docs, doc)
	s.mu.Unlock()

	s.logger.Info("document loaded",
		"source", source,
		"title", doc.Title,
		"pages", doc.Pages,
		"chunks", doc.Chunks,
	)
	return &doc, nil
}

// storeChunks grava todos os chunks de um documento ou nenhum. Sem insert
// atômico no store, o que já entrou é apagado quando um insert falha.
func (s *Service) storeChunks(ctx context.Context, documentID string, chunks []*DocChunk, vectors [][]float32) error {
	if di, ok := s.repo.(DocumentInserter); ok {
		return di.InsertChunks(ctx, chunks, vectors)
	}

	for i, c := range chunks {
		if _, err := s.repo.InsertChunk(ctx, c, vectors[i]); err != nil {
			if i > 0 {
				// ctx pode já estar cancelado; a limpeza precisa rodar mesmo assim
				cleanupCtx := context.WithoutCancel(ctx)
				if derr := s.repo.DeleteDocument(cleanupCtx, s.collection, documentID); derr != nil {
					s.logger.Error("could not remove partially stored document",
						"document", documentID, "chunks", i, "err", derr)
					return fmt.Errorf("insert chunk %d: %w", i, errors.Join(err, derr))
				}
			}
			return fmt.Errorf("insert chunk %d: %w", i, err)
		}
	}
	return nil
}

func embedAll(ctx context.Context, emb EmbeddingsClient, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))

	if batch, ok := emb.(BatchEmbeddingsClient); ok {
		for start := 0; start < len(texts); start += embedBatchSize {
			end := min(start+embedBatchSize, len(texts))
			vecs, err := batch.EmbedBatch(ctx, texts[start:end])
			if err != nil {
				return nil, err
			}
			if len(vecs) != end-start {
				return nil, fmt.Errorf("got %d embeddings for %d texts", len(vecs), end-start)
			}
			out = append(out, vecs...)
		}
		return out, nil
	}

	for _, t := range texts {
		v, err := emb.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// ProcessDocuments loads every supported file under dir, four at a time.
// Files that fail are logged and skipped; it only fails when nothing could
// be loaded or ctx is done.
func (s *Service) ProcessDocuments(ctx context.Context, dir string) ([]Document, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("process %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrUnsupportedFile, dir)
	}

	var paths []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && loader.IsSupported(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no supported files in %s", ErrNoDocuments, dir)
	}

	results := make([]*Document, len(paths))
	failures := make([]error, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(loadWorkers)
	for i, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			doc, err := s.LoadDocument(gctx, p)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				s.logger.Warn("skipping document", "path", p, "err", err)
				failures[i] = err
				return nil
			}
			results[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	docs := make([]Document, 0, len(paths))
	for _, d := range results {
		if d != nil {
			docs = append(docs, *d)
		}
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: every file in %s failed: %w", ErrNoDocuments, dir, errors.Join(failures...))
	}
	return docs, nil
}

// Ask answers a question from the chunks closest to it.
func (s *Service) Ask(ctx context.Context, req AskRequest) (_ *AskResponse, err error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "rag.ask")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if askDuration != nil {
			askDuration.Record(ctx, float64(time.Since(start).Milliseconds()),
				metric.WithAttributes(attribute.Bool("rag.success", err == nil)))
		}
	}()

	q := strings.TrimSpace(req.Question)
	if q == "" {
		return nil, ErrEmptyQuestion
	}
	if n := utf8.RuneCountInString(q); n > maxQuestionLength {
		return nil, fmt.Errorf("%w: %d characters, limit is %d", ErrQuestionTooLong, n, maxQuestionLength)
	}

	s.mu.RLock()
	cfg := s.cfg
	emb := s.embeddings
	llm := s.llm
	loaded := len(s.docs)
	s.mu.RUnlock()

	if loaded == 0 {
		n, err := s.repo.CountChunks(ctx, s.collection)
		if err != nil {
			return nil, fmt.Errorf("count chunks: %w", err)
		}
		if n == 0 {
			return nil, ErrNoDocuments
		}
	}

	topK := req.TopK
	if topK <= 0 {
		topK = cfg.TopK
	}

	if req.Lang == "" || req.Lang == "auto" {
		req.Lang = detectLang(q)
	}
	span.SetAttributes(
		attribute.String("rag.model", llm.Model()),
		attribute.String("rag.lang", req.Lang),
		attribute.Int("rag.top_k", topK),
	)

	// Embedding da pergunta
	vec, err := emb.Embed(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	// Busca vetorial
	found, err := s.repo.SearchSimilarChunks(ctx, s.collection, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	chunks := make([]ScoredChunk, 0, len(found))
	for _, c := range found {
		if c.Score >= cfg.SimilarityThreshold {
			chunks = append(chunks, c)
		}
	}

	resp := &AskResponse{
		Model:    llm.Model(),
		Provider: llm.Provider(),
		Lang:     req.Lang,
		Sources:  []SourceRef{},
	}

	if len(chunks) == 0 {
		s.logger.Info("no chunk above threshold",
			"found", len(found),
			"threshold", cfg.SimilarityThreshold,
		)
		resp.Answer = notFoundAnswer
		s.record(ctx, q, resp, start)
		return resp, nil
	}

	chunks = fitContext(chunks, s.tokens, cfg.MaxContextTokens)

	// Gera resposta final com LLM usando os chunks
	answer, err := llm.GenerateAnswer(ctx, GenerateRequest{
		Question:    q,
		Chunks:      chunks,
		Lang:        req.Lang,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	})
	if err != nil {
		return nil, err
	}
	resp.Answer = answer

	// Monta fontes
	for _, c := range chunks {
		resp.Sources = append(resp.Sources, SourceRef{
			ChunkID:    c.ID,
			DocumentID: c.DocumentID,
			Title:      c.Title,
			Source:     c.Source,
			Score:      c.Score,
		})
	}

	s.record(ctx, q, resp, start)
	return resp, nil
}

// Query is Ask for callers that only want the answer text.
func (s *Service) Query(ctx context.Context, question string) (string, error) {
	resp, err := s.Ask(ctx, AskRequest{Question: question})
	if err != nil {
		return "", err
	}
	return resp.Answer, nil
}

// SwitchModel moves the session to the chat model configured for provider.
// Embeddings are not touched, so the stored vectors stay valid.
func (s *Service) SwitchModel(ctx context.Context, provider string) error {
	p, err := ParseProvider(provider)
	if err != nil {
		return err
	}
	if s.factory == nil {
		return errors.New("switch model: no client factory")
	}

	next := s.Config()
	next.LLMModel = next.ModelForProvider(p)
	if next.LLMModel == "" {
		return fmt.Errorf("%s chat model: %w", p, ErrMissingModel)
	}

	warnings, err := next.Validate()
	if err != nil {
		return err
	}
	for _, w := range warnings {
		s.logger.Warn(w)
	}

	client, err := s.factory.NewLLM(ctx, next)
	if err != nil {
		return fmt.Errorf("llm client: %w", err)
	}

	s.mu.Lock()
	prev := s.cfg.LLMModel
	s.cfg.LLMModel = next.LLMModel
	s.llm = client
	s.mu.Unlock()

	s.logger.Info("model switched", "from", prev, "to", next.LLMModel, "provider", p)
	return nil
}

func (s *Service) record(ctx context.Context, question string, resp *AskResponse, start time.Time) {
	if s.history == nil {
		return
	}
	err := s.history.Record(ctx, QueryRecord{
		Collection: s.collection,
		Question:   question,
		Answer:     resp.Answer,
		Model:      resp.Model,
		Provider:   resp.Provider,
		Lang:       resp.Lang,
		Sources:    len(resp.Sources),
		Duration:   time.Since(start),
		AskedAt:    start,
	})
	if err != nil {
		s.logger.Warn("failed to record query history", "err", err)
	}
}

// trimToBudget corta text até caber em budget tokens, nunca abaixo de uma
// rune. Tokens não são proporcionais a runes, então recorta e reconta.
func trimToBudget(text string, tc TokenCounter, tokens, budget int) string {
	runes := []rune(text)
	keep := max(1, len(runes)*budget/tokens)
	for keep > 1 {
		n := tc.CountTokens(string(runes[:keep]))
		if n <= budget {
			break
		}
		next := keep * budget / n
		if next >= keep {
			next = keep - 1
		}
		keep = max(1, next)
	}
	return string(runes[:keep])
}

// fitContext keeps the best chunks whose content fits in budget tokens.
// The first chunk is always kept, cut down if it alone is over budget.
func fitContext(chunks []ScoredChunk, tc TokenCounter, budget int) []ScoredChunk {
	if budget <= 0 || len(chunks) == 0 {
		return chunks
	}

	out := make([]ScoredChunk, 0, len(chunks))
	used := 0
	for i, c := range chunks {
		n := tc.CountTokens(c.Content)
		if used+n <= budget {
			out = append(out, c)
			used += n
			continue
		}
		if i == 0 {
			c.Content = trimToBudget(c.Content, tc, n, budget)
			out = append(out, c)
		}
		break
	}
	return out
}

// whatlanggo names languages by ISO 639-3 code; older releases use the
// English name, so both are accepted.
var isoCodes = map[string]string{
	"eng": "en", "english": "en",
	"por": "pt", "portuguese": "pt",
	"spa": "es", "spanish": "es",
	"fra": "fr", "french": "fr",
	"deu": "de", "german": "de",
	"ita": "it", "italian": "it",
	"nld": "nl", "dutch": "nl",
	"rus": "ru", "russian": "ru",
	"cmn": "zh", "mandarin": "zh",
	"jpn": "ja", "japanese": "ja",
	"kor": "ko", "korean": "ko",
	"arb": "ar", "arabic": "ar",
	"hin": "hi", "hindi": "hi",
}

// detectLang returns the ISO 639-1 code of s, or "" when the language is
// not one the prompt knows by name.
func detectLang(s string) string {
	info := wl.Detect(s)
	return isoCodes[strings.ToLower(wl.LangToString(info.Lang))]
}
