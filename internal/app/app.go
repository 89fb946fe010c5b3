// Package app monta a sessão a partir da Config: store vetorial, cache de
// embeddings, histórico e clientes dos provedores.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/josinaldojr/smart-mrag/internal/cache"
	"github.com/josinaldojr/smart-mrag/internal/config"
	"github.com/josinaldojr/smart-mrag/internal/db"
	"github.com/josinaldojr/smart-mrag/internal/history"
	"github.com/josinaldojr/smart-mrag/internal/llm"
	"github.com/josinaldojr/smart-mrag/internal/rag"
	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/redis/go-redis/v9"
)

type App struct {
	Service *rag.Service
	History *history.Store // nil quando HISTORY_DSN não está setado

	closers []func() error
}

// Close releases every backend opened by Build, in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Build wires the configured backends into a rag.Service. On error anything
// already opened is closed.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if _, err := cfg.Model.Validate(); err != nil {
		return nil, err
	}

	factory := llm.Factory{HTTPClient: &http.Client{Timeout: 120 * time.Second}}
	var embeddings rag.EmbeddingsClient
	embeddings, err = factory.NewEmbeddings(ctx, cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("embeddings client: %w", err)
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		a.closers = append(a.closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, embeddings will not be cached until it comes back",
				"addr", cfg.RedisAddr, "err", err)
		}
		embeddings = cache.NewRedisEmbeddings(embeddings, rdb, cache.Options{
			Model:  cfg.Model.EmbeddingModel,
			TTL:    cfg.RedisTTL,
			Logger: logger,
		})
	}

	repo, err := a.openRepository(ctx, cfg, embeddings, logger)
	if err != nil {
		return nil, err
	}

	opts := []rag.Option{
		rag.WithRepository(repo),
		rag.WithClientFactory(factory),
		rag.WithEmbeddings(embeddings),
		rag.WithLogger(logger),
		rag.WithCollection(cfg.Collection),
		rag.WithTokenCounter(llm.NewTokenCounter()),
	}

	if cfg.HistoryDSN != "" {
		h, err := history.Open(ctx, cfg.HistoryDriver, cfg.HistoryDSN)
		if err != nil {
			return nil, err
		}
		a.History = h
		a.closers = append(a.closers, h.Close)
		opts = append(opts, rag.WithHistory(h))
	}

	a.Service, err = rag.New(ctx, cfg.Model, opts...)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) openRepository(ctx context.Context, cfg *config.Config, emb rag.EmbeddingsClient, logger *slog.Logger) (rag.Repository, error) {
	switch cfg.Store {
	case config.StorePostgres:
		dims, err := embeddingDimensions(ctx, cfg.Model, emb)
		if err != nil {
			return nil, err
		}
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		if err := db.Migrate(ctx, pool, dims); err != nil {
			return nil, err
		}
		logger.Info("using postgres vector store", "dims", dims)
		return rag.NewPgRepository(pool), nil

	case config.StoreMilvus:
		dims, err := embeddingDimensions(ctx, cfg.Model, emb)
		if err != nil {
			return nil, err
		}
		c, err := client.NewClient(ctx, client.Config{Address: cfg.MilvusAddr})
		if err != nil {
			return nil, fmt.Errorf("connect milvus %s: %w", cfg.MilvusAddr, err)
		}
		a.closers = append(a.closers, c.Close)
		repo, err := rag.NewMilvusRepository(ctx, c, "", dims)
		if err != nil {
			return nil, err
		}
		logger.Info("using milvus vector store", "addr", cfg.MilvusAddr, "dims", dims)
		return repo, nil

	default:
		return rag.NewMemoryRepository(), nil
	}
}

// embeddingDimensions usa a largura conhecida do modelo; se não houver,
// embeda um texto curto e mede.
func embeddingDimensions(ctx context.Context, cfg rag.ModelConfig, emb rag.EmbeddingsClient) (int, error) {
	if d := cfg.Dimensions(); d > 0 {
		return d, nil
	}
	vec, err := emb.Embed(ctx, "dimension probe")
	if err != nil {
		return 0, fmt.Errorf("probe embedding dimensions: %w", err)
	}
	if len(vec) == 0 {
		return 0, errors.New("probe embedding dimensions: empty vector")
	}
	return len(vec), nil
}
