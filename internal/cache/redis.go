// Package cache guarda embeddings no Redis para não pagar duas vezes pelo
// mesmo texto.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/josinaldojr/smart-mrag/internal/rag"
	"github.com/redis/go-redis/v9"
)

const DefaultPrefix = "smart-mrag:emb:"

// RedisEmbeddings wraps an EmbeddingsClient. Hits are served from Redis,
// misses go to the wrapped client and are stored with the configured TTL.
// A Redis failure never fails the call.
type RedisEmbeddings struct {
	next   rag.EmbeddingsClient
	rdb    redis.UniversalClient
	model  string
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

type Options struct {
	Model  string
	Prefix string
	TTL    time.Duration // zero keeps entries forever
	Logger *slog.Logger
}

func NewRedisEmbeddings(next rag.EmbeddingsClient, rdb redis.UniversalClient, opts Options) *RedisEmbeddings {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &RedisEmbeddings{
		next:   next,
		rdb:    rdb,
		model:  opts.Model,
		prefix: opts.Prefix,
		ttl:    opts.TTL,
		logger: opts.Logger,
	}
}

func (c *RedisEmbeddings) key(text string) string {
	sum := sha256.Sum256([]byte(c.model + "\x00" + text))
	return c.prefix + hex.EncodeToString(sum[:])
}

func (c *RedisEmbeddings) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)
	if vec, ok := c.get(ctx, key); ok {
		return vec, nil
	}

	vec, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.set(ctx, key, vec)
	return vec, nil
}

// EmbedBatch looks every text up in one MGET and only sends the misses to
// the wrapped client, batched when it supports batching.
func (c *RedisEmbeddings) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = c.key(t)
	}

	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger.Warn("embedding cache unavailable", "err", err)
		vals = nil
	}

	var missIdx []int
	var missTexts []string
	for i := range texts {
		if i < len(vals) {
			if s, ok := vals[i].(string); ok {
				var vec []float32
				if json.Unmarshal([]byte(s), &vec) == nil {
					out[i] = vec
					continue
				}
			}
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, texts[i])
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	var fresh [][]float32
	if b, ok := c.next.(rag.BatchEmbeddingsClient); ok {
		fresh, err = b.EmbedBatch(ctx, missTexts)
		if err != nil {
			return nil, err
		}
	} else {
		fresh = make([][]float32, len(missTexts))
		for i, t := range missTexts {
			if fresh[i], err = c.next.Embed(ctx, t); err != nil {
				return nil, err
			}
		}
	}
	if len(fresh) != len(missTexts) {
		return nil, errors.New("embedding batch size mismatch")
	}

	pipe := c.rdb.Pipeline()
	for j, i := range missIdx {
		out[i] = fresh[j]
		if b, err := json.Marshal(fresh[j]); err == nil {
			pipe.Set(ctx, keys[i], b, c.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("embedding cache write failed", "err", err)
	}
	return out, nil
}

func (c *RedisEmbeddings) get(ctx context.Context, key string) ([]float32, bool) {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("embedding cache unavailable", "err", err)
		}
		return nil, false
	}
	var vec []float32
	if err := json.Unmarshal(b, &vec); err != nil {
		c.logger.Warn("embedding cache entry corrupted", "key", key, "err", err)
		return nil, false
	}
	return vec, true
}

func (c *RedisEmbeddings) set(ctx context.Context, key string, vec []float32) {
	b, err := json.Marshal(vec)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, b, c.ttl).Err(); err != nil {
		c.logger.Warn("embedding cache write failed", "err", err)
	}
}
