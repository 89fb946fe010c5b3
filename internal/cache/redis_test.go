package cache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	calls int
	err   error
}

func (e *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return []float32{float32(len(text)), 1}, nil
}

type batchEmbedder struct {
	countingEmbedder
	batches [][]string
}

func (e *batchEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.batches = append(e.batches, texts)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = e.countingEmbedder.Embed(ctx, t)
	}
	return out, nil
}

// nada escuta na porta 1
func unreachable(t *testing.T) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEmbed_FallsThroughWhenRedisIsDown(t *testing.T) {
	next := &countingEmbedder{}
	c := NewRedisEmbeddings(next, unreachable(t), Options{Model: "m", Logger: quietLogger()})

	vec, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 1}, vec)
	assert.Equal(t, 1, next.calls)
}

func TestEmbed_PropagatesClientError(t *testing.T) {
	boom := errors.New("boom")
	c := NewRedisEmbeddings(&countingEmbedder{err: boom}, unreachable(t), Options{Logger: quietLogger()})

	_, err := c.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, boom)
}

func TestEmbedBatch_FallsThroughInOneBatch(t *testing.T) {
	next := &batchEmbedder{}
	c := NewRedisEmbeddings(next, unreachable(t), Options{Model: "m", Logger: quietLogger()})

	got, err := c.EmbedBatch(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 1}, {2, 1}, {3, 1}}, got)
	require.Len(t, next.batches, 1)
	assert.Equal(t, []string{"a", "bb", "ccc"}, next.batches[0])
}

func TestEmbedBatch_WithoutBatchSupport(t *testing.T) {
	next := &countingEmbedder{}
	c := NewRedisEmbeddings(next, unreachable(t), Options{Logger: quietLogger()})

	got, err := c.EmbedBatch(context.Background(), []string{"a", "bb"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, 2, next.calls)
}

func TestKey_ScopedByModel(t *testing.T) {
	rdb := unreachable(t)
	a := NewRedisEmbeddings(nil, rdb, Options{Model: "text-embedding-3-small"})
	b := NewRedisEmbeddings(nil, rdb, Options{Model: "text-embedding-3-large"})

	assert.Equal(t, a.key("x"), a.key("x"))
	assert.NotEqual(t, a.key("x"), a.key("y"))
	assert.NotEqual(t, a.key("x"), b.key("x"))
	assert.Contains(t, a.key("x"), DefaultPrefix)
	assert.Len(t, a.key("x"), len(DefaultPrefix)+64)
}

func TestEmbed_SecondCallIsServedFromRedis(t *testing.T) {
	mr, rdb := newMiniredis(t)
	next := &countingEmbedder{}
	c := NewRedisEmbeddings(next, rdb, Options{Model: "m", TTL: time.Hour, Logger: quietLogger()})

	first, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	second, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, next.calls)

	raw, err := mr.Get(c.key("hello"))
	require.NoError(t, err)
	assert.JSONEq(t, `[5,1]`, raw)
	assert.Equal(t, time.Hour, mr.TTL(c.key("hello")))
}

func TestEmbed_ZeroTTLKeepsEntry(t *testing.T) {
	mr, rdb := newMiniredis(t)
	c := NewRedisEmbeddings(&countingEmbedder{}, rdb, Options{Logger: quietLogger()})

	_, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.True(t, mr.Exists(c.key("hello")))
	assert.Zero(t, mr.TTL(c.key("hello")))
}

func TestEmbed_ExpiredEntryGoesBackToClient(t *testing.T) {
	mr, rdb := newMiniredis(t)
	next := &countingEmbedder{}
	c := NewRedisEmbeddings(next, rdb, Options{TTL: time.Minute, Logger: quietLogger()})

	_, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)
	_, err = c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, 2, next.calls)
}

func TestEmbed_CorruptedEntryIsReplaced(t *testing.T) {
	mr, rdb := newMiniredis(t)
	next := &countingEmbedder{}
	c := NewRedisEmbeddings(next, rdb, Options{Logger: quietLogger()})
	require.NoError(t, mr.Set(c.key("hello"), "not json"))

	vec, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 1}, vec)
	assert.Equal(t, 1, next.calls)

	raw, err := mr.Get(c.key("hello"))
	require.NoError(t, err)
	assert.JSONEq(t, `[5,1]`, raw)
}

func TestEmbedBatch_OnlyMissesReachTheClient(t *testing.T) {
	mr, rdb := newMiniredis(t)
	next := &batchEmbedder{}
	c := NewRedisEmbeddings(next, rdb, Options{Model: "m", TTL: time.Hour, Logger: quietLogger()})

	// "bb" já está no cache com um valor que o cliente nunca produziria
	require.NoError(t, mr.Set(c.key("bb"), `[42,42]`))

	got, err := c.EmbedBatch(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 1}, {42, 42}, {3, 1}}, got)
	require.Len(t, next.batches, 1)
	assert.Equal(t, []string{"a", "ccc"}, next.batches[0])

	// misses foram gravados pelo pipeline, com TTL
	for _, text := range []string{"a", "ccc"} {
		assert.True(t, mr.Exists(c.key(text)), text)
		assert.Equal(t, time.Hour, mr.TTL(c.key(text)), text)
	}

	got, err = c.EmbedBatch(context.Background(), []string{"ccc", "a", "bb"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{3, 1}, {1, 1}, {42, 42}}, got)
	assert.Len(t, next.batches, 1)
}

func TestEmbedBatch_CorruptedEntryCountsAsMiss(t *testing.T) {
	mr, rdb := newMiniredis(t)
	next := &batchEmbedder{}
	c := NewRedisEmbeddings(next, rdb, Options{Logger: quietLogger()})
	require.NoError(t, mr.Set(c.key("a"), "{broken"))

	got, err := c.EmbedBatch(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 1}}, got)
	require.Len(t, next.batches, 1)
}

func TestEmbed_CacheIsScopedByModel(t *testing.T) {
	_, rdb := newMiniredis(t)
	small := &countingEmbedder{}
	large := &countingEmbedder{}
	a := NewRedisEmbeddings(small, rdb, Options{Model: "text-embedding-3-small", Logger: quietLogger()})
	b := NewRedisEmbeddings(large, rdb, Options{Model: "text-embedding-3-large", Logger: quietLogger()})

	_, err := a.Embed(context.Background(), "hello")
	require.NoError(t, err)
	_, err = b.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, 1, small.calls)
	assert.Equal(t, 1, large.calls)
}
