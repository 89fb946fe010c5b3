package rag

import (
	"container/heap"
	"context"
	"math"
	"sort"
	"sync"
	"time"
)

// MemoryRepository keeps chunks and their normalized vectors in process.
// It is the default store for a session and is safe for concurrent use.
type MemoryRepository struct {
	mu     sync.RWMutex
	nextID int64
	chunks map[string][]memoryChunk
}

type memoryChunk struct {
	chunk  DocChunk
	vector []float32
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{chunks: make(map[string][]memoryChunk)}
}

func (r *MemoryRepository) InsertChunk(_ context.Context, c *DocChunk, embedding []float32) (int64, error) {
	vec := make([]float32, len(embedding))
	copy(vec, embedding)
	normalizeVector(vec)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	stored := *c
	stored.ID = r.nextID
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	r.chunks[c.Collection] = append(r.chunks[c.Collection], memoryChunk{chunk: stored, vector: vec})

	return stored.ID, nil
}

// SearchSimilarChunks returns up to limit chunks ordered by descending cosine
// similarity. Ties are broken by insertion order.
func (r *MemoryRepository) SearchSimilarChunks(ctx context.Context, collection string, embedding []float32, limit int) ([]ScoredChunk, error) {
	if limit <= 0 {
		limit = 5
	}

	query := make([]float32, len(embedding))
	copy(query, embedding)
	normalizeVector(query)

	r.mu.RLock()
	defer r.mu.RUnlock()

	h := &scoreHeap{}
	for _, mc := range r.chunks[collection] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(mc.vector) != len(query) {
			continue
		}
		score := dot(query, mc.vector)
		if h.Len() < limit {
			heap.Push(h, ScoredChunk{DocChunk: mc.chunk, Score: score})
			continue
		}
		if score > (*h)[0].Score {
			(*h)[0] = ScoredChunk{DocChunk: mc.chunk, Score: score}
			heap.Fix(h, 0)
		}
	}

	out := make([]ScoredChunk, h.Len())
	copy(out, *h)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].ID < out[j].ID
		}
		return out[i].Score > out[j].Score
	})
	return out, nil
}

func (r *MemoryRepository) CountChunks(_ context.Context, collection string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.chunks[collection]), nil
}

func (r *MemoryRepository) DeleteDocument(_ context.Context, collection, documentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.chunks[collection][:0]
	for _, mc := range r.chunks[collection] {
		if mc.chunk.DocumentID != documentID {
			kept = append(kept, mc)
		}
	}
	if len(kept) == 0 {
		delete(r.chunks, collection)
		return nil
	}
	r.chunks[collection] = kept
	return nil
}

func (r *MemoryRepository) DeleteCollection(_ context.Context, collection string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.chunks, collection)
	return nil
}

// min-heap on score; the root is the weakest of the current top-k
type scoreHeap []ScoredChunk

func (h scoreHeap) Len() int { return len(h) }
func (h scoreHeap) Less(i, j int) bool {
	if h[i].Score == h[j].Score {
		return h[i].ID > h[j].ID
	}
	return h[i].Score < h[j].Score
}
func (h scoreHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *scoreHeap) Push(x any) { *h = append(*h, x.(ScoredChunk)) }

func (h *scoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func normalizeVector(v []float32) {
	var norm float64
	for _, val := range v {
		norm += float64(val) * float64(val)
	}
	if norm == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= inv
	}
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

var _ Repository = (*MemoryRepository)(nil)
