package rag

import (
	"context"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

const (
	milvusDefaultCollection = "smart_mrag_chunks"
	milvusMaxVarChar        = 65535
)

// MilvusRepository keeps every session collection in one Milvus collection,
// told apart by the "collection" field.
type MilvusRepository struct {
	client client.Client
	name   string
	dims   int
}

// NewMilvusRepository creates the Milvus collection with an HNSW/COSINE index
// when it does not exist yet and loads it for search.
func NewMilvusRepository(ctx context.Context, c client.Client, name string, dims int) (*MilvusRepository, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("milvus: embedding dimension must be specified")
	}
	if name == "" {
		name = milvusDefaultCollection
	}

	r := &MilvusRepository{client: c, name: name, dims: dims}
	if err := r.ensureCollection(ctx); err != nil {
		return nil, fmt.Errorf("milvus: %w", err)
	}
	return r, nil
}

func (r *MilvusRepository) ensureCollection(ctx context.Context) error {
	exists, err := r.client.HasCollection(ctx, r.name)
	if err != nil {
		return fmt.Errorf("check collection: %w", err)
	}

	if !exists {
		schema := &entity.Schema{
			CollectionName: r.name,
			Description:    "document chunks",
			AutoID:         true,
			Fields: []*entity.Field{
				{Name: "id", DataType: entity.FieldTypeInt64, PrimaryKey: true, AutoID: true},
				varCharField("collection", 256),
				varCharField("document_id", 64),
				varCharField("source", 1024),
				varCharField("title", 512),
				{Name: "chunk_index", DataType: entity.FieldTypeInt64},
				varCharField("content", milvusMaxVarChar),
				{Name: "created_at", DataType: entity.FieldTypeInt64},
				{
					Name:       "embedding",
					DataType:   entity.FieldTypeFloatVector,
					TypeParams: map[string]string{"dim": strconv.Itoa(r.dims)},
				},
			},
		}
		if err := r.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("create collection: %w", err)
		}

		index, err := entity.NewIndexHNSW(entity.COSINE, 16, 200)
		if err != nil {
			return fmt.Errorf("create index: %w", err)
		}
		if err := r.client.CreateIndex(ctx, r.name, "embedding", index, false); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}

	if err := r.client.LoadCollection(ctx, r.name, false); err != nil {
		return fmt.Errorf("load collection: %w", err)
	}
	return nil
}

func varCharField(name string, maxLen int) *entity.Field {
	return &entity.Field{
		Name:       name,
		DataType:   entity.FieldTypeVarChar,
		TypeParams: map[string]string{"max_length": strconv.Itoa(maxLen)},
	}
}

func (r *MilvusRepository) InsertChunk(ctx context.Context, c *DocChunk, embedding []float32) (int64, error) {
	if len(embedding) != r.dims {
		return 0, fmt.Errorf("milvus: embedding has %d dimensions, collection expects %d", len(embedding), r.dims)
	}

	created := c.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	ids, err := r.client.Insert(ctx, r.name, "",
		entity.NewColumnVarChar("collection", []string{c.Collection}),
		entity.NewColumnVarChar("document_id", []string{c.DocumentID}),
		entity.NewColumnVarChar("source", []string{truncateBytes(c.Source, 1024)}),
		entity.NewColumnVarChar("title", []string{truncateBytes(c.Title, 512)}),
		entity.NewColumnInt64("chunk_index", []int64{int64(c.ChunkIndex)}),
		entity.NewColumnVarChar("content", []string{truncateBytes(c.Content, milvusMaxVarChar)}),
		entity.NewColumnInt64("created_at", []int64{created.UnixMilli()}),
		entity.NewColumnFloatVector("embedding", r.dims, [][]float32{embedding}),
	)
	if err != nil {
		return 0, fmt.Errorf("milvus insert: %w", err)
	}

	col, ok := ids.(*entity.ColumnInt64)
	if !ok || col.Len() == 0 {
		return 0, fmt.Errorf("milvus insert: no id returned")
	}
	return col.Data()[0], nil
}

var milvusOutputFields = []string{"collection", "document_id", "source", "title", "chunk_index", "content", "created_at"}

func (r *MilvusRepository) SearchSimilarChunks(ctx context.Context, collection string, embedding []float32, limit int) ([]ScoredChunk, error) {
	if limit <= 0 {
		limit = 5
	}

	sp, err := entity.NewIndexHNSWSearchParam(max(64, limit))
	if err != nil {
		return nil, fmt.Errorf("milvus search param: %w", err)
	}

	results, err := r.client.Search(
		ctx,
		r.name,
		[]string{},
		collectionExpr(collection),
		milvusOutputFields,
		[]entity.Vector{entity.FloatVector(embedding)},
		"embedding",
		entity.COSINE,
		limit,
		sp,
		client.WithSearchQueryConsistencyLevel(entity.ClStrong),
	)
	if err != nil {
		return nil, fmt.Errorf("milvus search: %w", err)
	}

	var out []ScoredChunk
	for _, res := range results {
		ids, _ := res.IDs.(*entity.ColumnInt64)
		for i := 0; i < res.ResultCount; i++ {
			var sc ScoredChunk
			if ids != nil && i < ids.Len() {
				sc.ID = ids.Data()[i]
			}
			if i < len(res.Scores) {
				sc.Score = float64(res.Scores[i])
			}
			for _, col := range res.Fields {
				v, err := col.Get(i)
				if err != nil {
					continue
				}
				assignField(&sc.DocChunk, col.Name(), v)
			}
			out = append(out, sc)
		}
	}
	return out, nil
}

func assignField(c *DocChunk, name string, v any) {
	switch name {
	case "collection":
		c.Collection, _ = v.(string)
	case "document_id":
		c.DocumentID, _ = v.(string)
	case "source":
		c.Source, _ = v.(string)
	case "title":
		c.Title, _ = v.(string)
	case "content":
		c.Content, _ = v.(string)
	case "chunk_index":
		if n, ok := v.(int64); ok {
			c.ChunkIndex = int(n)
		}
	case "created_at":
		if n, ok := v.(int64); ok {
			c.CreatedAt = time.UnixMilli(n)
		}
	}
}

func (r *MilvusRepository) CountChunks(ctx context.Context, collection string) (int, error) {
	cols, err := r.client.Query(ctx, r.name, []string{}, collectionExpr(collection), []string{"count(*)"},
		client.WithSearchQueryConsistencyLevel(entity.ClStrong))
	if err != nil {
		return 0, fmt.Errorf("milvus count: %w", err)
	}
	for _, col := range cols {
		if col.Name() != "count(*)" || col.Len() == 0 {
			continue
		}
		v, err := col.Get(0)
		if err != nil {
			return 0, fmt.Errorf("milvus count: %w", err)
		}
		if n, ok := v.(int64); ok {
			return int(n), nil
		}
	}
	return 0, nil
}

func (r *MilvusRepository) DeleteDocument(ctx context.Context, collection, documentID string) error {
	expr := collectionExpr(collection) + " && document_id == " + strconv.Quote(documentID)
	if err := r.client.Delete(ctx, r.name, "", expr); err != nil {
		return fmt.Errorf("milvus delete document: %w", err)
	}
	return nil
}

func (r *MilvusRepository) DeleteCollection(ctx context.Context, collection string) error {
	if err := r.client.Delete(ctx, r.name, "", collectionExpr(collection)); err != nil {
		return fmt.Errorf("milvus delete: %w", err)
	}
	return nil
}

func (r *MilvusRepository) Close() error {
	return r.client.Close()
}

func collectionExpr(collection string) string {
	return "collection == " + strconv.Quote(collection)
}

// Milvus measures max_length in bytes; cut on a rune boundary.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

var _ Repository = (*MilvusRepository)(nil)
