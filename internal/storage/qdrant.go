// Package storage publishes the merged index to Qdrant and searches it there.
package storage

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/qdrant/go-client/qdrant"

	"github.com/bull/flc-rag/internal/document"
	"github.com/bull/flc-rag/internal/vectorindex"
)

// QdrantStorage wraps the Qdrant client with connection management and health checks.
type QdrantStorage struct {
	client     *qdrant.Client
	host       string
	port       int
	collection string
}

// NewQdrantStorage creates a new Qdrant client with health validation.
// It performs health check with retry on startup and fails fast if Qdrant is unreachable.
func NewQdrantStorage(host string, port int, collection string) (*QdrantStorage, error) {
	if collection == "" {
		collection = DefaultCollection
	}

	// Create Qdrant client using gRPC
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	storage := &QdrantStorage{
		client:     client,
		host:       host,
		port:       port,
		collection: collection,
	}

	ctx := context.Background()
	if err := storage.healthCheckWithRetry(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrQdrantUnreachable, err)
	}

	return storage, nil
}

// newRetryBackoff returns the retry policy for Qdrant calls.
// Initial interval 500ms, max interval 10s, max elapsed 30s.
func newRetryBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	return backoff.WithContext(b, ctx)
}

func (s *QdrantStorage) healthCheckWithRetry(ctx context.Context) error {
	return backoff.Retry(func() error { return s.Health(ctx) }, newRetryBackoff(ctx))
}

// Health performs a single health check against Qdrant.
func (s *QdrantStorage) Health(ctx context.Context) error {
	result, err := s.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}

	return nil
}

// Collection returns the collection name.
func (s *QdrantStorage) Collection() string {
	return s.collection
}

// EnsureCollection ensures the collection exists with dim-sized cosine vectors
// and keyword payload indexes. An existing collection with a different vector
// size is an ErrDimensionMismatch. Idempotent.
func (s *QdrantStorage) EnsureCollection(ctx context.Context, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("%w: vector size %d must be positive", ErrDimensionMismatch, dim)
	}

	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if exists {
		info, err := s.GetCollectionInfo(ctx)
		if err != nil {
			return err
		}
		if info.Dimension != 0 && info.Dimension != uint64(dim) {
			return fmt.Errorf("%w: collection %s has %d dimensions, index has %d",
				ErrDimensionMismatch, s.collection, info.Dimension, dim)
		}
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			VectorName: {
				Size:     uint64(dim),
				Distance: qdrant.Distance_Cosine,
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	if err := s.createPayloadIndexes(ctx); err != nil {
		return fmt.Errorf("failed to create payload indexes: %w", err)
	}

	return nil
}

// createPayloadIndexes creates indexes for all filterable fields.
func (s *QdrantStorage) createPayloadIndexes(ctx context.Context) error {
	for _, field := range []string{fieldSource, fieldDocumentID} {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.collection,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return fmt.Errorf("failed to create index for field %s: %w", field, err)
		}
	}

	return nil
}

// ClearCollection drops the collection and recreates it for dim-sized vectors.
func (s *QdrantStorage) ClearCollection(ctx context.Context, dim int) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if exists {
		if err := s.client.DeleteCollection(ctx, s.collection); err != nil {
			return fmt.Errorf("failed to delete collection: %w", err)
		}
	}

	return s.EnsureCollection(ctx, dim)
}

// Close closes the Qdrant client connection.
func (s *QdrantStorage) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// upsertWithRetry performs upsert operation with exponential backoff retry.
func (s *QdrantStorage) upsertWithRetry(ctx context.Context, points []*qdrant.PointStruct) error {
	operation := func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.collection,
			Points:         points,
			Wait:           qdrant.PtrOf(true),
		})
		return err
	}

	return backoff.Retry(operation, newRetryBackoff(ctx))
}

// UpsertChunks stores embedded chunks in Qdrant, in batches of 100.
// Point IDs are the chunk IDs, so publishing the same index twice is idempotent.
func (s *QdrantStorage) UpsertChunks(ctx context.Context, model string, entries []vectorindex.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	dim := len(entries[0].Vector)
	for i, e := range entries {
		if len(e.Vector) != dim || dim == 0 {
			return fmt.Errorf("%w: chunk %d has %d dimensions, expected %d",
				ErrDimensionMismatch, i, len(e.Vector), dim)
		}
	}

	for i := 0; i < len(entries); i += upsertBatchSize {
		end := min(i+upsertBatchSize, len(entries))

		batch := entries[i:end]
		points := make([]*qdrant.PointStruct, len(batch))
		for j, e := range batch {
			points[j] = &qdrant.PointStruct{
				Id: qdrant.NewIDUUID(e.Chunk.ID),
				Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{
					VectorName: qdrant.NewVector(e.Vector...),
				}),
				Payload: qdrant.NewValueMap(map[string]any{
					fieldDocumentID: e.Chunk.DocumentID,
					fieldSource:     e.Chunk.Source,
					fieldChunkIndex: e.Chunk.Index,
					fieldOffset:     e.Chunk.Offset,
					fieldContent:    e.Chunk.Content,
					fieldModel:      model,
				}),
			}
		}

		if err := s.upsertWithRetry(ctx, points); err != nil {
			return fmt.Errorf("failed to upsert batch %d-%d: %w", i, end, err)
		}
	}

	return nil
}

// Publish uploads every entry of idx.
func (s *QdrantStorage) Publish(ctx context.Context, idx *vectorindex.Index) error {
	return s.UpsertChunks(ctx, idx.Model, idx.Entries())
}

// SearchChunks returns the k chunks nearest to vector by cosine similarity.
func (s *QdrantStorage) SearchChunks(ctx context.Context, vector []float32, k int) ([]document.ScoredChunk, error) {
	return s.SearchSource(ctx, vector, k, "")
}

// SearchSource is SearchChunks restricted to one source document title when
// source is not empty.
func (s *QdrantStorage) SearchSource(ctx context.Context, vector []float32, k int, source string) ([]document.ScoredChunk, error) {
	if k <= 0 {
		return []document.ScoredChunk{}, nil
	}

	var filter *qdrant.Filter
	if source != "" {
		filter = &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch(fieldSource, source)},
		}
	}

	vectorName := VectorName
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Using:          &vectorName,
		Filter:         filter,
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(false),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}

	scored := make([]document.ScoredChunk, 0, len(results))
	for _, result := range results {
		scored = append(scored, document.ScoredChunk{
			Chunk: chunkFromPayload(result.Id.GetUuid(), result.Payload),
			Score: float64(result.Score), // Qdrant returns float32, convert to float64
		})
	}

	return scored, nil
}

func chunkFromPayload(id string, payload map[string]*qdrant.Value) *document.Chunk {
	return &document.Chunk{
		ID:         id,
		DocumentID: payload[fieldDocumentID].GetStringValue(),
		Source:     payload[fieldSource].GetStringValue(),
		Index:      int(payload[fieldChunkIndex].GetIntegerValue()),
		Offset:     int(payload[fieldOffset].GetIntegerValue()),
		Content:    payload[fieldContent].GetStringValue(),
	}
}

// ListSources returns all unique source titles in the collection, sorted.
// Uses Scroll API to iterate through all points.
func (s *QdrantStorage) ListSources(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	var offset *qdrant.PointId
	batchSize := uint32(100)

	for {
		results, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: s.collection,
			Limit:          qdrant.PtrOf(batchSize),
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayloadInclude(fieldSource),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scroll chunks: %w", err)
		}

		for _, result := range results {
			if source := result.Payload[fieldSource].GetStringValue(); source != "" {
				seen[source] = struct{}{}
			}
		}

		// Stop if we got fewer results than batch size (no more pages)
		if uint32(len(results)) < batchSize {
			break
		}
		offset = results[len(results)-1].Id
	}

	sources := make([]string, 0, len(seen))
	for source := range seen {
		sources = append(sources, source)
	}
	slices.Sort(sources)
	return sources, nil
}

// GetCollectionInfo retrieves collection statistics.
func (s *QdrantStorage) GetCollectionInfo(ctx context.Context) (*CollectionInfo, error) {
	collection, err := s.client.GetCollectionInfo(ctx, s.collection)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCollectionNotFound, s.collection, err)
	}

	info := &CollectionInfo{
		Name:        s.collection,
		PointsCount: collection.GetPointsCount(),
	}
	if params := collection.GetConfig().GetParams().GetVectorsConfig().GetParamsMap().GetMap()[VectorName]; params != nil {
		info.Dimension = params.GetSize()
	}
	return info, nil
}
