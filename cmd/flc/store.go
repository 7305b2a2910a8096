package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bull/flc-rag/internal/config"
	"github.com/bull/flc-rag/internal/document"
	"github.com/bull/flc-rag/internal/storage"
	"github.com/bull/flc-rag/internal/vectorindex"
)

// noteStore is the read side of an index, local or published.
type noteStore interface {
	SearchSource(ctx context.Context, vector []float32, k int, source string) ([]document.ScoredChunk, error)
	ListSources(ctx context.Context) ([]string, error)
}

// localStore serves a persisted index loaded into memory.
type localStore struct {
	idx *vectorindex.Index
}

func (s localStore) SearchSource(_ context.Context, vector []float32, k int, source string) ([]document.ScoredChunk, error) {
	return s.idx.SearchSource(vector, k, source)
}

func (s localStore) ListSources(context.Context) ([]string, error) {
	return s.idx.Stats().Sources, nil
}

// openNoteStore opens the configured backend. The returned func releases it.
func openNoteStore(ctx context.Context, cfg *config.Config) (noteStore, func(), error) {
	if cfg.Retrieval.Backend == "qdrant" {
		store, err := storage.NewQdrantStorage(cfg.Qdrant.Host, cfg.Qdrant.Port, cfg.Qdrant.Collection)
		if err != nil {
			return nil, nil, fmt.Errorf("Failed to connect to Qdrant: %w", err)
		}
		return store, func() { store.Close() }, nil
	}

	idx, err := vectorindex.Load(ctx, cfg.Index.Path)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("Loaded index", "path", cfg.Index.Path, "chunks", idx.Len(), "model", idx.Model)
	return localStore{idx: idx}, func() {}, nil
}
