package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/flc-rag/internal/config"
	"github.com/bull/flc-rag/internal/document"
	"github.com/bull/flc-rag/internal/vectorindex"
)

func persistedIndex(t *testing.T) string {
	t.Helper()
	idx := vectorindex.New("test-model")
	for i, title := range []string{"patient-b", "patient-a"} {
		id := document.NewDocumentID(i, title)
		require.NoError(t, idx.Add(vectorindex.Entry{
			Chunk: document.Chunk{
				ID:         document.NewChunkID(id, 0),
				DocumentID: id,
				Source:     title,
				Content:    "kappa " + title,
			},
			Vector: []float32{float32(i), 1},
		}))
	}
	path := filepath.Join(t.TempDir(), "index.db")
	require.NoError(t, idx.Persist(context.Background(), path))
	return path
}

func TestOpenNoteStore_Local(t *testing.T) {
	cfg := config.Default()
	cfg.Index.Path = persistedIndex(t)

	store, closeFn, err := openNoteStore(context.Background(), cfg)
	require.NoError(t, err)
	defer closeFn()

	sources, err := store.ListSources(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"patient-a", "patient-b"}, sources)

	hits, err := store.SearchSource(context.Background(), []float32{1, 1}, 5, "patient-a")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "patient-a", hits[0].Chunk.Source)
}

func TestOpenSearcher_Local(t *testing.T) {
	cfg := config.Default()
	cfg.Index.Path = persistedIndex(t)

	searcher, closeFn, err := openSearcher(context.Background(), cfg)
	require.NoError(t, err)
	defer closeFn()

	hits, err := searcher.SearchChunks(context.Background(), []float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "patient-b", hits[0].Chunk.Source)
}

func TestOpenNoteStore_MissingIndex(t *testing.T) {
	cfg := config.Default()
	cfg.Index.Path = filepath.Join(t.TempDir(), "missing.db")

	_, _, err := openNoteStore(context.Background(), cfg)
	assert.ErrorIs(t, err, vectorindex.ErrIndexLoad)
}
