// Package vectorindex implements the in-memory similarity index built from
// embedded chunks, its merge operation, and its on-disk format.
package vectorindex

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/bull/flc-rag/internal/document"
)

// Entry is one embedded chunk.
type Entry struct {
	Chunk  document.Chunk
	Vector []float32
}

// Index is a flat cosine-similarity index over embedded chunks.
// Entries are keyed by chunk ID, which makes Merge idempotent and
// independent of the order partial indexes are combined in.
//
// An Index is not safe for concurrent mutation; the indexer gives each
// partial index to exactly one worker and merges on a single goroutine.
type Index struct {
	Model   string    // Embedding model the vectors came from
	BuiltAt time.Time // Zero until the index is persisted or loaded

	dim     int
	entries []Entry
	norms   []float64
	byID    map[string]int
}

// New returns an empty index. The dimension is fixed by the first entry added.
func New(model string) *Index {
	return &Index{
		Model: model,
		byID:  make(map[string]int),
	}
}

// Add appends entries, skipping chunk IDs already present.
// All vectors must share the index dimension.
func (idx *Index) Add(entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}
	dim := idx.dim
	if dim == 0 {
		dim = len(entries[0].Vector)
	}
	for i, e := range entries {
		if len(e.Vector) == 0 {
			return fmt.Errorf("%w: entry %d has an empty vector", ErrDimensionMismatch, i)
		}
		if len(e.Vector) != dim {
			return fmt.Errorf("%w: entry %d has %d dimensions, expected %d",
				ErrDimensionMismatch, i, len(e.Vector), dim)
		}
	}

	for _, e := range entries {
		if _, ok := idx.byID[e.Chunk.ID]; ok {
			continue
		}
		idx.dim = dim
		idx.byID[e.Chunk.ID] = len(idx.entries)
		idx.entries = append(idx.entries, e)
		idx.norms = append(idx.norms, norm(e.Vector))
	}
	return nil
}

// Merge absorbs every entry of other into idx. other is left unchanged.
func (idx *Index) Merge(other *Index) error {
	if other == nil || other.Len() == 0 {
		return nil
	}
	if idx.dim != 0 && other.dim != idx.dim {
		return fmt.Errorf("%w: merging %d-dimensional index into %d-dimensional index",
			ErrDimensionMismatch, other.dim, idx.dim)
	}
	if idx.Model == "" {
		idx.Model = other.Model
	}
	return idx.Add(other.entries...)
}

// Len returns the number of entries.
func (idx *Index) Len() int {
	return len(idx.entries)
}

// Dimension returns the vector size, or 0 for an empty index.
func (idx *Index) Dimension() int {
	return idx.dim
}

// Entries returns the entries in insertion order. The slice must not be modified.
func (idx *Index) Entries() []Entry {
	return idx.entries
}

// Search returns the k entries most similar to query by cosine similarity.
// Equal scores are ordered by chunk ID.
func (idx *Index) Search(query []float32, k int) ([]document.ScoredChunk, error) {
	return idx.SearchFunc(query, k, nil)
}

// SearchSource is Search restricted to chunks from one source document title.
func (idx *Index) SearchSource(query []float32, k int, source string) ([]document.ScoredChunk, error) {
	if source == "" {
		return idx.Search(query, k)
	}
	return idx.SearchFunc(query, k, func(c *document.Chunk) bool {
		return c.Source == source
	})
}

// SearchFunc is Search over the entries accepted by keep (nil keeps all).
func (idx *Index) SearchFunc(query []float32, k int, keep func(*document.Chunk) bool) ([]document.ScoredChunk, error) {
	if k <= 0 || len(idx.entries) == 0 {
		return []document.ScoredChunk{}, nil
	}
	if len(query) != idx.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(query), idx.dim)
	}

	qNorm := norm(query)
	hits := make([]document.ScoredChunk, 0, len(idx.entries))
	for i := range idx.entries {
		e := &idx.entries[i]
		if keep != nil && !keep(&e.Chunk) {
			continue
		}
		hits = append(hits, document.ScoredChunk{
			Chunk: &e.Chunk,
			Score: cosine(query, e.Vector, qNorm, idx.norms[i]),
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Chunk.ID < hits[j].Chunk.ID
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Stats summarizes the index contents.
type Stats struct {
	Chunks    int
	Sources   []string // Distinct source titles, sorted
	Dimension int
	Model     string
	BuiltAt   time.Time
}

// Stats returns a summary of the index.
func (idx *Index) Stats() Stats {
	seen := make(map[string]struct{})
	for i := range idx.entries {
		seen[idx.entries[i].Chunk.Source] = struct{}{}
	}
	sources := make([]string, 0, len(seen))
	for s := range seen {
		sources = append(sources, s)
	}
	sort.Strings(sources)

	return Stats{
		Chunks:    len(idx.entries),
		Sources:   sources,
		Dimension: idx.dim,
		Model:     idx.Model,
		BuiltAt:   idx.BuiltAt,
	}
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// cosine returns 0 when either vector has zero magnitude.
func cosine(a, b []float32, normA, normB float64) float64 {
	if normA == 0 || normB == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (normA * normB)
}
