package mcp

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bull/flc-rag/internal/document"
	"github.com/bull/flc-rag/internal/embedding"
	"github.com/bull/flc-rag/internal/vectorindex"
)

const (
	defaultMaxResults = 5
	maxMaxResults     = 20
	defaultMinScore   = 0.3
)

// gapMarker separates the parts of a note around chunks missing from the index.
const gapMarker = "\n[...]\n"

// makeSearchHandler creates the search_notes tool handler.
// Search flow:
// 1. Generate embedding for query text
// 2. Search the index, optionally restricted to one note
// 3. Filter by minimum score threshold
// 4. Return up to MaxResults chunks
func makeSearchHandler(index *vectorindex.Index, embedder embedding.Provider) func(
	context.Context, *mcp.CallToolRequest, SearchNotesInput,
) (*mcp.CallToolResult, SearchNotesOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input SearchNotesInput) (
		*mcp.CallToolResult, SearchNotesOutput, error,
	) {
		if strings.TrimSpace(input.Query) == "" {
			return nil, SearchNotesOutput{}, fmt.Errorf("query is required")
		}

		// Apply defaults
		maxResults := input.MaxResults
		if maxResults <= 0 {
			maxResults = defaultMaxResults
		}
		maxResults = min(maxResults, maxMaxResults)
		minScore := input.MinScore
		if minScore <= 0 {
			minScore = defaultMinScore
		}

		embeddings, err := embedder.GenerateEmbeddings(ctx, []string{input.Query})
		if err != nil {
			return nil, SearchNotesOutput{}, fmt.Errorf("failed to embed query: %w", err)
		}
		if len(embeddings) != 1 {
			return nil, SearchNotesOutput{}, fmt.Errorf("failed to embed query: got %d vectors", len(embeddings))
		}

		hits, err := index.SearchSource(embeddings[0], maxResults, input.Source)
		if err != nil {
			return nil, SearchNotesOutput{}, fmt.Errorf("search failed: %w", err)
		}

		results := make([]SearchResult, 0, len(hits))
		for _, hit := range hits {
			if hit.Score < minScore {
				continue // Below threshold
			}
			results = append(results, SearchResult{
				Source:     hit.Chunk.Source,
				ChunkIndex: hit.Chunk.Index,
				Score:      hit.Score,
				Content:    hit.Chunk.Content,
			})
		}

		if len(results) == 0 {
			return nil, SearchNotesOutput{
				Results: []SearchResult{},
				Message: "No matching chunks found. Try broader search terms or a lower min_score.",
			}, nil
		}

		return nil, SearchNotesOutput{Results: results}, nil
	}
}

// makeFetchHandler creates the fetch_note tool handler.
// Reassembles the note from its chunks, removing the overlap between
// consecutive windows.
func makeFetchHandler(index *vectorindex.Index) func(
	context.Context, *mcp.CallToolRequest, FetchNoteInput,
) (*mcp.CallToolResult, FetchNoteOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input FetchNoteInput) (
		*mcp.CallToolResult, FetchNoteOutput, error,
	) {
		var chunks []document.Chunk
		for _, e := range index.Entries() {
			if e.Chunk.Source == input.Source {
				chunks = append(chunks, e.Chunk)
			}
		}
		if len(chunks) == 0 {
			return nil, FetchNoteOutput{Source: input.Source, Found: false}, nil
		}

		content, complete := reassemble(chunks)
		return nil, FetchNoteOutput{
			Source:   input.Source,
			Content:  content,
			Chunks:   len(chunks),
			Complete: complete,
			Found:    true,
		}, nil
	}
}

// reassemble joins chunks of one note by character offset. Titles are not
// unique, so chunks are grouped per document ID first. complete is false when
// a gap between chunks had to be marked.
func reassemble(chunks []document.Chunk) (string, bool) {
	sort.Slice(chunks, func(i, j int) bool {
		if chunks[i].DocumentID != chunks[j].DocumentID {
			return chunks[i].DocumentID < chunks[j].DocumentID
		}
		return chunks[i].Index < chunks[j].Index
	})

	var parts []string
	complete := true
	var text []rune
	docID := chunks[0].DocumentID
	nextIndex := 0
	// segStart is where the current contiguous run begins in text and base is
	// the source offset of its first chunk.
	segStart, base := 0, 0

	flush := func() {
		parts = append(parts, string(text))
		text = text[:0]
		segStart, base = 0, 0
	}

	for _, c := range chunks {
		if c.DocumentID != docID {
			flush()
			docID = c.DocumentID
			nextIndex = 0
		}
		if c.Index != nextIndex {
			complete = false
			if len(text) > 0 {
				text = append(text, []rune(gapMarker)...)
			}
			segStart, base = len(text), c.Offset
			text = append(text, []rune(c.Content)...)
		} else if overlap := len(text) - segStart - (c.Offset - base); c.Index > 0 && overlap >= 0 {
			runes := []rune(c.Content)
			text = append(text, runes[min(overlap, len(runes)):]...)
		} else {
			text = append(text, []rune(c.Content)...)
		}
		nextIndex = c.Index + 1
	}
	flush()

	return strings.Join(parts, "\n\n"), complete
}

// makeListHandler creates the list_sources tool handler.
func makeListHandler(index *vectorindex.Index) func(
	context.Context, *mcp.CallToolRequest, ListSourcesInput,
) (*mcp.CallToolResult, ListSourcesOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input ListSourcesInput) (
		*mcp.CallToolResult, ListSourcesOutput, error,
	) {
		sources := index.Stats().Sources
		if sources == nil {
			sources = []string{} // Ensure non-nil for JSON marshaling
		}
		return nil, ListSourcesOutput{
			Sources: sources,
			Count:   len(sources),
		}, nil
	}
}

// makeStatusHandler creates the get_index_status tool handler.
func makeStatusHandler(index *vectorindex.Index, indexPath string) func(
	context.Context, *mcp.CallToolRequest, StatusInput,
) (*mcp.CallToolResult, StatusOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input StatusInput) (
		*mcp.CallToolResult, StatusOutput, error,
	) {
		stats := index.Stats()
		var builtAt string
		if !stats.BuiltAt.IsZero() {
			builtAt = stats.BuiltAt.UTC().Format(time.RFC3339)
		}
		return nil, StatusOutput{
			IndexPath:    indexPath,
			TotalChunks:  stats.Chunks,
			TotalSources: len(stats.Sources),
			Dimension:    stats.Dimension,
			Model:        stats.Model,
			BuiltAt:      builtAt,
		}, nil
	}
}
