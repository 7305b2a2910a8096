// Package mcp serves the persisted note index over the Model Context Protocol.
package mcp

// SearchNotesInput defines the input parameters for the search_notes tool.
type SearchNotesInput struct {
	// Query is the semantic search query.
	Query string `json:"query" jsonschema:"the semantic search query, e.g. kappa free light chain"`
	// MaxResults is the maximum number of chunks to return.
	MaxResults int `json:"max_results,omitempty" jsonschema:"maximum number of chunks to return (1-20, default 5)"`
	// MinScore is the minimum relevance threshold (0-1).
	MinScore float64 `json:"min_score,omitempty" jsonschema:"minimum cosine similarity (0-1, default 0.3)"`
	// Source restricts results to one note title.
	Source string `json:"source,omitempty" jsonschema:"only return chunks of the note with this title"`
}

// SearchNotesOutput contains the search results.
type SearchNotesOutput struct {
	Results []SearchResult `json:"results"`
	// Message provides informational context (e.g., "No matching chunks found").
	Message string `json:"message,omitempty"`
}

// SearchResult represents a single chunk match from semantic search.
type SearchResult struct {
	Source     string  `json:"source"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score"`
	Content    string  `json:"content"`
}

// FetchNoteInput defines the input parameters for the fetch_note tool.
type FetchNoteInput struct {
	Source string `json:"source" jsonschema:"the note title as returned by search_notes or list_sources"`
}

// FetchNoteOutput contains the note text reassembled from its indexed chunks.
type FetchNoteOutput struct {
	Source  string `json:"source"`
	Content string `json:"content"`
	Chunks  int    `json:"chunks"`
	// Complete is false when some chunks were dropped at build time.
	Complete bool `json:"complete"`
	Found    bool `json:"found"`
}

// ListSourcesInput takes no parameters.
type ListSourcesInput struct{}

// ListSourcesOutput contains every note title in the index.
type ListSourcesOutput struct {
	Sources []string `json:"sources"`
	Count   int      `json:"count"`
}

// StatusInput takes no parameters.
type StatusInput struct{}

// StatusOutput describes the loaded index.
type StatusOutput struct {
	IndexPath    string `json:"index_path"`
	TotalChunks  int    `json:"total_chunks"`
	TotalSources int    `json:"total_sources"`
	Dimension    int    `json:"dimension"`
	Model        string `json:"model"`
	BuiltAt      string `json:"built_at,omitempty"` // RFC 3339
}
