package mcp

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bull/flc-rag/internal/embedding"
	"github.com/bull/flc-rag/internal/vectorindex"
)

// ErrIndexNotLoaded is reported by Health when no usable index is loaded.
var ErrIndexNotLoaded = errors.New("index not loaded")

// Server wraps the MCP server with dependencies.
type Server struct {
	server    *mcp.Server
	index     *vectorindex.Index
	embedder  embedding.Provider
	indexPath string
}

// Config holds server dependencies.
type Config struct {
	Index     *vectorindex.Index
	Embedder  embedding.Provider
	IndexPath string
	Version   string
}

// NewServer creates a configured MCP server with tools registered.
func NewServer(cfg *Config) *Server {
	version := cfg.Version
	if version == "" {
		version = "v0.1.0"
	}
	impl := &mcp.Implementation{
		Name:    "flc-notes-server",
		Version: version,
	}

	server := mcp.NewServer(impl, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_notes",
		Description: "Search clinical note chunks semantically. Returns matching chunks with their note title and score. Use fetch_note to read a whole note.",
	}, makeSearchHandler(cfg.Index, cfg.Embedder))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "fetch_note",
		Description: "Retrieve a clinical note by title, reassembled from its indexed chunks.",
	}, makeFetchHandler(cfg.Index))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_sources",
		Description: "List the titles of all indexed clinical notes.",
	}, makeListHandler(cfg.Index))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_index_status",
		Description: "Get the status of the note index: chunk and note counts, vector dimension, embedding model and build time.",
	}, makeStatusHandler(cfg.Index, cfg.IndexPath))

	return &Server{
		server:    server,
		index:     cfg.Index,
		embedder:  cfg.Embedder,
		indexPath: cfg.IndexPath,
	}
}

// Run starts the server with stdio transport (blocks until client disconnects).
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// Health reports whether a non-empty index is loaded.
func (s *Server) Health(ctx context.Context) error {
	if s.index == nil || s.index.Len() == 0 {
		return ErrIndexNotLoaded
	}
	return nil
}

// Chunks returns the number of indexed chunks.
func (s *Server) Chunks() int {
	if s.index == nil {
		return 0
	}
	return s.index.Len()
}

// MCPServer returns the underlying MCP server instance.
// Used by transport handlers that need to wrap the server.
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}
