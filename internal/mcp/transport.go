package mcp

import (
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// HTTPHandlerOptions configures the Streamable HTTP transport.
type HTTPHandlerOptions struct {
	// Stateless skips session tracking. The note tools never call back into
	// the client, so either mode works.
	Stateless bool

	// JSONResponse answers each POST with a single application/json body
	// instead of an event stream.
	JSONResponse bool

	// Logger receives transport errors. Nil keeps the SDK default.
	Logger *slog.Logger
}

// NewHTTPHandler serves the note server over Streamable HTTP. mcp-server
// mounts it at /mcp next to the landing page and /health.
func NewHTTPHandler(server *Server, opts *HTTPHandlerOptions) http.Handler {
	if opts == nil {
		opts = &HTTPHandlerOptions{}
	}

	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server.MCPServer()
	}, &mcp.StreamableHTTPOptions{
		Stateless:    opts.Stateless,
		JSONResponse: opts.JSONResponse,
		Logger:       opts.Logger,
	})
}
