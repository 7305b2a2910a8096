package mcp

import "net/http"

const landingHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>FLC Notes MCP Server</title>
<style>
  body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, Helvetica, Arial, sans-serif; background: #0f172a; color: #e2e8f0; display: flex; justify-content: center; padding-top: 10vh; }
  .card { max-width: 600px; width: 90%; background: #1e293b; border-radius: 12px; padding: 2.5rem; }
  h1 { font-size: 1.75rem; margin: 0 0 0.5rem; }
  .subtitle { color: #94a3b8; margin-bottom: 1.75rem; }
  a { color: #38bdf8; text-decoration: none; }
  .endpoint { font-family: "SF Mono", Menlo, monospace; font-size: 0.9rem; }
</style>
</head>
<body>
<div class="card">
  <h1>FLC Notes MCP Server</h1>
  <p class="subtitle">Semantic search over indexed clinical notes via the Model Context Protocol.</p>
  <p><a href="/mcp" class="endpoint">/mcp</a> &mdash; MCP Streamable HTTP</p>
  <p><a href="/health" class="endpoint">/health</a> &mdash; Health check</p>
</div>
</body>
</html>`

// NewLandingHandler returns an HTTP handler that serves the landing page at /.
func NewLandingHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(landingHTML))
	}
}
