// Package main provides the MCP server entry point for the clinical note index.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/bull/flc-rag/internal/config"
	"github.com/bull/flc-rag/internal/embedding"
	mcpserver "github.com/bull/flc-rag/internal/mcp"
	"github.com/bull/flc-rag/internal/ratelimit"
	"github.com/bull/flc-rag/internal/vectorindex"
)

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Create context that cancels on SIGTERM/SIGINT
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// Logs go to stderr; stdout carries the stdio transport
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	cfg, err := config.Load(os.Getenv("FLC_CONFIG"))
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if err := cfg.RequireCredentials(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	// Load the persisted index; a missing or corrupt index is fatal
	idx, err := vectorindex.Load(ctx, cfg.Index.Path)
	if err != nil {
		log.Fatalf("failed to load index: %v", err)
	}
	slog.Info("Loaded index", "path", cfg.Index.Path, "chunks", idx.Len(), "model", idx.Model)

	// Initialize embedding client
	embeddingClient, err := embedding.NewClient(cfg.OpenAI)
	if err != nil {
		log.Fatalf("failed to create embedding client: %v", err)
	}
	model := idx.Model
	if model == "" {
		model = cfg.OpenAI.EmbeddingModel
	}
	limiter := ratelimit.New(cfg.OpenAI.RequestsPerSec, cfg.OpenAI.Burst)
	embedder := embedding.NewEmbedder(embeddingClient, model, 0, limiter)

	// Create MCP server
	server := mcpserver.NewServer(&mcpserver.Config{
		Index:     idx,
		Embedder:  embedder,
		IndexPath: cfg.Index.Path,
	})

	// Create HTTP server with multiple endpoints
	mux := http.NewServeMux()
	mux.HandleFunc("/", mcpserver.NewLandingHandler())
	mux.HandleFunc("/health", mcpserver.NewHealthHandler(server))
	mux.Handle("/mcp", mcpserver.NewHTTPHandler(server, &mcpserver.HTTPHandlerOptions{
		Logger: slog.Default(),
	}))

	addr := "0.0.0.0:" + cfg.Server.Port

	if cfg.Server.ServerMode {
		// HTTP mode: serve MCP over HTTP for remote clients
		httpServer := &http.Server{Addr: addr, Handler: mux}
		go func() {
			<-ctx.Done()
			httpServer.Shutdown(context.Background())
		}()

		log.Printf("Starting HTTP server on %s (MCP at /mcp, health at /health)", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
		return
	}

	// Stdio mode: run MCP server over stdin/stdout for local clients
	// Also start HTTP health endpoint in background for local testing
	go func() {
		log.Printf("Starting health server on %s", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Printf("Health server error: %v", err)
		}
	}()

	log.Println("Starting FLC notes MCP server (stdio mode)...")
	if err := server.Run(ctx); err != nil {
		log.Printf("server error: %v", err)
		os.Exit(1)
	}
}
