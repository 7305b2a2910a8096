package main

import (
	"log/slog"
	"strings"

	"github.com/bull/flc-rag/internal/config"
	"github.com/bull/flc-rag/internal/embedding"
	"github.com/bull/flc-rag/internal/llm"
	"github.com/bull/flc-rag/internal/ratelimit"
)

// newProviders creates the embedder and chat client. Both share one OpenAI
// client and one rate limiter.
func newProviders(cfg *config.Config) (*embedding.Embedder, *llm.Client, error) {
	client, err := embedding.NewClient(cfg.OpenAI)
	if err != nil {
		return nil, nil, err
	}

	limiter := ratelimit.New(cfg.OpenAI.RequestsPerSec, cfg.OpenAI.Burst)
	embedder := embedding.NewEmbedder(client, cfg.OpenAI.EmbeddingModel, cfg.OpenAI.MaxTextsPerCall, limiter)
	completer := llm.NewClient(client, llm.Options{
		Model:   cfg.OpenAI.ChatModel,
		Timeout: cfg.Extraction.CallTimeout.Std(),
		Limiter: limiter,
		Logger:  slog.Default(),
	})
	return embedder, completer, nil
}

func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// preview flattens whitespace and truncates s to n runes.
func preview(s string, n int) string {
	flat := strings.Join(strings.Fields(s), " ")
	runes := []rune(flat)
	if len(runes) <= n {
		return flat
	}
	return string(runes[:n]) + "..."
}
