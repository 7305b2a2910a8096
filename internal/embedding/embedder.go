package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"

	"github.com/bull/flc-rag/internal/ratelimit"
)

const (
	// DefaultModel matches the deployment the notes were originally indexed with.
	DefaultModel = "text-embedding-3-large"

	// DefaultBatchSize is the number of texts sent per request.
	// OpenAI supports up to 2048 texts per request; smaller requests reduce TPM pressure.
	DefaultBatchSize = 1000
)

// Provider turns texts into vectors, one per text, in input order.
type Provider interface {
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// Embedder generates embeddings through the OpenAI embeddings API.
// It splits large inputs into requests of at most batchSize texts, waits on
// the shared rate limiter before each request, and retries rate limit and
// server errors with exponential backoff.
type Embedder struct {
	client    *Client
	model     string
	batchSize int
	limiter   *ratelimit.Limiter
}

// NewEmbedder creates an Embedder. Zero values select DefaultModel,
// DefaultBatchSize and no rate limiting.
func NewEmbedder(client *Client, model string, batchSize int, limiter *ratelimit.Limiter) *Embedder {
	if model == "" {
		model = DefaultModel
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if limiter == nil {
		limiter = ratelimit.Unlimited()
	}
	return &Embedder{
		client:    client,
		model:     model,
		batchSize: batchSize,
		limiter:   limiter,
	}
}

// Model returns the embedding model (or Azure deployment) name.
func (e *Embedder) Model() string {
	return e.model
}

// GenerateEmbeddings generates embeddings for the given texts.
// Errors wrap ErrProvider.
func (e *Embedder) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	allEmbeddings := make([][]float32, 0, len(texts))

	for i := 0; i < len(texts); i += e.batchSize {
		end := min(i+e.batchSize, len(texts))

		embeddings, err := e.embedBatchWithRetry(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("%w: texts %d-%d: %w", ErrProvider, i, end, err)
		}
		allEmbeddings = append(allEmbeddings, embeddings...)
	}

	return allEmbeddings, nil
}

// embedBatchWithRetry embeds one request's worth of texts.
// Rate limit (429) and server (5xx) errors are retried with exponential backoff;
// other errors are permanent.
func (e *Embedder) embedBatchWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var embeddings [][]float32

	operation := func() error {
		if err := e.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		resp, err := e.client.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{
				OfArrayOfStrings: texts,
			},
			Model: openai.EmbeddingModel(e.model),
		})
		if err != nil {
			if delay, ok := RetryAfter(err); ok && delay > 0 {
				e.limiter.Backoff(delay)
			}
			if IsRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}

		if len(resp.Data) != len(texts) {
			return backoff.Permanent(fmt.Errorf("provider returned %d embeddings for %d texts", len(resp.Data), len(texts)))
		}

		// Place by reported index; convert float64 to float32 for storage
		embeddings = make([][]float32, len(texts))
		for _, data := range resp.Data {
			if data.Index < 0 || int(data.Index) >= len(texts) || embeddings[data.Index] != nil {
				return backoff.Permanent(fmt.Errorf("provider returned invalid embedding index %d", data.Index))
			}
			embeddings[data.Index] = toFloat32(data.Embedding)
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	err := backoff.Retry(operation, backoff.WithContext(b, ctx))
	return embeddings, err
}

// toFloat32 converts []float64 to []float32.
func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
