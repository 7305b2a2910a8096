// Package indexer builds the merged similarity index: it splits documents into
// chunks, embeds batches of chunks concurrently, and merges the partial indexes.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bull/flc-rag/internal/chunker"
	"github.com/bull/flc-rag/internal/document"
	"github.com/bull/flc-rag/internal/embedding"
	"github.com/bull/flc-rag/internal/vectorindex"
)

const (
	// DefaultBatchSize is the number of chunks embedded per partial index.
	DefaultBatchSize = 20

	// DefaultConcurrency bounds in-flight embedding calls.
	DefaultConcurrency = 4

	// DefaultBatchTimeout bounds a single batch's embedding call, retries included.
	DefaultBatchTimeout = 60 * time.Second
)

// BuildResult contains statistics about a build.
type BuildResult struct {
	Documents         int
	SkippedDocuments  int // Documents with empty text
	Chunks            int
	Batches           int
	SuccessfulBatches int
	DroppedBatches    int
	DroppedChunks     int
	FailedBatches     []FailedBatch
	Duration          time.Duration
}

// FailedBatch represents a batch whose partial index was dropped.
type FailedBatch struct {
	Index  int
	Chunks int
	Reason string
}

// Options configures a Builder. Zero values select the defaults.
type Options struct {
	Model        string // Recorded on the built index
	BatchSize    int
	Concurrency  int
	BatchTimeout time.Duration
	Logger       *slog.Logger
}

// Builder orchestrates split, group, concurrent embedding, and merge.
type Builder struct {
	chunker      *chunker.Chunker
	provider     embedding.Provider
	model        string
	batchSize    int
	concurrency  int
	batchTimeout time.Duration
	logger       *slog.Logger
}

// NewBuilder creates a builder over the given chunker and embedding provider.
func NewBuilder(c *chunker.Chunker, provider embedding.Provider, opts Options) (*Builder, error) {
	if c == nil || provider == nil {
		return nil, fmt.Errorf("%w: chunker and provider are required", chunker.ErrInvalidConfig)
	}
	if opts.BatchSize < 0 || opts.Concurrency < 0 {
		return nil, fmt.Errorf("%w: batch size %d and concurrency %d must not be negative",
			chunker.ErrInvalidConfig, opts.BatchSize, opts.Concurrency)
	}

	b := &Builder{
		chunker:      c,
		provider:     provider,
		model:        opts.Model,
		batchSize:    opts.BatchSize,
		concurrency:  opts.Concurrency,
		batchTimeout: opts.BatchTimeout,
		logger:       opts.Logger,
	}
	if b.batchSize == 0 {
		b.batchSize = DefaultBatchSize
	}
	if b.concurrency == 0 {
		b.concurrency = DefaultConcurrency
	}
	if b.batchTimeout <= 0 {
		b.batchTimeout = DefaultBatchTimeout
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b, nil
}

// BuildPartial embeds one batch with a single provider call and returns an
// index owned by the caller.
func (b *Builder) BuildPartial(ctx context.Context, batch []document.Chunk) (*vectorindex.Index, error) {
	texts := make([]string, len(batch))
	for i, chunk := range batch {
		texts[i] = chunk.Content
	}

	vectors, err := b.provider.GenerateEmbeddings(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embeddings: %w", err)
	}
	if len(vectors) != len(batch) {
		return nil, fmt.Errorf("%w: got %d vectors for %d chunks",
			embedding.ErrProvider, len(vectors), len(batch))
	}

	partial := vectorindex.New(b.model)
	entries := make([]vectorindex.Entry, len(batch))
	for i, chunk := range batch {
		entries[i] = vectorindex.Entry{Chunk: chunk, Vector: vectors[i]}
	}
	if err := partial.Add(entries...); err != nil {
		return nil, fmt.Errorf("build partial: %w", err)
	}
	return partial, nil
}

// BuildIndex splits docs, embeds the batches with bounded concurrency, and
// merges every successful partial index. A failed or timed-out batch is logged
// and dropped; the build fails with ErrEmptyIndex only when no batch succeeds.
// Cancelling ctx stops the build and returns ctx's error.
func (b *Builder) BuildIndex(ctx context.Context, docs []document.Document) (*vectorindex.Index, *BuildResult, error) {
	start := time.Now()
	result := &BuildResult{Documents: len(docs)}

	// 1. Split and group
	chunks, skipped := b.chunker.SplitAll(docs)
	result.SkippedDocuments = skipped
	result.Chunks = len(chunks)

	batches, err := chunker.Group(chunks, b.batchSize)
	if err != nil {
		return nil, nil, err
	}
	result.Batches = len(batches)
	b.logger.Info("Starting build",
		"documents", len(docs),
		"skipped", skipped,
		"chunks", len(chunks),
		"batches", len(batches),
		"concurrency", b.concurrency,
	)

	// 2. Build partial indexes, one result slot per batch
	partials := make([]*vectorindex.Index, len(batches))
	failures := make([]error, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for i, batch := range batches {
		g.Go(func() error {
			if gctx.Err() != nil {
				failures[i] = gctx.Err()
				return nil
			}
			batchCtx, cancel := context.WithTimeout(gctx, b.batchTimeout)
			defer cancel()

			partial, err := b.BuildPartial(batchCtx, batch)
			if err != nil {
				failures[i] = err
				return nil // Per-batch failure, keep building the rest
			}
			partials[i] = partial
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("build cancelled: %w", err)
	}

	// 3. Merge on this goroutine in batch order
	merged := vectorindex.New(b.model)
	for i, partial := range partials {
		if partial == nil {
			reason := failures[i].Error()
			if errors.Is(failures[i], context.DeadlineExceeded) {
				reason = fmt.Sprintf("timed out after %s: %s", b.batchTimeout, reason)
			}
			b.logger.Warn("Dropping batch", "batch", i, "chunks", len(batches[i]), "error", reason)
			result.FailedBatches = append(result.FailedBatches, FailedBatch{
				Index:  i,
				Chunks: len(batches[i]),
				Reason: reason,
			})
			result.DroppedBatches++
			result.DroppedChunks += len(batches[i])
			continue
		}
		if err := merged.Merge(partial); err != nil {
			return nil, nil, fmt.Errorf("merge batch %d: %w", i, err)
		}
		result.SuccessfulBatches++
	}

	result.Duration = time.Since(start)
	if result.SuccessfulBatches == 0 {
		return nil, result, ErrEmptyIndex
	}

	b.logger.Info("Build complete",
		"successful_batches", result.SuccessfulBatches,
		"dropped_batches", result.DroppedBatches,
		"dropped_chunks", result.DroppedChunks,
		"entries", merged.Len(),
		"duration", result.Duration,
	)
	return merged, result, nil
}
