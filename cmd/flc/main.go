// Package main provides the flc CLI: build the note index, extract free light
// chain results from it, publish it to Qdrant, and search it.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/bull/flc-rag/internal/chunker"
	"github.com/bull/flc-rag/internal/config"
	"github.com/bull/flc-rag/internal/document"
	"github.com/bull/flc-rag/internal/extraction"
	"github.com/bull/flc-rag/internal/indexer"
	"github.com/bull/flc-rag/internal/storage"
	"github.com/bull/flc-rag/internal/vectorindex"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "flc",
	Short: "Free light chain extraction from clinical notes",
	Long:  "CLI tool for indexing clinical notes and extracting kappa/lambda free light chain lab results",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
		slog.SetDefault(slog.New(handler).With("run_id", uuid.NewString()))
	},
	SilenceUsage: true,
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build the note index from a CSV export",
	Long: `Splits every note into overlapping windows, embeds batches of chunks
concurrently, merges the partial indexes and persists the result.

Batches that fail or time out are dropped and reported; the command fails
only when no batch succeeds.

Environment variables:
  INPUT_CSV            CSV export with title and text columns
  INDEX_PATH           Output index file (default: notes_index/index.db)
  CHUNK_SIZE           Window size in characters (default: 500)
  CHUNK_OVERLAP        Window overlap in characters (default: 50)
  BATCH_SIZE           Chunks per embedding call (default: 20)
  CONCURRENCY          Parallel embedding calls (default: 4)
  AZURE_OPENAI_API_KEY or OPENAI_API_KEY (required)`,
	RunE: runIndex,
}

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract free light chain results from the index",
	Long: `Retrieves note chunks mentioning free light chains, asks the chat model
to extract kappa, lambda, ratio and lab date per note, validates the records
with a second pass, and writes records.json and records.csv.`,
	RunE: runExtract,
}

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish the persisted index to Qdrant",
	RunE:  runPublish,
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the index or the Qdrant collection",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List the note titles in the index or the Qdrant collection",
	Args:  cobra.NoArgs,
	RunE:  runSources,
}

var (
	inputPath      string
	indexPath      string
	outputDir      string
	backend        string
	skipValidation bool
	clearFirst     bool
	searchK        int
	searchSource   string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "TOML configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().StringVar(&indexPath, "index", "", "index file (overrides index.path)")

	indexCmd.Flags().StringVarP(&inputPath, "input", "i", "", "CSV export (overrides input.csv_path)")

	extractCmd.Flags().StringVarP(&outputDir, "output", "o", "", "output directory (overrides extraction.output_dir)")
	extractCmd.Flags().StringVar(&backend, "backend", "", "retrieval backend: local or qdrant")
	extractCmd.Flags().BoolVar(&skipValidation, "skip-validation", false, "skip the validation pass")

	publishCmd.Flags().BoolVar(&clearFirst, "clear", false, "drop and recreate the collection first")

	searchCmd.Flags().IntVarP(&searchK, "top", "k", 5, "number of results")
	searchCmd.Flags().StringVar(&searchSource, "source", "", "only search chunks of this note title")
	searchCmd.Flags().StringVar(&backend, "backend", "", "search backend: local or qdrant")

	sourcesCmd.Flags().StringVar(&backend, "backend", "", "backend: local or qdrant")

	rootCmd.AddCommand(indexCmd, extractCmd, publishCmd, searchCmd, sourcesCmd)
}

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// loadConfig loads the configuration and applies command line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if indexPath != "" {
		cfg.Index.Path = indexPath
	}
	if backend != "" {
		cfg.Retrieval.Backend = backend
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	start := time.Now()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if inputPath != "" {
		cfg.Input.CSVPath = inputPath
	}
	if cfg.Input.CSVPath == "" {
		return fmt.Errorf("%w: no input CSV (use --input or INPUT_CSV)", config.ErrInvalidConfig)
	}
	if err := cfg.RequireCredentials(); err != nil {
		return err
	}

	// 1. Read notes
	fmt.Printf("Reading notes from %s...\n", cfg.Input.CSVPath)
	docs, stats, err := document.LoadCSV(cfg.Input.CSVPath, cfg.Input.TitleColumn, cfg.Input.TextColumn)
	if err != nil {
		return fmt.Errorf("Failed to read notes: %w", err)
	}
	fmt.Printf("  Rows: %d (skipped %d without text)\n", stats.Rows, stats.Skipped)

	// 2. Initialize components
	c, err := chunker.NewChunker(cfg.Chunking.MaxSize, cfg.Chunking.Overlap)
	if err != nil {
		return err
	}
	embedder, _, err := newProviders(cfg)
	if err != nil {
		return err
	}
	builder, err := indexer.NewBuilder(c, embedder, indexer.Options{
		Model:        embedder.Model(),
		BatchSize:    cfg.Chunking.BatchSize,
		Concurrency:  cfg.Chunking.Concurrency,
		BatchTimeout: cfg.Chunking.BatchTimeout.Std(),
		Logger:       slog.Default(),
	})
	if err != nil {
		return err
	}

	// 3. Build
	fmt.Println()
	fmt.Println("Building index...")
	idx, result, err := builder.BuildIndex(ctx, docs)
	if result != nil {
		printBuildResult(result)
	}
	if err != nil {
		if errors.Is(err, indexer.ErrEmptyIndex) {
			return fmt.Errorf("Indexing failed, nothing to persist: %w", err)
		}
		return fmt.Errorf("Indexing failed: %w", err)
	}

	// 4. Persist
	if err := idx.Persist(ctx, cfg.Index.Path); err != nil {
		return fmt.Errorf("Failed to persist index: %w", err)
	}

	fmt.Println()
	fmt.Printf("Index written to %s (%d chunks)\n", cfg.Index.Path, idx.Len())
	fmt.Printf("Total time: %s\n", time.Since(start).Round(time.Second))
	return nil
}

func printBuildResult(result *indexer.BuildResult) {
	fmt.Println()
	fmt.Println("Build complete!")
	fmt.Printf("  Documents: %d (%d empty)\n", result.Documents, result.SkippedDocuments)
	fmt.Printf("  Chunks: %d\n", result.Chunks)
	fmt.Printf("  Batches: %d/%d\n", result.SuccessfulBatches, result.Batches)
	fmt.Printf("  Dropped: %d batches, %d chunks\n", result.DroppedBatches, result.DroppedChunks)
	fmt.Printf("  Duration: %s\n", result.Duration.Round(time.Second))

	if len(result.FailedBatches) > 0 {
		fmt.Println()
		fmt.Println("Failed batches:")
		for _, failed := range result.FailedBatches {
			fmt.Printf("  - batch %d (%d chunks): %s\n", failed.Index, failed.Chunks, failed.Reason)
		}
	}
}

func runExtract(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if outputDir != "" {
		cfg.Extraction.OutputDir = outputDir
	}
	if skipValidation {
		cfg.Extraction.SkipValidation = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.RequireCredentials(); err != nil {
		return err
	}

	embedder, completer, err := newProviders(cfg)
	if err != nil {
		return err
	}

	searcher, closeFn, err := openSearcher(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	pipeline := extraction.NewPipeline(embedder, searcher, completer, extraction.Options{
		Queries:           cfg.Retrieval.Queries,
		Keywords:          cfg.Retrieval.Keywords,
		TopK:              cfg.Retrieval.TopK,
		ValidateBatchSize: cfg.Extraction.ValidateBatchSize,
		SkipValidation:    cfg.Extraction.SkipValidation,
		Logger:            slog.Default(),
	})

	fmt.Println("Extracting free light chain results...")
	_, result, err := pipeline.Run(ctx, cfg.Extraction.OutputDir)
	if err != nil {
		return fmt.Errorf("Extraction failed: %w", err)
	}

	fmt.Println()
	fmt.Println("Extraction complete!")
	fmt.Printf("  Queries: %d (%d failed)\n", result.Queries, result.FailedQueries)
	fmt.Printf("  Notes: %d across %d documents\n", result.Notes, result.Documents)
	fmt.Printf("  Extracted: %d (%d/%d calls failed)\n", result.Extracted, result.FailedExtractCalls, result.ExtractCalls)
	if !cfg.Extraction.SkipValidation {
		fmt.Printf("  Validated: %d (%d/%d calls failed)\n", result.Validated, result.FailedValidateCalls, result.ValidateCalls)
	}
	fmt.Printf("  Discarded without lab values: %d\n", result.DiscardedRecords)
	fmt.Printf("  Duplicates removed: %d\n", result.Duplicates)
	fmt.Printf("  Exported: %d\n", result.Exported)
	for _, f := range result.Files {
		fmt.Printf("  Wrote %s\n", f)
	}
	fmt.Printf("  Duration: %s\n", result.Duration.Round(time.Second))
	return nil
}

// openSearcher returns the configured retrieval backend and its cleanup func.
func openSearcher(ctx context.Context, cfg *config.Config) (extraction.Searcher, func(), error) {
	store, closeFn, err := openNoteStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	switch s := store.(type) {
	case localStore:
		return extraction.IndexSearcher(s.idx), closeFn, nil
	case extraction.Searcher:
		return s, closeFn, nil
	}
	closeFn()
	return nil, nil, fmt.Errorf("%w: backend %q cannot serve retrieval", config.ErrInvalidConfig, cfg.Retrieval.Backend)
}

func runPublish(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	idx, err := vectorindex.Load(ctx, cfg.Index.Path)
	if err != nil {
		return err
	}

	fmt.Printf("Connecting to Qdrant at %s:%d...\n", cfg.Qdrant.Host, cfg.Qdrant.Port)
	store, err := storage.NewQdrantStorage(cfg.Qdrant.Host, cfg.Qdrant.Port, cfg.Qdrant.Collection)
	if err != nil {
		return fmt.Errorf("Failed to connect to Qdrant: %w", err)
	}
	defer store.Close()
	fmt.Println("Qdrant healthy")

	if clearFirst {
		fmt.Printf("Clearing collection %s...\n", store.Collection())
		if err := store.ClearCollection(ctx, idx.Dimension()); err != nil {
			return fmt.Errorf("Failed to clear collection: %w", err)
		}
	} else if err := store.EnsureCollection(ctx, idx.Dimension()); err != nil {
		return fmt.Errorf("Failed to ensure collection: %w", err)
	}

	fmt.Printf("Publishing %d chunks...\n", idx.Len())
	if err := store.Publish(ctx, idx); err != nil {
		return fmt.Errorf("Publish failed: %w", err)
	}

	info, err := store.GetCollectionInfo(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Collection %s now holds %d points\n", info.Name, info.PointsCount)
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	query := joinArgs(args)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.RequireCredentials(); err != nil {
		return err
	}

	store, closeFn, err := openNoteStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	embedder, _, err := newProviders(cfg)
	if err != nil {
		return err
	}

	vectors, err := embedder.GenerateEmbeddings(ctx, []string{query})
	if err != nil {
		return fmt.Errorf("Failed to embed query: %w", err)
	}
	hits, err := store.SearchSource(ctx, vectors[0], searchK, searchSource)
	if err != nil {
		return err
	}

	for i, hit := range hits {
		fmt.Printf("%d. [%.3f] %s #%d\n", i+1, hit.Score, hit.Chunk.Source, hit.Chunk.Index)
		fmt.Printf("   %s\n", preview(hit.Chunk.Content, 200))
	}
	if len(hits) == 0 {
		fmt.Println("No results.")
	}
	return nil
}

func runSources(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, closeFn, err := openNoteStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	sources, err := store.ListSources(ctx)
	if err != nil {
		return fmt.Errorf("Failed to list sources: %w", err)
	}
	for _, source := range sources {
		fmt.Println(source)
	}
	fmt.Printf("%d notes\n", len(sources))
	return nil
}
