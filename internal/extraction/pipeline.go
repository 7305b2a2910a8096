package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bull/flc-rag/internal/chunker"
	"github.com/bull/flc-rag/internal/document"
	"github.com/bull/flc-rag/internal/embedding"
	"github.com/bull/flc-rag/internal/llm"
	"github.com/bull/flc-rag/internal/llmjson"
	"github.com/bull/flc-rag/internal/vectorindex"
)

const (
	// DefaultTopK is the number of hits requested per query.
	DefaultTopK = 1000

	// DefaultValidateBatchSize is the number of records per validation call.
	DefaultValidateBatchSize = 10
)

// DefaultQueries are the retrieval queries for free light chain results.
var DefaultQueries = []string{"kappa", "lambda", "klc", "flc", "free light chain"}

// DefaultKeywords keep a hit whose normalized content mentions any of them.
var DefaultKeywords = []string{"kappa", "lambda", "ratio"}

// Searcher returns the k chunks nearest to vector, best first.
type Searcher interface {
	SearchChunks(ctx context.Context, vector []float32, k int) ([]document.ScoredChunk, error)
}

// SearcherFunc adapts a function to Searcher.
type SearcherFunc func(ctx context.Context, vector []float32, k int) ([]document.ScoredChunk, error)

// SearchChunks calls f.
func (f SearcherFunc) SearchChunks(ctx context.Context, vector []float32, k int) ([]document.ScoredChunk, error) {
	return f(ctx, vector, k)
}

// IndexSearcher searches a loaded local index.
func IndexSearcher(idx *vectorindex.Index) Searcher {
	return SearcherFunc(func(_ context.Context, vector []float32, k int) ([]document.ScoredChunk, error) {
		return idx.Search(vector, k)
	})
}

// Options configures a Pipeline. Zero values select the defaults.
type Options struct {
	Queries           []string
	Keywords          []string
	TopK              int
	ValidateBatchSize int
	SkipValidation    bool
	Logger            *slog.Logger
}

// RunResult contains statistics about an extraction run.
type RunResult struct {
	Queries             int
	FailedQueries       int
	Notes               int // Unique notes after filtering and deduplication
	Documents           int // Distinct titles sent to extraction
	ExtractCalls        int
	FailedExtractCalls  int
	Extracted           int
	DiscardedRecords    int // Records without any lab value
	ValidateCalls       int
	FailedValidateCalls int
	Validated           int
	Duplicates          int
	Exported            int
	Files               []string
	Duration            time.Duration
}

// Pipeline runs retrieve, extract, validate and export.
type Pipeline struct {
	provider          embedding.Provider
	searcher          Searcher
	completer         llm.Completer
	queries           []string
	keywords          []string
	topK              int
	validateBatchSize int
	skipValidation    bool
	logger            *slog.Logger
}

// NewPipeline creates an extraction pipeline with the given components.
func NewPipeline(provider embedding.Provider, searcher Searcher, completer llm.Completer, opts Options) *Pipeline {
	p := &Pipeline{
		provider:          provider,
		searcher:          searcher,
		completer:         completer,
		queries:           opts.Queries,
		keywords:          opts.Keywords,
		topK:              opts.TopK,
		validateBatchSize: opts.ValidateBatchSize,
		skipValidation:    opts.SkipValidation,
		logger:            opts.Logger,
	}
	if len(p.queries) == 0 {
		p.queries = DefaultQueries
	}
	if p.keywords == nil {
		p.keywords = DefaultKeywords
	}
	if p.topK <= 0 {
		p.topK = DefaultTopK
	}
	if p.validateBatchSize <= 0 {
		p.validateBatchSize = DefaultValidateBatchSize
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Run executes every stage and writes the results to outputDir.
func (p *Pipeline) Run(ctx context.Context, outputDir string) ([]Record, *RunResult, error) {
	start := time.Now()
	result := &RunResult{}

	notes, err := p.Retrieve(ctx, result)
	if err != nil {
		return nil, result, fmt.Errorf("retrieve: %w", err)
	}

	records, err := p.Extract(ctx, notes, result)
	if err != nil {
		return nil, result, fmt.Errorf("extract: %w", err)
	}

	if !p.skipValidation {
		records, err = p.Validate(ctx, records, result)
		if err != nil {
			return nil, result, fmt.Errorf("validate: %w", err)
		}
	}

	records = Deduplicate(records, result)

	files, err := Export(outputDir, records)
	if err != nil {
		return nil, result, fmt.Errorf("export: %w", err)
	}
	result.Exported = len(records)
	result.Files = files
	result.Duration = time.Since(start)

	p.logger.Info("Extraction complete",
		"notes", result.Notes,
		"extracted", result.Extracted,
		"validated", result.Validated,
		"exported", result.Exported,
		"failed_queries", result.FailedQueries,
		"failed_extract_calls", result.FailedExtractCalls,
		"failed_validate_calls", result.FailedValidateCalls,
		"duration", result.Duration,
	)
	return records, result, nil
}

// Retrieve runs every query against the searcher and returns the matching
// notes, deduplicated on (title, trimmed content) in first-seen order.
// A failing query is logged and counted. Only cancellation of ctx is returned.
func (p *Pipeline) Retrieve(ctx context.Context, result *RunResult) ([]Note, error) {
	result = orEmpty(result)
	keywords := make([]string, 0, len(p.keywords))
	for _, kw := range p.keywords {
		if n := llmjson.NormalizeText(kw); n != "" {
			keywords = append(keywords, n)
		}
	}

	seen := make(map[Note]struct{})
	var notes []Note

	for _, query := range p.queries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result.Queries++
		hits, err := p.search(ctx, query)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			p.logger.Warn("Query failed", "query", query, "error", err)
			result.FailedQueries++
			continue
		}

		normalizedQuery := llmjson.NormalizeText(query)
		kept := 0
		for _, hit := range hits {
			if hit.Chunk == nil || hit.Chunk.Source == "" {
				continue
			}
			if !mentions(llmjson.NormalizeText(hit.Chunk.Content), normalizedQuery, keywords) {
				continue
			}
			note := Note{Title: hit.Chunk.Source, Content: strings.TrimSpace(hit.Chunk.Content)}
			if _, dup := seen[note]; dup {
				continue
			}
			seen[note] = struct{}{}
			notes = append(notes, note)
			kept++
		}
		p.logger.Debug("Query complete", "query", query, "hits", len(hits), "kept", kept)
	}

	result.Notes = len(notes)
	p.logger.Info("Retrieved notes", "queries", len(p.queries), "notes", len(notes))
	return notes, nil
}

func (p *Pipeline) search(ctx context.Context, query string) ([]document.ScoredChunk, error) {
	vectors, err := p.provider.GenerateEmbeddings(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: got %d vectors for 1 query", embedding.ErrProvider, len(vectors))
	}
	return p.searcher.SearchChunks(ctx, vectors[0], p.topK)
}

// mentions reports whether normalized text contains the query or any keyword.
func mentions(text, query string, keywords []string) bool {
	if query != "" && strings.Contains(text, query) {
		return true
	}
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// Extract makes one model call per document title with all of that title's
// notes as context. Failed calls and unparseable answers are logged, counted
// and skipped; records without lab values are discarded.
func (p *Pipeline) Extract(ctx context.Context, notes []Note, result *RunResult) ([]Record, error) {
	result = orEmpty(result)

	// Regroup notes per title, first-seen order
	var titles []string
	grouped := make(map[string][]string)
	for _, note := range notes {
		if _, ok := grouped[note.Title]; !ok {
			titles = append(titles, note.Title)
		}
		grouped[note.Title] = append(grouped[note.Title], note.Content)
	}
	result.Documents = len(titles)

	var records []Record
	for i, title := range titles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		prompt, err := buildExtractionPrompt(title, grouped[title])
		if err != nil {
			return nil, err
		}

		result.ExtractCalls++
		batch, err := p.complete(ctx, prompt)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			p.logger.Warn("Extraction failed", "document", i+1, "documents", len(titles), "title", title, "error", err)
			result.FailedExtractCalls++
			continue
		}

		for _, rec := range batch {
			rec.SourceDocument = title
			if rec.Title == "" {
				rec.Title = title
			}
			if !rec.Valid() {
				result.DiscardedRecords++
				continue
			}
			records = append(records, rec)
		}
		p.logger.Debug("Extracted document", "title", title, "notes", len(grouped[title]), "records", len(batch))
	}

	result.Extracted = len(records)
	p.logger.Info("Extracted records", "documents", len(titles), "records", len(records))
	return records, nil
}

// Validate sends records in batches to the model, which returns only those
// fully supported by their evidence. A failed batch is dropped and counted.
func (p *Pipeline) Validate(ctx context.Context, records []Record, result *RunResult) ([]Record, error) {
	result = orEmpty(result)

	batches, err := chunker.Group(records, p.validateBatchSize)
	if err != nil {
		return nil, err
	}

	var validated []Record
	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		prompt, err := buildValidationPrompt(batch)
		if err != nil {
			return nil, err
		}

		result.ValidateCalls++
		kept, err := p.complete(ctx, prompt)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			p.logger.Warn("Validation failed", "batch", i, "records", len(batch), "error", err)
			result.FailedValidateCalls++
			continue
		}

		for _, rec := range kept {
			if rec.SourceDocument == "" {
				rec.SourceDocument = rec.Title
			}
			if !rec.Valid() {
				result.DiscardedRecords++
				continue
			}
			validated = append(validated, rec)
		}
	}

	result.Validated = len(validated)
	p.logger.Info("Validated records", "input", len(records), "validated", len(validated))
	return validated, nil
}

// complete calls the model and decodes its answer as a list of records.
// An unrecoverable or non-array answer is an error.
func (p *Pipeline) complete(ctx context.Context, prompt string) ([]Record, error) {
	raw, err := p.completer.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}

	text, outcome := llmjson.Parse(p.logger, raw)
	if !outcome.Recovered() {
		return nil, fmt.Errorf("model answer is not JSON (%s)", outcome)
	}

	var records []Record
	if err := json.Unmarshal([]byte(text), &records); err != nil {
		return nil, fmt.Errorf("unexpected response format: %w", err)
	}
	return records, nil
}

// Deduplicate keeps the first record for each (kappa, lambda, ratio) triple.
func Deduplicate(records []Record, result *RunResult) []Record {
	result = orEmpty(result)
	seen := make(map[dedupeKey]struct{}, len(records))
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		k := rec.key()
		if _, dup := seen[k]; dup {
			result.Duplicates++
			continue
		}
		seen[k] = struct{}{}
		out = append(out, rec)
	}
	return out
}

func orEmpty(result *RunResult) *RunResult {
	if result == nil {
		return &RunResult{}
	}
	return result
}
