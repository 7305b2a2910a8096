package extraction

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/flc-rag/internal/document"
	"github.com/bull/flc-rag/internal/llm"
	"github.com/bull/flc-rag/internal/vectorindex"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// queryProvider embeds any text as a constant vector; "broken" fails.
type queryProvider struct{}

func (queryProvider) GenerateEmbeddings(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if text == "broken" {
			return nil, errors.New("provider down")
		}
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func hits(chunks ...document.Chunk) Searcher {
	return SearcherFunc(func(context.Context, []float32, int) ([]document.ScoredChunk, error) {
		out := make([]document.ScoredChunk, len(chunks))
		for i := range chunks {
			out[i] = document.ScoredChunk{Chunk: &chunks[i], Score: 1}
		}
		return out, nil
	})
}

// scriptedCompleter answers extraction prompts by matching a title in the
// prompt and answers validation prompts by echoing the input records.
type scriptedCompleter struct {
	mu       sync.Mutex
	answers  map[string]string // title -> raw answer
	validate func(prompt string) (string, error)
	prompts  []string
}

func (c *scriptedCompleter) Complete(_ context.Context, prompt string) (string, error) {
	c.mu.Lock()
	c.prompts = append(c.prompts, prompt)
	c.mu.Unlock()

	if strings.Contains(prompt, "clinical validation assistant") {
		if c.validate != nil {
			return c.validate(prompt)
		}
		return echoRecords(prompt), nil
	}
	for title, answer := range c.answers {
		if strings.Contains(prompt, `"title": "`+title+`"`) {
			if answer == "ERROR" {
				return "", llm.ErrProvider
			}
			return answer, nil
		}
	}
	return "[]", nil
}

// echoRecords returns the JSON array embedded after "Here is the data:".
func echoRecords(prompt string) string {
	_, data, _ := strings.Cut(prompt, "Here is the data:")
	return "```json\n" + strings.TrimSpace(data) + "\n```"
}

func TestRetrieve_FiltersAndDeduplicates(t *testing.T) {
	searcher := hits(
		document.Chunk{ID: "1", Source: "patient-a", Content: "Kappa FLC 12.1 mg/L"},
		document.Chunk{ID: "2", Source: "patient-a", Content: "  Kappa FLC 12.1 mg/L\n"},
		document.Chunk{ID: "3", Source: "patient-b", Content: "Hemoglobin 13.2 g/dL"},
		document.Chunk{ID: "4", Source: "", Content: "lambda 8 mg/L"},
		document.Chunk{ID: "5", Source: "patient-c", Content: "K/L RATIO: 1.5"},
	)
	p := NewPipeline(queryProvider{}, searcher, &scriptedCompleter{}, Options{Logger: quietLogger()})

	result := &RunResult{}
	notes, err := p.Retrieve(context.Background(), result)
	require.NoError(t, err)

	assert.Equal(t, []Note{
		{Title: "patient-a", Content: "Kappa FLC 12.1 mg/L"},
		{Title: "patient-c", Content: "K/L RATIO: 1.5"},
	}, notes)
	assert.Equal(t, len(DefaultQueries), result.Queries)
	assert.Zero(t, result.FailedQueries)
	assert.Equal(t, 2, result.Notes)
}

func TestRetrieve_QueryMatchWithoutKeyword(t *testing.T) {
	searcher := hits(document.Chunk{ID: "1", Source: "patient-a", Content: "Serum FLC panel pending"})
	p := NewPipeline(queryProvider{}, searcher, &scriptedCompleter{}, Options{
		Queries:  []string{"flc", "albumin"},
		Keywords: []string{},
		Logger:   quietLogger(),
	})

	notes, err := p.Retrieve(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "patient-a", notes[0].Title)
}

func TestRetrieve_FailedQueryIsCounted(t *testing.T) {
	searcher := hits(document.Chunk{ID: "1", Source: "patient-a", Content: "lambda 8.0 mg/L"})
	p := NewPipeline(queryProvider{}, searcher, &scriptedCompleter{}, Options{
		Queries: []string{"broken", "lambda"},
		Logger:  quietLogger(),
	})

	result := &RunResult{}
	notes, err := p.Retrieve(context.Background(), result)
	require.NoError(t, err)
	assert.Len(t, notes, 1)
	assert.Equal(t, 1, result.FailedQueries)
}

func TestExtract_OneCallPerTitle(t *testing.T) {
	completer := &scriptedCompleter{answers: map[string]string{
		"patient-a": "```json\n[{'kappa_flc': '12.1 mg/L', 'lambda_flc': '8.0 mg/L', 'kappa_lambda_ratio': 1.51, 'date_of_lab': '2021-03-XX', 'evidence_sentences': 'Kappa 12.1, lambda 8.0.'}]\n```",
		"patient-b": "no values here",
		"patient-c": "ERROR",
		"patient-d": `[{"kappa_flc": null, "lambda_flc": "", "kappa_lambda_ratio": null}]`,
	}}
	p := NewPipeline(queryProvider{}, hits(), completer, Options{Logger: quietLogger()})

	notes := []Note{
		{Title: "patient-a", Content: "Kappa 12.1"},
		{Title: "patient-b", Content: "kappa pending"},
		{Title: "patient-a", Content: "lambda 8.0"},
		{Title: "patient-c", Content: "ratio 2"},
		{Title: "patient-d", Content: "kappa not done"},
	}
	result := &RunResult{}
	records, err := p.Extract(context.Background(), notes, result)
	require.NoError(t, err)

	assert.Equal(t, 4, result.Documents)
	assert.Equal(t, 4, result.ExtractCalls)
	assert.Equal(t, 2, result.FailedExtractCalls) // patient-b unparseable, patient-c provider error
	assert.Equal(t, 1, result.DiscardedRecords)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, "patient-a", rec.SourceDocument)
	assert.Equal(t, "patient-a", rec.Title)
	assert.Equal(t, LabValue("12.1 mg/L"), rec.KappaFLC)
	assert.Equal(t, LabValue("1.51"), rec.KappaLambdaRatio)
	assert.Equal(t, Evidence{"Kappa 12.1, lambda 8.0."}, rec.EvidenceSentences)

	// Both patient-a notes share one prompt with sequential note ids
	var promptA string
	for _, prompt := range completer.prompts {
		if strings.Contains(prompt, `"title": "patient-a"`) {
			promptA = prompt
		}
	}
	assert.Contains(t, promptA, `"note_id": 1`)
	assert.Contains(t, promptA, `"note_id": 2`)
	assert.Contains(t, promptA, "lambda 8.0")
}

func TestValidate_DropsFailedBatch(t *testing.T) {
	calls := 0
	completer := &scriptedCompleter{validate: func(prompt string) (string, error) {
		calls++
		if calls == 2 {
			return "", llm.ErrProvider
		}
		return echoRecords(prompt), nil
	}}
	p := NewPipeline(queryProvider{}, hits(), completer, Options{ValidateBatchSize: 2, Logger: quietLogger()})

	records := []Record{
		{SourceDocument: "a", KappaFLC: "1"},
		{SourceDocument: "b", KappaFLC: "2"},
		{SourceDocument: "c", KappaFLC: "3"},
	}
	result := &RunResult{}
	validated, err := p.Validate(context.Background(), records, result)
	require.NoError(t, err)

	assert.Equal(t, 2, result.ValidateCalls)
	assert.Equal(t, 1, result.FailedValidateCalls)
	assert.Equal(t, 2, result.Validated)
	require.Len(t, validated, 2)
	assert.Equal(t, "a", validated[0].SourceDocument)
	assert.Equal(t, "b", validated[1].SourceDocument)
}

func TestDeduplicate(t *testing.T) {
	records := []Record{
		{SourceDocument: "a", KappaFLC: "12.1", LambdaFLC: "8.0"},
		{SourceDocument: "b", KappaFLC: "12.1 ", LambdaFLC: "8.0"},
		{SourceDocument: "c", KappaFLC: "12.1", LambdaFLC: "8.0", KappaLambdaRatio: "1.51"},
	}
	result := &RunResult{}
	out := Deduplicate(records, result)

	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].SourceDocument)
	assert.Equal(t, "c", out[1].SourceDocument)
	assert.Equal(t, 1, result.Duplicates)
}

func TestRun_EndToEnd(t *testing.T) {
	idx := vectorindex.New("test")
	require.NoError(t, idx.Add(
		vectorindex.Entry{
			Chunk:  document.Chunk{ID: "c1", Source: "patient-a", Content: "Free kappa 12.1 mg/L, free lambda 8.0 mg/L on 2021-03-04."},
			Vector: []float32{1, 0},
		},
		vectorindex.Entry{
			Chunk:  document.Chunk{ID: "c2", Source: "patient-b", Content: "Blood pressure stable."},
			Vector: []float32{0, 1},
		},
	))

	completer := &scriptedCompleter{answers: map[string]string{
		"patient-a": `[{"kappa_flc": "12.1 mg/L", "lambda_flc": "8.0 mg/L", "kappa_lambda_ratio": "1.51", "date_of_lab": "2021-03-04", "evidence_sentences": ["Free kappa 12.1 mg/L, free lambda 8.0 mg/L on 2021-03-04."]}]`,
	}}
	p := NewPipeline(queryProvider{}, IndexSearcher(idx), completer, Options{Logger: quietLogger()})

	dir := t.TempDir()
	records, result, err := p.Run(context.Background(), dir)
	require.NoError(t, err)

	require.Len(t, records, 1)
	assert.Equal(t, 1, result.Notes)
	assert.Equal(t, 1, result.Extracted)
	assert.Equal(t, 1, result.Validated)
	assert.Equal(t, 1, result.Exported)
	assert.Len(t, result.Files, 2)

	data, err := os.ReadFile(filepath.Join(dir, JSONFile))
	require.NoError(t, err)
	var exported []Record
	require.NoError(t, json.Unmarshal(data, &exported))
	require.Len(t, exported, 1)
	assert.Equal(t, "patient-a", exported[0].SourceDocument)

	f, err := os.Open(filepath.Join(dir, CSVFile))
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, "patient-a", rows[1][0])
	assert.Equal(t, "12.1", rows[1][6])
	assert.Equal(t, "8.0", rows[1][7])
	assert.Equal(t, "1.51", rows[1][8])
}

func TestRun_SkipValidation(t *testing.T) {
	completer := &scriptedCompleter{
		answers: map[string]string{"patient-a": `[{"kappa_flc": "3"}]`},
		validate: func(string) (string, error) {
			t.Error("validation should be skipped")
			return "[]", nil
		},
	}
	searcher := hits(document.Chunk{ID: "1", Source: "patient-a", Content: "kappa 3"})
	p := NewPipeline(queryProvider{}, searcher, completer, Options{SkipValidation: true, Logger: quietLogger()})

	records, result, err := p.Run(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Zero(t, result.ValidateCalls)
}

func TestRun_Cancelled(t *testing.T) {
	searcher := hits(document.Chunk{ID: "1", Source: "patient-a", Content: "kappa 3"})
	p := NewPipeline(queryProvider{}, searcher, &scriptedCompleter{}, Options{Logger: quietLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := p.Run(ctx, t.TempDir())
	assert.ErrorIs(t, err, context.Canceled)
}
