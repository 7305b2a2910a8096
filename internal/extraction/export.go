package extraction

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bull/flc-rag/internal/llmjson"
)

const (
	// JSONFile and CSVFile are the export file names inside the output directory.
	JSONFile = "records.json"
	CSVFile  = "records.csv"
)

var csvHeader = []string{
	"source_document",
	"kappa_flc",
	"lambda_flc",
	"kappa_lambda_ratio",
	"date_of_lab",
	"evidence_sentences",
	"kappa_flc_value",
	"lambda_flc_value",
	"kappa_lambda_ratio_value",
	"context",
}

// Export writes records to outputDir as an indented JSON array and a CSV table,
// returning the written paths.
func Export(outputDir string, records []Record) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	if records == nil {
		records = []Record{}
	}

	jsonPath := filepath.Join(outputDir, JSONFile)
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal records: %w", err)
	}
	if err := os.WriteFile(jsonPath, append(data, '\n'), 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", jsonPath, err)
	}

	csvPath := filepath.Join(outputDir, CSVFile)
	if err := writeCSV(csvPath, records); err != nil {
		return nil, err
	}

	return []string{jsonPath, csvPath}, nil
}

func writeCSV(path string, records []Record) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	for _, rec := range records {
		if err := w.Write(csvRow(rec)); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// csvRow flattens a record; evidence sentences are joined by newlines.
func csvRow(rec Record) []string {
	context, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		context = nil
	}
	return []string{
		rec.SourceDocument,
		string(rec.KappaFLC),
		string(rec.LambdaFLC),
		string(rec.KappaLambdaRatio),
		string(rec.DateOfLab),
		strings.Join(rec.Evidence(), "\n"),
		llmjson.CleanNumeric(string(rec.KappaFLC)),
		llmjson.CleanNumeric(string(rec.LambdaFLC)),
		llmjson.CleanNumeric(string(rec.KappaLambdaRatio)),
		string(context),
	}
}
