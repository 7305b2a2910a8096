package document

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrMissingColumn is returned when the CSV header lacks a required column.
var ErrMissingColumn = errors.New("required column missing")

// ReadStats describes what happened while reading a note export.
type ReadStats struct {
	Rows    int // Data rows seen (header excluded)
	Skipped int // Rows without a note body
}

// LoadCSV reads documents from the CSV file at path.
func LoadCSV(path, titleColumn, textColumn string) ([]Document, *ReadStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	return ReadCSV(f, titleColumn, textColumn)
}

// ReadCSV reads documents from r. The first record is the header; titleColumn
// and textColumn are matched against it case-insensitively. Rows with an empty
// body are skipped and counted in ReadStats.Skipped.
func ReadCSV(r io.Reader, titleColumn, textColumn string) ([]Document, *ReadStats, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // Exports are ragged when trailing columns are empty
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}

	titleIdx, textIdx := -1, -1
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		switch {
		case strings.EqualFold(name, titleColumn):
			titleIdx = i
		case strings.EqualFold(name, textColumn):
			textIdx = i
		}
	}
	if titleIdx < 0 {
		return nil, nil, fmt.Errorf("%w: %q", ErrMissingColumn, titleColumn)
	}
	if textIdx < 0 {
		return nil, nil, fmt.Errorf("%w: %q", ErrMissingColumn, textColumn)
	}

	stats := &ReadStats{}
	var docs []Document
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read row %d: %w", stats.Rows+1, err)
		}
		stats.Rows++

		text := field(record, textIdx)
		if strings.TrimSpace(text) == "" {
			stats.Skipped++
			continue
		}
		title := strings.TrimSpace(field(record, titleIdx))
		docs = append(docs, Document{
			ID:    NewDocumentID(stats.Rows, title),
			Title: title,
			Text:  text,
		})
	}

	return docs, stats, nil
}

func field(record []string, idx int) string {
	if idx < len(record) {
		return record[idx]
	}
	return ""
}
