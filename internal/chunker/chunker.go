// Package chunker splits documents into overlapping character windows and
// groups the resulting chunks into fixed-size batches of work.
package chunker

import (
	"errors"
	"fmt"

	"github.com/bull/flc-rag/internal/document"
)

// ErrInvalidConfig is returned for chunk or batch parameters that cannot
// produce a valid partition.
var ErrInvalidConfig = errors.New("invalid chunking configuration")

// Chunker splits document text into windows of at most MaxSize characters,
// each starting MaxSize-Overlap characters after the previous one.
type Chunker struct {
	maxSize int
	overlap int
}

// NewChunker validates the window parameters and returns a Chunker.
// Requires maxSize > 0 and 0 <= overlap < maxSize.
func NewChunker(maxSize, overlap int) (*Chunker, error) {
	if err := validate(maxSize, overlap); err != nil {
		return nil, err
	}
	return &Chunker{maxSize: maxSize, overlap: overlap}, nil
}

// Split is a convenience wrapper around NewChunker and Chunker.Split.
func Split(doc document.Document, maxSize, overlap int) ([]document.Chunk, error) {
	c, err := NewChunker(maxSize, overlap)
	if err != nil {
		return nil, err
	}
	return c.Split(doc), nil
}

// Split partitions doc.Text into overlapping windows. Lengths are counted in
// Unicode code points. A document with empty text yields no chunks.
func (c *Chunker) Split(doc document.Document) []document.Chunk {
	runes := []rune(doc.Text)
	if len(runes) == 0 {
		return nil
	}

	stride := c.maxSize - c.overlap
	chunks := make([]document.Chunk, 0, Count(len(runes), c.maxSize, c.overlap))

	for start := 0; ; start += stride {
		end := min(start+c.maxSize, len(runes))
		index := len(chunks)
		chunks = append(chunks, document.Chunk{
			ID:         document.NewChunkID(doc.ID, index),
			DocumentID: doc.ID,
			Source:     doc.Title,
			Index:      index,
			Offset:     start,
			Content:    string(runes[start:end]),
		})

		// Last window reaches the end of the text
		if end == len(runes) {
			break
		}
	}

	return chunks
}

// SplitAll splits every document in order and concatenates the chunks.
// Documents with empty text are skipped; the number skipped is returned.
func (c *Chunker) SplitAll(docs []document.Document) (chunks []document.Chunk, skipped int) {
	for _, doc := range docs {
		split := c.Split(doc)
		if len(split) == 0 {
			skipped++
			continue
		}
		chunks = append(chunks, split...)
	}
	return chunks, skipped
}

// Count returns the number of chunks a text of length n produces.
func Count(n, maxSize, overlap int) int {
	if n <= 0 {
		return 0
	}
	if n <= maxSize {
		return 1
	}
	stride := maxSize - overlap
	// ceil((n - maxSize) / stride) further windows after the first
	return 1 + (n-maxSize+stride-1)/stride
}

// Group partitions items left to right into groups of batchSize.
// Only the final group may be shorter.
func Group[T any](items []T, batchSize int) ([][]T, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("%w: batch size %d must be positive", ErrInvalidConfig, batchSize)
	}

	groups := make([][]T, 0, (len(items)+batchSize-1)/batchSize)
	for i := 0; i < len(items); i += batchSize {
		end := min(i+batchSize, len(items))
		groups = append(groups, items[i:end:end])
	}
	return groups, nil
}

func validate(maxSize, overlap int) error {
	if maxSize <= 0 {
		return fmt.Errorf("%w: max size %d must be positive", ErrInvalidConfig, maxSize)
	}
	if overlap < 0 {
		return fmt.Errorf("%w: overlap %d must not be negative", ErrInvalidConfig, overlap)
	}
	if overlap >= maxSize {
		return fmt.Errorf("%w: overlap %d must be smaller than max size %d", ErrInvalidConfig, overlap, maxSize)
	}
	return nil
}
