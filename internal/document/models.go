// Package document holds the note, chunk and search-hit types shared by the
// indexing and extraction pipelines.
package document

import (
	"strconv"

	"github.com/google/uuid"
)

// chunkNamespace scopes the name-based UUIDs generated for documents and chunks.
var chunkNamespace = uuid.MustParse("5b0f8d0e-52f1-4c8a-9a57-3f4e3c1d2a77")

// Document is a single clinical note read from the upstream source.
type Document struct {
	ID    string // Stable UUID derived from source row and title
	Title string // Source identifier ("title" column)
	Text  string // Raw note body
}

// Chunk is a bounded window of a document's text.
type Chunk struct {
	ID         string // Deterministic UUID: document ID + index
	DocumentID string // Links to parent Document.ID
	Source     string // Parent Document.Title, kept for retrieval and grouping
	Index      int    // Position in document (0, 1, 2...)
	Offset     int    // Start position in the document, in characters
	Content    string
}

// ScoredChunk is a chunk returned by a similarity search.
type ScoredChunk struct {
	Chunk *Chunk
	Score float64
}

// NewDocumentID derives the ID of the document found at row of the source.
func NewDocumentID(row int, title string) string {
	return uuid.NewSHA1(chunkNamespace, []byte(title+"\x00"+strconv.Itoa(row))).String()
}

// NewChunkID derives the ID of the index-th chunk of a document.
func NewChunkID(documentID string, index int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(documentID+"#"+strconv.Itoa(index))).String()
}
