package storage

import "errors"

// Errors returned by QdrantStorage; callers match them with errors.Is.
var (
	ErrQdrantUnreachable  = errors.New("qdrant server unreachable")
	ErrCollectionNotFound = errors.New("collection not found")
	// ErrDimensionMismatch covers both a collection created for another
	// embedding model and an entry whose vector length differs from it.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)
