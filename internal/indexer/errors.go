package indexer

import "errors"

// ErrEmptyIndex is returned when no batch produced a partial index.
var ErrEmptyIndex = errors.New("index is empty: every batch failed")
