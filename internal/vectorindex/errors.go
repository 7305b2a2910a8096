package vectorindex

import "errors"

var (
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrIndexLoad         = errors.New("index load failed")
)
