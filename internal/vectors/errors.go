package vectors

import (
	"errors"
	"fmt"
)

// Common sentinel errors for vector store operations
var (
	// ErrCorrupted indicates the on-disk store failed consistency checks.
	ErrCorrupted = errors.New("corrupted vector index")

	// ErrDimensionMismatch indicates a vector's width differs from the
	// store's established dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// CorruptError reports why the on-disk store could not be trusted. Callers
// holding the chunk index may catch it, reset the store, and re-embed.
type CorruptError struct {
	// Path is the file that failed.
	Path string

	// Reason describes the inconsistency.
	Reason string
}

// Error implements the error interface.
func (e *CorruptError) Error() string {
	return fmt.Sprintf("corrupted vector index at %s: %s", e.Path, e.Reason)
}

// Unwrap allows errors.Is(err, ErrCorrupted).
func (e *CorruptError) Unwrap() error {
	return ErrCorrupted
}
