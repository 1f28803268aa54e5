package coordinator

import (
	"errors"
	"fmt"
)

var (
	// ErrEmbedding is matched by every *EmbeddingError.
	ErrEmbedding = errors.New("embedding failed")
	// ErrInvalidThreshold is returned for negative or NaN distance thresholds.
	ErrInvalidThreshold = errors.New("distance threshold must be a non-negative number")
)

// Error reports which coordinator operation failed. Op is one of
// "add", "query", "rebuild", "save" or "load".
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// EmbeddingError wraps a failure of the embedding oracle.
type EmbeddingError struct {
	Err error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding failed: %v", e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

func (e *EmbeddingError) Is(target error) bool { return target == ErrEmbedding }
