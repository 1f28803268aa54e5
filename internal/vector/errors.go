package vector

import (
	"errors"
	"fmt"
)

var (
	// ErrDimensionMismatch is matched by every *DimensionError.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrInvalidDimension is returned when a store is created with a non-positive dimension.
	ErrInvalidDimension = errors.New("dimensions must be positive")
	// ErrIdentifierCount is returned when RestoreIdentifiers gets the wrong number of IDs.
	ErrIdentifierCount = errors.New("identifier count does not match entry count")
	// ErrIO is matched by every *IOError.
	ErrIO = errors.New("vector store i/o failure")
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("vector store closed")
)

// DimensionError reports a vector whose length differs from the store dimension.
type DimensionError struct {
	Expected int
	Actual   int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("vector dimension mismatch: got %d, expected %d", e.Actual, e.Expected)
}

func (e *DimensionError) Is(target error) bool { return target == ErrDimensionMismatch }

// IOError wraps a persistence failure with the operation and path involved.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

func (e *IOError) Is(target error) bool { return target == ErrIO }

func checkDimensions(expected int, vec []float32) error {
	if len(vec) != expected {
		return &DimensionError{Expected: expected, Actual: len(vec)}
	}
	return nil
}
