// Package idmap persists the ordered identifier list that pairs with a saved
// vector index. Position i of the list is the identifier of the i-th added entry.
package idmap

import (
	"context"
	"fmt"
)

// Store saves and loads the identifier list.
type Store interface {
	// Save replaces the stored list with ids.
	Save(ctx context.Context, ids []int64) error
	// Load returns the stored list, or an empty list if nothing was saved yet.
	Load(ctx context.Context) ([]int64, error)
	Close() error
}

// Backend selects a Store implementation.
type Backend string

const (
	BackendSQLite Backend = "sqlite"
	BackendFile   Backend = "file"
)

// New opens a store of the given backend at path. Empty backend means sqlite.
func New(backend, path string) (Store, error) {
	switch Backend(backend) {
	case BackendSQLite, "":
		return NewSQLiteStore(path)
	case BackendFile, "msgpack":
		return NewFileStore(path), nil
	default:
		return nil, fmt.Errorf("unknown idmap backend: %s (supported: sqlite, file)", backend)
	}
}
