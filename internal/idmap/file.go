package idmap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

const fileFormatVersion = 1

type fileRecord struct {
	Version int     `msgpack:"v"`
	IDs     []int64 `msgpack:"ids"`
}

// FileStore keeps identifiers in a single msgpack-encoded file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a store backed by the file at path. The file is created on first Save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Save writes ids to a temporary file and renames it over the target.
func (s *FileStore) Save(ctx context.Context, ids []int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := msgpack.Marshal(&fileRecord{Version: fileFormatVersion, IDs: ids})
	if err != nil {
		return fmt.Errorf("encode identifiers: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create identifier directory: %w", err)
	}
	tmp := s.path + "." + uuid.NewString() + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write identifiers: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write identifiers: %w", err)
	}
	return nil
}

// Load reads the identifier file. A missing file yields an empty list.
func (s *FileStore) Load(ctx context.Context) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	data, err := os.ReadFile(s.path)
	s.mu.Unlock()
	if errors.Is(err, os.ErrNotExist) {
		return []int64{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read identifiers: %w", err)
	}

	var rec fileRecord
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode identifiers %s: %w", s.path, err)
	}
	if rec.Version != fileFormatVersion {
		return nil, fmt.Errorf("identifier file %s: unsupported version %d", s.path, rec.Version)
	}
	if rec.IDs == nil {
		rec.IDs = []int64{}
	}
	return rec.IDs, nil
}

// Close is a no-op.
func (s *FileStore) Close() error {
	return nil
}
