// Package storage reports the on-disk footprint of a cache snapshot.
package storage

import (
	"io/fs"
	"os"
	"path/filepath"
)

// sidecarSuffixes are files SQLite keeps next to a database in WAL mode.
var sidecarSuffixes = []string{"-wal", "-shm", "-journal"}

// Usage is the size in bytes of each part of a snapshot.
type Usage struct {
	Index       int64 `json:"index_bytes"`
	Identifiers int64 `json:"identifiers_bytes"`
}

// Total returns the combined size.
func (u Usage) Total() int64 {
	return u.Index + u.Identifiers
}

// SnapshotUsage measures the index file and the identifier store, including
// SQLite sidecar files. Missing paths count as zero.
func SnapshotUsage(indexPath, idmapPath string) (Usage, error) {
	var u Usage
	n, err := pathSize(indexPath)
	if err != nil {
		return Usage{}, err
	}
	u.Index = n
	if idmapPath == "" {
		return u, nil
	}
	for _, p := range append([]string{idmapPath}, sidecars(idmapPath)...) {
		n, err := pathSize(p)
		if err != nil {
			return Usage{}, err
		}
		u.Identifiers += n
	}
	return u, nil
}

func sidecars(path string) []string {
	out := make([]string, len(sidecarSuffixes))
	for i, s := range sidecarSuffixes {
		out[i] = path + s
	}
	return out
}

// pathSize returns the size of a file, or the recursive size of a directory.
func pathSize(p string) (int64, error) {
	if p == "" {
		return 0, nil
	}
	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	if !info.IsDir() {
		return info.Size(), nil
	}
	var total int64
	err = filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		total += fi.Size()
		return nil
	})
	return total, err
}
