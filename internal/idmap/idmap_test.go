package idmap

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	sqlite, err := New("sqlite", filepath.Join(dir, "db", "ids.db"))
	if err != nil {
		t.Fatal(err)
	}
	file, err := New("file", filepath.Join(dir, "ids.msgpack"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = sqlite.Close()
		_ = file.Close()
	})
	return map[string]Store{"sqlite": sqlite, "file": file}
}

func TestStore_SaveLoad(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			got, err := store.Load(ctx)
			if err != nil {
				t.Fatalf("Load before Save: %v", err)
			}
			if got == nil || len(got) != 0 {
				t.Errorf("expected empty list, got %v", got)
			}

			ids := []int64{42, 7, 7, -3, 1 << 40}
			if err := store.Save(ctx, ids); err != nil {
				t.Fatalf("Save: %v", err)
			}
			got, err = store.Load(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(ids) {
				t.Fatalf("got %v, want %v", got, ids)
			}
			for i := range ids {
				if got[i] != ids[i] {
					t.Errorf("position %d: got %d, want %d", i, got[i], ids[i])
				}
			}

			// Save replaces rather than appends
			if err := store.Save(ctx, []int64{1}); err != nil {
				t.Fatal(err)
			}
			got, _ = store.Load(ctx)
			if len(got) != 1 || got[0] != 1 {
				t.Errorf("after replace: %v", got)
			}
		})
	}
}

func TestSQLiteStore_Count(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "ids.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()
	_ = store.Save(ctx, []int64{1, 2, 3})
	n, err := store.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("Count=%d, want 3", n)
	}
}

func TestFileStore_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ids.msgpack")
	if err := os.WriteFile(path, []byte("not msgpack"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileStore(path).Load(context.Background()); err == nil {
		t.Error("expected error for corrupt file")
	}
}

func TestNew_Unknown(t *testing.T) {
	if _, err := New("redis", "x"); err == nil {
		t.Error("expected error for unknown backend")
	}
}
