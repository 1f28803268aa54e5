package vector

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
)

func TestFlatStore_AddQuery(t *testing.T) {
	s, err := NewFlatStore(3, MetricEuclidean)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	vecs := [][]float32{
		{1, 0, 0},
		{0.9, 0.1, 0},
		{0, 1, 0},
	}
	for i, v := range vecs {
		if err := s.Add(ID(i+1), v); err != nil {
			t.Fatal(err)
		}
	}

	results, err := s.QueryNearest([]float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != 1 || results[0].Distance != 0 {
		t.Errorf("top result should be (1, 0), got %+v", results[0])
	}
	if results[1].ID != 2 {
		t.Errorf("second result should be 2, got %d", results[1].ID)
	}
	if results[0].Distance > results[1].Distance {
		t.Error("results not ordered by ascending distance")
	}
}

func TestFlatStore_SelfDistanceZero(t *testing.T) {
	s, _ := NewFlatStore(4, MetricEuclidean)
	vecs := [][]float32{{0.1, 0.2, 0.3, 0.4}, {-1, 2.5, 0, 3}, {7, 7, 7, 7}}
	for i, v := range vecs {
		id := ID(100 + i)
		if err := s.Add(id, v); err != nil {
			t.Fatal(err)
		}
		got, err := s.QueryNearest(v, 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0].ID != id || got[0].Distance > 1e-9 {
			t.Errorf("query right after add: got %+v, want (%d, 0)", got, id)
		}
	}
}

func TestFlatStore_Empty(t *testing.T) {
	s, _ := NewFlatStore(2, MetricEuclidean)
	got, err := s.QueryNearest([]float32{1, 1}, 1)
	if err != nil {
		t.Fatalf("empty store query should not fail: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil result, got %v", got)
	}
	if st := s.Stats(); st.State != StateEmpty {
		t.Errorf("state=%s, want empty", st.State)
	}
}

func TestFlatStore_DimensionMismatch(t *testing.T) {
	s, _ := NewFlatStore(3, MetricEuclidean)
	_ = s.Add(1, []float32{1, 2, 3})

	err := s.Add(2, []float32{1, 2})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("Add: expected ErrDimensionMismatch, got %v", err)
	}
	var de *DimensionError
	if !errors.As(err, &de) || de.Expected != 3 || de.Actual != 2 {
		t.Errorf("unexpected dimension error: %v", err)
	}
	if _, err := s.QueryNearest([]float32{1, 2, 3, 4}, 1); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("QueryNearest: expected ErrDimensionMismatch, got %v", err)
	}
	if got := s.Stats().Entries; got != 1 {
		t.Errorf("failed add changed store: entries=%d", got)
	}
	if ids := s.Identifiers(); len(ids) != 1 || ids[0] != 1 {
		t.Errorf("identifiers=%v", ids)
	}
}

func TestFlatStore_TiesBrokenByInsertionOrder(t *testing.T) {
	s, _ := NewFlatStore(2, MetricEuclidean)
	_ = s.Add(30, []float32{1, 0})
	_ = s.Add(10, []float32{-1, 0})
	_ = s.Add(20, []float32{0, 1})

	got, err := s.QueryNearest([]float32{0, 0}, 3)
	if err != nil {
		t.Fatal(err)
	}
	want := []ID{30, 10, 20}
	for i, n := range got {
		if n.ID != want[i] || n.Position != i {
			t.Errorf("result %d: got %+v, want id %d at position %d", i, n, want[i], i)
		}
	}
}

func TestFlatStore_DuplicateIdentifiers(t *testing.T) {
	s, _ := NewFlatStore(2, MetricEuclidean)
	_ = s.Add(7, []float32{0, 0})
	_ = s.Add(7, []float32{5, 5})

	if got := s.Stats().Entries; got != 2 {
		t.Fatalf("duplicate add should create two entries, got %d", got)
	}
	a, _ := s.QueryNearest([]float32{0, 0}, 1)
	b, _ := s.QueryNearest([]float32{5, 5}, 1)
	if a[0].ID != 7 || a[0].Position != 0 || a[0].Distance != 0 {
		t.Errorf("first entry: %+v", a[0])
	}
	if b[0].ID != 7 || b[0].Position != 1 || b[0].Distance != 0 {
		t.Errorf("second entry: %+v", b[0])
	}
}

func TestFlatStore_AngularMetric(t *testing.T) {
	s, _ := NewFlatStore(2, MetricAngular)
	_ = s.Add(1, []float32{10, 0})
	_ = s.Add(2, []float32{0, 1})
	got, _ := s.QueryNearest([]float32{1, 0}, 2)
	if got[0].ID != 1 || got[0].Distance > 1e-9 {
		t.Errorf("scaled vector should have zero angular distance: %+v", got[0])
	}
	if math.Abs(got[1].Distance-math.Sqrt2) > 1e-6 {
		t.Errorf("orthogonal angular distance=%f, want sqrt(2)", got[1].Distance)
	}
}

func TestFlatStore_SaveLoad(t *testing.T) {
	for _, name := range []string{"index.bin", "index.bin.zst"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "sub", name)
			s, _ := NewFlatStore(2, MetricEuclidean)
			_ = s.Add(11, []float32{1, 2})
			_ = s.Add(22, []float32{3, 4})
			ids, err := s.Save(path)
			if err != nil {
				t.Fatalf("Save: %v", err)
			}

			restored, _ := NewFlatStore(2, MetricEuclidean)
			if err := restored.Load(path); err != nil {
				t.Fatalf("Load: %v", err)
			}
			got, _ := restored.QueryNearest([]float32{3, 4}, 1)
			if got[0].Mapped || got[0].Position != 1 || got[0].Distance != 0 {
				t.Errorf("before restoring ids: %+v", got[0])
			}
			if err := restored.RestoreIdentifiers(ids); err != nil {
				t.Fatalf("RestoreIdentifiers: %v", err)
			}
			got, _ = restored.QueryNearest([]float32{3, 4}, 1)
			if got[0].ID != 22 || !got[0].Mapped {
				t.Errorf("after restoring ids: %+v", got[0])
			}
		})
	}
}

func TestFlatStore_LoadErrors(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewFlatStore(2, MetricEuclidean)
	_ = s.Add(1, []float32{1, 1})

	if err := s.Load(filepath.Join(dir, "missing.bin")); err != nil {
		t.Errorf("missing file should be a no-op, got %v", err)
	}
	if s.Stats().Entries != 1 {
		t.Error("missing file changed the store")
	}

	path := filepath.Join(dir, "index.bin")
	if _, err := s.Save(path); err != nil {
		t.Fatal(err)
	}
	other, _ := NewFlatStore(3, MetricEuclidean)
	if err := other.Load(path); !errors.Is(err, ErrIO) {
		t.Errorf("dimension mismatch on load: expected ErrIO, got %v", err)
	}
	forest, _ := NewForestStore(2, MetricEuclidean, ForestOptions{})
	if err := forest.Load(path); !errors.Is(err, ErrIO) {
		t.Errorf("kind mismatch on load: expected ErrIO, got %v", err)
	}
	if err := s.RestoreIdentifiers([]ID{1, 2}); !errors.Is(err, ErrIdentifierCount) {
		t.Errorf("expected ErrIdentifierCount, got %v", err)
	}
}

func TestFlatStore_ConcurrentAddQuery(t *testing.T) {
	s, _ := NewFlatStore(2, MetricEuclidean)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				v := []float32{float32(g), float32(i)}
				if err := s.Add(ID(g*1000+i), v); err != nil {
					t.Error(err)
					return
				}
				if _, err := s.QueryNearest(v, 1); err != nil {
					t.Error(err)
					return
				}
			}
		}(g)
	}
	wg.Wait()
	if got := s.Stats().Entries; got != 400 {
		t.Errorf("lost entries: %d, want 400", got)
	}
}

// writeCorruptIndex writes a header claiming count entries followed by body.
func writeCorruptIndex(t *testing.T, kind uint32, dims, count int, body func(w *binWriter)) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "corrupt.bin")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	w := &binWriter{w: f}
	w.header(indexHeader{kind: kind, dimensions: dims, metric: MetricEuclidean, count: count})
	if body != nil {
		body(w)
	}
	if w.err != nil {
		t.Fatal(w.err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

// allocatedDuring returns the bytes allocated while fn runs.
func allocatedDuring(fn func()) uint64 {
	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	fn()
	runtime.ReadMemStats(&after)
	return after.TotalAlloc - before.TotalAlloc
}

func TestFlatStore_LoadCorruptCount(t *testing.T) {
	path := writeCorruptIndex(t, kindFlat, 4, math.MaxInt32, func(w *binWriter) {
		w.f32s([]float32{1, 2, 3, 4})
	})
	s, _ := NewFlatStore(4, MetricEuclidean)
	_ = s.Add(1, []float32{0, 0, 0, 0})

	var err error
	allocated := allocatedDuring(func() { err = s.Load(path) })
	if !errors.Is(err, ErrIO) {
		t.Errorf("expected ErrIO for truncated index, got %v", err)
	}
	if allocated > 16<<20 {
		t.Errorf("loading a truncated index allocated %d bytes", allocated)
	}
	if ids := s.Identifiers(); len(ids) != 1 || ids[0] != 1 {
		t.Errorf("failed load changed the store: %v", ids)
	}
}

func TestFlatStore_NegativeIdentifier(t *testing.T) {
	s, _ := NewFlatStore(2, MetricEuclidean)
	_ = s.Add(-1, []float32{1, 1})
	got, _ := s.QueryNearest([]float32{1, 1}, 1)
	if len(got) != 1 || got[0].ID != -1 || !got[0].Mapped {
		t.Errorf("got %+v, want mapped id -1", got)
	}
}

func TestFlatStore_AddAfterLoadIsMapped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.bin")
	s, _ := NewFlatStore(2, MetricEuclidean)
	_ = s.Add(1, []float32{0, 0})
	if _, err := s.Save(path); err != nil {
		t.Fatal(err)
	}
	restored, _ := NewFlatStore(2, MetricEuclidean)
	if err := restored.Load(path); err != nil {
		t.Fatal(err)
	}
	_ = restored.Add(2, []float32{5, 5})
	got, _ := restored.QueryNearest([]float32{0, 0}, 2)
	if len(got) != 2 || got[0].Mapped || !got[1].Mapped || got[1].ID != 2 {
		t.Errorf("got %+v", got)
	}
}
