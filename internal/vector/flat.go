package vector

import (
	"fmt"
	"sort"
	"sync"
)

// FlatStore is the exact backend: every query scans all stored vectors.
// An entry is queryable as soon as Add returns, so Build is a no-op.
type FlatStore struct {
	dimensions int
	metric     Metric
	distance   distanceFunc
	ids        []ID
	vectors    [][]float32
	unmapped   int // leading positions restored by Load without an identifier yet
	closed     bool
	mu         sync.RWMutex
}

// NewFlatStore creates an exact store for vectors of the given dimension.
func NewFlatStore(dimensions int, metric Metric) (*FlatStore, error) {
	if dimensions <= 0 {
		return nil, ErrInvalidDimension
	}
	if metric == "" {
		metric = MetricEuclidean
	}
	return &FlatStore{
		dimensions: dimensions,
		metric:     metric,
		distance:   metric.distanceFunc(),
		ids:        make([]ID, 0),
		vectors:    make([][]float32, 0),
	}, nil
}

// Type returns the backend identifier.
func (s *FlatStore) Type() string {
	return string(BackendExact)
}

// Add appends a copy of vec under id.
func (s *FlatStore) Add(id ID, vec []float32) error {
	if err := checkDimensions(s.dimensions, vec); err != nil {
		return err
	}
	cp := make([]float32, s.dimensions)
	copy(cp, vec)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.ids = append(s.ids, id)
	s.vectors = append(s.vectors, cp)
	return nil
}

// QueryNearest computes the distance to every entry and keeps the n smallest.
func (s *FlatStore) QueryNearest(vec []float32, n int) ([]Neighbor, error) {
	if err := checkDimensions(s.dimensions, vec); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	if n <= 0 || len(s.vectors) == 0 {
		return []Neighbor{}, nil
	}
	candidates := make([]Neighbor, len(s.vectors))
	for i, v := range s.vectors {
		candidates[i] = Neighbor{
			ID:       s.ids[i],
			Position: i,
			Distance: s.distance(vec, v),
			Mapped:   i >= s.unmapped,
		}
	}
	return rankNeighbors(candidates, n), nil
}

// Build is a no-op for the exact backend.
func (s *FlatStore) Build(int) error {
	return nil
}

// Save writes all vectors to path. Entries are append-only, so the write
// works from a prefix captured under the read lock.
func (s *FlatStore) Save(path string) ([]ID, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrClosed
	}
	n := len(s.vectors)
	vectors := s.vectors[:n:n]
	ids := append([]ID(nil), s.ids[:n]...)
	s.mu.RUnlock()
	if path == "" {
		return ids, nil
	}

	f, err := createSnapshotFile(path)
	if err != nil {
		return nil, err
	}
	w := &binWriter{w: f}
	w.header(indexHeader{kind: kindFlat, dimensions: s.dimensions, metric: s.metric, count: n})
	for _, v := range vectors {
		w.f32s(v)
	}
	if w.err != nil {
		f.abort()
		return nil, &IOError{Op: "write index", Path: path, Err: w.err}
	}
	if err := f.commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

// Load replaces the stored vectors with the ones at path. The restored
// entries are unmapped until RestoreIdentifiers is called. A missing file
// leaves the store unchanged.
func (s *FlatStore) Load(path string) error {
	if path == "" {
		return nil
	}
	f, err := openSnapshotFile(path)
	if err != nil || f == nil {
		return err
	}
	defer f.Close()
	r := &binReader{r: f}
	h, err := readHeaderFor(r, kindFlat, s.dimensions, s.metric)
	if err != nil {
		return &IOError{Op: "read index", Path: path, Err: err}
	}
	vectors := r.vectors(h.count, s.dimensions)
	if r.err != nil {
		return &IOError{Op: "read vectors", Path: path, Err: r.err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vectors = vectors
	s.ids = make([]ID, len(vectors))
	s.unmapped = len(vectors)
	return nil
}

// Identifiers returns a copy of the IDs in insertion order.
func (s *FlatStore) Identifiers() []ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ID(nil), s.ids...)
}

// RestoreIdentifiers replaces the ID of every entry; len(ids) must equal the entry count.
func (s *FlatStore) RestoreIdentifiers(ids []ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(ids) != len(s.vectors) {
		return fmt.Errorf("%w: got %d, have %d entries", ErrIdentifierCount, len(ids), len(s.vectors))
	}
	s.ids = append([]ID(nil), ids...)
	s.unmapped = 0
	return nil
}

// Stats reports entry counts; the exact backend is never dirty.
func (s *FlatStore) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{
		Dimensions: s.dimensions,
		Metric:     string(s.metric),
		Entries:    len(s.vectors),
		Queryable:  len(s.vectors),
		State:      StateBuilt,
	}
	if st.Entries == 0 {
		st.State = StateEmpty
	}
	st.StateName = st.State.String()
	return st
}

// Close releases the stored vectors.
func (s *FlatStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.ids = nil
	s.vectors = nil
	s.unmapped = 0
	return nil
}

// rankNeighbors orders candidates by distance then insertion position and keeps the first n.
func rankNeighbors(candidates []Neighbor, n int) []Neighbor {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Distance != candidates[j].Distance {
			return candidates[i].Distance < candidates[j].Distance
		}
		return candidates[i].Position < candidates[j].Position
	})
	if n > len(candidates) {
		n = len(candidates)
	}
	return candidates[:n]
}
