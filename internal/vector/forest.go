package vector

import (
	"container/heap"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
)

const defaultLeafSize = 16

// ForestOptions tunes the approximate backend.
type ForestOptions struct {
	// NumTrees is used when Build is called with numTrees <= 0. Default 10.
	NumTrees int
	// LeafSize is the maximum number of positions in a leaf. Default 16.
	LeafSize int
	// SearchK is the number of candidates gathered per query before exact
	// ranking. Zero means n × trees × leaf size.
	SearchK int
	// Seed makes tree construction reproducible; zero picks a random seed.
	Seed uint64
}

// ForestStore is the approximate backend: a forest of random hyperplane trees.
//
// Entries added after the last Build stay invisible to queries until the next
// Build swaps in a fresh forest built over the whole entry list.
type ForestStore struct {
	dimensions int
	metric     Metric
	distance   distanceFunc
	opts       ForestOptions

	// mu guards the entry list. Add and the snapshot step of Build take it.
	// The first unmapped positions came from Load and have no identifier yet.
	mu       sync.Mutex
	ids      []ID
	vectors  [][]float32
	unmapped int

	// buildMu serializes builds and owns rng.
	buildMu sync.Mutex
	rng     *rand.Rand

	snap   atomic.Pointer[forest]
	closed atomic.Bool
}

// forest is an immutable queryable snapshot.
type forest struct {
	ids      []ID
	vectors  [][]float32
	roots    []int32
	nodes    []treeNode
	leafSize int
	unmapped int
}

// treeNode is a split node when items is nil. A split with a nil normal was
// degenerate (all points on one side) and sends queries down both children.
type treeNode struct {
	normal      []float32
	offset      float32
	left, right int32
	items       []int32
}

// NewForestStore creates an approximate store for vectors of the given dimension.
func NewForestStore(dimensions int, metric Metric, opts ForestOptions) (*ForestStore, error) {
	if dimensions <= 0 {
		return nil, ErrInvalidDimension
	}
	if metric == "" {
		metric = MetricEuclidean
	}
	if opts.NumTrees <= 0 {
		opts.NumTrees = DefaultNumTrees
	}
	if opts.LeafSize <= 0 {
		opts.LeafSize = defaultLeafSize
	}
	seed := opts.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &ForestStore{
		dimensions: dimensions,
		metric:     metric,
		distance:   metric.distanceFunc(),
		opts:       opts,
		ids:        make([]ID, 0),
		vectors:    make([][]float32, 0),
		rng:        rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}, nil
}

// Type returns the backend identifier.
func (s *ForestStore) Type() string {
	return string(BackendApproximate)
}

// Add appends a copy of vec. It is not queryable until the next Build.
func (s *ForestStore) Add(id ID, vec []float32) error {
	if err := checkDimensions(s.dimensions, vec); err != nil {
		return err
	}
	cp := make([]float32, s.dimensions)
	copy(cp, vec)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return ErrClosed
	}
	s.ids = append(s.ids, id)
	s.vectors = append(s.vectors, cp)
	return nil
}

// Build constructs a new forest over every entry added so far and installs it
// atomically. Concurrent calls run one at a time.
func (s *ForestStore) Build(numTrees int) error {
	if numTrees <= 0 {
		numTrees = s.opts.NumTrees
	}
	s.buildMu.Lock()
	defer s.buildMu.Unlock()
	if s.closed.Load() {
		return ErrClosed
	}

	// Entries are append-only and never mutated, so a capped prefix of the
	// slices stays stable after the lock is released.
	s.mu.Lock()
	n := len(s.vectors)
	ids := s.ids[:n:n]
	vectors := s.vectors[:n:n]
	unmapped := s.unmapped
	s.mu.Unlock()

	f := &forest{ids: ids, vectors: vectors, leafSize: s.opts.LeafSize, unmapped: unmapped}
	if n > 0 {
		all := make([]int32, n)
		for i := range all {
			all[i] = int32(i)
		}
		f.roots = make([]int32, 0, numTrees)
		for t := 0; t < numTrees; t++ {
			items := make([]int32, n)
			copy(items, all)
			f.roots = append(f.roots, s.buildTree(f, items))
		}
	}
	s.snap.Store(f)
	return nil
}

func (s *ForestStore) buildTree(f *forest, items []int32) int32 {
	if len(items) <= f.leafSize {
		f.nodes = append(f.nodes, treeNode{left: -1, right: -1, items: items})
		return int32(len(f.nodes) - 1)
	}

	normal, offset, ok := s.pickHyperplane(f.vectors, items)
	var left, right []int32
	if ok {
		for _, p := range items {
			if margin(normal, offset, f.vectors[p]) > 0 {
				right = append(right, p)
			} else {
				left = append(left, p)
			}
		}
	}
	if len(left) == 0 || len(right) == 0 {
		s.rng.Shuffle(len(items), func(i, j int) { items[i], items[j] = items[j], items[i] })
		half := len(items) / 2
		left, right = items[:half], items[half:]
		normal = nil
		offset = 0
	}

	idx := len(f.nodes)
	f.nodes = append(f.nodes, treeNode{normal: normal, offset: offset})
	l := s.buildTree(f, left)
	r := s.buildTree(f, right)
	f.nodes[idx].left = l
	f.nodes[idx].right = r
	return int32(idx)
}

// pickHyperplane returns the perpendicular bisector of two random distinct points.
func (s *ForestStore) pickHyperplane(vectors [][]float32, items []int32) ([]float32, float32, bool) {
	for attempt := 0; attempt < 8; attempt++ {
		a := vectors[items[s.rng.IntN(len(items))]]
		b := vectors[items[s.rng.IntN(len(items))]]
		normal := make([]float32, len(a))
		var offset float64
		var norm float64
		for i := range a {
			normal[i] = a[i] - b[i]
			norm += float64(normal[i]) * float64(normal[i])
			offset += float64(normal[i]) * (float64(a[i]) + float64(b[i])) / 2
		}
		if norm > 0 {
			return normal, float32(offset), true
		}
	}
	return nil, 0, false
}

func margin(normal []float32, offset float32, v []float32) float64 {
	return InnerProduct(normal, v) - float64(offset)
}

// QueryNearest searches the last built forest. Entries added since then are not seen.
func (s *ForestStore) QueryNearest(vec []float32, n int) ([]Neighbor, error) {
	if err := checkDimensions(s.dimensions, vec); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, ErrClosed
	}
	f := s.snap.Load()
	if n <= 0 || f == nil || len(f.vectors) == 0 {
		return []Neighbor{}, nil
	}
	searchK := s.opts.SearchK
	if searchK <= 0 {
		searchK = n * len(f.roots) * f.leafSize
	}

	pq := make(nodeQueue, 0, len(f.roots)*2)
	for _, r := range f.roots {
		pq = append(pq, queuedNode{node: r, priority: math.Inf(1)})
	}
	heap.Init(&pq)

	seen := make(map[int32]struct{}, searchK)
	candidates := make([]int32, 0, searchK)
	for pq.Len() > 0 && len(candidates) < searchK {
		top := heap.Pop(&pq).(queuedNode)
		nd := &f.nodes[top.node]
		if nd.items != nil {
			for _, p := range nd.items {
				if _, dup := seen[p]; !dup {
					seen[p] = struct{}{}
					candidates = append(candidates, p)
				}
			}
			continue
		}
		if nd.normal == nil {
			heap.Push(&pq, queuedNode{node: nd.left, priority: top.priority})
			heap.Push(&pq, queuedNode{node: nd.right, priority: top.priority})
			continue
		}
		m := margin(nd.normal, nd.offset, vec)
		heap.Push(&pq, queuedNode{node: nd.right, priority: math.Min(top.priority, m)})
		heap.Push(&pq, queuedNode{node: nd.left, priority: math.Min(top.priority, -m)})
	}

	neighbors := make([]Neighbor, len(candidates))
	for i, p := range candidates {
		neighbors[i] = Neighbor{
			ID:       f.ids[p],
			Position: int(p),
			Distance: s.distance(vec, f.vectors[p]),
			Mapped:   int(p) >= f.unmapped,
		}
	}
	return rankNeighbors(neighbors, n), nil
}

type queuedNode struct {
	node     int32
	priority float64
}

// nodeQueue is a max-heap on priority.
type nodeQueue []queuedNode

func (q nodeQueue) Len() int           { return len(q) }
func (q nodeQueue) Less(i, j int) bool { return q[i].priority > q[j].priority }
func (q nodeQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *nodeQueue) Push(x any)        { *q = append(*q, x.(queuedNode)) }
func (q *nodeQueue) Pop() any {
	old := *q
	it := old[len(old)-1]
	*q = old[:len(old)-1]
	return it
}

// Save writes the last built forest. Pending entries are not included.
func (s *ForestStore) Save(path string) ([]ID, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	f := s.snap.Load()
	if f == nil {
		f = &forest{leafSize: s.opts.LeafSize}
	}
	ids := append([]ID(nil), f.ids...)
	if path == "" {
		return ids, nil
	}
	out, err := createSnapshotFile(path)
	if err != nil {
		return nil, err
	}
	w := &binWriter{w: out}
	w.header(indexHeader{kind: kindForest, dimensions: s.dimensions, metric: s.metric, count: len(f.vectors)})
	for _, v := range f.vectors {
		w.f32s(v)
	}
	w.u32(uint32(f.leafSize))
	w.u32(uint32(len(f.roots)))
	for _, r := range f.roots {
		w.i32(r)
	}
	w.u32(uint32(len(f.nodes)))
	for _, nd := range f.nodes {
		w.i32(nd.left)
		w.i32(nd.right)
		if nd.normal != nil {
			w.u32(1)
			w.f32s(nd.normal)
			w.u32(math.Float32bits(nd.offset))
		} else {
			w.u32(0)
		}
		w.u32(uint32(len(nd.items)))
		for _, p := range nd.items {
			w.i32(p)
		}
	}
	if w.err != nil {
		out.abort()
		return nil, &IOError{Op: "write index", Path: path, Err: w.err}
	}
	if err := out.commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

// Load replaces both the entry list and the queryable forest with the ones
// stored at path; entries pending a build are discarded. Restored entries
// are unmapped until RestoreIdentifiers is called. A missing file leaves the
// store unchanged.
func (s *ForestStore) Load(path string) error {
	if path == "" {
		return nil
	}
	in, err := openSnapshotFile(path)
	if err != nil || in == nil {
		return err
	}
	defer in.Close()
	f, err := readForest(&binReader{r: in}, s.dimensions, s.metric)
	if err != nil {
		return &IOError{Op: "read index", Path: path, Err: err}
	}

	s.buildMu.Lock()
	defer s.buildMu.Unlock()
	s.mu.Lock()
	s.ids = f.ids
	s.vectors = f.vectors
	s.unmapped = f.unmapped
	s.mu.Unlock()
	s.snap.Store(f)
	return nil
}

func readForest(r *binReader, dimensions int, metric Metric) (*forest, error) {
	h, err := readHeaderFor(r, kindForest, dimensions, metric)
	if err != nil {
		return nil, err
	}
	f := &forest{vectors: r.vectors(h.count, dimensions)}
	f.leafSize = int(r.u32())
	f.roots = r.i32s(int(r.u32()))
	numNodes := int(r.u32())
	if r.err != nil {
		return nil, r.err
	}
	f.ids = make([]ID, len(f.vectors))
	f.unmapped = len(f.vectors)
	f.nodes = make([]treeNode, 0, min(numNodes, maxPrealloc))
	for i := 0; i < numNodes; i++ {
		nd := treeNode{left: r.i32(), right: r.i32()}
		if r.u32() == 1 {
			nd.normal = r.f32s(dimensions)
			nd.offset = math.Float32frombits(r.u32())
		}
		if count := int(r.u32()); count > 0 || (nd.left < 0 && nd.right < 0) {
			nd.items = r.i32s(count)
		}
		if r.err != nil {
			return nil, r.err
		}
		f.nodes = append(f.nodes, nd)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *forest) validate() error {
	inRange := func(i int32) bool { return i >= 0 && int(i) < len(f.nodes) }
	for _, r := range f.roots {
		if !inRange(r) {
			return fmt.Errorf("root %d out of range", r)
		}
	}
	for i, nd := range f.nodes {
		if nd.items != nil {
			for _, p := range nd.items {
				if p < 0 || int(p) >= len(f.vectors) {
					return fmt.Errorf("node %d references position %d out of range", i, p)
				}
			}
			continue
		}
		if !inRange(nd.left) || !inRange(nd.right) {
			return fmt.Errorf("node %d has child out of range", i)
		}
	}
	return nil
}

// Identifiers returns a copy of the IDs in insertion order, pending entries included.
func (s *ForestStore) Identifiers() []ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ID(nil), s.ids...)
}

// RestoreIdentifiers replaces the ID of every entry and of the installed forest.
func (s *ForestStore) RestoreIdentifiers(ids []ID) error {
	s.buildMu.Lock()
	defer s.buildMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(ids) != len(s.vectors) {
		return fmt.Errorf("%w: got %d, have %d entries", ErrIdentifierCount, len(ids), len(s.vectors))
	}
	s.ids = append([]ID(nil), ids...)
	s.unmapped = 0
	if cur := s.snap.Load(); cur != nil {
		next := *cur
		next.ids = s.ids[:len(cur.ids):len(cur.ids)]
		next.unmapped = 0
		s.snap.Store(&next)
	}
	return nil
}

// Stats reports entry counts and the build state.
func (s *ForestStore) Stats() Stats {
	s.mu.Lock()
	entries := len(s.vectors)
	s.mu.Unlock()
	queryable := 0
	if f := s.snap.Load(); f != nil {
		queryable = len(f.vectors)
	}
	st := Stats{
		Dimensions: s.dimensions,
		Metric:     string(s.metric),
		Entries:    entries,
		Queryable:  queryable,
	}
	switch {
	case entries == 0:
		st.State = StateEmpty
	case queryable == entries:
		st.State = StateBuilt
	default:
		st.State = StateDirty
	}
	st.StateName = st.State.String()
	return st
}

// Close drops the forest and entry list.
func (s *ForestStore) Close() error {
	s.closed.Store(true)
	s.buildMu.Lock()
	defer s.buildMu.Unlock()
	s.mu.Lock()
	s.ids = nil
	s.vectors = nil
	s.unmapped = 0
	s.mu.Unlock()
	s.snap.Store(nil)
	return nil
}
