// Package vector provides the vector stores behind the semantic cache.
//
// Two backends implement Store: an exact brute-force scan (FlatStore) that is
// queryable the instant Add returns, and an approximate random projection
// forest (ForestStore) whose queryable set only changes when Build completes.
package vector

// ID is the caller-supplied identifier of an entry. The store never checks it
// for uniqueness: adding the same ID twice creates two independent entries.
type ID = int64

// DefaultNumTrees is the forest size used when Build is called with numTrees <= 0.
const DefaultNumTrees = 10

// Store owns an index structure and the mapping from insertion position to ID.
// Implementations are safe for concurrent use.
type Store interface {
	// Add appends one entry. It fails with ErrDimensionMismatch if len(vec) is
	// not the store dimension, in which case the store is unchanged.
	Add(id ID, vec []float32) error
	// QueryNearest returns up to n queryable entries ordered by ascending
	// distance, ties broken by insertion position. An empty store yields an
	// empty result and no error.
	QueryNearest(vec []float32, n int) ([]Neighbor, error)
	// Build makes every entry added so far queryable. numTrees tunes recall
	// for tree backends and is ignored by the exact backend.
	Build(numTrees int) error
	// Save writes the queryable structure to path and returns the IDs of the
	// saved entries in insertion order. Identifiers are not written to path;
	// the caller persists them separately.
	Save(path string) ([]ID, error)
	// Load replaces the queryable structure with the one stored at path.
	Load(path string) error
	// Identifiers returns the IDs of all entries in insertion order. Entries
	// still waiting for RestoreIdentifiers report zero.
	Identifiers() []ID
	// RestoreIdentifiers reattaches IDs to the entries restored by Load.
	RestoreIdentifiers(ids []ID) error
	Stats() Stats
	Type() string
	Close() error
}

// Neighbor is a single query result. Mapped is false for an entry restored by
// Load whose identifier has not been reattached by RestoreIdentifiers; its ID
// is zero and means nothing.
type Neighbor struct {
	ID       ID
	Position int
	Distance float64
	Mapped   bool
}

// State is the build state of a store.
type State int

const (
	StateEmpty State = iota
	StateDirty
	StateBuilt
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateDirty:
		return "dirty"
	case StateBuilt:
		return "built"
	default:
		return "unknown"
	}
}

// Stats describes the current size of a store.
type Stats struct {
	Dimensions int    `json:"dimensions"`
	Metric     string `json:"metric"`
	Entries    int    `json:"entries"`
	Queryable  int    `json:"queryable"`
	State      State  `json:"-"`
	StateName  string `json:"state"`
}
