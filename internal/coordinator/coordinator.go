// Package coordinator decides cache hits and misses over a vector store.
//
// A Coordinator owns one vector.Store and one embedding.Embedder. Add and
// Query call the embedder without holding any coordinator lock; the store is
// responsible for its own entry-list discipline. Rebuilds are serialized.
package coordinator

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/semcache/internal/embedding"
	"github.com/hyperjump/semcache/internal/vector"
	"github.com/hyperjump/semcache/pkg/utils"
)

const logTextLen = 64

// Match is a cache hit.
type Match struct {
	ID       int64   `json:"id"`
	Distance float64 `json:"distance"`
}

// Stats describes the coordinator and its store.
type Stats struct {
	Backend           string       `json:"backend"`
	Index             vector.Stats `json:"index"`
	Rebuilds          int64        `json:"rebuilds"`
	LastRebuildAt     time.Time    `json:"last_rebuild_at,omitempty"`
	LastRebuildMillis int64        `json:"last_rebuild_ms"`
}

// Coordinator is safe for concurrent use.
type Coordinator struct {
	store    vector.Store
	embedder embedding.Embedder
	logger   *zap.Logger
	numTrees int

	rebuildMu   sync.Mutex
	rebuilds    atomic.Int64
	lastRebuild atomic.Pointer[rebuildInfo]
}

type rebuildInfo struct {
	at       time.Time
	duration time.Duration
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithNumTrees sets the tree count passed to Build on every rebuild.
// Zero or negative uses the store default.
func WithNumTrees(n int) Option {
	return func(c *Coordinator) { c.numTrees = n }
}

// New creates a coordinator that owns store and uses embedder for text.
func New(store vector.Store, embedder embedding.Embedder, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:    store,
		embedder: embedder,
		logger:   zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Add embeds text and appends it to the store under id. On the approximate
// backend the entry becomes visible to Query after the next Rebuild.
// Adding an id twice creates two entries.
func (c *Coordinator) Add(ctx context.Context, id int64, text string) error {
	vec, err := c.embed(ctx, text)
	if err != nil {
		return &Error{Op: "add", Err: err}
	}
	if err := c.store.Add(id, vec); err != nil {
		return &Error{Op: "add", Err: err}
	}
	c.logger.Debug("entry added",
		zap.Int64("id", id),
		zap.String("text", utils.Truncate(text, logTextLen)))
	return nil
}

// Query returns the nearest entry if its distance is at most threshold.
// A nil Match with a nil error is a miss: the store had no queryable entry,
// or the nearest one was too far.
func (c *Coordinator) Query(ctx context.Context, text string, threshold float64) (*Match, error) {
	if math.IsNaN(threshold) || threshold < 0 {
		return nil, &Error{Op: "query", Err: ErrInvalidThreshold}
	}
	vec, err := c.embed(ctx, text)
	if err != nil {
		return nil, &Error{Op: "query", Err: err}
	}
	nearest, err := c.store.QueryNearest(vec, 1)
	if err != nil {
		return nil, &Error{Op: "query", Err: err}
	}
	if len(nearest) == 0 {
		c.logger.Debug("query miss: no queryable entries")
		return nil, nil
	}
	n := nearest[0]
	if n.Distance > threshold {
		c.logger.Debug("query miss",
			zap.Float64("distance", n.Distance),
			zap.Float64("threshold", threshold))
		return nil, nil
	}
	if !n.Mapped {
		c.logger.Warn("nearest entry has no identifier; treating as miss",
			zap.Int("position", n.Position))
		return nil, nil
	}
	c.logger.Debug("query hit",
		zap.Int64("id", n.ID),
		zap.Float64("distance", n.Distance),
		zap.Float64("threshold", threshold))
	return &Match{ID: n.ID, Distance: n.Distance}, nil
}

// Rebuild makes every entry added so far queryable. Concurrent calls run one
// after another. Once started, a build runs to completion; ctx is only
// checked before acquiring the build.
func (c *Coordinator) Rebuild(ctx context.Context) error {
	c.rebuildMu.Lock()
	defer c.rebuildMu.Unlock()
	if err := ctx.Err(); err != nil {
		return &Error{Op: "rebuild", Err: err}
	}

	start := time.Now()
	if err := c.store.Build(c.numTrees); err != nil {
		return &Error{Op: "rebuild", Err: err}
	}
	elapsed := time.Since(start)
	c.rebuilds.Add(1)
	c.lastRebuild.Store(&rebuildInfo{at: start, duration: elapsed})

	st := c.store.Stats()
	c.logger.Debug("index rebuilt",
		zap.String("backend", c.store.Type()),
		zap.Int("entries", st.Queryable),
		zap.Duration("duration", elapsed))
	return nil
}

// Stats reports the store state and rebuild history.
func (c *Coordinator) Stats() Stats {
	st := Stats{
		Backend:  c.store.Type(),
		Index:    c.store.Stats(),
		Rebuilds: c.rebuilds.Load(),
	}
	if info := c.lastRebuild.Load(); info != nil {
		st.LastRebuildAt = info.at
		st.LastRebuildMillis = info.duration.Milliseconds()
	}
	return st
}

// Dimensions returns the vector length the store expects.
func (c *Coordinator) Dimensions() int {
	return c.store.Stats().Dimensions
}

// Close closes the store and the embedder.
func (c *Coordinator) Close() error {
	storeErr := c.store.Close()
	embedErr := c.embedder.Close()
	if storeErr != nil {
		return storeErr
	}
	return embedErr
}

func (c *Coordinator) embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := c.embedder.Embed(ctx, text)
	if err != nil {
		return nil, &EmbeddingError{Err: err}
	}
	return vec, nil
}
