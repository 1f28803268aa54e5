package coordinator

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/semcache/internal/idmap"
)

// SaveSnapshot writes the queryable index to indexPath and the matching
// identifier list to ids. Entries the approximate backend has not built yet
// are in neither part. Adds and queries continue while saving; rebuilds wait.
func (c *Coordinator) SaveSnapshot(ctx context.Context, indexPath string, ids idmap.Store) error {
	c.rebuildMu.Lock()
	defer c.rebuildMu.Unlock()

	start := time.Now()
	saved, err := c.store.Save(indexPath)
	if err != nil {
		return &Error{Op: "save", Err: err}
	}
	if ids != nil {
		if err := ids.Save(ctx, saved); err != nil {
			return &Error{Op: "save", Err: err}
		}
	}
	c.logger.Info("snapshot saved",
		zap.String("path", indexPath),
		zap.Int("entries", len(saved)),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// LoadSnapshot replaces the index with the one at indexPath and reattaches
// the identifiers stored in ids. Call it before serving traffic. A missing
// index file leaves the store as it is.
func (c *Coordinator) LoadSnapshot(ctx context.Context, indexPath string, ids idmap.Store) error {
	c.rebuildMu.Lock()
	defer c.rebuildMu.Unlock()

	if _, err := os.Stat(indexPath); errors.Is(err, fs.ErrNotExist) {
		c.logger.Debug("no snapshot to load", zap.String("path", indexPath))
		return nil
	}
	if err := c.store.Load(indexPath); err != nil {
		return &Error{Op: "load", Err: err}
	}
	entries := c.store.Stats().Entries
	if ids == nil {
		if entries > 0 {
			c.logger.Warn("index loaded without identifier store; hits will be reported as misses",
				zap.Int("entries", entries))
		}
		return nil
	}
	list, err := ids.Load(ctx)
	if err != nil {
		return &Error{Op: "load", Err: err}
	}
	if entries == 0 && len(list) > 0 {
		c.logger.Warn("identifier store has entries but the index is empty; ignoring identifiers",
			zap.Int("identifiers", len(list)))
		return nil
	}
	if err := c.store.RestoreIdentifiers(list); err != nil {
		return &Error{Op: "load", Err: err}
	}
	c.logger.Info("snapshot loaded",
		zap.String("path", indexPath),
		zap.Int("entries", entries))
	return nil
}
