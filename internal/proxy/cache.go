package proxy

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/semcache/internal/models"
	"github.com/hyperjump/semcache/pkg/utils"
)

// Index is the semantic index the cache consults. *client.IndexClient implements it.
type Index interface {
	QueryIndex(ctx context.Context, text string, threshold *float64) (*models.QueryResponse, error)
	AddIndex(ctx context.Context, id int64, text string) error
}

// Cache pairs the semantic index with a response store: the index maps
// request text to an id, the store maps the id to the recorded response.
type Cache struct {
	index     Index
	responses ResponseStore
	threshold *float64
	logger    *zap.Logger
}

// NewCache creates a cache. A nil threshold leaves the choice to the index server.
func NewCache(index Index, responses ResponseStore, threshold *float64, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{index: index, responses: responses, threshold: threshold, logger: logger}
}

// Lookup returns the response recorded for text or a similar text, and its id.
// A nil response is a miss.
func (c *Cache) Lookup(ctx context.Context, text string) (*Response, int64, error) {
	hit, err := c.index.QueryIndex(ctx, text, c.threshold)
	if err != nil {
		return nil, 0, fmt.Errorf("query index: %w", err)
	}
	if hit == nil {
		return nil, 0, nil
	}
	resp, err := c.responses.Get(ctx, hit.ID)
	if err != nil {
		return nil, 0, err
	}
	if resp == nil {
		c.logger.Warn("index hit has no stored response", zap.Int64("id", hit.ID))
		return nil, 0, nil
	}
	c.logger.Debug("cache hit",
		zap.Int64("id", hit.ID),
		zap.Float64("distance", hit.Distance),
		zap.String("text", utils.Truncate(text, 64)))
	return resp, hit.ID, nil
}

// Remember stores resp and indexes text under the new id.
func (c *Cache) Remember(ctx context.Context, text string, resp Response) (int64, error) {
	id, err := c.responses.Save(ctx, resp)
	if err != nil {
		return 0, fmt.Errorf("save response: %w", err)
	}
	if err := c.index.AddIndex(ctx, id, text); err != nil {
		return 0, fmt.Errorf("add index %d: %w", id, err)
	}
	c.logger.Debug("response cached", zap.Int64("id", id), zap.Int("bytes", len(resp.Body)))
	return id, nil
}
