package retrieval

import (
	"context"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"supportflow/pkg/session"
)

// Cached memoises searches by (product, topK, query). Errors are not cached.
type Cached struct {
	next  Service
	cache *lru.Cache[string, []session.Chunk]
}

// NewCached wraps next with an LRU of size entries. A size below one disables
// caching and returns next unchanged.
func NewCached(next Service, size int) (Service, error) {
	if size < 1 {
		return next, nil
	}
	cache, err := lru.New[string, []session.Chunk](size)
	if err != nil {
		return nil, fmt.Errorf("create search cache: %w", err)
	}
	return &Cached{next: next, cache: cache}, nil
}

// Search implements Service.
func (c *Cached) Search(ctx context.Context, query, product string, topK int) ([]session.Chunk, error) {
	key := fmt.Sprintf("%s\x00%d\x00%s", product, topK, strings.TrimSpace(strings.ToLower(query)))
	if hit, ok := c.cache.Get(key); ok {
		return append([]session.Chunk(nil), hit...), nil
	}
	chunks, err := c.next.Search(ctx, query, product, topK)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, append([]session.Chunk(nil), chunks...))
	return chunks, nil
}

// Ready forwards to the wrapped backend.
func (c *Cached) Ready(ctx context.Context) error {
	return Ready(ctx, c.next)
}
