package client

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachingOptimizer memoizes successful optimizations by source content.
type CachingOptimizer struct {
	next   Optimizer
	cache  *lru.Cache[string, string]
	Logger *slog.Logger
}

// NewCachingOptimizer wraps next with an LRU of size entries.
func NewCachingOptimizer(next Optimizer, size int) (*CachingOptimizer, error) {
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, err
	}
	return &CachingOptimizer{next: next, cache: cache}, nil
}

func (c *CachingOptimizer) Optimize(ctx context.Context, source string) (string, error) {
	key := sourceKey(source)
	if code, ok := c.cache.Get(key); ok {
		if c.Logger != nil {
			c.Logger.Debug("optimize cache hit", "key", key[:12])
		}
		return code, nil
	}
	code, err := c.next.Optimize(ctx, source)
	if err != nil {
		return "", err
	}
	c.cache.Add(key, code)
	return code, nil
}

func sourceKey(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}
