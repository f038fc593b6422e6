package oracle

import (
	"context"
	"encoding/json"
	"time"

	"github.com/robertarktes/lumentix-tickets/internal/observability"
)

// Cache stores raw values by key. Implemented by the redis adapter.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Cached memoizes successful lookups. Settled transactions are immutable,
// so a cached copy never goes stale; cache failures fall through.
type Cached struct {
	inner  Oracle
	cache  Cache
	ttl    time.Duration
	logger observability.Logger
}

func NewCached(inner Oracle, cache Cache, ttl time.Duration, logger observability.Logger) *Cached {
	return &Cached{inner: inner, cache: cache, ttl: ttl, logger: logger}
}

func cacheKey(hash string) string { return "oracle:tx:" + hash }

func (c *Cached) GetTransaction(ctx context.Context, hash string) (*Transaction, error) {
	raw, ok, err := c.cache.Get(ctx, cacheKey(hash))
	if err != nil {
		c.logger.WithField("tx_hash", hash).WithError(err).Warn("oracle cache read failed")
	}
	if ok {
		var tx Transaction
		if err := json.Unmarshal(raw, &tx); err == nil {
			observability.OracleDuration.WithLabelValues("cache").Observe(0)
			return &tx, nil
		}
	}

	tx, err := c.inner.GetTransaction(ctx, hash)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(tx); err == nil {
		if err := c.cache.Set(ctx, cacheKey(hash), data, c.ttl); err != nil {
			c.logger.WithField("tx_hash", hash).WithError(err).Warn("oracle cache write failed")
		}
	}
	return tx, nil
}
