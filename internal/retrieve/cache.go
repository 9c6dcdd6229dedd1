package retrieve

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// cacheTTL bounds staleness of cached query results.
const cacheTTL = 10 * time.Minute

// QueryCache is an optional Redis read-through cache for retrieval
// results. A nil *QueryCache is a valid no-op.
type QueryCache struct {
	client *redis.Client
}

// NewQueryCache connects to Redis by URL. Empty URL returns nil, which
// disables caching.
func NewQueryCache(redisURL string) (*QueryCache, error) {
	if redisURL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	return &QueryCache{client: redis.NewClient(opts)}, nil
}

// Get loads a cached result set into out. Misses and Redis failures
// both report false; the caller just queries the store.
func (c *QueryCache) Get(ctx context.Context, key string, out any) bool {
	if c == nil {
		return false
	}
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}

// Set stores a result set. Failures are ignored; the cache is advisory.
func (c *QueryCache) Set(ctx context.Context, key string, val any) {
	if c == nil {
		return
	}
	raw, err := json.Marshal(val)
	if err != nil {
		return
	}
	c.client.Set(ctx, key, raw, cacheTTL)
}

// Close releases the Redis connection.
func (c *QueryCache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}

// cacheKey derives a stable key from every input that affects results.
func cacheKey(collection, query, sourceID string, k int, mode string) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s\x00%s\x00%s\x00%d\x00%s", collection, query, sourceID, k, mode))
	return "lodestone:query:" + hex.EncodeToString(sum[:])
}
