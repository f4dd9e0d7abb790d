package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/synapselabs/partnermatch/core"
)

const redisKeyPrefix = "features:"

// RedisCache is a Redis-backed serving cache for deployments that share the
// online store across replicas. Semantics match MemoryCache: snapshot
// values with a TTL, explicit invalidation on write. Redis failures are
// treated as cache misses so a cache outage degrades to storage reads
// instead of failing lookups.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a Redis serving cache.
func NewRedisCache(addr, password string, db int, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisCache{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		ttl: ttl,
	}
}

func redisKey(view, companyID string) string {
	return redisKeyPrefix + view + ":" + companyID
}

// Get returns the cached record, if present.
func (c *RedisCache) Get(ctx context.Context, view, companyID string) (core.FeatureRecord, bool) {
	data, err := c.client.Get(ctx, redisKey(view, companyID)).Bytes()
	if err != nil {
		return core.FeatureRecord{}, false
	}
	var rec core.FeatureRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return core.FeatureRecord{}, false
	}
	return rec, true
}

// Set stores the record with the configured TTL.
func (c *RedisCache) Set(ctx context.Context, record core.FeatureRecord) {
	data, err := json.Marshal(record)
	if err != nil {
		return
	}
	c.client.Set(ctx, redisKey(record.FeatureView, record.CompanyID), data, c.ttl)
}

// Invalidate drops the entry for a key.
func (c *RedisCache) Invalidate(ctx context.Context, view, companyID string) {
	c.client.Del(ctx, redisKey(view, companyID))
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
