package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"net"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/careaccess/go-core/pkg/types"
)

const (
	// invalidationBatchSize bounds how many keys one SCAN/DEL round touches
	invalidationBatchSize = 100
	// invalidationPause is the sleep between invalidation batches
	invalidationPause = 10 * time.Millisecond
)

// RedisCache is the distributed decision store (tier 2). Entries are JSON
// with a CRC-32 checksum over the decision payload; corrupted entries are
// evicted on read. Every store fault degrades to a counted miss so the
// engine recomputes instead of failing.
type RedisCache struct {
	client redis.UniversalClient
	config *RedisConfig

	hits   uint64
	misses uint64
	errors uint64
}

// NewRedisCache creates a tier-2 cache, connecting per config
func NewRedisCache(config *RedisConfig) (*RedisCache, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:            net.JoinHostPort(config.Host, fmt.Sprintf("%d", config.Port)),
		Password:        config.Password,
		DB:              config.DB,
		PoolSize:        config.PoolSize,
		PoolTimeout:     config.PoolTimeout,
		ConnMaxIdleTime: config.IdleTimeout,
		ReadTimeout:     config.ReadTimeout,
		WriteTimeout:    config.WriteTimeout,
		DialTimeout:     config.DialTimeout,
		TLSConfig:       config.TLS,
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{client: client, config: config}, nil
}

// NewRedisCacheWithClient wraps an existing client (tests, shared pools)
func NewRedisCacheWithClient(client redis.UniversalClient, config *RedisConfig) *RedisCache {
	if config == nil {
		config = DefaultRedisConfig()
	}
	return &RedisCache{client: client, config: config}
}

// Get retrieves an entry. Store faults, malformed JSON, and checksum
// mismatches all count as misses; corrupted entries are evicted.
func (c *RedisCache) Get(ctx context.Context, key string) (*types.CachedDecision, bool) {
	prefixedKey := c.config.KeyPrefix + key

	data, err := c.client.Get(ctx, prefixedKey).Bytes()
	if err != nil {
		if err != redis.Nil {
			atomic.AddUint64(&c.errors, 1)
		}
		atomic.AddUint64(&c.misses, 1)
		return nil, false
	}

	var entry types.CachedDecision
	if err := json.Unmarshal(data, &entry); err != nil {
		atomic.AddUint64(&c.errors, 1)
		atomic.AddUint64(&c.misses, 1)
		c.client.Del(ctx, prefixedKey)
		return nil, false
	}

	if sum, err := decisionChecksum(entry.Decision); err != nil || sum != entry.Checksum {
		atomic.AddUint64(&c.errors, 1)
		atomic.AddUint64(&c.misses, 1)
		c.client.Del(ctx, prefixedKey)
		return nil, false
	}

	atomic.AddUint64(&c.hits, 1)
	return &entry, true
}

// Set stores an entry under its own TTL, stamping the checksum
func (c *RedisCache) Set(ctx context.Context, key string, entry *types.CachedDecision) {
	sum, err := decisionChecksum(entry.Decision)
	if err != nil {
		atomic.AddUint64(&c.errors, 1)
		return
	}
	entry.Checksum = sum

	data, err := json.Marshal(entry)
	if err != nil {
		atomic.AddUint64(&c.errors, 1)
		return
	}

	prefixedKey := c.config.KeyPrefix + key
	if err := c.client.Set(ctx, prefixedKey, data, entry.TTL).Err(); err != nil {
		atomic.AddUint64(&c.errors, 1)
	}
}

// Delete removes a key
func (c *RedisCache) Delete(ctx context.Context, key string) {
	if err := c.client.Del(ctx, c.config.KeyPrefix+key).Err(); err != nil {
		atomic.AddUint64(&c.errors, 1)
	}
}

// DeletePattern removes every key matching the glob pattern, in bounded
// batches with a short pause between them so bulk invalidation cannot
// monopolize the store. Returns how many keys were removed.
func (c *RedisCache) DeletePattern(ctx context.Context, pattern string) (int, error) {
	fullPattern := c.config.KeyPrefix + pattern
	iter := c.client.Scan(ctx, 0, fullPattern, invalidationBatchSize).Iterator()

	removed := 0
	batch := make([]string, 0, invalidationBatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := c.client.Del(ctx, batch...).Result()
		if err != nil {
			atomic.AddUint64(&c.errors, 1)
			return err
		}
		removed += int(n)
		batch = batch[:0]

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(invalidationPause):
			return nil
		}
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= invalidationBatchSize {
			if err := flush(); err != nil {
				return removed, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		atomic.AddUint64(&c.errors, 1)
		return removed, err
	}
	if err := flush(); err != nil {
		return removed, err
	}
	return removed, nil
}

// Clear removes all entries under the key prefix
func (c *RedisCache) Clear(ctx context.Context) error {
	_, err := c.DeletePattern(ctx, "*")
	return err
}

// Stats returns tier-2 counters
func (c *RedisCache) Stats() TierStats {
	hits := atomic.LoadUint64(&c.hits)
	misses := atomic.LoadUint64(&c.misses)

	size := 0
	if dbSize, err := c.client.DBSize(context.Background()).Result(); err == nil {
		size = int(dbSize)
	}

	hitRate := float64(0)
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return TierStats{
		Size:    size,
		Hits:    hits,
		Misses:  misses,
		Errors:  atomic.LoadUint64(&c.errors),
		HitRate: hitRate,
	}
}

// Ping verifies store connectivity
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// decisionChecksum computes the CRC-32 integrity sum over the decision
// payload alone, so cache metadata can change without invalidating it.
func decisionChecksum(d *types.Decision) (uint32, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return 0, err
	}
	return crc32.ChecksumIEEE(data), nil
}
