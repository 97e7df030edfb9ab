package cache

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/careaccess/go-core/pkg/types"
)

// Config contains two-tier decision cache configuration
type Config struct {
	// Tier-1 settings
	Capacity    int
	TTL         time.Duration
	TouchOnRead bool

	// Tier-2 settings; nil disables the distributed tier
	Redis *RedisConfig
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Capacity:    10000,
		TTL:         5 * time.Minute,
		TouchOnRead: true,
		Redis:       DefaultRedisConfig(),
	}
}

// Validate checks the configuration for validity
func (c *Config) Validate() error {
	if c.Capacity <= 0 {
		return ErrInvalidConfig("capacity must be greater than 0")
	}
	if c.TTL <= 0 {
		return ErrInvalidConfig("ttl must be greater than 0")
	}
	return nil
}

// DecisionCache is the two-tier decision cache: a bounded in-process LRU in
// front of a shared Redis tier. Reads check tier 1 first, fall through to
// tier 2, and backfill tier 1 on a tier-2 hit. Writes go through both tiers.
// A monotonic epoch versions every entry; bumping it invalidates the world
// without touching tier-2 keys.
type DecisionCache struct {
	local  *LRU
	remote *RedisCache
	epoch  uint64
	logger *zap.Logger
}

// NewDecisionCache creates a two-tier cache. remote may be nil for
// single-process deployments.
func NewDecisionCache(config *Config, remote *RedisCache, logger *zap.Logger) (*DecisionCache, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DecisionCache{
		local:  NewLRU(config.Capacity, config.TTL, config.TouchOnRead),
		remote: remote,
		logger: logger,
	}, nil
}

// DecisionKey builds the canonical cache key for one authorization check
func DecisionKey(subjectID, action, resourceID string) string {
	return fmt.Sprintf("decision:%s:%s:%s", subjectID, action, resourceID)
}

// SubjectPattern matches every cached decision for one subject
func SubjectPattern(subjectID string) string {
	return fmt.Sprintf("decision:%s:*", subjectID)
}

// ResourcePattern matches every cached decision touching one resource
func ResourcePattern(resourceID string) string {
	return fmt.Sprintf("decision:*:*:%s", resourceID)
}

// Epoch returns the current cache epoch
func (c *DecisionCache) Epoch() uint64 {
	return atomic.LoadUint64(&c.epoch)
}

// Get returns a fresh cached decision, or nil. Stale tier-1 entries
// (expired or from an old epoch) are dropped; tier-2 hits backfill tier 1.
func (c *DecisionCache) Get(ctx context.Context, key string) *types.CachedDecision {
	now := time.Now()
	epoch := c.Epoch()

	if entry, ok := c.local.Get(key); ok {
		if entry.Fresh(now, epoch) {
			return entry
		}
		c.local.Delete(key)
	}

	if c.remote == nil {
		return nil
	}

	entry, ok := c.remote.Get(ctx, key)
	if !ok {
		return nil
	}
	if !entry.Fresh(now, epoch) {
		// TTL-expired entries are reclaimed eagerly; epoch-stale ones are
		// left for Redis TTL expiry so an epoch bump stays O(1)
		if entry.Expired(now) {
			c.remote.Delete(ctx, key)
		}
		return nil
	}

	c.local.Set(key, entry)
	return entry
}

// Put stores a decision through both tiers under the current epoch
func (c *DecisionCache) Put(ctx context.Context, key string, decision *types.Decision, ttl time.Duration) {
	entry := &types.CachedDecision{
		Decision: decision,
		StoredAt: time.Now(),
		TTL:      ttl,
		Epoch:    c.Epoch(),
	}

	c.local.Set(key, entry)
	if c.remote != nil {
		c.remote.Set(ctx, key, entry)
	}
}

// Invalidate removes one decision from both tiers
func (c *DecisionCache) Invalidate(ctx context.Context, key string) {
	c.local.Delete(key)
	if c.remote != nil {
		c.remote.Delete(ctx, key)
	}
}

// InvalidatePattern removes every decision matching a glob pattern from
// both tiers. The tier-1 sweep is synchronous; tier-2 deletion runs in
// bounded batches and reports how many keys it removed.
func (c *DecisionCache) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	removed := c.local.DeleteMatching(pattern)

	if c.remote != nil {
		n, err := c.remote.DeletePattern(ctx, pattern)
		if err != nil {
			c.logger.Warn("tier-2 pattern invalidation incomplete",
				zap.String("pattern", pattern),
				zap.Int("removed", n),
				zap.Error(err))
			return removed + n, err
		}
		removed += n
	}

	c.logger.Debug("cache pattern invalidated",
		zap.String("pattern", pattern),
		zap.Int("removed", removed))
	return removed, nil
}

// InvalidateSubject removes every cached decision for one subject
func (c *DecisionCache) InvalidateSubject(ctx context.Context, subjectID string) (int, error) {
	return c.InvalidatePattern(ctx, SubjectPattern(subjectID))
}

// InvalidateResource removes every cached decision touching one resource
func (c *DecisionCache) InvalidateResource(ctx context.Context, resourceID string) (int, error) {
	return c.InvalidatePattern(ctx, ResourcePattern(resourceID))
}

// InvalidateAll bumps the epoch, instantly staling every entry in both
// tiers, and synchronously clears tier 1 so local reads cannot serve the
// old epoch even briefly. Tier-2 keys expire on their own TTLs.
func (c *DecisionCache) InvalidateAll() uint64 {
	epoch := atomic.AddUint64(&c.epoch, 1)
	c.local.Clear()

	c.logger.Info("cache epoch bumped", zap.Uint64("epoch", epoch))
	return epoch
}

// InvalidateMultiple applies several patterns in order, stopping on the
// first tier-2 failure. A "*" pattern escalates to a full epoch bump.
func (c *DecisionCache) InvalidateMultiple(ctx context.Context, patterns []string) (int, error) {
	removed := 0
	for _, pattern := range patterns {
		if isGlobalPattern(pattern) {
			c.InvalidateAll()
			continue
		}
		n, err := c.InvalidatePattern(ctx, pattern)
		removed += n
		if err != nil {
			return removed, err
		}
	}
	return removed, nil
}

func isGlobalPattern(pattern string) bool {
	trimmed := strings.TrimPrefix(pattern, "decision:")
	return trimmed == "*" || trimmed == "*:*:*"
}

// Stats contains the combined view of both tiers
type Stats struct {
	Epoch uint64    `json:"epoch"`
	Local TierStats `json:"local"`
	Redis TierStats `json:"redis,omitempty"`
}

// Stats returns per-tier counters and the current epoch
func (c *DecisionCache) Stats() Stats {
	s := Stats{
		Epoch: c.Epoch(),
		Local: c.local.Stats(),
	}
	if total := s.Local.Hits + s.Local.Misses; total > 0 {
		s.Local.HitRate = float64(s.Local.Hits) / float64(total)
	}
	if c.remote != nil {
		s.Redis = c.remote.Stats()
	}
	return s
}

// Ping verifies tier-2 connectivity; a nil tier 2 is always healthy
func (c *DecisionCache) Ping(ctx context.Context) error {
	if c.remote == nil {
		return nil
	}
	return c.remote.Ping(ctx)
}

// Close releases tier-2 resources
func (c *DecisionCache) Close() error {
	if c.remote == nil {
		return nil
	}
	return c.remote.Close()
}
