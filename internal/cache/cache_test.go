package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careaccess/go-core/pkg/types"
)

func allowDecision() *types.Decision {
	return &types.Decision{
		Allowed: true,
		Reason:  types.ReasonDirectRoleAllow,
		Source:  types.SourceDirectRole,
	}
}

func cachedAllow(ttl time.Duration, epoch uint64) *types.CachedDecision {
	return &types.CachedDecision{
		Decision: allowDecision(),
		StoredAt: time.Now(),
		TTL:      ttl,
		Epoch:    epoch,
	}
}

func TestLRU_CapacityEviction(t *testing.T) {
	lru := NewLRU(2, time.Minute, true)

	lru.Set("a", cachedAllow(time.Minute, 0))
	lru.Set("b", cachedAllow(time.Minute, 0))
	lru.Set("c", cachedAllow(time.Minute, 0))

	_, ok := lru.Get("a")
	assert.False(t, ok, "oldest entry should have been evicted")
	_, ok = lru.Get("b")
	assert.True(t, ok)
	_, ok = lru.Get("c")
	assert.True(t, ok)
	assert.Equal(t, uint64(1), lru.Stats().Evictions)
}

func TestLRU_TouchOnReadProtectsEntry(t *testing.T) {
	lru := NewLRU(2, time.Minute, true)

	lru.Set("a", cachedAllow(time.Minute, 0))
	lru.Set("b", cachedAllow(time.Minute, 0))

	// Reading "a" makes "b" the eviction candidate
	_, ok := lru.Get("a")
	require.True(t, ok)
	lru.Set("c", cachedAllow(time.Minute, 0))

	_, ok = lru.Get("a")
	assert.True(t, ok)
	_, ok = lru.Get("b")
	assert.False(t, ok)
}

func TestLRU_NoTouchOnReadEvictsByInsertion(t *testing.T) {
	lru := NewLRU(2, time.Minute, false)

	lru.Set("a", cachedAllow(time.Minute, 0))
	lru.Set("b", cachedAllow(time.Minute, 0))

	// Without touch-on-read this read does not protect "a"
	_, ok := lru.Get("a")
	require.True(t, ok)
	lru.Set("c", cachedAllow(time.Minute, 0))

	_, ok = lru.Get("a")
	assert.False(t, ok)
}

func TestLRU_ExpiredEntryIsMiss(t *testing.T) {
	lru := NewLRU(10, 10*time.Millisecond, true)

	lru.Set("a", cachedAllow(time.Minute, 0))
	time.Sleep(20 * time.Millisecond)

	_, ok := lru.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, lru.Len(), "expired entry should be removed on read")
}

func TestLRU_DeleteMatching(t *testing.T) {
	lru := NewLRU(10, time.Minute, true)

	lru.Set(DecisionKey("alice", "document.read", "doc-1"), cachedAllow(time.Minute, 0))
	lru.Set(DecisionKey("alice", "document.write", "doc-2"), cachedAllow(time.Minute, 0))
	lru.Set(DecisionKey("bob", "document.read", "doc-1"), cachedAllow(time.Minute, 0))

	removed := lru.DeleteMatching(SubjectPattern("alice"))
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, lru.Len())

	_, ok := lru.Get(DecisionKey("bob", "document.read", "doc-1"))
	assert.True(t, ok)
}

func newTestCache(t *testing.T) (*DecisionCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), DisableIndentity: true})
	t.Cleanup(func() { client.Close() })

	remote := NewRedisCacheWithClient(client, &RedisConfig{
		Host:      mr.Host(),
		Port:      6379,
		PoolSize:  10,
		KeyPrefix: "test:",
	})

	dc, err := NewDecisionCache(&Config{
		Capacity:    100,
		TTL:         time.Minute,
		TouchOnRead: true,
	}, remote, nil)
	require.NoError(t, err)

	return dc, mr
}

func TestDecisionCache_PutGet(t *testing.T) {
	dc, _ := newTestCache(t)
	ctx := context.Background()

	key := DecisionKey("alice", "document.read", "doc-1")
	dc.Put(ctx, key, allowDecision(), time.Minute)

	entry := dc.Get(ctx, key)
	require.NotNil(t, entry)
	assert.True(t, entry.Decision.Allowed)
	assert.Equal(t, types.ReasonDirectRoleAllow, entry.Decision.Reason)
}

func TestDecisionCache_Tier2BackfillsTier1(t *testing.T) {
	dc, _ := newTestCache(t)
	ctx := context.Background()

	key := DecisionKey("alice", "document.read", "doc-1")
	dc.Put(ctx, key, allowDecision(), time.Minute)

	// Drop tier 1 only; the read must fall through and backfill
	dc.local.Clear()
	entry := dc.Get(ctx, key)
	require.NotNil(t, entry)

	_, ok := dc.local.Get(key)
	assert.True(t, ok, "tier-2 hit should backfill tier 1")
}

func TestDecisionCache_CorruptedTier2EntryEvicted(t *testing.T) {
	dc, mr := newTestCache(t)
	ctx := context.Background()

	key := DecisionKey("alice", "document.read", "doc-1")
	dc.Put(ctx, key, allowDecision(), time.Minute)
	dc.local.Clear()

	// Flip the payload under the stored checksum
	require.NoError(t, mr.Set("test:"+key,
		`{"decision":{"allowed":false,"reason":"NO_PERMISSION","source":"NONE"},"storedAt":"2026-01-01T00:00:00Z","ttl":60000000000,"epoch":0,"checksum":1}`))

	entry := dc.Get(ctx, key)
	assert.Nil(t, entry, "checksum mismatch must read as a miss")
	assert.False(t, mr.Exists("test:"+key), "corrupted entry must be evicted")
}

func TestDecisionCache_EpochBumpInvalidatesBothTiers(t *testing.T) {
	dc, mr := newTestCache(t)
	ctx := context.Background()

	key := DecisionKey("alice", "document.read", "doc-1")
	dc.Put(ctx, key, allowDecision(), time.Minute)

	epoch := dc.InvalidateAll()
	assert.Equal(t, uint64(1), epoch)

	assert.Nil(t, dc.Get(ctx, key), "old-epoch entry must not be served")
	// The tier-2 key may linger until TTL but can never be served
	assert.True(t, mr.Exists("test:"+key))

	dc.Put(ctx, key, allowDecision(), time.Minute)
	assert.NotNil(t, dc.Get(ctx, key), "new-epoch writes are served again")
}

func TestDecisionCache_InvalidateSubject(t *testing.T) {
	dc, _ := newTestCache(t)
	ctx := context.Background()

	dc.Put(ctx, DecisionKey("alice", "document.read", "doc-1"), allowDecision(), time.Minute)
	dc.Put(ctx, DecisionKey("alice", "schedule.read", "sch-1"), allowDecision(), time.Minute)
	dc.Put(ctx, DecisionKey("bob", "document.read", "doc-1"), allowDecision(), time.Minute)

	removed, err := dc.InvalidateSubject(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 4, removed, "two keys across two tiers")

	assert.Nil(t, dc.Get(ctx, DecisionKey("alice", "document.read", "doc-1")))
	assert.NotNil(t, dc.Get(ctx, DecisionKey("bob", "document.read", "doc-1")))
}

func TestDecisionCache_InvalidateMultipleGlobalEscalates(t *testing.T) {
	dc, _ := newTestCache(t)
	ctx := context.Background()

	dc.Put(ctx, DecisionKey("alice", "document.read", "doc-1"), allowDecision(), time.Minute)

	_, err := dc.InvalidateMultiple(ctx, []string{"decision:*"})
	require.NoError(t, err)

	assert.Equal(t, uint64(1), dc.Epoch())
	assert.Nil(t, dc.Get(ctx, DecisionKey("alice", "document.read", "doc-1")))
}

func TestDecisionCache_Tier2FaultDegradesToMiss(t *testing.T) {
	dc, mr := newTestCache(t)
	ctx := context.Background()

	key := DecisionKey("alice", "document.read", "doc-1")
	dc.Put(ctx, key, allowDecision(), time.Minute)
	dc.local.Clear()

	mr.Close()

	assert.Nil(t, dc.Get(ctx, key), "store fault must read as a miss")
	assert.NotPanics(t, func() {
		dc.Put(ctx, key, allowDecision(), time.Minute)
	})
	assert.Greater(t, dc.Stats().Redis.Errors, uint64(0))
}

func TestDecisionCache_ConcurrentPutsAndInvalidations(t *testing.T) {
	dc, _ := newTestCache(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				key := DecisionKey(fmt.Sprintf("subject-%d", n), "document.read", fmt.Sprintf("doc-%d", j))
				dc.Put(ctx, key, allowDecision(), time.Minute)
				dc.Get(ctx, key)
				if j%10 == 0 {
					dc.InvalidateAll()
				}
			}
		}(i)
	}
	wg.Wait()

	// Every surviving readable entry must carry the final epoch
	epoch := dc.Epoch()
	key := DecisionKey("subject-0", "document.read", "doc-0")
	dc.Put(ctx, key, allowDecision(), time.Minute)
	entry := dc.Get(ctx, key)
	if entry != nil {
		assert.Equal(t, epoch, entry.Epoch)
	}
}

func TestDecisionCache_ConcurrentSubjectInvalidations(t *testing.T) {
	dc, mr := newTestCache(t)
	ctx := context.Background()

	keys := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		key := DecisionKey("alice", "document.read", fmt.Sprintf("doc-%d", i))
		keys = append(keys, key)
		dc.Put(ctx, key, allowDecision(), time.Minute)
	}
	dc.Put(ctx, DecisionKey("bob", "document.read", "doc-1"), allowDecision(), time.Minute)

	// Two racing wide invalidations for the same subject must converge on
	// the same end state: no alice entry left in either tier
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := dc.InvalidateSubject(ctx, "alice")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	for _, key := range keys {
		_, ok := dc.local.Get(key)
		assert.False(t, ok, "tier-1 entry survived: %s", key)
		assert.False(t, mr.Exists("test:"+key), "tier-2 entry survived: %s", key)
	}
	assert.NotNil(t, dc.Get(ctx, DecisionKey("bob", "document.read", "doc-1")),
		"other subjects must be untouched")
}

func TestDecisionKeyFormat(t *testing.T) {
	assert.Equal(t, "decision:alice:document.read:doc-1",
		DecisionKey("alice", "document.read", "doc-1"))
	assert.Equal(t, "decision:alice:*", SubjectPattern("alice"))
}
