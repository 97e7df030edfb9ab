package ratelimit

import (
	"context"
	"path"
	"sync"
	"time"
)

// Store persists bucket state. Get returns (nil, nil) when the bucket does
// not exist.
type Store interface {
	Get(ctx context.Context, key string) (*Bucket, error)
	Put(ctx context.Context, key string, bucket *Bucket, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeletePattern(ctx context.Context, pattern string) (int, error)
}

// LocalStore is the in-process fallback bucket store. It never fails, so
// limiting keeps working per-process while the shared store is unreachable.
type LocalStore struct {
	mu      sync.Mutex
	buckets map[string]*localEntry
}

type localEntry struct {
	bucket    *Bucket
	expiresAt time.Time
}

// NewLocalStore creates an empty fallback store
func NewLocalStore() *LocalStore {
	return &LocalStore{buckets: make(map[string]*localEntry)}
}

func (s *LocalStore) Get(_ context.Context, key string) (*Bucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.buckets[key]
	if !ok {
		return nil, nil
	}
	if time.Now().After(entry.expiresAt) {
		delete(s.buckets, key)
		return nil, nil
	}
	b := *entry.bucket
	return &b, nil
}

func (s *LocalStore) Put(_ context.Context, key string, bucket *Bucket, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := *bucket
	s.buckets[key] = &localEntry{bucket: &b, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (s *LocalStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.buckets, key)
	return nil
}

func (s *LocalStore) DeletePattern(_ context.Context, pattern string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key := range s.buckets {
		if ok, err := path.Match(pattern, key); err == nil && ok {
			delete(s.buckets, key)
			removed++
		}
	}
	return removed, nil
}
