// Package dedup tracks previously seen message identifiers. Duplicate
// detection is advisory: callers emit a log line and a metric on a repeat but
// never reject the request.
package dedup

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryTracker keeps seen identifiers in process memory. With ttl == 0
// entries are never evicted and the set lives for the process lifetime.
type MemoryTracker struct {
	seen *cache.Cache
}

func NewMemoryTracker(ttl time.Duration) *MemoryTracker {
	expiration := cache.NoExpiration
	cleanup := time.Duration(0)
	if ttl > 0 {
		expiration = ttl
		cleanup = ttl
	}
	return &MemoryTracker{seen: cache.New(expiration, cleanup)}
}

func (t *MemoryTracker) SeenBefore(_ context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	if _, found := t.seen.Get(id); found {
		return true, nil
	}
	t.seen.Set(id, struct{}{}, cache.DefaultExpiration)
	return false, nil
}

func (t *MemoryTracker) Close() error { return nil }
