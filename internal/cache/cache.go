// Package cache stores serialized analyses keyed by token. Entries carry the
// time they were stored so callers can apply their own freshness window.
package cache

import (
	"context"
	"time"
)

// Entry is a stored value and the moment it was written.
type Entry struct {
	Value    []byte
	StoredAt time.Time
}

// Stats summarises cache activity.
type Stats struct {
	Backend   string `json:"backend"`
	Name      string `json:"name,omitempty"`
	Entries   int    `json:"entries"`
	Capacity  int    `json:"capacity,omitempty"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

// HitRate is hits over lookups, 0 when there were none.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Cache is a TTL key-value store.
type Cache interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Stats(ctx context.Context) Stats
}

// Recorder is notified of hits and misses.
type Recorder interface {
	CacheLookup(backend string, hit bool)
}
