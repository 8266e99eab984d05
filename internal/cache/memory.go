package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// MemoryOptions size the in-process cache.
type MemoryOptions struct {
	// Name labels lookups and stats; defaults to "memory".
	Name          string
	MaxEntries    int
	SweepInterval time.Duration
	Recorder      Recorder
	// Now overrides the clock in tests.
	Now func() time.Time
}

type memoryItem struct {
	key       string
	entry     Entry
	expiresAt time.Time
}

// Memory is a bounded LRU with per-entry expiry.
type Memory struct {
	name      string
	mu        sync.Mutex
	items     map[string]*list.Element
	order     *list.List
	max       int
	sweep     time.Duration
	now       func() time.Time
	recorder  Recorder
	logger    zerolog.Logger
	hits      uint64
	misses    uint64
	evictions uint64
}

// NewMemory builds an in-process cache.
func NewMemory(opts MemoryOptions, logger zerolog.Logger) *Memory {
	max := opts.MaxEntries
	if max <= 0 {
		max = 1000
	}
	sweep := opts.SweepInterval
	if sweep <= 0 {
		sweep = time.Minute
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	name := opts.Name
	if name == "" {
		name = "memory"
	}
	return &Memory{
		name:     name,
		items:    make(map[string]*list.Element),
		order:    list.New(),
		max:      max,
		sweep:    sweep,
		now:      now,
		recorder: opts.Recorder,
		logger:   logger.With().Str("component", "memory_cache").Str("cache", name).Logger(),
	}
}

// Get returns a live entry and marks it recently used.
func (m *Memory) Get(_ context.Context, key string) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.items[key]
	if ok {
		item := el.Value.(*memoryItem)
		if !item.expiresAt.IsZero() && !m.now().Before(item.expiresAt) {
			m.removeElement(el)
			ok = false
		} else {
			m.order.MoveToFront(el)
			m.hits++
			m.record(true)
			return item.entry, true, nil
		}
	}
	m.misses++
	m.record(false)
	return Entry{}, false, nil
}

// Set stores value; ttl <= 0 keeps it until evicted.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	item := &memoryItem{key: key, entry: Entry{Value: append([]byte(nil), value...), StoredAt: now}}
	if ttl > 0 {
		item.expiresAt = now.Add(ttl)
	}

	if el, ok := m.items[key]; ok {
		el.Value = item
		m.order.MoveToFront(el)
		return nil
	}

	m.items[key] = m.order.PushFront(item)
	for m.order.Len() > m.max {
		m.removeElement(m.order.Back())
		m.evictions++
	}
	return nil
}

// Delete drops key.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.items[key]; ok {
		m.removeElement(el)
	}
	return nil
}

// Clear drops every entry.
func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[string]*list.Element)
	m.order.Init()
	return nil
}

// Stats reports counters and occupancy.
func (m *Memory) Stats(_ context.Context) Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Backend:   "memory",
		Name:      m.name,
		Entries:   m.order.Len(),
		Capacity:  m.max,
		Hits:      m.hits,
		Misses:    m.misses,
		Evictions: m.evictions,
	}
}

// Sweep removes expired entries and returns how many were dropped.
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for el := m.order.Back(); el != nil; {
		prev := el.Prev()
		item := el.Value.(*memoryItem)
		if !item.expiresAt.IsZero() && !now.Before(item.expiresAt) {
			m.removeElement(el)
			removed++
		}
		el = prev
	}
	return removed
}

// Run sweeps periodically until ctx is cancelled.
func (m *Memory) Run(ctx context.Context) {
	ticker := time.NewTicker(m.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.logger.Debug().Int("removed", n).Msg("expired entries swept")
			}
		}
	}
}

func (m *Memory) removeElement(el *list.Element) {
	item := el.Value.(*memoryItem)
	delete(m.items, item.key)
	m.order.Remove(el)
}

func (m *Memory) record(hit bool) {
	if m.recorder != nil {
		m.recorder.CacheLookup(m.name, hit)
	}
}

var _ Cache = (*Memory)(nil)
