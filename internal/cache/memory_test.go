package cache

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestMemory(max int) (*Memory, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	return NewMemory(MemoryOptions{MaxEntries: max, Now: clock.now}, zerolog.Nop()), clock
}

func TestMemoryGetSet(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestMemory(10)

	_, ok, err := m.Get(ctx, "bitcoin")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Set(ctx, "bitcoin", []byte(`{"score":22}`), time.Minute))
	entry, ok, err := m.Get(ctx, "bitcoin")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"score":22}`, string(entry.Value))
	assert.Equal(t, clock.t, entry.StoredAt)

	stats := m.Stats(ctx)
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate(), 1e-9)
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestMemory(10)

	require.NoError(t, m.Set(ctx, "a", []byte(`1`), time.Minute))
	require.NoError(t, m.Set(ctx, "b", []byte(`2`), time.Hour))

	clock.advance(time.Minute)
	_, ok, _ := m.Get(ctx, "a")
	assert.False(t, ok, "entry at its deadline is expired")

	clock.advance(2 * time.Hour)
	assert.Equal(t, 1, m.Sweep())
	assert.Equal(t, 0, m.Stats(ctx).Entries)
}

func TestMemoryEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMemory(2)

	require.NoError(t, m.Set(ctx, "a", []byte(`1`), 0))
	require.NoError(t, m.Set(ctx, "b", []byte(`2`), 0))
	_, _, _ = m.Get(ctx, "a")
	require.NoError(t, m.Set(ctx, "c", []byte(`3`), 0))

	_, okA, _ := m.Get(ctx, "a")
	_, okB, _ := m.Get(ctx, "b")
	_, okC, _ := m.Get(ctx, "c")
	assert.True(t, okA)
	assert.False(t, okB)
	assert.True(t, okC)

	stats := m.Stats(ctx)
	assert.Equal(t, 2, stats.Entries)
	assert.Equal(t, uint64(1), stats.Evictions)
}

func TestMemoryDeleteAndClear(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMemory(10)

	require.NoError(t, m.Set(ctx, "a", []byte(`1`), 0))
	require.NoError(t, m.Set(ctx, "b", []byte(`2`), 0))
	require.NoError(t, m.Delete(ctx, "a"))
	assert.Equal(t, 1, m.Stats(ctx).Entries)

	require.NoError(t, m.Clear(ctx))
	assert.Equal(t, 0, m.Stats(ctx).Entries)
}

func TestMemorySetCopiesValue(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMemory(10)

	buf := []byte(`"x"`)
	require.NoError(t, m.Set(ctx, "k", buf, 0))
	buf[1] = 'y'

	entry, _, _ := m.Get(ctx, "k")
	assert.Equal(t, `"x"`, string(entry.Value))
}

type lookupRecorder struct {
	lookups map[string]int
}

func (r *lookupRecorder) CacheLookup(backend string, hit bool) {
	if r.lookups == nil {
		r.lookups = map[string]int{}
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	r.lookups[backend+"/"+result]++
}

func TestMemoryNameLabelsLookups(t *testing.T) {
	ctx := context.Background()
	rec := &lookupRecorder{}
	analysis := NewMemory(MemoryOptions{Name: "analysis", Recorder: rec}, zerolog.Nop())
	market := NewMemory(MemoryOptions{Name: "market", Recorder: rec}, zerolog.Nop())
	unnamed := NewMemory(MemoryOptions{Recorder: rec}, zerolog.Nop())

	require.NoError(t, market.Set(ctx, "global", []byte(`{}`), time.Minute))
	_, _, _ = analysis.Get(ctx, "dai")
	_, _, _ = market.Get(ctx, "global")
	_, _, _ = unnamed.Get(ctx, "dai")

	assert.Equal(t, map[string]int{"analysis/miss": 1, "market/hit": 1, "memory/miss": 1}, rec.lookups)
	assert.Equal(t, "market", market.Stats(ctx).Name)
	assert.Equal(t, "memory", market.Stats(ctx).Backend)
}

func TestMemoryRunStopsOnCancel(t *testing.T) {
	m := NewMemory(MemoryOptions{SweepInterval: time.Millisecond}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run should return after cancel")
	}
}
