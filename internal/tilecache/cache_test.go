package tilecache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/navtile/internal/geo"
	"github.com/udisondev/navtile/internal/mesh"
)

var origin = geo.TileIndex{}

func payload(polys int) *mesh.Tile {
	return &mesh.Tile{Polys: polys}
}

func TestCache_GetAbsent(t *testing.T) {
	c := New()
	rec, ok := c.Get(origin)
	assert.False(t, ok)
	assert.Nil(t, rec)
	assert.Zero(t, c.Generation(origin))
}

func TestCache_OlderGenerationRejected(t *testing.T) {
	c := New()
	require.True(t, c.Commit(origin, 6, payload(6), Digest{}))

	assert.False(t, c.Commit(origin, 5, payload(5), Digest{}))

	rec, ok := c.Get(origin)
	require.True(t, ok)
	assert.Equal(t, uint64(6), rec.Generation)
	assert.Equal(t, 6, rec.Tile.Polys)
	assert.Equal(t, uint64(1), rec.Version)
}

func TestCache_EqualGenerationReplaces(t *testing.T) {
	c := New()
	require.True(t, c.Commit(origin, 1, payload(1), Digest{}))
	require.True(t, c.Commit(origin, 1, payload(2), Digest{}))

	rec, _ := c.Get(origin)
	assert.Equal(t, 2, rec.Tile.Polys)
	assert.Equal(t, uint64(2), rec.Version)
	assert.Equal(t, 1, c.Len())
}

func TestCache_TouchSupersedesInFlight(t *testing.T) {
	c := New()
	started := c.Generation(origin)
	c.Touch(origin)

	assert.False(t, c.Commit(origin, started, payload(1), Digest{}))
	assert.True(t, c.Commit(origin, c.Generation(origin), payload(2), Digest{}))
}

func TestCache_Invalidate(t *testing.T) {
	c := New()
	require.True(t, c.Commit(origin, 3, payload(1), Digest{}))

	gen := c.Invalidate(origin)
	assert.Equal(t, uint64(4), gen)
	_, ok := c.Get(origin)
	assert.False(t, ok)
	assert.Zero(t, c.Len())
	assert.False(t, c.Commit(origin, 3, payload(1), Digest{}))
}

func TestCache_Clear(t *testing.T) {
	c := New()
	for i := range int32(5) {
		c.Commit(geo.TileIndex{X: i}, 0, payload(1), Digest{})
	}
	require.Equal(t, 5, c.Len())

	c.Clear()
	assert.Zero(t, c.Len())
	assert.Equal(t, uint64(1), c.Generation(geo.TileIndex{X: 2}))
	assert.Empty(t, c.Tiles())
}

func TestCache_EvictLeastRecentlyRead(t *testing.T) {
	c := New()
	now := time.Unix(1000, 0)
	c.SetClock(func() time.Time { return now })

	tiles := []geo.TileIndex{{X: 0}, {X: 1}, {X: 2}, {X: 3}}
	for _, tile := range tiles {
		c.Commit(tile, 0, payload(1), Digest{})
		now = now.Add(time.Second)
	}
	// Reading tile 0 makes it the most recent.
	_, _ = c.Get(tiles[0])
	now = now.Add(10 * time.Second)

	evicted := c.Evict(2, 5*time.Second, nil)
	assert.Equal(t, []geo.TileIndex{{X: 1}, {X: 2}}, evicted)
	assert.Equal(t, []geo.TileIndex{{X: 0}, {X: 3}}, c.Tiles())
}

func TestCache_EvictSkipsRecentlyRead(t *testing.T) {
	c := New()
	now := time.Unix(1000, 0)
	c.SetClock(func() time.Time { return now })

	c.Commit(geo.TileIndex{X: 0}, 0, payload(1), Digest{})
	c.Commit(geo.TileIndex{X: 1}, 0, payload(1), Digest{})

	assert.Empty(t, c.Evict(0, time.Minute, nil))
	assert.Equal(t, 2, c.Len())
	assert.Nil(t, c.Evict(5, 0, nil))
}

func TestCache_ConcurrentCommitsNeverRegress(t *testing.T) {
	c := New()
	const gens = 200

	var wg sync.WaitGroup
	for g := range gens {
		wg.Add(1)
		go func(gen uint64) {
			defer wg.Done()
			c.Commit(origin, gen, payload(int(gen)), Digest{})
			_, _ = c.Get(origin)
		}(uint64(g))
	}
	wg.Wait()

	// Whatever order they ran in, the newest generation must win if it was
	// committed last; no older generation may be stored after a newer one.
	rec, ok := c.Get(origin)
	require.True(t, ok)
	assert.Equal(t, uint64(gens-1), rec.Generation)
	assert.Equal(t, gens-1, rec.Tile.Polys)
}

func TestCache_Remove(t *testing.T) {
	c := New()
	require.True(t, c.Commit(origin, 2, payload(1), Digest{}))

	assert.False(t, c.Remove(origin, 1))
	_, ok := c.Get(origin)
	assert.True(t, ok)

	assert.True(t, c.Remove(origin, 2))
	_, ok = c.Get(origin)
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestCache_EvictPrefersTilesWithoutGeometry(t *testing.T) {
	c := New()
	now := time.Unix(1000, 0)
	c.SetClock(func() time.Time { return now })

	tiles := []geo.TileIndex{{X: 0}, {X: 1}, {X: 2}}
	for _, tile := range tiles {
		c.Commit(tile, 0, payload(1), Digest{})
		now = now.Add(time.Second)
	}
	now = now.Add(time.Minute)

	loaded := func(t geo.TileIndex) bool { return t.X != 2 }
	evicted := c.Evict(1, time.Second, loaded)
	assert.Equal(t, []geo.TileIndex{{X: 2}, {X: 0}}, evicted)
	assert.Equal(t, []geo.TileIndex{{X: 1}}, c.Tiles())
}
