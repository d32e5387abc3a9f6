package tilecache

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/udisondev/navtile/internal/geo"
	"github.com/udisondev/navtile/internal/mesh"
)

const shardCount = 64

// Record is the most recent successfully built mesh of a tile.
// Records are immutable; a rebuild replaces the pointer.
type Record struct {
	Index      geo.TileIndex
	Generation uint64 // generation the build was started against
	Version    uint64 // number of accepted commits for this tile
	Tile       *mesh.Tile
	Digest     Digest
	BuiltAt    time.Time
}

type entry struct {
	generation uint64
	version    uint64
	record     *Record
	lastAccess atomic.Int64 // unix nanos of the last Get or commit
}

type shard struct {
	mu      sync.RWMutex
	entries map[geo.TileIndex]*entry
}

// Cache is the authoritative store of built tiles.
//
// Every tile carries a generation counter. Marking a tile dirty bumps it, and
// a build result is only accepted when it was started against a generation
// at least as new as the current one, so out-of-order completions never
// regress a tile. Tiles are spread over shards so that reads of one tile do
// not wait for writes to another.
type Cache struct {
	shards  [shardCount]shard
	records atomic.Int64
	now     func() time.Time
}

// New creates an empty cache.
func New() *Cache {
	c := &Cache{now: time.Now}
	for i := range c.shards {
		c.shards[i].entries = make(map[geo.TileIndex]*entry)
	}
	return c
}

// SetClock replaces the time source (tests).
func (c *Cache) SetClock(now func() time.Time) {
	c.now = now
}

func (c *Cache) shardFor(t geo.TileIndex) *shard {
	h := uint32(t.X)*73856093 ^ uint32(t.Y)*19349663
	return &c.shards[h%shardCount]
}

// entryLocked returns the entry for t, creating it. Caller holds s.mu.
func (s *shard) entryLocked(t geo.TileIndex) *entry {
	e, ok := s.entries[t]
	if !ok {
		e = &entry{}
		s.entries[t] = e
	}
	return e
}

// Get returns the current record of a tile. Absent means "no path data yet";
// callers treat the tile as unknown rather than failing.
func (c *Cache) Get(t geo.TileIndex) (*Record, bool) {
	s := c.shardFor(t)
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[t]
	if !ok || e.record == nil {
		return nil, false
	}
	e.lastAccess.Store(c.now().UnixNano())
	return e.record, true
}

// Generation returns the current generation of a tile.
func (c *Cache) Generation(t geo.TileIndex) uint64 {
	s := c.shardFor(t)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.entries[t]; ok {
		return e.generation
	}
	return 0
}

// Touch bumps the generation of a tile for a new dirty mark, superseding any
// build started earlier. Returns the new generation.
func (c *Cache) Touch(t geo.TileIndex) uint64 {
	s := c.shardFor(t)
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entryLocked(t)
	e.generation++
	return e.generation
}

// Commit stores a build result if generation >= the tile's current
// generation and reports whether it was accepted. Rejected results are stale
// and silently dropped by callers.
func (c *Cache) Commit(t geo.TileIndex, generation uint64, tile *mesh.Tile, digest Digest) bool {
	s := c.shardFor(t)
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entryLocked(t)
	if generation < e.generation {
		return false
	}
	now := c.now()
	e.generation = generation
	e.version++
	if e.record == nil {
		c.records.Add(1)
	}
	e.record = &Record{
		Index:      t,
		Generation: generation,
		Version:    e.version,
		Tile:       tile,
		Digest:     digest,
		BuiltAt:    now,
	}
	e.lastAccess.Store(now.UnixNano())
	return true
}

// Remove drops a tile's record on behalf of a build that found no geometry.
// Same supersession rule as Commit.
func (c *Cache) Remove(t geo.TileIndex, generation uint64) bool {
	s := c.shardFor(t)
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entryLocked(t)
	if generation < e.generation {
		return false
	}
	e.generation = generation
	if e.record != nil {
		e.record = nil
		c.records.Add(-1)
	}
	return true
}

// Invalidate drops a tile's record and bumps its generation, so the tile
// must be rebuilt before it is usable again and in-flight builds are stale.
func (c *Cache) Invalidate(t geo.TileIndex) uint64 {
	s := c.shardFor(t)
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entryLocked(t)
	if e.record != nil {
		e.record = nil
		c.records.Add(-1)
	}
	e.generation++
	return e.generation
}

// Clear invalidates every tile (settings change).
func (c *Cache) Clear() {
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		for _, e := range s.entries {
			if e.record != nil {
				e.record = nil
				c.records.Add(-1)
			}
			e.generation++
		}
		s.mu.Unlock()
	}
}

// Len returns the number of tiles holding a record.
func (c *Cache) Len() int {
	return int(c.records.Load())
}

// Tiles returns the indices of all tiles holding a record, sorted.
func (c *Cache) Tiles() []geo.TileIndex {
	out := make([]geo.TileIndex, 0, c.Len())
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.RLock()
		for t, e := range s.entries {
			if e.record != nil {
				out = append(out, t)
			}
		}
		s.mu.RUnlock()
	}
	geo.SortTiles(out)
	return out
}

type candidate struct {
	tile       geo.TileIndex
	loaded     bool
	lastAccess int64
}

// Evict drops records until at most maxRecords remain, considering only
// records not read for at least idle. Tiles without loaded geometry go
// first, then the least recently read. loaded may be nil. It returns the
// evicted tiles; the caller re-marks those whose geometry is still loaded.
func (c *Cache) Evict(maxRecords int, idle time.Duration, loaded func(geo.TileIndex) bool) []geo.TileIndex {
	if c.Len() <= maxRecords {
		return nil
	}
	cutoff := c.now().Add(-idle).UnixNano()

	var cands []candidate
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.RLock()
		for t, e := range s.entries {
			if e.record == nil {
				continue
			}
			if at := e.lastAccess.Load(); at <= cutoff {
				cands = append(cands, candidate{tile: t, lastAccess: at})
			}
		}
		s.mu.RUnlock()
	}
	if loaded != nil {
		for i := range cands {
			cands[i].loaded = loaded(cands[i].tile)
		}
	}
	slices.SortFunc(cands, func(a, b candidate) int {
		if a.loaded != b.loaded {
			if !a.loaded {
				return -1
			}
			return 1
		}
		if a.lastAccess != b.lastAccess {
			if a.lastAccess < b.lastAccess {
				return -1
			}
			return 1
		}
		return a.tile.Compare(b.tile)
	})

	var evicted []geo.TileIndex
	for _, cand := range cands {
		if c.Len() <= maxRecords {
			break
		}
		s := c.shardFor(cand.tile)
		s.mu.Lock()
		e, ok := s.entries[cand.tile]
		if ok && e.record != nil && e.lastAccess.Load() <= cutoff {
			e.record = nil
			c.records.Add(-1)
			evicted = append(evicted, cand.tile)
		}
		s.mu.Unlock()
	}
	return evicted
}
