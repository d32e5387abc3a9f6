package navigator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/sync/errgroup"

	"github.com/udisondev/navtile/internal/build"
	"github.com/udisondev/navtile/internal/geo"
	"github.com/udisondev/navtile/internal/mesh"
	"github.com/udisondev/navtile/internal/tilecache"
	"github.com/udisondev/navtile/internal/world"
)

// MaxQueryTiles bounds the number of tiles one QueryRange may touch.
const MaxQueryTiles = 1 << 16

var (
	// ErrRangeTooLarge is returned by QueryRange for ranges above MaxQueryTiles.
	ErrRangeTooLarge = errors.New("tile range too large")
	// ErrInvalidRange is returned by QueryRange when Min > Max on an axis.
	ErrInvalidRange = errors.New("invalid tile range")
)

// Options tunes the runtime side of a Navigator. Settings are passed
// separately since they pin every coordinate transform.
type Options struct {
	Workers int
	Queue   build.QueueConfig

	// Eviction: above MaxRecords, records idle for IdleEviction are dropped.
	// MaxRecords <= 0 disables eviction.
	MaxRecords    int
	IdleEviction  time.Duration
	EvictInterval time.Duration

	// MeshCacheBytes bounds the digest-keyed mesh cache; 0 disables it.
	MeshCacheBytes int64

	// Generator builds tile meshes. Nil means a Rasterizer with MaxPolys.
	Generator mesh.Generator
	MaxPolys  int

	// MaxFootprintTiles caps the tiles one object or cell may cover.
	// 0 means world.DefaultMaxFootprintTiles, negative means no limit.
	MaxFootprintTiles int
}

// DefaultOptions returns the options used by the service.
func DefaultOptions() Options {
	return Options{
		Workers:        runtime.NumCPU(),
		Queue:          build.DefaultQueueConfig(),
		MaxRecords:     16384,
		IdleEviction:   5 * time.Minute,
		EvictInterval:  30 * time.Second,
		MeshCacheBytes: 64 << 20,
		MaxPolys:       4096,

		MaxFootprintTiles: world.DefaultMaxFootprintTiles,
	}
}

// Navigator ties geometry tracking, the build queue and the tile cache
// together. Geometry events and cache reads never wait for a build; only
// Flush and UnloadCell block, bounded by their context.
type Navigator struct {
	tracker *world.Tracker
	cache   *tilecache.Cache
	meshes  *tilecache.MeshCache
	queue   *build.Queue
	pool    *build.Pool
	opts    Options
}

// New validates settings and creates a navigator. Invalid settings are
// fatal and reported before anything starts.
func New(settings geo.Settings, opts Options) (*Navigator, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	var meshes *tilecache.MeshCache
	if opts.MeshCacheBytes > 0 {
		var err error
		meshes, err = tilecache.NewMeshCache(opts.MeshCacheBytes)
		if err != nil {
			return nil, fmt.Errorf("creating mesh cache: %w", err)
		}
	}

	gen := opts.Generator
	if gen == nil {
		gen = mesh.NewRasterizer(opts.MaxPolys)
	}

	tracker := world.NewTracker(settings)
	if opts.MaxFootprintTiles != 0 {
		tracker.SetMaxFootprint(opts.MaxFootprintTiles)
	}

	n := &Navigator{
		tracker: tracker,
		cache:   tilecache.New(),
		meshes:  meshes,
		queue:   build.NewQueue(opts.Queue),
		opts:    opts,
	}
	n.pool = build.NewPool(n.queue, n.cache, meshes, n.tracker, gen)
	if opts.Workers > 0 {
		n.pool.SetNumWorkers(opts.Workers)
	}
	return n, nil
}

// Close releases the mesh cache. The navigator must not be used afterwards.
func (n *Navigator) Close() {
	if n.meshes != nil {
		n.meshes.Close()
	}
}

// Settings returns the active settings.
func (n *Navigator) Settings() geo.Settings {
	return n.tracker.Settings()
}

// Run builds tiles and evicts idle records until ctx is done.
func (n *Navigator) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := n.pool.Run(gctx); err != nil {
			return fmt.Errorf("build pool: %w", err)
		}
		return nil
	})
	if n.opts.MaxRecords > 0 && n.opts.EvictInterval > 0 {
		g.Go(func() error {
			return n.evictLoop(gctx)
		})
	}
	return g.Wait()
}

func (n *Navigator) evictLoop(ctx context.Context) error {
	ticker := time.NewTicker(n.opts.EvictInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n.Evict()
		}
	}
}

// Evict runs one eviction pass and returns the evicted tiles. Tiles whose
// geometry is still loaded are marked dirty again.
func (n *Navigator) Evict() []geo.TileIndex {
	evicted := n.cache.Evict(n.opts.MaxRecords, n.opts.IdleEviction, n.tracker.HasGeometry)
	if len(evicted) == 0 {
		return nil
	}
	var remark []geo.TileIndex
	for _, t := range evicted {
		if n.tracker.HasGeometry(t) {
			remark = append(remark, t)
		}
	}
	n.tracker.MarkDirty(remark...)
	n.dispatch(nil)
	slog.Debug("tile records evicted", "evicted", len(evicted), "remarked", len(remark))
	return evicted
}

// dispatch hands the tracker's dirty set to the build queue. Every tile's
// generation is bumped before it is marked, so a build already running for
// it is superseded.
func (n *Navigator) dispatch(skip world.TileSet) int {
	dirty := n.tracker.Drain()
	if len(dirty) == 0 {
		return 0
	}
	tiles := make([]geo.TileIndex, 0, len(dirty))
	for _, t := range dirty.Sorted() {
		if skip.Has(t) {
			continue
		}
		n.cache.Touch(t)
		tiles = append(tiles, t)
	}
	return n.queue.Mark(tiles...)
}

// ShapeChanged marks the footprint of a shape moving from oldTr to newTr
// (either may be nil) and returns the tiles marked.
//
// It only schedules rebuilds. The shape is not registered, so builders keep
// seeing whatever the registry holds; callers that want the shape baked into
// tiles use AddObject, UpdateObject and RemoveObject instead.
func (n *Navigator) ShapeChanged(shape geo.HasBoundingBox, oldTr, newTr *geo.Transform) (world.TileSet, error) {
	affected, err := n.tracker.ShapeChanged(shape, oldTr, newTr)
	n.dispatch(nil)
	return affected, err
}

// AddObject registers a collision object.
func (n *Navigator) AddObject(id world.ObjectID, shape geo.Shape, tr geo.Transform) error {
	_, err := n.tracker.AddObject(id, shape, tr)
	n.dispatch(nil)
	return err
}

// UpdateObject moves a registered object.
func (n *Navigator) UpdateObject(id world.ObjectID, tr geo.Transform) error {
	_, err := n.tracker.UpdateObject(id, tr)
	n.dispatch(nil)
	return err
}

// RemoveObject unregisters an object.
func (n *Navigator) RemoveObject(id world.ObjectID) error {
	_, err := n.tracker.RemoveObject(id)
	n.dispatch(nil)
	return err
}

// AddCell loads a terrain cell.
func (n *Navigator) AddCell(key world.CellKey, name string, size int, shift mgl32.Vec3) error {
	_, err := n.tracker.AddCell(key, name, size, shift)
	n.dispatch(nil)
	return err
}

// RemoveCell unloads a terrain cell without waiting for the affected tiles.
func (n *Navigator) RemoveCell(key world.CellKey) error {
	_, _, err := n.tracker.RemoveCell(key)
	n.dispatch(nil)
	return err
}

// UnloadCell unloads a terrain cell and blocks until every tile it covered
// is either rebuilt or dropped. Tiles left without geometry are cancelled
// and invalidated right away; tiles still covered by other geometry are
// rebuilt.
func (n *Navigator) UnloadCell(ctx context.Context, key world.CellKey) error {
	r, affected, err := n.tracker.RemoveCell(key)
	if err != nil {
		return err
	}

	orphans := world.NewTileSet()
	for t := range affected {
		if !n.tracker.HasGeometry(t) {
			orphans.Add(t)
		}
	}
	tiles := orphans.Sorted()
	n.queue.Cancel(tiles...)
	for _, t := range tiles {
		n.cache.Invalidate(t)
	}
	n.dispatch(orphans)

	slog.Info("cell unloading", "cell", key, "tiles", r, "dropped", len(tiles))
	if err := n.queue.Wait(ctx, r.Contains); err != nil {
		return fmt.Errorf("unload cell %v: %w", key, err)
	}
	return nil
}

// Tile returns the current record of a tile. Absent means no path data yet.
func (n *Navigator) Tile(t geo.TileIndex) (*tilecache.Record, bool) {
	return n.cache.Get(t)
}

// TileAt returns the tile covering a world point and its record, if any.
func (n *Navigator) TileAt(p mgl32.Vec2) (geo.TileIndex, *tilecache.Record, bool) {
	t := geo.TileAtWorld(n.Settings(), p)
	rec, ok := n.cache.Get(t)
	return t, rec, ok
}

// RangeStatus splits a tile range by readiness. Ready tiles have a record
// and no outstanding build; Pending tiles have a build outstanding (their
// record, if any, is out of date); Missing tiles have neither.
type RangeStatus struct {
	Ready   []geo.TileIndex `json:"ready"`
	Pending []geo.TileIndex `json:"pending"`
	Missing []geo.TileIndex `json:"missing"`
}

// QueryRange reports which tiles of r are usable now.
func (n *Navigator) QueryRange(r geo.TilesPositionsRange) (RangeStatus, error) {
	if !r.Valid() {
		return RangeStatus{}, fmt.Errorf("query %s: %w", r, ErrInvalidRange)
	}
	if count := r.Count(); count > MaxQueryTiles {
		return RangeStatus{}, fmt.Errorf("query %s: %d tiles: %w", r, count, ErrRangeTooLarge)
	}
	var st RangeStatus
	r.Each(func(t geo.TileIndex) bool {
		switch {
		case n.queue.State(t) != build.StateClean:
			st.Pending = append(st.Pending, t)
		case n.hasRecord(t):
			st.Ready = append(st.Ready, t)
		default:
			st.Missing = append(st.Missing, t)
		}
		return true
	})
	return st, nil
}

func (n *Navigator) hasRecord(t geo.TileIndex) bool {
	_, ok := n.cache.Get(t)
	return ok
}

// SetFocus moves the build focus to the tile covering a world point.
func (n *Navigator) SetFocus(p mgl32.Vec2) geo.TileIndex {
	t := geo.TileAtWorld(n.Settings(), p)
	n.queue.SetFocus(t)
	return t
}

// Invalidate drops a tile's record. If geometry still covers the tile it is
// rebuilt; otherwise queued work for it is cancelled.
func (n *Navigator) Invalidate(t geo.TileIndex) {
	n.cache.Invalidate(t)
	if n.tracker.HasGeometry(t) {
		n.tracker.MarkDirty(t)
		n.dispatch(nil)
		return
	}
	n.queue.Cancel(t)
}

// Flush blocks until every outstanding build has finished or ctx is done.
func (n *Navigator) Flush(ctx context.Context) error {
	return n.queue.Wait(ctx, nil)
}

// Reconfigure switches to new settings. The whole cache is invalidated and
// everything covered by loaded geometry is rebuilt. If some loaded geometry
// has no valid footprint under the new settings the old ones stay active.
func (n *Navigator) Reconfigure(settings geo.Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	affected, err := n.tracker.Rebase(settings)
	if err != nil {
		return fmt.Errorf("reconfigure: %w", err)
	}
	n.cache.Clear()
	if n.meshes != nil {
		n.meshes.Clear()
	}
	marked := n.dispatch(nil)
	slog.Info("navigation settings changed", "tiles", len(affected), "marked", marked)
	return nil
}

// Stats is a point-in-time summary.
type Stats struct {
	Queue   build.Stats   `json:"queue"`
	Records int           `json:"records"`
	Objects int           `json:"objects"`
	Cells   int           `json:"cells"`
	Focus   geo.TileIndex `json:"focus"`
}

// Stats returns current counters.
func (n *Navigator) Stats() Stats {
	objects, cells := n.tracker.Counts()
	return Stats{
		Queue:   n.queue.Stats(),
		Records: n.cache.Len(),
		Objects: objects,
		Cells:   cells,
		Focus:   n.queue.Focus(),
	}
}
