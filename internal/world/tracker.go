package world

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/udisondev/navtile/internal/geo"
)

var (
	ErrObjectExists   = errors.New("object already exists")
	ErrObjectNotFound = errors.New("object not found")
	ErrCellExists     = errors.New("cell already loaded")
	ErrCellNotFound   = errors.New("cell not loaded")
)

// DefaultMaxFootprintTiles caps the number of tiles a single object or cell
// may cover. Larger footprints are rejected as invalid geometry.
const DefaultMaxFootprintTiles = 1 << 20

// tileBucket lists the geometry contributing to one tile.
type tileBucket struct {
	objects map[ObjectID]struct{}
	cells   map[CellKey]struct{}
}

func (b *tileBucket) empty() bool {
	return len(b.objects) == 0 && len(b.cells) == 0
}

// Tracker maps geometry changes to the tiles they affect.
//
// It owns the registry of loaded objects and terrain cells, a per-tile index
// of contributing geometry and the dirty tile set. Mutations come from the
// simulation thread; tile builders read snapshots concurrently.
type Tracker struct {
	mu       sync.RWMutex
	settings geo.Settings
	objects  map[ObjectID]*object
	cells    map[CellKey]*cell
	tiles    map[geo.TileIndex]*tileBucket
	dirty    TileSet

	maxFootprint int
}

// NewTracker creates an empty tracker for the given settings.
func NewTracker(settings geo.Settings) *Tracker {
	return &Tracker{
		settings: settings,
		objects:  make(map[ObjectID]*object, 256),
		cells:    make(map[CellKey]*cell, 16),
		tiles:    make(map[geo.TileIndex]*tileBucket, 256),
		dirty:    make(TileSet),

		maxFootprint: DefaultMaxFootprintTiles,
	}
}

// SetMaxFootprint changes the per-geometry tile limit. n <= 0 removes it.
func (t *Tracker) SetMaxFootprint(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maxFootprint = n
}

// footprint returns the tiles covered by a world box under settings, or
// ErrInvalidGeometry when the box is not finite, leaves the tile grid or
// covers more tiles than the limit allows.
func (t *Tracker) footprint(box geo.AABB, settings geo.Settings) (geo.TilesPositionsRange, error) {
	r, err := geo.RangeFromAABB(box, settings)
	if err != nil {
		return geo.TilesPositionsRange{}, err
	}
	if t.maxFootprint > 0 && r.Count() > t.maxFootprint {
		return geo.TilesPositionsRange{}, fmt.Errorf("%w: footprint %v..%v covers %d tiles, limit %d",
			geo.ErrInvalidGeometry, r.Min, r.Max, r.Count(), t.maxFootprint)
	}
	return r, nil
}

// Settings returns the settings footprints are computed with.
func (t *Tracker) Settings() geo.Settings {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.settings
}

// ShapeChanged marks the footprint of a shape at its old placement (if any)
// and at its new placement (if any) dirty and returns the union.
//
// Only the dirty set changes; the shape is not registered and later
// snapshots do not see it. Geometry that builders must include goes through
// AddObject and UpdateObject.
//
// A placement whose footprint is invalid is rejected with
// ErrInvalidGeometry. The footprint of the other placement, if valid, is
// still marked and returned: over-marking is preferred to missing a tile.
func (t *Tracker) ShapeChanged(shape geo.HasBoundingBox, oldTr, newTr *geo.Transform) (TileSet, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	affected := make(TileSet)
	var errs []error
	for _, tr := range []*geo.Transform{oldTr, newTr} {
		if tr == nil {
			continue
		}
		r, err := t.footprint(shape.AABB(*tr), t.settings)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		affected.AddRange(r)
	}
	t.dirty.Union(affected)
	return affected, errors.Join(errs...)
}

// AddObject registers a new object and marks its footprint dirty.
func (t *Tracker) AddObject(id ObjectID, shape geo.Shape, tr geo.Transform) (TileSet, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.objects[id]; ok {
		return nil, fmt.Errorf("add object %d: %w", id, ErrObjectExists)
	}

	bounds := shape.AABB(tr)
	r, err := t.footprint(bounds, t.settings)
	if err != nil {
		slog.Warn("rejecting object with invalid bounds", "object", id, "shape", shape.Kind(), "error", err)
		return nil, fmt.Errorf("add object %d: %w", id, err)
	}

	obj := &object{id: id, shape: geo.CloneShape(shape), transform: tr, bounds: bounds, tiles: r}
	t.objects[id] = obj
	t.indexObject(obj)

	affected := make(TileSet, r.Count())
	affected.AddRange(r)
	t.dirty.Union(affected)
	return affected, nil
}

// UpdateObject moves an object. Both the old and the new footprint are
// marked. If the new placement is invalid the object stays where it was, the
// old footprint is still marked and the error is returned.
func (t *Tracker) UpdateObject(id ObjectID, tr geo.Transform) (TileSet, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	obj, ok := t.objects[id]
	if !ok {
		return nil, fmt.Errorf("update object %d: %w", id, ErrObjectNotFound)
	}

	affected := make(TileSet)
	affected.AddRange(obj.tiles)

	bounds := obj.shape.AABB(tr)
	r, err := t.footprint(bounds, t.settings)
	if err != nil {
		t.dirty.Union(affected)
		slog.Warn("rejecting object move with invalid bounds", "object", id, "error", err)
		return affected, fmt.Errorf("update object %d: %w", id, err)
	}

	t.unindexObject(obj)
	obj.transform = tr
	obj.bounds = bounds
	obj.tiles = r
	t.indexObject(obj)

	affected.AddRange(r)
	t.dirty.Union(affected)
	return affected, nil
}

// RemoveObject unregisters an object and marks its footprint dirty.
func (t *Tracker) RemoveObject(id ObjectID) (TileSet, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	obj, ok := t.objects[id]
	if !ok {
		return nil, fmt.Errorf("remove object %d: %w", id, ErrObjectNotFound)
	}
	delete(t.objects, id)
	t.unindexObject(obj)

	affected := make(TileSet, obj.tiles.Count())
	affected.AddRange(obj.tiles)
	t.dirty.Union(affected)
	return affected, nil
}

// AddCell loads a square terrain cell of the given integer size.
func (t *Tracker) AddCell(key CellKey, name string, size int, shift mgl32.Vec3) (TileSet, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.cells[key]; ok {
		return nil, fmt.Errorf("add cell %v: %w", key, ErrCellExists)
	}
	if size <= 0 {
		return nil, fmt.Errorf("add cell %v: %w: size %d", key, geo.ErrInvalidGeometry, size)
	}
	bounds := geo.CellAABB(size, shift)
	r, err := t.footprint(bounds, t.settings)
	if err != nil {
		slog.Warn("rejecting cell with invalid bounds", "cell", key, "size", size, "error", err)
		return nil, fmt.Errorf("add cell %v: %w", key, err)
	}

	c := &cell{
		info:   CellInfo{Key: key, Name: name, Size: size, Shift: shift},
		bounds: bounds,
		tiles:  r,
	}
	t.cells[key] = c
	t.indexCell(c)

	affected := make(TileSet, r.Count())
	affected.AddRange(r)
	t.dirty.Union(affected)
	return affected, nil
}

// RemoveCell unloads a terrain cell and returns its tile range with the
// tiles it marked.
func (t *Tracker) RemoveCell(key CellKey) (geo.TilesPositionsRange, TileSet, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.cells[key]
	if !ok {
		return geo.TilesPositionsRange{}, nil, fmt.Errorf("remove cell %v: %w", key, ErrCellNotFound)
	}
	delete(t.cells, key)
	t.unindexCell(c)

	affected := make(TileSet, c.tiles.Count())
	affected.AddRange(c.tiles)
	t.dirty.Union(affected)
	return c.tiles, affected, nil
}

// CellRange returns the tiles covered by a loaded cell.
func (t *Tracker) CellRange(key CellKey) (geo.TilesPositionsRange, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.cells[key]
	if !ok {
		return geo.TilesPositionsRange{}, false
	}
	return c.tiles, true
}

// ObjectRange returns the tiles covered by a registered object.
func (t *Tracker) ObjectRange(id ObjectID) (geo.TilesPositionsRange, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	obj, ok := t.objects[id]
	if !ok {
		return geo.TilesPositionsRange{}, false
	}
	return obj.tiles, true
}

// MarkDirty adds tiles to the dirty set without a geometry change
// (evicted tiles that still have geometry).
func (t *Tracker) MarkDirty(tiles ...geo.TileIndex) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, tile := range tiles {
		t.dirty.Add(tile)
	}
}

// Drain hands the accumulated dirty set over and starts a new one.
func (t *Tracker) Drain() TileSet {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.dirty
	t.dirty = make(TileSet, len(out))
	return out
}

// DirtyCount returns the number of tiles waiting in the dirty set.
func (t *Tracker) DirtyCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.dirty)
}

// HasGeometry reports whether any loaded geometry contributes to a tile.
func (t *Tracker) HasGeometry(tile geo.TileIndex) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.tiles[tile]
	return ok
}

// Snapshot returns the geometry contributing to a tile, sorted.
func (t *Tracker) Snapshot(tile geo.TileIndex) []Placement {
	t.mu.RLock()
	defer t.mu.RUnlock()

	b, ok := t.tiles[tile]
	if !ok {
		return nil
	}
	out := make([]Placement, 0, len(b.cells)+len(b.objects))
	for key := range b.cells {
		out = append(out, t.cells[key].placement())
	}
	for id := range b.objects {
		out = append(out, t.objects[id].placement())
	}
	SortPlacements(out)
	return out
}

// Objects returns every registered object, sorted by id.
func (t *Tracker) Objects() []Placement {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Placement, 0, len(t.objects))
	for _, obj := range t.objects {
		out = append(out, obj.placement())
	}
	SortPlacements(out)
	return out
}

// Cells returns every loaded cell, sorted by key.
func (t *Tracker) Cells() []CellInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]CellInfo, 0, len(t.cells))
	for _, c := range t.cells {
		out = append(out, c.info)
	}
	slices.SortFunc(out, func(a, b CellInfo) int {
		if c := cmp.Compare(a.Key.X, b.Key.X); c != 0 {
			return c
		}
		return cmp.Compare(a.Key.Y, b.Key.Y)
	})
	return out
}

// Counts returns the number of registered objects and cells.
func (t *Tracker) Counts() (objects, cells int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.objects), len(t.cells)
}

// Rebase recomputes every footprint for new settings and marks both the old
// and the new footprints dirty. If any footprint is invalid under the new
// settings nothing changes and the error is returned.
func (t *Tracker) Rebase(settings geo.Settings) (TileSet, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	objTiles := make(map[ObjectID]geo.TilesPositionsRange, len(t.objects))
	for id, obj := range t.objects {
		r, err := t.footprint(obj.bounds, settings)
		if err != nil {
			return nil, fmt.Errorf("rebase object %d: %w", id, err)
		}
		objTiles[id] = r
	}
	cellTiles := make(map[CellKey]geo.TilesPositionsRange, len(t.cells))
	for key, c := range t.cells {
		r, err := t.footprint(c.bounds, settings)
		if err != nil {
			return nil, fmt.Errorf("rebase cell %v: %w", key, err)
		}
		cellTiles[key] = r
	}

	affected := make(TileSet, len(t.tiles))
	for tile := range t.tiles {
		affected.Add(tile)
	}

	t.settings = settings
	t.tiles = make(map[geo.TileIndex]*tileBucket, len(affected))
	for id, obj := range t.objects {
		obj.tiles = objTiles[id]
		t.indexObject(obj)
		affected.AddRange(obj.tiles)
	}
	for key, c := range t.cells {
		c.tiles = cellTiles[key]
		t.indexCell(c)
		affected.AddRange(c.tiles)
	}
	t.dirty.Union(affected)
	return affected, nil
}

// Reset drops all geometry and marks every tile it covered dirty.
func (t *Tracker) Reset() TileSet {
	t.mu.Lock()
	defer t.mu.Unlock()

	affected := make(TileSet, len(t.tiles))
	for tile := range t.tiles {
		affected.Add(tile)
	}
	t.objects = make(map[ObjectID]*object, 256)
	t.cells = make(map[CellKey]*cell, 16)
	t.tiles = make(map[geo.TileIndex]*tileBucket, 256)
	t.dirty.Union(affected)
	return affected
}

func (t *Tracker) bucket(tile geo.TileIndex) *tileBucket {
	b, ok := t.tiles[tile]
	if !ok {
		b = &tileBucket{
			objects: make(map[ObjectID]struct{}),
			cells:   make(map[CellKey]struct{}),
		}
		t.tiles[tile] = b
	}
	return b
}

func (t *Tracker) release(tile geo.TileIndex, b *tileBucket) {
	if b.empty() {
		delete(t.tiles, tile)
	}
}

func (t *Tracker) indexObject(obj *object) {
	obj.tiles.Each(func(tile geo.TileIndex) bool {
		t.bucket(tile).objects[obj.id] = struct{}{}
		return true
	})
}

func (t *Tracker) unindexObject(obj *object) {
	obj.tiles.Each(func(tile geo.TileIndex) bool {
		if b, ok := t.tiles[tile]; ok {
			delete(b.objects, obj.id)
			t.release(tile, b)
		}
		return true
	})
}

func (t *Tracker) indexCell(c *cell) {
	c.tiles.Each(func(tile geo.TileIndex) bool {
		t.bucket(tile).cells[c.info.Key] = struct{}{}
		return true
	})
}

func (t *Tracker) unindexCell(c *cell) {
	c.tiles.Each(func(tile geo.TileIndex) bool {
		if b, ok := t.tiles[tile]; ok {
			delete(b.cells, c.info.Key)
			t.release(tile, b)
		}
		return true
	})
}
