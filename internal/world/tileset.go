package world

import "github.com/udisondev/navtile/internal/geo"

// TileSet is a set of tile indices. Adding a tile twice is a no-op.
type TileSet map[geo.TileIndex]struct{}

// NewTileSet returns a set holding the given tiles.
func NewTileSet(tiles ...geo.TileIndex) TileSet {
	s := make(TileSet, len(tiles))
	for _, t := range tiles {
		s[t] = struct{}{}
	}
	return s
}

// Add inserts t and reports whether it was missing.
func (s TileSet) Add(t geo.TileIndex) bool {
	if _, ok := s[t]; ok {
		return false
	}
	s[t] = struct{}{}
	return true
}

// AddRange inserts every tile of r.
func (s TileSet) AddRange(r geo.TilesPositionsRange) {
	r.Each(func(t geo.TileIndex) bool {
		s[t] = struct{}{}
		return true
	})
}

// Union inserts every tile of o.
func (s TileSet) Union(o TileSet) {
	for t := range o {
		s[t] = struct{}{}
	}
}

// Has reports membership.
func (s TileSet) Has(t geo.TileIndex) bool {
	_, ok := s[t]
	return ok
}

// Sorted returns the tiles in (x, y) order.
func (s TileSet) Sorted() []geo.TileIndex {
	out := make([]geo.TileIndex, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	geo.SortTiles(out)
	return out
}
