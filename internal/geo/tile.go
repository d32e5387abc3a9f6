package geo

import (
	"fmt"
	"math"
	"slices"
)

// TileIndex identifies a tile on the infinite tile grid.
// Comparable, so it can be used directly as a map key.
type TileIndex struct {
	X int32 `json:"x"`
	Y int32 `json:"y"`
}

func (t TileIndex) String() string {
	return fmt.Sprintf("(%d,%d)", t.X, t.Y)
}

// Compare orders tiles by X, then Y.
func (t TileIndex) Compare(o TileIndex) int {
	switch {
	case t.X < o.X:
		return -1
	case t.X > o.X:
		return 1
	case t.Y < o.Y:
		return -1
	case t.Y > o.Y:
		return 1
	}
	return 0
}

// Less reports whether t sorts before o.
func (t TileIndex) Less(o TileIndex) bool {
	return t.Compare(o) < 0
}

// SortTiles sorts tiles in (x, y) order.
func SortTiles(tiles []TileIndex) {
	slices.SortFunc(tiles, TileIndex.Compare)
}

// TilesPositionsRange is an inclusive rectangle of tiles.
// Min.X <= Max.X and Min.Y <= Max.Y always hold for ranges built here.
type TilesPositionsRange struct {
	Min TileIndex `json:"min"`
	Max TileIndex `json:"max"`
}

func (r TilesPositionsRange) String() string {
	return fmt.Sprintf("[%s..%s]", r.Min, r.Max)
}

// Contains reports whether t is inside the range.
func (r TilesPositionsRange) Contains(t TileIndex) bool {
	return t.X >= r.Min.X && t.X <= r.Max.X && t.Y >= r.Min.Y && t.Y <= r.Max.Y
}

// Valid reports whether Min <= Max on both axes.
func (r TilesPositionsRange) Valid() bool {
	return r.Min.X <= r.Max.X && r.Min.Y <= r.Max.Y
}

// Count returns the number of tiles in the range, 0 for an inverted range.
// Ranges spanning most of the int32 grid saturate at math.MaxInt.
func (r TilesPositionsRange) Count() int {
	if !r.Valid() {
		return 0
	}
	w := int64(r.Max.X) - int64(r.Min.X) + 1
	h := int64(r.Max.Y) - int64(r.Min.Y) + 1
	if w > math.MaxInt/h {
		return math.MaxInt
	}
	return int(w * h)
}

// Intersects reports whether two ranges share at least one tile.
func (r TilesPositionsRange) Intersects(o TilesPositionsRange) bool {
	return r.Min.X <= o.Max.X && o.Min.X <= r.Max.X &&
		r.Min.Y <= o.Max.Y && o.Min.Y <= r.Max.Y
}

// Union returns the smallest range covering both.
func (r TilesPositionsRange) Union(o TilesPositionsRange) TilesPositionsRange {
	return TilesPositionsRange{
		Min: TileIndex{X: min(r.Min.X, o.Min.X), Y: min(r.Min.Y, o.Min.Y)},
		Max: TileIndex{X: max(r.Max.X, o.Max.X), Y: max(r.Max.Y, o.Max.Y)},
	}
}

// Each calls fn for every tile in (x, y) order until fn returns false.
// An inverted range visits nothing. Bounds at the int32 limits are
// visited once; the loops stop before incrementing past Max.
func (r TilesPositionsRange) Each(fn func(TileIndex) bool) {
	if !r.Valid() {
		return
	}
	for x := r.Min.X; ; x++ {
		for y := r.Min.Y; ; y++ {
			if !fn(TileIndex{X: x, Y: y}) {
				return
			}
			if y == r.Max.Y {
				break
			}
		}
		if x == r.Max.X {
			return
		}
	}
}

// Tiles returns every tile of the range in (x, y) order.
func (r TilesPositionsRange) Tiles() []TileIndex {
	out := make([]TileIndex, 0, r.Count())
	r.Each(func(t TileIndex) bool {
		out = append(out, t)
		return true
	})
	return out
}
