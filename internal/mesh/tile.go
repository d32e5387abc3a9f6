package mesh

import (
	"context"
	"errors"

	"github.com/udisondev/navtile/internal/geo"
	"github.com/udisondev/navtile/internal/world"
)

// ErrTileBudget is returned when a tile needs more polygons than allowed.
var ErrTileBudget = errors.New("tile exceeds polygon budget")

// Input is everything a generator may look at. Geometry is an immutable
// snapshot; generators must not modify it.
type Input struct {
	Tile     geo.TileIndex
	Settings geo.Settings
	Geometry []world.Placement
}

// Generator turns a tile's geometry snapshot into a navigation tile.
// Implementations must be safe for concurrent use and should return
// ctx.Err() promptly once ctx is done.
type Generator interface {
	Generate(ctx context.Context, in Input) (*Tile, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, in Input) (*Tile, error)

func (f GeneratorFunc) Generate(ctx context.Context, in Input) (*Tile, error) {
	return f(ctx, in)
}

// Cell is one walkable-surface sample of a tile. NSWE holds the directions
// an agent may leave the cell in towards cells of the same tile.
type Cell struct {
	Height    float32
	NSWE      byte
	Standable bool
}

// Walkable reports whether an agent can stand on the cell.
func (c Cell) Walkable() bool {
	return c.Standable
}

// Tile is a generated navigation tile. Immutable once returned by a
// generator; the tile cache owns it after commit.
type Tile struct {
	Index    geo.TileIndex
	Size     int32  // cells per side
	Cells    []Cell // Size*Size, index cellX*Size+cellY
	Walkable int
	Polys    int
}

// CellAt returns the cell at local coordinates, or a zero cell outside.
func (t *Tile) CellAt(cellX, cellY int32) Cell {
	if cellX < 0 || cellY < 0 || cellX >= t.Size || cellY >= t.Size {
		return Cell{}
	}
	return t.Cells[cellX*t.Size+cellY]
}

// Empty reports whether the tile has no walkable surface.
func (t *Tile) Empty() bool {
	return t.Walkable == 0
}

// EstimatedSize approximates the memory held by the tile in bytes.
func (t *Tile) EstimatedSize() int64 {
	return int64(len(t.Cells))*8 + 64
}
