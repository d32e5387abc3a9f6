package mesh

import (
	"context"
	"fmt"
	"math"

	"github.com/udisondev/navtile/internal/geo"
	"github.com/udisondev/navtile/internal/world"
)

// Rasterizer builds a tile by sampling geometry boxes on the cell grid.
//
// Terrain cells provide ground. An object whose top is within AgentMaxClimb
// of the ground raises it; one with at least AgentHeight of clearance below
// is ignored; anything else blocks the cell. Neighbouring walkable cells are
// connected when their height difference is climbable.
type Rasterizer struct {
	MaxPolys int // 0 = unlimited
}

// NewRasterizer creates a rasterizer with a polygon budget per tile.
func NewRasterizer(maxPolys int) *Rasterizer {
	return &Rasterizer{MaxPolys: maxPolys}
}

func (r *Rasterizer) Generate(ctx context.Context, in Input) (*Tile, error) {
	s := in.Settings
	n := s.TileSize
	bounds := geo.TileBounds(s, in.Tile)

	ground := make([]float32, n*n)
	for i := range ground {
		ground[i] = float32(math.NaN())
	}
	blocked := make([]bool, n*n)

	for pass, kind := range []world.PlacementKind{world.PlacementCell, world.PlacementObject} {
		for _, p := range in.Geometry {
			if p.Kind != kind {
				continue
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			x0, x1, y0, y1, ok := cellSpan(s, bounds, p.Bounds)
			if !ok {
				continue
			}
			for cx := x0; cx <= x1; cx++ {
				for cy := y0; cy <= y1; cy++ {
					i := cx*n + cy
					if pass == 0 {
						ground[i] = maxGround(ground[i], p.Bounds.Max.Z())
						continue
					}
					applyObject(s, &ground[i], &blocked[i], p.Bounds)
				}
			}
		}
	}

	tile := &Tile{Index: in.Tile, Size: n, Cells: make([]Cell, n*n)}
	for i := range tile.Cells {
		if blocked[i] || math.IsNaN(float64(ground[i])) {
			continue
		}
		tile.Cells[i] = Cell{Height: quantize(ground[i], s.CellHeight), NSWE: geo.NSWEAll, Standable: true}
		tile.Walkable++
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	connect(tile, s.AgentMaxClimb)

	tile.Polys = countRuns(tile)
	if r.MaxPolys > 0 && tile.Polys > r.MaxPolys {
		return nil, fmt.Errorf("tile %s: %d polys, budget %d: %w", in.Tile, tile.Polys, r.MaxPolys, ErrTileBudget)
	}
	return tile, nil
}

// cellSpan returns the inclusive local cell range a world box covers.
func cellSpan(s geo.Settings, tile geo.Bounds, box geo.AABB) (x0, x1, y0, y1 int32, ok bool) {
	a := geo.ToNavSpace(s, box.Min2())
	b := geo.ToNavSpace(s, box.Max2())
	lo := [2]float32{min(a.X(), b.X()), min(a.Y(), b.Y())}
	hi := [2]float32{max(a.X(), b.X()), max(a.Y(), b.Y())}
	origin := [2]float32{tile.Min.X(), tile.Min.Y()}

	var out [2][2]int32
	for axis := range 2 {
		first := int32(math.Floor(float64((lo[axis] - origin[axis]) / s.CellSize)))
		last := int32(math.Ceil(float64((hi[axis]-origin[axis])/s.CellSize))) - 1
		last = max(last, first)
		if last < 0 || first >= s.TileSize {
			return 0, 0, 0, 0, false
		}
		out[axis] = [2]int32{max(first, 0), min(last, s.TileSize-1)}
	}
	return out[0][0], out[0][1], out[1][0], out[1][1], true
}

func applyObject(s geo.Settings, ground *float32, blocked *bool, box geo.AABB) {
	top, bottom := box.Max.Z(), box.Min.Z()
	g := *ground
	switch {
	case math.IsNaN(float64(g)):
		*ground = top
	case top-g <= s.AgentMaxClimb:
		*ground = max(g, top)
	case bottom-g >= s.AgentHeight:
		// enough headroom to walk under
	default:
		*blocked = true
	}
}

func maxGround(cur, h float32) float32 {
	if math.IsNaN(float64(cur)) {
		return h
	}
	return max(cur, h)
}

func quantize(h, step float32) float32 {
	return float32(math.Round(float64(h/step))) * step
}

// connect clears NSWE bits towards unwalkable or unclimbable neighbours.
// Bits towards cells outside the tile stay set: the border overlap keeps
// adjacent tiles consistent.
func connect(t *Tile, maxClimb float32) {
	dirs := []struct {
		dx, dy int32
		bit    byte
	}{
		{1, 0, geo.NSWEEast},
		{-1, 0, geo.NSWEWest},
		{0, 1, geo.NSWESouth},
		{0, -1, geo.NSWENorth},
	}
	heights := make([]float32, len(t.Cells))
	walk := make([]bool, len(t.Cells))
	for i, c := range t.Cells {
		heights[i], walk[i] = c.Height, c.Walkable()
	}
	for cx := range t.Size {
		for cy := range t.Size {
			i := cx*t.Size + cy
			if !walk[i] {
				continue
			}
			for _, d := range dirs {
				nx, ny := cx+d.dx, cy+d.dy
				if nx < 0 || ny < 0 || nx >= t.Size || ny >= t.Size {
					continue
				}
				j := nx*t.Size + ny
				dh := heights[i] - heights[j]
				if !walk[j] || dh > maxClimb || -dh > maxClimb {
					t.Cells[i].NSWE &^= d.bit
				}
			}
		}
	}
}

// countRuns counts maximal runs along X of walkable cells at equal height.
func countRuns(t *Tile) int {
	runs := 0
	for cy := range t.Size {
		inRun := false
		var h float32
		for cx := range t.Size {
			c := t.Cells[cx*t.Size+cy]
			switch {
			case !c.Walkable():
				inRun = false
			case !inRun || c.Height != h:
				runs++
				inRun, h = true, c.Height
			}
		}
	}
	return runs
}
