package testutil

import "github.com/udisondev/navtile/internal/geo"

// NavSettings returns small navigation settings shared by tests: one world
// unit per voxel and 8x8 voxel tiles, so tile (x, y) spans
// [8x, 8x+8) x [8y, 8y+8) in world space.
func NavSettings() geo.Settings {
	return geo.Settings{
		CellSize:      1,
		CellHeight:    0.5,
		TileSize:      8,
		AgentHeight:   2,
		AgentMaxClimb: 0.5,
		WorldScale:    1,
	}
}
