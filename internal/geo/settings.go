package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// ErrInvalidSettings is returned for settings that make the coordinate
// transforms meaningless. It is fatal: nothing asynchronous starts with it.
var ErrInvalidSettings = errors.New("invalid navigation settings")

// Settings pins every coordinate transform of one navigation context.
// Components receive it by value at construction and never mutate it.
type Settings struct {
	CellSize   float32 // horizontal cell size, world units
	CellHeight float32 // vertical cell size, world units
	TileSize   int32   // tile side, cells
	BorderSize int32   // padding around tile geometry, cells

	AgentRadius   float32
	AgentHeight   float32
	AgentMaxClimb float32

	// World -> nav space: (p - Origin) * WorldScale.
	WorldScale float32
	Origin     mgl32.Vec2
}

// DefaultSettings returns settings for a human-sized agent.
func DefaultSettings() Settings {
	s := Settings{
		CellSize:      DefaultCellSize,
		CellHeight:    DefaultCellHeight,
		TileSize:      DefaultTileSize,
		AgentRadius:   DefaultAgentRadius,
		AgentHeight:   DefaultAgentHeight,
		AgentMaxClimb: DefaultAgentMaxClimb,
		WorldScale:    DefaultWorldScale,
	}
	s.BorderSize = DeriveBorderSize(s.AgentRadius, s.CellSize, DefaultBorderMargin)
	return s
}

// DeriveBorderSize returns the border in cells needed to cover an agent of
// the given radius plus a safety margin.
func DeriveBorderSize(agentRadius, cellSize float32, margin int32) int32 {
	if cellSize <= 0 {
		return margin
	}
	return int32(math.Ceil(float64(agentRadius/cellSize))) + margin
}

// Validate reports the first invalid field wrapped in ErrInvalidSettings.
func (s Settings) Validate() error {
	checks := []struct {
		name string
		v    float32
		ok   bool
	}{
		{"cell_size", s.CellSize, s.CellSize > 0},
		{"cell_height", s.CellHeight, s.CellHeight > 0},
		{"agent_radius", s.AgentRadius, s.AgentRadius >= 0},
		{"agent_height", s.AgentHeight, s.AgentHeight > 0},
		{"agent_max_climb", s.AgentMaxClimb, s.AgentMaxClimb >= 0},
		{"world_scale", s.WorldScale, s.WorldScale > 0},
		{"origin_x", s.Origin.X(), true},
		{"origin_y", s.Origin.Y(), true},
	}
	for _, c := range checks {
		if !finite(c.v) || !c.ok {
			return fmt.Errorf("%w: %s = %v", ErrInvalidSettings, c.name, c.v)
		}
	}
	if s.TileSize <= 0 {
		return fmt.Errorf("%w: tile_size = %d", ErrInvalidSettings, s.TileSize)
	}
	if s.BorderSize < 0 {
		return fmt.Errorf("%w: border_size = %d", ErrInvalidSettings, s.BorderSize)
	}
	return nil
}

func finite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
