package config

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/udisondev/navtile/internal/geo"
)

// Navigation holds the navigation settings. Changing any of them
// invalidates every built tile.
type Navigation struct {
	CellSize   float32 `yaml:"cell_size"`
	CellHeight float32 `yaml:"cell_height"`
	TileSize   int32   `yaml:"tile_size"` // cells

	// BorderSize in cells; negative derives it from the agent radius plus
	// BorderMargin.
	BorderSize   int32 `yaml:"border_size"`
	BorderMargin int32 `yaml:"border_margin"`

	AgentRadius   float32 `yaml:"agent_radius"`
	AgentHeight   float32 `yaml:"agent_height"`
	AgentMaxClimb float32 `yaml:"agent_max_climb"`

	WorldScale float32 `yaml:"world_scale"`
	OriginX    float32 `yaml:"origin_x"`
	OriginY    float32 `yaml:"origin_y"`
}

// DefaultNavigation returns settings for a human-sized agent.
func DefaultNavigation() Navigation {
	return Navigation{
		CellSize:      geo.DefaultCellSize,
		CellHeight:    geo.DefaultCellHeight,
		TileSize:      geo.DefaultTileSize,
		BorderSize:    -1,
		BorderMargin:  geo.DefaultBorderMargin,
		AgentRadius:   geo.DefaultAgentRadius,
		AgentHeight:   geo.DefaultAgentHeight,
		AgentMaxClimb: geo.DefaultAgentMaxClimb,
		WorldScale:    geo.DefaultWorldScale,
	}
}

// Settings converts to the immutable settings value handed to components.
func (n Navigation) Settings() geo.Settings {
	border := n.BorderSize
	if border < 0 {
		border = geo.DeriveBorderSize(n.AgentRadius, n.CellSize, n.BorderMargin)
	}
	return geo.Settings{
		CellSize:      n.CellSize,
		CellHeight:    n.CellHeight,
		TileSize:      n.TileSize,
		BorderSize:    border,
		AgentRadius:   n.AgentRadius,
		AgentHeight:   n.AgentHeight,
		AgentMaxClimb: n.AgentMaxClimb,
		WorldScale:    n.WorldScale,
		Origin:        mgl32.Vec2{n.OriginX, n.OriginY},
	}
}
