package geo

// Default navigation settings (world units).
const (
	DefaultCellSize      = 0.2
	DefaultCellHeight    = 0.2
	DefaultTileSize      = 64 // cells per tile side
	DefaultBorderMargin  = 3  // cells added on top of the agent radius
	DefaultAgentRadius   = 0.3
	DefaultAgentHeight   = 1.8
	DefaultAgentMaxClimb = 0.4
	DefaultWorldScale    = 1.0
)

// NSWE direction bitmask constants.
// 4-bit mask for cell movement permissions.
const (
	NSWEEast  byte = 1 << 0 // 0x01
	NSWEWest  byte = 1 << 1 // 0x02
	NSWESouth byte = 1 << 2 // 0x04
	NSWENorth byte = 1 << 3 // 0x08
	NSWEAll   byte = 0x0F
)

// Composite NSWE directions.
const (
	NSWENorthEast = NSWENorth | NSWEEast // 0x09
	NSWENorthWest = NSWENorth | NSWEWest // 0x0A
	NSWESouthEast = NSWESouth | NSWEEast // 0x05
	NSWESouthWest = NSWESouth | NSWEWest // 0x06
)
