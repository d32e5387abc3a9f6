package geo

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unitSettings: 1 world unit per cell, 8 cells per tile, no border.
func unitSettings(border int32) Settings {
	return Settings{
		CellSize:    1,
		CellHeight:  1,
		TileSize:    8,
		BorderSize:  border,
		AgentHeight: 2,
		WorldScale:  1,
	}
}

func TestTilePositionOf(t *testing.T) {
	s := unitSettings(0)
	tests := []struct {
		name string
		nav  mgl32.Vec2
		want TileIndex
	}{
		{"origin", mgl32.Vec2{0, 0}, TileIndex{0, 0}},
		{"inside first tile", mgl32.Vec2{7.99, 7.99}, TileIndex{0, 0}},
		{"tile edge", mgl32.Vec2{8, 8}, TileIndex{1, 1}},
		{"negative floors down", mgl32.Vec2{-0.01, -8}, TileIndex{-1, -1}},
		{"far negative", mgl32.Vec2{-17, 3}, TileIndex{-3, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TilePositionOf(s, tt.nav))
		})
	}
}

func TestToNavSpaceScaleAndOrigin(t *testing.T) {
	s := unitSettings(0)
	s.WorldScale = 0.5
	s.Origin = mgl32.Vec2{10, -10}

	nav := ToNavSpace(s, mgl32.Vec2{12, -6})
	assert.InDelta(t, 1.0, nav.X(), 1e-6)
	assert.InDelta(t, 2.0, nav.Y(), 1e-6)

	back := ToWorldSpace(s, nav)
	assert.InDelta(t, 12.0, back.X(), 1e-5)
	assert.InDelta(t, -6.0, back.Y(), 1e-5)
}

func TestTilePositionRoundTripStable(t *testing.T) {
	s := DefaultSettings()
	rng := rand.New(rand.NewPCG(1, 2))
	for range 1000 {
		p := mgl32.Vec2{rng.Float32()*2000 - 1000, rng.Float32()*2000 - 1000}
		first := TilePositionOf(s, ToNavSpace(s, p))
		for range 3 {
			require.Equal(t, first, TilePositionOf(s, ToNavSpace(s, p)))
		}
	}
}

func TestBorderSize(t *testing.T) {
	s := unitSettings(2)
	s.CellSize = 0.5
	assert.InDelta(t, 1.0, BorderSize(s), 1e-6)
}

func TestDeriveBorderSize(t *testing.T) {
	assert.Equal(t, int32(3), DeriveBorderSize(0, 0.2, 3))
	assert.Equal(t, int32(5), DeriveBorderSize(0.3, 0.2, 3)) // ceil(1.5) + 3
	assert.Equal(t, int32(4), DeriveBorderSize(0.2, 0.2, 3))
}

func TestTileBounds(t *testing.T) {
	s := unitSettings(1)
	b := TileBounds(s, TileIndex{-1, 2})
	assert.Equal(t, mgl32.Vec2{-8, 16}, b.Min)
	assert.Equal(t, mgl32.Vec2{0, 24}, b.Max)

	p := PaddedTileBounds(s, TileIndex{0, 0})
	assert.Equal(t, mgl32.Vec2{-1, -1}, p.Min)
	assert.Equal(t, mgl32.Vec2{9, 9}, p.Max)

	// The last column must not wrap to the negative side.
	edge := TileBounds(s, TileIndex{math.MaxInt32, 0})
	assert.Positive(t, edge.Max.X())
	assert.GreaterOrEqual(t, edge.Max.X(), edge.Min.X())
}

func TestTilePositionChecked(t *testing.T) {
	s := unitSettings(0)

	ti, ok := TilePositionChecked(s, mgl32.Vec2{-1, 17})
	assert.True(t, ok)
	assert.Equal(t, TileIndex{-1, 2}, ti)

	ti, ok = TilePositionChecked(s, mgl32.Vec2{1e12, -1e12})
	assert.False(t, ok)
	assert.Equal(t, TileIndex{math.MaxInt32, math.MinInt32}, ti)

	_, ok = TilePositionChecked(s, mgl32.Vec2{float32(math.NaN()), 0})
	assert.False(t, ok)
}

func TestSettingsValidate(t *testing.T) {
	require.NoError(t, DefaultSettings().Validate())

	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"zero cell size", func(s *Settings) { s.CellSize = 0 }},
		{"zero tile size", func(s *Settings) { s.TileSize = 0 }},
		{"negative border", func(s *Settings) { s.BorderSize = -1 }},
		{"nan scale", func(s *Settings) { s.WorldScale = float32(nan()) }},
		{"zero agent height", func(s *Settings) { s.AgentHeight = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.mutate(&s)
			assert.ErrorIs(t, s.Validate(), ErrInvalidSettings)
		})
	}
}
