package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned by Validate for unusable service settings.
var ErrInvalidConfig = errors.New("invalid config")

// Navtiled holds all configuration for the navtiled service.
type Navtiled struct {
	// Admin / query HTTP API
	HTTPAddress string `yaml:"http_address"`

	LogLevel string `yaml:"log_level"`

	// Database
	Database DatabaseConfig `yaml:"database"`

	// Saved navigator state
	StateName    string        `yaml:"state_name"`    // row key in nav_states
	SaveInterval time.Duration `yaml:"save_interval"` // 0 = save only at shutdown

	Navigation Navigation `yaml:"navigation"`
	Build      Build      `yaml:"build"`
	Cache      Cache      `yaml:"cache"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int32  `yaml:"max_conns"` // 0 = pgx default
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// Build tunes the tile build queue and workers.
type Build struct {
	Workers       int           `yaml:"workers"`        // 0 = one per CPU
	QueueCapacity int           `yaml:"queue_capacity"` // 0 = unbounded
	AgingStep     float64       `yaml:"aging_step"`
	RetryBase     time.Duration `yaml:"retry_base"`
	RetryMax      time.Duration `yaml:"retry_max"`
	MaxPolys      int           `yaml:"max_polys"` // per tile, 0 = unlimited

	// Tiles one object or cell may cover: 0 = built-in limit, < 0 = unlimited.
	MaxFootprintTiles int `yaml:"max_footprint_tiles"`
}

// Cache tunes tile record eviction and the generated mesh cache.
type Cache struct {
	MaxRecords     int           `yaml:"max_records"` // 0 = never evict
	IdleEviction   time.Duration `yaml:"idle_eviction"`
	EvictInterval  time.Duration `yaml:"evict_interval"`
	MeshCacheBytes int64         `yaml:"mesh_cache_bytes"` // 0 = disabled
}

// DefaultNavtiled returns Navtiled config with sensible defaults.
func DefaultNavtiled() Navtiled {
	return Navtiled{
		HTTPAddress:  "127.0.0.1:8088",
		LogLevel:     "info",
		StateName:    "default",
		SaveInterval: time.Minute,
		Database: DatabaseConfig{
			Enabled:  true,
			Host:     "127.0.0.1",
			Port:     5432,
			User:     "navtile",
			Password: "navtile",
			DBName:   "navtile",
			SSLMode:  "disable",
		},
		Navigation: DefaultNavigation(),
		Build: Build{
			QueueCapacity: 4096,
			AgingStep:     0.05,
			RetryBase:     500 * time.Millisecond,
			RetryMax:      30 * time.Second,
			MaxPolys:      4096,

			MaxFootprintTiles: 1 << 20,
		},
		Cache: Cache{
			MaxRecords:     16384,
			IdleEviction:   5 * time.Minute,
			EvictInterval:  30 * time.Second,
			MeshCacheBytes: 64 << 20,
		},
	}
}

// LoadNavtiled loads service config from a YAML file and validates it.
// If the file doesn't exist, returns defaults.
func LoadNavtiled(path string) (Navtiled, error) {
	cfg := DefaultNavtiled()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the service settings. Navigation settings errors wrap
// geo.ErrInvalidSettings, everything else ErrInvalidConfig.
func (c Navtiled) Validate() error {
	if err := c.Navigation.Settings().Validate(); err != nil {
		return err
	}
	switch {
	case c.Build.Workers < 0:
		return fmt.Errorf("%w: build.workers = %d", ErrInvalidConfig, c.Build.Workers)
	case c.Build.QueueCapacity < 0:
		return fmt.Errorf("%w: build.queue_capacity = %d", ErrInvalidConfig, c.Build.QueueCapacity)
	case c.Build.AgingStep <= 0:
		return fmt.Errorf("%w: build.aging_step = %v", ErrInvalidConfig, c.Build.AgingStep)
	case c.Build.RetryBase <= 0 || c.Build.RetryMax < c.Build.RetryBase:
		return fmt.Errorf("%w: build.retry_base = %s, retry_max = %s", ErrInvalidConfig, c.Build.RetryBase, c.Build.RetryMax)
	case c.Cache.MaxRecords > 0 && c.Cache.EvictInterval <= 0:
		return fmt.Errorf("%w: cache.evict_interval = %s", ErrInvalidConfig, c.Cache.EvictInterval)
	case c.Cache.MeshCacheBytes < 0:
		return fmt.Errorf("%w: cache.mesh_cache_bytes = %d", ErrInvalidConfig, c.Cache.MeshCacheBytes)
	case c.SaveInterval < 0:
		return fmt.Errorf("%w: save_interval = %s", ErrInvalidConfig, c.SaveInterval)
	case c.Database.Enabled && c.StateName == "":
		return fmt.Errorf("%w: state_name is empty", ErrInvalidConfig)
	}
	return nil
}
