package main

import (
	"fmt"
	"os"

	"github.com/iwpnd/kvadrere"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

const configEnv = "KVADRERE_CONFIG"

const defaultConfig = `
listen: ":8080"
zoom: 12
adaptiveStart: true
quadkeyProperty: quadkey
tileIDProperty: ""
workers: 0
bodyLimit: 16777216
boxCache:
  enabled: true
  maxCost: 1048576
log:
  level: info
`

type BoxCacheConfig struct {
	Enabled bool  `yaml:"enabled"`
	MaxCost int64 `yaml:"maxCost"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type Config struct {
	Listen          string         `yaml:"listen"`
	Zoom            int            `yaml:"zoom"`
	AdaptiveStart   bool           `yaml:"adaptiveStart"`
	QuadKeyProperty string         `yaml:"quadkeyProperty"`
	TileIDProperty  string         `yaml:"tileIDProperty"`
	Workers         int            `yaml:"workers"`
	BodyLimit       int            `yaml:"bodyLimit"`
	BoxCache        BoxCacheConfig `yaml:"boxCache"`
	Log             LogConfig      `yaml:"log"`
}

// loadConfig reads the defaults, then overlays the file at path or, if
// path is empty, the YAML held by KVADRERE_CONFIG.
func loadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(defaultConfig), cfg); err != nil {
		return nil, fmt.Errorf("parsing default config: %w", err)
	}

	var overlay []byte
	switch {
	case path != "":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		overlay = data
	case os.Getenv(configEnv) != "":
		overlay = []byte(os.Getenv(configEnv))
	}

	if len(overlay) > 0 {
		if err := yaml.Unmarshal(overlay, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if !kvadrere.ValidZoom(c.Zoom) {
		return fmt.Errorf("config: zoom %d outside of [%d, %d]", c.Zoom, kvadrere.MinZoom, kvadrere.MaxZoom)
	}
	if c.Workers < 0 {
		return fmt.Errorf("config: workers must not be negative")
	}
	if c.BoxCache.Enabled && c.BoxCache.MaxCost <= 0 {
		return fmt.Errorf("config: boxCache.maxCost must be positive")
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func (c *Config) newLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// newTiler builds the tiler and, if enabled, its box cache. The returned
// func releases the cache.
func (c *Config) newTiler() (*kvadrere.Tiler, func(), error) {
	options := []kvadrere.TilerOption{kvadrere.WithAdaptiveStart(c.AdaptiveStart)}
	release := func() {}

	if c.BoxCache.Enabled {
		cache, err := kvadrere.NewRistrettoBoxCache(kvadrere.WithMaxCost(c.BoxCache.MaxCost))
		if err != nil {
			return nil, nil, fmt.Errorf("creating box cache: %w", err)
		}
		options = append(options, kvadrere.WithBoxCache(cache))
		release = cache.Close
	}

	return kvadrere.NewTiler(options...), release, nil
}

func (c *Config) featureOptions() []kvadrere.FeatureOption {
	options := []kvadrere.FeatureOption{kvadrere.WithQuadKeyProperty(c.QuadKeyProperty)}
	if c.TileIDProperty != "" {
		options = append(options, kvadrere.WithTileIDProperty(c.TileIDProperty))
	}
	return options
}
