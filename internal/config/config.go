// Package config loads settings for the cache daemon and the MCP server.
//
// Values are resolved in three layers: built-in defaults, an optional YAML
// file named by HOTCACHE_CONFIG, then individual HOTCACHE_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"github.com/leonardcser/hotcache/internal/lru"
)

const envConfigFile = "HOTCACHE_CONFIG"

// Config holds every tunable of both binaries.
type Config struct {
	SocketPath    string        `yaml:"socket_path"`
	DBPath        string        `yaml:"db_path"`
	Bucket        string        `yaml:"bucket"`
	DefaultTTL    time.Duration `yaml:"default_ttl"`
	FetchTTL      time.Duration `yaml:"fetch_ttl"`
	HotCapacity   int           `yaml:"hot_capacity"`
	HotMaxAge     time.Duration `yaml:"hot_max_age"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	MetricsAddr   string        `yaml:"metrics_addr"`
	LogPath       string        `yaml:"log_path"`
	LogLevel      string        `yaml:"log_level"`
}

var (
	ErrEmptySocketPath = errors.New("config: socket path is empty")
	ErrEmptyDBPath     = errors.New("config: db path is empty")
	ErrHotCapacity     = errors.New("config: hot capacity must be positive")
)

// Default returns the built-in settings rooted at ~/.cache/hotcache.
func Default() Config {
	dir := cacheDir()
	return Config{
		SocketPath:    filepath.Join(dir, "cache.sock"),
		DBPath:        filepath.Join(dir, "cache.bbolt"),
		Bucket:        "web",
		DefaultTTL:    15 * time.Minute,
		FetchTTL:      15 * time.Minute,
		HotCapacity:   lru.DefaultCapacity,
		HotMaxAge:     time.Minute,
		SweepInterval: 5 * time.Minute,
		LogLevel:      "info",
	}
}

// Load resolves the configuration from defaults, file and environment.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv(envConfigFile); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate reports settings neither binary can run with.
func (c Config) Validate() error {
	switch {
	case c.SocketPath == "":
		return ErrEmptySocketPath
	case c.DBPath == "":
		return ErrEmptyDBPath
	case c.HotCapacity <= 0:
		return fmt.Errorf("%w: %d", ErrHotCapacity, c.HotCapacity)
	}
	return nil
}

func (c *Config) loadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	for key, v := range raw {
		if err := c.set(key, v); err != nil {
			return fmt.Errorf("config: %s: %w", path, err)
		}
	}
	return nil
}

// envKeys maps environment variables onto the yaml keys they override.
var envKeys = map[string]string{
	"HOTCACHE_SOCK":           "socket_path",
	"HOTCACHE_DB":             "db_path",
	"HOTCACHE_BUCKET":         "bucket",
	"HOTCACHE_DEFAULT_TTL":    "default_ttl",
	"HOTCACHE_FETCH_TTL":      "fetch_ttl",
	"HOTCACHE_HOT_CAPACITY":   "hot_capacity",
	"HOTCACHE_HOT_MAX_AGE":    "hot_max_age",
	"HOTCACHE_SWEEP_INTERVAL": "sweep_interval",
	"HOTCACHE_METRICS_ADDR":   "metrics_addr",
	"HOTCACHE_LOG":            "log_path",
	"HOTCACHE_LOG_LEVEL":      "log_level",
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	for env, key := range envKeys {
		v, ok := lookup(env)
		if !ok || v == "" {
			continue
		}
		if err := c.set(key, v); err != nil {
			return fmt.Errorf("config: %s: %w", env, err)
		}
	}
	return nil
}

// set assigns one yaml-named field, coercing v with cast.
func (c *Config) set(key string, v any) error {
	var err error
	switch key {
	case "socket_path":
		c.SocketPath, err = cast.ToStringE(v)
	case "db_path":
		c.DBPath, err = cast.ToStringE(v)
	case "bucket":
		c.Bucket, err = cast.ToStringE(v)
	case "metrics_addr":
		c.MetricsAddr, err = cast.ToStringE(v)
	case "log_path":
		c.LogPath, err = cast.ToStringE(v)
	case "log_level":
		c.LogLevel, err = cast.ToStringE(v)
	case "hot_capacity":
		c.HotCapacity, err = cast.ToIntE(v)
	case "default_ttl":
		c.DefaultTTL, err = cast.ToDurationE(v)
	case "fetch_ttl":
		c.FetchTTL, err = cast.ToDurationE(v)
	case "hot_max_age":
		c.HotMaxAge, err = cast.ToDurationE(v)
	case "sweep_interval":
		c.SweepInterval, err = cast.ToDurationE(v)
	default:
		return fmt.Errorf("unknown key %q", key)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}

func cacheDir() string {
	home, _ := os.UserHomeDir()
	if home == "" {
		home = "."
	}
	return filepath.Join(home, ".cache", "hotcache")
}
