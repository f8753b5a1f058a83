// Package config handles configuration loading and validation for revwatch.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	GitPath   string          `yaml:"git_path"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Watch     WatchConfig     `yaml:"watch"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	DataDir   string          `yaml:"-"` // set by caller, not from config file
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// Pprof mounts the net/http/pprof handlers under /debug/pprof/.
	Pprof bool `yaml:"pprof"`
}

// DatabaseConfig configures the SQLite connection pool.
type DatabaseConfig struct {
	MaxOpenConns int `yaml:"max_open_conns"`
	MaxIdleConns int `yaml:"max_idle_conns"`
	BusyTimeout  int `yaml:"busy_timeout"` // milliseconds
}

// WatchConfig tunes automatic captures.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
	MinGap   time.Duration `yaml:"min_gap"`
	// Ignore holds extra doublestar patterns, relative to the repository
	// root, on top of the built-in noise directories.
	Ignore []string `yaml:"ignore"`
	// Resume restarts watches that were active when the server last stopped.
	Resume *bool `yaml:"resume"`
}

// BroadcastConfig tunes live event delivery.
type BroadcastConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	resume := true
	return Config{
		GitPath: "git",
		Server: ServerConfig{
			Addr:            "127.0.0.1:4610",
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns: 10,
			MaxIdleConns: 5,
			BusyTimeout:  5000,
		},
		Watch: WatchConfig{
			Debounce: 1500 * time.Millisecond,
			MinGap:   3000 * time.Millisecond,
			Ignore:   []string{},
			Resume:   &resume,
		},
		Broadcast: BroadcastConfig{
			HeartbeatInterval: 30 * time.Second,
		},
	}
}

// Load reads configuration from the given path and sets the data directory.
// If configPath is empty or doesn't exist, returns defaults with the provided dataDir.
func Load(configPath, dataDir string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.DataDir = dataDir

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}

			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}

			// Re-set dataDir since Unmarshal may have cleared it
			cfg.DataDir = dataDir
		}
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for any unset configuration options.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.GitPath == "" {
		c.GitPath = defaults.GitPath
	}
	if c.Server.Addr == "" {
		c.Server.Addr = defaults.Server.Addr
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = defaults.Server.ShutdownTimeout
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = defaults.Database.MaxOpenConns
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = defaults.Database.MaxIdleConns
	}
	if c.Database.BusyTimeout == 0 {
		c.Database.BusyTimeout = defaults.Database.BusyTimeout
	}
	if c.Watch.Debounce == 0 {
		c.Watch.Debounce = defaults.Watch.Debounce
	}
	if c.Watch.MinGap == 0 {
		c.Watch.MinGap = defaults.Watch.MinGap
	}
	if c.Watch.Ignore == nil {
		c.Watch.Ignore = defaults.Watch.Ignore
	}
	if c.Watch.Resume == nil {
		c.Watch.Resume = defaults.Watch.Resume
	}
	if c.Broadcast.HeartbeatInterval == 0 {
		c.Broadcast.HeartbeatInterval = defaults.Broadcast.HeartbeatInterval
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.GitPath == "" {
		return fmt.Errorf("git_path cannot be empty")
	}

	if c.DataDir == "" {
		return fmt.Errorf("data directory cannot be empty")
	}

	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr cannot be empty")
	}

	if c.Database.MaxOpenConns < 1 {
		return fmt.Errorf("database.max_open_conns must be at least 1")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.BusyTimeout < 0 {
		return fmt.Errorf("database.busy_timeout cannot be negative")
	}

	if c.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce cannot be negative")
	}
	if c.Watch.MinGap < 0 {
		return fmt.Errorf("watch.min_gap cannot be negative")
	}
	if c.Broadcast.HeartbeatInterval < 0 {
		return fmt.Errorf("broadcast.heartbeat_interval cannot be negative")
	}

	return nil
}

// ResumeWatches reports whether watches should be restored on start.
func (c *Config) ResumeWatches() bool {
	return c.Watch.Resume == nil || *c.Watch.Resume
}
