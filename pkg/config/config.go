// Package config loads the server configuration from a TOML file.
//
// Every key has a default, so loading without a file (empty path)
// yields a runnable single-node configuration: SQLite persistence, in-process fan-out,
// no Redis.
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml"
)

// Config is the full server configuration.
type Config struct {
	Server ServerConfig `toml:"server"`
	Store  StoreConfig  `toml:"store"`
	Fanout FanoutConfig `toml:"fanout"`
	Log    LogConfig    `toml:"log"`
}

// ServerConfig configures the WebSocket listener.
type ServerConfig struct {
	// Listen is the host:port the HTTP/WebSocket listener binds.
	Listen string `toml:"listen"`
	// SendQueue bounds each subscriber's outbound message queue;
	// a subscriber that falls this far behind is dropped.
	SendQueue int `toml:"send_queue"`
}

// StoreConfig selects and configures the persistence adapter.
type StoreConfig struct {
	// Driver is "sqlite", "bolt", or "memory".
	Driver string `toml:"driver"`
	// Path is the database file for sqlite and bolt drivers.
	Path string `toml:"path"`
}

// FanoutConfig configures cross-server delta distribution.
type FanoutConfig struct {
	// RedisAddr is the host:port of the Redis instance. Empty selects
	// the in-process bus (single-server deployment).
	RedisAddr string `toml:"redis_addr"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `toml:"level"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{Listen: "localhost:8737", SendQueue: 64},
		Store:  StoreConfig{Driver: "sqlite", Path: "docsync.db"},
		Log:    LogConfig{Level: "info"},
	}
}

// Load reads path and overlays it on the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Store.Driver {
	case "sqlite", "bolt", "memory":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Server.SendQueue <= 0 {
		return fmt.Errorf("send_queue must be positive, got %d", c.Server.SendQueue)
	}
	return nil
}
