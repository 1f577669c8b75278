// Package config loads ButterflyDB's TOML configuration document via
// github.com/pelletier/go-toml/v2.
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

type NetworkConfig struct {
	BindAddress         string `toml:"bind_address"`
	Port                uint16 `toml:"port"`
	ConnectionTimeoutMs uint32 `toml:"connection_timeout_ms"`
}

// ReplicationConfig is retained for forward compatibility; unused by the
// core engine.
type ReplicationConfig struct {
	Mode                string `toml:"mode"`
	WriteQuorum         uint8  `toml:"write_quorum"`
	AutoFailoverEnabled bool   `toml:"auto_failover_enabled"`
}

type ResourceConfig struct {
	MaxDiskIORate            uint32  `toml:"max_disk_io_rate"`
	MaxConcurrentConnections uint32  `toml:"max_concurrent_connections"`
	MaxCPUPercent            float32 `toml:"max_cpu_percent"`
	EnableRateLimiting       bool    `toml:"enable_rate_limiting"`
	MaxRAMUsage              float64 `toml:"max_ram_usage"`
	DefaultPath              string  `toml:"default_path"`
}

type PoolConfig struct {
	MinConnections      uint32 `toml:"min_connections"`
	MaxConnections       uint32 `toml:"max_connections"`
	ConnectionTimeoutMs  uint64 `toml:"connection_timeout_ms"`
	IdleTimeoutMs        uint64 `toml:"idle_timeout_ms"`
}

// Config is the whole configuration document: a top-level name/
// server_count plus four sections.
type Config struct {
	Name        string            `toml:"name"`
	ServerCount uint8             `toml:"server_count"`
	Network     NetworkConfig     `toml:"network"`
	Replication ReplicationConfig `toml:"replication"`
	Resource    ResourceConfig    `toml:"resource"`
	Pool        PoolConfig        `toml:"pool"`
}

// Default returns the configuration used when no document is supplied, or
// as the base a loaded document's zero fields fall back to.
func Default() Config {
	return Config{
		Name:        "Butterfly_DB",
		ServerCount: 4,
		Network: NetworkConfig{
			BindAddress:         "0.0.0.0",
			Port:                6379,
			ConnectionTimeoutMs: 5000,
		},
		Replication: ReplicationConfig{
			Mode:                "Raft",
			WriteQuorum:         2,
			AutoFailoverEnabled: false,
		},
		Resource: ResourceConfig{
			MaxDiskIORate:            100,
			MaxConcurrentConnections: 500,
			MaxCPUPercent:            60.0,
			EnableRateLimiting:       false,
			MaxRAMUsage:              500.0,
			DefaultPath:              "./",
		},
		Pool: PoolConfig{
			MinConnections:      5,
			MaxConnections:      100,
			ConnectionTimeoutMs: 5000,
			IdleTimeoutMs:       60000,
		},
	}
}

// Load reads and parses a TOML config file at path, overlaying it onto
// Default(). A missing file is not an error: Default() is returned as-is,
// matching a zero-config "just start the server" CLI invocation.
func Load(path string) (Config, error) {
	cfg := Default()
	buf, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := toml.Unmarshal(buf, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// String renders the configuration for the --print-config CLI flag:
// printed and the process exits without starting the server.
func (c Config) String() string {
	buf, err := toml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("<config: marshal error: %s>", err)
	}
	return string(buf)
}
