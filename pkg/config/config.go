// Package config defines the runtime configuration consumed by the
// electrs storage and indexing subsystems. The full loader (flags,
// environment, config file) lives with the daemon entry point; this
// package holds the value type, its defaults and validation.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
)

// Config holds the settings the storage layer consumes at open time.
type Config struct {
	// DBDir is the root directory for all on-disk index data. Each
	// network gets its own database directory beneath it.
	DBDir string

	// Network selects the chain being indexed (mainnet, testnet,
	// regtest, signet).
	Network string

	// ReadOnly opens the database without write access. Mutating
	// storage operations become no-ops, and a missing database
	// directory is never created. Used by serving-only processes.
	ReadOnly bool

	// LightMode reduces the on-disk footprint by fetching some data
	// from the daemon on demand instead of indexing it. Its state is
	// recorded in the database compatibility marker, so it cannot be
	// toggled on an existing database without a reindex.
	LightMode bool

	// LogLevel controls log verbosity (debug, info, warn, error).
	LogLevel string

	// LogFormat selects the log output encoding (json, text).
	LogFormat string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DBDir:     "./db",
		Network:   "mainnet",
		ReadOnly:  false,
		LightMode: false,
		LogLevel:  "info",
		LogFormat: "json",
	}
}

// Validate checks configuration values for correctness.
func (c *Config) Validate() error {
	if c.DBDir == "" {
		return errors.New("config: db dir must not be empty")
	}
	switch c.Network {
	case "mainnet", "testnet", "regtest", "signet":
	default:
		return fmt.Errorf("config: unknown network %q", c.Network)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("config: unknown log format %q", c.LogFormat)
	}
	return nil
}

// DBPath returns the database directory for the configured network.
func (c *Config) DBPath() string {
	return filepath.Join(c.DBDir, c.Network)
}
