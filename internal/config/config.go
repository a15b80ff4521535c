// Package config implements TOML configuration loading and validation for
// the filedrift server. It supports a three-layer override chain
// (defaults -> config file -> environment variables) with strict unknown-key
// detection so a typo in the config file fails fast instead of being
// silently ignored.
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Sync    SyncConfig    `toml:"sync"`
	Uploads UploadsConfig `toml:"uploads"`
	Logging LoggingConfig `toml:"logging"`
}

// ServerConfig holds the HTTP listener and on-disk layout.
type ServerConfig struct {
	ListenAddr string `toml:"listen_addr"`
	DataDir    string `toml:"data_dir"`    // final file payloads, per owner
	StagingDir string `toml:"staging_dir"` // in-progress upload chunks
	StatePath  string `toml:"state_path"`  // SQLite state database
}

// SyncConfig controls the scheduler poll loop.
type SyncConfig struct {
	PollInterval   string `toml:"poll_interval"`   // duration string, e.g. "5m"
	RunConcurrency int    `toml:"run_concurrency"` // max simultaneous device runs
}

// UploadsConfig controls chunked upload limits and expiry.
type UploadsConfig struct {
	MaxChunkSize  string `toml:"max_chunk_size"` // size string, e.g. "16MiB"
	RetentionDays int    `toml:"retention_days"` // abandoned upload retention
	SweepInterval string `toml:"sweep_interval"` // duration string, e.g. "24h"
}

// LoggingConfig controls the slog output.
type LoggingConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // auto, text, json
}

// Defaults for every tunable. These match the documented product defaults:
// 5 minute scheduler tick, daily sweeper, 7 day upload retention.
const (
	defaultListenAddr     = ":8420"
	defaultPollInterval   = "5m"
	defaultRunConcurrency = 4
	defaultMaxChunkSize   = "16MiB"
	defaultRetentionDays  = 7
	defaultSweepInterval  = "24h"
	defaultLogLevel       = "info"
	defaultLogFormat      = "auto"
)

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: defaultListenAddr,
			DataDir:    "/var/lib/filedrift/data",
			StagingDir: "/var/lib/filedrift/staging",
			StatePath:  "/var/lib/filedrift/state.db",
		},
		Sync: SyncConfig{
			PollInterval:   defaultPollInterval,
			RunConcurrency: defaultRunConcurrency,
		},
		Uploads: UploadsConfig{
			MaxChunkSize:  defaultMaxChunkSize,
			RetentionDays: defaultRetentionDays,
			SweepInterval: defaultSweepInterval,
		},
		Logging: LoggingConfig{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}

// PollInterval returns the parsed scheduler tick interval. Validate
// guarantees the string parses, so errors here are impossible after a
// successful Load.
func (c *Config) PollInterval() time.Duration {
	d, _ := time.ParseDuration(c.Sync.PollInterval)
	return d
}

// SweepInterval returns the parsed sweeper cadence.
func (c *Config) SweepInterval() time.Duration {
	d, _ := time.ParseDuration(c.Uploads.SweepInterval)
	return d
}

// Retention returns the abandoned-upload retention window.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Uploads.RetentionDays) * 24 * time.Hour
}

// MaxChunkSize returns the parsed maximum chunk size in bytes.
func (c *Config) MaxChunkSize() int64 {
	n, _ := ParseSize(c.Uploads.MaxChunkSize)
	return n
}
