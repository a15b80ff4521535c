package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are treated as fatal errors; silently
// ignoring a typo in a config file leads to hard-to-debug behavior.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns a
// Config populated with defaults plus environment overrides. This supports
// the zero-config first-run experience.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := DefaultConfig()
		applyEnvOverrides(cfg)

		if err := Validate(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}

		return cfg, nil
	}

	return Load(path)
}

// applyEnvOverrides applies FILEDRIFT_* environment variables on top of the
// loaded config. Environment beats file; CLI flags (handled by the caller)
// beat both.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FILEDRIFT_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}

	if v := os.Getenv("FILEDRIFT_DATA_DIR"); v != "" {
		cfg.Server.DataDir = v
	}

	if v := os.Getenv("FILEDRIFT_STAGING_DIR"); v != "" {
		cfg.Server.StagingDir = v
	}

	if v := os.Getenv("FILEDRIFT_STATE_PATH"); v != "" {
		cfg.Server.StatePath = v
	}

	if v := os.Getenv("FILEDRIFT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
