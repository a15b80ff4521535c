package config

import (
	"errors"
	"fmt"
	"time"
)

// Validation bounds. The poll interval floor prevents a misconfigured
// sub-second tick from hammering the schedule table.
const (
	minPollInterval  = 10 * time.Second
	minSweepInterval = time.Minute
	maxRunConcurrency = 64
)

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

var validLogFormats = map[string]bool{
	"auto": true, "text": true, "json": true,
}

// Validate checks a fully-resolved Config for internal consistency.
// It returns the first problem found.
func Validate(cfg *Config) error {
	if cfg.Server.ListenAddr == "" {
		return errors.New("server.listen_addr must not be empty")
	}

	if cfg.Server.DataDir == "" {
		return errors.New("server.data_dir must not be empty")
	}

	if cfg.Server.StagingDir == "" {
		return errors.New("server.staging_dir must not be empty")
	}

	if cfg.Server.StatePath == "" {
		return errors.New("server.state_path must not be empty")
	}

	if err := validateSync(&cfg.Sync); err != nil {
		return err
	}

	if err := validateUploads(&cfg.Uploads); err != nil {
		return err
	}

	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level %q: must be debug, info, warn, or error", cfg.Logging.Level)
	}

	if !validLogFormats[cfg.Logging.Format] {
		return fmt.Errorf("logging.format %q: must be auto, text, or json", cfg.Logging.Format)
	}

	return nil
}

func validateSync(sc *SyncConfig) error {
	d, err := time.ParseDuration(sc.PollInterval)
	if err != nil {
		return fmt.Errorf("sync.poll_interval %q: %w", sc.PollInterval, err)
	}

	if d < minPollInterval {
		return fmt.Errorf("sync.poll_interval %q: minimum is %s", sc.PollInterval, minPollInterval)
	}

	if sc.RunConcurrency < 1 || sc.RunConcurrency > maxRunConcurrency {
		return fmt.Errorf("sync.run_concurrency %d: must be between 1 and %d",
			sc.RunConcurrency, maxRunConcurrency)
	}

	return nil
}

func validateUploads(uc *UploadsConfig) error {
	n, err := ParseSize(uc.MaxChunkSize)
	if err != nil {
		return fmt.Errorf("uploads.max_chunk_size: %w", err)
	}

	if n <= 0 {
		return fmt.Errorf("uploads.max_chunk_size %q: must be positive", uc.MaxChunkSize)
	}

	if uc.RetentionDays < 1 {
		return fmt.Errorf("uploads.retention_days %d: must be at least 1", uc.RetentionDays)
	}

	d, err := time.ParseDuration(uc.SweepInterval)
	if err != nil {
		return fmt.Errorf("uploads.sweep_interval %q: %w", uc.SweepInterval, err)
	}

	if d < minSweepInterval {
		return fmt.Errorf("uploads.sweep_interval %q: minimum is %s", uc.SweepInterval, minSweepInterval)
	}

	return nil
}
