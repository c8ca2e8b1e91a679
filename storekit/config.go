package storekit

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Mode selects how the manager fans out writes.
type Mode string

const (
	// ModeLocalOnly writes to the local backend only.
	ModeLocalOnly Mode = "localOnly"

	// ModeDualWrite writes to the local backend synchronously and replicates
	// to the remote backend in the background.
	ModeDualWrite Mode = "dualWrite"
)

// Config holds engine configuration.
type Config struct {
	// Mode is localOnly or dualWrite.
	Mode Mode

	// SyncInterval is how often the background worker drains the retry queue.
	SyncInterval time.Duration

	// MaxRetries is the number of remote attempts per queued write before it
	// is dropped with an error log.
	MaxRetries int

	// MaxQueueSize bounds the retry queue; the oldest entry is evicted with a
	// warning when the bound is hit.
	MaxQueueSize int

	// InitialBackoff and MaxBackoff shape the exponential retry delay:
	// InitialBackoff * 2^attempt, capped at MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// ValidateOnWrite runs registered validators on every set.
	ValidateOnWrite bool

	// EnableSyncWorker starts the background queue worker in dualWrite mode.
	EnableSyncWorker bool
}

// DefaultConfig returns production defaults matching the engine's local-first
// posture: a 5 second sync cycle, three retries with 1s..30s backoff, and a
// queue bounded at 1000 entries.
func DefaultConfig() Config {
	return Config{
		Mode:             ModeLocalOnly,
		SyncInterval:     5 * time.Second,
		MaxRetries:       3,
		MaxQueueSize:     1000,
		InitialBackoff:   time.Second,
		MaxBackoff:       30 * time.Second,
		ValidateOnWrite:  true,
		EnableSyncWorker: true,
	}
}

// Validate checks the configuration for internally inconsistent settings.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeLocalOnly, ModeDualWrite:
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	if c.Mode == ModeDualWrite && c.SyncInterval <= 0 {
		return fmt.Errorf("sync interval must be positive in dualWrite mode")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative")
	}
	if c.MaxQueueSize <= 0 {
		return fmt.Errorf("max queue size must be positive")
	}
	if c.InitialBackoff <= 0 || c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("backoff bounds invalid: initial=%s max=%s", c.InitialBackoff, c.MaxBackoff)
	}
	return nil
}

// fileConfig is the on-disk shape. Intervals are expressed in milliseconds.
type fileConfig struct {
	Mode             string `json:"mode" yaml:"mode"`
	SyncIntervalMs   int    `json:"sync_interval_ms" yaml:"sync_interval_ms"`
	MaxRetries       *int   `json:"max_retries" yaml:"max_retries"`
	MaxQueueSize     int    `json:"max_queue_size" yaml:"max_queue_size"`
	InitialBackoffMs int    `json:"initial_backoff_ms" yaml:"initial_backoff_ms"`
	MaxBackoffMs     int    `json:"max_backoff_ms" yaml:"max_backoff_ms"`
	ValidateOnWrite  *bool  `json:"validate_on_write" yaml:"validate_on_write"`
	EnableSyncWorker *bool  `json:"enable_sync_worker" yaml:"enable_sync_worker"`
}

// LoadConfig reads engine configuration from a YAML or JSON file, detected by
// extension, applying defaults for anything unset.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return ParseConfig(data, detectFormat(path))
}

// ParseConfig parses raw configuration bytes in the given format ("yaml" or
// "json").
func ParseConfig(data []byte, format string) (Config, error) {
	var fc fileConfig

	switch strings.ToLower(format) {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return Config{}, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case "json":
		if err := json.Unmarshal(data, &fc); err != nil {
			return Config{}, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return Config{}, fmt.Errorf("unsupported config format: %s", format)
	}

	cfg := DefaultConfig()
	if fc.Mode != "" {
		cfg.Mode = Mode(fc.Mode)
	}
	if fc.SyncIntervalMs > 0 {
		cfg.SyncInterval = time.Duration(fc.SyncIntervalMs) * time.Millisecond
	}
	if fc.MaxRetries != nil {
		cfg.MaxRetries = *fc.MaxRetries
	}
	if fc.MaxQueueSize > 0 {
		cfg.MaxQueueSize = fc.MaxQueueSize
	}
	if fc.InitialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(fc.InitialBackoffMs) * time.Millisecond
	}
	if fc.MaxBackoffMs > 0 {
		cfg.MaxBackoff = time.Duration(fc.MaxBackoffMs) * time.Millisecond
	}
	if fc.ValidateOnWrite != nil {
		cfg.ValidateOnWrite = *fc.ValidateOnWrite
	}
	if fc.EnableSyncWorker != nil {
		cfg.EnableSyncWorker = *fc.EnableSyncWorker
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// detectFormat determines file format from extension.
func detectFormat(path string) string {
	idx := strings.LastIndex(path, ".")
	if idx < 0 {
		return "yaml"
	}
	switch strings.ToLower(path[idx+1:]) {
	case "json":
		return "json"
	default:
		return "yaml"
	}
}
