// -----------------------------------------------------------------------
// Configuration - Defaults, TOML file and environment overrides
// -----------------------------------------------------------------------

package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Sink types accepted by storage.sink
const (
	SinkTypeFile   = "file"
	SinkTypeBadger = "badger"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production" - ingestion is disabled in production
	Server      ServerConfig    `toml:"server"`
	Logging     LoggingConfig   `toml:"logging"`
	Buffer      BufferConfig    `toml:"buffer"`
	Storage     StorageConfig   `toml:"storage"`
	WebSocket   WebSocketConfig `toml:"websocket"`
}

type ServerConfig struct {
	Port         int     `toml:"port"`
	Host         string  `toml:"host"`
	MaxBodyBytes int64   `toml:"max_body_bytes"` // Upper bound for a decoded POST body
	RateLimit    float64 `toml:"rate_limit"`     // Ingestion requests per second per session, 0 disables
	RateBurst    int     `toml:"rate_burst"`     // Burst allowance for rate_limit
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Format     string   `toml:"format"`      // "json" or "text"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05.000")
	Dir        string   `toml:"dir"`         // Directory for the service log file (default: next to the executable)
}

// BufferConfig controls the per-session ordering buffer
type BufferConfig struct {
	CleanupOnFirstSight   bool   `toml:"cleanup_on_first_sight"`  // Delete stale client_* artifacts when a session is first seen
	MaxConcurrentSessions int    `toml:"max_concurrent_sessions"` // Sessions drained in parallel per batch
	EvictionSchedule      string `toml:"eviction_schedule"`       // Cron spec for idle eviction, empty disables
	IdleTimeout           string `toml:"idle_timeout"`            // Sessions idle longer than this are evicted (e.g. "30m")
}

type StorageConfig struct {
	Sink   string       `toml:"sink"` // Primary sink: "file" or "badger"
	Files  FilesConfig  `toml:"files"`
	Badger BadgerConfig `toml:"badger"`
}

// FilesConfig represents the per-session log file directory
type FilesConfig struct {
	Dir            string `toml:"dir"`              // Directory holding client_<session>.log files
	Sync           bool   `toml:"sync"`             // fsync after each appended line
	ArchiveOnPurge bool   `toml:"archive_on_purge"` // gzip purged files into <dir>/archive instead of deleting
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Enabled        bool   `toml:"enabled"`          // Store lines and cursors in Badger
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// WebSocketConfig contains configuration for live session tailing
type WebSocketConfig struct {
	SendBuffer   int    `toml:"send_buffer"`   // Lines queued per subscriber before dropping
	PingInterval string `toml:"ping_interval"` // Keepalive ping interval (default: "30s")
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port:         3100,
			Host:         "localhost",
			MaxBodyBytes: 5 * 1024 * 1024, // 5MB
			RateLimit:    0,
			RateBurst:    50,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05.000",
		},
		Buffer: BufferConfig{
			CleanupOnFirstSight:   false, // Disabled by default - stale files are kept
			MaxConcurrentSessions: 8,
			EvictionSchedule:      "", // Buffers live for the process lifetime unless configured
			IdleTimeout:           "30m",
		},
		Storage: StorageConfig{
			Sink: SinkTypeFile,
			Files: FilesConfig{
				Dir:  "./logs/client",
				Sync: true,
			},
			Badger: BadgerConfig{
				Enabled: false,
				Path:    "./data/seqlog",
			},
		},
		WebSocket: WebSocketConfig{
			SendBuffer:   256,
			PingInterval: "30s",
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority: default -> file1 -> file2 -> ... -> env
// Later files override earlier files. CLI flags are applied afterwards by ApplyFlagOverrides.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		// Unmarshal into config (merges with existing values, later values override)
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	// Environment configuration (highest priority: SEQLOG_ENV, fallback: GO_ENV)
	if env := os.Getenv("SEQLOG_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("SEQLOG_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("SEQLOG_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if rateLimit := os.Getenv("SEQLOG_SERVER_RATE_LIMIT"); rateLimit != "" {
		if rl, err := strconv.ParseFloat(rateLimit, 64); err == nil {
			config.Server.RateLimit = rl
		}
	}

	// Logging configuration
	if level := os.Getenv("SEQLOG_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("SEQLOG_LOG_OUTPUT"); output != "" {
		outputs := splitList(output)
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Buffer configuration
	if cleanup := os.Getenv("SEQLOG_BUFFER_CLEANUP_ON_FIRST_SIGHT"); cleanup != "" {
		if c, err := strconv.ParseBool(cleanup); err == nil {
			config.Buffer.CleanupOnFirstSight = c
		}
	}
	if schedule := os.Getenv("SEQLOG_BUFFER_EVICTION_SCHEDULE"); schedule != "" {
		config.Buffer.EvictionSchedule = schedule
	}
	if idle := os.Getenv("SEQLOG_BUFFER_IDLE_TIMEOUT"); idle != "" {
		config.Buffer.IdleTimeout = idle
	}

	// Storage configuration
	if sink := os.Getenv("SEQLOG_STORAGE_SINK"); sink != "" {
		config.Storage.Sink = sink
	}
	if dir := os.Getenv("SEQLOG_STORAGE_FILES_DIR"); dir != "" {
		config.Storage.Files.Dir = dir
	}
	if enabled := os.Getenv("SEQLOG_BADGER_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Storage.Badger.Enabled = e
		}
	}
	if badgerPath := os.Getenv("SEQLOG_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	// Command-line flags have highest priority
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks values that would otherwise fail later at runtime
func (c *Config) Validate() error {
	switch c.Storage.Sink {
	case SinkTypeFile:
	case SinkTypeBadger:
		if !c.Storage.Badger.Enabled {
			return fmt.Errorf("storage.sink = %q requires storage.badger.enabled = true", c.Storage.Sink)
		}
	default:
		return fmt.Errorf("unsupported storage sink: %s (expected %q or %q)", c.Storage.Sink, SinkTypeFile, SinkTypeBadger)
	}

	if c.Buffer.EvictionSchedule != "" {
		if _, err := cron.ParseStandard(c.Buffer.EvictionSchedule); err != nil {
			return fmt.Errorf("invalid buffer.eviction_schedule: %w", err)
		}
		if _, err := time.ParseDuration(c.Buffer.IdleTimeout); err != nil {
			return fmt.Errorf("invalid buffer.idle_timeout: %w", err)
		}
	}

	if c.Buffer.MaxConcurrentSessions < 0 {
		return fmt.Errorf("buffer.max_concurrent_sessions must not be negative")
	}

	return nil
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// IdleTimeout returns the parsed buffer idle timeout, zero when unset or invalid
func (c *Config) IdleTimeout() time.Duration {
	d, err := time.ParseDuration(c.Buffer.IdleTimeout)
	if err != nil {
		return 0
	}
	return d
}

// PingInterval returns the websocket keepalive interval
func (c *Config) PingInterval() time.Duration {
	d, err := time.ParseDuration(c.WebSocket.PingInterval)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// splitList splits a comma-separated env value, dropping empty items
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
