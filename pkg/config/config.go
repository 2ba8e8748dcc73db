// Package config provides configuration management for faultline.
// Supports TOML configuration files with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

var (
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingValue  = errors.New("missing required configuration value")
)

// Duration is a time.Duration that reads and writes TOML strings such as "5s".
type Duration struct {
	time.Duration
}

// D wraps a time.Duration
func D(d time.Duration) Duration { return Duration{d} }

// D returns the wrapped time.Duration
func (d Duration) D() time.Duration { return d.Duration }

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config holds all faultline configuration
type Config struct {
	Logging  LoggingConfig  `toml:"logging"`
	Log      ErrorLogConfig `toml:"error_log"`
	Store    StoreConfig    `toml:"store"`
	Boundary BoundaryConfig `toml:"boundary"`
	Display  DisplayConfig  `toml:"display"`
	Network  NetworkConfig  `toml:"network"`
	Offline  OfflineConfig  `toml:"offline"`
	Stream   StreamConfig   `toml:"stream"`
	Metrics  MetricsConfig  `toml:"metrics"`
}

// LoggingConfig configures the process logger
type LoggingConfig struct {
	// Level is one of debug, info, warn, error
	Level string `toml:"level" env:"FAULTLINE_LOG_LEVEL"`

	// Format is "json" or "text"
	Format string `toml:"format" env:"FAULTLINE_LOG_FORMAT"`

	// Output is "stdout", "stderr", "discard" or a file path
	Output string `toml:"output" env:"FAULTLINE_LOG_OUTPUT"`
}

// ErrorLogConfig configures the fault log
type ErrorLogConfig struct {
	// DBPath is the SQLite database holding the persisted log and offline queue.
	// Empty keeps everything in memory.
	DBPath string `toml:"db_path" env:"FAULTLINE_DB_PATH"`

	// RingCapacity bounds the in-memory log
	RingCapacity int `toml:"ring_capacity"`

	// PersistedCapacity bounds the persisted log
	PersistedCapacity int `toml:"persisted_capacity"`

	// TrustedDev keeps developer fields (cause, stack) in persisted and exported records
	TrustedDev bool `toml:"trusted_dev" env:"FAULTLINE_TRUSTED_DEV"`

	// Denylist extends the detail keys stripped before persistence
	Denylist []string `toml:"denylist"`
}

// StoreConfig configures the error store
type StoreConfig struct {
	VisibleLimit    int      `toml:"visible_limit"`
	DedupWindow     Duration `toml:"dedup_window"`
	HistoryCapacity int      `toml:"history_capacity"`
}

// BoundaryConfig configures render fault boundaries
type BoundaryConfig struct {
	RetryCap int `toml:"retry_cap"`
}

// DisplayConfig configures the display surfaces
type DisplayConfig struct {
	ToastTimeout Duration `toml:"toast_timeout"`
	MaxToasts    int      `toml:"max_toasts"`
}

// NetworkConfig configures the network client interceptor
type NetworkConfig struct {
	// BaseURL is prefixed to relative request paths
	BaseURL string `toml:"base_url" env:"FAULTLINE_BASE_URL"`

	Timeout    Duration `toml:"timeout"`
	MaxRetries int      `toml:"max_retries"`
	BaseDelay  Duration `toml:"base_delay"`
	MaxDelay   Duration `toml:"max_delay"`

	// RateLimit is the sustained request rate per second (0 = unlimited)
	RateLimit float64 `toml:"rate_limit"`
	Burst     int     `toml:"burst"`
}

// OfflineConfig configures the offline queue
type OfflineConfig struct {
	MaxAttempts int `toml:"max_attempts"`
}

// StreamConfig configures the event-stream reconnector
type StreamConfig struct {
	// URL of the websocket event stream. Empty disables the stream.
	URL string `toml:"url" env:"FAULTLINE_STREAM_URL"`

	HeartbeatTimeout Duration `toml:"heartbeat_timeout"`
	BaseDelay        Duration `toml:"base_delay"`
	MaxDelay         Duration `toml:"max_delay"`
	MaxJitter        Duration `toml:"max_jitter"`
	MaxAttempts      int      `toml:"max_attempts"`

	// Resume sends the last event ID when reconnecting
	Resume bool `toml:"resume"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" env:"FAULTLINE_METRICS_ENABLED"`
	Addr    string `toml:"addr" env:"FAULTLINE_METRICS_ADDR"`
}

// DefaultConfig returns a configuration with defaults
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Log: ErrorLogConfig{
			DBPath:            DefaultDBPath(),
			RingCapacity:      50,
			PersistedCapacity: 500,
		},
		Store: StoreConfig{
			VisibleLimit:    3,
			DedupWindow:     D(5 * time.Second),
			HistoryCapacity: 100,
		},
		Boundary: BoundaryConfig{
			RetryCap: 3,
		},
		Display: DisplayConfig{
			ToastTimeout: D(5 * time.Second),
			MaxToasts:    3,
		},
		Network: NetworkConfig{
			Timeout:    D(10 * time.Second),
			MaxRetries: 5,
			BaseDelay:  D(time.Second),
			MaxDelay:   D(30 * time.Second),
		},
		Offline: OfflineConfig{
			MaxAttempts: 5,
		},
		Stream: StreamConfig{
			HeartbeatTimeout: D(10 * time.Second),
			BaseDelay:        D(time.Second),
			MaxDelay:         D(30 * time.Second),
			MaxJitter:        D(500 * time.Millisecond),
			MaxAttempts:      10,
			Resume:           true,
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9464",
		},
	}
}

// DefaultDBPath returns the per-user database location
func DefaultDBPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "faultline", "faultline.db")
	}
	return "faultline.db"
}

// ConfigPaths returns the default configuration file locations
func ConfigPaths() []string {
	paths := []string{"faultline.toml"}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "faultline", "config.toml"))
	}
	return append(paths, "/etc/faultline/config.toml")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: logging.level must be debug, info, warn or error, got %q", ErrInvalidConfig, c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("%w: logging.format must be json or text, got %q", ErrInvalidConfig, c.Logging.Format)
	}

	positive := []struct {
		name  string
		value int
	}{
		{"error_log.ring_capacity", c.Log.RingCapacity},
		{"error_log.persisted_capacity", c.Log.PersistedCapacity},
		{"store.visible_limit", c.Store.VisibleLimit},
		{"store.history_capacity", c.Store.HistoryCapacity},
		{"boundary.retry_cap", c.Boundary.RetryCap},
		{"display.max_toasts", c.Display.MaxToasts},
		{"offline.max_attempts", c.Offline.MaxAttempts},
		{"stream.max_attempts", c.Stream.MaxAttempts},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, p.name)
		}
	}
	if c.Network.MaxRetries < 0 {
		return fmt.Errorf("%w: network.max_retries must not be negative", ErrInvalidConfig)
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"store.dedup_window", c.Store.DedupWindow.Duration},
		{"display.toast_timeout", c.Display.ToastTimeout.Duration},
		{"network.timeout", c.Network.Timeout.Duration},
		{"network.base_delay", c.Network.BaseDelay.Duration},
		{"network.max_delay", c.Network.MaxDelay.Duration},
		{"stream.heartbeat_timeout", c.Stream.HeartbeatTimeout.Duration},
		{"stream.base_delay", c.Stream.BaseDelay.Duration},
		{"stream.max_delay", c.Stream.MaxDelay.Duration},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, d.name)
		}
	}
	if c.Network.MaxDelay.Duration < c.Network.BaseDelay.Duration {
		return fmt.Errorf("%w: network.max_delay is below network.base_delay", ErrInvalidConfig)
	}
	if c.Stream.MaxDelay.Duration < c.Stream.BaseDelay.Duration {
		return fmt.Errorf("%w: stream.max_delay is below stream.base_delay", ErrInvalidConfig)
	}
	if c.Stream.MaxJitter.Duration < 0 {
		return fmt.Errorf("%w: stream.max_jitter must not be negative", ErrInvalidConfig)
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("%w: metrics.addr", ErrMissingValue)
	}
	return nil
}
