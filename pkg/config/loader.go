package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Load loads configuration from a file path. An empty path searches
// ConfigPaths and falls back to defaults when nothing is found.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		for _, p := range ConfigPaths() {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("FAULTLINE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("FAULTLINE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("FAULTLINE_LOG_OUTPUT"); v != "" {
		cfg.Logging.Output = v
	}

	if v, ok := os.LookupEnv("FAULTLINE_DB_PATH"); ok {
		cfg.Log.DBPath = v
	}
	if v := os.Getenv("FAULTLINE_TRUSTED_DEV"); v != "" {
		cfg.Log.TrustedDev = parseBool(v)
	}

	if v := os.Getenv("FAULTLINE_BASE_URL"); v != "" {
		cfg.Network.BaseURL = v
	}
	if v := os.Getenv("FAULTLINE_STREAM_URL"); v != "" {
		cfg.Stream.URL = v
	}

	if v := os.Getenv("FAULTLINE_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("FAULTLINE_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}

	return nil
}

func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes"
}

// Save saves the configuration to a file
func Save(cfg *Config, path string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("cannot save invalid configuration: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Forward slashes keep Windows paths from being read as TOML escapes.
	cfgCopy := *cfg
	cfgCopy.Log.DBPath = filepath.ToSlash(cfg.Log.DBPath)

	data, err := toml.Marshal(&cfgCopy)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GenerateExampleConfig generates an example configuration file
func GenerateExampleConfig(path string) error {
	cfg := DefaultConfig()
	cfg.Network.BaseURL = "https://api.example.com"
	cfg.Stream.URL = "wss://api.example.com/events"
	return Save(cfg, path)
}
