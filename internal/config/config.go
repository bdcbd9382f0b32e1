// Package config provides configuration management for marrow.
// It loads settings from environment variables with the MARROW_ prefix,
// provides sensible defaults for every option, and optionally applies an
// overlay from a YAML file so that installer scripts can pin settings
// without touching the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the marrow server.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Memory  MemoryConfig  `yaml:"memory"`
	Tools   ToolsConfig   `yaml:"tools"`
}

// ServerConfig contains protocol server configuration.
type ServerConfig struct {
	// Name and Version are reported in the initialize handshake.
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// CallTimeout bounds every tool invocation. Zero disables the bound.
	CallTimeout time.Duration `yaml:"call_timeout"`

	// WSListen is the address for the websocket transport (e.g. 127.0.0.1:6410).
	// Empty means stdio only.
	WSListen string `yaml:"ws_listen"`
}

// StorageConfig contains storage engine configuration.
type StorageConfig struct {
	Engine      string `yaml:"engine"`       // sqlite or postgres (default: sqlite)
	DataPath    string `yaml:"data_path"`    // data directory (default: ./data)
	PostgresDSN string `yaml:"postgres_dsn"` // DSN when engine is postgres
}

// MemoryConfig tunes the memory store and interconnect.
type MemoryConfig struct {
	// LinkThreshold is the minimum similarity for a concept link to appear
	// in the graph. Range (0,1].
	LinkThreshold float64 `yaml:"link_threshold"`

	// ConsolidateThreshold is the minimum similarity at which two entries of
	// the same category are considered near-duplicates.
	ConsolidateThreshold float64 `yaml:"consolidate_threshold"`

	// RelatedLimit caps relatedTo results when the caller does not ask for a limit.
	RelatedLimit int `yaml:"related_limit"`
}

// ToolsConfig bounds the built-in tool families.
type ToolsConfig struct {
	// WorkspaceRoot confines file tools. Empty means the current directory.
	WorkspaceRoot string `yaml:"workspace_root"`

	// ShellTimeoutCeiling is the hard upper bound for shell_run timeouts,
	// regardless of what the caller asks for.
	ShellTimeoutCeiling time.Duration `yaml:"shell_timeout_ceiling"`

	// WebFetchLimit caps the number of response bytes web_fetch returns.
	WebFetchLimit int64 `yaml:"web_fetch_limit"`

	// WebRatePerSec is the sustained outbound request rate for web tools.
	WebRatePerSec float64 `yaml:"web_rate_per_sec"`

	// WebBurst is the web rate limiter burst size.
	WebBurst int `yaml:"web_burst"`
}

// LoadConfig loads configuration from environment variables with defaults.
func LoadConfig() (*Config, error) {
	return buildBaseConfig(), nil
}

// LoadConfigFile loads the base configuration and then applies the YAML file
// at path on top of it. Fields absent from the file keep their env/default
// values. A missing file is an error; callers that treat the file as
// optional should stat it first.
func LoadConfigFile(path string) (*Config, error) {
	cfg := buildBaseConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// buildBaseConfig constructs a Config with values from environment variables
// and defaults.
func buildBaseConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Name:        getEnv("MARROW_SERVER_NAME", "marrow"),
			Version:     getEnv("MARROW_SERVER_VERSION", "1.0.0"),
			CallTimeout: getEnvDuration("MARROW_CALL_TIMEOUT", 30*time.Second),
			WSListen:    getEnv("MARROW_WS_LISTEN", ""),
		},
		Storage: StorageConfig{
			Engine:      getEnv("MARROW_STORAGE_ENGINE", "sqlite"),
			DataPath:    getEnv("MARROW_DATA_PATH", "./data"),
			PostgresDSN: getEnv("MARROW_POSTGRES_DSN", ""),
		},
		Memory: MemoryConfig{
			LinkThreshold:        getEnvFloat("MARROW_LINK_THRESHOLD", 0.2),
			ConsolidateThreshold: getEnvFloat("MARROW_CONSOLIDATE_THRESHOLD", 0.9),
			RelatedLimit:         getEnvInt("MARROW_RELATED_LIMIT", 10),
		},
		Tools: ToolsConfig{
			WorkspaceRoot:       getEnv("MARROW_WORKSPACE_ROOT", "."),
			ShellTimeoutCeiling: getEnvDuration("MARROW_SHELL_TIMEOUT_CEILING", 120*time.Second),
			WebFetchLimit:       int64(getEnvInt("MARROW_WEB_FETCH_LIMIT", 1<<20)),
			WebRatePerSec:       getEnvFloat("MARROW_WEB_RATE_PER_SEC", 2),
			WebBurst:            getEnvInt("MARROW_WEB_BURST", 5),
		},
	}
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value. An unparseable value falls back to the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable (Go syntax, e.g.
// "45s") or returns a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
