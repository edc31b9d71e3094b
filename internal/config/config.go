// Package config provides YAML-based configuration for the document workbench.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is used when no --config flag is given.
const DefaultConfigFile = "docsum.yaml"

// MaxUploadBytes is the client-side size limit (10 MiB).
const MaxUploadBytes int64 = 10 * 1024 * 1024

// AppConfig represents the root configuration structure
type AppConfig struct {
	Server     ServerConfig     `yaml:"server"`
	Service    ServiceConfig    `yaml:"service"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Storage    StorageConfig    `yaml:"storage"`
	Session    SessionConfig    `yaml:"session"`
	Upload     UploadConfig     `yaml:"upload"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port                 int           `yaml:"port"`
	BindAddress          string        `yaml:"bind_address"`
	EnableCORS           bool          `yaml:"enable_cors"`
	AllowOrigins         string        `yaml:"allow_origins"`
	ReadTimeout          time.Duration `yaml:"read_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	IdleTimeout          time.Duration `yaml:"idle_timeout"`
	BodyLimit            string        `yaml:"body_limit"`
	EnableCompression    bool          `yaml:"enable_compression"`
	CompressionLevel     int           `yaml:"compression_level"`
	EnableRequestLogging bool          `yaml:"enable_request_logging"`
}

// ServiceConfig points at the remote analysis service.
type ServiceConfig struct {
	BaseURL    string        `yaml:"base_url"`
	UploadPath string        `yaml:"upload_path"`
	HealthPath string        `yaml:"health_path"`
	Timeout    time.Duration `yaml:"timeout"`
}

// ResilienceConfig tunes retries and the circuit breaker around the analysis client.
type ResilienceConfig struct {
	RetryMaxAttempts        int           `yaml:"retry_max_attempts"`
	RetryInitialBackoff     time.Duration `yaml:"retry_initial_backoff"`
	RetryMaxBackoff         time.Duration `yaml:"retry_max_backoff"`
	RetryMultiplier         float64       `yaml:"retry_multiplier"`
	BreakerEnabled          bool          `yaml:"breaker_enabled"`
	BreakerMinRequests      uint32        `yaml:"breaker_min_requests"`
	BreakerFailureRatio     float64       `yaml:"breaker_failure_ratio"`
	BreakerOpenTimeout      time.Duration `yaml:"breaker_open_timeout"`
	BreakerHalfOpenMaxCalls uint32        `yaml:"breaker_half_open_max_calls"`
}

// StorageConfig contains on-disk locations
type StorageConfig struct {
	DataDirectory  string `yaml:"data_directory"`
	SpoolDirectory string `yaml:"spool_directory"`
	PreferencesDB  string `yaml:"preferences_db"`
}

// SessionConfig controls workbench session lifetime
type SessionConfig struct {
	Timeout         time.Duration `yaml:"timeout"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	KeepAlive       time.Duration `yaml:"keep_alive"`
	MaxSessions     int           `yaml:"max_sessions"`
}

// UploadConfig holds the client-side file checks.
type UploadConfig struct {
	MaxSizeBytes int64    `yaml:"max_size_bytes"`
	AllowedTypes []string `yaml:"allowed_types"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:                 8089,
			BindAddress:          "0.0.0.0",
			EnableCORS:           true,
			AllowOrigins:         "*",
			ReadTimeout:          30 * time.Second,
			WriteTimeout:         150 * time.Second,
			IdleTimeout:          120 * time.Second,
			BodyLimit:            "12M",
			EnableCompression:    true,
			CompressionLevel:     5,
			EnableRequestLogging: true,
		},
		Service: ServiceConfig{
			BaseURL:    "http://localhost:8000",
			UploadPath: "/upload",
			HealthPath: "/health",
			Timeout:    120 * time.Second,
		},
		Resilience: ResilienceConfig{
			RetryMaxAttempts:        3,
			RetryInitialBackoff:     200 * time.Millisecond,
			RetryMaxBackoff:         2 * time.Second,
			RetryMultiplier:         2.0,
			BreakerEnabled:          true,
			BreakerMinRequests:      5,
			BreakerFailureRatio:     0.6,
			BreakerOpenTimeout:      30 * time.Second,
			BreakerHalfOpenMaxCalls: 1,
		},
		Storage: StorageConfig{
			DataDirectory:  "./data",
			SpoolDirectory: "./data/spool",
			PreferencesDB:  "./data/workbench.duckdb",
		},
		Session: SessionConfig{
			Timeout:         30 * time.Minute,
			CleanupInterval: 5 * time.Minute,
			KeepAlive:       5 * time.Minute,
			MaxSessions:     64,
		},
		Upload: UploadConfig{
			MaxSizeBytes: MaxUploadBytes,
			AllowedTypes: []string{"application/pdf", "image/png", "image/jpeg", "image/jpg"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// LoadConfig loads configuration from a YAML file. A missing file is created
// with the defaults so operators have something to edit.
func LoadConfig(configPath string) (*AppConfig, error) {
	config := DefaultConfig()

	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			if err := config.Save(configPath); err != nil {
				return nil, fmt.Errorf("failed to create default config: %w", err)
			}
		} else {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if err := config.applyEnvironmentOverrides(); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	baseDir := "."
	if configPath != "" {
		baseDir = filepath.Dir(configPath)
	}
	config.resolvePaths(baseDir)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Save writes the configuration as YAML.
func (c *AppConfig) Save(configPath string) error {
	output, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# Document workbench configuration\n# This file is auto-generated on first run\n\n")
	content := append(header, output...)

	if dir := filepath.Dir(configPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// applyEnvironmentOverrides allows DOCSUM_* variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() error {
	envMappings := map[string]func(string) error{
		"DOCSUM_PORT":            func(v string) error { return parseInt(v, &c.Server.Port) },
		"DOCSUM_BIND_ADDRESS":    func(v string) error { c.Server.BindAddress = v; return nil },
		"DOCSUM_SERVICE_URL":     func(v string) error { c.Service.BaseURL = v; return nil },
		"DOCSUM_SERVICE_TIMEOUT": func(v string) error { return parseDuration(v, &c.Service.Timeout) },
		"DOCSUM_DATA_DIR":        func(v string) error { c.Storage.DataDirectory = v; return nil },
		"DOCSUM_SPOOL_DIR":       func(v string) error { c.Storage.SpoolDirectory = v; return nil },
		"DOCSUM_PREFERENCES_DB":  func(v string) error { c.Storage.PreferencesDB = v; return nil },
		"DOCSUM_MAX_SESSIONS":    func(v string) error { return parseInt(v, &c.Session.MaxSessions) },
		"DOCSUM_LOG_LEVEL":       func(v string) error { c.Logging.Level = v; return nil },
		"DOCSUM_LOG_FORMAT":      func(v string) error { c.Logging.Format = v; return nil },
		"DOCSUM_METRICS_ENABLED": func(v string) error { return parseBool(v, &c.Metrics.Enabled) },
	}

	for envVar, setter := range envMappings {
		if value := os.Getenv(envVar); value != "" {
			if err := setter(value); err != nil {
				return fmt.Errorf("invalid value for %s: %w", envVar, err)
			}
		}
	}

	return nil
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	for _, p := range []*string{
		&c.Storage.DataDirectory,
		&c.Storage.SpoolDirectory,
		&c.Storage.PreferencesDB,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(configDir, *p)
		}
	}
}

// Validate checks the final configuration.
func (c *AppConfig) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	u, err := url.Parse(c.Service.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("service.base_url must be an absolute URL: %q", c.Service.BaseURL)
	}
	if c.Service.Timeout <= 0 {
		return fmt.Errorf("service.timeout must be positive")
	}
	if c.Upload.MaxSizeBytes <= 0 {
		return fmt.Errorf("upload.max_size_bytes must be positive")
	}
	if len(c.Upload.AllowedTypes) == 0 {
		return fmt.Errorf("upload.allowed_types must not be empty")
	}
	if c.Session.MaxSessions <= 0 {
		return fmt.Errorf("session.max_sessions must be positive")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}
	if c.Storage.SpoolDirectory == "" {
		return fmt.Errorf("storage.spool_directory is required")
	}
	return nil
}

// GetDataDir returns the absolute data directory path
func (c *AppConfig) GetDataDir() string {
	return c.Storage.DataDirectory
}

// GetSpoolDir returns the spool directory path
func (c *AppConfig) GetSpoolDir() string {
	return c.Storage.SpoolDirectory
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDirectory,
		c.Storage.SpoolDirectory,
	}
	if c.Storage.PreferencesDB != "" {
		dirs = append(dirs, filepath.Dir(c.Storage.PreferencesDB))
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

func parseInt(v string, dst *int) error {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func parseBool(v string, dst *bool) error {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return err
	}
	*dst = b
	return nil
}

func parseDuration(v string, dst *time.Duration) error {
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return err
	}
	*dst = d
	return nil
}
