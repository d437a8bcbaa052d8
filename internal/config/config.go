// Package config loads client configuration from an optional YAML file and
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all client configuration.
type Config struct {
	// Backend
	ServerURL string `yaml:"server_url"`
	APIURL    string `yaml:"api_url"`
	AppID     string `yaml:"app_id"`

	// Auth
	Token     string `yaml:"token"`
	TokenFile string `yaml:"token_file"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Metrics listener, empty to disable
	MetricsAddr string `yaml:"metrics_addr"`

	// Session
	AuthTimeout          time.Duration `yaml:"auth_timeout"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	SendTimeout          time.Duration `yaml:"send_timeout"`
	SendQueueLimit       int           `yaml:"send_queue_limit"`

	// HTTP tree polling
	PollInterval   time.Duration `yaml:"poll_interval"`
	PollAttempts   int           `yaml:"poll_attempts"`
	PollRetryDelay time.Duration `yaml:"poll_retry_delay"`
	PollWhenReady  bool          `yaml:"poll_when_ready"`

	// Local last-known-good store, empty to disable
	CacheDir     string `yaml:"cache_dir"`
	MaxCacheSize int64  `yaml:"max_cache_size"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ServerURL:            "ws://localhost:4000",
		APIURL:               "http://localhost:4000",
		TokenFile:            DefaultTokenFile(),
		LogLevel:             "info",
		LogFormat:            "console",
		AuthTimeout:          10 * time.Second,
		ReconnectDelay:       time.Second,
		MaxReconnectAttempts: 10,
		SendTimeout:          5 * time.Second,
		SendQueueLimit:       256,
		PollInterval:         3 * time.Second,
		PollAttempts:         15,
		PollRetryDelay:       2 * time.Second,
		CacheDir:             DefaultCacheDir(),
		MaxCacheSize:         64 << 20,
	}
}

// Load reads configuration. A missing file at path is not an error; an
// empty path skips the file. Environment variables override the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}

	cfg.ServerURL = envOr("PROJECTSYNC_SERVER_URL", cfg.ServerURL)
	cfg.APIURL = envOr("PROJECTSYNC_API_URL", cfg.APIURL)
	cfg.AppID = envOr("PROJECTSYNC_APP_ID", cfg.AppID)
	cfg.Token = envOr("PROJECTSYNC_TOKEN", cfg.Token)
	cfg.TokenFile = envOr("PROJECTSYNC_TOKEN_FILE", cfg.TokenFile)
	cfg.LogLevel = envOr("PROJECTSYNC_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = envOr("PROJECTSYNC_LOG_FORMAT", cfg.LogFormat)
	cfg.MetricsAddr = envOr("PROJECTSYNC_METRICS_ADDR", cfg.MetricsAddr)
	cfg.AuthTimeout = envDuration("PROJECTSYNC_AUTH_TIMEOUT", cfg.AuthTimeout)
	cfg.ReconnectDelay = envDuration("PROJECTSYNC_RECONNECT_DELAY", cfg.ReconnectDelay)
	cfg.MaxReconnectAttempts = envInt("PROJECTSYNC_MAX_RECONNECT_ATTEMPTS", cfg.MaxReconnectAttempts)
	cfg.SendTimeout = envDuration("PROJECTSYNC_SEND_TIMEOUT", cfg.SendTimeout)
	cfg.SendQueueLimit = envInt("PROJECTSYNC_SEND_QUEUE_LIMIT", cfg.SendQueueLimit)
	cfg.PollInterval = envDuration("PROJECTSYNC_POLL_INTERVAL", cfg.PollInterval)
	cfg.PollAttempts = envInt("PROJECTSYNC_POLL_ATTEMPTS", cfg.PollAttempts)
	cfg.PollRetryDelay = envDuration("PROJECTSYNC_POLL_RETRY_DELAY", cfg.PollRetryDelay)
	cfg.PollWhenReady = envBool("PROJECTSYNC_POLL_WHEN_READY", cfg.PollWhenReady)
	cfg.CacheDir = envOr("PROJECTSYNC_CACHE_DIR", cfg.CacheDir)
	cfg.MaxCacheSize = envInt64("PROJECTSYNC_MAX_CACHE_SIZE", cfg.MaxCacheSize)

	return cfg, nil
}

// Validate checks the settings needed to open a session.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return errors.New("server URL is required")
	}
	if c.AppID == "" {
		return errors.New("app ID is required")
	}
	if c.AuthTimeout <= 0 {
		return errors.New("auth timeout must be positive")
	}
	if c.ReconnectDelay < 0 || c.SendTimeout < 0 || c.PollInterval < 0 {
		return errors.New("durations must not be negative")
	}
	return nil
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

// DefaultTokenFile returns the default token file location.
func DefaultTokenFile() string {
	return filepath.Join(configDir(), "token.json")
}

// DefaultCacheDir returns the default cache directory.
func DefaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "projectsync")
}

func configDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "projectsync")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
