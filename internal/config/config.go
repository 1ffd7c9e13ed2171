// Package config handles application configuration
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"
)

const appName = "cellsync"

//go:embed config.sample.yaml
var sampleConfig string

// GetSampleConfig returns the embedded sample configuration content
func GetSampleConfig() string {
	return sampleConfig
}

// Config represents the application configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Engine       EngineConfig       `yaml:"engine"`
	Storage      StorageConfig      `yaml:"storage"`
	Daemon       DaemonConfig       `yaml:"daemon"`
	Notification NotificationConfig `yaml:"notification"`
	Logging      LoggingConfig      `yaml:"logging"`
	RemoteCache  RemoteCacheConfig  `yaml:"remote_cache"`
	Analytics    AnalyticsConfig    `yaml:"analytics"`
	OutputFormat string             `yaml:"output_format"`
}

// ServerConfig identifies the storage service account
type ServerConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
}

// EngineConfig locates the synchronization engine
type EngineConfig struct {
	Endpoint string `yaml:"endpoint"`
	Timeout  string `yaml:"timeout"` // e.g. "30s"
}

// StorageConfig selects where tasks are kept
type StorageConfig struct {
	Backend string `yaml:"backend"` // sqlite or file
	Path    string `yaml:"path"`
}

// DaemonConfig holds background daemon settings
type DaemonConfig struct {
	SocketPath     string `yaml:"socket_path"`
	PIDPath        string `yaml:"pid_path"`
	LogPath        string `yaml:"log_path"`
	PollIntervalMs int    `yaml:"poll_interval_ms"` // progress polling period
}

// NotificationConfig holds notification settings
type NotificationConfig struct {
	Enabled         bool                  `yaml:"enabled"`
	OSNotification  OSNotificationConfig  `yaml:"os_notification"`
	LogNotification LogNotificationConfig `yaml:"log_notification"`
	DedupWindow     string                `yaml:"dedup_window"` // identical messages collapse within this window
}

// OSNotificationConfig holds desktop notification settings
type OSNotificationConfig struct {
	Enabled     bool `yaml:"enabled"`
	OnSyncError bool `yaml:"on_sync_error"`
}

// LogNotificationConfig holds notification log settings
type LogNotificationConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Path      string `yaml:"path"`
	MaxSizeMB int    `yaml:"max_size_mb"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	BackgroundEnabled *bool `yaml:"background_enabled"` // Controls background log file creation (default: true)
}

// RemoteCacheConfig controls caching of remote directory listings
type RemoteCacheConfig struct {
	TTL string `yaml:"ttl"` // e.g. "5m"; "0" disables the cache
}

// AnalyticsConfig holds local command statistics settings
type AnalyticsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

// DefaultConfig returns the configuration described by the sample file
func DefaultConfig() *Config {
	cfg := &Config{}
	_ = yaml.Unmarshal([]byte(sampleConfig), cfg)
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Engine.Endpoint == "" {
		c.Engine.Endpoint = "http://127.0.0.1:5174"
	}
	if c.Engine.Timeout == "" {
		c.Engine.Timeout = "30s"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "sqlite"
	}
	if c.Storage.Path == "" {
		name := "tasks.db"
		if c.Storage.Backend == "file" {
			name = "tasks.json"
		}
		c.Storage.Path = filepath.Join(GetDataDir(), name)
	}
	if c.Daemon.PIDPath == "" {
		c.Daemon.PIDPath = filepath.Join(GetDataDir(), "daemon.pid")
	}
	if c.Daemon.LogPath == "" {
		c.Daemon.LogPath = filepath.Join(GetDataDir(), "daemon.log")
	}
	if c.Daemon.PollIntervalMs == 0 {
		c.Daemon.PollIntervalMs = 500
	}
	if c.Notification.DedupWindow == "" {
		c.Notification.DedupWindow = "4s"
	}
	if c.Notification.LogNotification.Path == "" {
		c.Notification.LogNotification.Path = filepath.Join(GetDataDir(), "notifications.log")
	}
	if c.Notification.LogNotification.MaxSizeMB == 0 {
		c.Notification.LogNotification.MaxSizeMB = 10
	}
	if c.Analytics.Path == "" {
		c.Analytics.Path = filepath.Join(GetDataDir(), "analytics.db")
	}
	if c.Analytics.RetentionDays == 0 {
		c.Analytics.RetentionDays = 365
	}
	if c.RemoteCache.TTL == "" {
		c.RemoteCache.TTL = "5m"
	}
	if c.OutputFormat == "" {
		c.OutputFormat = "text"
	}

	c.Storage.Path = ExpandPath(c.Storage.Path)
	c.Daemon.SocketPath = ExpandPath(c.Daemon.SocketPath)
	c.Daemon.PIDPath = ExpandPath(c.Daemon.PIDPath)
	c.Daemon.LogPath = ExpandPath(c.Daemon.LogPath)
	c.Notification.LogNotification.Path = ExpandPath(c.Notification.LogNotification.Path)
	c.Analytics.Path = ExpandPath(c.Analytics.Path)
}

// DefaultPath returns the config file location under the XDG config directory.
func DefaultPath() string {
	return filepath.Join(GetConfigDir(), "config.yaml")
}

// Load loads configuration from the specified path, or the default XDG path if empty.
// If the config file doesn't exist, it is created from the sample.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = DefaultPath()
	}

	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		if err := writeSample(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	return LoadFromPath(configPath)
}

// LoadFromPath loads configuration from a specific path without creating it
func LoadFromPath(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML in config file: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func writeSample(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return atomic.WriteFile(path, strings.NewReader(sampleConfig))
}

// Save writes the configuration to path, replacing the file atomically
func (c *Config) Save(path string) error {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return atomic.WriteFile(path, &buf)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.OutputFormat != "text" && c.OutputFormat != "json" {
		return fmt.Errorf("invalid output_format: %q (must be 'text' or 'json')", c.OutputFormat)
	}

	if c.Storage.Backend != "sqlite" && c.Storage.Backend != "file" {
		return fmt.Errorf("invalid storage.backend: %q (must be 'sqlite' or 'file')", c.Storage.Backend)
	}

	if u, err := url.Parse(c.Engine.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid engine.endpoint: %q", c.Engine.Endpoint)
	}
	if c.Server.URL != "" {
		if u, err := url.Parse(c.Server.URL); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid server.url: %q", c.Server.URL)
		}
	}

	for name, value := range map[string]string{
		"engine.timeout":            c.Engine.Timeout,
		"notification.dedup_window": c.Notification.DedupWindow,
		"remote_cache.ttl":          c.RemoteCache.TTL,
	} {
		d, err := parseDuration(value)
		if err != nil || d < 0 {
			return fmt.Errorf("invalid %s: %q", name, value)
		}
	}

	if c.Daemon.PollIntervalMs < 0 {
		return fmt.Errorf("invalid daemon.poll_interval_ms: %d", c.Daemon.PollIntervalMs)
	}
	if c.Analytics.RetentionDays < 0 {
		return fmt.Errorf("invalid analytics.retention_days: %d", c.Analytics.RetentionDays)
	}
	return nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "0" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// IsAnalyticsEnabled returns true if command statistics are recorded
func (c *Config) IsAnalyticsEnabled() bool {
	return c.Analytics.Enabled
}

// EngineTimeout returns the per-command engine timeout.
func (c *Config) EngineTimeout() time.Duration {
	d, err := parseDuration(c.Engine.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// PollInterval returns the progress polling period.
func (c *Config) PollInterval() time.Duration {
	if c.Daemon.PollIntervalMs <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.Daemon.PollIntervalMs) * time.Millisecond
}

// DedupWindow returns how long an identical notification is suppressed.
func (c *Config) DedupWindow() time.Duration {
	d, err := parseDuration(c.Notification.DedupWindow)
	if err != nil {
		return 4 * time.Second
	}
	return d
}

// RemoteCacheTTL returns how long remote listings are reused. Zero disables caching.
func (c *Config) RemoteCacheTTL() time.Duration {
	d, err := parseDuration(c.RemoteCache.TTL)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// IsBackgroundLoggingEnabled returns true if background logging is enabled.
// Returns true (default) if not configured.
func (c *Config) IsBackgroundLoggingEnabled() bool {
	if c.Logging.BackgroundEnabled == nil {
		return true
	}
	return *c.Logging.BackgroundEnabled
}

// getXDGDir returns a directory path following XDG spec.
// envVar is the XDG environment variable (e.g., "XDG_CONFIG_HOME").
// fallbackPath is the relative path from home (e.g., ".config").
func getXDGDir(envVar, fallbackPath string) string {
	if xdgDir := os.Getenv(envVar); xdgDir != "" {
		return filepath.Join(xdgDir, appName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", fallbackPath, appName)
	}
	return filepath.Join(home, fallbackPath, appName)
}

// GetConfigDir returns the configuration directory following XDG spec
func GetConfigDir() string {
	return getXDGDir("XDG_CONFIG_HOME", ".config")
}

// GetDataDir returns the data directory following XDG spec
func GetDataDir() string {
	return getXDGDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

// GetCacheDir returns the cache directory following XDG spec
func GetCacheDir() string {
	return getXDGDir("XDG_CACHE_HOME", ".cache")
}

// ExpandPath expands ~ and environment variables in a path
func ExpandPath(path string) string {
	if path == "" {
		return path
	}

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	}

	return os.ExpandEnv(path)
}
