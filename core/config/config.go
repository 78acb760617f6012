// Package config loads the engine's typed configuration. The configuration
// is resolved once at startup from a YAML file and passed to components by
// value; nothing looks values up ad hoc at call time.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full engine configuration.
type Config struct {
	Repo      RepoConfig      `yaml:"repo"`
	Remote    RemoteConfig    `yaml:"remote"`
	Snapshots SnapshotConfig  `yaml:"snapshots"`
	Conflicts ConflictsConfig `yaml:"conflicts"`
	Cleanup   CleanupConfig   `yaml:"cleanup"`
	Database  DatabaseConfig  `yaml:"database"`
}

// RepoConfig locates the canonical repository.
type RepoConfig struct {
	Path       string `yaml:"path"`
	MainBranch string `yaml:"main_branch"`
}

// RemoteConfig configures synchronization with the remote copy of history.
type RemoteConfig struct {
	Name          string `yaml:"name"`
	AutoPush      bool   `yaml:"auto_push"`
	PullTimeout   string `yaml:"pull_timeout"`
	PushTimeout   string `yaml:"push_timeout"`
	WebhookWindow string `yaml:"webhook_window"`
	PullInterval  string `yaml:"pull_interval"`
}

// SnapshotConfig configures the read-optimized snapshot exports.
type SnapshotConfig struct {
	Dir string `yaml:"dir"`
}

// ConflictsConfig configures the conflict-scan cache and its background
// refresh. The scan interval should be shorter than the cache TTL so
// request-path reads never fall through to a synchronous scan.
type ConflictsConfig struct {
	CacheTTL     string `yaml:"cache_ttl"`
	ScanInterval string `yaml:"scan_interval"`
}

// CleanupConfig configures the stale-draft janitor.
type CleanupConfig struct {
	MaxAgeDays      int    `yaml:"max_age_days"`
	Interval        string `yaml:"interval"`
	RebuildInterval string `yaml:"rebuild_interval"`
}

// DatabaseConfig locates the sqlite database backing the operation log and
// edit-context store.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// Default returns the configuration used when no file is supplied. Paths
// are relative to the working directory.
func Default() *Config {
	return &Config{
		Repo: RepoConfig{
			Path:       "content",
			MainBranch: "main",
		},
		Remote: RemoteConfig{
			Name:          "origin",
			AutoPush:      false,
			PullTimeout:   "30s",
			PushTimeout:   "30s",
			WebhookWindow: "60s",
			PullInterval:  "15m",
		},
		Snapshots: SnapshotConfig{
			Dir: "snapshots",
		},
		Conflicts: ConflictsConfig{
			CacheTTL:     "2m",
			ScanInterval: "1m",
		},
		Cleanup: CleanupConfig{
			MaxAgeDays:      7,
			Interval:        "24h",
			RebuildInterval: "168h",
		},
		Database: DatabaseConfig{
			Path: "inkwell.db",
		},
	}
}

// Load reads the YAML file at path over the defaults. A missing file is not
// an error; the defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// parseDuration parses s, falling back to def on empty or malformed values.
func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// PullTimeoutDuration returns the parsed remote pull timeout.
func (c *RemoteConfig) PullTimeoutDuration() time.Duration {
	return parseDuration(c.PullTimeout, 30*time.Second)
}

// PushTimeoutDuration returns the parsed remote push timeout.
func (c *RemoteConfig) PushTimeoutDuration() time.Duration {
	return parseDuration(c.PushTimeout, 30*time.Second)
}

// WebhookWindowDuration returns the parsed webhook rate window.
func (c *RemoteConfig) WebhookWindowDuration() time.Duration {
	return parseDuration(c.WebhookWindow, 60*time.Second)
}

// PullIntervalDuration returns the parsed periodic pull interval.
func (c *RemoteConfig) PullIntervalDuration() time.Duration {
	return parseDuration(c.PullInterval, 15*time.Minute)
}

// CacheTTLDuration returns the parsed conflict cache TTL.
func (c *ConflictsConfig) CacheTTLDuration() time.Duration {
	return parseDuration(c.CacheTTL, 2*time.Minute)
}

// ScanIntervalDuration returns the parsed conflict-scan refresh interval.
func (c *ConflictsConfig) ScanIntervalDuration() time.Duration {
	return parseDuration(c.ScanInterval, time.Minute)
}

// IntervalDuration returns the parsed cleanup interval.
func (c *CleanupConfig) IntervalDuration() time.Duration {
	return parseDuration(c.Interval, 24*time.Hour)
}

// RebuildIntervalDuration returns the parsed full-rebuild interval.
func (c *CleanupConfig) RebuildIntervalDuration() time.Duration {
	return parseDuration(c.RebuildInterval, 7*24*time.Hour)
}
