package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DataDir string        `yaml:"data_dir" env:"SIGHTSYNC_DATA_DIR"`
	DBPath  string        `yaml:"db_path" env:"SIGHTSYNC_DB_PATH"`
	Driver  DriverConfig  `yaml:"driver" envPrefix:"SIGHTSYNC_DRIVER_"`
	Sync    SyncConfig    `yaml:"sync" envPrefix:"SIGHTSYNC_SYNC_"`
	Log     LogConfig     `yaml:"log" envPrefix:"SIGHTSYNC_LOG_"`
	Metrics MetricsConfig `yaml:"metrics" envPrefix:"SIGHTSYNC_METRICS_"`
}

type DriverConfig struct {
	Binary string `yaml:"binary" env:"BINARY"`
	SHA256 string `yaml:"sha256" env:"SHA256"`
}

type SyncConfig struct {
	Interval            time.Duration `yaml:"interval" env:"INTERVAL"`
	WakeLockTimeout     time.Duration `yaml:"wake_lock_timeout" env:"WAKE_LOCK_TIMEOUT"`
	ConnectTimeout      time.Duration `yaml:"connect_timeout" env:"CONNECT_TIMEOUT"`
	PageSize            int           `yaml:"page_size" env:"PAGE_SIZE"`
	TimeZone            string        `yaml:"time_zone" env:"TIME_ZONE"`
	IsolateDecodeErrors bool          `yaml:"isolate_decode_errors" env:"ISOLATE_DECODE_ERRORS"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"LEVEL"`
	JSON  bool   `yaml:"json" env:"JSON"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr" env:"ADDR"`
}

// Load reads an optional YAML file, overlays SIGHTSYNC_* environment variables,
// then applies defaults. dataDir, when set, wins over both.
func Load(path, dataDir string) (Config, error) {
	var cfg Config
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	}
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if strings.TrimSpace(dataDir) != "" {
		cfg.DataDir = dataDir
		cfg.DBPath = ""
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseEnv overlays environment variables onto target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = "."
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, ".sightsync", "history.db")
	}
	if c.Sync.Interval == 0 {
		c.Sync.Interval = 15 * time.Minute
	}
	if c.Sync.WakeLockTimeout == 0 {
		c.Sync.WakeLockTimeout = time.Minute
	}
	if c.Sync.ConnectTimeout == 0 {
		c.Sync.ConnectTimeout = 10 * time.Second
	}
	if c.Sync.PageSize == 0 {
		c.Sync.PageSize = 64
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = "127.0.0.1:9464"
	}
}

func (c *Config) validate() error {
	if c.Sync.Interval < 0 || c.Sync.WakeLockTimeout < 0 || c.Sync.ConnectTimeout < 0 {
		return fmt.Errorf("sync durations must be positive")
	}
	if c.Sync.PageSize < 0 {
		return fmt.Errorf("sync.page_size must be positive")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves sync.time_zone; empty means the process local zone.
func (c Config) Location() (*time.Location, error) {
	if strings.TrimSpace(c.Sync.TimeZone) == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Sync.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("sync.time_zone: %w", err)
	}
	return loc, nil
}

// NotificationsPath is the JSONL notification log location.
func (c Config) NotificationsPath() string {
	return filepath.Join(c.DataDir, ".sightsync", "notifications.log")
}

// WakeLockPath is the lease file held for the duration of a sync.
func (c Config) WakeLockPath() string {
	return filepath.Join(c.DataDir, ".sightsync", "sync.lease")
}
