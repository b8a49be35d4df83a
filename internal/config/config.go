// Package config loads and writes the expo33 configuration file.
//
// Configuration lives at ~/.expo33/config.yaml by default and every
// key can be overridden through EXPO33_* environment variables
// (EXPO33_REMOTE_BASE_URL, EXPO33_SYNC_INTERVAL, ...).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Remote holds the endpoint settings for the system of record.
type Remote struct {
	BaseURL string        `mapstructure:"base_url" yaml:"base_url"`
	Token   string        `mapstructure:"token" yaml:"token"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// Sync holds sync-run tunables.
type Sync struct {
	// AttemptCeiling is the failed-push count after which a queue
	// entry is poisoned.
	AttemptCeiling int `mapstructure:"attempt_ceiling" yaml:"attempt_ceiling"`

	// Interval is the daemon's periodic autosync interval.
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`

	// Debounce is how long the daemon waits after a local mutation
	// before triggering a post-mutation sync, batching rapid edits.
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
}

// Monitor holds connectivity-probe settings.
type Monitor struct {
	// ProbeURL is the reachability probe endpoint. Empty means
	// "{remote.base_url}/health".
	ProbeURL string `mapstructure:"probe_url" yaml:"probe_url"`

	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

// Daemon holds daemon-mode settings.
type Daemon struct {
	// LogFile is the rotated daemon log path. Empty disables file
	// logging (stderr only).
	LogFile string `mapstructure:"log_file" yaml:"log_file"`

	// DashboardPort is the WebSocket status server port; 0
	// disables the status server.
	DashboardPort int `mapstructure:"dashboard_port" yaml:"dashboard_port"`
}

// Config is the full expo33 configuration.
type Config struct {
	// Database is the path of the local SQLite database.
	Database string `mapstructure:"database" yaml:"database"`

	Remote  Remote  `mapstructure:"remote" yaml:"remote"`
	Sync    Sync    `mapstructure:"sync" yaml:"sync"`
	Monitor Monitor `mapstructure:"monitor" yaml:"monitor"`
	Daemon  Daemon  `mapstructure:"daemon" yaml:"daemon"`
}

// Dir returns the expo33 home directory (~/.expo33).
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".expo33"
	}
	return filepath.Join(home, ".expo33")
}

// Default returns the built-in defaults.
func Default() *Config {
	dir := Dir()
	return &Config{
		Database: filepath.Join(dir, "expo33.db"),
		Remote: Remote{
			Timeout: 15 * time.Second,
		},
		Sync: Sync{
			AttemptCeiling: 5,
			Interval:       5 * time.Minute,
			Debounce:       3 * time.Second,
		},
		Monitor: Monitor{
			Interval: 15 * time.Second,
		},
		Daemon: Daemon{
			LogFile:       filepath.Join(dir, "daemon.log"),
			DashboardPort: 8037,
		},
	}
}

// Load reads the configuration from path, or from the default
// locations when path is empty. A missing file is not an error; the
// defaults (plus environment overrides) apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	def := Default()

	v.SetDefault("database", def.Database)
	v.SetDefault("remote.base_url", "")
	v.SetDefault("remote.token", "")
	v.SetDefault("remote.timeout", def.Remote.Timeout)
	v.SetDefault("sync.attempt_ceiling", def.Sync.AttemptCeiling)
	v.SetDefault("sync.interval", def.Sync.Interval)
	v.SetDefault("sync.debounce", def.Sync.Debounce)
	v.SetDefault("monitor.probe_url", "")
	v.SetDefault("monitor.interval", def.Monitor.Interval)
	v.SetDefault("daemon.log_file", def.Daemon.LogFile)
	v.SetDefault("daemon.dashboard_port", def.Daemon.DashboardPort)

	v.SetEnvPrefix("EXPO33")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(Dir())
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if path != "" {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.Monitor.ProbeURL == "" && cfg.Remote.BaseURL != "" {
		cfg.Monitor.ProbeURL = cfg.Remote.BaseURL + "/health"
	}

	return &cfg, nil
}

// WriteDefault writes the default configuration to path. Fails if the
// file already exists, so a hand-edited config is never clobbered.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("failed to render default config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
