// Package config loads fundsync settings.
//
// Settings come from, in increasing precedence: built-in defaults, the YAML
// config file ($HOME/.fundsync/config.yaml unless overridden), environment
// variables prefixed FUNDSYNC_ (dots and dashes become underscores, so
// remote.anon-key is FUNDSYNC_REMOTE_ANON_KEY), and bound command-line flags.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Mschirtzinger/fundsync/internal/daemon"
	"github.com/Mschirtzinger/fundsync/internal/store/remote"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "FUNDSYNC"

// Config is the resolved configuration.
type Config struct {
	DataDir string

	Remote    RemoteConfig
	Sync      SyncConfig
	Log       LogConfig
	Dashboard DashboardConfig
	Telemetry TelemetryConfig

	// File is the config file that was read, empty if none.
	File string
}

// RemoteConfig addresses the hosted per-user store.
type RemoteConfig struct {
	URL           string
	AnonKey       string
	Table         string
	Timeout       time.Duration
	MaxTries      uint
	RetryInterval time.Duration
}

// SyncConfig tunes the background daemon.
type SyncConfig struct {
	Interval time.Duration
	Debounce time.Duration
}

// LogConfig controls where logs go. An empty File keeps logs on stderr.
type LogConfig struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// DashboardConfig sets the status server address.
type DashboardConfig struct {
	Host string
	Port int
}

// TelemetryConfig enables trace export.
type TelemetryConfig struct {
	Enabled  bool
	Endpoint string
}

// DefaultDataDir returns $HOME/.fundsync, or .fundsync if the home
// directory cannot be resolved.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".fundsync"
	}
	return filepath.Join(home, ".fundsync")
}

// New returns a viper instance with defaults and environment binding set up.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	remoteDefaults := remote.DefaultConfig()

	v.SetDefault("data-dir", DefaultDataDir())
	v.SetDefault("remote.url", "")
	v.SetDefault("remote.anon-key", "")
	v.SetDefault("remote.table", remoteDefaults.Table)
	v.SetDefault("remote.timeout", remoteDefaults.Timeout)
	v.SetDefault("remote.max-tries", remoteDefaults.MaxTries)
	v.SetDefault("remote.retry-interval", remoteDefaults.RetryInterval)
	v.SetDefault("sync.interval", daemon.DefaultSyncInterval)
	v.SetDefault("sync.debounce", daemon.DefaultConfig().DebounceInterval)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max-size-mb", 10)
	v.SetDefault("log.max-backups", 3)
	v.SetDefault("log.max-age-days", 28)
	v.SetDefault("dashboard.host", "127.0.0.1")
	v.SetDefault("dashboard.port", 8080)
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "")
	return v
}

// BindFlags lets flags override config keys. Flag names must match keys
// (e.g. --data-dir binds data-dir).
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	if err := v.BindPFlags(flags); err != nil {
		return fmt.Errorf("failed to bind flags: %w", err)
	}
	return nil
}

// Load reads the config file and resolves the final configuration.
//
// If file is empty, config.yaml in the data directory is read when present;
// a missing default file is not an error. An explicitly named file must
// exist.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", file, err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(v.GetString("data-dir"))
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	cfg := &Config{
		DataDir: v.GetString("data-dir"),
		Remote: RemoteConfig{
			URL:           v.GetString("remote.url"),
			AnonKey:       v.GetString("remote.anon-key"),
			Table:         v.GetString("remote.table"),
			Timeout:       v.GetDuration("remote.timeout"),
			MaxTries:      v.GetUint("remote.max-tries"),
			RetryInterval: v.GetDuration("remote.retry-interval"),
		},
		Sync: SyncConfig{
			Interval: v.GetDuration("sync.interval"),
			Debounce: v.GetDuration("sync.debounce"),
		},
		Log: LogConfig{
			File:       v.GetString("log.file"),
			MaxSizeMB:  v.GetInt("log.max-size-mb"),
			MaxBackups: v.GetInt("log.max-backups"),
			MaxAgeDays: v.GetInt("log.max-age-days"),
		},
		Dashboard: DashboardConfig{
			Host: v.GetString("dashboard.host"),
			Port: v.GetInt("dashboard.port"),
		},
		Telemetry: TelemetryConfig{
			Enabled:  v.GetBool("telemetry.enabled"),
			Endpoint: v.GetString("telemetry.endpoint"),
		},
		File: v.ConfigFileUsed(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	var errs []error

	if c.DataDir == "" {
		errs = append(errs, errors.New("data-dir must not be empty"))
	}
	if c.Remote.URL != "" {
		u, err := url.Parse(c.Remote.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("remote.url %q is not an http(s) URL", c.Remote.URL))
		}
	}
	if c.Remote.Table == "" {
		errs = append(errs, errors.New("remote.table must not be empty"))
	}
	if c.Remote.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("remote.timeout must be positive, got %s", c.Remote.Timeout))
	}
	if c.Remote.MaxTries == 0 {
		errs = append(errs, errors.New("remote.max-tries must be at least 1"))
	}
	if c.Sync.Interval < time.Second {
		errs = append(errs, fmt.Errorf("sync.interval must be at least 1s, got %s", c.Sync.Interval))
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		errs = append(errs, fmt.Errorf("dashboard.port %d out of range", c.Dashboard.Port))
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		errs = append(errs, errors.New("telemetry.endpoint is required when telemetry is enabled"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// DBPath is the local store database.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "fundsync.db")
}

// SessionPath is the persisted sign-in.
func (c *Config) SessionPath() string {
	return filepath.Join(c.DataDir, "session.json")
}

// RemoteClientConfig maps the remote settings onto the client's config.
func (c *Config) RemoteClientConfig() remote.Config {
	return remote.Config{
		URL:           c.Remote.URL,
		AnonKey:       c.Remote.AnonKey,
		Table:         c.Remote.Table,
		Timeout:       c.Remote.Timeout,
		MaxTries:      c.Remote.MaxTries,
		RetryInterval: c.Remote.RetryInterval,
	}
}

// DaemonConfig maps the sync settings onto the daemon's config.
func (c *Config) DaemonConfig() *daemon.Config {
	cfg := daemon.DefaultConfig()
	cfg.SyncInterval = c.Sync.Interval
	cfg.DebounceInterval = c.Sync.Debounce
	return cfg
}
