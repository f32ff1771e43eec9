// Package config loads service settings from defaults, an optional config
// file, a .env file and CHATSYNC_* environment variables, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment key, e.g. CHATSYNC_REMOTE_URL
const EnvPrefix = "CHATSYNC"

// Config is the full service configuration
type Config struct {
	DataDir           string        `mapstructure:"data_dir"`
	PrimaryQuotaBytes int64         `mapstructure:"primary_quota_bytes"`
	Debounce          time.Duration `mapstructure:"debounce"`
	Throttle          time.Duration `mapstructure:"throttle"`
	ResyncInterval    time.Duration `mapstructure:"resync_interval"`
	FlushWait         time.Duration `mapstructure:"flush_wait"`
	AutoCreateDelay   time.Duration `mapstructure:"autocreate_delay"`

	Remote RemoteConfig `mapstructure:"remote"`
	HTTP   HTTPConfig   `mapstructure:"http"`
	API    APIConfig    `mapstructure:"api"`
	Log    LogConfig    `mapstructure:"log"`
}

// RemoteConfig configures the session backend
type RemoteConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	URL        string  `mapstructure:"url"`
	Token      string  `mapstructure:"token"`
	RatePerSec float64 `mapstructure:"rate_per_sec"`
	Burst      int     `mapstructure:"burst"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// APIConfig bounds per-client request rates on the UI API
type APIConfig struct {
	RequestsPerHour int `mapstructure:"requests_per_hour"`
	Burst           int `mapstructure:"burst"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

var defaults = map[string]interface{}{
	"data_dir":              "./storage",
	"primary_quota_bytes":   5 << 20,
	"debounce":              "1s",
	"throttle":              "5s",
	"resync_interval":       "10s",
	"flush_wait":            "2s",
	"autocreate_delay":      "1.5s",
	"remote.enabled":        false,
	"remote.url":            "",
	"remote.token":          "",
	"remote.rate_per_sec":   5.0,
	"remote.burst":          10,
	"http.addr":             ":8080",
	"api.requests_per_hour": 3600,
	"api.burst":             60,
	"log.level":             "info",
	"log.file":              "",
}

// New returns a viper instance with defaults and environment binding in
// place. Callers may bind command-line flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load reads configFile (if non-empty) into v and decodes the result
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the sync engine cannot run with
func (c *Config) Validate() error {
	var errs []error

	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir must be set"))
	}
	if c.PrimaryQuotaBytes <= 0 {
		errs = append(errs, errors.New("primary_quota_bytes must be positive"))
	}
	for name, d := range map[string]time.Duration{
		"debounce":         c.Debounce,
		"throttle":         c.Throttle,
		"resync_interval":  c.ResyncInterval,
		"flush_wait":       c.FlushWait,
		"autocreate_delay": c.AutoCreateDelay,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.Throttle < c.Debounce {
		errs = append(errs, fmt.Errorf("throttle (%s) must not be shorter than debounce (%s)", c.Throttle, c.Debounce))
	}
	if c.Remote.Enabled {
		if c.Remote.URL == "" {
			errs = append(errs, errors.New("remote.url is required when remote.enabled is set"))
		}
		if c.Remote.RatePerSec <= 0 || c.Remote.Burst <= 0 {
			errs = append(errs, errors.New("remote.rate_per_sec and remote.burst must be positive"))
		}
	}
	if c.API.RequestsPerHour <= 0 || c.API.Burst <= 0 {
		errs = append(errs, errors.New("api.requests_per_hour and api.burst must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
