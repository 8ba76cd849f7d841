// Package config provides configuration management for streamloop using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 10
	defaultConnMaxIdleTime = 30 * time.Minute

	defaultPollInterval = time.Minute
	defaultFireWindow   = 5 * time.Minute
	defaultTimezone     = "UTC"

	defaultStopGracePeriod = 10 * time.Second
	defaultLogBufferLines  = 200

	defaultProviderTimeout  = 30 * time.Second
	defaultProviderRetries  = 2
	defaultProviderBackoff  = 2 * time.Second
	defaultUnlistDelay      = 90 * time.Second
	defaultUnlistInterval   = 30 * time.Second
	defaultUnlistMaxRetries = 5
	defaultUnlistTTL        = 10 * time.Minute
	defaultUnlistSweep      = time.Minute
)

// Config holds all configuration for the application.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Encoder   EncoderConfig   `mapstructure:"encoder"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Limits    LimitsConfig    `mapstructure:"limits"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Broadcast BroadcastConfig `mapstructure:"broadcast"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// EncoderConfig holds external encoder process configuration.
type EncoderConfig struct {
	BinaryPath      string        `mapstructure:"binary_path"`       // Path to ffmpeg binary (empty = "ffmpeg" on PATH)
	LogLevel        string        `mapstructure:"log_level"`         // FFmpeg -loglevel value
	StopGracePeriod time.Duration `mapstructure:"stop_grace_period"` // SIGTERM-to-SIGKILL grace
	LogBufferLines  int           `mapstructure:"log_buffer_lines"`  // Per-stream stderr ring buffer size
	MonitorInterval time.Duration `mapstructure:"monitor_interval"`  // Resource sampling interval (0 = disabled)
}

// SchedulerConfig holds schedule trigger configuration.
type SchedulerConfig struct {
	// PollInterval is how often the trigger scans for due streams.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// FireWindow is how long after the scheduled instant a stream is
	// still considered on time rather than overdue.
	FireWindow time.Duration `mapstructure:"fire_window"`

	// Timezone is the IANA timezone name recurring times are evaluated in.
	Timezone string `mapstructure:"timezone"`
}

// LimitsConfig holds resource limit configuration.
type LimitsConfig struct {
	// DefaultLiveLimit is the maximum concurrent live streams per user
	// when the user has no override. Zero means unlimited.
	DefaultLiveLimit int `mapstructure:"default_live_limit"`
}

// ProviderConfig holds live platform API client configuration.
type ProviderConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	TokenURL      string        `mapstructure:"token_url"`
	ClientID      string        `mapstructure:"client_id"`
	ClientSecret  string        `mapstructure:"client_secret"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
}

// BroadcastConfig holds broadcast lifecycle configuration.
type BroadcastConfig struct {
	// UnlistInitialDelay is how long after a broadcast ends before the
	// first unlist attempt. Providers need time to finalize the replay.
	UnlistInitialDelay time.Duration `mapstructure:"unlist_initial_delay"`

	// UnlistRetryInterval is the fixed backoff between unlist attempts.
	UnlistRetryInterval time.Duration `mapstructure:"unlist_retry_interval"`

	// UnlistMaxAttempts bounds the number of unlist attempts per video.
	UnlistMaxAttempts int `mapstructure:"unlist_max_attempts"`

	// UnlistTTL is the maximum lifetime of a pending unlist entry.
	UnlistTTL time.Duration `mapstructure:"unlist_ttl"`

	// UnlistSweepInterval is how often expired entries are swept.
	UnlistSweepInterval time.Duration `mapstructure:"unlist_sweep_interval"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with STREAMLOOP_ and use underscores
// for nesting. Example: STREAMLOOP_DATABASE_DSN=streamloop.db.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/streamloop")
		v.AddConfigPath("$HOME/.streamloop")
	}

	v.SetEnvPrefix("STREAMLOOP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file.
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "streamloop.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Encoder defaults
	v.SetDefault("encoder.binary_path", "")
	v.SetDefault("encoder.log_level", "error")
	v.SetDefault("encoder.stop_grace_period", defaultStopGracePeriod)
	v.SetDefault("encoder.log_buffer_lines", defaultLogBufferLines)
	v.SetDefault("encoder.monitor_interval", 5*time.Second)

	// Scheduler defaults
	v.SetDefault("scheduler.poll_interval", defaultPollInterval)
	v.SetDefault("scheduler.fire_window", defaultFireWindow)
	v.SetDefault("scheduler.timezone", defaultTimezone)

	// Limits defaults
	v.SetDefault("limits.default_live_limit", 0)

	// Provider defaults
	v.SetDefault("provider.base_url", "https://www.googleapis.com/youtube/v3")
	v.SetDefault("provider.token_url", "https://oauth2.googleapis.com/token")
	v.SetDefault("provider.timeout", defaultProviderTimeout)
	v.SetDefault("provider.retry_attempts", defaultProviderRetries)
	v.SetDefault("provider.retry_delay", defaultProviderBackoff)

	// Broadcast defaults
	v.SetDefault("broadcast.unlist_initial_delay", defaultUnlistDelay)
	v.SetDefault("broadcast.unlist_retry_interval", defaultUnlistInterval)
	v.SetDefault("broadcast.unlist_max_attempts", defaultUnlistMaxRetries)
	v.SetDefault("broadcast.unlist_ttl", defaultUnlistTTL)
	v.SetDefault("broadcast.unlist_sweep_interval", defaultUnlistSweep)
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}

	if c.Scheduler.PollInterval <= 0 {
		return errors.New("scheduler.poll_interval must be positive")
	}
	if c.Scheduler.FireWindow <= 0 {
		return errors.New("scheduler.fire_window must be positive")
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("invalid scheduler.timezone: %w", err)
	}

	if c.Limits.DefaultLiveLimit < 0 {
		return errors.New("limits.default_live_limit must not be negative")
	}

	if c.Encoder.StopGracePeriod <= 0 {
		return errors.New("encoder.stop_grace_period must be positive")
	}
	if c.Encoder.LogBufferLines <= 0 {
		return errors.New("encoder.log_buffer_lines must be positive")
	}

	if c.Broadcast.UnlistMaxAttempts <= 0 {
		return errors.New("broadcast.unlist_max_attempts must be positive")
	}
	if c.Broadcast.UnlistTTL <= 0 {
		return errors.New("broadcast.unlist_ttl must be positive")
	}

	return nil
}

// Location resolves the configured scheduler timezone.
// Validate guarantees this cannot fail after a successful Load.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
