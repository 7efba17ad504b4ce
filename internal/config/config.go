// Package config provides configuration management for ffpeaks using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "FFPEAKS"

// Default configuration values.
const (
	defaultServerPort        = 8080
	defaultServerTimeout     = 30 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
	defaultMaxOpenConns      = 25
	defaultMaxIdleConns      = 10
	defaultConnMaxIdleTime   = 30 * time.Minute
	defaultFFmpegTimeout     = time.Hour
	defaultProbeTimeout      = 30 * time.Second
	defaultPollInterval      = 100 * time.Millisecond
	defaultReadSize          = "8KiB"
	defaultMonitorInterval   = 2 * time.Second
	defaultSamplesPerPixel   = 512
	defaultUploadTimeout     = 5 * time.Minute
	defaultMaxUploadSize     = "2GiB"
	defaultHistoryRetention  = 30 * 24 * time.Hour
	defaultHistoryPruneCron  = "0 30 3 * * *"
	defaultSandboxOutputsDir = "output"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	FFmpeg   FFmpegConfig   `mapstructure:"ffmpeg"`
	Peaks    PeaksConfig    `mapstructure:"peaks"`
	History  HistoryConfig  `mapstructure:"history"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// CORSOrigins lists origins allowed to fetch peaks from a browser.
	CORSOrigins []string `mapstructure:"cors_origins"`
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

// StorageConfig holds output storage configuration.
type StorageConfig struct {
	// BaseDir is the sandbox root for local outputs and peaks files.
	BaseDir   string `mapstructure:"base_dir"`
	OutputDir string `mapstructure:"output_dir"`
	// Upload configures a remote destination. An empty endpoint keeps
	// everything local.
	Upload UploadConfig `mapstructure:"upload"`
}

// UploadConfig holds remote upload configuration.
type UploadConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Token    string        `mapstructure:"token"`
	Timeout  time.Duration `mapstructure:"timeout"`
	// MaxSize rejects buffered outputs larger than this before uploading.
	// Supports human-readable values like "500MB" or "2GiB".
	MaxSize ByteSize `mapstructure:"max_size"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // trace, debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
	// RedactFields lists extra attribute names whose values are masked.
	RedactFields []string `mapstructure:"redact_fields"`
}

// FFmpegConfig holds FFmpeg binary and execution configuration.
type FFmpegConfig struct {
	BinaryPath      string        `mapstructure:"binary_path"` // empty = auto-detect
	ProbePath       string        `mapstructure:"probe_path"`  // empty = auto-detect
	Timeout         time.Duration `mapstructure:"timeout"`
	ProbeTimeout    time.Duration `mapstructure:"probe_timeout"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	ReadSize        ByteSize      `mapstructure:"read_size"`
	MonitorInterval time.Duration `mapstructure:"monitor_interval"` // 0 disables sampling
}

// PeaksConfig holds defaults for peaks generation.
type PeaksConfig struct {
	SamplesPerPixel int    `mapstructure:"samples_per_pixel"`
	Format          string `mapstructure:"format"` // simple, full
	// NormalizeRange is empty or a [lo, hi] pair.
	NormalizeRange []float64 `mapstructure:"normalize_range"`
}

// HistoryConfig holds job history retention configuration.
type HistoryConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Retention accepts day and week units, e.g. "30d".
	Retention time.Duration `mapstructure:"retention"`
	// PruneSchedule is a 6-field cron expression.
	PruneSchedule string `mapstructure:"prune_schedule"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with FFPEAKS_ and use underscores for nesting.
// Example: FFPEAKS_FFMPEG_TIMEOUT=30m.
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
		v.AddConfigPath("/etc/ffpeaks")
		v.AddConfigPath("$HOME/.ffpeaks")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		stringToDurationHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "ffpeaks.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("storage.base_dir", "./data")
	v.SetDefault("storage.output_dir", defaultSandboxOutputsDir)
	v.SetDefault("storage.upload.endpoint", "")
	v.SetDefault("storage.upload.token", "")
	v.SetDefault("storage.upload.timeout", defaultUploadTimeout)
	v.SetDefault("storage.upload.max_size", defaultMaxUploadSize)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)
	v.SetDefault("logging.redact_fields", []string{})

	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.probe_path", "")
	v.SetDefault("ffmpeg.timeout", defaultFFmpegTimeout)
	v.SetDefault("ffmpeg.probe_timeout", defaultProbeTimeout)
	v.SetDefault("ffmpeg.poll_interval", defaultPollInterval)
	v.SetDefault("ffmpeg.read_size", defaultReadSize)
	v.SetDefault("ffmpeg.monitor_interval", defaultMonitorInterval)

	v.SetDefault("peaks.samples_per_pixel", defaultSamplesPerPixel)
	v.SetDefault("peaks.format", "simple")
	v.SetDefault("peaks.normalize_range", []float64{})

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.retention", defaultHistoryRetention)
	v.SetDefault("history.prune_schedule", defaultHistoryPruneCron)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}
	if c.Storage.Upload.MaxSize < 0 {
		return fmt.Errorf("storage.upload.max_size must not be negative")
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.FFmpeg.Timeout <= 0 {
		return fmt.Errorf("ffmpeg.timeout must be positive")
	}
	if c.FFmpeg.PollInterval < time.Millisecond {
		return fmt.Errorf("ffmpeg.poll_interval must be at least 1ms")
	}
	if c.FFmpeg.ReadSize < 512 {
		return fmt.Errorf("ffmpeg.read_size must be at least 512 bytes")
	}
	if c.FFmpeg.MonitorInterval < 0 {
		return fmt.Errorf("ffmpeg.monitor_interval must not be negative")
	}

	if c.Peaks.SamplesPerPixel < 1 {
		return fmt.Errorf("peaks.samples_per_pixel must be at least 1")
	}
	if c.Peaks.Format != "simple" && c.Peaks.Format != "full" {
		return fmt.Errorf("peaks.format must be one of: simple, full")
	}
	if n := len(c.Peaks.NormalizeRange); n != 0 {
		if n != 2 || c.Peaks.NormalizeRange[0] >= c.Peaks.NormalizeRange[1] {
			return fmt.Errorf("peaks.normalize_range must be a [lo, hi] pair with lo < hi")
		}
	}

	if c.History.Enabled {
		if c.History.Retention <= 0 {
			return fmt.Errorf("history.retention must be positive")
		}
		if _, err := cron.NewParser(cronFields).Parse(c.History.PruneSchedule); err != nil {
			return fmt.Errorf("history.prune_schedule: %w", err)
		}
	}

	return nil
}

// cronFields is the 6-field cron layout used by prune schedules.
const cronFields = cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor

// CronParser returns the parser matching history.prune_schedule syntax.
func CronParser() cron.Parser {
	return cron.NewParser(cronFields)
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// OutputPath returns the local output directory.
func (c *StorageConfig) OutputPath() string {
	return filepath.Join(c.BaseDir, c.OutputDir)
}

// Remote reports whether outputs are uploaded rather than written locally.
func (c *StorageConfig) Remote() bool {
	return c.Upload.Endpoint != ""
}
