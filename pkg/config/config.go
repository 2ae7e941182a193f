package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete dittocore configuration.
//
// This structure captures all configurable aspects of a dittocore system:
//   - Logging configuration
//   - Server-wide settings (shutdown, metrics endpoint)
//   - The file-system disk and the swap disk (backend-specific)
//   - Sector cache sizing and write-behind flushing
//   - Simulated physical memory
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (DITTOCORE_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
//
// Block Device Configuration Pattern:
// Each backend defines its own option set. BlockDeviceConfig carries one
// type-specific map per backend (e.g., disk.filesystem, disk.badger) and
// only the section matching the selected type is used.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server contains process-wide settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Disk is the device holding the file system
	Disk BlockDeviceConfig `mapstructure:"disk" yaml:"disk"`

	// Swap is the device backing evicted anonymous pages
	Swap BlockDeviceConfig `mapstructure:"swap" yaml:"swap"`

	// Cache sizes the sector cache in front of Disk
	Cache CacheConfig `mapstructure:"cache" yaml:"cache"`

	// Memory sizes the simulated physical memory
	Memory MemoryConfig `mapstructure:"memory" yaml:"memory"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// ServerConfig contains process-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for a clean shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required,gt=0"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
type MetricsConfig struct {
	// Enabled turns metrics collection and the HTTP endpoint on
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for /metrics and /stats
	Port int `mapstructure:"port" yaml:"port" validate:"omitempty,min=1,max=65535"`
}

// BlockDeviceConfig selects and configures a block device backend.
//
// The Type field determines which backend is used.
// Only the corresponding type-specific configuration section is used.
type BlockDeviceConfig struct {
	// Type specifies which backend to use
	// Valid values: memory, filesystem, badger, bolt, s3
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory filesystem badger bolt s3"`

	// Sectors is the device size in 512-byte sectors
	Sectors uint32 `mapstructure:"sectors" yaml:"sectors" validate:"required,gt=0"`

	// Filesystem contains image-file options (path)
	// Only used when Type = "filesystem"
	Filesystem map[string]any `mapstructure:"filesystem" yaml:"filesystem,omitempty"`

	// Badger contains BadgerDB options (db_path, in_memory, sync_writes)
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger" yaml:"badger,omitempty"`

	// Bolt contains bbolt options (path, no_sync, open_timeout)
	// Only used when Type = "bolt"
	Bolt map[string]any `mapstructure:"bolt" yaml:"bolt,omitempty"`

	// S3 contains S3 options (region, bucket, key_prefix, endpoint, credentials)
	// Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3" yaml:"s3,omitempty"`
}

// CacheConfig sizes the sector cache and its write-behind flusher.
type CacheConfig struct {
	// Slots is the cache capacity in sectors
	Slots int `mapstructure:"slots" yaml:"slots" validate:"required,gt=0"`

	// FlushInterval is how often dirty sectors are written behind.
	// Zero disables the background flusher.
	FlushInterval time.Duration `mapstructure:"flush_interval" yaml:"flush_interval" validate:"gte=0"`

	// FlushRate bounds write-behind sector writes per second
	FlushRate uint `mapstructure:"flush_rate" yaml:"flush_rate" validate:"gte=0"`

	// FlushBurst is the write-behind burst size in sectors
	FlushBurst uint `mapstructure:"flush_burst" yaml:"flush_burst" validate:"gte=0"`
}

// MemoryConfig sizes the simulated physical memory.
type MemoryConfig struct {
	// Frames is the number of 4 KiB user frames
	Frames int `mapstructure:"frames" yaml:"frames" validate:"required,gt=0"`

	// MaxStackSize bounds stack growth, in bytes
	MaxStackSize uint32 `mapstructure:"max_stack_size" yaml:"max_stack_size" validate:"required,gt=0"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DITTOCORE_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use DITTOCORE_ prefix and underscores
	// Example: DITTOCORE_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("DITTOCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only applies to keys viper already knows about.
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/dittocore/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// envKeys are the scalar settings overridable from the environment even
// when the config file does not mention them.
var envKeys = []string{
	"logging.level",
	"logging.format",
	"logging.output",
	"server.shutdown_timeout",
	"server.metrics.enabled",
	"server.metrics.port",
	"disk.type",
	"disk.sectors",
	"swap.type",
	"swap.sectors",
	"cache.slots",
	"cache.flush_interval",
	"memory.frames",
	"memory.max_stack_size",
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// No config file: run on defaults
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dittocore")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "dittocore")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
