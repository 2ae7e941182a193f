package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/dittocore/pkg/cache"
	"github.com/marmos91/dittocore/pkg/swap"
	"github.com/marmos91/dittocore/pkg/vmm"
)

// DefaultDataDir is where the default disk and swap images live.
const DefaultDataDir = "/tmp/dittocore"

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Backend-specific options are defaulted for every backend so that a
//     generated config file documents them all
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyBlockDeviceDefaults(&cfg.Disk, "disk", 8192)
	applyBlockDeviceDefaults(&cfg.Swap, "swap", 1024*swap.SectorsPerSlot)
	applyCacheDefaults(&cfg.Cache)
	applyMemoryDefaults(&cfg.Memory)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyServerDefaults sets server defaults.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
}

// applyBlockDeviceDefaults sets device defaults. name distinguishes the
// default file names of the disk and the swap device.
func applyBlockDeviceDefaults(cfg *BlockDeviceConfig, name string, sectors uint32) {
	if cfg.Type == "" {
		cfg.Type = "filesystem"
	}
	if cfg.Sectors == 0 {
		cfg.Sectors = sectors
	}

	if cfg.Filesystem == nil {
		cfg.Filesystem = make(map[string]any)
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
	if cfg.Bolt == nil {
		cfg.Bolt = make(map[string]any)
	}

	if _, ok := cfg.Filesystem["path"]; !ok {
		cfg.Filesystem["path"] = filepath.Join(DefaultDataDir, name+".img")
	}
	if _, ok := cfg.Badger["db_path"]; !ok {
		cfg.Badger["db_path"] = filepath.Join(DefaultDataDir, name+"-badger")
	}
	if _, ok := cfg.Bolt["path"]; !ok {
		cfg.Bolt["path"] = filepath.Join(DefaultDataDir, name+".bolt")
	}
}

// applyCacheDefaults sets sector cache defaults.
func applyCacheDefaults(cfg *CacheConfig) {
	if cfg.Slots == 0 {
		cfg.Slots = cache.DefaultSlots
	}
	if cfg.FlushRate == 0 {
		cfg.FlushRate = 256
	}
	if cfg.FlushBurst == 0 {
		cfg.FlushBurst = cache.DefaultSlots
	}
	// FlushInterval defaults to 0 (write-behind disabled) unless set by
	// GetDefaultConfig or the config file.
}

// applyMemoryDefaults sets physical memory defaults.
func applyMemoryDefaults(cfg *MemoryConfig) {
	if cfg.Frames == 0 {
		cfg.Frames = 256
	}
	if cfg.MaxStackSize == 0 {
		cfg.MaxStackSize = vmm.MaxStackSize
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Cache: CacheConfig{
			FlushInterval: 5 * time.Second,
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
