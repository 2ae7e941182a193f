package config

import (
	"strings"
	"testing"
)

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(GetDefaultConfig()); err != nil {
		t.Errorf("Expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "INVALID"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid log level")
	}
	if !strings.Contains(err.Error(), "oneof") {
		t.Errorf("Expected 'oneof' validation error, got: %v", err)
	}
}

func TestValidate_Rules(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"LogFormat", func(c *Config) { c.Logging.Format = "xml" }, "Format"},
		{"DiskType", func(c *Config) { c.Disk.Type = "floppy" }, "oneof"},
		{"ZeroFrames", func(c *Config) { c.Memory.Frames = 0 }, "Frames"},
		{"ZeroSlots", func(c *Config) { c.Cache.Slots = 0 }, "Slots"},
		{"MetricsPort", func(c *Config) { c.Server.Metrics.Port = 70000 }, "Port"},
		{"TinyDisk", func(c *Config) { c.Disk.Sectors = 4 }, "cannot hold"},
		{"TinySwap", func(c *Config) { c.Swap.Sectors = 7 }, "slot"},
		{"UnalignedStack", func(c *Config) { c.Memory.MaxStackSize = 5000 }, "page size"},
		{"NoFlushRate", func(c *Config) { c.Cache.FlushRate = 0 }, "flush_rate"},
		{"SharedImage", func(c *Config) {
			c.Swap.Filesystem["path"] = c.Disk.Filesystem["path"]
		}, "both use"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error mentioning %q, got: %v", tt.want, err)
			}
		})
	}
}

func TestValidate_SharedMemoryBackendIsFine(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Disk.Type = "memory"
	cfg.Swap.Type = "memory"

	if err := Validate(cfg); err != nil {
		t.Errorf("Memory devices never share storage: %v", err)
	}
}
