package config

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/marmos91/dittocore/pkg/blockdev"
)

func roundTrip(t *testing.T, dev blockdev.Device) {
	t.Helper()
	ctx := context.Background()

	buf := make([]byte, blockdev.SectorSize)
	buf[0], buf[511] = 0xaa, 0x55
	if err := dev.WriteSector(ctx, 3, buf); err != nil {
		t.Fatalf("WriteSector failed: %v", err)
	}

	got := make([]byte, blockdev.SectorSize)
	if err := dev.ReadSector(ctx, 3, got); err != nil {
		t.Fatalf("ReadSector failed: %v", err)
	}
	if got[0] != 0xaa || got[511] != 0x55 {
		t.Error("Sector content did not round-trip")
	}
}

func TestCreateBlockDevice_Backends(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	tests := []struct {
		name string
		cfg  BlockDeviceConfig
	}{
		{"Memory", BlockDeviceConfig{Type: "memory", Sectors: 16}},
		{"Filesystem", BlockDeviceConfig{
			Type: "filesystem", Sectors: 16,
			Filesystem: map[string]any{"path": filepath.Join(dir, "disk.img")},
		}},
		{"Badger", BlockDeviceConfig{
			Type: "badger", Sectors: 16,
			Badger: map[string]any{"in_memory": true},
		}},
		{"Bolt", BlockDeviceConfig{
			Type: "bolt", Sectors: 16,
			Bolt: map[string]any{"path": filepath.Join(dir, "disk.bolt"), "open_timeout": "2s"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev, err := CreateBlockDevice(ctx, &tt.cfg)
			if err != nil {
				t.Fatalf("Failed to create %s device: %v", tt.cfg.Type, err)
			}
			defer func() { _ = dev.Close() }()

			if dev.SectorCount() != 16 {
				t.Errorf("Expected 16 sectors, got %d", dev.SectorCount())
			}
			roundTrip(t, dev)
		})
	}
}

func TestCreateBlockDevice_MissingOptions(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		cfg  BlockDeviceConfig
		want string
	}{
		{"FilesystemPath", BlockDeviceConfig{Type: "filesystem", Sectors: 8, Filesystem: map[string]any{}}, "path is required"},
		{"BadgerPath", BlockDeviceConfig{Type: "badger", Sectors: 8}, "db_path is required"},
		{"BoltPath", BlockDeviceConfig{Type: "bolt", Sectors: 8}, "path is required"},
		{"S3Bucket", BlockDeviceConfig{Type: "s3", Sectors: 8, S3: map[string]any{"region": "us-east-1"}}, "bucket is required"},
		{"S3Region", BlockDeviceConfig{Type: "s3", Sectors: 8, S3: map[string]any{"bucket": "b"}}, "region is required"},
		{"UnknownType", BlockDeviceConfig{Type: "tape", Sectors: 8}, "unknown block device type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CreateBlockDevice(ctx, &tt.cfg)
			if err == nil {
				t.Fatal("Expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected %q error, got: %v", tt.want, err)
			}
		})
	}
}

func TestCreateBlockDevice_S3DoesNotDial(t *testing.T) {
	cfg := &BlockDeviceConfig{
		Type:    "s3",
		Sectors: 8,
		S3: map[string]any{
			"region":            "us-east-1",
			"bucket":            "sectors",
			"endpoint":          "http://localhost:9000",
			"access_key_id":     "test",
			"secret_access_key": "test",
		},
	}

	dev, err := CreateBlockDevice(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Failed to create S3 device: %v", err)
	}
	if dev.SectorCount() != 8 {
		t.Errorf("Expected 8 sectors, got %d", dev.SectorCount())
	}
}

func TestCreateBlockDevice_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := CreateBlockDevice(ctx, &BlockDeviceConfig{Type: "memory", Sectors: 8})
	if err == nil {
		t.Fatal("Expected error for canceled context")
	}
}
