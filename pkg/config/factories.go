package config

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awsS3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/dittocore/internal/logger"
	"github.com/marmos91/dittocore/pkg/blockdev"
	"github.com/marmos91/dittocore/pkg/blockdev/badger"
	"github.com/marmos91/dittocore/pkg/blockdev/bolt"
	"github.com/marmos91/dittocore/pkg/blockdev/fs"
	"github.com/marmos91/dittocore/pkg/blockdev/memory"
	"github.com/marmos91/dittocore/pkg/blockdev/s3"
	"github.com/mitchellh/mapstructure"
)

// CreateBlockDevice creates a block device based on configuration.
//
// This factory function uses the Type field to determine which backend to
// create, then decodes the type-specific options from the corresponding map
// and passes them to the backend's constructor. The same factory builds the
// file-system disk and the swap disk.
//
// Supported types:
//   - "memory": in-memory sectors (ephemeral)
//   - "filesystem": a disk image file
//   - "badger": one BadgerDB key per sector
//   - "bolt": one bbolt key per sector
//   - "s3": one object per sector in an S3-compatible bucket
func CreateBlockDevice(ctx context.Context, cfg *BlockDeviceConfig) (blockdev.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case "memory":
		return memory.NewMemoryDevice(ctx, cfg.Sectors)
	case "filesystem":
		return createFilesystemDevice(ctx, cfg.Sectors, cfg.Filesystem)
	case "badger":
		return createBadgerDevice(ctx, cfg.Sectors, cfg.Badger)
	case "bolt":
		return createBoltDevice(ctx, cfg.Sectors, cfg.Bolt)
	case "s3":
		return createS3Device(ctx, cfg.Sectors, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown block device type: %q", cfg.Type)
	}
}

// createFilesystemDevice creates an image-file device.
func createFilesystemDevice(ctx context.Context, sectors uint32, options map[string]any) (blockdev.Device, error) {
	type FilesystemDeviceConfig struct {
		Path string `mapstructure:"path"`
	}

	var devCfg FilesystemDeviceConfig
	if err := mapstructure.Decode(options, &devCfg); err != nil {
		return nil, fmt.Errorf("failed to decode filesystem device config: %w", err)
	}
	if devCfg.Path == "" {
		return nil, fmt.Errorf("filesystem device: path is required")
	}

	dev, err := fs.NewFSDevice(ctx, devCfg.Path, sectors)
	if err != nil {
		return nil, err
	}

	logger.Info("Filesystem device initialized: path=%s, sectors=%d", devCfg.Path, sectors)
	return dev, nil
}

// createBadgerDevice creates a BadgerDB-backed device.
func createBadgerDevice(ctx context.Context, sectors uint32, options map[string]any) (blockdev.Device, error) {
	type BadgerDeviceConfig struct {
		DBPath     string `mapstructure:"db_path"`
		InMemory   bool   `mapstructure:"in_memory"`
		SyncWrites bool   `mapstructure:"sync_writes"`
	}

	var devCfg BadgerDeviceConfig
	if err := mapstructure.Decode(options, &devCfg); err != nil {
		return nil, fmt.Errorf("failed to decode badger device config: %w", err)
	}
	if devCfg.DBPath == "" && !devCfg.InMemory {
		return nil, fmt.Errorf("badger device: db_path is required")
	}

	dev, err := badger.NewBadgerDevice(ctx, badger.BadgerDeviceConfig{
		DBPath:     devCfg.DBPath,
		Sectors:    sectors,
		InMemory:   devCfg.InMemory,
		SyncWrites: devCfg.SyncWrites,
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Badger device initialized: path=%s, in_memory=%t, sectors=%d", devCfg.DBPath, devCfg.InMemory, sectors)
	return dev, nil
}

// createBoltDevice creates a bbolt-backed device.
func createBoltDevice(ctx context.Context, sectors uint32, options map[string]any) (blockdev.Device, error) {
	type BoltDeviceConfig struct {
		Path        string        `mapstructure:"path"`
		NoSync      bool          `mapstructure:"no_sync"`
		OpenTimeout time.Duration `mapstructure:"open_timeout"`
	}

	var devCfg BoltDeviceConfig
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
		Result:     &devCfg,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(options); err != nil {
		return nil, fmt.Errorf("failed to decode bolt device config: %w", err)
	}
	if devCfg.Path == "" {
		return nil, fmt.Errorf("bolt device: path is required")
	}

	dev, err := bolt.NewBoltDevice(ctx, bolt.BoltDeviceConfig{
		Path:        devCfg.Path,
		Sectors:     sectors,
		NoSync:      devCfg.NoSync,
		OpenTimeout: devCfg.OpenTimeout,
	})
	if err != nil {
		return nil, err
	}

	logger.Info("Bolt device initialized: path=%s, sectors=%d", devCfg.Path, sectors)
	return dev, nil
}

// createS3Device creates an S3-backed device.
func createS3Device(ctx context.Context, sectors uint32, options map[string]any) (blockdev.Device, error) {
	type S3DeviceConfig struct {
		Region          string `mapstructure:"region"`
		Bucket          string `mapstructure:"bucket"`
		KeyPrefix       string `mapstructure:"key_prefix"`
		Endpoint        string `mapstructure:"endpoint"`
		AccessKeyID     string `mapstructure:"access_key_id"`
		SecretAccessKey string `mapstructure:"secret_access_key"`
		MaxRetries      int    `mapstructure:"max_retries"`
	}

	var devCfg S3DeviceConfig
	if err := mapstructure.Decode(options, &devCfg); err != nil {
		return nil, fmt.Errorf("failed to decode S3 device config: %w", err)
	}

	if devCfg.Bucket == "" {
		return nil, fmt.Errorf("S3 device: bucket is required")
	}
	if devCfg.Region == "" {
		return nil, fmt.Errorf("S3 device: region is required")
	}

	// ========================================================================
	// Step 1: Build AWS Config
	// ========================================================================

	configOptions := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(devCfg.Region),
	}

	// Static credentials if provided, otherwise the default credential chain
	if devCfg.AccessKeyID != "" && devCfg.SecretAccessKey != "" {
		credProvider := credentials.NewStaticCredentialsProvider(
			devCfg.AccessKeyID,
			devCfg.SecretAccessKey,
			"",
		)
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}

	maxRetries := devCfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// ========================================================================
	// Step 2: Create S3 Client
	// ========================================================================

	client := awsS3.NewFromConfig(awsCfg, func(o *awsS3.Options) {
		// Custom endpoints (MinIO, Localstack) need path-style addressing
		if devCfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(devCfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	// ========================================================================
	// Step 3: Create S3 Device
	// ========================================================================

	dev, err := s3.NewS3Device(ctx, s3.S3DeviceConfig{
		Client:    client,
		Bucket:    devCfg.Bucket,
		KeyPrefix: devCfg.KeyPrefix,
		Sectors:   sectors,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 device: %w", err)
	}

	logger.Info("S3 device initialized: bucket=%s, region=%s, prefix=%s, sectors=%d",
		devCfg.Bucket, devCfg.Region, devCfg.KeyPrefix, sectors)

	return dev, nil
}
