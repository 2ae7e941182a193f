// Package s3 implements a block device on an S3-compatible object store.
//
// Every written sector becomes one object named <prefix><sector as %08x>.
// Objects that do not exist read as zeros. The layout trades request count
// for simplicity; the sector cache in front of the device absorbs most
// traffic.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/marmos91/dittocore/pkg/blockdev"
)

// ObjectAPI is the subset of the S3 client used by the device.
// *s3.Client satisfies it.
type ObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Device stores sectors as individual objects.
type S3Device struct {
	client    ObjectAPI
	bucket    string
	keyPrefix string
	count     uint32
}

// S3DeviceConfig contains configuration for the S3 device.
type S3DeviceConfig struct {
	// Client is the configured S3 client
	Client ObjectAPI

	// Bucket is the S3 bucket name
	Bucket string

	// KeyPrefix is an optional prefix for all object keys
	// Example: "disks/swap/" results in keys like "disks/swap/0000002a"
	KeyPrefix string

	// Sectors is the device size.
	Sectors uint32
}

// NewS3Device validates the configuration and returns a device.
// No request is made until the first sector access.
func NewS3Device(ctx context.Context, cfg S3DeviceConfig) (*S3Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cfg.Client == nil {
		return nil, fmt.Errorf("S3 client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if cfg.Sectors == 0 {
		return nil, fmt.Errorf("s3 device: sector count must be positive")
	}

	return &S3Device{
		client:    cfg.Client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
		count:     cfg.Sectors,
	}, nil
}

func (d *S3Device) objectKey(sector blockdev.Sector) string {
	return fmt.Sprintf("%s%08x", d.keyPrefix, sector)
}

// ReadSector downloads the sector object.
func (d *S3Device) ReadSector(ctx context.Context, sector blockdev.Sector, buf []byte) error {
	if err := blockdev.CheckAccess(ctx, d, sector, buf); err != nil {
		return err
	}

	result, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(d.objectKey(sector)),
	})
	if err != nil {
		var notFound *types.NoSuchKey
		if errors.As(err, &notFound) {
			blockdev.Zero(buf)
			return nil
		}
		return fmt.Errorf("failed to get sector %d: %w", sector, err)
	}
	defer result.Body.Close()

	n, err := io.ReadFull(result.Body, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to read sector %d body: %w", sector, err)
	}
	clear(buf[n:])

	return nil
}

// WriteSector uploads the sector object.
func (d *S3Device) WriteSector(ctx context.Context, sector blockdev.Sector, buf []byte) error {
	if err := blockdev.CheckAccess(ctx, d, sector, buf); err != nil {
		return err
	}

	body := make([]byte, blockdev.SectorSize)
	copy(body, buf)

	_, err := d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(d.bucket),
		Key:           aws.String(d.objectKey(sector)),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(blockdev.SectorSize),
	})
	if err != nil {
		return fmt.Errorf("failed to put sector %d: %w", sector, err)
	}

	return nil
}

// SectorCount returns the device size in sectors.
func (d *S3Device) SectorCount() uint32 {
	return d.count
}

// Close is a no-op; the client is owned by the caller.
func (d *S3Device) Close() error {
	return nil
}
