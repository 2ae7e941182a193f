// Package fs implements a block device backed by a single disk-image file.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/marmos91/dittocore/pkg/blockdev"
)

// FSDevice stores sectors in a flat image file: sector i lives at byte
// offset i*SectorSize. The file is created on first use and sized to the
// full device so every sector has a home.
type FSDevice struct {
	path  string
	file  *os.File
	count uint32

	// mu only guards Close against in-flight I/O; ReadAt/WriteAt on
	// distinct offsets are already safe for concurrent use.
	mu     sync.RWMutex
	closed bool
}

// NewFSDevice opens (or creates) the image at path with count sectors.
//
// An existing image that is smaller than count sectors is extended with
// zeros; a larger one keeps its data but only the first count sectors are
// addressable.
func NewFSDevice(ctx context.Context, path string, count uint32) (*FSDevice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if count == 0 {
		return nil, fmt.Errorf("filesystem device: sector count must be positive")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create image directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open disk image %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to stat disk image: %w", err)
	}

	size := int64(count) * blockdev.SectorSize
	if info.Size() < size {
		if err := file.Truncate(size); err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("failed to size disk image: %w", err)
		}
	}

	return &FSDevice{
		path:  path,
		file:  file,
		count: count,
	}, nil
}

// ReadSector reads one sector from the image.
func (d *FSDevice) ReadSector(ctx context.Context, sector blockdev.Sector, buf []byte) error {
	if err := blockdev.CheckAccess(ctx, d, sector, buf); err != nil {
		return err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return blockdev.ErrClosed
	}

	n, err := d.file.ReadAt(buf, int64(sector)*blockdev.SectorSize)
	if errors.Is(err, io.EOF) {
		// Image shorter than expected (truncated externally): rest is zero.
		clear(buf[n:])
		return nil
	}
	if err != nil {
		return fmt.Errorf("read sector %d: %w", sector, err)
	}

	return nil
}

// WriteSector writes one sector to the image.
func (d *FSDevice) WriteSector(ctx context.Context, sector blockdev.Sector, buf []byte) error {
	if err := blockdev.CheckAccess(ctx, d, sector, buf); err != nil {
		return err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return blockdev.ErrClosed
	}

	if _, err := d.file.WriteAt(buf, int64(sector)*blockdev.SectorSize); err != nil {
		return fmt.Errorf("write sector %d: %w", sector, err)
	}

	return nil
}

// SectorCount returns the device size in sectors.
func (d *FSDevice) SectorCount() uint32 {
	return d.count
}

// Path returns the image file path.
func (d *FSDevice) Path() string {
	return d.path
}

// Sync commits the image to stable storage.
func (d *FSDevice) Sync() error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return blockdev.ErrClosed
	}
	return d.file.Sync()
}

// Close syncs and closes the image file.
func (d *FSDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	if err := d.file.Sync(); err != nil {
		_ = d.file.Close()
		return fmt.Errorf("failed to sync disk image: %w", err)
	}
	return d.file.Close()
}
