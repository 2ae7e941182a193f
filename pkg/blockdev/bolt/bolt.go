// Package bolt implements a block device on a bbolt database file.
package bolt

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/dittocore/pkg/blockdev"
	bolt "go.etcd.io/bbolt"
)

var sectorsBucket = []byte("sectors")

// BoltDevice keeps one key per written sector in a single bucket.
type BoltDevice struct {
	db    *bolt.DB
	count uint32

	mu     sync.RWMutex
	closed bool
}

// BoltDeviceConfig configures the bolt device.
type BoltDeviceConfig struct {
	// Path is the database file.
	Path string

	// Sectors is the device size.
	Sectors uint32

	// NoSync skips fsync after each commit (faster, not durable).
	NoSync bool

	// OpenTimeout bounds waiting for the file lock. Default: 1s.
	OpenTimeout time.Duration
}

// NewBoltDevice opens the database file, creating the sector bucket if needed.
func NewBoltDevice(ctx context.Context, config BoltDeviceConfig) (*BoltDevice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if config.Path == "" {
		return nil, fmt.Errorf("bolt device: path is required")
	}
	if config.Sectors == 0 {
		return nil, fmt.Errorf("bolt device: sector count must be positive")
	}

	timeout := config.OpenTimeout
	if timeout == 0 {
		timeout = time.Second
	}

	db, err := bolt.Open(config.Path, 0600, &bolt.Options{Timeout: timeout, NoSync: config.NoSync})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database at %s: %w", config.Path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sectorsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create sector bucket: %w", err)
	}

	return &BoltDevice{db: db, count: config.Sectors}, nil
}

func sectorKey(sector blockdev.Sector) []byte {
	key := make([]byte, 4)
	binary.BigEndian.PutUint32(key, sector)
	return key
}

// ReadSector copies the stored value out of the read transaction.
func (d *BoltDevice) ReadSector(ctx context.Context, sector blockdev.Sector, buf []byte) error {
	if err := blockdev.CheckAccess(ctx, d, sector, buf); err != nil {
		return err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return blockdev.ErrClosed
	}

	return d.db.View(func(tx *bolt.Tx) error {
		// Values are only valid inside the transaction.
		val := tx.Bucket(sectorsBucket).Get(sectorKey(sector))
		n := copy(buf, val)
		clear(buf[n:])
		return nil
	})
}

// WriteSector stores the sector in its own commit.
func (d *BoltDevice) WriteSector(ctx context.Context, sector blockdev.Sector, buf []byte) error {
	if err := blockdev.CheckAccess(ctx, d, sector, buf); err != nil {
		return err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return blockdev.ErrClosed
	}

	err := d.db.Update(func(tx *bolt.Tx) error {
		value := make([]byte, blockdev.SectorSize)
		copy(value, buf)
		return tx.Bucket(sectorsBucket).Put(sectorKey(sector), value)
	})
	if err != nil {
		return fmt.Errorf("write sector %d: %w", sector, err)
	}
	return nil
}

// SectorCount returns the device size in sectors.
func (d *BoltDevice) SectorCount() uint32 {
	return d.count
}

// Close closes the database file.
func (d *BoltDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	return d.db.Close()
}
