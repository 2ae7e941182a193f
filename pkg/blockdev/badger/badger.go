// Package badger implements a block device on top of BadgerDB.
//
// Each written sector is stored as one key. Sectors that were never written
// have no key and read as zeros, so a freshly opened database behaves like a
// zeroed disk of the configured size.
package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/marmos91/dittocore/pkg/blockdev"
)

// sectorPrefix namespaces sector keys: "s:" + big-endian uint32 index.
// Big-endian keeps sectors ordered for range scans.
const sectorPrefix = "s:"

// BadgerDevice stores sectors in a BadgerDB instance.
type BadgerDevice struct {
	db    *badger.DB
	count uint32

	mu     sync.RWMutex
	closed bool
}

// BadgerDeviceConfig contains configuration for the badger device.
type BadgerDeviceConfig struct {
	// DBPath is the directory for the database files.
	// Ignored when InMemory is set.
	DBPath string

	// Sectors is the device size.
	Sectors uint32

	// InMemory runs badger without touching disk (tests).
	InMemory bool

	// SyncWrites makes every sector write durable before returning.
	SyncWrites bool

	// BadgerOptions overrides all of the above when non-nil.
	BadgerOptions *badger.Options
}

// NewBadgerDevice opens the database and returns a device over it.
func NewBadgerDevice(ctx context.Context, config BadgerDeviceConfig) (*BadgerDevice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if config.Sectors == 0 {
		return nil, fmt.Errorf("badger device: sector count must be positive")
	}

	var opts badger.Options
	if config.BadgerOptions != nil {
		opts = *config.BadgerOptions
	} else {
		if config.InMemory {
			opts = badger.DefaultOptions("").WithInMemory(true)
		} else {
			if config.DBPath == "" {
				return nil, fmt.Errorf("badger device: db path is required")
			}
			opts = badger.DefaultOptions(config.DBPath)
		}

		// Sector values are tiny and fixed-size; compression buys nothing.
		opts = opts.WithLoggingLevel(badger.WARNING)
		opts = opts.WithCompression(options.None)
		opts = opts.WithSyncWrites(config.SyncWrites)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", config.DBPath, err)
	}

	return &BadgerDevice{
		db:    db,
		count: config.Sectors,
	}, nil
}

// sectorKey builds the key for a sector.
func sectorKey(sector blockdev.Sector) []byte {
	key := make([]byte, len(sectorPrefix)+4)
	copy(key, sectorPrefix)
	binary.BigEndian.PutUint32(key[len(sectorPrefix):], sector)
	return key
}

// ReadSector loads the sector value, or zeros when the key is absent.
func (d *BadgerDevice) ReadSector(ctx context.Context, sector blockdev.Sector, buf []byte) error {
	if err := blockdev.CheckAccess(ctx, d, sector, buf); err != nil {
		return err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return blockdev.ErrClosed
	}

	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sectorKey(sector))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			n := copy(buf, val)
			clear(buf[n:])
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		blockdev.Zero(buf)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read sector %d: %w", sector, err)
	}

	return nil
}

// WriteSector stores the sector under its key.
func (d *BadgerDevice) WriteSector(ctx context.Context, sector blockdev.Sector, buf []byte) error {
	if err := blockdev.CheckAccess(ctx, d, sector, buf); err != nil {
		return err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return blockdev.ErrClosed
	}

	value := make([]byte, blockdev.SectorSize)
	copy(value, buf)

	err := d.db.Update(func(txn *badger.Txn) error {
		return txn.Set(sectorKey(sector), value)
	})
	if err != nil {
		return fmt.Errorf("write sector %d: %w", sector, err)
	}

	return nil
}

// SectorCount returns the device size in sectors.
func (d *BadgerDevice) SectorCount() uint32 {
	return d.count
}

// Close closes the database.
func (d *BadgerDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	return d.db.Close()
}
