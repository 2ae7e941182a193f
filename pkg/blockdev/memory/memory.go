package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/marmos91/dittocore/pkg/blockdev"
)

// MemoryDevice implements blockdev.Device using in-memory storage.
//
// Sectors are allocated lazily on first write, so a large but sparsely used
// device costs only what has been written. It's designed for:
//   - Testing and development
//   - Ephemeral swap devices
//
// Thread Safety:
// All operations are protected by a sync.RWMutex. Data is copied on read and
// write so callers keep ownership of their buffers.
type MemoryDevice struct {
	// sectors holds written sectors keyed by index
	sectors map[blockdev.Sector][]byte

	// count is the fixed device size in sectors
	count uint32

	// writes counts WriteSector calls (exposed for tests asserting writeback)
	writes uint64

	closed bool
	mu     sync.RWMutex
}

// NewMemoryDevice creates an in-memory device of count sectors.
func NewMemoryDevice(ctx context.Context, count uint32) (*MemoryDevice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if count == 0 {
		return nil, fmt.Errorf("memory device: sector count must be positive")
	}

	return &MemoryDevice{
		sectors: make(map[blockdev.Sector][]byte),
		count:   count,
	}, nil
}

// ReadSector copies the sector into buf. Unwritten sectors read as zeros.
func (d *MemoryDevice) ReadSector(ctx context.Context, sector blockdev.Sector, buf []byte) error {
	if err := blockdev.CheckAccess(ctx, d, sector, buf); err != nil {
		return err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return blockdev.ErrClosed
	}

	data, exists := d.sectors[sector]
	if !exists {
		blockdev.Zero(buf)
		return nil
	}

	copy(buf, data)
	return nil
}

// WriteSector stores a copy of buf as the sector contents.
func (d *MemoryDevice) WriteSector(ctx context.Context, sector blockdev.Sector, buf []byte) error {
	if err := blockdev.CheckAccess(ctx, d, sector, buf); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return blockdev.ErrClosed
	}

	data, exists := d.sectors[sector]
	if !exists {
		data = make([]byte, blockdev.SectorSize)
		d.sectors[sector] = data
	}
	copy(data, buf)
	d.writes++

	return nil
}

// SectorCount returns the device size in sectors.
func (d *MemoryDevice) SectorCount() uint32 {
	return d.count
}

// Writes returns the number of sector writes performed so far.
func (d *MemoryDevice) Writes() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.writes
}

// Close drops all sectors.
func (d *MemoryDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closed = true
	d.sectors = nil
	return nil
}
