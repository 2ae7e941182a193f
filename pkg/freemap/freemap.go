// Package freemap tracks which sectors of the file-system device are in use.
//
// The map lives in memory and is written through to a Backing (the free-map
// file once the volume is open) after every change.
package freemap

import (
	"context"
	"fmt"
	"sync"

	"github.com/marmos91/dittocore/internal/bitmap"
	"github.com/marmos91/dittocore/internal/logger"
	"github.com/marmos91/dittocore/pkg/blockdev"
)

// Backing stores the serialized bitmap.
type Backing interface {
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)
	WriteAt(ctx context.Context, p []byte, off int64) (int, error)
}

// FreeMap is a first-fit sector allocator.
type FreeMap struct {
	mu      sync.Mutex
	bits    *bitmap.Bitmap
	backing Backing
}

// New returns an all-free map for a device of sectors sectors.
func New(sectors uint32) *FreeMap {
	return &FreeMap{bits: bitmap.New(uint(sectors))}
}

// Format returns a fresh map with the given sectors already marked used.
func Format(sectors uint32, reserved ...blockdev.Sector) (*FreeMap, error) {
	f := New(sectors)
	for _, s := range reserved {
		if s >= sectors {
			return nil, fmt.Errorf("reserve sector %d of %d: %w", s, sectors, ErrInvalidCount)
		}
		f.bits.SetMultiple(uint(s), 1, true)
	}
	return f, nil
}

// ByteLen is the size of the serialized map.
func (f *FreeMap) ByteLen() int64 {
	return int64(bitmap.ByteLen(f.bits.Size()))
}

// Size returns the number of sectors tracked.
func (f *FreeMap) Size() uint32 {
	return uint32(f.bits.Size())
}

// Free returns the number of unused sectors.
func (f *FreeMap) Free() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint32(f.bits.Size() - f.bits.Count())
}

// IsUsed reports whether sector is allocated.
func (f *FreeMap) IsUsed(sector blockdev.Sector) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bits.Test(uint(sector))
}

// Attach sets the backing and writes the current map to it.
func (f *FreeMap) Attach(ctx context.Context, backing Backing) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.backing = backing
	return f.persistLocked(ctx)
}

// Load replaces the map with the contents of backing and keeps it attached.
func (f *FreeMap) Load(ctx context.Context, backing Backing) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	buf := make([]byte, f.ByteLen())
	n, err := backing.ReadAt(ctx, buf, 0)
	if err != nil {
		return fmt.Errorf("read free map: %w", err)
	}
	if n != len(buf) {
		return fmt.Errorf("read free map: short read %d of %d bytes", n, len(buf))
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.bits.Load(buf); err != nil {
		return err
	}
	f.backing = backing

	logger.Debug("Free map: loaded %d sectors, %d in use", f.bits.Size(), f.bits.Count())
	return nil
}

// Persist writes the map to its backing. Without a backing it does nothing.
func (f *FreeMap) Persist(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.persistLocked(ctx)
}

// Allocate reserves count consecutive sectors and returns the first.
func (f *FreeMap) Allocate(ctx context.Context, count uint32) (blockdev.Sector, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, ErrInvalidCount
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	start, ok := f.bits.ScanAndFlip(uint(count))
	if !ok {
		return 0, fmt.Errorf("allocate %d sectors: %w", count, ErrNoSpace)
	}

	if err := f.persistLocked(ctx); err != nil {
		f.bits.SetMultiple(start, uint(count), false)
		return 0, err
	}
	return blockdev.Sector(start), nil
}

// Release frees count sectors starting at sector. Every sector in the range
// must currently be allocated.
func (f *FreeMap) Release(ctx context.Context, sector blockdev.Sector, count uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if count == 0 || uint(sector)+uint(count) > f.bits.Size() {
		return fmt.Errorf("release %d sectors at %d: %w", count, sector, ErrInvalidCount)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.bits.All(uint(sector), uint(count), true) {
		return fmt.Errorf("release %d sectors at %d: %w", count, sector, ErrNotAllocated)
	}

	f.bits.SetMultiple(uint(sector), uint(count), false)
	return f.persistLocked(ctx)
}

func (f *FreeMap) persistLocked(ctx context.Context) error {
	if f.backing == nil {
		return nil
	}

	buf := f.bits.Bytes()
	n, err := f.backing.WriteAt(ctx, buf, 0)
	if err != nil {
		return fmt.Errorf("write free map: %w", err)
	}
	if n != len(buf) {
		return fmt.Errorf("write free map: short write %d of %d bytes", n, len(buf))
	}
	return nil
}
