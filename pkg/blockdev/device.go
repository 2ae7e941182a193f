// Package blockdev defines the sector-addressed block device boundary used by
// the sector cache, the free map and the swap store.
//
// A Device reads and writes whole sectors by index. It performs no caching of
// its own: every call reaches the backing medium. Backends live in the
// sub-packages (memory, fs, badger, bolt, s3) and share the conformance suite
// in blockdev/testing.
package blockdev

import (
	"context"
	"fmt"
)

// SectorSize is the fixed size of one sector in bytes.
const SectorSize = 512

// Sector is the index of a sector on a device.
type Sector = uint32

// Device is a fixed-size array of sectors.
//
// Implementations must:
//   - Reject buffers whose length is not exactly SectorSize (ErrInvalidBuffer)
//   - Reject sector indices >= SectorCount() (ErrSectorOutOfRange)
//   - Return zeros for sectors that have never been written
//   - Be safe for concurrent use by multiple goroutines
//
// Context Cancellation:
// Remote backends (S3) honour ctx for the duration of the request. Local
// backends check it once before doing any work.
type Device interface {
	// ReadSector fills buf with the contents of sector.
	ReadSector(ctx context.Context, sector Sector, buf []byte) error

	// WriteSector stores buf as the new contents of sector.
	WriteSector(ctx context.Context, sector Sector, buf []byte) error

	// SectorCount returns the number of addressable sectors.
	SectorCount() uint32

	// Close releases the underlying resources. Further calls fail.
	Close() error
}

// CheckAccess validates the common preconditions shared by all backends.
//
// It is exported so every backend reports the same errors for the same
// misuse, which the conformance suite relies on.
func CheckAccess(ctx context.Context, dev Device, sector Sector, buf []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(buf) != SectorSize {
		return fmt.Errorf("buffer of %d bytes: %w", len(buf), ErrInvalidBuffer)
	}
	if sector >= dev.SectorCount() {
		return fmt.Errorf("sector %d of %d: %w", sector, dev.SectorCount(), ErrSectorOutOfRange)
	}
	return nil
}

// Zero fills buf with zeros.
func Zero(buf []byte) {
	clear(buf)
}
