package blockdev

import "errors"

// Standard device errors. Backends wrap these with context:
//
//	return fmt.Errorf("sector %d: %w", sector, blockdev.ErrSectorOutOfRange)
var (
	// ErrSectorOutOfRange indicates a sector index beyond the device size.
	ErrSectorOutOfRange = errors.New("sector out of range")

	// ErrInvalidBuffer indicates a buffer that is not exactly one sector.
	ErrInvalidBuffer = errors.New("buffer must be exactly one sector")

	// ErrClosed indicates the device has been closed.
	ErrClosed = errors.New("device closed")
)
