package cache

import "errors"

var (
	// ErrInvalidRange indicates an offset/length pair that does not fit in
	// one sector.
	ErrInvalidRange = errors.New("range exceeds sector")

	// ErrInvalidSlot indicates a slot index outside the cache.
	ErrInvalidSlot = errors.New("invalid cache slot")

	// ErrClosed indicates the cache has been closed.
	ErrClosed = errors.New("sector cache closed")
)
