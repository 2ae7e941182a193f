package freemap

import "errors"

var (
	// ErrNoSpace is returned when no contiguous run of the requested size is free.
	ErrNoSpace = errors.New("no free sectors")

	// ErrNotAllocated is returned when releasing sectors that are already free.
	ErrNotAllocated = errors.New("sectors not allocated")

	// ErrInvalidCount is returned for a zero-length or out-of-range request.
	ErrInvalidCount = errors.New("invalid sector count")
)
