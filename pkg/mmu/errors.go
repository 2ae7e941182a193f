package mmu

import "errors"

var (
	// ErrNotPresent is returned by Touch when the page is not mapped.
	ErrNotPresent = errors.New("page not present")

	// ErrReadOnly is returned by Touch when writing a read-only page.
	ErrReadOnly = errors.New("page is read-only")

	// ErrInvalidFrame is returned for frame ids outside the pool.
	ErrInvalidFrame = errors.New("invalid frame")

	// ErrDoubleFree is returned when freeing a frame that is not allocated.
	ErrDoubleFree = errors.New("frame already free")
)
