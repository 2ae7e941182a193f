package filesys

import "errors"

var (
	// ErrNotFormatted is returned when the header sector does not hold a
	// volume header or describes a different device.
	ErrNotFormatted = errors.New("volume not formatted")

	// ErrDeviceTooSmall is returned when formatting a device that cannot
	// hold the header and the free map.
	ErrDeviceTooSmall = errors.New("device too small")

	// ErrClosed is returned by operations on a closed volume.
	ErrClosed = errors.New("volume closed")
)
