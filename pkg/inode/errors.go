package inode

import "errors"

var (
	// ErrWriteDenied is returned by writes to a file whose writes are denied,
	// typically a running executable.
	ErrWriteDenied = errors.New("writes denied")

	// ErrOutOfRange is returned for positions beyond the largest representable
	// file or negative offsets.
	ErrOutOfRange = errors.New("position out of range")

	// ErrCorrupt is returned when an index record or index block does not
	// decode or points nowhere.
	ErrCorrupt = errors.New("corrupt index record")

	// ErrClosed is returned when using a handle whose last opener closed it.
	ErrClosed = errors.New("inode closed")

	// ErrDenyCount is returned when deny/allow calls are unbalanced.
	ErrDenyCount = errors.New("unbalanced deny-write")
)
