package vm

import "errors"

var (
	// ErrNotFound is returned when no entry covers an address.
	ErrNotFound = errors.New("no page entry")

	// ErrExists is returned when inserting over an existing entry.
	ErrExists = errors.New("page entry exists")

	// ErrUnaligned is returned for entries whose address is not page aligned.
	ErrUnaligned = errors.New("unaligned page address")
)
