package swap

import "errors"

var (
	// ErrFull is returned when no swap slot is free.
	ErrFull = errors.New("swap full")

	// ErrNotReserved is returned for I/O on, or release of, a free slot.
	ErrNotReserved = errors.New("swap slot not reserved")

	// ErrInvalidPage is returned for page buffers that are not PageSize bytes.
	ErrInvalidPage = errors.New("invalid page buffer")
)
