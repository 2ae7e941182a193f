package frame

import "errors"

var (
	// ErrNoFrame is returned when every frame is pinned or otherwise not
	// evictable.
	ErrNoFrame = errors.New("no evictable frame")

	// ErrNotResident is returned for pages with no frame.
	ErrNotResident = errors.New("page not resident")

	// ErrUnknownOwner is returned when an owner id was never registered.
	ErrUnknownOwner = errors.New("unknown frame owner")
)
