package metrics

import "time"

// FrameMetrics provides observability for the global frame cache and the
// page-fault path.
type FrameMetrics interface {
	// RecordFault records a resolved (or failed) page fault.
	//
	// Parameters:
	//   - kind: backing kind of the page ("image", "file", "swap", "stack")
	//   - duration: time from fault entry to mapping installed
	//   - err: non-nil if the fault was fatal for the process
	RecordFault(kind string, duration time.Duration, err error)

	// RecordEviction records a frame evicted from the cache.
	//
	// Parameters:
	//   - kind: backing kind of the victim page before eviction
	//   - writeback: where its content went ("swap", "file" or "none")
	RecordEviction(kind string, writeback string)

	// SetResident updates the number of frames currently in the cache.
	SetResident(count int)

	// SetPinned updates the number of pinned frames.
	SetPinned(count int)
}

// NewNoopFrameMetrics returns a FrameMetrics that discards everything.
func NewNoopFrameMetrics() FrameMetrics {
	return noopFrameMetrics{}
}

type noopFrameMetrics struct{}

func (noopFrameMetrics) RecordFault(kind string, duration time.Duration, err error) {}
func (noopFrameMetrics) RecordEviction(kind string, writeback string)               {}
func (noopFrameMetrics) SetResident(count int)                                      {}
func (noopFrameMetrics) SetPinned(count int)                                        {}
