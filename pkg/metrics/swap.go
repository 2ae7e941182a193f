package metrics

import "time"

// SwapMetrics provides observability for the swap store.
type SwapMetrics interface {
	// RecordSwapOut records a page written to a swap slot.
	RecordSwapOut(duration time.Duration, err error)

	// RecordSwapIn records a page read back from a swap slot.
	RecordSwapIn(duration time.Duration, err error)

	// SetSlots updates the used and total slot gauges.
	SetSlots(used, total int)
}

// NewNoopSwapMetrics returns a SwapMetrics that discards everything.
func NewNoopSwapMetrics() SwapMetrics {
	return noopSwapMetrics{}
}

type noopSwapMetrics struct{}

func (noopSwapMetrics) RecordSwapOut(duration time.Duration, err error) {}
func (noopSwapMetrics) RecordSwapIn(duration time.Duration, err error)  {}
func (noopSwapMetrics) SetSlots(used, total int)                        {}
