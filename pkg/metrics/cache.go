package metrics

import "time"

// CacheMetrics provides observability for the sector cache.
//
// Implementations count hits, misses, evictions and writebacks and track the
// number of resident and dirty slots. This interface is optional - if not
// provided to the cache, a no-op implementation is used with zero overhead.
//
// Example usage:
//
//	c, err := cache.New(dev, cache.Options{Metrics: prometheus.NewCacheMetrics()})
type CacheMetrics interface {
	// RecordHit records a lookup that found the sector resident.
	RecordHit()

	// RecordMiss records a lookup that had to load the sector from the device.
	RecordMiss()

	// RecordEviction records a slot being reclaimed for another sector.
	//
	// Parameters:
	//   - dirty: whether the evicted slot had to be written back first
	//   - forced: whether the clock completed a full cycle without a candidate
	RecordEviction(dirty bool, forced bool)

	// RecordWriteback records one dirty slot written to the device.
	RecordWriteback(duration time.Duration, err error)

	// SetOccupancy updates the resident and dirty slot gauges.
	SetOccupancy(resident, dirty int)
}

// NewNoopCacheMetrics returns a CacheMetrics that discards everything.
func NewNoopCacheMetrics() CacheMetrics {
	return noopCacheMetrics{}
}

// noopCacheMetrics is a no-op implementation of CacheMetrics with zero overhead.
type noopCacheMetrics struct{}

func (noopCacheMetrics) RecordHit()                                        {}
func (noopCacheMetrics) RecordMiss()                                       {}
func (noopCacheMetrics) RecordEviction(dirty bool, forced bool)            {}
func (noopCacheMetrics) RecordWriteback(duration time.Duration, err error) {}
func (noopCacheMetrics) SetOccupancy(resident, dirty int)                  {}
