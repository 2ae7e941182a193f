// Package cache implements the fixed-capacity sector cache that sits between
// the file store and the block device.
//
// The cache holds up to Capacity() sectors. Victims are chosen with the clock
// (second-chance) algorithm: a slot whose sector was re-used since the hand
// last passed gets one more round, anything else is reclaimed, after writing
// it back if dirty. A sector loaded on a miss enters with its reference bit
// clear; only a later hit sets it.
//
// Thread Safety:
// One mutex guards slot selection, eviction and copies, so two goroutines
// never choose or mutate the same slot. Device I/O happens under that mutex.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/dittocore/internal/logger"
	"github.com/marmos91/dittocore/pkg/blockdev"
	"github.com/marmos91/dittocore/pkg/metrics"
)

// DefaultSlots is the capacity used when Options.Slots is zero.
const DefaultSlots = 64

// Options configures a Cache.
type Options struct {
	// Slots is the capacity in sectors. Default: DefaultSlots.
	Slots int

	// Metrics receives cache events. Nil uses a no-op implementation.
	Metrics metrics.CacheMetrics
}

// Stats is a point-in-time view of cache counters.
type Stats struct {
	Capacity        int    `json:"capacity"`
	Resident        int    `json:"resident"`
	Dirty           int    `json:"dirty"`
	Hits            uint64 `json:"hits"`
	Misses          uint64 `json:"misses"`
	Evictions       uint64 `json:"evictions"`
	ForcedEvictions uint64 `json:"forced_evictions"`
	Writebacks      uint64 `json:"writebacks"`
}

// Cache is a write-back sector cache over a blockdev.Device.
type Cache struct {
	dev     blockdev.Device
	metrics metrics.CacheMetrics

	mu     sync.Mutex
	slots  []slot
	index  map[blockdev.Sector]int
	hand   int
	stats  Stats
	closed bool

	flusher *flusher
}

// New allocates every slot up front. There is no degraded mode: if the
// slots cannot be allocated the cache cannot be built.
func New(dev blockdev.Device, opts Options) (*Cache, error) {
	if dev == nil {
		return nil, fmt.Errorf("sector cache: device is required")
	}

	capacity := opts.Slots
	if capacity == 0 {
		capacity = DefaultSlots
	}
	if capacity < 0 {
		return nil, fmt.Errorf("sector cache: invalid capacity %d", capacity)
	}

	m := opts.Metrics
	if m == nil {
		m = metrics.NewNoopCacheMetrics()
	}

	return &Cache{
		dev:     dev,
		metrics: m,
		slots:   make([]slot, capacity),
		index:   make(map[blockdev.Sector]int, capacity),
		stats:   Stats{Capacity: capacity},
	}, nil
}

// Device returns the underlying block device.
func (c *Cache) Device() blockdev.Device {
	return c.dev
}

// Capacity returns the number of slots.
func (c *Cache) Capacity() int {
	return len(c.slots)
}

// Read copies len(dst) bytes from sector, starting at offset within the
// sector, into dst.
func (c *Cache) Read(ctx context.Context, sector blockdev.Sector, dst []byte, offset int) error {
	if err := checkRange(offset, len(dst)); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	idx, err := c.lookupOrLoad(ctx, sector, true)
	if err != nil {
		return err
	}

	copy(dst, c.slots[idx].data[offset:offset+len(dst)])
	return nil
}

// Write copies src into sector at offset and marks the slot dirty. A write
// that covers the whole sector skips the device read on a miss.
func (c *Cache) Write(ctx context.Context, sector blockdev.Sector, src []byte, offset int) error {
	if err := checkRange(offset, len(src)); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	whole := offset == 0 && len(src) == blockdev.SectorSize
	idx, err := c.lookupOrLoad(ctx, sector, !whole)
	if err != nil {
		return err
	}

	s := &c.slots[idx]
	copy(s.data[offset:], src)
	if s.state != SlotDirty {
		s.state = SlotDirty
		c.stats.Dirty++
	}
	c.reportOccupancy()

	return nil
}

// Zero overwrites sector with zeros through the cache.
func (c *Cache) Zero(ctx context.Context, sector blockdev.Sector) error {
	var zeros [blockdev.SectorSize]byte
	return c.Write(ctx, sector, zeros[:], 0)
}

// Flush writes slot back to the device if it is dirty.
func (c *Cache) Flush(ctx context.Context, slotIndex int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if slotIndex < 0 || slotIndex >= len(c.slots) {
		return fmt.Errorf("slot %d of %d: %w", slotIndex, len(c.slots), ErrInvalidSlot)
	}

	return c.flushLocked(ctx, slotIndex)
}

// FlushAll writes every dirty slot back. It keeps going after a failure and
// returns the first error, so one bad sector does not strand the rest.
func (c *Cache) FlushAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	return c.flushAllLocked(ctx)
}

// Resident reports whether sector currently occupies a slot.
func (c *Cache) Resident(sector blockdev.Sector) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.index[sector]
	return ok
}

// Snapshot returns the state of every slot in index order.
func (c *Cache) Snapshot() []SlotInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	infos := make([]SlotInfo, len(c.slots))
	for i := range c.slots {
		s := &c.slots[i]
		infos[i] = SlotInfo{Index: i, Sector: s.sector, State: s.state, Referenced: s.referenced}
	}
	return infos
}

// Stats returns a copy of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Close stops the background flusher, writes back every dirty slot and
// releases the slots. The device itself is left open.
func (c *Cache) Close(ctx context.Context) error {
	c.StopFlusher()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	err := c.flushAllLocked(ctx)
	c.closed = true
	c.slots = nil
	c.index = nil

	if err != nil {
		return fmt.Errorf("sector cache close: %w", err)
	}
	return nil
}

// ============================================================================
// Internal helpers (caller holds c.mu)
// ============================================================================

// lookupOrLoad returns the slot holding sector, loading it (or, when load is
// false, claiming a slot without reading the device) on a miss.
func (c *Cache) lookupOrLoad(ctx context.Context, sector blockdev.Sector, load bool) (int, error) {
	if c.closed {
		return 0, ErrClosed
	}

	if idx, ok := c.index[sector]; ok {
		c.slots[idx].referenced = true
		c.stats.Hits++
		c.metrics.RecordHit()
		return idx, nil
	}

	c.stats.Misses++
	c.metrics.RecordMiss()

	idx, err := c.claimSlot(ctx)
	if err != nil {
		return 0, err
	}

	s := &c.slots[idx]
	if load {
		if err := c.dev.ReadSector(ctx, sector, s.data[:]); err != nil {
			return 0, fmt.Errorf("load sector %d: %w", sector, err)
		}
	} else {
		clear(s.data[:])
	}

	s.sector = sector
	s.state = SlotClean
	s.referenced = false
	c.index[sector] = idx
	c.stats.Resident++
	c.reportOccupancy()

	return idx, nil
}

// claimSlot returns a free slot, evicting a victim if none is free. The
// returned slot is SlotFree and not indexed.
func (c *Cache) claimSlot(ctx context.Context) (int, error) {
	if len(c.slots) == 0 {
		return 0, fmt.Errorf("sector cache has no slots")
	}

	for i := range c.slots {
		if c.slots[i].state == SlotFree {
			return i, nil
		}
	}

	victim, forced := c.selectVictim()
	if err := c.evict(ctx, victim, forced); err != nil {
		return 0, err
	}
	return victim, nil
}

// selectVictim runs the clock. Referenced slots lose their bit and are
// skipped; the first unreferenced slot wins. If a whole revolution finds
// none, the slot under the hand is taken.
func (c *Cache) selectVictim() (int, bool) {
	n := len(c.slots)
	for range n {
		idx := c.hand
		c.hand = (c.hand + 1) % n

		s := &c.slots[idx]
		if s.referenced {
			s.referenced = false
			continue
		}
		return idx, false
	}

	idx := c.hand
	c.hand = (c.hand + 1) % n
	return idx, true
}

// evict writes the slot back if dirty and frees it. On writeback failure the
// slot keeps its sector and dirty data.
func (c *Cache) evict(ctx context.Context, idx int, forced bool) error {
	s := &c.slots[idx]
	dirty := s.state == SlotDirty

	if err := c.flushLocked(ctx, idx); err != nil {
		return fmt.Errorf("evict sector %d: %w", s.sector, err)
	}

	logger.Debug("Sector cache: evicting sector %d from slot %d (dirty=%t, forced=%t)", s.sector, idx, dirty, forced)

	delete(c.index, s.sector)
	s.state = SlotFree
	s.referenced = false
	c.stats.Resident--
	c.stats.Evictions++
	if forced {
		c.stats.ForcedEvictions++
	}
	c.metrics.RecordEviction(dirty, forced)

	return nil
}

func (c *Cache) flushLocked(ctx context.Context, idx int) error {
	s := &c.slots[idx]
	if s.state != SlotDirty {
		return nil
	}

	start := time.Now()
	err := c.dev.WriteSector(ctx, s.sector, s.data[:])
	c.metrics.RecordWriteback(time.Since(start), err)
	if err != nil {
		logger.Warn("Sector cache: writeback of sector %d failed: %v", s.sector, err)
		return fmt.Errorf("write back sector %d: %w", s.sector, err)
	}

	s.state = SlotClean
	c.stats.Dirty--
	c.stats.Writebacks++
	c.reportOccupancy()

	return nil
}

func (c *Cache) flushAllLocked(ctx context.Context) error {
	var firstErr error
	for i := range c.slots {
		if err := c.flushLocked(ctx, i); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// dirtySlots returns the indices of dirty slots.
func (c *Cache) dirtySlots() []int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var dirty []int
	for i := range c.slots {
		if c.slots[i].state == SlotDirty {
			dirty = append(dirty, i)
		}
	}
	return dirty
}

func (c *Cache) reportOccupancy() {
	c.metrics.SetOccupancy(c.stats.Resident, c.stats.Dirty)
}

func checkRange(offset, length int) error {
	if offset < 0 || length < 0 || offset+length > blockdev.SectorSize {
		return fmt.Errorf("offset %d length %d: %w", offset, length, ErrInvalidRange)
	}
	return nil
}
