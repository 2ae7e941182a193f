// Package frame implements the global frame cache: every resident user page
// of every process, and the clock eviction that makes room for new ones.
//
// Eviction dispatch by page kind:
//
//	image  written to swap only if dirty, and becomes a swap page
//	file   written back to its file only if dirty
//	swap   always written to swap
//
// A record is pinned from Acquire until the faulting path calls Unpin, and
// while a system call holds it with Pin. Pinned frames are never chosen.
package frame

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/marmos91/dittocore/internal/logger"
	"github.com/marmos91/dittocore/pkg/metrics"
	"github.com/marmos91/dittocore/pkg/mmu"
	"github.com/marmos91/dittocore/pkg/swap"
	"github.com/marmos91/dittocore/pkg/vm"
)

// Owner is a process whose pages occupy frames.
type Owner interface {
	ID() int
	Directory() *mmu.PageDirectory
}

// Swapper is the part of the swap store eviction uses.
type Swapper interface {
	SwapOut(ctx context.Context, page []byte) (swap.Slot, error)
}

// Record is one resident page.
type Record struct {
	Frame  mmu.FrameID
	Owner  int
	Entry  *vm.Entry
	Pinned bool
}

// Options configures a Cache.
type Options struct {
	Metrics metrics.FrameMetrics
}

// Stats describes the frame cache.
type Stats struct {
	Frames     int    `json:"frames"`
	Resident   int    `json:"resident"`
	Pinned     int    `json:"pinned"`
	Evictions  uint64 `json:"evictions"`
	SwapOuts   uint64 `json:"swap_outs"`
	Writebacks uint64 `json:"writebacks"`
}

type pageKey struct {
	owner int
	page  mmu.VAddr
}

// Cache is the frame table. One mutex covers selection, eviction and
// bookkeeping.
type Cache struct {
	pool    *mmu.FramePool
	swap    Swapper
	metrics metrics.FrameMetrics

	mu      sync.Mutex
	owners  map[int]Owner
	records []*Record
	index   map[pageKey]*Record
	hand    int
	stats   Stats
}

// New returns an empty frame cache over pool that evicts to sw.
func New(pool *mmu.FramePool, sw Swapper, opts Options) *Cache {
	m := opts.Metrics
	if m == nil {
		m = metrics.NewNoopFrameMetrics()
	}

	return &Cache{
		pool:    pool,
		swap:    sw,
		metrics: m,
		owners:  make(map[int]Owner),
		index:   make(map[pageKey]*Record),
		stats:   Stats{Frames: pool.Total()},
	}
}

// Register makes owner resolvable by its id.
func (c *Cache) Register(owner Owner) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.owners[owner.ID()] = owner
}

// Unregister forgets an owner. Its frames should be released first.
func (c *Cache) Unregister(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.owners, id)
}

// Acquire takes a frame for entry, evicting as needed. The record starts
// pinned.
func (c *Cache) Acquire(ctx context.Context, owner int, entry *vm.Entry, zero bool) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.owners[owner]; !ok {
		return nil, fmt.Errorf("owner %d: %w", owner, ErrUnknownOwner)
	}

	key := pageKey{owner: owner, page: entry.Addr}
	if _, ok := c.index[key]; ok {
		return nil, fmt.Errorf("page %#x of owner %d already resident", uint32(entry.Addr), owner)
	}

	for {
		id, ok := c.pool.Alloc(zero)
		if ok {
			rec := &Record{Frame: id, Owner: owner, Entry: entry, Pinned: true}
			entry.Pinned = true
			c.records = append(c.records, rec)
			c.index[key] = rec
			c.reportLocked()
			return rec, nil
		}

		if err := c.evictLocked(ctx); err != nil {
			return nil, err
		}
	}
}

// EvictOne frees one frame.
func (c *Cache) EvictOne(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictLocked(ctx)
}

// Bytes returns the memory of rec's frame.
func (c *Cache) Bytes(rec *Record) []byte {
	return c.pool.Bytes(rec.Frame)
}

// Lookup returns the record of a resident page.
func (c *Cache) Lookup(owner int, vaddr mmu.VAddr) (*Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.index[pageKey{owner: owner, page: vaddr.PageBase()}]
	return rec, ok
}

// Pin keeps a resident page from being evicted. It reports false if the
// page is not resident.
func (c *Cache) Pin(owner int, vaddr mmu.VAddr) bool {
	return c.setPinned(owner, vaddr, true)
}

// Unpin makes a resident page evictable again.
func (c *Cache) Unpin(owner int, vaddr mmu.VAddr) bool {
	return c.setPinned(owner, vaddr, false)
}

// Pinned reports whether the page holding vaddr is resident and pinned.
func (c *Cache) Pinned(owner int, vaddr mmu.VAddr) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.index[pageKey{owner: owner, page: vaddr.PageBase()}]
	return ok && rec.Pinned
}

// PinRange pins every resident page overlapping [start, start+size) and
// returns how many were pinned.
func (c *Cache) PinRange(owner int, start mmu.VAddr, size int) int {
	n := 0
	for page := range pages(start, size) {
		if c.Pin(owner, page) {
			n++
		}
	}
	return n
}

// UnpinRange undoes PinRange.
func (c *Cache) UnpinRange(owner int, start mmu.VAddr, size int) {
	for page := range pages(start, size) {
		c.Unpin(owner, page)
	}
}

// Release drops a resident page without writing it anywhere.
func (c *Cache) Release(owner int, vaddr mmu.VAddr) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.index[pageKey{owner: owner, page: vaddr.PageBase()}]
	if !ok {
		return fmt.Errorf("release %#x: %w", uint32(vaddr), ErrNotResident)
	}
	return c.dropLocked(rec)
}

// ReleaseOwner drops every frame of owner and returns how many there were.
func (c *Cache) ReleaseOwner(owner int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var mine []*Record
	for _, rec := range c.records {
		if rec.Owner == owner {
			mine = append(mine, rec)
		}
	}
	for _, rec := range mine {
		if err := c.dropLocked(rec); err != nil {
			logger.Error("Frame cache: release frame %d of owner %d: %v", rec.Frame, owner, err)
		}
	}
	return len(mine)
}

// Len returns the number of resident pages.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.Resident = len(c.records)
	s.Pinned = c.pinnedLocked()
	return s
}

// ============================================================================
// Internal helpers (caller holds c.mu)
// ============================================================================

// evictLocked runs the clock over the records in insertion order. Accessed
// pages lose their bit; pinned pages are skipped with their bit intact. Two
// full turns without a victim means nothing can be evicted.
func (c *Cache) evictLocked(ctx context.Context) error {
	n := len(c.records)
	for range 2 * n {
		if c.hand >= len(c.records) {
			c.hand = 0
		}
		idx := c.hand
		rec := c.records[idx]
		c.hand++

		if rec.Pinned {
			continue
		}

		owner, ok := c.owners[rec.Owner]
		if !ok {
			continue
		}

		dir := owner.Directory()
		if dir.IsAccessed(rec.Entry.Addr) {
			dir.SetAccessed(rec.Entry.Addr, false)
			continue
		}

		if err := c.writeOutLocked(ctx, rec, dir); err != nil {
			return err
		}
		c.hand = idx
		c.stats.Evictions++
		return c.dropLocked(rec)
	}

	return fmt.Errorf("%d frames resident, %d pinned: %w", n, c.pinnedLocked(), ErrNoFrame)
}

// writeOutLocked saves the victim's content according to its kind.
func (c *Cache) writeOutLocked(ctx context.Context, rec *Record, dir *mmu.PageDirectory) error {
	e := rec.Entry
	kind := e.Kind
	page := c.pool.Bytes(rec.Frame)
	dirty := dir.IsDirty(e.Addr)
	dest := "none"

	switch kind {
	case vm.KindImage:
		if dirty {
			slot, err := c.swap.SwapOut(ctx, page)
			if err != nil {
				return fmt.Errorf("evict image page %#x: %w", uint32(e.Addr), err)
			}
			e.SwapSlot = slot
			e.Kind = vm.KindSwap
			dest = "swap"
		}

	case vm.KindFile:
		if dirty {
			if _, err := e.File.WriteAt(ctx, page[:e.ReadBytes], e.Offset); err != nil {
				return fmt.Errorf("evict file page %#x: %w", uint32(e.Addr), err)
			}
			c.stats.Writebacks++
			dest = "file"
		}

	case vm.KindSwap:
		slot, err := c.swap.SwapOut(ctx, page)
		if err != nil {
			return fmt.Errorf("evict swap page %#x: %w", uint32(e.Addr), err)
		}
		e.SwapSlot = slot
		dest = "swap"
	}

	if dest == "swap" {
		c.stats.SwapOuts++
	}

	logger.Debug("Frame cache: evicting %s page %#x of owner %d from frame %d (dirty=%t, to=%s)",
		kind, uint32(e.Addr), rec.Owner, rec.Frame, dirty, dest)
	c.metrics.RecordEviction(kind.String(), dest)
	return nil
}

// dropLocked unmaps rec, frees its frame and forgets it.
func (c *Cache) dropLocked(rec *Record) error {
	if owner, ok := c.owners[rec.Owner]; ok {
		owner.Directory().Clear(rec.Entry.Addr)
	}
	rec.Entry.Pinned = false

	i := slices.Index(c.records, rec)
	if i >= 0 {
		c.records = slices.Delete(c.records, i, i+1)
		if c.hand > i {
			c.hand--
		}
	}
	delete(c.index, pageKey{owner: rec.Owner, page: rec.Entry.Addr})
	c.reportLocked()

	return c.pool.Free(rec.Frame)
}

func (c *Cache) setPinned(owner int, vaddr mmu.VAddr, pinned bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.index[pageKey{owner: owner, page: vaddr.PageBase()}]
	if !ok {
		return false
	}
	rec.Pinned = pinned
	rec.Entry.Pinned = pinned
	c.metrics.SetPinned(c.pinnedLocked())
	return true
}

func (c *Cache) pinnedLocked() int {
	n := 0
	for _, rec := range c.records {
		if rec.Pinned {
			n++
		}
	}
	return n
}

func (c *Cache) reportLocked() {
	c.metrics.SetResident(len(c.records))
	c.metrics.SetPinned(c.pinnedLocked())
}

// pages yields the page base of every page overlapping [start, start+size).
func pages(start mmu.VAddr, size int) iter.Seq[mmu.VAddr] {
	return func(yield func(mmu.VAddr) bool) {
		if size <= 0 {
			return
		}
		end := uint64(start) + uint64(size)
		for page := uint64(start.PageBase()); page < end; page += mmu.PageSize {
			if !yield(mmu.VAddr(page)) {
				return
			}
		}
	}
}
