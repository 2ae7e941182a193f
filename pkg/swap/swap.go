// Package swap stores evicted pages on a dedicated block device.
//
// The device is divided into slots of SectorsPerSlot consecutive sectors.
// Occupancy is tracked per sector; reservations always take an aligned run
// of SectorsPerSlot sectors, so slot n covers sectors n*8 through n*8+7.
package swap

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/dittocore/internal/bitmap"
	"github.com/marmos91/dittocore/internal/logger"
	"github.com/marmos91/dittocore/pkg/blockdev"
	"github.com/marmos91/dittocore/pkg/metrics"
	"github.com/marmos91/dittocore/pkg/mmu"
)

// SectorsPerSlot is the number of sectors holding one page.
const SectorsPerSlot = mmu.PageSize / blockdev.SectorSize

// Slot identifies a page-sized region of the swap device.
type Slot int

// NoSlot marks a page that has no swap copy.
const NoSlot Slot = -1

// Options configures a Store.
type Options struct {
	Metrics metrics.SwapMetrics
}

// Stats describes swap usage.
type Stats struct {
	Slots    int    `json:"slots"`
	Used     int    `json:"used"`
	SwapOuts uint64 `json:"swap_outs"`
	SwapIns  uint64 `json:"swap_ins"`
}

// Store is the swap area.
type Store struct {
	dev     blockdev.Device
	metrics metrics.SwapMetrics

	mu    sync.Mutex
	bits  *bitmap.Bitmap
	stats Stats
}

// New builds a swap store over dev. Trailing sectors that do not fill a
// whole slot are never used.
func New(dev blockdev.Device, opts Options) (*Store, error) {
	if dev == nil {
		return nil, fmt.Errorf("swap: device is required")
	}

	slots := int(dev.SectorCount() / SectorsPerSlot)
	if slots == 0 {
		return nil, fmt.Errorf("swap: device has %d sectors, need at least %d", dev.SectorCount(), SectorsPerSlot)
	}

	m := opts.Metrics
	if m == nil {
		m = metrics.NewNoopSwapMetrics()
	}

	s := &Store{
		dev:     dev,
		metrics: m,
		bits:    bitmap.New(uint(slots * SectorsPerSlot)),
		stats:   Stats{Slots: slots},
	}
	m.SetSlots(0, slots)

	logger.Debug("Swap: %d slots over %d sectors", slots, dev.SectorCount())
	return s, nil
}

// Reserve takes the first free slot.
func (s *Store) Reserve() (Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start, ok := s.bits.ScanAndFlip(SectorsPerSlot)
	if !ok {
		return NoSlot, ErrFull
	}
	if start%SectorsPerSlot != 0 {
		// First-fit over aligned runs never lands here.
		s.bits.SetMultiple(start, SectorsPerSlot, false)
		return NoSlot, fmt.Errorf("swap: misaligned run at sector %d", start)
	}

	s.stats.Used++
	s.metrics.SetSlots(s.stats.Used, s.stats.Slots)
	return Slot(start / SectorsPerSlot), nil
}

// Release frees slot.
func (s *Store) Release(slot Slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.reservedLocked(slot) {
		return fmt.Errorf("release slot %d: %w", slot, ErrNotReserved)
	}

	s.bits.SetMultiple(uint(slot)*SectorsPerSlot, SectorsPerSlot, false)
	s.stats.Used--
	s.metrics.SetSlots(s.stats.Used, s.stats.Slots)
	return nil
}

// WriteOut writes page into slot, one sector at a time.
func (s *Store) WriteOut(ctx context.Context, slot Slot, page []byte) error {
	if err := s.check(slot, page); err != nil {
		return err
	}

	base := blockdev.Sector(slot) * SectorsPerSlot
	for i := range SectorsPerSlot {
		chunk := page[i*blockdev.SectorSize : (i+1)*blockdev.SectorSize]
		if err := s.dev.WriteSector(ctx, base+blockdev.Sector(i), chunk); err != nil {
			return fmt.Errorf("swap write slot %d: %w", slot, err)
		}
	}
	return nil
}

// ReadIn reads slot into page. The slot stays reserved.
func (s *Store) ReadIn(ctx context.Context, slot Slot, page []byte) error {
	if err := s.check(slot, page); err != nil {
		return err
	}

	base := blockdev.Sector(slot) * SectorsPerSlot
	for i := range SectorsPerSlot {
		chunk := page[i*blockdev.SectorSize : (i+1)*blockdev.SectorSize]
		if err := s.dev.ReadSector(ctx, base+blockdev.Sector(i), chunk); err != nil {
			return fmt.Errorf("swap read slot %d: %w", slot, err)
		}
	}
	return nil
}

// SwapOut reserves a slot and writes page into it. On a write failure the
// slot is released again.
func (s *Store) SwapOut(ctx context.Context, page []byte) (Slot, error) {
	start := time.Now()

	slot, err := s.Reserve()
	if err == nil {
		if err = s.WriteOut(ctx, slot, page); err != nil {
			_ = s.Release(slot)
			slot = NoSlot
		}
	}

	s.metrics.RecordSwapOut(time.Since(start), err)
	if err != nil {
		logger.Warn("Swap: swap-out failed: %v", err)
		return NoSlot, err
	}

	s.mu.Lock()
	s.stats.SwapOuts++
	s.mu.Unlock()
	return slot, nil
}

// SwapIn reads slot into page and frees the slot once the data is back.
func (s *Store) SwapIn(ctx context.Context, slot Slot, page []byte) error {
	start := time.Now()

	err := s.ReadIn(ctx, slot, page)
	if err == nil {
		err = s.Release(slot)
	}

	s.metrics.RecordSwapIn(time.Since(start), err)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.stats.SwapIns++
	s.mu.Unlock()
	return nil
}

// Reserved reports whether slot is in use.
func (s *Store) Reserved(slot Slot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reservedLocked(slot)
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Store) reservedLocked(slot Slot) bool {
	if slot < 0 || int(slot) >= s.stats.Slots {
		return false
	}
	return s.bits.All(uint(slot)*SectorsPerSlot, SectorsPerSlot, true)
}

func (s *Store) check(slot Slot, page []byte) error {
	if len(page) != mmu.PageSize {
		return fmt.Errorf("page of %d bytes: %w", len(page), ErrInvalidPage)
	}
	if !s.Reserved(slot) {
		return fmt.Errorf("slot %d: %w", slot, ErrNotReserved)
	}
	return nil
}
