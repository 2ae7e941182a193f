package vmm

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/marmos91/dittocore/internal/logger"
	"github.com/marmos91/dittocore/pkg/mmu"
	"github.com/marmos91/dittocore/pkg/swap"
	"github.com/marmos91/dittocore/pkg/vm"
)

// Mmap maps file at addr, one lazily loaded page per PageSize bytes of the
// file; the last page is zero-padded. The mapping holds its own reference
// to file.
func (as *AddressSpace) Mmap(file MappableFile, addr mmu.VAddr) (MapID, error) {
	if err := as.checkLive(); err != nil {
		return 0, err
	}
	if addr == 0 || !addr.IsAligned() || addr < UserBase || addr >= PhysBase {
		return 0, fmt.Errorf("map at %#x: %w", uint32(addr), ErrInvalidMapping)
	}

	length := file.Length()
	if length == 0 {
		return 0, fmt.Errorf("map empty file: %w", ErrInvalidMapping)
	}

	pages := mmu.PagesIn(length)
	if uint64(addr)+uint64(pages)*mmu.PageSize > uint64(PhysBase) {
		return 0, fmt.Errorf("map %d pages at %#x crosses into kernel space: %w", pages, uint32(addr), ErrInvalidMapping)
	}

	entries := make([]*vm.Entry, pages)
	for i := range pages {
		off := int64(i) * mmu.PageSize
		read := int(min(length-off, mmu.PageSize))
		entries[i] = &vm.Entry{
			Addr:      addr + mmu.VAddr(off),
			Kind:      vm.KindFile,
			Writable:  true,
			File:      file,
			Offset:    off,
			ReadBytes: read,
			ZeroBytes: mmu.PageSize - read,
			SwapSlot:  swap.NoSlot,
		}
	}

	as.mu.Lock()
	defer as.mu.Unlock()

	as.nextMap++
	id := as.nextMap
	region := &vm.Region{ID: int(id), File: file, Entries: entries}

	if err := as.table.AddRegion(region); err != nil {
		return 0, fmt.Errorf("map at %#x: %w: %w", uint32(addr), ErrInvalidMapping, err)
	}
	if err := file.Reopen(); err != nil {
		_, _ = as.table.RemoveRegion(region.ID)
		return 0, err
	}

	as.maps[id] = &mapping{region: region, file: file}
	logger.Debug("VMM: space %d mapped %d bytes at %#x as %d", as.id, length, uint32(addr), id)
	return id, nil
}

// Munmap writes dirty resident pages of the mapping back to its file, drops
// its pages and closes its file reference.
func (as *AddressSpace) Munmap(ctx context.Context, id MapID) error {
	as.mu.Lock()
	mp, ok := as.maps[id]
	if ok {
		delete(as.maps, id)
	}
	as.mu.Unlock()

	if !ok {
		return fmt.Errorf("unmap %d: %w", id, ErrInvalidMapping)
	}
	return as.unmap(ctx, mp)
}

func (as *AddressSpace) unmap(ctx context.Context, mp *mapping) error {
	var errs []error

	for _, e := range mp.region.Entries {
		// Pinning fails when the page is not resident; eviction already
		// wrote it back in that case.
		if !as.m.frames.Pin(as.id, e.Addr) {
			continue
		}

		if as.dir.IsDirty(e.Addr) {
			rec, _ := as.m.frames.Lookup(as.id, e.Addr)
			page := as.m.frames.Bytes(rec)
			if _, err := mp.file.WriteAt(ctx, page[:e.ReadBytes], e.Offset); err != nil {
				errs = append(errs, fmt.Errorf("write back %#x: %w", uint32(e.Addr), err))
			}
		}

		if err := as.m.frames.Release(as.id, e.Addr); err != nil {
			errs = append(errs, err)
		}
	}

	if _, err := as.table.RemoveRegion(mp.region.ID); err != nil {
		errs = append(errs, err)
	}
	if err := mp.file.Close(ctx); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Mappings returns the ids of live mappings in ascending order.
func (as *AddressSpace) Mappings() []MapID {
	as.mu.Lock()
	defer as.mu.Unlock()
	return slices.Sorted(maps.Keys(as.maps))
}

// Exit tears the address space down: mappings are written back and closed,
// frames and swap slots released, the running file closed and the sector
// cache flushed.
func (as *AddressSpace) Exit(ctx context.Context) error {
	as.mu.Lock()
	if as.exited {
		as.mu.Unlock()
		return nil
	}
	as.exited = true
	mappings := as.maps
	as.maps = make(map[MapID]*mapping)
	running := as.running
	as.running = nil
	as.mu.Unlock()

	var errs []error

	for _, id := range slices.Sorted(maps.Keys(mappings)) {
		if err := as.unmap(ctx, mappings[id]); err != nil {
			errs = append(errs, err)
		}
	}

	frames := as.m.frames.ReleaseOwner(as.id)

	slots := 0
	as.table.Destroy(func(e *vm.Entry) {
		if e.SwapSlot == swap.NoSlot {
			return
		}
		if err := as.m.swap.Release(e.SwapSlot); err != nil {
			errs = append(errs, err)
			return
		}
		slots++
	})

	if running != nil {
		if err := running.AllowWrite(); err != nil {
			errs = append(errs, err)
		}
		if err := running.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	as.m.forget(as.id)

	if as.m.flusher != nil {
		if err := as.m.flusher.FlushAll(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush on exit: %w", err))
		}
	}

	logger.Debug("VMM: space %d exited (%d frames, %d swap slots released)", as.id, frames, slots)
	return errors.Join(errs...)
}
