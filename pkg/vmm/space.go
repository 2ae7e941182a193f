package vmm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/dittocore/internal/logger"
	"github.com/marmos91/dittocore/pkg/mmu"
	"github.com/marmos91/dittocore/pkg/swap"
	"github.com/marmos91/dittocore/pkg/vm"
)

// MapID identifies a memory mapping within an address space.
type MapID int

type mapping struct {
	region *vm.Region
	file   MappableFile
}

// AddressSpace is one process's virtual memory.
type AddressSpace struct {
	m     *Manager
	id    int
	table *vm.Table
	dir   *mmu.PageDirectory

	mu      sync.Mutex
	nextMap MapID
	maps    map[MapID]*mapping
	running Executable
	exited  bool
}

// ID identifies the address space to the frame cache.
func (as *AddressSpace) ID() int {
	return as.id
}

// Directory returns the page directory.
func (as *AddressSpace) Directory() *mmu.PageDirectory {
	return as.dir
}

// Table returns the page table.
func (as *AddressSpace) Table() *vm.Table {
	return as.table
}

// HandleFault makes the page holding addr resident. esp is the user stack
// pointer at the time of the fault; accesses just below it grow the stack.
func (as *AddressSpace) HandleFault(ctx context.Context, addr, esp mmu.VAddr) error {
	if err := as.checkLive(); err != nil {
		return err
	}

	start := time.Now()
	kind, err := as.handleFault(ctx, addr, esp)
	as.m.metrics.RecordFault(kind, time.Since(start), err)

	if err != nil {
		logger.Debug("VMM: fault at %#x (esp=%#x) in space %d: %v", uint32(addr), uint32(esp), as.id, err)
	}
	return err
}

func (as *AddressSpace) handleFault(ctx context.Context, addr, esp mmu.VAddr) (string, error) {
	if addr < UserBase || addr >= PhysBase {
		return "invalid", fmt.Errorf("address %#x outside user space: %w", uint32(addr), ErrSegfault)
	}

	e, err := as.table.Lookup(addr)
	if errors.Is(err, vm.ErrNotFound) {
		if !as.isStackAccess(addr, esp) {
			return "invalid", fmt.Errorf("no page at %#x: %w", uint32(addr), ErrSegfault)
		}
		return "stack", as.GrowStack(ctx, addr)
	}
	if err != nil {
		return "invalid", err
	}

	if _, ok := as.dir.Lookup(addr); ok {
		return e.Kind.String(), nil
	}
	return e.Kind.String(), as.load(ctx, e)
}

// load brings e into a fresh frame and maps it.
func (as *AddressSpace) load(ctx context.Context, e *vm.Entry) error {
	rec, err := as.m.frames.Acquire(ctx, as.id, e, false)
	if err != nil {
		return fmt.Errorf("fault at %#x: %w", uint32(e.Addr), err)
	}
	page := as.m.frames.Bytes(rec)

	fail := func(err error) error {
		if rerr := as.m.frames.Release(as.id, e.Addr); rerr != nil {
			logger.Error("VMM: release frame after failed load: %v", rerr)
		}
		return err
	}

	swappedImage := false
	switch e.Kind {
	case vm.KindImage, vm.KindFile:
		if err := loadFile(ctx, e, page); err != nil {
			return fail(err)
		}

	case vm.KindSwap:
		if e.SwapSlot == swap.NoSlot {
			clear(page)
			break
		}
		if err := as.m.swap.SwapIn(ctx, e.SwapSlot, page); err != nil {
			return fail(fmt.Errorf("swap in %#x: %w", uint32(e.Addr), err))
		}
		e.SwapSlot = swap.NoSlot
		swappedImage = e.File != nil
	}

	if !as.dir.Install(e.Addr, rec.Frame, e.Writable) {
		return fail(fmt.Errorf("page %#x already mapped", uint32(e.Addr)))
	}

	// An image page only reaches swap once dirtied; it stays dirty so the
	// next eviction writes it to swap again instead of dropping it.
	if swappedImage {
		e.Kind = vm.KindImage
		as.dir.SetDirty(e.Addr, true)
	}

	as.m.frames.Unpin(as.id, e.Addr)
	return nil
}

// loadFile reads ReadBytes at Offset and zero-fills the rest of the page.
func loadFile(ctx context.Context, e *vm.Entry, page []byte) error {
	n, err := e.File.ReadAt(ctx, page[:e.ReadBytes], e.Offset)
	if err != nil {
		return fmt.Errorf("load %#x from offset %d: %w", uint32(e.Addr), e.Offset, err)
	}
	if n != e.ReadBytes {
		return fmt.Errorf("load %#x: short read %d of %d bytes", uint32(e.Addr), n, e.ReadBytes)
	}
	clear(page[e.ReadBytes:])
	return nil
}

func (as *AddressSpace) isStackAccess(addr, esp mmu.VAddr) bool {
	if esp < stackSlack || addr < esp-stackSlack {
		return false
	}
	return addr >= as.m.stackLimit() && addr < PhysBase
}

// GrowStack maps a zeroed, writable swap page at the page holding addr.
func (as *AddressSpace) GrowStack(ctx context.Context, addr mmu.VAddr) error {
	page := addr.PageBase()
	if page < as.m.stackLimit() || page >= PhysBase {
		return fmt.Errorf("stack growth to %#x beyond limit: %w", uint32(addr), ErrSegfault)
	}

	e := &vm.Entry{
		Addr:      page,
		Kind:      vm.KindSwap,
		Writable:  true,
		ZeroBytes: mmu.PageSize,
		SwapSlot:  swap.NoSlot,
	}
	if err := as.table.Insert(e); err != nil {
		return err
	}

	rec, err := as.m.frames.Acquire(ctx, as.id, e, true)
	if err != nil {
		_, _ = as.table.Remove(page)
		return fmt.Errorf("grow stack to %#x: %w", uint32(page), err)
	}

	if !as.dir.Install(page, rec.Frame, true) {
		_ = as.m.frames.Release(as.id, page)
		_, _ = as.table.Remove(page)
		return fmt.Errorf("stack page %#x already mapped", uint32(page))
	}
	as.m.frames.Unpin(as.id, page)

	return nil
}

// SetupStack maps the top stack page and returns the initial stack pointer.
func (as *AddressSpace) SetupStack(ctx context.Context) (mmu.VAddr, error) {
	if err := as.checkLive(); err != nil {
		return 0, err
	}
	if err := as.GrowStack(ctx, PhysBase-mmu.PageSize); err != nil {
		return 0, err
	}
	return PhysBase, nil
}

// LoadSegment registers lazily loaded image pages for a program segment:
// readBytes from file at offset followed by zeroBytes of zeros, starting at
// upage.
func (as *AddressSpace) LoadSegment(file vm.File, offset int64, upage mmu.VAddr, readBytes, zeroBytes int, writable bool) error {
	if err := as.checkLive(); err != nil {
		return err
	}

	switch {
	case (readBytes+zeroBytes)%mmu.PageSize != 0:
		return fmt.Errorf("segment size %d not page aligned: %w", readBytes+zeroBytes, vm.ErrUnaligned)
	case !upage.IsAligned():
		return fmt.Errorf("segment address %#x: %w", uint32(upage), vm.ErrUnaligned)
	case offset%mmu.PageSize != 0:
		return fmt.Errorf("segment offset %d: %w", offset, vm.ErrUnaligned)
	case upage < UserBase || uint64(upage)+uint64(readBytes+zeroBytes) > uint64(PhysBase):
		return fmt.Errorf("segment at %#x outside user space: %w", uint32(upage), ErrSegfault)
	}

	var inserted []mmu.VAddr
	for readBytes > 0 || zeroBytes > 0 {
		pageRead := min(readBytes, mmu.PageSize)
		e := &vm.Entry{
			Addr:      upage,
			Kind:      vm.KindImage,
			Writable:  writable,
			File:      file,
			Offset:    offset,
			ReadBytes: pageRead,
			ZeroBytes: mmu.PageSize - pageRead,
			SwapSlot:  swap.NoSlot,
		}
		if err := as.table.Insert(e); err != nil {
			for _, a := range inserted {
				_, _ = as.table.Remove(a)
			}
			return err
		}
		inserted = append(inserted, upage)

		readBytes -= pageRead
		zeroBytes -= mmu.PageSize - pageRead
		offset += int64(pageRead)
		upage += mmu.PageSize
	}
	return nil
}

// SetRunningFile denies writes to the program's executable until Exit.
func (as *AddressSpace) SetRunningFile(f Executable) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	if as.exited {
		return ErrExited
	}
	if as.running != nil {
		return fmt.Errorf("address space %d already has a running file", as.id)
	}
	if err := f.DenyWrite(); err != nil {
		return err
	}
	as.running = f
	return nil
}

func (as *AddressSpace) checkLive() error {
	as.mu.Lock()
	defer as.mu.Unlock()
	if as.exited {
		return ErrExited
	}
	return nil
}
