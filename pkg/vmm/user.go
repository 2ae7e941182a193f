package vmm

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/dittocore/pkg/frame"
	"github.com/marmos91/dittocore/pkg/mmu"
)

const maxPinAttempts = 4

// PinBuffer faults in and pins every page of [addr, addr+size) so that a
// system call can use the buffer without further faults. On error, pages
// pinned so far are unpinned again.
func (as *AddressSpace) PinBuffer(ctx context.Context, addr mmu.VAddr, size int, write bool, esp mmu.VAddr) error {
	var pinned []mmu.VAddr

	err := forEachPage(addr, size, func(cur mmu.VAddr, _, _ int) error {
		held, err := as.pinPage(ctx, cur, write, esp)
		if err != nil {
			return err
		}
		if !held {
			pinned = append(pinned, cur.PageBase())
		}
		return nil
	})
	if err != nil {
		for _, page := range pinned {
			as.m.frames.Unpin(as.id, page)
		}
	}
	return err
}

// UnpinBuffer releases the pins taken by PinBuffer.
func (as *AddressSpace) UnpinBuffer(addr mmu.VAddr, size int) {
	as.m.frames.UnpinRange(as.id, addr, size)
}

// ReadUser copies len(buf) bytes of user memory at addr into buf, faulting
// pages in as needed.
func (as *AddressSpace) ReadUser(ctx context.Context, addr mmu.VAddr, buf []byte, esp mmu.VAddr) error {
	return as.copyUser(ctx, addr, buf, esp, false)
}

// WriteUser copies buf into user memory at addr. Pages written become dirty.
func (as *AddressSpace) WriteUser(ctx context.Context, addr mmu.VAddr, buf []byte, esp mmu.VAddr) error {
	return as.copyUser(ctx, addr, buf, esp, true)
}

func (as *AddressSpace) copyUser(ctx context.Context, addr mmu.VAddr, buf []byte, esp mmu.VAddr, write bool) error {
	return forEachPage(addr, len(buf), func(cur mmu.VAddr, off, n int) error {
		held, err := as.pinPage(ctx, cur, write, esp)
		if err != nil {
			return err
		}
		if !held {
			defer as.m.frames.Unpin(as.id, cur)
		}

		rec, ok := as.m.frames.Lookup(as.id, cur)
		if !ok {
			return fmt.Errorf("page %#x vanished while pinned", uint32(cur.PageBase()))
		}
		mem := as.m.frames.Bytes(rec)

		pageOff := cur.Offset()
		if write {
			copy(mem[pageOff:pageOff+n], buf[off:off+n])
		} else {
			copy(buf[off:off+n], mem[pageOff:pageOff+n])
		}
		return nil
	})
}

// pinPage makes the page holding addr resident and pinned, then records the
// access in the page directory the way the hardware would. held reports
// that the page was already pinned by the caller, who keeps that pin.
func (as *AddressSpace) pinPage(ctx context.Context, addr mmu.VAddr, write bool, esp mmu.VAddr) (held bool, err error) {
	if addr < UserBase || addr >= PhysBase {
		return false, fmt.Errorf("user access at %#x: %w", uint32(addr), ErrSegfault)
	}

	held = as.m.frames.Pinned(as.id, addr)

	// A page can be evicted again between the fault and the pin.
	for attempt := 0; !as.m.frames.Pin(as.id, addr); attempt++ {
		if attempt == maxPinAttempts {
			return false, fmt.Errorf("pin %#x: %w", uint32(addr), frame.ErrNoFrame)
		}
		if err := as.HandleFault(ctx, addr, esp); err != nil {
			return false, err
		}
	}

	if err := as.dir.Touch(addr, write); err != nil {
		if !held {
			as.m.frames.Unpin(as.id, addr)
		}
		if errors.Is(err, mmu.ErrReadOnly) {
			return held, fmt.Errorf("%w: %w", ErrSegfault, err)
		}
		return held, err
	}
	return held, nil
}

// forEachPage calls fn once per page overlapping [addr, addr+size) with the
// first address of the range in that page, its offset into the range and
// the byte count in that page.
func forEachPage(addr mmu.VAddr, size int, fn func(page mmu.VAddr, off, n int) error) error {
	if size <= 0 {
		return nil
	}
	if uint64(addr)+uint64(size) > uint64(PhysBase) {
		return fmt.Errorf("range %#x+%d: %w", uint32(addr), size, ErrSegfault)
	}

	off := 0
	for off < size {
		cur := addr + mmu.VAddr(off)
		n := min(size-off, mmu.PageSize-cur.Offset())
		if err := fn(cur, off, n); err != nil {
			return err
		}
		off += n
	}
	return nil
}
