package mmu

import (
	"fmt"
	"sync"
)

type pte struct {
	frame    FrameID
	writable bool
	accessed bool
	dirty    bool
}

// PageDirectory maps one process's pages to frames. It is safe for
// concurrent use: the frame cache inspects and clears bits of directories
// that belong to other processes.
type PageDirectory struct {
	mu      sync.Mutex
	entries map[VAddr]*pte
}

func NewPageDirectory() *PageDirectory {
	return &PageDirectory{entries: make(map[VAddr]*pte)}
}

// Install maps the page holding vaddr to frame. It returns false if the
// page is already mapped.
func (d *PageDirectory) Install(vaddr VAddr, frame FrameID, writable bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	page := vaddr.PageBase()
	if _, ok := d.entries[page]; ok {
		return false
	}
	d.entries[page] = &pte{frame: frame, writable: writable}
	return true
}

// Clear unmaps the page holding vaddr. Unmapped pages are ignored.
func (d *PageDirectory) Clear(vaddr VAddr) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, vaddr.PageBase())
}

// Lookup returns the frame mapped at vaddr.
func (d *PageDirectory) Lookup(vaddr VAddr) (FrameID, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[vaddr.PageBase()]
	if !ok {
		return 0, false
	}
	return e.frame, true
}

func (d *PageDirectory) IsDirty(vaddr VAddr) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[vaddr.PageBase()]
	return ok && e.dirty
}

func (d *PageDirectory) SetDirty(vaddr VAddr, dirty bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.entries[vaddr.PageBase()]; ok {
		e.dirty = dirty
	}
}

func (d *PageDirectory) IsAccessed(vaddr VAddr) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[vaddr.PageBase()]
	return ok && e.accessed
}

func (d *PageDirectory) SetAccessed(vaddr VAddr, accessed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.entries[vaddr.PageBase()]; ok {
		e.accessed = accessed
	}
}

func (d *PageDirectory) IsWritable(vaddr VAddr) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[vaddr.PageBase()]
	return ok && e.writable
}

// Touch records a user access the way the hardware would: accessed is
// always set, dirty on writes.
func (d *PageDirectory) Touch(vaddr VAddr, write bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[vaddr.PageBase()]
	if !ok {
		return fmt.Errorf("access %#x: %w", uint32(vaddr), ErrNotPresent)
	}
	if write && !e.writable {
		return fmt.Errorf("write %#x: %w", uint32(vaddr), ErrReadOnly)
	}

	e.accessed = true
	if write {
		e.dirty = true
	}
	return nil
}

// Mapped returns the number of mapped pages.
func (d *PageDirectory) Mapped() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}
