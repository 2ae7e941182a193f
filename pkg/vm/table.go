package vm

import (
	"cmp"
	"fmt"
	"slices"
	"sync"

	"github.com/marmos91/dittocore/pkg/mmu"
)

// Region is a group of entries created by one memory mapping. Its entries
// are found by Lookup but are not part of the table proper.
type Region struct {
	ID      int
	File    File
	Entries []*Entry
}

// Table is one process's page table.
type Table struct {
	mu      sync.Mutex
	entries map[uint32]*Entry
	regions []*Region
}

func NewTable() *Table {
	return &Table{entries: make(map[uint32]*Entry)}
}

// Lookup returns the entry covering addr: the table's own entries first,
// then mapped regions.
func (t *Table) Lookup(addr mmu.VAddr) (*Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e := t.lookupLocked(addr.PageNumber()); e != nil {
		return e, nil
	}
	return nil, fmt.Errorf("address %#x: %w", uint32(addr), ErrNotFound)
}

// Insert adds e. The page must be aligned and not already present.
func (t *Table) Insert(e *Entry) error {
	if !e.Addr.IsAligned() {
		return fmt.Errorf("insert %#x: %w", uint32(e.Addr), ErrUnaligned)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	vpn := e.Addr.PageNumber()
	if t.lookupLocked(vpn) != nil {
		return fmt.Errorf("insert %#x: %w", uint32(e.Addr), ErrExists)
	}
	t.entries[vpn] = e
	return nil
}

// Remove deletes and returns the entry at addr.
func (t *Table) Remove(addr mmu.VAddr) (*Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	vpn := addr.PageNumber()
	e, ok := t.entries[vpn]
	if !ok {
		return nil, fmt.Errorf("remove %#x: %w", uint32(addr), ErrNotFound)
	}
	delete(t.entries, vpn)
	return e, nil
}

// AddRegion registers a mapping. None of its pages may already be present.
func (t *Table) AddRegion(r *Region) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, e := range r.Entries {
		if !e.Addr.IsAligned() {
			return fmt.Errorf("region %d page %#x: %w", r.ID, uint32(e.Addr), ErrUnaligned)
		}
		if t.lookupLocked(e.Addr.PageNumber()) != nil {
			return fmt.Errorf("region %d page %#x: %w", r.ID, uint32(e.Addr), ErrExists)
		}
	}
	if t.regionLocked(r.ID) != nil {
		return fmt.Errorf("region %d: %w", r.ID, ErrExists)
	}

	t.regions = append(t.regions, r)
	return nil
}

// RemoveRegion unregisters and returns a mapping.
func (t *Table) RemoveRegion(id int) (*Region, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := slices.IndexFunc(t.regions, func(r *Region) bool { return r.ID == id })
	if i < 0 {
		return nil, fmt.Errorf("region %d: %w", id, ErrNotFound)
	}

	r := t.regions[i]
	t.regions = slices.Delete(t.regions, i, i+1)
	return r, nil
}

// Region returns the mapping with the given id.
func (t *Table) Region(id int) (*Region, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r := t.regionLocked(id)
	return r, r != nil
}

// Regions returns the registered mappings.
func (t *Table) Regions() []*Region {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.regions)
}

// Entries returns the table's own entries ordered by address.
func (t *Table) Entries() []*Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b *Entry) int { return cmp.Compare(a.Addr, b.Addr) })
	return out
}

// Len returns the number of entries, mapped regions included.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.entries)
	for _, r := range t.regions {
		n += len(r.Entries)
	}
	return n
}

// Destroy empties the table, calling release for every entry first.
func (t *Table) Destroy(release func(*Entry)) {
	t.mu.Lock()
	entries := t.entries
	regions := t.regions
	t.entries = make(map[uint32]*Entry)
	t.regions = nil
	t.mu.Unlock()

	if release == nil {
		return
	}
	for _, e := range entries {
		release(e)
	}
	for _, r := range regions {
		for _, e := range r.Entries {
			release(e)
		}
	}
}

func (t *Table) lookupLocked(vpn uint32) *Entry {
	if e, ok := t.entries[vpn]; ok {
		return e
	}
	for _, r := range t.regions {
		for _, e := range r.Entries {
			if e.Addr.PageNumber() == vpn {
				return e
			}
		}
	}
	return nil
}

func (t *Table) regionLocked(id int) *Region {
	for _, r := range t.regions {
		if r.ID == id {
			return r
		}
	}
	return nil
}
