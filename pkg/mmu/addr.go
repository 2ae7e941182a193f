// Package mmu simulates the hardware side of virtual memory: a pool of
// physical page frames and per-process page directories with accessed and
// dirty bits.
package mmu

// PageSize is the size of a page and of a frame.
const PageSize = 4096

const pageShift = 12

// VAddr is a 32-bit user virtual address.
type VAddr uint32

// PageBase rounds a down to the start of its page.
func (a VAddr) PageBase() VAddr {
	return a &^ (PageSize - 1)
}

// PageNumber returns the virtual page number of a.
func (a VAddr) PageNumber() uint32 {
	return uint32(a) >> pageShift
}

// Offset returns the offset of a within its page.
func (a VAddr) Offset() int {
	return int(a & (PageSize - 1))
}

// IsAligned reports whether a is the start of a page.
func (a VAddr) IsAligned() bool {
	return a.Offset() == 0
}

// PagesIn returns the number of pages needed to hold n bytes.
func PagesIn(n int64) int {
	return int((n + PageSize - 1) / PageSize)
}
