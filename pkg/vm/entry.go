// Package vm holds the per-process table of virtual pages: where each page's
// contents come from and where they go when the page is evicted.
//
// The table does no I/O. Loading and eviction live in pkg/vmm and pkg/frame.
package vm

import (
	"context"

	"github.com/marmos91/dittocore/pkg/mmu"
	"github.com/marmos91/dittocore/pkg/swap"
)

// Kind says where a page's contents come from.
type Kind int

const (
	// KindImage pages load from the program image and go to swap once
	// dirtied.
	KindImage Kind = iota

	// KindFile pages are memory-mapped file pages, written back to the file.
	KindFile

	// KindSwap pages live in swap when not resident, or are zero-filled if
	// they never left memory.
	KindSwap
)

func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindFile:
		return "file"
	case KindSwap:
		return "swap"
	default:
		return "unknown"
	}
}

// File is the backing store of image and file pages.
type File interface {
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)
	WriteAt(ctx context.Context, p []byte, off int64) (int, error)
	Length() int64
}

// Entry describes one virtual page.
//
// While the page is not resident its fields belong to the owning address
// space. While resident and unpinned, the frame cache may rewrite Kind and
// SwapSlot during eviction, under its own lock.
type Entry struct {
	Addr     mmu.VAddr
	Kind     Kind
	Writable bool

	File      File
	Offset    int64
	ReadBytes int
	ZeroBytes int

	SwapSlot swap.Slot
	Pinned   bool
}
