package mmu

import (
	"fmt"
	"sync"

	"github.com/marmos91/dittocore/internal/bitmap"
)

// FrameID names a physical frame in a FramePool.
type FrameID int

// FramePool is the user memory pool: a fixed number of PageSize frames.
type FramePool struct {
	mu     sync.Mutex
	memory []byte
	used   *bitmap.Bitmap
}

// NewFramePool allocates frames frames of physical memory.
func NewFramePool(frames int) (*FramePool, error) {
	if frames <= 0 {
		return nil, fmt.Errorf("frame pool: invalid size %d", frames)
	}
	return &FramePool{
		memory: make([]byte, frames*PageSize),
		used:   bitmap.New(uint(frames)),
	}, nil
}

// Alloc takes a free frame, zeroing it if asked. It reports false when the
// pool is exhausted.
func (p *FramePool) Alloc(zero bool) (FrameID, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	i, ok := p.used.ScanAndFlip(1)
	if !ok {
		return 0, false
	}

	id := FrameID(i)
	if zero {
		clear(p.bytes(id))
	}
	return id, true
}

// Free returns id to the pool.
func (p *FramePool) Free(id FrameID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if id < 0 || uint(id) >= p.used.Size() {
		return fmt.Errorf("free frame %d: %w", id, ErrInvalidFrame)
	}
	if !p.used.Test(uint(id)) {
		return fmt.Errorf("free frame %d: %w", id, ErrDoubleFree)
	}
	p.used.SetMultiple(uint(id), 1, false)
	return nil
}

// Bytes returns the memory of frame id. The slice aliases the pool.
func (p *FramePool) Bytes(id FrameID) []byte {
	return p.bytes(id)
}

func (p *FramePool) bytes(id FrameID) []byte {
	off := int(id) * PageSize
	return p.memory[off : off+PageSize : off+PageSize]
}

// Total returns the number of frames.
func (p *FramePool) Total() int {
	return int(p.used.Size())
}

// Available returns the number of free frames.
func (p *FramePool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return int(p.used.Size() - p.used.Count())
}
