package inode

import (
	"context"
	"sync"

	"github.com/marmos91/dittocore/pkg/blockdev"
)

// Handle is an open file. growMu serializes growth; mu guards everything
// else.
type Handle struct {
	store  *Store
	sector blockdev.Sector

	growMu sync.Mutex

	mu        sync.RWMutex
	rec       record
	openCount int
	denyWrite int
	removed   bool
}

// snapshot returns a copy of the record, or ErrClosed.
func (h *Handle) snapshot() (record, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.openCount == 0 {
		return record{}, ErrClosed
	}
	return h.rec, nil
}

// Inumber returns the sector holding the index record.
func (h *Handle) Inumber() blockdev.Sector {
	return h.sector
}

// Length returns the file length in bytes.
func (h *Handle) Length() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rec.length()
}

// IsFile reports whether the record describes a regular file.
func (h *Handle) IsFile() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rec.IsFile != 0
}

func (h *Handle) IsRemoved() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.removed
}

func (h *Handle) OpenCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.openCount
}

// DenyWrite blocks writes until a matching AllowWrite. Each opener may deny
// at most once.
func (h *Handle) DenyWrite() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.denyWrite >= h.openCount {
		return ErrDenyCount
	}
	h.denyWrite++
	return nil
}

// AllowWrite undoes one DenyWrite.
func (h *Handle) AllowWrite() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.denyWrite == 0 {
		return ErrDenyCount
	}
	h.denyWrite--
	return nil
}

// WriteDenied reports whether writes are currently denied.
func (h *Handle) WriteDenied() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.denyWrite > 0
}

// ReadAt is Store.ReadAt on h.
func (h *Handle) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	return h.store.ReadAt(ctx, h, p, off)
}

// WriteAt is Store.WriteAt on h.
func (h *Handle) WriteAt(ctx context.Context, p []byte, off int64) (int, error) {
	return h.store.WriteAt(ctx, h, p, off)
}

func (h *Handle) Reopen() error {
	return h.store.Reopen(h)
}

func (h *Handle) Close(ctx context.Context) error {
	return h.store.Close(ctx, h)
}

func (h *Handle) Remove() {
	h.store.Remove(h)
}
