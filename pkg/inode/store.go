// Package inode implements the indexed file store: files addressed by the
// sector of their index record, whose data sectors are found through 123
// direct pointers, one indirect block and one double-indirect block.
//
// All sector I/O goes through the sector cache. Data and index sectors come
// from an Allocator, normally the volume's free map. A file grows when a
// write ends past its length; growth is all-or-nothing.
package inode

import (
	"context"
	"fmt"
	"sync"

	"github.com/marmos91/dittocore/internal/logger"
	"github.com/marmos91/dittocore/pkg/blockdev"
)

// SectorCache is the subset of the sector cache the store needs.
type SectorCache interface {
	Read(ctx context.Context, sector blockdev.Sector, dst []byte, offset int) error
	Write(ctx context.Context, sector blockdev.Sector, src []byte, offset int) error
	Zero(ctx context.Context, sector blockdev.Sector) error
}

// Allocator hands out and takes back device sectors.
type Allocator interface {
	Allocate(ctx context.Context, count uint32) (blockdev.Sector, error)
	Release(ctx context.Context, sector blockdev.Sector, count uint32) error
}

// Store is the table of open files of one volume. Opening the same record
// twice yields the same *Handle.
type Store struct {
	cache SectorCache
	alloc Allocator

	mu   sync.Mutex
	open map[blockdev.Sector]*Handle
}

// NewStore returns an empty open-file table.
func NewStore(cache SectorCache, alloc Allocator) *Store {
	return &Store{
		cache: cache,
		alloc: alloc,
		open:  make(map[blockdev.Sector]*Handle),
	}
}

// Create writes a new index record at sector covering length zero-filled
// bytes. If any allocation fails, nothing is left allocated and the record
// is not written.
func (s *Store) Create(ctx context.Context, sector blockdev.Sector, length int64, isFile bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if length < 0 {
		return fmt.Errorf("create record %d with length %d: %w", sector, length, ErrOutOfRange)
	}

	r := newRecord(isFile)
	g, err := s.grow(ctx, r, length)
	if err != nil {
		return fmt.Errorf("create record %d: %w", sector, err)
	}

	if err := s.storeRecord(ctx, sector, &g.rec); err != nil {
		g.rollback(ctx)
		return err
	}

	logger.Debug("Inode: created record %d (length=%d, file=%t)", sector, length, isFile)
	return nil
}

// Open returns the handle for the record at sector, loading it on first
// open and bumping the open count otherwise.
func (s *Store) Open(ctx context.Context, sector blockdev.Sector) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.open[sector]; ok {
		h.mu.Lock()
		h.openCount++
		h.mu.Unlock()
		return h, nil
	}

	r, err := s.loadRecord(ctx, sector)
	if err != nil {
		return nil, err
	}

	h := &Handle{store: s, sector: sector, rec: r, openCount: 1}
	s.open[sector] = h
	return h, nil
}

// Reopen adds an opener to h.
func (s *Store) Reopen(h *Handle) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.openCount == 0 {
		return ErrClosed
	}
	h.openCount++
	return nil
}

// Close drops one opener. The last close removes h from the table and, if h
// was removed, releases its data, index blocks and record sector.
func (s *Store) Close(ctx context.Context, h *Handle) error {
	s.mu.Lock()

	h.mu.Lock()
	if h.openCount == 0 {
		h.mu.Unlock()
		s.mu.Unlock()
		return ErrClosed
	}
	h.openCount--
	last := h.openCount == 0
	removed := h.removed
	r := h.rec
	h.mu.Unlock()

	if last {
		delete(s.open, h.sector)
	}
	s.mu.Unlock()

	if last && removed {
		ctx = context.WithoutCancel(ctx)
		s.reclaim(ctx, &r)
		s.release(ctx, h.sector)
		logger.Debug("Inode: reclaimed record %d (%d bytes)", h.sector, r.Length)
	}
	return nil
}

// Remove marks h for deletion once its last opener closes it.
func (s *Store) Remove(h *Handle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removed = true
}

// OpenCount returns the number of open handles in the table.
func (s *Store) OpenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.open)
}

// ReadAt reads up to len(p) bytes at off. Reading at or past the end of
// file returns 0 bytes and no error.
func (s *Store) ReadAt(ctx context.Context, h *Handle, p []byte, off int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if off < 0 {
		return 0, fmt.Errorf("read at %d: %w", off, ErrOutOfRange)
	}

	r, err := h.snapshot()
	if err != nil {
		return 0, err
	}

	end := min(off+int64(len(p)), r.length())
	if off >= end {
		return 0, nil
	}

	return s.transfer(ctx, &r, p[:end-off], off, false)
}

// WriteAt writes p at off, growing the file first when the write ends past
// its length. A failed growth writes nothing.
func (s *Store) WriteAt(ctx context.Context, h *Handle, p []byte, off int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	end := off + int64(len(p))
	if off < 0 || end > MaxLength {
		return 0, fmt.Errorf("write [%d,%d): %w", off, end, ErrOutOfRange)
	}

	h.mu.RLock()
	closed, denied, length := h.openCount == 0, h.denyWrite > 0, h.rec.length()
	h.mu.RUnlock()

	switch {
	case closed:
		return 0, ErrClosed
	case denied:
		return 0, ErrWriteDenied
	}

	if end > length {
		h.growMu.Lock()
		err := s.extendLocked(ctx, h, end)
		h.growMu.Unlock()
		if err != nil {
			return 0, err
		}
	}

	r, err := h.snapshot()
	if err != nil {
		return 0, err
	}
	return s.transfer(ctx, &r, p, off, true)
}

// Extend grows h to length bytes. Lengths at or below the current one leave
// the block index untouched.
func (s *Store) Extend(ctx context.Context, h *Handle, length int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.growMu.Lock()
	defer h.growMu.Unlock()
	return s.extendLocked(ctx, h, length)
}

// extendLocked runs with h.growMu held: decide, register, persist, publish.
func (s *Store) extendLocked(ctx context.Context, h *Handle, length int64) error {
	r, err := h.snapshot()
	if err != nil {
		return err
	}
	if length <= r.length() {
		return nil
	}

	g, err := s.grow(ctx, r, length)
	if err != nil {
		return fmt.Errorf("extend record %d to %d: %w", h.sector, length, err)
	}

	if err := s.storeRecord(ctx, h.sector, &g.rec); err != nil {
		g.rollback(ctx)
		return err
	}

	h.mu.Lock()
	h.rec = g.rec
	h.mu.Unlock()

	return nil
}

// transfer moves bytes between p and the data sectors of r in per-sector
// chunks. The range must lie within r's length.
func (s *Store) transfer(ctx context.Context, r *record, p []byte, off int64, write bool) (int, error) {
	done := 0
	for done < len(p) {
		pos := off + int64(done)
		sectorOfs := int(pos % blockdev.SectorSize)
		chunk := min(len(p)-done, blockdev.SectorSize-sectorOfs)

		sector, err := s.lookup(ctx, r, int(pos/blockdev.SectorSize))
		if err != nil {
			return done, err
		}

		if write {
			err = s.cache.Write(ctx, sector, p[done:done+chunk], sectorOfs)
		} else {
			err = s.cache.Read(ctx, sector, p[done:done+chunk], sectorOfs)
		}
		if err != nil {
			return done, err
		}

		done += chunk
	}
	return done, nil
}
