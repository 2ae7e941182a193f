package inode

import (
	"context"
	"fmt"
	"slices"

	"github.com/marmos91/dittocore/internal/logger"
	"github.com/marmos91/dittocore/pkg/blockdev"
)

// sectorCount returns the number of data sectors backing length bytes.
func sectorCount(length int64) int {
	return int((length + blockdev.SectorSize - 1) / blockdev.SectorSize)
}

// lookup translates a data sector index into a device sector.
//
//	idx < N          direct[idx]
//	idx < N+M        indirect[idx-N]
//	idx < N+M+M*M    doubleIndirect[(idx-N-M)/M][(idx-N-M)%M]
func (s *Store) lookup(ctx context.Context, r *record, idx int) (blockdev.Sector, error) {
	var sector blockdev.Sector

	switch {
	case idx < 0:
		return 0, fmt.Errorf("sector index %d: %w", idx, ErrOutOfRange)

	case idx < DirectCount:
		sector = r.Direct[idx]

	case idx < DirectCount+PointersPerBlock:
		b, err := s.loadBlock(ctx, r.Indirect)
		if err != nil {
			return 0, err
		}
		sector = b.Table[idx-DirectCount]

	case idx < MaxSectors:
		rel := idx - DirectCount - PointersPerBlock
		top, err := s.loadBlock(ctx, r.DoubleIndirect)
		if err != nil {
			return 0, err
		}
		sub, err := s.loadBlock(ctx, top.Table[rel/PointersPerBlock])
		if err != nil {
			return 0, err
		}
		sector = sub.Table[rel%PointersPerBlock]

	default:
		return 0, fmt.Errorf("sector index %d beyond %d: %w", idx, MaxSectors, ErrOutOfRange)
	}

	if sector == 0 {
		return 0, fmt.Errorf("sector index %d unallocated: %w", idx, ErrCorrupt)
	}
	return sector, nil
}

// ============================================================================
// Growth
// ============================================================================

// growth is one in-progress extension. It works on a copy of the record, so
// abandoning it leaves the handle untouched; rollback undoes what it wrote to
// index blocks and returns every sector it allocated.
type growth struct {
	s   *Store
	rec record

	added []int             // data sector indices registered
	data  []blockdev.Sector // data sectors allocated
	fresh []freshBlock      // index blocks allocated
}

type freshBlock struct {
	sector blockdev.Sector
	parent blockdev.Sector // double-indirect block holding it, sub-blocks only
	slot   int
}

// grow allocates, zero-fills and registers data sectors until r covers
// length bytes. On failure nothing stays allocated.
func (s *Store) grow(ctx context.Context, r record, length int64) (*growth, error) {
	if length > MaxLength {
		return nil, fmt.Errorf("length %d beyond %d: %w", length, MaxLength, ErrOutOfRange)
	}

	g := &growth{s: s, rec: r}
	for idx := sectorCount(r.length()); idx < sectorCount(length); idx++ {
		if err := g.addSector(ctx, idx); err != nil {
			g.rollback(ctx)
			return nil, err
		}
	}
	g.rec.Length = int32(length)

	return g, nil
}

func (g *growth) addSector(ctx context.Context, idx int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sector, err := g.s.alloc.Allocate(ctx, 1)
	if err != nil {
		return fmt.Errorf("allocate data sector %d: %w", idx, err)
	}
	g.data = append(g.data, sector)

	if err := g.s.cache.Zero(ctx, sector); err != nil {
		return fmt.Errorf("zero data sector %d: %w", sector, err)
	}
	if err := g.register(ctx, idx, sector); err != nil {
		return err
	}
	g.added = append(g.added, idx)

	return nil
}

// register records sector as data sector idx, allocating index blocks on
// first use: direct, then indirect, then double-indirect.
func (g *growth) register(ctx context.Context, idx int, sector blockdev.Sector) error {
	switch {
	case idx < DirectCount:
		g.rec.Direct[idx] = sector
		return nil

	case idx < DirectCount+PointersPerBlock:
		if g.rec.Indirect == 0 {
			b, err := g.newBlock(ctx, 0, 0)
			if err != nil {
				return err
			}
			g.rec.Indirect = b
		}
		return g.s.setEntry(ctx, g.rec.Indirect, idx-DirectCount, sector)

	default:
		rel := idx - DirectCount - PointersPerBlock
		if g.rec.DoubleIndirect == 0 {
			b, err := g.newBlock(ctx, 0, 0)
			if err != nil {
				return err
			}
			g.rec.DoubleIndirect = b
		}

		top, err := g.s.loadBlock(ctx, g.rec.DoubleIndirect)
		if err != nil {
			return err
		}

		slot := rel / PointersPerBlock
		sub := top.Table[slot]
		if sub == 0 {
			if sub, err = g.newBlock(ctx, g.rec.DoubleIndirect, slot); err != nil {
				return err
			}
			if err := g.s.setEntry(ctx, g.rec.DoubleIndirect, slot, sub); err != nil {
				return err
			}
		}
		return g.s.setEntry(ctx, sub, rel%PointersPerBlock, sector)
	}
}

// newBlock allocates a zero-filled index block.
func (g *growth) newBlock(ctx context.Context, parent blockdev.Sector, slot int) (blockdev.Sector, error) {
	sector, err := g.s.alloc.Allocate(ctx, 1)
	if err != nil {
		return 0, fmt.Errorf("allocate index block: %w", err)
	}
	g.fresh = append(g.fresh, freshBlock{sector: sector, parent: parent, slot: slot})

	if err := g.s.cache.Zero(ctx, sector); err != nil {
		return 0, fmt.Errorf("zero index block %d: %w", sector, err)
	}
	return sector, nil
}

func (g *growth) isFresh(sector blockdev.Sector) bool {
	return slices.ContainsFunc(g.fresh, func(f freshBlock) bool { return f.sector == sector })
}

// rollback clears the pointers this growth wrote into pre-existing index
// blocks and releases every sector it allocated.
func (g *growth) rollback(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)

	for _, idx := range slices.Backward(g.added) {
		if err := g.unregister(ctx, idx); err != nil {
			logger.Warn("Inode: rollback could not clear sector index %d: %v", idx, err)
		}
	}

	for _, f := range g.fresh {
		if f.parent == 0 || g.isFresh(f.parent) {
			continue
		}
		if err := g.s.setEntry(ctx, f.parent, f.slot, 0); err != nil {
			logger.Warn("Inode: rollback could not clear index block %d: %v", f.sector, err)
		}
	}

	for _, sector := range g.data {
		g.s.release(ctx, sector)
	}
	for _, f := range g.fresh {
		g.s.release(ctx, f.sector)
	}

	logger.Debug("Inode: rolled back growth (%d data sectors, %d index blocks)", len(g.data), len(g.fresh))
}

func (g *growth) unregister(ctx context.Context, idx int) error {
	switch {
	case idx < DirectCount:
		return nil

	case idx < DirectCount+PointersPerBlock:
		if g.rec.Indirect == 0 || g.isFresh(g.rec.Indirect) {
			return nil
		}
		return g.s.setEntry(ctx, g.rec.Indirect, idx-DirectCount, 0)

	default:
		if g.rec.DoubleIndirect == 0 {
			return nil
		}
		rel := idx - DirectCount - PointersPerBlock
		top, err := g.s.loadBlock(ctx, g.rec.DoubleIndirect)
		if err != nil {
			return err
		}
		sub := top.Table[rel/PointersPerBlock]
		if sub == 0 || g.isFresh(sub) {
			return nil
		}
		return g.s.setEntry(ctx, sub, rel%PointersPerBlock, 0)
	}
}

// ============================================================================
// Reclamation
// ============================================================================

// reclaim releases every data and index sector referenced by r: the
// double-indirect tree first, then the indirect tree, then direct sectors.
func (s *Store) reclaim(ctx context.Context, r *record) {
	remaining := sectorCount(r.length())

	direct := min(remaining, DirectCount)
	remaining -= direct

	indirect := min(remaining, PointersPerBlock)
	remaining -= indirect

	if r.DoubleIndirect != 0 {
		s.reclaimDouble(ctx, r.DoubleIndirect, remaining)
	}
	if r.Indirect != 0 {
		s.reclaimBlock(ctx, r.Indirect, indirect)
	}
	for i := range direct {
		if r.Direct[i] != 0 {
			s.release(ctx, r.Direct[i])
		}
	}
}

func (s *Store) reclaimDouble(ctx context.Context, block blockdev.Sector, count int) {
	top, err := s.loadBlock(ctx, block)
	if err != nil {
		logger.Error("Inode: cannot read double-indirect block %d, leaking its tree: %v", block, err)
		return
	}

	for slot := 0; count > 0 && slot < PointersPerBlock; slot++ {
		n := min(count, PointersPerBlock)
		count -= n
		if top.Table[slot] != 0 {
			s.reclaimBlock(ctx, top.Table[slot], n)
		}
	}
	s.release(ctx, block)
}

// reclaimBlock releases the first count data sectors of an indirect block,
// then the block itself.
func (s *Store) reclaimBlock(ctx context.Context, block blockdev.Sector, count int) {
	b, err := s.loadBlock(ctx, block)
	if err != nil {
		logger.Error("Inode: cannot read index block %d, leaking its sectors: %v", block, err)
		return
	}

	for i := range min(count, PointersPerBlock) {
		if b.Table[i] != 0 {
			s.release(ctx, b.Table[i])
		}
	}
	s.release(ctx, block)
}

func (s *Store) release(ctx context.Context, sector blockdev.Sector) {
	if err := s.alloc.Release(ctx, sector, 1); err != nil {
		logger.Warn("Inode: release sector %d: %v", sector, err)
	}
}
