package frame

import (
	"bytes"
	"context"
	"testing"

	"github.com/marmos91/dittocore/pkg/blockdev/memory"
	"github.com/marmos91/dittocore/pkg/mmu"
	"github.com/marmos91/dittocore/pkg/swap"
	"github.com/marmos91/dittocore/pkg/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

type testOwner struct {
	id  int
	dir *mmu.PageDirectory
}

func (o *testOwner) ID() int                       { return o.id }
func (o *testOwner) Directory() *mmu.PageDirectory { return o.dir }

// memFile is an in-memory vm.File.
type memFile struct {
	data   []byte
	writes int
}

func (f *memFile) ReadAt(_ context.Context, p []byte, off int64) (int, error) {
	return copy(p, f.data[off:]), nil
}

func (f *memFile) WriteAt(_ context.Context, p []byte, off int64) (int, error) {
	f.writes++
	return copy(f.data[off:], p), nil
}

func (f *memFile) Length() int64 { return int64(len(f.data)) }

type fixture struct {
	cache *Cache
	swap  *swap.Store
	owner *testOwner
}

func newFixture(t *testing.T, frames int) *fixture {
	t.Helper()

	pool, err := mmu.NewFramePool(frames)
	require.NoError(t, err)

	dev, err := memory.NewMemoryDevice(context.Background(), 8*16)
	require.NoError(t, err)
	sw, err := swap.New(dev, swap.Options{})
	require.NoError(t, err)

	c := New(pool, sw, Options{})
	owner := &testOwner{id: 1, dir: mmu.NewPageDirectory()}
	c.Register(owner)

	return &fixture{cache: c, swap: sw, owner: owner}
}

const base = mmu.VAddr(0x08048000)

func pageAt(i int) mmu.VAddr {
	return base + mmu.VAddr(i*mmu.PageSize)
}

// resident acquires, installs and unpins a page the way the fault path does.
func (f *fixture) resident(t *testing.T, e *vm.Entry) *Record {
	t.Helper()
	rec, err := f.cache.Acquire(context.Background(), f.owner.id, e, true)
	require.NoError(t, err)
	require.True(t, f.owner.dir.Install(e.Addr, rec.Frame, e.Writable))
	require.True(t, f.cache.Unpin(f.owner.id, e.Addr))
	return rec
}

func imageEntry(i int) *vm.Entry {
	return &vm.Entry{Addr: pageAt(i), Kind: vm.KindImage, Writable: true, ReadBytes: mmu.PageSize, SwapSlot: swap.NoSlot}
}

// ============================================================================
// Acquire / Pin
// ============================================================================

func TestAcquireStartsPinned(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	e := imageEntry(0)
	rec, err := f.cache.Acquire(ctx, f.owner.id, e, true)
	require.NoError(t, err)
	assert.True(t, rec.Pinned)
	assert.True(t, e.Pinned)
	assert.Equal(t, 1, f.cache.Stats().Pinned)

	_, err = f.cache.Acquire(ctx, f.owner.id, e, true)
	assert.Error(t, err, "same page twice")

	_, err = f.cache.Acquire(ctx, 99, imageEntry(1), true)
	assert.ErrorIs(t, err, ErrUnknownOwner)
}

func TestAllPinnedMeansNoFrame(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	for i := range 2 {
		_, err := f.cache.Acquire(ctx, f.owner.id, imageEntry(i), true)
		require.NoError(t, err)
	}

	_, err := f.cache.Acquire(ctx, f.owner.id, imageEntry(2), true)
	assert.ErrorIs(t, err, ErrNoFrame)
	assert.ErrorIs(t, f.cache.EvictOne(ctx), ErrNoFrame)
	assert.Equal(t, 2, f.cache.Len())
}

func TestPinnedSkippedWithoutClearingAccessed(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	a, b := imageEntry(0), imageEntry(1)
	f.resident(t, a)
	f.resident(t, b)

	require.NoError(t, f.owner.dir.Touch(a.Addr, false))
	require.True(t, f.cache.Pin(f.owner.id, a.Addr))

	require.NoError(t, f.cache.EvictOne(ctx))

	_, ok := f.cache.Lookup(f.owner.id, a.Addr)
	assert.True(t, ok, "pinned page stays")
	assert.True(t, f.owner.dir.IsAccessed(a.Addr), "pinned page keeps its accessed bit")
	_, ok = f.cache.Lookup(f.owner.id, b.Addr)
	assert.False(t, ok)
}

func TestPinRange(t *testing.T) {
	f := newFixture(t, 4)

	for i := range 3 {
		f.resident(t, imageEntry(i))
	}

	n := f.cache.PinRange(f.owner.id, pageAt(0)+100, 2*mmu.PageSize)
	assert.Equal(t, 3, n, "an unaligned range of two pages spans three")
	assert.Equal(t, 3, f.cache.Stats().Pinned)

	f.cache.UnpinRange(f.owner.id, pageAt(0)+100, 2*mmu.PageSize)
	assert.Zero(t, f.cache.Stats().Pinned)

	assert.False(t, f.cache.Pin(f.owner.id, pageAt(7)))
}

// ============================================================================
// Eviction
// ============================================================================

func TestSecondChance(t *testing.T) {
	f := newFixture(t, 3)

	entries := []*vm.Entry{imageEntry(0), imageEntry(1), imageEntry(2)}
	for _, e := range entries {
		f.resident(t, e)
	}
	require.NoError(t, f.owner.dir.Touch(entries[0].Addr, false))

	f.resident(t, imageEntry(3))

	_, ok := f.cache.Lookup(f.owner.id, entries[0].Addr)
	assert.True(t, ok, "accessed page survives")
	assert.False(t, f.owner.dir.IsAccessed(entries[0].Addr), "and loses its bit")
	_, ok = f.cache.Lookup(f.owner.id, entries[1].Addr)
	assert.False(t, ok, "first unaccessed page is the victim")
	assert.Equal(t, uint64(1), f.cache.Stats().Evictions)
}

func TestCleanImagePageIsDropped(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	e := imageEntry(0)
	f.resident(t, e)
	require.NoError(t, f.cache.EvictOne(ctx))

	assert.Equal(t, vm.KindImage, e.Kind)
	assert.Equal(t, swap.NoSlot, e.SwapSlot)
	assert.Zero(t, f.swap.Stats().Used)
	_, mapped := f.owner.dir.Lookup(e.Addr)
	assert.False(t, mapped)
}

func TestDirtyImagePageGoesToSwap(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	e := imageEntry(0)
	rec := f.resident(t, e)
	copy(f.cache.Bytes(rec), []byte("dirty image data"))
	require.NoError(t, f.owner.dir.Touch(e.Addr, true))
	f.owner.dir.SetAccessed(e.Addr, false)

	require.NoError(t, f.cache.EvictOne(ctx))

	assert.Equal(t, vm.KindSwap, e.Kind)
	require.NotEqual(t, swap.NoSlot, e.SwapSlot)

	page := make([]byte, mmu.PageSize)
	require.NoError(t, f.swap.SwapIn(ctx, e.SwapSlot, page))
	assert.True(t, bytes.HasPrefix(page, []byte("dirty image data")))
}

func TestSwapPageAlwaysGoesToSwap(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	e := &vm.Entry{Addr: pageAt(0), Kind: vm.KindSwap, Writable: true, ZeroBytes: mmu.PageSize, SwapSlot: swap.NoSlot}
	f.resident(t, e)
	require.NoError(t, f.cache.EvictOne(ctx))

	assert.True(t, f.swap.Reserved(e.SwapSlot))
	assert.Equal(t, uint64(1), f.cache.Stats().SwapOuts)
}

func TestFilePageWriteback(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	file := &memFile{data: make([]byte, mmu.PageSize+100)}
	clean := &vm.Entry{Addr: pageAt(0), Kind: vm.KindFile, Writable: true, File: file, Offset: 0, ReadBytes: mmu.PageSize}
	dirty := &vm.Entry{Addr: pageAt(1), Kind: vm.KindFile, Writable: true, File: file, Offset: mmu.PageSize, ReadBytes: 100, ZeroBytes: mmu.PageSize - 100}

	f.resident(t, clean)
	rec := f.resident(t, dirty)
	copy(f.cache.Bytes(rec), []byte("mapped"))
	require.NoError(t, f.owner.dir.Touch(dirty.Addr, true))
	f.owner.dir.SetAccessed(dirty.Addr, false)

	require.NoError(t, f.cache.EvictOne(ctx))
	require.NoError(t, f.cache.EvictOne(ctx))

	assert.Equal(t, 1, file.writes, "only the dirty page is written")
	assert.Equal(t, []byte("mapped"), file.data[mmu.PageSize:mmu.PageSize+6])
	assert.Equal(t, vm.KindFile, dirty.Kind)
	assert.Zero(t, f.swap.Stats().Used)
}

// ============================================================================
// Release
// ============================================================================

func TestReleaseOwner(t *testing.T) {
	f := newFixture(t, 4)
	other := &testOwner{id: 2, dir: mmu.NewPageDirectory()}
	f.cache.Register(other)

	for i := range 2 {
		f.resident(t, imageEntry(i))
	}
	_, err := f.cache.Acquire(context.Background(), other.id, imageEntry(0), true)
	require.NoError(t, err)

	assert.Equal(t, 2, f.cache.ReleaseOwner(f.owner.id))
	assert.Equal(t, 1, f.cache.Len())
	assert.Zero(t, f.owner.dir.Mapped())

	require.NoError(t, f.cache.Release(other.id, pageAt(0)))
	assert.ErrorIs(t, f.cache.Release(other.id, pageAt(0)), ErrNotResident)
	assert.Zero(t, f.cache.Len())
}
