package inode

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/marmos91/dittocore/pkg/blockdev"
	"github.com/marmos91/dittocore/pkg/blockdev/memory"
	"github.com/marmos91/dittocore/pkg/cache"
	"github.com/marmos91/dittocore/pkg/freemap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

// countingAllocator wraps a free map, counts allocations and can be told to
// fail after a number of successful ones.
type countingAllocator struct {
	*freemap.FreeMap

	mu        sync.Mutex
	allocs    int
	failAfter int // -1 disables
}

func (a *countingAllocator) Allocate(ctx context.Context, count uint32) (blockdev.Sector, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.failAfter >= 0 && a.allocs >= a.failAfter {
		return 0, freemap.ErrNoSpace
	}
	a.allocs++
	return a.FreeMap.Allocate(ctx, count)
}

func (a *countingAllocator) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.allocs
}

type fixture struct {
	store *Store
	alloc *countingAllocator
	cache *cache.Cache
}

// newFixture builds a store over an in-memory device of sectors sectors
// with sector 0 reserved, so a zero pointer never names data.
func newFixture(t *testing.T, sectors uint32) *fixture {
	t.Helper()
	ctx := context.Background()

	dev, err := memory.NewMemoryDevice(ctx, sectors)
	require.NoError(t, err)

	c, err := cache.New(dev, cache.Options{})
	require.NoError(t, err)

	fm, err := freemap.Format(sectors, 0)
	require.NoError(t, err)

	alloc := &countingAllocator{FreeMap: fm, failAfter: -1}
	return &fixture{store: NewStore(c, alloc), alloc: alloc, cache: c}
}

func (f *fixture) create(t *testing.T, length int64) *Handle {
	t.Helper()
	ctx := context.Background()

	sector, err := f.alloc.FreeMap.Allocate(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, f.store.Create(ctx, sector, length, true))

	h, err := f.store.Open(ctx, sector)
	require.NoError(t, err)
	return h
}

func pattern(n int, seed byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = seed + byte(i*7)
	}
	return out
}

// ============================================================================
// Codec
// ============================================================================

func TestRecordEncodesToOneSector(t *testing.T) {
	r := newRecord(true)
	r.Length = 1234
	r.Direct[0] = 9
	r.Direct[DirectCount-1] = 10
	r.Indirect = 11
	r.DoubleIndirect = 12

	buf, err := encodeSector(&r)
	require.NoError(t, err)
	require.Len(t, buf, blockdev.SectorSize)

	got, err := decodeRecord(buf)
	require.NoError(t, err)
	assert.Equal(t, r, got)

	b := indirectBlock{}
	b.Table[PointersPerBlock-1] = 77
	buf, err = encodeSector(&b)
	require.NoError(t, err)
	assert.Len(t, buf, blockdev.SectorSize)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	_, err := decodeRecord(make([]byte, blockdev.SectorSize))
	assert.ErrorIs(t, err, ErrCorrupt)

	f := newFixture(t, 64)
	_, err = f.store.Open(context.Background(), 5)
	assert.ErrorIs(t, err, ErrCorrupt)
}

// ============================================================================
// Read / Write
// ============================================================================

func TestWriteThenReadAcrossIndexBoundaries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1024)

	for _, idx := range []int{0, 122, 123, 250, 251, 400} {
		h := f.create(t, 0)
		off := int64(idx)*blockdev.SectorSize - 5
		if off < 0 {
			off = 0
		}
		data := pattern(blockdev.SectorSize+10, byte(idx))

		n, err := h.WriteAt(ctx, data, off)
		require.NoError(t, err, "index %d", idx)
		require.Equal(t, len(data), n)
		assert.Equal(t, off+int64(len(data)), h.Length())

		got := make([]byte, len(data))
		n, err = h.ReadAt(ctx, got, off)
		require.NoError(t, err)
		require.Equal(t, len(data), n)
		assert.Equal(t, data, got, "index %d", idx)

		// Everything before the write reads back as zeros.
		if off > 0 {
			head := make([]byte, off)
			_, err = h.ReadAt(ctx, head, 0)
			require.NoError(t, err)
			assert.Equal(t, make([]byte, off), head)
		}

		h.Remove()
		require.NoError(t, h.Close(ctx))
	}
}

func TestReadClampsToLength(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 64)
	h := f.create(t, 0)

	_, err := h.WriteAt(ctx, []byte("hello"), 0)
	require.NoError(t, err)

	buf := make([]byte, 100)
	n, err := h.ReadAt(ctx, buf, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []byte("llo"), buf[:n])

	n, err = h.ReadAt(ctx, buf, 5)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = h.ReadAt(ctx, buf, -1)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestWriteBeyondMaxLength(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 64)
	h := f.create(t, 0)

	n, err := h.WriteAt(ctx, []byte{1}, MaxLength)
	assert.ErrorIs(t, err, ErrOutOfRange)
	assert.Zero(t, n)
	assert.Zero(t, f.alloc.count(), "nothing allocated")
}

func TestCreateWithLengthZeroFills(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 64)
	h := f.create(t, 3*blockdev.SectorSize+1)

	assert.Equal(t, int64(3*blockdev.SectorSize+1), h.Length())
	assert.Equal(t, 4, f.alloc.count())

	buf := make([]byte, h.Length())
	n, err := h.ReadAt(ctx, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	assert.Equal(t, make([]byte, len(buf)), buf)
}

// ============================================================================
// Growth
// ============================================================================

func TestFirstIndirectSectorAllocatesTwoSectors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 512)
	h := f.create(t, DirectCount*blockdev.SectorSize)

	before := f.alloc.count()
	n, err := h.WriteAt(ctx, []byte{0xee}, DirectCount*blockdev.SectorSize)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, before+2, f.alloc.count(), "one indirect block and one data sector")
}

func TestGrowthIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 512)
	h := f.create(t, 0)

	require.NoError(t, f.store.Extend(ctx, h, 300*blockdev.SectorSize))
	before := f.alloc.count()
	free := f.alloc.Free()

	require.NoError(t, f.store.Extend(ctx, h, 300*blockdev.SectorSize))
	require.NoError(t, f.store.Extend(ctx, h, 10))
	_, err := h.WriteAt(ctx, []byte("x"), 42)
	require.NoError(t, err)

	assert.Equal(t, before, f.alloc.count())
	assert.Equal(t, free, f.alloc.Free())
	assert.Equal(t, int64(300*blockdev.SectorSize), h.Length())
}

func TestFailedGrowthRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1024)
	h := f.create(t, 100*blockdev.SectorSize)

	free := f.alloc.Free()
	length := h.Length()

	// Crosses into the double-indirect tree before failing.
	f.alloc.failAfter = f.alloc.count() + 200
	n, err := h.WriteAt(ctx, pattern(10, 1), 400*blockdev.SectorSize)
	require.ErrorIs(t, err, freemap.ErrNoSpace)
	assert.Zero(t, n)

	assert.Equal(t, length, h.Length())
	assert.Equal(t, free, f.alloc.Free(), "every sector allocated during growth is returned")

	// The store stays usable after the failure.
	f.alloc.failAfter = -1
	_, err = h.WriteAt(ctx, []byte("ok"), 260*blockdev.SectorSize)
	require.NoError(t, err)

	got := make([]byte, 2)
	_, err = h.ReadAt(ctx, got, 260*blockdev.SectorSize)
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), got)
}

func TestFailedGrowthPersistsNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 512)
	h := f.create(t, 0)
	sector := h.Inumber()

	f.alloc.failAfter = f.alloc.count() + 3
	_, err := h.WriteAt(ctx, pattern(10*blockdev.SectorSize, 3), 0)
	require.Error(t, err)
	require.NoError(t, h.Close(ctx))

	h, err = f.store.Open(ctx, sector)
	require.NoError(t, err)
	assert.Zero(t, h.Length())
}

// ============================================================================
// Open / Close / Remove
// ============================================================================

func TestOpenSharesHandle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 64)
	h := f.create(t, 0)

	h2, err := f.store.Open(ctx, h.Inumber())
	require.NoError(t, err)
	assert.Same(t, h, h2)
	assert.Equal(t, 2, h.OpenCount())

	require.NoError(t, h.Reopen())
	assert.Equal(t, 3, h.OpenCount())

	for range 3 {
		require.NoError(t, h.Close(ctx))
	}
	assert.Zero(t, f.store.OpenCount())
	assert.ErrorIs(t, h.Close(ctx), ErrClosed)
	assert.ErrorIs(t, h.Reopen(), ErrClosed)

	_, err = h.ReadAt(ctx, make([]byte, 1), 0)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCloseReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 512)
	h := f.create(t, 0)
	sector := h.Inumber()

	data := pattern(130*blockdev.SectorSize, 9)
	_, err := h.WriteAt(ctx, data, 0)
	require.NoError(t, err)
	require.NoError(t, h.Close(ctx))

	h, err = f.store.Open(ctx, sector)
	require.NoError(t, err)
	assert.True(t, h.IsFile())
	assert.Equal(t, int64(len(data)), h.Length())

	got := make([]byte, len(data))
	_, err = h.ReadAt(ctx, got, 0)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))
}

func TestRemoveReleasesEverything(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1024)
	free := f.alloc.Free()

	h := f.create(t, 0)
	_, err := h.WriteAt(ctx, []byte{1}, 500*blockdev.SectorSize)
	require.NoError(t, err)
	require.Less(t, f.alloc.Free(), free)

	require.NoError(t, h.Reopen())
	h.Remove()
	assert.True(t, h.IsRemoved())

	require.NoError(t, h.Close(ctx))
	assert.Less(t, f.alloc.Free(), free, "still open once")

	require.NoError(t, h.Close(ctx))
	assert.Equal(t, free, f.alloc.Free())
}

// ============================================================================
// Deny write
// ============================================================================

func TestDenyWrite(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 64)
	h := f.create(t, 0)

	require.NoError(t, h.DenyWrite())
	assert.ErrorIs(t, h.DenyWrite(), ErrDenyCount, "one deny per opener")
	assert.True(t, h.WriteDenied())

	n, err := h.WriteAt(ctx, []byte("x"), 0)
	assert.ErrorIs(t, err, ErrWriteDenied)
	assert.Zero(t, n)
	assert.Zero(t, h.Length())

	require.NoError(t, h.AllowWrite())
	assert.ErrorIs(t, h.AllowWrite(), ErrDenyCount)

	_, err = h.WriteAt(ctx, []byte("x"), 0)
	assert.NoError(t, err)
}

func TestConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2048)
	h := f.create(t, 0)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs []error
	for g := range 4 {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			off := int64(g) * 64 * blockdev.SectorSize
			if _, err := h.WriteAt(ctx, pattern(64*blockdev.SectorSize, byte(g)), off); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(g)
	}
	wg.Wait()
	require.NoError(t, errors.Join(errs...))

	assert.Equal(t, int64(4*64*blockdev.SectorSize), h.Length())
	for g := range 4 {
		got := make([]byte, 64*blockdev.SectorSize)
		_, err := h.ReadAt(ctx, got, int64(g)*64*blockdev.SectorSize)
		require.NoError(t, err)
		assert.Equal(t, pattern(64*blockdev.SectorSize, byte(g)), got)
	}
}
