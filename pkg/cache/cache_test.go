package cache

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/dittocore/internal/ratelimiter"
	"github.com/marmos91/dittocore/pkg/blockdev"
	"github.com/marmos91/dittocore/pkg/blockdev/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

func newTestCache(t *testing.T, slots int, sectors uint32) (*Cache, *memory.MemoryDevice) {
	t.Helper()
	dev, err := memory.NewMemoryDevice(context.Background(), sectors)
	require.NoError(t, err)

	c, err := New(dev, Options{Slots: slots})
	require.NoError(t, err)
	return c, dev
}

func sectorOf(b byte) []byte {
	return bytes.Repeat([]byte{b}, blockdev.SectorSize)
}

func touch(t *testing.T, c *Cache, sector blockdev.Sector) {
	t.Helper()
	buf := make([]byte, 1)
	require.NoError(t, c.Read(context.Background(), sector, buf, 0))
}

func residentSectors(c *Cache) map[blockdev.Sector]bool {
	out := make(map[blockdev.Sector]bool)
	for _, s := range c.Snapshot() {
		if s.State != SlotFree {
			out[s.Sector] = true
		}
	}
	return out
}

// failingDevice fails writes on demand.
type failingDevice struct {
	*memory.MemoryDevice
	failWrites bool
}

func (d *failingDevice) WriteSector(ctx context.Context, sector blockdev.Sector, buf []byte) error {
	if d.failWrites {
		return errors.New("injected write failure")
	}
	return d.MemoryDevice.WriteSector(ctx, sector, buf)
}

// ============================================================================
// Read / Write
// ============================================================================

func TestReadWrite(t *testing.T) {
	ctx := context.Background()

	t.Run("ReadLoadsFromDevice", func(t *testing.T) {
		c, dev := newTestCache(t, 4, 16)
		require.NoError(t, dev.WriteSector(ctx, 3, sectorOf(0xab)))

		buf := make([]byte, 10)
		require.NoError(t, c.Read(ctx, 3, buf, 100))
		assert.Equal(t, bytes.Repeat([]byte{0xab}, 10), buf)
		assert.True(t, c.Resident(3))
	})

	t.Run("WriteIsNotVisibleOnDeviceUntilFlush", func(t *testing.T) {
		c, dev := newTestCache(t, 4, 16)
		require.NoError(t, c.Write(ctx, 2, []byte("hello"), 10))

		raw := make([]byte, blockdev.SectorSize)
		require.NoError(t, dev.ReadSector(ctx, 2, raw))
		assert.Equal(t, make([]byte, 5), raw[10:15])

		require.NoError(t, c.FlushAll(ctx))
		require.NoError(t, dev.ReadSector(ctx, 2, raw))
		assert.Equal(t, []byte("hello"), raw[10:15])
	})

	t.Run("PartialWritePreservesRestOfSector", func(t *testing.T) {
		c, dev := newTestCache(t, 4, 16)
		require.NoError(t, dev.WriteSector(ctx, 1, sectorOf(0x11)))
		require.NoError(t, c.Write(ctx, 1, []byte{0x22}, 0))

		buf := make([]byte, 2)
		require.NoError(t, c.Read(ctx, 1, buf, 0))
		assert.Equal(t, []byte{0x22, 0x11}, buf)
	})

	t.Run("WholeSectorWriteSkipsDeviceRead", func(t *testing.T) {
		c, _ := newTestCache(t, 4, 16)
		require.NoError(t, c.Write(ctx, 5, sectorOf(0x7), 0))

		buf := make([]byte, blockdev.SectorSize)
		require.NoError(t, c.Read(ctx, 5, buf, 0))
		assert.Equal(t, sectorOf(0x7), buf)
	})

	t.Run("RangeBeyondSectorIsRejected", func(t *testing.T) {
		c, _ := newTestCache(t, 4, 16)
		err := c.Read(ctx, 0, make([]byte, 10), blockdev.SectorSize-5)
		assert.ErrorIs(t, err, ErrInvalidRange)
		err = c.Write(ctx, 0, make([]byte, 1), -1)
		assert.ErrorIs(t, err, ErrInvalidRange)
		assert.Equal(t, 0, c.Stats().Resident)
	})

	t.Run("DeviceErrorLeavesCacheUsable", func(t *testing.T) {
		c, _ := newTestCache(t, 2, 4)
		err := c.Read(ctx, 99, make([]byte, 1), 0)
		assert.ErrorIs(t, err, blockdev.ErrSectorOutOfRange)
		assert.Equal(t, 0, c.Stats().Resident)
		touch(t, c, 1)
	})
}

// ============================================================================
// Eviction
// ============================================================================

func TestClockScenario(t *testing.T) {
	c, _ := newTestCache(t, 4, 16)

	for _, s := range []blockdev.Sector{1, 2, 3, 4, 1, 5} {
		touch(t, c, s)
	}

	resident := residentSectors(c)
	assert.True(t, resident[1], "re-touched sector 1 must survive")
	assert.True(t, resident[5])
	assert.Len(t, resident, 4)

	evicted := 0
	for _, s := range []blockdev.Sector{2, 3, 4} {
		if !resident[s] {
			evicted++
		}
	}
	assert.Equal(t, 1, evicted, "exactly one of 2,3,4 is evicted")
	assert.False(t, resident[2], "clock order picks sector 2 first")
}

func TestForcedEvictionAfterFullCycle(t *testing.T) {
	c, _ := newTestCache(t, 3, 16)

	for _, s := range []blockdev.Sector{1, 2, 3, 1, 2, 3} {
		touch(t, c, s)
	}
	touch(t, c, 4)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Evictions)
	assert.Equal(t, uint64(1), stats.ForcedEvictions)
	assert.Equal(t, 3, stats.Resident)
}

func TestCapacityAndNoAliasingInvariants(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, 8, 64)

	// Deterministic pseudo-random access mix.
	x := uint32(7)
	for i := 0; i < 2000; i++ {
		x = x*1103515245 + 12345
		sector := blockdev.Sector(x>>16) % 40
		if i%3 == 0 {
			require.NoError(t, c.Write(ctx, sector, []byte{byte(i)}, int(x%500)))
		} else {
			touch(t, c, sector)
		}

		seen := make(map[blockdev.Sector]bool)
		occupied := 0
		for _, s := range c.Snapshot() {
			if s.State == SlotFree {
				continue
			}
			occupied++
			require.False(t, seen[s.Sector], "sector %d cached twice", s.Sector)
			seen[s.Sector] = true
		}
		require.LessOrEqual(t, occupied, c.Capacity())
	}
}

func TestDirtyEvictionWritesLastContent(t *testing.T) {
	ctx := context.Background()
	c, dev := newTestCache(t, 2, 16)

	require.NoError(t, c.Write(ctx, 1, sectorOf(0x01), 0))
	require.NoError(t, c.Write(ctx, 1, sectorOf(0x02), 0))
	before := dev.Writes()

	// Sector 1 was re-used, so the clock spares it once: 3 evicts 2, then
	// 4 evicts 1.
	touch(t, c, 2)
	touch(t, c, 3)
	touch(t, c, 4)

	assert.False(t, c.Resident(1))
	assert.Equal(t, before+1, dev.Writes())

	raw := make([]byte, blockdev.SectorSize)
	require.NoError(t, dev.ReadSector(ctx, 1, raw))
	assert.Equal(t, sectorOf(0x02), raw)
}

func TestCleanEvictionDoesNotWrite(t *testing.T) {
	c, dev := newTestCache(t, 2, 16)
	for _, s := range []blockdev.Sector{1, 2, 3, 4, 5} {
		touch(t, c, s)
	}
	assert.Equal(t, uint64(0), dev.Writes())
	assert.Equal(t, uint64(3), c.Stats().Evictions)
}

func TestEvictionWritebackFailureKeepsData(t *testing.T) {
	ctx := context.Background()
	mem, err := memory.NewMemoryDevice(ctx, 16)
	require.NoError(t, err)
	dev := &failingDevice{MemoryDevice: mem}

	c, err := New(dev, Options{Slots: 1})
	require.NoError(t, err)

	require.NoError(t, c.Write(ctx, 1, sectorOf(0x09), 0))
	dev.failWrites = true

	err = c.Read(ctx, 2, make([]byte, 1), 0)
	require.Error(t, err)
	assert.True(t, c.Resident(1), "dirty sector must not be dropped")

	dev.failWrites = false
	buf := make([]byte, blockdev.SectorSize)
	require.NoError(t, c.Read(ctx, 1, buf, 0))
	assert.Equal(t, sectorOf(0x09), buf)
}

// ============================================================================
// Flush / Close
// ============================================================================

func TestFlush(t *testing.T) {
	ctx := context.Background()
	c, dev := newTestCache(t, 4, 16)

	require.NoError(t, c.Write(ctx, 7, []byte{1}, 0))
	snap := c.Snapshot()
	require.Equal(t, SlotDirty, snap[0].State)

	require.NoError(t, c.Flush(ctx, 0))
	assert.Equal(t, SlotClean, c.Snapshot()[0].State)
	assert.Equal(t, uint64(1), dev.Writes())

	// Clean slot: no second write.
	require.NoError(t, c.Flush(ctx, 0))
	assert.Equal(t, uint64(1), dev.Writes())

	assert.ErrorIs(t, c.Flush(ctx, 4), ErrInvalidSlot)
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	c, dev := newTestCache(t, 4, 16)

	require.NoError(t, c.Write(ctx, 3, sectorOf(0x33), 0))
	require.NoError(t, c.Close(ctx))

	raw := make([]byte, blockdev.SectorSize)
	require.NoError(t, dev.ReadSector(ctx, 3, raw))
	assert.Equal(t, sectorOf(0x33), raw)

	assert.ErrorIs(t, c.Read(ctx, 3, raw[:1], 0), ErrClosed)
	assert.NoError(t, c.Close(ctx))
}

func TestBackgroundFlusher(t *testing.T) {
	ctx := context.Background()
	c, dev := newTestCache(t, 4, 16)
	defer c.Close(ctx)

	require.NoError(t, c.Write(ctx, 1, []byte{1}, 0))
	require.NoError(t, c.Write(ctx, 2, []byte{2}, 0))

	c.StartFlusher(ctx, 5*time.Millisecond, ratelimiter.New(1000, 10))

	assert.Eventually(t, func() bool {
		return c.Stats().Dirty == 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(2), dev.Writes())

	c.StopFlusher()
}

func TestConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(t, 8, 128)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				sector := blockdev.Sector(g*16 + i%16)
				if err := c.Write(ctx, sector, []byte{byte(g)}, 0); err != nil {
					t.Errorf("write: %v", err)
					return
				}
				buf := make([]byte, 1)
				if err := c.Read(ctx, sector, buf, 0); err != nil {
					t.Errorf("read: %v", err)
					return
				}
				if buf[0] != byte(g) {
					t.Errorf("sector %d: got %d want %d", sector, buf[0], g)
					return
				}
			}
		}(g)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Stats().Resident, 8)
}
