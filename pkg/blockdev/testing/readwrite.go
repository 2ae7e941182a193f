package testing

import (
	"fmt"
	"sync"
	"testing"

	"github.com/marmos91/dittocore/pkg/blockdev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunReadWriteTests runs the basic sector round-trip tests.
func (suite *DeviceTestSuite) RunReadWriteTests(t *testing.T) {
	t.Run("UnwrittenSectorReadsZero", func(t *testing.T) {
		dev := suite.newDevice(t, 8)
		assert.Equal(t, make([]byte, blockdev.SectorSize), mustRead(t, dev, 3))
	})

	t.Run("RoundTrip", func(t *testing.T) {
		dev := suite.newDevice(t, 8)
		mustWrite(t, dev, 5, Pattern(7))
		assert.Equal(t, Pattern(7), mustRead(t, dev, 5))
	})

	t.Run("Overwrite", func(t *testing.T) {
		dev := suite.newDevice(t, 8)
		mustWrite(t, dev, 2, Pattern(1))
		mustWrite(t, dev, 2, Pattern(2))
		assert.Equal(t, Pattern(2), mustRead(t, dev, 2))
	})

	t.Run("SectorsAreIndependent", func(t *testing.T) {
		dev := suite.newDevice(t, 8)
		for i := blockdev.Sector(0); i < 8; i++ {
			mustWrite(t, dev, i, Pattern(byte(i)))
		}
		for i := blockdev.Sector(0); i < 8; i++ {
			assert.Equal(t, Pattern(byte(i)), mustRead(t, dev, i), "sector %d", i)
		}
	})

	t.Run("CallerBufferNotRetained", func(t *testing.T) {
		dev := suite.newDevice(t, 4)
		buf := Pattern(9)
		mustWrite(t, dev, 1, buf)
		buf[0] ^= 0xff
		assert.Equal(t, Pattern(9), mustRead(t, dev, 1))
	})

	t.Run("SectorCount", func(t *testing.T) {
		dev := suite.newDevice(t, 16)
		assert.Equal(t, uint32(16), dev.SectorCount())
	})
}

// RunBoundaryTests checks the shared error contract.
func (suite *DeviceTestSuite) RunBoundaryTests(t *testing.T) {
	t.Run("OutOfRange", func(t *testing.T) {
		dev := suite.newDevice(t, 4)
		buf := make([]byte, blockdev.SectorSize)
		AssertErrorIs(t, blockdev.ErrSectorOutOfRange, dev.ReadSector(testContext(), 4, buf))
		AssertErrorIs(t, blockdev.ErrSectorOutOfRange, dev.WriteSector(testContext(), 4, buf))
	})

	t.Run("ShortBuffer", func(t *testing.T) {
		dev := suite.newDevice(t, 4)
		AssertErrorIs(t, blockdev.ErrInvalidBuffer, dev.ReadSector(testContext(), 0, make([]byte, 100)))
		AssertErrorIs(t, blockdev.ErrInvalidBuffer, dev.WriteSector(testContext(), 0, make([]byte, blockdev.SectorSize+1)))
	})

	t.Run("LastSector", func(t *testing.T) {
		dev := suite.newDevice(t, 4)
		mustWrite(t, dev, 3, Pattern(3))
		assert.Equal(t, Pattern(3), mustRead(t, dev, 3))
	})
}

// RunConcurrencyTests hammers distinct sectors from several goroutines.
func (suite *DeviceTestSuite) RunConcurrencyTests(t *testing.T) {
	dev := suite.newDevice(t, 32)

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(sector blockdev.Sector) {
			defer wg.Done()
			if err := dev.WriteSector(testContext(), sector, Pattern(byte(sector))); err != nil {
				errs <- fmt.Errorf("write %d: %w", sector, err)
			}
		}(blockdev.Sector(i))
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	for i := blockdev.Sector(0); i < 32; i++ {
		assert.Equal(t, Pattern(byte(i)), mustRead(t, dev, i))
	}
}
