package badger

import (
	"context"
	"testing"

	"github.com/marmos91/dittocore/pkg/blockdev"
	devtesting "github.com/marmos91/dittocore/pkg/blockdev/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBadgerDevice(t *testing.T) {
	suite := &devtesting.DeviceTestSuite{
		NewDevice: func(t *testing.T, sectors uint32) blockdev.Device {
			dev, err := NewBadgerDevice(context.Background(), BadgerDeviceConfig{
				Sectors:  sectors,
				InMemory: true,
			})
			require.NoError(t, err)
			return dev
		},
	}

	suite.Run(t)
}

func TestBadgerDevice_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	dev, err := NewBadgerDevice(ctx, BadgerDeviceConfig{DBPath: dir, Sectors: 64})
	require.NoError(t, err)
	require.NoError(t, dev.WriteSector(ctx, 63, devtesting.Pattern(11)))
	require.NoError(t, dev.Close())

	dev, err = NewBadgerDevice(ctx, BadgerDeviceConfig{DBPath: dir, Sectors: 64})
	require.NoError(t, err)
	defer dev.Close()

	buf := make([]byte, blockdev.SectorSize)
	require.NoError(t, dev.ReadSector(ctx, 63, buf))
	assert.Equal(t, devtesting.Pattern(11), buf)
}

func TestSectorKey_Ordered(t *testing.T) {
	assert.Less(t, string(sectorKey(1)), string(sectorKey(256)))
	assert.Equal(t, []byte{'s', ':', 0, 0, 1, 0}, sectorKey(256))
}

func TestNewBadgerDevice_RequiresPath(t *testing.T) {
	_, err := NewBadgerDevice(context.Background(), BadgerDeviceConfig{Sectors: 4})
	assert.Error(t, err)
}
