package bolt

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/marmos91/dittocore/pkg/blockdev"
	devtesting "github.com/marmos91/dittocore/pkg/blockdev/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoltDevice(t *testing.T) {
	suite := &devtesting.DeviceTestSuite{
		NewDevice: func(t *testing.T, sectors uint32) blockdev.Device {
			dev, err := NewBoltDevice(context.Background(), BoltDeviceConfig{
				Path:    filepath.Join(t.TempDir(), "disk.bolt"),
				Sectors: sectors,
				NoSync:  true,
			})
			require.NoError(t, err)
			return dev
		},
	}

	suite.Run(t)
}

func TestBoltDevice_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "disk.bolt")

	dev, err := NewBoltDevice(ctx, BoltDeviceConfig{Path: path, Sectors: 8})
	require.NoError(t, err)
	require.NoError(t, dev.WriteSector(ctx, 4, devtesting.Pattern(4)))
	require.NoError(t, dev.Close())

	dev, err = NewBoltDevice(ctx, BoltDeviceConfig{Path: path, Sectors: 8})
	require.NoError(t, err)
	defer dev.Close()

	buf := make([]byte, blockdev.SectorSize)
	require.NoError(t, dev.ReadSector(ctx, 4, buf))
	assert.Equal(t, devtesting.Pattern(4), buf)
}
