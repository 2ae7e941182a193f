package fs

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/marmos91/dittocore/pkg/blockdev"
	devtesting "github.com/marmos91/dittocore/pkg/blockdev/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSDevice(t *testing.T) {
	suite := &devtesting.DeviceTestSuite{
		NewDevice: func(t *testing.T, sectors uint32) blockdev.Device {
			dev, err := NewFSDevice(context.Background(), filepath.Join(t.TempDir(), "disk.img"), sectors)
			require.NoError(t, err)
			return dev
		},
	}

	suite.Run(t)
}

func TestFSDevice_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "disk.img")

	dev, err := NewFSDevice(ctx, path, 16)
	require.NoError(t, err)
	require.NoError(t, dev.WriteSector(ctx, 9, devtesting.Pattern(42)))
	require.NoError(t, dev.Close())

	dev, err = NewFSDevice(ctx, path, 16)
	require.NoError(t, err)
	defer dev.Close()

	buf := make([]byte, blockdev.SectorSize)
	require.NoError(t, dev.ReadSector(ctx, 9, buf))
	assert.Equal(t, devtesting.Pattern(42), buf)
}

func TestFSDevice_ClosedDeviceFails(t *testing.T) {
	ctx := context.Background()
	dev, err := NewFSDevice(ctx, filepath.Join(t.TempDir(), "disk.img"), 4)
	require.NoError(t, err)
	require.NoError(t, dev.Close())

	err = dev.ReadSector(ctx, 0, make([]byte, blockdev.SectorSize))
	assert.ErrorIs(t, err, blockdev.ErrClosed)
}
