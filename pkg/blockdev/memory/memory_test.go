package memory

import (
	"context"
	"testing"

	"github.com/marmos91/dittocore/pkg/blockdev"
	devtesting "github.com/marmos91/dittocore/pkg/blockdev/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMemoryDevice runs the complete Device test suite
// against the MemoryDevice implementation.
func TestMemoryDevice(t *testing.T) {
	suite := &devtesting.DeviceTestSuite{
		NewDevice: func(t *testing.T, sectors uint32) blockdev.Device {
			dev, err := NewMemoryDevice(context.Background(), sectors)
			require.NoError(t, err)
			return dev
		},
	}

	suite.Run(t)
}

func TestMemoryDevice_CountsWrites(t *testing.T) {
	ctx := context.Background()
	dev, err := NewMemoryDevice(ctx, 4)
	require.NoError(t, err)

	buf := make([]byte, blockdev.SectorSize)
	require.NoError(t, dev.WriteSector(ctx, 1, buf))
	require.NoError(t, dev.WriteSector(ctx, 1, buf))
	require.NoError(t, dev.ReadSector(ctx, 1, buf))

	assert.Equal(t, uint64(2), dev.Writes())
}

func TestNewMemoryDevice_RejectsZeroSize(t *testing.T) {
	_, err := NewMemoryDevice(context.Background(), 0)
	assert.Error(t, err)
}
