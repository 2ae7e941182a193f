package testing

import (
	"bytes"
	"errors"
	"testing"

	"github.com/marmos91/dittocore/pkg/blockdev"
	"github.com/stretchr/testify/require"
)

// Pattern returns a sector-sized buffer filled with a recognisable pattern
// derived from seed.
func Pattern(seed byte) []byte {
	return bytes.Repeat([]byte{seed, seed ^ 0xff, seed + 1, 0x5a}, blockdev.SectorSize/4)
}

// mustWrite writes a sector and fails the test if it errors.
func mustWrite(t *testing.T, dev blockdev.Device, sector blockdev.Sector, data []byte) {
	t.Helper()
	require.NoError(t, dev.WriteSector(testContext(), sector, data), "WriteSector should succeed")
}

// mustRead reads a sector and fails the test if it errors.
func mustRead(t *testing.T, dev blockdev.Device, sector blockdev.Sector) []byte {
	t.Helper()
	buf := make([]byte, blockdev.SectorSize)
	require.NoError(t, dev.ReadSector(testContext(), sector, buf), "ReadSector should succeed")
	return buf
}

// AssertErrorIs checks if the error matches the expected error using errors.Is.
func AssertErrorIs(t *testing.T, expected error, actual error) {
	t.Helper()
	if !errors.Is(actual, expected) {
		t.Errorf("Expected error %v, got %v", expected, actual)
	}
}
