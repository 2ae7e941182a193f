package testing

import (
	"context"
	"testing"

	"github.com/marmos91/dittocore/pkg/blockdev"
)

// DeviceTestSuite is a conformance suite for blockdev.Device implementations.
// It tests the interface contract, not implementation details, so the same
// cases run against memory, filesystem, badger, bolt and S3 backends.
//
// Usage:
//
//	func TestMyDevice(t *testing.T) {
//	    suite := &testing.DeviceTestSuite{
//	        NewDevice: func(t *testing.T, sectors uint32) blockdev.Device {
//	            return mydev.New(sectors)
//	        },
//	    }
//	    suite.Run(t)
//	}
type DeviceTestSuite struct {
	// NewDevice creates a fresh device of the given size for each test.
	// The suite closes the device when the test ends.
	NewDevice func(t *testing.T, sectors uint32) blockdev.Device
}

// Run executes all tests in the suite.
func (suite *DeviceTestSuite) Run(t *testing.T) {
	t.Run("ReadWrite", suite.RunReadWriteTests)
	t.Run("Boundaries", suite.RunBoundaryTests)
	t.Run("Concurrency", suite.RunConcurrencyTests)
}

// newDevice creates a device and registers its cleanup.
func (suite *DeviceTestSuite) newDevice(t *testing.T, sectors uint32) blockdev.Device {
	t.Helper()
	dev := suite.NewDevice(t, sectors)
	t.Cleanup(func() { _ = dev.Close() })
	return dev
}

// testContext returns a standard test context.
func testContext() context.Context {
	return context.Background()
}
