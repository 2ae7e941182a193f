package cache

import "github.com/marmos91/dittocore/pkg/blockdev"

// SlotState is the occupancy state of one cache slot.
//
// Recency is tracked separately in slot.referenced, so a slot can never be
// "free but dirty".
type SlotState uint8

const (
	// SlotFree holds no sector.
	SlotFree SlotState = iota
	// SlotClean holds a sector identical to the device copy.
	SlotClean
	// SlotDirty holds a sector newer than the device copy.
	SlotDirty
)

func (s SlotState) String() string {
	switch s {
	case SlotFree:
		return "free"
	case SlotClean:
		return "clean"
	case SlotDirty:
		return "dirty"
	default:
		return "unknown"
	}
}

type slot struct {
	sector     blockdev.Sector
	state      SlotState
	referenced bool
	data       [blockdev.SectorSize]byte
}

// SlotInfo is a snapshot of one slot.
type SlotInfo struct {
	Index      int
	Sector     blockdev.Sector
	State      SlotState
	Referenced bool
}
