// Package bitmap is a fixed-size allocation bitmap shared by the free map and
// the swap store.
package bitmap

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"
)

// Bitmap tracks used (set) and free (clear) units. It is not safe for
// concurrent use; owners serialize access.
type Bitmap struct {
	bits *bitset.BitSet
	size uint
}

// New returns a bitmap of size clear bits.
func New(size uint) *Bitmap {
	return &Bitmap{bits: bitset.New(size), size: size}
}

// Size returns the number of bits.
func (b *Bitmap) Size() uint {
	return b.size
}

// Test reports whether bit i is set.
func (b *Bitmap) Test(i uint) bool {
	return i < b.size && b.bits.Test(i)
}

// Count returns the number of set bits.
func (b *Bitmap) Count() uint {
	return b.bits.Count()
}

// All reports whether every bit in [start, start+count) equals value.
func (b *Bitmap) All(start, count uint, value bool) bool {
	if start+count > b.size {
		return false
	}
	for i := start; i < start+count; i++ {
		if b.bits.Test(i) != value {
			return false
		}
	}
	return true
}

// SetMultiple sets [start, start+count) to value.
func (b *Bitmap) SetMultiple(start, count uint, value bool) {
	for i := start; i < start+count && i < b.size; i++ {
		b.bits.SetTo(i, value)
	}
}

// Scan returns the first index of a run of count clear bits.
func (b *Bitmap) Scan(count uint) (uint, bool) {
	if count == 0 || count > b.size {
		return 0, false
	}

	start, ok := b.bits.NextClear(0)
	for ok && start+count <= b.size {
		run := uint(1)
		for run < count && !b.bits.Test(start+run) {
			run++
		}
		if run == count {
			return start, true
		}
		start, ok = b.bits.NextClear(start + run)
	}
	return 0, false
}

// ScanAndFlip finds the first run of count clear bits, sets them and returns
// the first index.
func (b *Bitmap) ScanAndFlip(count uint) (uint, bool) {
	start, ok := b.Scan(count)
	if !ok {
		return 0, false
	}
	b.SetMultiple(start, count, true)
	return start, true
}

// Bytes packs the bitmap LSB-first: bit i lives in byte i/8, bit i%8.
func (b *Bitmap) Bytes() []byte {
	out := make([]byte, ByteLen(b.size))
	for i, ok := b.bits.NextSet(0); ok && i < b.size; i, ok = b.bits.NextSet(i + 1) {
		out[i/8] |= 1 << (i % 8)
	}
	return out
}

// Load replaces the bitmap contents with data produced by Bytes.
func (b *Bitmap) Load(data []byte) error {
	if uint(len(data)) < ByteLen(b.size) {
		return fmt.Errorf("bitmap: need %d bytes, got %d", ByteLen(b.size), len(data))
	}

	b.bits.ClearAll()
	for i := uint(0); i < b.size; i++ {
		if data[i/8]&(1<<(i%8)) != 0 {
			b.bits.Set(i)
		}
	}
	return nil
}

// ByteLen is the serialized size of a bitmap of size bits.
func ByteLen(size uint) uint {
	return (size + 7) / 8
}
