package inode

import (
	"bytes"
	"context"
	"fmt"

	xdr "github.com/rasky/go-xdr/xdr2"

	"github.com/marmos91/dittocore/pkg/blockdev"
)

const (
	// DirectCount is the number of direct data pointers in an index record.
	DirectCount = 123

	// PointersPerBlock is the number of pointers held by one indirect block.
	PointersPerBlock = 128

	// Magic identifies an index record ("INOD").
	Magic = 0x494e4f44

	// MaxSectors is the number of data sectors one record can address.
	MaxSectors = DirectCount + PointersPerBlock + PointersPerBlock*PointersPerBlock

	// MaxLength is the largest representable file length in bytes.
	MaxLength = int64(MaxSectors) * blockdev.SectorSize
)

// record is the on-disk index record. Its XDR encoding is exactly one sector:
// 4 + 4 + 123*4 + 4 + 4 + 4 = 512 bytes. A zero pointer means unallocated.
type record struct {
	Length         int32
	Magic          uint32
	Direct         [DirectCount]uint32
	Indirect       uint32
	DoubleIndirect uint32
	IsFile         uint32
}

// indirectBlock is one sector of pointers.
type indirectBlock struct {
	Table [PointersPerBlock]uint32
}

func newRecord(isFile bool) record {
	r := record{Magic: Magic}
	if isFile {
		r.IsFile = 1
	}
	return r
}

func (r *record) length() int64 {
	return int64(r.Length)
}

func encodeSector(v any) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(blockdev.SectorSize)

	if _, err := xdr.Marshal(&buf, v); err != nil {
		return nil, fmt.Errorf("xdr encode: %w", err)
	}
	if buf.Len() != blockdev.SectorSize {
		return nil, fmt.Errorf("encoded %d bytes, want %d", buf.Len(), blockdev.SectorSize)
	}
	return buf.Bytes(), nil
}

func decodeRecord(data []byte) (record, error) {
	var r record
	if _, err := xdr.Unmarshal(bytes.NewReader(data), &r); err != nil {
		return record{}, fmt.Errorf("decode record: %v: %w", err, ErrCorrupt)
	}
	if r.Magic != Magic {
		return record{}, fmt.Errorf("bad magic %#x: %w", r.Magic, ErrCorrupt)
	}
	if r.Length < 0 || int64(r.Length) > MaxLength {
		return record{}, fmt.Errorf("bad length %d: %w", r.Length, ErrCorrupt)
	}
	return r, nil
}

// ============================================================================
// Sector I/O through the cache
// ============================================================================

func (s *Store) loadRecord(ctx context.Context, sector blockdev.Sector) (record, error) {
	buf := make([]byte, blockdev.SectorSize)
	if err := s.cache.Read(ctx, sector, buf, 0); err != nil {
		return record{}, fmt.Errorf("read record %d: %w", sector, err)
	}

	r, err := decodeRecord(buf)
	if err != nil {
		return record{}, fmt.Errorf("record %d: %w", sector, err)
	}
	return r, nil
}

func (s *Store) storeRecord(ctx context.Context, sector blockdev.Sector, r *record) error {
	buf, err := encodeSector(r)
	if err != nil {
		return fmt.Errorf("encode record %d: %w", sector, err)
	}
	if err := s.cache.Write(ctx, sector, buf, 0); err != nil {
		return fmt.Errorf("write record %d: %w", sector, err)
	}
	return nil
}

func (s *Store) loadBlock(ctx context.Context, sector blockdev.Sector) (*indirectBlock, error) {
	if sector == 0 {
		return nil, fmt.Errorf("unallocated index block: %w", ErrCorrupt)
	}

	buf := make([]byte, blockdev.SectorSize)
	if err := s.cache.Read(ctx, sector, buf, 0); err != nil {
		return nil, fmt.Errorf("read index block %d: %w", sector, err)
	}

	var b indirectBlock
	if _, err := xdr.Unmarshal(bytes.NewReader(buf), &b); err != nil {
		return nil, fmt.Errorf("decode index block %d: %v: %w", sector, err, ErrCorrupt)
	}
	return &b, nil
}

func (s *Store) storeBlock(ctx context.Context, sector blockdev.Sector, b *indirectBlock) error {
	buf, err := encodeSector(b)
	if err != nil {
		return fmt.Errorf("encode index block %d: %w", sector, err)
	}
	if err := s.cache.Write(ctx, sector, buf, 0); err != nil {
		return fmt.Errorf("write index block %d: %w", sector, err)
	}
	return nil
}

// setEntry rewrites one pointer of an index block.
func (s *Store) setEntry(ctx context.Context, block blockdev.Sector, i int, value blockdev.Sector) error {
	b, err := s.loadBlock(ctx, block)
	if err != nil {
		return err
	}
	b.Table[i] = value
	return s.storeBlock(ctx, block, b)
}
