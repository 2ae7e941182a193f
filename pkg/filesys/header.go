package filesys

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	xdr "github.com/rasky/go-xdr/xdr2"

	"github.com/marmos91/dittocore/pkg/blockdev"
)

const (
	headerMagic   = 0x44495454 // "DITT"
	headerVersion = 1
)

// header is the volume header stored at HeaderSector.
type header struct {
	Magic     uint32
	Version   uint32
	VolumeID  [16]byte
	Sectors   uint32
	CreatedAt int64
}

func newHeader(sectors uint32) header {
	return header{
		Magic:     headerMagic,
		Version:   headerVersion,
		VolumeID:  uuid.New(),
		Sectors:   sectors,
		CreatedAt: time.Now().Unix(),
	}
}

func (h *header) id() uuid.UUID {
	return uuid.UUID(h.VolumeID)
}

func (h *header) encode() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, h); err != nil {
		return nil, fmt.Errorf("encode volume header: %w", err)
	}

	sector := make([]byte, blockdev.SectorSize)
	copy(sector, buf.Bytes())
	return sector, nil
}

func decodeHeader(data []byte) (header, error) {
	var h header
	if _, err := xdr.Unmarshal(bytes.NewReader(data), &h); err != nil {
		return header{}, fmt.Errorf("decode volume header: %v: %w", err, ErrNotFormatted)
	}
	if h.Magic != headerMagic {
		return header{}, fmt.Errorf("bad header magic %#x: %w", h.Magic, ErrNotFormatted)
	}
	if h.Version != headerVersion {
		return header{}, fmt.Errorf("unsupported volume version %d: %w", h.Version, ErrNotFormatted)
	}
	return h, nil
}

type sectorReader interface {
	Read(ctx context.Context, sector blockdev.Sector, dst []byte, offset int) error
}

func readHeader(ctx context.Context, c sectorReader) (header, error) {
	buf := make([]byte, blockdev.SectorSize)
	if err := c.Read(ctx, HeaderSector, buf, 0); err != nil {
		return header{}, fmt.Errorf("read volume header: %w", err)
	}
	return decodeHeader(buf)
}
