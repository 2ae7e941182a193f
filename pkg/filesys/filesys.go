// Package filesys ties a block device, the sector cache, the free map and
// the indexed file store into a volume.
//
// Layout: sector 0 holds the index record of the free-map file, sector 1
// the volume header. Every other sector is handed out by the free map.
package filesys

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/dittocore/internal/logger"
	"github.com/marmos91/dittocore/pkg/blockdev"
	"github.com/marmos91/dittocore/pkg/cache"
	"github.com/marmos91/dittocore/pkg/freemap"
	"github.com/marmos91/dittocore/pkg/inode"
)

const (
	// FreeMapSector holds the free-map file's index record.
	FreeMapSector blockdev.Sector = 0

	// HeaderSector holds the volume header.
	HeaderSector blockdev.Sector = 1
)

// Options configures Open.
type Options struct {
	// Format wipes the volume before opening it.
	Format bool

	// Cache configures the sector cache built over the device.
	Cache cache.Options
}

// Stats describes an open volume.
type Stats struct {
	VolumeID    string      `json:"volume_id"`
	CreatedAt   time.Time   `json:"created_at"`
	Sectors     uint32      `json:"sectors"`
	FreeSectors uint32      `json:"free_sectors"`
	OpenFiles   int         `json:"open_files"`
	Cache       cache.Stats `json:"cache"`
}

// Volume is an open file system.
type Volume struct {
	dev     blockdev.Device
	cache   *cache.Cache
	freeMap *freemap.FreeMap
	store   *inode.Store
	header  header

	mu          sync.Mutex
	freeMapFile *inode.Handle
	closed      bool
}

// Format writes an empty volume through c: a fresh free map with the two
// fixed sectors reserved, the free-map file sized for it, and a new header.
func Format(ctx context.Context, dev blockdev.Device, c *cache.Cache) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sectors := dev.SectorCount()
	fm, err := freemap.Format(sectors, FreeMapSector, HeaderSector)
	if err != nil {
		return err
	}

	// Header, free-map record and at least one sector of bitmap.
	need := 2 + uint32((fm.ByteLen()+blockdev.SectorSize-1)/blockdev.SectorSize)
	if sectors <= need {
		return fmt.Errorf("%d sectors, need more than %d: %w", sectors, need, ErrDeviceTooSmall)
	}

	logger.Info("Formatting volume: %d sectors (%d bytes)", sectors, int64(sectors)*blockdev.SectorSize)

	// Step 1: free-map file, allocated from the in-memory map
	store := inode.NewStore(c, fm)
	if err := store.Create(ctx, FreeMapSector, fm.ByteLen(), true); err != nil {
		return fmt.Errorf("create free-map file: %w", err)
	}

	// Step 2: write the map into its file
	h, err := store.Open(ctx, FreeMapSector)
	if err != nil {
		return fmt.Errorf("open free-map file: %w", err)
	}
	if err := fm.Attach(ctx, h); err != nil {
		_ = h.Close(ctx)
		return fmt.Errorf("write free map: %w", err)
	}
	if err := h.Close(ctx); err != nil {
		return err
	}

	// Step 3: header
	hdr := newHeader(sectors)
	buf, err := hdr.encode()
	if err != nil {
		return err
	}
	if err := c.Write(ctx, HeaderSector, buf, 0); err != nil {
		return fmt.Errorf("write volume header: %w", err)
	}

	if err := c.FlushAll(ctx); err != nil {
		return fmt.Errorf("flush formatted volume: %w", err)
	}

	logger.Info("Volume %s formatted, %d sectors free", hdr.id(), fm.Free())
	return nil
}

// Open builds the sector cache over dev, formats the volume if asked to,
// validates the header and loads the free map.
func Open(ctx context.Context, dev blockdev.Device, opts Options) (*Volume, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c, err := cache.New(dev, opts.Cache)
	if err != nil {
		return nil, err
	}

	v, err := open(ctx, dev, c, opts.Format)
	if err != nil {
		_ = c.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	return v, nil
}

func open(ctx context.Context, dev blockdev.Device, c *cache.Cache, format bool) (*Volume, error) {
	if format {
		if err := Format(ctx, dev, c); err != nil {
			return nil, err
		}
	}

	hdr, err := readHeader(ctx, c)
	if err != nil {
		return nil, err
	}
	if hdr.Sectors != dev.SectorCount() {
		return nil, fmt.Errorf("header describes %d sectors, device has %d: %w",
			hdr.Sectors, dev.SectorCount(), ErrNotFormatted)
	}

	fm := freemap.New(hdr.Sectors)
	store := inode.NewStore(c, fm)

	h, err := store.Open(ctx, FreeMapSector)
	if err != nil {
		return nil, fmt.Errorf("open free-map file: %w", err)
	}
	if err := fm.Load(ctx, h); err != nil {
		_ = h.Close(ctx)
		return nil, err
	}

	logger.Info("Volume %s opened: %d sectors, %d free", hdr.id(), hdr.Sectors, fm.Free())

	return &Volume{
		dev:         dev,
		cache:       c,
		freeMap:     fm,
		store:       store,
		header:      hdr,
		freeMapFile: h,
	}, nil
}

// Cache returns the volume's sector cache.
func (v *Volume) Cache() *cache.Cache {
	return v.cache
}

// Store returns the volume's open-file table.
func (v *Volume) Store() *inode.Store {
	return v.store
}

// ID returns the volume identifier written at format time.
func (v *Volume) ID() string {
	return v.header.id().String()
}

// Create allocates a record sector and creates a file of length zeroed bytes
// there. The sector is returned to the free map if creation fails.
func (v *Volume) Create(ctx context.Context, length int64, isFile bool) (blockdev.Sector, error) {
	if err := v.checkOpen(); err != nil {
		return 0, err
	}

	sector, err := v.freeMap.Allocate(ctx, 1)
	if err != nil {
		return 0, fmt.Errorf("allocate record: %w", err)
	}

	if err := v.store.Create(ctx, sector, length, isFile); err != nil {
		if rerr := v.freeMap.Release(context.WithoutCancel(ctx), sector, 1); rerr != nil {
			logger.Warn("Volume: release record sector %d: %v", sector, rerr)
		}
		return 0, err
	}
	return sector, nil
}

// OpenFile opens the file whose record is at sector.
func (v *Volume) OpenFile(ctx context.Context, sector blockdev.Sector) (*inode.Handle, error) {
	if err := v.checkOpen(); err != nil {
		return nil, err
	}
	if sector == FreeMapSector || sector == HeaderSector {
		return nil, fmt.Errorf("sector %d is reserved: %w", sector, inode.ErrOutOfRange)
	}
	return v.store.Open(ctx, sector)
}

// Remove deletes the file at sector. Its sectors are released once the last
// opener closes it.
func (v *Volume) Remove(ctx context.Context, sector blockdev.Sector) error {
	h, err := v.OpenFile(ctx, sector)
	if err != nil {
		return err
	}
	h.Remove()
	return h.Close(ctx)
}

// Stats returns a snapshot of volume usage.
func (v *Volume) Stats() Stats {
	return Stats{
		VolumeID:    v.ID(),
		CreatedAt:   time.Unix(v.header.CreatedAt, 0).UTC(),
		Sectors:     v.header.Sectors,
		FreeSectors: v.freeMap.Free(),
		OpenFiles:   v.store.OpenCount(),
		Cache:       v.cache.Stats(),
	}
}

// Close persists the free map, closes the free-map file and flushes and
// closes the cache. The device stays open.
func (v *Volume) Close(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return nil
	}
	v.closed = true

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	keep(v.freeMap.Persist(ctx))
	keep(v.freeMapFile.Close(ctx))
	keep(v.cache.Close(ctx))

	if firstErr != nil {
		logger.Error("Volume %s closed with error: %v", v.ID(), firstErr)
		return firstErr
	}

	logger.Info("Volume %s closed", v.ID())
	return nil
}

func (v *Volume) checkOpen() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrClosed
	}
	return nil
}
