package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/dittocore/internal/logger"
	"github.com/marmos91/dittocore/internal/ratelimiter"
	"github.com/marmos91/dittocore/pkg/blockdev"
	"github.com/marmos91/dittocore/pkg/cache"
	"github.com/marmos91/dittocore/pkg/config"
	"github.com/marmos91/dittocore/pkg/filesys"
	"github.com/marmos91/dittocore/pkg/frame"
	"github.com/marmos91/dittocore/pkg/mmu"
	"github.com/marmos91/dittocore/pkg/swap"
	"github.com/marmos91/dittocore/pkg/vmm"
)

// system is every component of a running core, wired from configuration.
type system struct {
	cfg *config.Config

	disk    blockdev.Device
	swapDev blockdev.Device

	volume *filesys.Volume
	swap   *swap.Store
	frames *frame.Cache
	vmm    *vmm.Manager

	metrics *config.MetricsResult
}

// systemStats is served at /stats and printed by the stat command.
type systemStats struct {
	Volume filesys.Stats `json:"volume"`
	Frames frame.Stats   `json:"frames"`
	Swap   swap.Stats    `json:"swap"`
	Spaces int           `json:"address_spaces"`
}

// openSystem builds the devices, the volume and the paging stack. When
// format is set an unformatted disk is formatted instead of rejected.
func openSystem(ctx context.Context, cfg *config.Config, format bool) (*system, error) {
	s := &system{cfg: cfg}

	// The stats closure is bound before the components exist; /stats is
	// only served once openSystem has returned.
	s.metrics = config.InitializeMetrics(cfg, func() any { return s.Stats() })

	ok := false
	defer func() {
		if !ok {
			_ = s.Close(context.WithoutCancel(ctx))
		}
	}()

	// ========================================================================
	// Step 1: Devices
	// ========================================================================

	disk, err := config.CreateBlockDevice(ctx, &cfg.Disk)
	if err != nil {
		return nil, fmt.Errorf("failed to create disk: %w", err)
	}
	s.disk = disk

	swapDev, err := config.CreateBlockDevice(ctx, &cfg.Swap)
	if err != nil {
		return nil, fmt.Errorf("failed to create swap device: %w", err)
	}
	s.swapDev = swapDev

	// ========================================================================
	// Step 2: Volume
	// ========================================================================

	opts := filesys.Options{
		Cache: cache.Options{Slots: cfg.Cache.Slots, Metrics: s.metrics.Cache},
	}
	vol, err := filesys.Open(ctx, disk, opts)
	if errors.Is(err, filesys.ErrNotFormatted) && format {
		logger.Info("Disk is not formatted, formatting %d sectors", disk.SectorCount())
		opts.Format = true
		vol, err = filesys.Open(ctx, disk, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open volume: %w", err)
	}
	s.volume = vol

	if cfg.Cache.FlushInterval > 0 {
		vol.Cache().StartFlusher(ctx, cfg.Cache.FlushInterval,
			ratelimiter.New(cfg.Cache.FlushRate, cfg.Cache.FlushBurst))
	}

	// ========================================================================
	// Step 3: Paging
	// ========================================================================

	s.swap, err = swap.New(swapDev, swap.Options{Metrics: s.metrics.Swap})
	if err != nil {
		return nil, err
	}

	pool, err := mmu.NewFramePool(cfg.Memory.Frames)
	if err != nil {
		return nil, err
	}
	s.frames = frame.New(pool, s.swap, frame.Options{Metrics: s.metrics.Frame})

	s.vmm = vmm.NewManager(s.frames, s.swap, vmm.Options{
		MaxStackSize: cfg.Memory.MaxStackSize,
		Flusher:      vol.Cache(),
		Metrics:      s.metrics.Frame,
	})

	logger.Info("System ready: volume %s, %d frames, %d swap slots",
		vol.ID(), pool.Total(), s.swap.Stats().Slots)

	ok = true
	return s, nil
}

// Stats returns a snapshot of every component.
func (s *system) Stats() systemStats {
	var st systemStats
	if s.volume != nil {
		st.Volume = s.volume.Stats()
	}
	if s.frames != nil {
		st.Frames = s.frames.Stats()
	}
	if s.swap != nil {
		st.Swap = s.swap.Stats()
	}
	if s.vmm != nil {
		st.Spaces = s.vmm.Len()
	}
	return st
}

// Close flushes and closes the volume, then both devices.
func (s *system) Close(ctx context.Context) error {
	var errs []error

	if s.volume != nil {
		errs = append(errs, s.volume.Close(ctx))
	}
	if s.swapDev != nil {
		errs = append(errs, s.swapDev.Close())
	}
	if s.disk != nil {
		errs = append(errs, s.disk.Close())
	}

	return errors.Join(errs...)
}
