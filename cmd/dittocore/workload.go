package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marmos91/dittocore/internal/logger"
	"github.com/marmos91/dittocore/pkg/blockdev"
	"github.com/marmos91/dittocore/pkg/inode"
	"github.com/marmos91/dittocore/pkg/mmu"
	"github.com/marmos91/dittocore/pkg/vmm"
)

// mapBase is where each round maps its data file.
const mapBase mmu.VAddr = 0x10000000

// workload runs synthetic processes against the core: each round loads a
// program image lazily, grows a stack past physical memory, maps a data
// file, checks every byte it wrote and exits.
type workload struct {
	sys      *system
	interval time.Duration
	limit    int
	rounds   int
}

func newWorkload(sys *system, interval time.Duration, limit int) *workload {
	return &workload{sys: sys, interval: interval, limit: limit}
}

// Rounds returns the number of completed rounds.
func (w *workload) Rounds() int {
	return w.rounds
}

// Run executes rounds until ctx is cancelled, the round limit is reached or
// a round fails.
func (w *workload) Run(ctx context.Context) error {
	for w.limit == 0 || w.rounds < w.limit {
		start := time.Now()
		if err := w.round(ctx, w.rounds); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("round %d: %w", w.rounds, err)
		}
		w.rounds++

		st := w.sys.Stats()
		logger.Info("Round %d done in %v: swap %d/%d used, %d outs, cache %d hits %d misses",
			w.rounds, time.Since(start), st.Swap.Used, st.Swap.Slots, st.Swap.SwapOuts,
			st.Volume.Cache.Hits, st.Volume.Cache.Misses)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.interval):
		}
	}
	return nil
}

// stackPages sizes the stack so that it overflows physical memory without
// exhausting swap or the stack limit.
func (w *workload) stackPages() int {
	cfg := w.sys.cfg
	pages := cfg.Memory.Frames + cfg.Memory.Frames/2
	pages = min(pages, w.sys.swap.Stats().Slots/2)
	pages = min(pages, int(cfg.Memory.MaxStackSize/mmu.PageSize)-1)
	return max(pages, 1)
}

func (w *workload) round(ctx context.Context, n int) error {
	vol := w.sys.volume

	// ========================================================================
	// Step 1: Program image and data file
	// ========================================================================

	image := pattern(3*mmu.PageSize+123, byte(n))
	exeSector, exe, err := w.createFile(ctx, image)
	if err != nil {
		return err
	}
	defer w.discard(exeSector, exe)

	data := pattern(2*mmu.PageSize, byte(n+1))
	dataSector, dataFile, err := w.createFile(ctx, data)
	if err != nil {
		return err
	}
	defer w.discard(dataSector, dataFile)

	// ========================================================================
	// Step 2: Process
	// ========================================================================

	as := w.sys.vmm.NewAddressSpace()
	defer func() {
		if err := as.Exit(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("Workload: exit space %d: %v", as.ID(), err)
		}
	}()

	if err := exe.Reopen(); err != nil {
		return err
	}
	if err := as.SetRunningFile(exe); err != nil {
		_ = exe.Close(ctx)
		return err
	}

	segment := 4 * mmu.PageSize
	if err := as.LoadSegment(exe, 0, vmm.UserBase, len(image), segment-len(image), true); err != nil {
		return err
	}

	esp, err := as.SetupStack(ctx)
	if err != nil {
		return err
	}

	// ========================================================================
	// Step 3: Grow the stack past physical memory
	// ========================================================================

	pages := w.stackPages()
	for i := range pages {
		esp -= mmu.PageSize
		if err := as.WriteUser(ctx, esp, pattern(64, byte(n+i)), esp); err != nil {
			return fmt.Errorf("stack page %d: %w", i, err)
		}
	}

	// ========================================================================
	// Step 4: Map the data file and modify it
	// ========================================================================

	if _, err := as.Mmap(dataFile, mapBase); err != nil {
		return err
	}
	stamp := []byte(fmt.Sprintf("round %d", n))
	if err := as.WriteUser(ctx, mapBase+mmu.PageSize, stamp, esp); err != nil {
		return err
	}

	// ========================================================================
	// Step 5: Verify
	// ========================================================================

	got := make([]byte, len(image))
	if err := as.ReadUser(ctx, vmm.UserBase, got, esp); err != nil {
		return err
	}
	if !bytes.Equal(got, image) {
		return fmt.Errorf("program image corrupted")
	}

	buf := make([]byte, 64)
	for i := range pages {
		addr := vmm.PhysBase - mmu.VAddr(i+1)*mmu.PageSize
		if err := as.ReadUser(ctx, addr, buf, esp); err != nil {
			return err
		}
		if !bytes.Equal(buf, pattern(64, byte(n+i))) {
			return fmt.Errorf("stack page %d corrupted", i)
		}
	}

	if err := as.Exit(ctx); err != nil {
		return err
	}

	back := make([]byte, len(stamp))
	if _, err := dataFile.ReadAt(ctx, back, mmu.PageSize); err != nil {
		return err
	}
	if !bytes.Equal(back, stamp) {
		return fmt.Errorf("mapped write not written back to file")
	}

	logger.Debug("Workload: round %d used %d stack pages, volume has %d free sectors",
		n, pages, vol.Stats().FreeSectors)
	return nil
}

// createFile creates and opens a file holding content.
func (w *workload) createFile(ctx context.Context, content []byte) (blockdev.Sector, *inode.Handle, error) {
	vol := w.sys.volume

	sector, err := vol.Create(ctx, 0, true)
	if err != nil {
		return 0, nil, err
	}

	h, err := vol.OpenFile(ctx, sector)
	if err != nil {
		_ = vol.Remove(ctx, sector)
		return 0, nil, err
	}

	if _, err := h.WriteAt(ctx, content, 0); err != nil {
		w.discard(sector, h)
		return 0, nil, err
	}
	return sector, h, nil
}

// discard removes a workload file; its sectors return to the free map on
// the last close.
func (w *workload) discard(sector blockdev.Sector, h *inode.Handle) {
	ctx := context.Background()
	h.Remove()
	if err := h.Close(ctx); err != nil {
		logger.Warn("Workload: close file %d: %v", sector, err)
	}
}

func pattern(n int, seed byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = seed ^ byte(i*7)
	}
	return out
}
