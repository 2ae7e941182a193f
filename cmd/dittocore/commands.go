package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/marmos91/dittocore/internal/logger"
	"github.com/marmos91/dittocore/pkg/config"
	"github.com/marmos91/dittocore/pkg/filesys"
)

func runFormat(args []string) error {
	fs := flag.NewFlagSet("format", flag.ExitOnError)
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}

	ctx := context.Background()
	disk, err := config.CreateBlockDevice(ctx, &cfg.Disk)
	if err != nil {
		return fmt.Errorf("failed to create disk: %w", err)
	}
	defer func() { _ = disk.Close() }()

	vol, err := filesys.Open(ctx, disk, filesys.Options{Format: true})
	if err != nil {
		return err
	}

	st := vol.Stats()
	if err := vol.Close(ctx); err != nil {
		return err
	}

	fmt.Printf("Formatted %s volume %s: %d sectors, %d free\n",
		cfg.Disk.Type, st.VolumeID, st.Sectors, st.FreeSectors)
	return nil
}

func runStat(args []string) error {
	fs := flag.NewFlagSet("stat", flag.ExitOnError)
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}

	ctx := context.Background()
	sys, err := openSystem(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer func() { _ = sys.Close(ctx) }()

	printStats(sys.Stats())
	return nil
}

func printStats(st systemStats) {
	title := color.New(color.FgCyan, color.Bold).SprintFunc()
	key := color.New(color.FgWhite).SprintFunc()
	value := color.New(color.FgGreen).SprintFunc()

	row := func(k string, v any) {
		fmt.Printf("  %-18s %v\n", key(k), value(v))
	}

	fmt.Println(title("Volume"))
	row("id", st.Volume.VolumeID)
	row("created", st.Volume.CreatedAt.Format(time.RFC3339))
	row("sectors", st.Volume.Sectors)
	row("free sectors", st.Volume.FreeSectors)
	row("open files", st.Volume.OpenFiles)

	c := st.Volume.Cache
	fmt.Println(title("Sector cache"))
	row("resident", fmt.Sprintf("%d/%d", c.Resident, c.Capacity))
	row("dirty", c.Dirty)
	row("hits/misses", fmt.Sprintf("%d/%d", c.Hits, c.Misses))
	row("evictions", c.Evictions)
	row("writebacks", c.Writebacks)

	fmt.Println(title("Frames"))
	row("resident", fmt.Sprintf("%d/%d", st.Frames.Resident, st.Frames.Frames))
	row("pinned", st.Frames.Pinned)
	row("evictions", st.Frames.Evictions)

	fmt.Println(title("Swap"))
	used := value(fmt.Sprintf("%d/%d", st.Swap.Used, st.Swap.Slots))
	if st.Swap.Slots > 0 && st.Swap.Used*10 >= st.Swap.Slots*9 {
		used = color.RedString("%d/%d", st.Swap.Used, st.Swap.Slots)
	}
	fmt.Printf("  %-18s %s\n", key("slots used"), used)
	row("swap outs/ins", fmt.Sprintf("%d/%d", st.Swap.SwapOuts, st.Swap.SwapIns))
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	interval := fs.Duration("interval", time.Second, "Delay between workload rounds (0 runs back to back)")
	rounds := fs.Int("rounds", 0, "Stop after this many rounds (0 = until interrupted)")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Println("dittocore - storage and virtual memory core")

	sys, err := openSystem(ctx, cfg, true)
	if err != nil {
		return err
	}

	if sys.metrics.Server != nil {
		go func() {
			if err := sys.metrics.Server.Start(ctx); err != nil {
				logger.Error("Metrics server error: %v", err)
			}
		}()
	}

	wl := newWorkload(sys, *interval, *rounds)
	done := make(chan error, 1)
	go func() {
		done <- wl.Run(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Workload is running. Press Ctrl+C to stop.")

	var runErr error
	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, stopping workload...")
		cancel()
		runErr = <-done
	case runErr = <-done:
		cancel()
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer stop()

	if sys.metrics.Server != nil {
		_ = sys.metrics.Server.Stop(shutdownCtx)
	}

	printStats(sys.Stats())

	if err := sys.Close(shutdownCtx); err != nil {
		logger.Error("Shutdown error: %v", err)
		if runErr == nil {
			runErr = err
		}
	}

	if runErr != nil {
		return runErr
	}
	logger.Info("Stopped after %d rounds", wl.Rounds())
	return nil
}
