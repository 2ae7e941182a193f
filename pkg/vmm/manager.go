// Package vmm resolves page faults and manages process address spaces on
// top of the page table, the frame cache and the swap store.
package vmm

import (
	"context"
	"sync"

	"github.com/marmos91/dittocore/internal/logger"
	"github.com/marmos91/dittocore/pkg/frame"
	"github.com/marmos91/dittocore/pkg/metrics"
	"github.com/marmos91/dittocore/pkg/mmu"
	"github.com/marmos91/dittocore/pkg/swap"
	"github.com/marmos91/dittocore/pkg/vm"
)

const (
	// PhysBase is the first address above user space.
	PhysBase mmu.VAddr = 0xc0000000

	// UserBase is the lowest valid user address.
	UserBase mmu.VAddr = 0x08048000

	// MaxStackSize bounds stack growth below PhysBase.
	MaxStackSize = 8 << 20

	// stackSlack is how far below the stack pointer an access still counts
	// as stack growth (PUSHA writes 32 bytes below esp).
	stackSlack = 32
)

// MappableFile is a file that can back a memory mapping. The mapping keeps
// its own reference, taken with Reopen and dropped with Close.
type MappableFile interface {
	vm.File
	Reopen() error
	Close(ctx context.Context) error
}

// Executable is the running program's file. Writes to it are denied while
// the process lives.
type Executable interface {
	vm.File
	DenyWrite() error
	AllowWrite() error
	Close(ctx context.Context) error
}

// Flusher writes cached file-system state to disk.
type Flusher interface {
	FlushAll(ctx context.Context) error
}

// Options configures a Manager.
type Options struct {
	// MaxStackSize overrides the stack growth bound. Zero means MaxStackSize.
	MaxStackSize uint32

	// Flusher is flushed when a process exits. Optional.
	Flusher Flusher

	Metrics metrics.FrameMetrics
}

// Manager owns the system-wide paging state shared by all address spaces.
type Manager struct {
	frames  *frame.Cache
	swap    *swap.Store
	flusher Flusher
	metrics metrics.FrameMetrics

	maxStack uint32

	mu     sync.Mutex
	nextID int
	spaces map[int]*AddressSpace
}

// NewManager returns a manager over a frame cache and the swap store it
// evicts to.
func NewManager(frames *frame.Cache, sw *swap.Store, opts Options) *Manager {
	m := opts.Metrics
	if m == nil {
		m = metrics.NewNoopFrameMetrics()
	}

	maxStack := opts.MaxStackSize
	if maxStack == 0 {
		maxStack = MaxStackSize
	}

	return &Manager{
		frames:   frames,
		swap:     sw,
		flusher:  opts.Flusher,
		metrics:  m,
		maxStack: maxStack,
		spaces:   make(map[int]*AddressSpace),
	}
}

// Frames returns the frame cache.
func (m *Manager) Frames() *frame.Cache {
	return m.frames
}

// Swap returns the swap store.
func (m *Manager) Swap() *swap.Store {
	return m.swap
}

// NewAddressSpace creates an empty address space and registers it with the
// frame cache.
func (m *Manager) NewAddressSpace() *AddressSpace {
	m.mu.Lock()
	m.nextID++
	as := &AddressSpace{
		m:     m,
		id:    m.nextID,
		table: vm.NewTable(),
		dir:   mmu.NewPageDirectory(),
		maps:  make(map[MapID]*mapping),
	}
	m.spaces[as.id] = as
	m.mu.Unlock()

	m.frames.Register(as)
	logger.Debug("VMM: address space %d created", as.id)
	return as
}

// Len returns the number of live address spaces.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.spaces)
}

func (m *Manager) forget(id int) {
	m.frames.Unregister(id)

	m.mu.Lock()
	delete(m.spaces, id)
	m.mu.Unlock()
}

// stackLimit is the lowest page the stack may grow into.
func (m *Manager) stackLimit() mmu.VAddr {
	return PhysBase - mmu.VAddr(m.maxStack)
}
