// Package arena provides a pluggable byte-block allocator with usage
// statistics, standing in for the source project's InfraxMemory: three
// selectable modes (System, Pool, GC) behind one [Allocator] interface.
//
// Go has no raw pointer arithmetic and a mandatory garbage collector, so
// "allocation" here means producing an owned []byte the caller copies
// key/value bytes into; "free" returns it to the arena's bookkeeping (and,
// in Pool mode, its free list) rather than to the OS. This keeps the
// spec's alloc/realloc/free/stats contract intact while staying
// idiomatic: no unsafe.Pointer, no manual bookkeeping of live pointers.
package arena

import (
	"sync"

	"github.com/calvinalkan/kvcore/internal/errs"
)

// Mode selects the allocation strategy.
type Mode uint8

const (
	// System passes every allocation straight through to Go's allocator.
	System Mode = iota
	// Pool reserves one large backing buffer up front and serves
	// allocations from per-size free lists, falling back to a bump
	// cursor when no free block of the right class is available.
	Pool
	// GC is a stub: semantically identical to System, but records roots
	// for a future mark-sweep pass. See spec.md §9's open question on
	// whether the source's "GC" mode was ever meant to collect.
	GC
)

// Stats reports allocator usage, matching spec.md §4.2 exactly.
type Stats struct {
	TotalAllocations   uint64
	TotalDeallocations uint64
	CurrentUsage       uint64
	PeakUsage          uint64
}

// Allocator is a pluggable byte-block arena.
type Allocator struct {
	mu   sync.Mutex
	mode Mode

	alignment int

	// pool-mode state
	reservation []byte
	cursor      int
	freeList    map[int][][]byte // size class -> free blocks

	// gc-mode state: retained roots, never scanned (stub, see doc comment).
	gcRoots [][]byte

	stats Stats
}

// Config configures a new [Allocator].
type Config struct {
	Mode Mode
	// Alignment is only meaningful in Pool mode. Default 8.
	Alignment int
	// PoolInitialBytes sizes the single reservation backing Pool mode.
	PoolInitialBytes int
}

// New constructs an [Allocator] in the given mode.
func New(cfg Config) *Allocator {
	alignment := cfg.Alignment
	if alignment <= 0 {
		alignment = 8
	}

	a := &Allocator{
		mode:      cfg.Mode,
		alignment: alignment,
	}

	if cfg.Mode == Pool {
		size := cfg.PoolInitialBytes
		if size <= 0 {
			size = 1 << 20 // 1 MiB default reservation
		}

		a.reservation = make([]byte, size)
		a.freeList = make(map[int][][]byte)
	}

	return a
}

func (a *Allocator) align(size int) int {
	rem := size % a.alignment
	if rem == 0 {
		return size
	}

	return size + (a.alignment - rem)
}

// Alloc returns a zeroed, owned []byte of the requested size.
func (a *Allocator) Alloc(size int) ([]byte, error) {
	if size < 0 {
		return nil, errs.New(errs.InvalidArgument, "arena.alloc", nil)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var block []byte

	switch a.mode {
	case System, GC:
		block = make([]byte, size)
	case Pool:
		block = a.allocPoolLocked(size)
	default:
		return nil, errs.New(errs.InvalidArgument, "arena.alloc: unknown mode", nil)
	}

	a.stats.TotalAllocations++
	a.stats.CurrentUsage += uint64(size)
	if a.stats.CurrentUsage > a.stats.PeakUsage {
		a.stats.PeakUsage = a.stats.CurrentUsage
	}

	if a.mode == GC {
		a.gcRoots = append(a.gcRoots, block)
	}

	return block, nil
}

func (a *Allocator) allocPoolLocked(size int) []byte {
	aligned := a.align(size)

	if free := a.freeList[aligned]; len(free) > 0 {
		block := free[len(free)-1]
		a.freeList[aligned] = free[:len(free)-1]
		block = block[:size]
		clear(block)

		return block
	}

	if a.cursor+aligned > len(a.reservation) {
		// Reservation exhausted: grow with a direct allocation rather
		// than refusing the caller. The overflow block gets the full
		// aligned capacity, so on Free it joins the free list of its
		// size class like any reservation block.
		return make([]byte, size, aligned)
	}

	block := a.reservation[a.cursor : a.cursor+size : a.cursor+aligned]
	a.cursor += aligned

	return block
}

// Realloc grows or shrinks ptr to new_size, preserving the overlapping
// prefix. It is equivalent to an alloc-copy-free.
func (a *Allocator) Realloc(ptr []byte, newSize int) ([]byte, error) {
	if newSize < 0 {
		return nil, errs.New(errs.InvalidArgument, "arena.realloc", nil)
	}

	next, err := a.Alloc(newSize)
	if err != nil {
		return nil, err
	}

	copy(next, ptr)

	if ptr != nil {
		a.Free(ptr)
	}

	return next, nil
}

// Free returns ptr to the arena's bookkeeping. In Pool mode the block is
// pushed onto its size class's free list for reuse; in System/GC mode
// only the usage counters are adjusted (Go's GC reclaims the backing
// array once it becomes unreachable).
func (a *Allocator) Free(ptr []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	size := uint64(len(ptr))
	if size <= a.stats.CurrentUsage {
		a.stats.CurrentUsage -= size
	} else {
		a.stats.CurrentUsage = 0
	}

	a.stats.TotalDeallocations++

	if a.mode == Pool && ptr != nil {
		aligned := a.align(cap(ptr))
		a.freeList[aligned] = append(a.freeList[aligned], ptr[:0:cap(ptr)])
	}
}

// SetBytes fills ptr with value, matching spec.md's set_bytes operation
// (the arena-owned analogue of memset).
func (a *Allocator) SetBytes(ptr []byte, value byte) {
	for i := range ptr {
		ptr[i] = value
	}
}

// Stats returns a snapshot of allocator usage counters.
func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.stats
}

// SwitchMode reconfigures the allocator's mode. It refuses to switch
// while any allocation remains outstanding (current_usage != 0), per
// spec.md §4.2: "switching with live pointers is a programmer error and
// the implementation MUST refuse."
func (a *Allocator) SwitchMode(mode Mode) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stats.CurrentUsage != 0 {
		return errs.New(errs.InvalidArgument, "arena.switch_mode: allocations outstanding", nil)
	}

	a.mode = mode

	if mode == Pool && a.reservation == nil {
		a.reservation = make([]byte, 1<<20)
		a.freeList = make(map[int][][]byte)
	}

	if mode != GC {
		a.gcRoots = nil
	}

	return nil
}
