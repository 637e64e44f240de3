// Package frame implements the external physical-frame layer contract
// that the virtual-memory core consumes: allocate and free fixed-size,
// aligned physical frames. Placement policy (NUMA, coloring, large pages)
// is deliberately out of scope; this is a reference free-list allocator
// good enough to back real address spaces and the test suite.
package frame

import (
	"sync"
)

// Size is the architecture frame size in bytes. 4 KiB fits every target
// this core supports except PowerPC/MIPS large TLB pages, which are
// handled above this layer by mapping multiple frames.
const Size = 4096

// Shift is the base-2 exponent of Size.
const Shift = 12

// PhysAddr is a physical address, always frame-aligned when it names a
// frame rather than an offset within one.
type PhysAddr uintptr

// None is the sentinel physical address meaning "no frame". Frame 0 is
// a legal physical address on every supported architecture, so allocation
// failure is reported through the bool return instead of overloading it.
const None PhysAddr = 0

// AllocFlags requests properties of the returned frame.
type AllocFlags uint

const (
	// KernelAccessible requests that the returned frame be reachable
	// through the kernel's linear map without an extra mapping step.
	KernelAccessible AllocFlags = 1 << iota
	// Zero requests the frame be zero-filled before it is returned.
	Zero
)

// Allocator is the frame layer's contract: allocate an aligned
// physical region of Size<<order bytes, and return it later.
type Allocator interface {
	Alloc(order uint, flags AllocFlags) (PhysAddr, bool)
	Free(PhysAddr)
}

// node tracks one frame's state. order is only meaningful on the first
// frame of an allocated run: it records how many frames (1<<order) Free
// must release alongside it.
type node struct {
	used  bool
	order uint
}

// FreeList is a reference Allocator backed by a contiguous physical
// region: frame state lives in a flat descriptor array rather than a
// bitmap. It hands out contiguous multi-frame runs (order > 0), which
// the page-table layer needs for architectures whose table levels
// don't fit in one frame (ARMv7's 4096-entry root). Allocation is a
// linear scan for a free run of the requested length; that is the
// price of supporting order > 0 without a real buddy allocator,
// acceptable in a reference/test implementation.
type FreeList struct {
	mu    sync.Mutex
	base  PhysAddr
	nodes []node
}

// NewFreeList carves `count` frames out of the region starting at base.
// base must be frame-aligned and nonzero (frame 0 is reserved so that
// PhysAddr(0) can double as the FreeList's own "none" sentinel).
func NewFreeList(base PhysAddr, count int) *FreeList {
	if base == 0 {
		panic("frame.NewFreeList: base must not be 0")
	}
	if uintptr(base)%Size != 0 {
		panic("frame.NewFreeList: base not frame-aligned")
	}
	return &FreeList{
		base:  base,
		nodes: make([]node, count),
	}
}

func (fl *FreeList) idx(p PhysAddr) int {
	return int((p - fl.base) / Size)
}

// Alloc returns 1<<order contiguous frames' worth of physical memory.
func (fl *FreeList) Alloc(order uint, flags AllocFlags) (PhysAddr, bool) {
	n := 1 << order
	fl.mu.Lock()
	defer fl.mu.Unlock()

	run := 0
	for i := 0; i < len(fl.nodes); i++ {
		if fl.nodes[i].used {
			run = 0
			continue
		}
		run++
		if run < n {
			continue
		}
		start := i - n + 1
		for j := start; j <= i; j++ {
			fl.nodes[j].used = true
		}
		fl.nodes[start].order = order
		p := fl.base + PhysAddr(start*Size)
		if flags&Zero != 0 {
			zeroFrames(p, n)
		}
		return p, true
	}
	return None, false
}

// Free returns a frame (and, if it headed a multi-frame run, every
// frame allocated alongside it) to the pool. Freeing an address not
// owned by this list, or a frame that is not currently allocated, is a
// resource-accounting violation and panics. Freeing a frame from the
// middle of a multi-frame run is not detected: it releases that one
// frame only.
func (fl *FreeList) Free(p PhysAddr) {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	i := fl.idx(p)
	if p < fl.base || i >= len(fl.nodes) {
		panic("frame.FreeList.Free: address not owned by this list")
	}
	if !fl.nodes[i].used {
		panic("frame.FreeList.Free: double free")
	}
	n := 1 << fl.nodes[i].order
	for j := i; j < i+n; j++ {
		fl.nodes[j].used = false
		fl.nodes[j].order = 0
	}
}

// Avail reports the number of free frames, used by tests to assert that
// allocate/free sequences leave no frames leaked.
func (fl *FreeList) Avail() int {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	n := 0
	for _, nd := range fl.nodes {
		if !nd.used {
			n++
		}
	}
	return n
}

// backing memory the reference allocator hands out through Dmap; real
// kernels map physical frames through a linear/direct map instead of
// keeping Go-heap backing, but since nucleus never runs on bare metal
// this stands in for "kernel-accessible" memory. Keyed by the base
// address of the allocation (single frame or a multi-frame table run),
// so a run's bytes stay contiguous in Go's address space the same way
// they would be in physical memory.
var backing sync.Map // PhysAddr -> []byte

func zeroFrames(p PhysAddr, nframes int) {
	buf := backingRun(p, nframes)
	for i := range buf {
		buf[i] = 0
	}
}

func backingRun(p PhysAddr, nframes int) []byte {
	if v, ok := backing.Load(p); ok {
		if buf := v.([]byte); len(buf) >= Size*nframes {
			return buf
		}
		// p last backed a smaller allocation; give the larger run its
		// own buffer so the view covers all nframes frames.
		buf := make([]byte, Size*nframes)
		backing.Store(p, buf)
		return buf
	}
	buf := make([]byte, Size*nframes)
	actual, _ := backing.LoadOrStore(p, buf)
	return actual.([]byte)
}

// Dmap returns a byte-addressable view of the single frame at p,
// standing in for the direct/linear map every supported architecture
// provides the kernel (the KernelAccessible contract).
func Dmap(p PhysAddr) *[Size]byte {
	buf := backingRun(p, 1)
	return (*[Size]byte)(buf)
}

// TableFrames reports how many contiguous frames are needed to hold a
// page-table level of the given entry count (8 bytes per PTE), and the
// order to request that many frames from an Allocator. Most targets'
// levels fit in a single frame (AMD64's 512 entries, ARMv7's 256-entry
// leaf); ARMv7's 4096-entry root needs 8.
func TableFrames(entries int) (frames int, order uint) {
	need := entries * 8
	frames = (need + Size - 1) / Size
	if frames < 1 {
		frames = 1
	}
	for 1<<order < frames {
		order++
	}
	return frames, order
}

// DmapTable returns a byte-addressable view of a multi-frame table
// allocation starting at p, the table-level analogue of Dmap. p must be
// the base address an Allocator returned for an nframes-frame request
// (e.g. via TableFrames).
func DmapTable(p PhysAddr, nframes int) []byte {
	return backingRun(p, nframes)
}
