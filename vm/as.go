package vm

import (
	"sync"

	"nucleus/asid"
	"nucleus/frame"
)

// AccessKind is the kind of access that faulted.
type AccessKind int

const (
	Read AccessKind = iota
	Write
	Execute
)

// TrapFrame is the architecture-specific register frame captured at a
// page fault. The core only reads it through these accessors.
type TrapFrame interface {
	PC() uintptr
	StackPointer() uintptr
	FaultAddr() uintptr
	AccessKind() AccessKind
	Privileged() bool
}

// Outcome is the result of dispatching a page fault.
type Outcome int

const (
	// OK means a new mapping was installed and execution may resume.
	OK Outcome = iota
	// Defer means the fault occurred inside a user-copy trampoline;
	// the caller must abort the copy rather than touch hardware state.
	Defer
	// Fault means the access is illegal: no covering region, or a
	// permission mismatch. The surrounding kernel converts a user-mode
	// Fault into a process-termination signal; a kernel-mode Fault is
	// Fatal.
	Fault
)

// TLBInvalidator is the slice of a TLB manager's interface that an
// address space needs when its ASID is stolen: flush every cached
// translation tagged with the old ASID before the new holder runs. It
// is declared here, not imported from the tlb package, because tlb
// already imports vm for AddressSpace/PTEFlags/Outcome, and importing it
// back would cycle.
type TLBInvalidator interface {
	InvalidateASID(id asid.ASID)
}

// AddressSpace bundles a root page table, a lock serializing every walk
// and mutation, the ASID identifying it to the TLB manager, and the
// table of mapped regions page faults are resolved against.
//
// The pgfltaken flag lets Lockassert_pmap catch callers that forgot to
// take the lock, which matters here because every map operation
// requires it as a precondition rather than taking it itself.
type AddressSpace struct {
	sync.Mutex
	pgfltaken bool
	copyMode  faultMode

	pt      *PageTable
	regions *RegionTable
	pool    *asid.Pool
	id      asid.ASID
	tlb     TLBInvalidator
}

// NewAddressSpace creates an address space with a freshly allocated
// root table and an ASID drawn from pool.
func NewAddressSpace(alloc frame.Allocator, cfg LevelConfig, pool *asid.Pool) (*AddressSpace, error) {
	pt, err := NewPageTable(alloc, cfg)
	if err != nil {
		return nil, err
	}
	as := &AddressSpace{
		pt:      pt,
		regions: NewRegionTable(),
		pool:    pool,
	}
	as.id = pool.Acquire(as)
	return as, nil
}

// ASID returns the address space's current ASID. It changes if the
// pool steals it and the caller re-faults.
func (as *AddressSpace) ASID() asid.ASID {
	as.Lock()
	defer as.Unlock()
	return as.id
}

// SetTLBManager wires the TLB manager whose InvalidateASID OnASIDStolen
// calls. Left unset, an address space that never loses its ASID works
// fine without one; wiring it is required to satisfy the "losing AS's
// TLB entries are flushed" half of an ASID steal.
func (as *AddressSpace) SetTLBManager(m TLBInvalidator) {
	as.Lock()
	defer as.Unlock()
	as.tlb = m
}

// OnASIDStolen implements asid.Holder. It flushes every TLB entry
// tagged with the old ASID through the wired manager before releasing
// it, so the next holder can never observe a stale translation under
// the reused ASID, then marks this address space's own ASID as gone:
// its next reference must go through EnsureASID for a fresh one.
func (as *AddressSpace) OnASIDStolen() {
	as.Lock()
	defer as.Unlock()
	if as.tlb != nil && as.id != asid.None {
		as.tlb.InvalidateASID(as.id)
	}
	as.id = asid.None
}

// EnsureASID reacquires an ASID if this address space's was stolen.
// Returns the (possibly new) ASID and whether a reacquire happened.
func (as *AddressSpace) EnsureASID() (asid.ASID, bool) {
	as.Lock()
	stolen := as.id == asid.None
	as.Unlock()
	if !stolen {
		as.pool.Touch(as.id)
		return as.id, false
	}
	newID := as.pool.Acquire(as)
	as.Lock()
	as.id = newID
	as.Unlock()
	return newID, true
}

// Lock_pmap acquires the address space lock and marks that page-table
// manipulation is underway.
func (as *AddressSpace) Lock_pmap() {
	as.Lock()
	as.pgfltaken = true
}

// Unlock_pmap releases the lock taken by Lock_pmap.
func (as *AddressSpace) Unlock_pmap() {
	as.pgfltaken = false
	as.Unlock()
}

// Lockassert_pmap panics if the address space lock is not held. Every
// page-table operation's precondition is checked through this.
func (as *AddressSpace) Lockassert_pmap() {
	if !as.pgfltaken {
		panic("vm: page table lock must be held")
	}
}

// MapInsert installs va -> f with flags. Caller must hold the lock.
func (as *AddressSpace) MapInsert(va uintptr, f frame.PhysAddr, flags PTEFlags) error {
	as.Lockassert_pmap()
	return as.pt.MapInsert(va, f, flags)
}

// MapRemove clears any mapping at va. Caller must hold the lock.
func (as *AddressSpace) MapRemove(v uintptr) {
	as.Lockassert_pmap()
	as.pt.MapRemove(v)
}

// MapFind looks up the leaf PTE for v. Caller must hold the lock.
func (as *AddressSpace) MapFind(v uintptr) (*PTE, bool) {
	as.Lockassert_pmap()
	return as.pt.MapFind(v)
}

// AddRegion registers a mapped region with this address space.
func (as *AddressSpace) AddRegion(r *Region) {
	as.regions.Insert(r)
}

// Root returns the physical address of the root page table, e.g. to
// program an architecture's MMU base register on context switch.
func (as *AddressSpace) Root() frame.PhysAddr {
	return as.pt.Root()
}

// Destroy releases every intermediate page table reachable from the
// root by walking MapRemove over the address space's mapped regions,
// frees the now-childless root table itself, and returns the ASID to
// the pool. Leaf frames named by the torn-down mappings are the region
// backends' own to reclaim (they may be shared, e.g. copy-on-write), so
// Destroy never calls alloc.Free on them directly.
func (as *AddressSpace) Destroy() {
	as.Lock_pmap()
	for _, r := range as.regions.list() {
		for v := r.Start; v < r.Start+r.Len; v += frame.Size {
			as.pt.MapRemove(v)
		}
	}
	as.pt.FreeRoot()
	as.Unlock_pmap()
	as.pool.Release(as.id)
}
