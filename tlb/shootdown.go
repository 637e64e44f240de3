package tlb

import (
	"context"

	"golang.org/x/sync/semaphore"

	"nucleus/asid"
	"nucleus/vm"
)

// ShootdownTransport delivers the cross-CPU notification a mapping
// removal requires: every other CPU running a thread of the affected
// address space must invalidate its local cache of the removed
// mapping. nucleus has no real interrupt controller to call, so the
// broadcast mechanism is an injected seam; a bare-metal port backs it
// with its interrupt controller's IPI primitive.
type ShootdownTransport interface {
	// TargetCPUs reports how many CPUs other than the caller are
	// currently running a thread of as and must be notified.
	TargetCPUs(as *vm.AddressSpace) int
	// Send delivers the IPI to each of those CPUs, asking it to
	// execute its local invalidation for [v, v+count) and then call
	// ack exactly once. Send may return before any CPU acknowledges.
	Send(as *vm.AddressSpace, v uintptr, count int, ack func())
}

// Shootdown coordinates the two-phase invalidation protocol: a fast
// path when the address space is not running anywhere else (nothing to
// broadcast to), and a slow path that blocks the initiating CPU until
// every notified CPU has invalidated locally.
type Shootdown struct {
	mgr       Manager
	transport ShootdownTransport
}

// NewShootdown pairs a TLB manager with a broadcast transport.
func NewShootdown(mgr Manager, transport ShootdownTransport) *Shootdown {
	return &Shootdown{mgr: mgr, transport: transport}
}

// Notify invalidates [v, v+count pages) for id on the local CPU, then,
// if other CPUs might be caching the same translation, broadcasts the
// same invalidation to them and blocks until all have acknowledged.
// The caller must hold as's page-table lock across the whole
// clear-then-notify sequence and drop it only after Notify returns,
// closing the window where a racing fault could re-enter the stale
// range before every CPU has invalidated. id is passed in rather than
// read back from as because the locking ASID accessor cannot be called
// with the lock already held.
func (s *Shootdown) Notify(as *vm.AddressSpace, id asid.ASID, v uintptr, count int) {
	as.Lockassert_pmap()
	if count == 0 {
		return
	}

	s.mgr.InvalidatePages(id, v, count)

	n := s.transport.TargetCPUs(as)
	if n == 0 {
		return
	}

	// One unit of weight per target CPU. Acquiring all of it up front
	// drains the semaphore to empty; each target's ack Releases one
	// unit back, and the second Acquire below only succeeds once every
	// unit has been returned: a countdown latch.
	sem := semaphore.NewWeighted(int64(n))
	ctx := context.Background()
	if err := sem.Acquire(ctx, int64(n)); err != nil {
		return
	}

	s.transport.Send(as, v, count, func() { sem.Release(1) })

	sem.Acquire(ctx, int64(n))
}
