package tlb

import (
	"nucleus/frame"
	"nucleus/vm"
)

// resolved is what refill hands back to a per-target installer: just
// enough to build a hardware Entry, without handing out a pointer into
// page-table storage past the critical section that produced it.
type resolved struct {
	Frame frame.PhysAddr
	Flags vm.PTEFlags
}

// refill implements the shared front half of every refill-on-miss
// handler: find the PTE, falling through to the page-fault path if
// it's missing or not present, then mark it accessed (and dirty, for
// a write fault). Per-target managers call this and then do whatever
// architecture-specific installation step remains, PowerPC's PTEG
// placement or the plain software TLB for MIPS32/IA-64.
func refill(as *vm.AddressSpace, v uintptr, kind vm.AccessKind, tf vm.TrapFrame, dirty bool) (resolved, vm.Outcome) {
	as.Lock_pmap()
	pte, ok := as.MapFind(v)
	present := ok && pte.Present()
	as.Unlock_pmap()

	if !present {
		if outcome := as.PageFault(v, kind, tf); outcome != vm.OK {
			return resolved{}, outcome
		}
	}

	as.Lock_pmap()
	defer as.Unlock_pmap()
	pte, ok = as.MapFind(v)
	if !ok {
		return resolved{}, vm.Fault
	}
	pte.SetAccessed()
	if dirty {
		pte.SetDirty()
	}
	return resolved{Frame: pte.Frame(), Flags: pte.Flags()}, vm.OK
}
