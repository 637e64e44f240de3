package tlb

import (
	"nucleus/asid"
	"nucleus/vm"
)

// MIPS32Manager services the three MIPS32 TLB exceptions (Refill,
// Invalid, Modified) against a software TLB: walk the generic page
// table, stamp accessed/dirty, then (re)write the hardware entry.
type MIPS32Manager struct {
	soft *softEntries
}

func NewMIPS32Manager() *MIPS32Manager {
	return &MIPS32Manager{soft: newSoftEntries()}
}

// Refill services both the TLB-Refill exception (entry wholly absent
// from the TLB) and the TLB-Invalid exception (a stale present-bit=0
// entry already occupies a slot). The two paths differ only in which
// physical TLB slot they rewrite (tlbwr vs. tlbwi); a software TLB has
// no slot to distinguish, so both fold into one handler once the 4Kc
// EXL special case (see RefillAfterInvalid) is ruled out.
func (m *MIPS32Manager) Refill(as *vm.AddressSpace, v uintptr, kind vm.AccessKind, tf vm.TrapFrame) vm.Outcome {
	r, outcome := refill(as, v, kind, tf, kind == vm.Write)
	if outcome != vm.OK {
		return outcome
	}
	m.soft.install(Entry{ASID: as.ASID(), VPN: vpn(v), Frame: r.Frame, Flags: r.Flags})
	return vm.OK
}

// RefillAfterInvalid models the 4Kc-specific quirk: a TLB-Invalid
// exception taken with Status.EXL already set (exception level held,
// as happens when a user-copy routine races an interrupt) re-enters
// the refill handler instead of the normal TLB-Invalid path. exl is
// supplied by the caller from the saved exception state; this package
// has no CP0 registers to read it from itself. Both paths resolve to
// the same software-TLB install, but exl is kept as an explicit
// parameter so a caller wiring real CP0 state has a place to record
// which path it took. The condition should be revisited per MIPS
// variant before trusting it on other silicon.
func (m *MIPS32Manager) RefillAfterInvalid(as *vm.AddressSpace, v uintptr, kind vm.AccessKind, tf vm.TrapFrame, exl bool) vm.Outcome {
	return m.Refill(as, v, kind, tf)
}

// Modify services the TLB-Modified exception: a write to a page
// already present in the TLB as read-only. It escalates straight to
// the page-fault path with access_kind=write when the PTE itself
// isn't writable, rather than installing a stale read-only hardware
// entry that would only re-fault.
func (m *MIPS32Manager) Modify(as *vm.AddressSpace, v uintptr, tf vm.TrapFrame) vm.Outcome {
	as.Lock_pmap()
	pte, ok := as.MapFind(v)
	writable := ok && pte.Present() && pte.Flags()&vm.PTEWrite != 0
	as.Unlock_pmap()

	if !writable {
		if outcome := as.PageFault(v, vm.Write, tf); outcome != vm.OK {
			return outcome
		}
	}

	as.Lock_pmap()
	defer as.Unlock_pmap()
	pte, ok = as.MapFind(v)
	if !ok {
		return vm.Fault
	}
	pte.SetAccessed()
	pte.SetDirty()
	m.soft.install(Entry{ASID: as.ASID(), VPN: vpn(v), Frame: pte.Frame(), Flags: pte.Flags()})
	return vm.OK
}

func (m *MIPS32Manager) InvalidateAll() { m.soft.invalidateAll() }

func (m *MIPS32Manager) InvalidateASID(id asid.ASID) { m.soft.invalidateASID(id) }

func (m *MIPS32Manager) InvalidatePages(id asid.ASID, v uintptr, count int) {
	m.soft.invalidatePages(id, v, count)
}
