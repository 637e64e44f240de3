package tlb

import (
	"nucleus/asid"
	"nucleus/vm"
)

// IA64Manager services IA-64's VHPT (Virtual Hash Page Table) miss
// fault. Hardware keys VHPT records by (page, region id); this models
// the VHPT as the same associative softEntries store MIPS32 uses,
// keyed by (ASID, VPN), since both targets are refill-on-miss and the
// region id plays the ASID's role.
type IA64Manager struct {
	soft *softEntries
}

func NewIA64Manager() *IA64Manager {
	return &IA64Manager{soft: newSoftEntries()}
}

// Refill services a VHPT miss: walk the generic page table, stamp
// accessed (and dirty on a write fault), then install a VHPT record.
func (m *IA64Manager) Refill(as *vm.AddressSpace, v uintptr, kind vm.AccessKind, tf vm.TrapFrame) vm.Outcome {
	r, outcome := refill(as, v, kind, tf, kind == vm.Write)
	if outcome != vm.OK {
		return outcome
	}
	m.soft.install(Entry{ASID: as.ASID(), VPN: vpn(v), Frame: r.Frame, Flags: r.Flags})
	return vm.OK
}

func (m *IA64Manager) InvalidateAll() { m.soft.invalidateAll() }

func (m *IA64Manager) InvalidateASID(id asid.ASID) { m.soft.invalidateASID(id) }

func (m *IA64Manager) InvalidatePages(id asid.ASID, v uintptr, count int) {
	m.soft.invalidatePages(id, v, count)
}
