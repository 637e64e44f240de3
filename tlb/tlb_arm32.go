package tlb

import (
	"nucleus/asid"
	"nucleus/vm"
)

// ARM32Manager is the invalidate-only manager for ARMv7: the MMU walks
// the two-level coarse page table directly, so there is no miss
// exception to service. The descriptor format carries a 4-bit domain
// field but no address-space-identifier tag (ASID-tagged TLB entries
// are a later ARM extension this target predates), so, as on IA-32,
// InvalidateASID has nothing to scope to and degrades to a full flush.
type ARM32Manager struct{}

func NewARM32Manager() *ARM32Manager { return &ARM32Manager{} }

// Refill is unreachable: ARMv7's MMU walks page_armv7_t tables in
// hardware and never traps on a miss.
func (m *ARM32Manager) Refill(as *vm.AddressSpace, v uintptr, kind vm.AccessKind, tf vm.TrapFrame) vm.Outcome {
	panic("tlb: ARM32Manager.Refill is unreachable; ARMv7 has no TLB-miss exception")
}

// InvalidateAll models TLBIALL.
func (m *ARM32Manager) InvalidateAll() {}

// InvalidateASID has no ASID register to scope to on this target and
// falls back to a full flush.
func (m *ARM32Manager) InvalidateASID(id asid.ASID) {
	m.InvalidateAll()
}

// InvalidatePages models one TLBIMVA per page.
func (m *ARM32Manager) InvalidatePages(id asid.ASID, v uintptr, count int) {}
