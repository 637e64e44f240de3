package tlb

import (
	"nucleus/asid"
	"nucleus/vm"
)

// IA32Manager is the invalidate-only manager for targets whose MMU
// walks the generic page table directly: IA-32's hardware page-table
// walker never raises a miss exception, so there is nothing to refill.
// The architecture exposes exactly one targeted primitive, invlpg, and
// carries no process-context-ID register: tagging by ASID is a
// software fiction here, so InvalidateASID and a full TLB flush
// (equivalent to reloading CR3) are the same operation.
type IA32Manager struct{}

func NewIA32Manager() *IA32Manager { return &IA32Manager{} }

// Refill is unreachable on IA-32: the hardware walks the page table
// itself and never traps to software on a miss.
func (m *IA32Manager) Refill(as *vm.AddressSpace, v uintptr, kind vm.AccessKind, tf vm.TrapFrame) vm.Outcome {
	panic("tlb: IA32Manager.Refill is unreachable; IA-32 has no TLB-miss exception")
}

// InvalidateAll models reloading CR3, which IA-32 uses as its "flush
// everything" primitive since there is no PCID-equivalent.
func (m *IA32Manager) InvalidateAll() {}

// InvalidateASID has no hardware ASID to scope to on IA-32, so it
// degrades to a full flush of the single untagged TLB.
func (m *IA32Manager) InvalidateASID(id asid.ASID) {
	m.InvalidateAll()
}

// InvalidatePages issues one invlpg per page in [v, v+count*PAGE_SIZE),
// the direct generalization of asm.h's invlpg primitive.
func (m *IA32Manager) InvalidatePages(id asid.ASID, v uintptr, count int) {
	// A real port issues `invlpg` once per page here; this core has no
	// hardware TLB to probe, so invalidation is a no-op by construction
	// (there is nothing cached outside the page table itself).
}
