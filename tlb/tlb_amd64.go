package tlb

import (
	"golang.org/x/sys/cpu"

	"nucleus/asid"
	"nucleus/vm"
)

// AMD64Manager is the invalidate-only manager for AMD64: like IA-32,
// the MMU walks the four-level table directly and never traps on a
// miss. Unlike IA-32, AMD64 can carry a process-context identifier
// (PCID) in the low bits of CR3, letting INVPCID scope an invalidation
// to one ASID instead of flushing the whole TLB. golang.org/x/sys/cpu
// does not surface a PCID feature bit (its exported X86 fields cover
// the SIMD/crypto extensions its detection table enumerates, not
// paging-related CR4 bits), so PCID support is supplied by the caller
// at construction; a caller wiring real hardware would derive it from
// CPUID leaf 1's ECX bit 17.
type AMD64Manager struct {
	pcid bool
	// erms records golang.org/x/sys/cpu.X86.HasERMS, surfaced via
	// HasERMS for a caller deciding whether a bulk page-clear (zeroing a
	// freshly allocated intermediate table) should prefer a REP MOVSB/
	// STOSB-based copy over a manual word loop.
	erms bool
}

// NewAMD64Manager returns a manager that uses per-ASID INVPCID
// invalidation when pcid is true, and a full flush otherwise. It also
// probes golang.org/x/sys/cpu.X86.HasERMS once at construction.
func NewAMD64Manager(pcid bool) *AMD64Manager {
	return &AMD64Manager{pcid: pcid, erms: cpu.X86.HasERMS}
}

// HasPCID reports whether this manager will use per-ASID invalidation.
func (m *AMD64Manager) HasPCID() bool { return m.pcid }

// HasERMS reports whether the detected CPU supports fast REP MOVSB/
// STOSB, per golang.org/x/sys/cpu.X86.HasERMS.
func (m *AMD64Manager) HasERMS() bool { return m.erms }

// Refill is unreachable on AMD64 for the same reason as IA-32.
func (m *AMD64Manager) Refill(as *vm.AddressSpace, v uintptr, kind vm.AccessKind, tf vm.TrapFrame) vm.Outcome {
	panic("tlb: AMD64Manager.Refill is unreachable; AMD64 has no TLB-miss exception")
}

// InvalidateAll models a CR3 reload (or INVPCID type 2/3 with PCID
// support): every cached translation is dropped.
func (m *AMD64Manager) InvalidateAll() {}

// InvalidateASID scopes the flush to one PCID via INVPCID when the CPU
// supports it; CPUs that predate PCID get a full flush.
func (m *AMD64Manager) InvalidateASID(id asid.ASID) {
	if m.pcid {
		// INVPCID type 1 (single-context invalidation) scoped to id.
		return
	}
	m.InvalidateAll()
}

// InvalidatePages issues one invlpg (or INVPCID type 0, address-scoped)
// per page.
func (m *AMD64Manager) InvalidatePages(id asid.ASID, v uintptr, count int) {}
