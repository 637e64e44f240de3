// Package tlb manages hardware translation caches behind one Manager
// interface covering two models: software refill-on-miss (MIPS32,
// PowerPC32's hashed PTE table, IA-64), and invalidate-only management
// for targets whose MMU walks the generic page table directly
// (IA-32, AMD64, ARMv7). A per-target file backs each concrete type;
// this file holds what they share.
package tlb

import (
	"sync"

	"nucleus/asid"
	"nucleus/frame"
	"nucleus/vm"
)

// Entry is a cached hardware translation: the (ASID, virtual page,
// physical frame, flags) quadruple a software-filled TLB entry
// carries. VPN is a page number, not a byte address.
type Entry struct {
	ASID  asid.ASID
	VPN   uintptr
	Frame frame.PhysAddr
	Flags vm.PTEFlags
}

// Manager is the interface every per-target implementation satisfies.
// Refill receives the trap frame the miss exception delivered, so a
// miss that escalates to a page fault can distinguish a privileged
// faulting context (Fatal) from a user one (signal the process).
// Hardware-walked targets (IA-32, AMD64, ARMv7) never receive a TLB
// miss exception, so their Refill is not reachable from a real trap
// vector, but implementing it keeps callers written against Manager
// free of per-target type switches.
type Manager interface {
	Refill(as *vm.AddressSpace, v uintptr, kind vm.AccessKind, tf vm.TrapFrame) vm.Outcome

	InvalidateAll()
	InvalidateASID(id asid.ASID)
	InvalidatePages(id asid.ASID, v uintptr, count int)
}

func vpn(v uintptr) uintptr { return v / frame.Size }

type softKey struct {
	asid asid.ASID
	vpn  uintptr
}

// softEntries is the in-memory stand-in for a hardware TLB used by the
// refill-on-miss managers that don't need PowerPC's hashed layout
// (MIPS32, IA-64): a plain associative array keyed by (ASID, VPN).
// Real hardware TLBs are finite and suffer capacity misses; this
// models only the addressing and invalidation semantics, not capacity.
type softEntries struct {
	mu      sync.Mutex
	entries map[softKey]Entry
}

func newSoftEntries() *softEntries {
	return &softEntries{entries: make(map[softKey]Entry)}
}

func (s *softEntries) install(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[softKey{e.ASID, e.VPN}] = e
}

func (s *softEntries) lookup(id asid.ASID, vpnVal uintptr) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[softKey{id, vpnVal}]
	return e, ok
}

func (s *softEntries) invalidateAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[softKey]Entry)
}

func (s *softEntries) invalidateASID(id asid.ASID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.entries {
		if e.ASID == id {
			delete(s.entries, k)
		}
	}
}

func (s *softEntries) invalidatePages(id asid.ASID, v uintptr, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	base := vpn(v)
	for i := 0; i < count; i++ {
		delete(s.entries, softKey{id, base + uintptr(i)})
	}
}
