package tlb

import (
	"sync"

	"nucleus/asid"
	"nucleus/frame"
	"nucleus/vm"
)

// ppcPTEGs is the number of page table entry groups (PTEGs) in the
// modeled hashed page table, the minimum table size the architecture
// permits (hash masked to 10 bits).
const ppcPTEGs = 1024

// ppcSlots is the number of ways per PTEG (8 on real PowerPC hardware).
const ppcSlots = 8

type ppcSlot struct {
	valid bool
	asid  asid.ASID
	vpn   uintptr
	h     uint8 // which hash (0 primary, 1 secondary) placed this slot
	frame frame.PhysAddr
	flags vm.PTEFlags
}

// PPC32Manager services PowerPC's Data/Instruction Storage Exception by
// walking the generic page table (like MIPS32/IA-64) and additionally
// keeping a software model of the hashed PTE table (PHT) hardware
// consults directly. Placement order: primary hash, then secondary
// hash, then a pseudo-random victim within the secondary PTEG.
type PPC32Manager struct {
	mu   sync.Mutex
	pteg [ppcPTEGs][ppcSlots]ppcSlot
	seed uint32
}

func NewPPC32Manager() *PPC32Manager {
	return &PPC32Manager{seed: 42}
}

// Refill services the Instruction/Data Storage Exception: walk the
// page table, mark accessed (and dirty on a write fault), then install
// a PHT record.
func (m *PPC32Manager) Refill(as *vm.AddressSpace, v uintptr, kind vm.AccessKind, tf vm.TrapFrame) vm.Outcome {
	r, outcome := refill(as, v, kind, tf, kind == vm.Write)
	if outcome != vm.OK {
		return outcome
	}
	m.insert(as.ASID(), vpn(v), r.Frame, r.Flags)
	return vm.OK
}

func (m *PPC32Manager) hash(id asid.ASID, vpnVal uintptr) uint32 {
	return (uint32(id) ^ uint32(vpnVal)) & (ppcPTEGs - 1)
}

// rand advances the LCG and returns a way index in [0, ppcSlots).
func (m *PPC32Manager) rand() int {
	m.seed = m.seed*1103515245 + 12345
	return int(m.seed % ppcSlots)
}

func freeSlot(pteg *[ppcSlots]ppcSlot) (int, bool) {
	for i := range pteg {
		if !pteg[i].valid {
			return i, true
		}
	}
	return 0, false
}

// insert places a PHT record for (id, vpnVal): primary hash, then
// secondary hash, then a random eviction within the secondary PTEG.
func (m *PPC32Manager) insert(id asid.ASID, vpnVal uintptr, f frame.PhysAddr, flags vm.PTEFlags) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.hash(id, vpnVal)
	primary := &m.pteg[h]
	if i, ok := freeSlot(primary); ok {
		primary[i] = ppcSlot{valid: true, asid: id, vpn: vpnVal, h: 0, frame: f, flags: flags}
		return
	}

	secondary := &m.pteg[(^h)&(ppcPTEGs-1)]
	if i, ok := freeSlot(secondary); ok {
		secondary[i] = ppcSlot{valid: true, asid: id, vpn: vpnVal, h: 1, frame: f, flags: flags}
		return
	}

	i := m.rand()
	secondary[i] = ppcSlot{valid: true, asid: id, vpn: vpnVal, h: 1, frame: f, flags: flags}
}

// InvalidateAll clears every PTEG slot, matching tlb_invalidate_all's
// `tlbie` sweep over the whole table.
func (m *PPC32Manager) InvalidateAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.pteg {
		m.pteg[i] = [ppcSlots]ppcSlot{}
	}
}

// InvalidateASID walks the PHT marking every entry tagged with id
// invalid, then flushes everything anyway: the hardware TLB itself has
// no ASID tag to scope a partial flush to, only the PHT does.
func (m *PPC32Manager) InvalidateASID(id asid.ASID) {
	m.mu.Lock()
	for i := range m.pteg {
		for j := range m.pteg[i] {
			if m.pteg[i][j].valid && m.pteg[i][j].asid == id {
				m.pteg[i][j].valid = false
			}
		}
	}
	m.mu.Unlock()
	m.InvalidateAll()
}

// InvalidatePages falls back to a full flush. A targeted variant would
// probe both PTEGs of each page and tlbie the matches; until a
// workload shows the full flush hurting, the simple version stands.
func (m *PPC32Manager) InvalidatePages(id asid.ASID, v uintptr, count int) {
	m.InvalidateAll()
}
