// Package vm implements the architecture-independent virtual memory
// core: a hierarchical page-table walker generalized over per-target
// level counts, the address-space object built on top of it, and the
// page-fault dispatch that higher layers call into.
package vm

import (
	"unsafe"

	"nucleus/frame"
	"nucleus/kerr"
)

// PTEFlags are the permission/caching bits carried by a leaf PTE. Every
// level of the hierarchy uses the same scalar PTE type; which bits are
// meaningful at a given level is a convention enforced by this package,
// not by the type system, since the level is known from the walk depth.
type PTEFlags uint64

const (
	PTEPresent PTEFlags = 1 << iota
	PTEWrite
	PTEExec
	PTEUser
	PTECacheable
	PTEGlobal
	// PTEAccessed and PTEDirty are maintained by the TLB manager on
	// software-filled targets: every successful refill stamps
	// accessed, and a write fault or MIPS Modify exception stamps
	// dirty.
	PTEAccessed
	PTEDirty
)

// frameMask covers every bit PTEFlags does not; the remaining bits hold
// the frame number. frame.Size is a power of two, so frame-aligned
// physical addresses never collide with the flag bits.
const frameMask = ^uintptr(frame.Size - 1)

// intermediateFlags governs every non-leaf table entry: maximally
// permissive, because access control is centralized at the leaf. This
// is correct for the hardware models the core targets; ARMv7
// extensions that intersect privileges differently at intermediate
// levels would need to revisit this (see DESIGN.md).
const intermediateFlags = PTEPresent | PTEUser | PTEExec | PTECacheable | PTEWrite

// PTE is a page-table entry: a frame number plus flags packed into one
// scalar. A PTE is valid iff its bit pattern is nonzero; it is present
// iff PTEPresent is set. Valid-but-not-present is legal and means
// "known absent," e.g. a swapped-out page, distinct from never having
// been touched.
type PTE uint64

func encodePTE(f frame.PhysAddr, flags PTEFlags) PTE {
	return PTE(uintptr(f)&uintptr(frameMask) | uintptr(flags&^PTEFlags(frameMask)))
}

// NewPTE builds a leaf entry naming frame f with flags, for region
// backends outside this package that need to hand fault resolution a
// concrete PTE without reaching into this package's bit layout.
func NewPTE(f frame.PhysAddr, flags PTEFlags) PTE {
	return encodePTE(f, flags|PTEPresent)
}

// Valid reports whether the entry's encoding is nonzero.
func (p PTE) Valid() bool { return p != 0 }

// Present reports whether the architecture-specific present bit is set.
func (p PTE) Present() bool { return PTEFlags(p)&PTEPresent != 0 }

// Frame returns the physical frame this entry names.
func (p PTE) Frame() frame.PhysAddr { return frame.PhysAddr(uintptr(p) & uintptr(frameMask)) }

// Flags returns the permission/caching bits of this entry.
func (p PTE) Flags() PTEFlags { return PTEFlags(uintptr(p) &^ uintptr(frameMask)) }

// SetAccessed marks the entry as having been referenced. Called by the
// TLB manager on every successful refill.
func (p *PTE) SetAccessed() { *p |= PTE(PTEAccessed) }

// SetDirty marks the entry as having been written. Called by the TLB
// manager on a write fault / MIPS Modify exception.
func (p *PTE) SetDirty() { *p |= PTE(PTEDirty) }

// LevelConfig gives the entry count of PTL0..PTL3 for a target
// architecture. An entry count of 0 collapses that level: the walk
// skips it entirely, so hardware with fewer than four real levels
// (e.g. ARMv7's two-level coarse tables) pays nothing for the unused
// ones.
type LevelConfig struct {
	Entries [4]int
}

// AMD64FourLevel is the AMD64 target: four real levels of 512 entries
// each (PML4/PDPT/PD/PT).
var AMD64FourLevel = LevelConfig{Entries: [4]int{512, 512, 512, 512}}

// ARMv7TwoLevel models ARMv7 coarse page tables: a 4096-entry root
// (section/coarse-descriptor table) directly over a 256-entry leaf,
// with the two intermediate levels collapsed.
var ARMv7TwoLevel = LevelConfig{Entries: [4]int{4096, 0, 0, 256}}

func log2(n int) uint {
	b := uint(0)
	for 1<<b < n {
		b++
	}
	return b
}

func (lc LevelConfig) bits(level int) uint {
	if lc.Entries[level] == 0 {
		return 0
	}
	return log2(lc.Entries[level])
}

func (lc LevelConfig) shift(level int) uint {
	s := uint(frame.Shift)
	for l := 3; l > level; l-- {
		s += lc.bits(l)
	}
	return s
}

func (lc LevelConfig) index(level int, va uintptr) int {
	if lc.Entries[level] == 0 {
		return 0
	}
	return int((va >> lc.shift(level)) & uintptr(lc.Entries[level]-1))
}

// nextLevel returns the first level after level that actually has
// entries (i.e. is not collapsed), defaulting to the leaf level 3. For
// a config like ARMv7TwoLevel, where levels 1 and 2 carry zero entries,
// nextLevel(0) is 3: the table a root entry points to is the leaf
// table directly, with no intermediate levels materialized.
func (lc LevelConfig) nextLevel(level int) int {
	for l := level + 1; l < 3; l++ {
		if lc.Entries[l] != 0 {
			return l
		}
	}
	return 3
}

// rootLevel is the first level that actually has entries; the root
// table is that level's table. A config that collapses PTL0 (software-
// walked targets that keep only a flat leaf table) roots the tree at
// whichever level survives.
func (lc LevelConfig) rootLevel() int {
	for l := 0; l < 3; l++ {
		if lc.Entries[l] != 0 {
			return l
		}
	}
	return 3
}

func (lc LevelConfig) rootEntries() int {
	return lc.Entries[lc.rootLevel()]
}

// tableView maps the table of the given entry count stored at p. The
// number of frames backing it is derived from entries, not assumed to
// be one: a level with more entries than fit in a single frame (e.g.
// ARMv7's 4096-entry root) spans several contiguous frames.
func tableView(p frame.PhysAddr, entries int) []PTE {
	frames, _ := frame.TableFrames(entries)
	buf := frame.DmapTable(p, frames)
	return unsafe.Slice((*PTE)(unsafe.Pointer(&buf[0])), entries)
}

func tableEmpty(tbl []PTE) bool {
	for _, e := range tbl {
		if e.Valid() {
			return false
		}
	}
	return true
}

// PageTable is the hierarchical page-table core: map_insert, map_remove
// and map_find against one address space's root table. Callers must
// hold the owning address space's lock with interrupts disabled before
// calling any of these; PageTable itself does no locking.
type PageTable struct {
	alloc frame.Allocator
	cfg   LevelConfig
	root  frame.PhysAddr
}

// NewPageTable allocates and zeroes a root table. The root is pinned
// for the life of the address space and is never freed by MapRemove;
// FreeRoot releases it once the caller is done tearing down.
func NewPageTable(alloc frame.Allocator, cfg LevelConfig) (*PageTable, error) {
	root, err := allocTable(alloc, cfg.rootEntries())
	if err != nil {
		return nil, err
	}
	return &PageTable{alloc: alloc, cfg: cfg, root: root}, nil
}

func allocTable(alloc frame.Allocator, entries int) (frame.PhysAddr, error) {
	_, order := frame.TableFrames(entries)
	p, ok := alloc.Alloc(order, frame.Zero|frame.KernelAccessible)
	if !ok {
		return frame.None, kerr.OutOfMemory
	}
	return p, nil
}

// Root returns the physical address of the root table, e.g. to program
// an architecture's MMU base register.
func (pt *PageTable) Root() frame.PhysAddr { return pt.root }

// FreeRoot releases the root table's frame(s). Callers must ensure
// every mapping has already been torn down (e.g. via MapRemove) so no
// intermediate table still hangs off the root; it is not safe to call
// while the table is in use.
func (pt *PageTable) FreeRoot() {
	pt.alloc.Free(pt.root)
}

// MapInsert establishes va -> f with the given flags, materializing any
// missing intermediate table along the way. A subsequent MapFind
// returns the installed leaf entry.
func (pt *PageTable) MapInsert(va uintptr, f frame.PhysAddr, flags PTEFlags) error {
	tbl := tableView(pt.root, pt.cfg.rootEntries())
	for level := 0; level <= 2; level++ {
		if pt.cfg.Entries[level] == 0 {
			continue
		}
		idx := pt.cfg.index(level, va)
		nextEntries := pt.cfg.Entries[pt.cfg.nextLevel(level)]
		e := tbl[idx]
		if !e.Present() {
			nf, err := allocTable(pt.alloc, nextEntries)
			if err != nil {
				return err
			}
			tbl[idx] = encodePTE(nf, intermediateFlags)
			e = tbl[idx]
		}
		tbl = tableView(e.Frame(), nextEntries)
	}
	idx3 := pt.cfg.index(3, va)
	tbl[idx3] = encodePTE(f, flags|PTEPresent)
	return nil
}

// MapRemove clears the mapping at va if one exists and frees any
// intermediate table left empty by the removal. It is a silent no-op
// if va has no mapping.
func (pt *PageTable) MapRemove(va uintptr) {
	type step struct {
		tbl  []PTE
		idx  int
		phys frame.PhysAddr
	}
	var steps []step

	tbl := tableView(pt.root, pt.cfg.rootEntries())
	phys := pt.root
	for level := 0; level <= 3; level++ {
		if pt.cfg.Entries[level] == 0 {
			continue
		}
		idx := pt.cfg.index(level, va)
		steps = append(steps, step{tbl, idx, phys})
		if level < 3 {
			e := tbl[idx]
			if !e.Present() {
				return
			}
			phys = e.Frame()
			tbl = tableView(phys, pt.cfg.Entries[pt.cfg.nextLevel(level)])
		}
	}

	leaf := steps[len(steps)-1]
	if !leaf.tbl[leaf.idx].Valid() {
		return
	}
	leaf.tbl[leaf.idx] = 0

	for i := len(steps) - 1; i >= 1; i-- {
		if !tableEmpty(steps[i].tbl) {
			break
		}
		pt.alloc.Free(steps[i].phys)
		parent := steps[i-1]
		parent.tbl[parent.idx] = 0
	}
}

// MapFind returns a pointer to the leaf PTE for va, or false if none is
// mapped. The returned pointer aliases live table storage; callers
// must hold the address space lock for as long as they use it.
func (pt *PageTable) MapFind(va uintptr) (*PTE, bool) {
	tbl := tableView(pt.root, pt.cfg.rootEntries())
	for level := 0; level <= 3; level++ {
		if pt.cfg.Entries[level] == 0 {
			continue
		}
		idx := pt.cfg.index(level, va)
		if level < 3 {
			e := tbl[idx]
			if !e.Present() {
				return nil, false
			}
			tbl = tableView(e.Frame(), pt.cfg.Entries[pt.cfg.nextLevel(level)])
		} else {
			if !tbl[idx].Valid() {
				return nil, false
			}
			return &tbl[idx], true
		}
	}
	return nil, false
}
