// Package boot implements the boot-time MMU enable sequence: build the
// kernel's own root page table, double-map physical memory into the
// low identity range and the kernel's high-half link address, then
// hand the result to an architecture-specific seam that programs the
// real hardware registers.
package boot

import (
	"nucleus/defs"
	"nucleus/frame"
	"nucleus/vm"
)

// Section is one interval of the boot-time memory map the loader hands
// the kernel: a contiguous physical range, tagged with whether it is
// MMIO (and so must never be cached) and with a defs device id purely
// for diagnostics, so a later dump can say *why* a given range was
// marked non-cacheable instead of just that it was.
type Section struct {
	Base   uintptr
	Size   uintptr
	MMIO   bool
	Device int
}

func (s Section) end() uintptr { return s.Base + s.Size }

// contains reports whether page (frame-aligned) falls within s.
func (s Section) contains(page uintptr) bool {
	return page >= s.Base && page < s.end()
}

// Controller is the architecture-specific seam for the register writes
// that have no portable representation: programming the MMU's
// base/domain registers and invalidating caches before the first
// instruction runs with paging live. nucleus has no real hardware to
// drive, so the shipped implementations simulate the sequence rather
// than emit instructions (see boot_arm32.go, boot_amd64.go).
type Controller interface {
	SetBase(root frame.PhysAddr)
	SetDomains()
	InvalidateCaches()
	Enable()
}

// Config parameterizes one target's boot-time enable sequence.
type Config struct {
	Alloc frame.Allocator
	Levels vm.LevelConfig
	// Sections partitions [0, span) of physical memory the kernel must
	// see at boot: RAM plus any MMIO windows. Every page in every
	// Section is identity-mapped; unless DoubleMap is false, it is also
	// mirrored at HighHalf+Base.
	Sections []Section
	// HighHalf is the virtual address the kernel image is linked at.
	// Ignored when DoubleMap is false.
	HighHalf uintptr
	// DoubleMap selects between the normal two-mapping boot (identity +
	// high-half alias) and a single 1:1 map for boards whose physical
	// RAM already starts at the 2 GiB boundary: there the identity map
	// itself already covers the kernel's link address, so a second
	// mapping would only waste page-table frames.
	DoubleMap  bool
	Controller Controller
}

// MappedSection reports what Enable actually mapped, for diagnostics.
type MappedSection struct {
	Section
	HighVA uintptr // 0 if this section was not double-mapped
}

// Result is everything a caller needs after paging is live: the root
// table (to retire the loader's own identity map once the kernel runs
// high-half) and a record of what got mapped where.
type Result struct {
	PT     *vm.PageTable
	Mapped []MappedSection
}

// Enable brings the MMU up: allocate a root table, identity-map every
// configured section, double-map it at the kernel's high-half link
// address unless the target says not to, program the MMU base
// register, grant domain access, invalidate caches, and finally
// enable paging, in that order.
func Enable(cfg Config) (*Result, error) {
	pt, err := vm.NewPageTable(cfg.Alloc, cfg.Levels)
	if err != nil {
		return nil, err
	}

	mapped := make([]MappedSection, 0, len(cfg.Sections))
	for _, sec := range cfg.Sections {
		flags := vm.PTEWrite | vm.PTEExec
		if !sec.MMIO {
			flags |= vm.PTECacheable
		}

		if err := identityMapSection(pt, sec, flags); err != nil {
			return nil, err
		}

		m := MappedSection{Section: sec}
		if cfg.DoubleMap {
			highFlags := flags | vm.PTEGlobal
			if err := mapSectionAt(pt, cfg.HighHalf+sec.Base, sec, highFlags); err != nil {
				return nil, err
			}
			m.HighVA = cfg.HighHalf + sec.Base
		}
		mapped = append(mapped, m)
	}

	cfg.Controller.SetBase(pt.Root())
	cfg.Controller.SetDomains()
	cfg.Controller.InvalidateCaches()
	cfg.Controller.Enable()

	return &Result{PT: pt, Mapped: mapped}, nil
}

func identityMapSection(pt *vm.PageTable, sec Section, flags vm.PTEFlags) error {
	return mapSectionAt(pt, sec.Base, sec, flags)
}

func mapSectionAt(pt *vm.PageTable, va uintptr, sec Section, flags vm.PTEFlags) error {
	for off := uintptr(0); off < sec.Size; off += frame.Size {
		phys := frame.PhysAddr(sec.Base + off)
		if err := pt.MapInsert(va+off, phys, flags); err != nil {
			return err
		}
	}
	return nil
}

// RAMSection builds the ordinary cacheable-RAM Section covering
// [base, base+size), tagged as stats/profiling-relevant memory rather
// than a named device.
func RAMSection(base, size uintptr) Section {
	return Section{Base: base, Size: size, MMIO: false, Device: int(defs.Mkdev(0, defs.D_STAT))}
}

// MMIOSection builds a non-cacheable Section for a device window,
// tagged with dev for diagnostics (e.g. defs.D_CONSOLE, defs.D_INTC).
func MMIOSection(base, size uintptr, dev int) Section {
	return Section{Base: base, Size: size, MMIO: true, Device: int(defs.Mkdev(dev, 0))}
}
