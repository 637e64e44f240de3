package boot

import (
	"nucleus/frame"
	"nucleus/vm"
)

// arm32TwoGiB is the physical address at which some ARMv7 boards
// (BeagleBoard-xM) start RAM: high enough that a straight 1:1 map
// already reaches the kernel's high-half link address, so the second
// (double) mapping is skipped.
const arm32TwoGiB = 0x8000_0000

// NewARM32Config builds the Config for an ARMv7 boot: a two-level
// coarse page table, RAM mapped starting at ramBase for ramSize bytes,
// and an MMIO window for the platform's device registers. DoubleMap is
// false when ramBase is at or past the 2 GiB boundary.
func NewARM32Config(alloc frame.Allocator, ramBase, ramSize, mmioBase, mmioSize uintptr, highHalf uintptr) Config {
	sections := []Section{
		RAMSection(ramBase, ramSize),
		MMIOSection(mmioBase, mmioSize, 0),
	}
	return Config{
		Alloc:      alloc,
		Levels:     vm.ARMv7TwoLevel,
		Sections:   sections,
		HighHalf:   highHalf,
		DoubleMap:  ramBase < arm32TwoGiB,
		Controller: &arm32Controller{},
	}
}

// arm32Controller simulates enable_paging's register-level sequence:
// write the translation table base register, grant the kernel domain
// manager access, invalidate the instruction cache, then flip the MMU
// enable bit in the system control register. nucleus never runs on
// real ARM hardware, so each step only records that it ran; a port
// targeting actual silicon replaces this file's bodies with the
// corresponding CP15 writes.
type arm32Controller struct {
	base    frame.PhysAddr
	domains bool
	flushed bool
	enabled bool
}

func (c *arm32Controller) SetBase(root frame.PhysAddr) { c.base = root }

func (c *arm32Controller) SetDomains() { c.domains = true }

func (c *arm32Controller) InvalidateCaches() { c.flushed = true }

func (c *arm32Controller) Enable() { c.enabled = true }
