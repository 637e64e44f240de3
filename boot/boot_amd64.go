package boot

import (
	"nucleus/frame"
	"nucleus/vm"
)

// NewAMD64Config builds the Config for an AMD64 boot: a four-level page
// table, RAM mapped 1:1 starting at ramBase, plus an MMIO window,
// always double-mapped at the kernel's high-half link address. AMD64
// has no low-RAM-start special case the way the ARMv7 loader does.
func NewAMD64Config(alloc frame.Allocator, ramBase, ramSize, mmioBase, mmioSize uintptr, highHalf uintptr) Config {
	sections := []Section{
		RAMSection(ramBase, ramSize),
		MMIOSection(mmioBase, mmioSize, 0),
	}
	return Config{
		Alloc:      alloc,
		Levels:     vm.AMD64FourLevel,
		Sections:   sections,
		HighHalf:   highHalf,
		DoubleMap:  true,
		Controller: &amd64Controller{},
	}
}

// amd64Controller simulates loading CR3, the no-op domain step (AMD64
// has no ARM-style domain register), a WBINVD-equivalent cache flush,
// and setting CR0.PG. As with arm32Controller, nucleus has no real
// hardware to drive; a bare-metal port replaces these bodies with the
// corresponding MOV-to-control-register sequences.
type amd64Controller struct {
	cr3     frame.PhysAddr
	flushed bool
	enabled bool
}

func (c *amd64Controller) SetBase(root frame.PhysAddr) { c.cr3 = root }

// SetDomains is a no-op on AMD64: there is no domain-access-control
// register to program, unlike ARMv7's DACR.
func (c *amd64Controller) SetDomains() {}

func (c *amd64Controller) InvalidateCaches() { c.flushed = true }

func (c *amd64Controller) Enable() { c.enabled = true }
