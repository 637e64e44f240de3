package boot

import (
	"testing"

	"nucleus/frame"
)

func TestEnableARM32DoubleMapsLowRAM(t *testing.T) {
	fl := frame.NewFreeList(0x1000, 4096)
	cfg := NewARM32Config(fl, 0x10000, 0x4000, 0x4_0000_0000, 0x1000, 0x8000_0000)

	res, err := Enable(cfg)
	if err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if !cfg.DoubleMap {
		t.Fatalf("expected DoubleMap true for low RAM base")
	}

	ramVA := uintptr(0x10000)
	if _, ok := res.PT.MapFind(ramVA); !ok {
		t.Fatalf("expected identity mapping at %#x", ramVA)
	}
	highVA := cfg.HighHalf + ramVA
	if _, ok := res.PT.MapFind(highVA); !ok {
		t.Fatalf("expected high-half alias at %#x", highVA)
	}

	mmioVA := uintptr(0x4_0000_0000)
	pte, ok := res.PT.MapFind(mmioVA)
	if !ok {
		t.Fatalf("expected MMIO window mapped")
	}
	if pte.Flags()&0x10 /* PTECacheable */ != 0 {
		t.Fatalf("expected MMIO mapping to be non-cacheable")
	}
}

func TestEnableARM32SkipsDoubleMapAtTwoGiB(t *testing.T) {
	fl := frame.NewFreeList(0x1000, 4096)
	cfg := NewARM32Config(fl, arm32TwoGiB, 0x1000, 0x4_0000_0000, 0x1000, 0x8000_0000)

	res, err := Enable(cfg)
	if err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if cfg.DoubleMap {
		t.Fatalf("expected DoubleMap false when RAM starts at the 2 GiB boundary")
	}
	for _, m := range res.Mapped {
		if m.HighVA != 0 {
			t.Fatalf("expected no high-half alias recorded, got %#x", m.HighVA)
		}
	}
}

func TestEnableAMD64ProgramsController(t *testing.T) {
	fl := frame.NewFreeList(0x1000, 4096)
	cfg := NewAMD64Config(fl, 0x10000, 0x2000, 0xfee0_0000, 0x1000, 0xffff_8000_0000_0000)

	res, err := Enable(cfg)
	if err != nil {
		t.Fatalf("Enable: %v", err)
	}
	ctrl := cfg.Controller.(*amd64Controller)
	if !ctrl.enabled || !ctrl.flushed {
		t.Fatalf("expected Enable to invalidate caches and enable paging")
	}
	if ctrl.cr3 != res.PT.Root() {
		t.Fatalf("expected controller to receive the page table root")
	}
}
