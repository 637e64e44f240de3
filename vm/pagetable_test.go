package vm

import (
	"testing"

	"nucleus/frame"
)

func TestPageTableInsertFindAMD64(t *testing.T) {
	fl := frame.NewFreeList(0x0010_0000, 64)
	pt, err := NewPageTable(fl, AMD64FourLevel)
	if err != nil {
		t.Fatalf("NewPageTable: %v", err)
	}

	leaf, ok := fl.Alloc(0, 0)
	if !ok {
		t.Fatalf("alloc leaf frame")
	}

	va := uintptr(0x0000_1234_5670_0000)
	if err := pt.MapInsert(va, leaf, PTEWrite|PTEUser); err != nil {
		t.Fatalf("MapInsert: %v", err)
	}

	pte, ok := pt.MapFind(va)
	if !ok {
		t.Fatalf("MapFind: expected a mapping")
	}
	if pte.Frame() != leaf {
		t.Fatalf("MapFind: got frame %#x, want %#x", pte.Frame(), leaf)
	}
	if !pte.Present() {
		t.Fatalf("MapFind: expected Present")
	}
	if pte.Flags()&PTEWrite == 0 {
		t.Fatalf("MapFind: expected PTEWrite set")
	}
}

func TestPageTableRemoveClearsMapping(t *testing.T) {
	fl := frame.NewFreeList(0x0020_0000, 64)
	pt, err := NewPageTable(fl, AMD64FourLevel)
	if err != nil {
		t.Fatalf("NewPageTable: %v", err)
	}
	leaf, _ := fl.Alloc(0, 0)

	va := uintptr(0x0000_7fff_0000_0000)
	if err := pt.MapInsert(va, leaf, PTEWrite); err != nil {
		t.Fatalf("MapInsert: %v", err)
	}
	pt.MapRemove(va)

	if _, ok := pt.MapFind(va); ok {
		t.Fatalf("MapFind: expected no mapping after MapRemove")
	}
}

// TestPageTableRemoveFreesEmptyTables checks scenario S2: removing the
// only mapping in a subtree frees every intermediate table it created,
// leaving the frame count exactly where it started except for the
// pinned root.
func TestPageTableRemoveFreesEmptyTables(t *testing.T) {
	fl := frame.NewFreeList(0x0030_0000, 64)
	before := fl.Avail()

	pt, err := NewPageTable(fl, AMD64FourLevel)
	if err != nil {
		t.Fatalf("NewPageTable: %v", err)
	}
	afterRoot := fl.Avail()
	if afterRoot != before-1 {
		t.Fatalf("root alloc: avail %d, want %d", afterRoot, before-1)
	}

	leaf, _ := fl.Alloc(0, 0)
	afterLeaf := fl.Avail()
	va := uintptr(0x0000_0001_0000_0000)
	if err := pt.MapInsert(va, leaf, PTEWrite); err != nil {
		t.Fatalf("MapInsert: %v", err)
	}

	// Three intermediate tables (PDPT, PD, PT) were materialized for
	// this single mapping.
	afterInsert := fl.Avail()
	if afterInsert != afterLeaf-3 {
		t.Fatalf("after insert: avail %d, want %d (3 intermediate tables)", afterInsert, afterLeaf-3)
	}

	pt.MapRemove(va)
	afterRemove := fl.Avail()
	if afterRemove != afterLeaf {
		t.Fatalf("after remove: avail %d, want %d (intermediate tables freed, root and leaf frame kept)", afterRemove, afterLeaf)
	}

	fl.Free(leaf)
	if fl.Avail() != before-1 {
		t.Fatalf("net avail %d, want %d (root still pinned)", fl.Avail(), before-1)
	}

	pt.FreeRoot()
	if fl.Avail() != before {
		t.Fatalf("after FreeRoot: avail %d, want %d", fl.Avail(), before)
	}
}

// TestPageTableARMv7TwoLevel exercises a collapsed LevelConfig: the two
// middle levels contribute zero bits, so a root entry directly covers a
// 256-entry leaf table.
func TestPageTableARMv7TwoLevel(t *testing.T) {
	fl := frame.NewFreeList(0x0040_0000, 16)
	pt, err := NewPageTable(fl, ARMv7TwoLevel)
	if err != nil {
		t.Fatalf("NewPageTable: %v", err)
	}
	leaf, _ := fl.Alloc(0, 0)

	va := uintptr(0x8012_3000)
	if err := pt.MapInsert(va, leaf, PTEWrite); err != nil {
		t.Fatalf("MapInsert: %v", err)
	}
	pte, ok := pt.MapFind(va)
	if !ok || pte.Frame() != leaf {
		t.Fatalf("MapFind: got %#x ok=%v, want %#x", pte.Frame(), ok, leaf)
	}

	pt.MapRemove(va)
	if _, ok := pt.MapFind(va); ok {
		t.Fatalf("MapFind: expected no mapping after MapRemove")
	}
}

// TestPageTableFlatLeafOnly exercises a fully collapsed hierarchy: a
// single flat leaf table rooted at level 3, the shape a software-walked
// target keeps when it needs no hardware tree at all.
func TestPageTableFlatLeafOnly(t *testing.T) {
	fl := frame.NewFreeList(0x0090_0000, 16)
	flat := LevelConfig{Entries: [4]int{0, 0, 0, 1024}}

	pt, err := NewPageTable(fl, flat)
	if err != nil {
		t.Fatalf("NewPageTable: %v", err)
	}
	leaf, _ := fl.Alloc(0, 0)

	va := uintptr(0x5000)
	if err := pt.MapInsert(va, leaf, PTEWrite); err != nil {
		t.Fatalf("MapInsert: %v", err)
	}
	pte, ok := pt.MapFind(va)
	if !ok || pte.Frame() != leaf {
		t.Fatalf("MapFind: got %#x ok=%v, want %#x", pte.Frame(), ok, leaf)
	}

	pt.MapRemove(va)
	if _, ok := pt.MapFind(va); ok {
		t.Fatalf("MapFind: expected no mapping after MapRemove")
	}
}

func TestLevelConfigShiftAMD64(t *testing.T) {
	lc := AMD64FourLevel
	want := []uint{39, 30, 21, 12}
	for level, w := range want {
		if got := lc.shift(level); got != w {
			t.Fatalf("shift(%d): got %d, want %d", level, got, w)
		}
	}
}

func TestLevelConfigCollapsedLevelsAreIdentity(t *testing.T) {
	lc := ARMv7TwoLevel
	if idx := lc.index(1, 0xdeadbeef); idx != 0 {
		t.Fatalf("collapsed level 1 index: got %d, want 0", idx)
	}
	if idx := lc.index(2, 0xdeadbeef); idx != 0 {
		t.Fatalf("collapsed level 2 index: got %d, want 0", idx)
	}
}
