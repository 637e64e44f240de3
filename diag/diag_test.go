package diag

import (
	"strings"
	"testing"

	"nucleus/frame"
	"nucleus/res"
)

func TestLogFatalDedupsRepeatedCallPath(t *testing.T) {
	fl := frame.NewFreeList(0x1000, 4)
	d := New(fl)

	logOnce := func() { d.LogFatal("double free in arena") }
	for i := 0; i < 3; i++ {
		logOnce()
	}

	out := d.Drain()
	if n := strings.Count(out, "double free in arena"); n != 1 {
		t.Fatalf("expected the repeated call path to be logged once, got %d: %q", n, out)
	}
}

func TestArenaTableReportsSpanOccupancy(t *testing.T) {
	a := res.NewArena()
	a.AddSpan(0x1000, 0x4000)
	base := a.Allocate(0x1000, 0x1000)
	if base == res.None {
		t.Fatalf("Allocate failed")
	}

	// The printer groups digits per locale, so 0x1000 renders "4,096".
	out := ArenaTable(a)
	if !strings.Contains(out, "used=4,096") {
		t.Fatalf("ArenaTable() = %q, want a used=4,096 span", out)
	}
}

func TestArenaProfileTagsSamplesWithDevice(t *testing.T) {
	a := res.NewArena()
	a.AddSpan(0x2000, 0x2000)
	if base := a.Allocate(0x1000, 0x1000); base == res.None {
		t.Fatalf("Allocate failed")
	}

	p := ArenaProfile(a)
	if len(p.Sample) != 1 {
		t.Fatalf("expected one sample per span, got %d", len(p.Sample))
	}
	if got := p.Sample[0].Value[0]; got != 0x1000 {
		t.Fatalf("sample value = %d, want 4096", got)
	}
	if _, ok := p.Sample[0].NumLabel["device"]; !ok {
		t.Fatalf("expected the sample to carry a device label")
	}
}
