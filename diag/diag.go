// Package diag bundles the kernel's introspection tooling: fault/
// refill/shootdown counters, a bounded ring log for fatal-path text,
// call-path-deduplicated warnings, and tabular/profile dumps of the
// resource arena. None of this participates in the fault path's
// correctness; every method here is diagnostic.
package diag

import (
	"fmt"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"nucleus/circbuf"
	"nucleus/defs"
	"nucleus/frame"
	"nucleus/res"
	"nucleus/stats"
)

// Counters aggregates the virtual-memory core's per-subsystem event
// counts as a plain struct of stats counters rendered by reflection.
type Counters struct {
	PageFaults   stats.Counter_t
	TLBRefills   stats.Counter_t
	Shootdowns   stats.Counter_t
	FaultCycles  stats.Cycles_t
	RefillCycles stats.Cycles_t
}

// String renders every counter, or "" when counting is compiled out
// (stats.Enabled is a constant false in a normal build; flip it for a
// counting build).
func (c *Counters) String() string {
	return stats.Render(*c)
}

// distinctCaller recognizes the first call from each unique call
// chain. The chain hash is a cheap multiply-xor over the return PCs; a
// collision only costs a suppressed duplicate log line, never a
// correctness bug.
type distinctCaller struct {
	mu      sync.Mutex
	enabled bool
	seen    map[uintptr]bool
}

func pathHash(pcs []uintptr) uintptr {
	var h uintptr
	for _, pc := range pcs {
		pc = pc*1103515245 + 12345
		h ^= pc
	}
	return h
}

// distinct reports whether the chain calling it has not been seen
// before, along with a formatted stack trace when it hasn't.
func (dc *distinctCaller) distinct() (bool, string) {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	if !dc.enabled {
		return false, ""
	}
	if dc.seen == nil {
		dc.seen = make(map[uintptr]bool)
	}

	pcs := make([]uintptr, 30)
	pcs = pcs[:runtime.Callers(3, pcs)]
	h := pathHash(pcs)
	if dc.seen[h] {
		return false, ""
	}
	dc.seen[h] = true

	frames := runtime.CallersFrames(pcs)
	var b strings.Builder
	for {
		fr, more := frames.Next()
		fmt.Fprintf(&b, "%s (%s:%d)\n", fr.Function, fr.File, fr.Line)
		if !more || fr.Function == "runtime.goexit" {
			break
		}
	}
	return true, b.String()
}

// Diag bundles one address space's (or the whole kernel's) diagnostic
// state: counters, a bounded fatal-text log, and caller-path dedup so
// a hot loop hitting the same warning does not flood the log on every
// iteration.
type Diag struct {
	Counters Counters

	log    circbuf.Circbuf_t
	recent distinctCaller
}

// New creates a Diag whose fatal log is backed by a single frame from
// alloc, allocated lazily on first write.
func New(alloc frame.Allocator) *Diag {
	d := &Diag{}
	if err := d.log.Cb_init(frame.Size, alloc); err != 0 {
		panic("diag.New: " + err.Error())
	}
	d.recent.enabled = true
	return d
}

// LogFatal appends msg to the bounded ring log, but only the first
// time this call path produces it: a panic-adjacent warning raised
// every time through a hot fault path is recorded once, not once per
// fault.
func (d *Diag) LogFatal(msg string) {
	if distinct, _ := d.recent.distinct(); !distinct {
		return
	}
	d.log.Copyin(strings.NewReader(msg + "\n"))
}

// Drain returns and clears the buffered fatal-log text.
func (d *Diag) Drain() string {
	var b strings.Builder
	d.log.Copyout(&b)
	return b.String()
}

// printer renders occupancy tables with locale-aware digit grouping; a
// long-running kernel's byte counts are unreadable without separators.
var printer = message.NewPrinter(language.English)

// ArenaTable renders one line per span: base, size, and used bytes. A
// plain text dump meant for a console, not a structured report.
func ArenaTable(a *res.Arena) string {
	var b strings.Builder
	for _, s := range a.Snapshot() {
		printer.Fprintf(&b, "span %#x size=%d used=%d\n", s.Base, s.Size, s.UsedBytes)
	}
	return b.String()
}

// StatDevice is the device id counter dumps are tagged with, pairing
// them with the section tags the boot memory map carries.
var StatDevice = defs.Mkdev(0, defs.D_STAT)
