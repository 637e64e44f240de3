// Package kerr defines the five error kinds the virtual memory core can
// raise, following the surrounding packages' convention of small negative
// sentinel values compared by identity rather than errors.New strings.
package kerr

import "fmt"

// Err is a kernel error sentinel. Zero is never a valid Err; callers test
// against the named constants below, not against nil.
type Err int

const (
	// OutOfMemory means the frame layer returned frame.None.
	OutOfMemory Err = -(iota + 1)
	// InvalidMapping means an operation referenced a virtual address
	// with no mapping. Most callers treat this as a silent no-op
	// rather than surfacing it; it exists so map_remove/map_find can
	// report "nothing there" distinctly from a real failure.
	InvalidMapping
	// PermissionDenied means the access kind is not allowed by the
	// leaf PTE. Surfaces to the caller of PageFault as Outcome Fault.
	PermissionDenied
	// Deferred means the fault occurred inside a user-copy trampoline
	// that must abort and retry rather than touch hardware state.
	Deferred
	// Fatal means a core invariant was violated. The kernel does not
	// recover from Fatal; FatalWith below builds its diagnostic text.
	Fatal
)

func (e Err) Error() string {
	switch e {
	case OutOfMemory:
		return "out of memory"
	case InvalidMapping:
		return "invalid mapping"
	case PermissionDenied:
		return "permission denied"
	case Deferred:
		return "deferred"
	case Fatal:
		return "fatal"
	}
	return fmt.Sprintf("kerr.Err(%d)", int(e))
}

// Diagnoser builds the text accompanying a Fatal error. kind is the
// numeric access kind of the faulting operation. vm.SetDiagnoser
// consumes one; symtab.Diagnoser produces the symbolizing
// implementation. A function type is kept here so kerr imports
// neither package (symtab in turn pulls in the architecture-specific
// disassembler) just to describe the shape.
type Diagnoser func(pc, fault uintptr, kind int) string

// FatalWith panics with Fatal plus a diagnostic built by diag. Invariant
// violations the core cannot recover from (a double-free in the
// resource allocator, an unencoded exception cause) go through here so
// every such panic carries the same shape of information.
func FatalWith(diag string) {
	panic(fmt.Sprintf("%s: %s", Fatal, diag))
}
