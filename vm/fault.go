package vm

import (
	"fmt"

	"nucleus/kerr"
)

// faultMode records whether the address space is inside a userspace
// copy (AddressSpace.copyMode, set to modeUserCopy by userbuf.go's tx
// for the length of a copy). Real kernels infer this from the faulting
// PC falling inside a known trampoline's address range; userbuf.go
// instead threads an explicit flag through the AddressSpace. The flag
// is only set while the copier holds the address-space lock, and
// PageFault takes that lock before reading it, so PageFault never finds
// it set and does not return Defer through it.
type faultMode int

const (
	modeNormal faultMode = iota
	modeUserCopy
)

// diagnose builds the text of a kernel-mode fault panic. The default
// formats the raw numbers; wiring symtab.Diagnoser() through
// SetDiagnoser upgrades it with symbol lookup (and, on amd64,
// instruction decode). A package variable rather than a field because
// there is one kernel image, hence one symbol table, per boot.
var diagnose kerr.Diagnoser = func(pc, fault uintptr, kind int) string {
	return fmt.Sprintf("fatal page fault: pc=%#x fault_addr=%#x kind=%d", pc, fault, kind)
}

// SetDiagnoser installs the formatter kernel-mode fault panics go
// through.
func SetDiagnoser(d kerr.Diagnoser) { diagnose = d }

// PageFault dispatches a fault at virtual address v for the given
// access kind: no covering region or a permission mismatch is a Fault;
// a covered, permitted access resolves through the region's backend
// and installs the mapping via MapInsert. Copy-on-write and
// file-backed paging belong to the backends, not to this dispatch.
//
// A Fault in user mode is returned for the surrounding kernel to turn
// into a process-termination signal. A Fault while tf reports the
// faulting context was privileged is unrecoverable: the kernel itself
// touched an unmapped or forbidden address, so PageFault panics with a
// Fatal diagnostic carrying the faulting address, access kind, and the
// trap frame's program counter run through the wired Diagnoser. A nil
// tf (no trap context, e.g. a synthetic fault from a kernel-internal
// prefetch) is treated as user mode.
func (as *AddressSpace) PageFault(v uintptr, kind AccessKind, tf TrapFrame) Outcome {
	as.Lock_pmap()
	defer as.Unlock_pmap()

	// Defer is returned when copyMode is modeUserCopy. BeginUserCopy
	// sets it only while Userbuf's Read/Write hold the lock taken just
	// above, so a PageFault from another goroutine waits for the copy
	// to end and then finds modeNormal. The copy's own page-ins go
	// through resolveFaultLocked directly and are unaffected by this
	// flag.
	if as.copyMode == modeUserCopy {
		return Defer
	}

	outcome := as.resolveFaultLocked(v, kind)
	if outcome == Fault && tf != nil && tf.Privileged() {
		kerr.FatalWith(diagnose(tf.PC(), v, int(kind)))
	}
	return outcome
}

// resolveFaultLocked is the actual fault-resolution logic, callable by
// code that already holds the address space lock (both PageFault and
// the user-copy trampolines in userbuf.go), avoiding a double-lock
// deadlock on the non-reentrant mutex.
func (as *AddressSpace) resolveFaultLocked(v uintptr, kind AccessKind) Outcome {
	as.Lockassert_pmap()

	r, ok := as.regions.Lookup(v)
	if !ok {
		return Fault
	}
	if !r.Perms.Allows(kind) {
		return Fault
	}

	pte, ok := as.pt.MapFind(v)
	if ok && pte.Present() {
		// A racing fault already mapped the page. Only short-circuit
		// when the installed entry actually satisfies this access: a
		// write fault on a present read-only entry must still reach
		// the backend so it can upgrade the mapping.
		if kind != Write || pte.Flags()&PTEWrite != 0 {
			return OK
		}
	}

	newPTE, err := r.Backend.Resolve(v)
	if err != nil {
		return Fault
	}

	flags := newPTE.Flags()
	if err := as.pt.MapInsert(v, newPTE.Frame(), flags); err != nil {
		return Fault
	}
	return OK
}

// BeginUserCopy marks the address space as being inside a user-copy
// trampoline; PageFault returns Defer while the mark is set. The mark
// exists only inside the caller's Lock_pmap span, and PageFault takes
// that lock first, so another goroutine's PageFault waits for the copy
// to end rather than returning Defer. The copy's own page-ins bypass
// this via resolveFaultLocked and are never deferred by their own flag.
//
// The caller must already hold the address space lock (tx calls this
// from inside Read/Write's Lock_pmap span); it does not lock itself.
func (as *AddressSpace) BeginUserCopy() {
	as.Lockassert_pmap()
	as.copyMode = modeUserCopy
}

// EndUserCopy clears the flag set by BeginUserCopy. Caller must already
// hold the address space lock.
func (as *AddressSpace) EndUserCopy() {
	as.Lockassert_pmap()
	as.copyMode = modeNormal
}
