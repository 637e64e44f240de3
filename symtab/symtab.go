// Package symtab resolves a faulting program counter to a symbol name
// for fatal-path diagnostics. Kernels typically link a generated
// symbol array at build time; nucleus has no code-generation step, so
// it loads the same information from an ELF binary's symbol table at
// runtime instead.
package symtab

import (
	"debug/elf"
	"fmt"
	"sort"
	"sync"

	"nucleus/kerr"
	"nucleus/vm"
)

type symbol struct {
	addr uintptr
	size uint64
	name string
}

// Table is a sorted symbol table consulted by Lookup/Diagnose.
type Table struct {
	mu   sync.RWMutex
	syms []symbol
}

// global is the table Diagnose consults when called as a bare package
// function. Effectively static for the kernel's lifetime; threading a
// *Table through every call site that might panic is not worth it.
var global = &Table{}

// Load reads the ELF symbol table at path and installs it as the
// table the package-level Diagnose consults.
func Load(path string) error {
	t, err := NewTable(path)
	if err != nil {
		return err
	}
	global = t
	return nil
}

// NewTable builds a standalone Table from the ELF binary at path,
// falling back to the dynamic symbol table if the binary carries no
// static one (e.g. it was stripped).
func NewTable(path string) (*Table, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	syms, err := f.Symbols()
	if err != nil || len(syms) == 0 {
		syms, err = f.DynamicSymbols()
		if err != nil {
			return nil, err
		}
	}

	t := &Table{}
	for _, s := range syms {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Value == 0 {
			continue
		}
		t.syms = append(t.syms, symbol{addr: uintptr(s.Value), size: s.Size, name: s.Name})
	}
	sort.Slice(t.syms, func(i, j int) bool { return t.syms[i].addr < t.syms[j].addr })
	return t, nil
}

// Lookup resolves pc to "name" or "name+offset", falling back to "??"
// when pc names no known function.
func (t *Table) Lookup(pc uintptr) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.syms) == 0 {
		return "??"
	}
	i := sort.Search(len(t.syms), func(i int) bool { return t.syms[i].addr > pc }) - 1
	if i < 0 {
		return "??"
	}
	s := t.syms[i]
	if s.size != 0 && pc >= s.addr+uintptr(s.size) {
		return "??"
	}
	if off := pc - s.addr; off != 0 {
		return fmt.Sprintf("%s+%#x", s.name, off)
	}
	return s.name
}

// CodeReader supplies up to n raw instruction bytes starting at pc,
// standing in for reading the kernel's own text segment. Diagnose
// omits the instruction dump when none is registered.
type CodeReader func(pc uintptr, n int) ([]byte, bool)

var codeReader CodeReader

// SetCodeReader installs the function Diagnose uses, on amd64, to
// fetch raw bytes for instruction decoding.
func SetCodeReader(r CodeReader) { codeReader = r }

// Diagnose builds the text of a Fatal diagnostic against the global
// table: the symbol owning pc, the faulting address, the access kind,
// and, on amd64 when a CodeReader is registered, the decoded
// faulting instruction.
func Diagnose(pc, fault uintptr, kind vm.AccessKind) string {
	return global.Diagnose(pc, fault, kind)
}

// Diagnoser adapts Diagnose to the kerr.Diagnoser shape, for wiring
// into vm.SetDiagnoser at boot so kernel-mode fault panics carry
// symbolized text instead of raw addresses.
func Diagnoser() kerr.Diagnoser {
	return func(pc, fault uintptr, kind int) string {
		return Diagnose(pc, fault, vm.AccessKind(kind))
	}
}

// Diagnose is the Table-bound form, for callers holding their own
// table rather than the package global (e.g. tests, or a kernel image
// other than the running one).
func (t *Table) Diagnose(pc, fault uintptr, kind vm.AccessKind) string {
	msg := fmt.Sprintf("fatal page fault: pc=%s fault_addr=%#x kind=%s", t.Lookup(pc), fault, kindName(kind))
	if insn := decodeInstruction(pc); insn != "" {
		msg += " insn=" + insn
	}
	return msg
}

func kindName(kind vm.AccessKind) string {
	switch kind {
	case vm.Read:
		return "read"
	case vm.Write:
		return "write"
	case vm.Execute:
		return "execute"
	default:
		return "unknown"
	}
}
