//go:build !amd64

package symtab

// decodeInstruction has no decoder outside amd64: every other target
// this core carries a TLB manager for (ARM32, IA-32, IA-64, MIPS32,
// PowerPC32) gets no disassembled-instruction line in Fatal text, only
// the symbol/address/kind fields Diagnose always produces.
func decodeInstruction(pc uintptr) string { return "" }
