//go:build amd64

package symtab

import "golang.org/x/arch/x86/x86asm"

// maxInsnLen is the longest an x86 instruction can legally encode to.
const maxInsnLen = 15

// decodeInstruction fetches the faulting instruction's bytes through
// the registered CodeReader and decodes them, so a fatal dump shows
// the mnemonic alongside the symbolized PC.
func decodeInstruction(pc uintptr) string {
	if codeReader == nil {
		return ""
	}
	buf, ok := codeReader(pc, maxInsnLen)
	if !ok || len(buf) == 0 {
		return ""
	}
	inst, err := x86asm.Decode(buf, 64)
	if err != nil {
		return ""
	}
	return inst.String()
}
