package isa

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"golang.org/x/arch/arm/armasm"
	"golang.org/x/arch/arm64/arm64asm"
	"golang.org/x/arch/x86/x86asm"
)

// Disassemble renders code, which will execute at addr, one instruction per
// line. Literal pools decode as whatever instruction their bits happen to
// form, or "?".
func Disassemble(a Arch, addr uint64, code []byte) (string, error) {
	var buf bytes.Buffer

	line := func(off, n int, asm string) {
		fmt.Fprintf(&buf, "0x%08x\t%-20s\t%s\n", addr+uint64(off), hex.EncodeToString(code[off:off+n]), asm)
	}

	switch a {
	case ARM64:
		for i := 0; i < len(code)&^3; i += 4 {
			asm := "?"
			if inst, err := arm64asm.Decode(code[i:]); err == nil {
				asm = inst.String()
			}
			line(i, 4, asm)
		}
	case ARM32:
		for i := 0; i < len(code)&^3; i += 4 {
			asm := "?"
			if inst, err := armasm.Decode(code[i:], armasm.ModeARM); err == nil {
				asm = inst.String()
			}
			line(i, 4, asm)
		}
	case Thumb2:
		// No Thumb decoder exists in x/arch; print halfwords, pairing
		// those that start a 32-bit encoding.
		for i := 0; i+2 <= len(code); {
			hw := binary.LittleEndian.Uint16(code[i:])
			if hw>>11 >= 0x1d && i+4 <= len(code) {
				line(i, 4, ".inst.w")
				i += 4
				continue
			}
			line(i, 2, ".inst.n")
			i += 2
		}
	case X86:
		for i := 0; i < len(code); {
			inst, err := x86asm.Decode(code[i:], 32)
			if err != nil {
				line(i, 1, "?")
				i++
				continue
			}
			line(i, inst.Len, inst.String())
			i += inst.Len
		}
	default:
		return "", fmt.Errorf("%w: %v", ErrUnsupported, a)
	}

	return buf.String(), nil
}
