package isa

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/arch/arm64/arm64asm"
)

const (
	// x9 is a caller saved scratch register that the managed calling
	// convention never uses for arguments.
	a64Scratch = 9

	a64CondNE = 1
)

// LDR Xt, <label>
//
// ------------------------------------------
// | 01011000 | ... 19 bit offset ... | Rt |
// ------------------------------------------
func a64LdrLiteral(rt uint32, offset int) uint32 {
	return 0x58000000 | uint32(offset>>2)&0x7ffff<<5 | rt
}

// CMP Xn, Xm (SUBS XZR, Xn, Xm)
func a64Cmp(rn, rm uint32) uint32 {
	return 0xeb000000 | rm<<16 | rn<<5 | 31
}

// B.<cond> <label>
func a64BCond(cond uint32, offset int) uint32 {
	return 0x54000000 | uint32(offset>>2)&0x7ffff<<5 | cond
}

// BR Xn
func a64Br(rn uint32) uint32 {
	return 0xd61f0000 | rn<<5
}

// ARM64Encoder generates AArch64 code. The method identity is passed in x0.
type ARM64Encoder struct{}

func (ARM64Encoder) Name() string        { return "64-bit ARM" }
func (ARM64Encoder) Arch() Arch          { return ARM64 }
func (ARM64Encoder) PointerSize() int    { return 8 }
func (ARM64Encoder) Alignment() int      { return 4 }
func (ARM64Encoder) DirectJumpSize() int { return 16 }
func (ARM64Encoder) TargetJumpSize() int { return 48 }

func (e ARM64Encoder) CallOriginalSize() int { return 2 * e.DirectJumpSize() }

// DirectJump returns:
//
//	ldr x9, 1f
//	br  x9
//	1: .quad target
func (ARM64Encoder) DirectJump(target uint64) ([]byte, error) {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:], a64LdrLiteral(a64Scratch, 8))
	binary.LittleEndian.PutUint32(buf[4:], a64Br(a64Scratch))
	binary.LittleEndian.PutUint64(buf[8:], target)
	return buf, nil
}

// TargetJump returns:
//
//	ldr  x9, source
//	cmp  x0, x9
//	b.ne next
//	ldr  x0, targetRecord
//	ldr  x9, targetCode
//	br   x9
//	targetRecord: .quad
//	targetCode:   .quad
//	source:       .quad
//	next:
func (ARM64Encoder) TargetJump(targetRecord, targetCode, sourceRecord uint64) ([]byte, error) {
	const (
		litTargetRecord = 24
		litTargetCode   = 32
		litSource       = 40
		size            = 48
	)

	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf[0:], a64LdrLiteral(a64Scratch, litSource-0))
	binary.LittleEndian.PutUint32(buf[4:], a64Cmp(0, a64Scratch))
	binary.LittleEndian.PutUint32(buf[8:], a64BCond(a64CondNE, size-8))
	binary.LittleEndian.PutUint32(buf[12:], a64LdrLiteral(0, litTargetRecord-12))
	binary.LittleEndian.PutUint32(buf[16:], a64LdrLiteral(a64Scratch, litTargetCode-16))
	binary.LittleEndian.PutUint32(buf[20:], a64Br(a64Scratch))
	binary.LittleEndian.PutUint64(buf[litTargetRecord:], targetRecord)
	binary.LittleEndian.PutUint64(buf[litTargetCode:], targetCode)
	binary.LittleEndian.PutUint64(buf[litSource:], sourceRecord)
	return buf, nil
}

func (e ARM64Encoder) CallOriginal(original uint64, prologue []byte) ([]byte, error) {
	return callOriginal(e, original, prologue)
}

func (ARM64Encoder) ToPC(addr uint64) uint64 { return addr }
func (ARM64Encoder) ToMem(pc uint64) uint64  { return pc }

// CheckPrologue rejects any PC-relative instruction. ADRP and BL could be
// relocated, but ART prologues only contain stack checks and register
// spills, so anything else means the entry is not what we expect.
func (ARM64Encoder) CheckPrologue(prologue []byte) error {
	for i := 0; i+4 <= len(prologue); i += 4 {
		inst, err := arm64asm.Decode(prologue[i : i+4])
		if err != nil {
			return fmt.Errorf("%w: decode error at offset %d: %v", ErrPrologueNotRelocatable, i, err)
		}
		for _, arg := range inst.Args {
			if _, ok := arg.(arm64asm.PCRel); ok {
				return fmt.Errorf("%w: PC-relative %v at offset %d", ErrPrologueNotRelocatable, inst.Op, i)
			}
		}
	}
	return nil
}
