package isa

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/arch/arm/armasm"
)

const (
	armIP = 12
	armPC = 15

	armCondNE = 0x1
	armCondAL = 0xe
)

// LDR Rt, [PC, #±imm12]
func armLdrPC(rt uint32, imm int) uint32 {
	inst := uint32(armCondAL)<<28 | 0x051f0000 | rt<<12
	if imm >= 0 {
		inst |= 1 << 23
	} else {
		imm = -imm
	}
	return inst | uint32(imm)&0xfff
}

// CMP Rn, Rm
func armCmp(rn, rm uint32) uint32 {
	return uint32(armCondAL)<<28 | 0x01500000 | rn<<16 | rm
}

// B<cond> <label>, where offset is relative to the branch itself.
func armB(cond uint32, offset int) uint32 {
	return cond<<28 | 0x0a000000 | uint32((offset-8)>>2)&0xffffff
}

// ARM32Encoder generates code for the 32-bit ARM instruction set. The method
// identity is passed in r0.
type ARM32Encoder struct{}

func (ARM32Encoder) Name() string        { return "32-bit ARM" }
func (ARM32Encoder) Arch() Arch          { return ARM32 }
func (ARM32Encoder) PointerSize() int    { return 4 }
func (ARM32Encoder) Alignment() int      { return 4 }
func (ARM32Encoder) DirectJumpSize() int { return 8 }
func (ARM32Encoder) TargetJumpSize() int { return 32 }

func (e ARM32Encoder) CallOriginalSize() int { return 2 * e.DirectJumpSize() }

// DirectJump returns:
//
//	ldr pc, [pc, #-4]
//	.word target
func (ARM32Encoder) DirectJump(target uint64) ([]byte, error) {
	if err := check32(target); err != nil {
		return nil, err
	}
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:], armLdrPC(armPC, -4))
	binary.LittleEndian.PutUint32(buf[4:], uint32(target))
	return buf, nil
}

// TargetJump returns:
//
//	ldr ip, source
//	cmp r0, ip
//	bne next
//	ldr r0, targetRecord
//	ldr pc, targetCode
//	targetRecord: .word
//	targetCode:   .word
//	source:       .word
//	next:
func (ARM32Encoder) TargetJump(targetRecord, targetCode, sourceRecord uint64) ([]byte, error) {
	if err := check32(targetRecord, targetCode, sourceRecord); err != nil {
		return nil, err
	}

	const (
		litTargetRecord = 20
		litTargetCode   = 24
		litSource       = 28
		size            = 32
	)

	// PC reads as the current instruction plus 8.
	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf[0:], armLdrPC(armIP, litSource-(0+8)))
	binary.LittleEndian.PutUint32(buf[4:], armCmp(0, armIP))
	binary.LittleEndian.PutUint32(buf[8:], armB(armCondNE, size-8))
	binary.LittleEndian.PutUint32(buf[12:], armLdrPC(0, litTargetRecord-(12+8)))
	binary.LittleEndian.PutUint32(buf[16:], armLdrPC(armPC, litTargetCode-(16+8)))
	binary.LittleEndian.PutUint32(buf[litTargetRecord:], uint32(targetRecord))
	binary.LittleEndian.PutUint32(buf[litTargetCode:], uint32(targetCode))
	binary.LittleEndian.PutUint32(buf[litSource:], uint32(sourceRecord))
	return buf, nil
}

func (e ARM32Encoder) CallOriginal(original uint64, prologue []byte) ([]byte, error) {
	return callOriginal(e, original, prologue)
}

func (ARM32Encoder) ToPC(addr uint64) uint64 { return addr }
func (ARM32Encoder) ToMem(pc uint64) uint64  { return pc }

// CheckPrologue rejects instructions that read or write PC.
func (ARM32Encoder) CheckPrologue(prologue []byte) error {
	for i := 0; i+4 <= len(prologue); i += 4 {
		inst, err := armasm.Decode(prologue[i:i+4], armasm.ModeARM)
		if err != nil {
			return fmt.Errorf("%w: decode error at offset %d: %v", ErrPrologueNotRelocatable, i, err)
		}
		if armUsesPC(inst) {
			return fmt.Errorf("%w: %v uses pc at offset %d", ErrPrologueNotRelocatable, inst.Op, i)
		}
	}
	return nil
}

func armUsesPC(inst armasm.Inst) bool {
	for _, arg := range inst.Args {
		switch a := arg.(type) {
		case armasm.PCRel:
			return true
		case armasm.Reg:
			if a == armasm.PC {
				return true
			}
		case armasm.RegList:
			if a&(1<<15) != 0 {
				return true
			}
		case armasm.Mem:
			if a.Base == armasm.PC {
				return true
			}
		}
	}
	return false
}
