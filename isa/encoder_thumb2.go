package isa

import (
	"encoding/binary"
)

// Thumb instructions are stored as little-endian halfwords, first halfword
// first.
func putThumb32(buf []byte, hw1, hw2 uint16) {
	binary.LittleEndian.PutUint16(buf[0:], hw1)
	binary.LittleEndian.PutUint16(buf[2:], hw2)
}

// LDR.W Rt, [PC, #imm12]
func thumbLdrPC(rt uint16, imm int) (uint16, uint16) {
	return 0xf8df, rt<<12 | uint16(imm)&0xfff
}

// LDR Rt, [PC, #imm8*4] (16-bit, low registers only)
func thumbLdrPC16(rt uint16, imm int) uint16 {
	return 0x4800 | rt<<8 | uint16(imm>>2)&0xff
}

// CMP Rn, Rm (16-bit, any registers)
func thumbCmp(rn, rm uint16) uint16 {
	return 0x4500 | (rn&8)<<4 | rm<<3 | rn&7
}

// B<cond>.W <label>, for small forward offsets relative to the branch.
func thumbBCond(cond uint16, offset int) (uint16, uint16) {
	imm := uint16((offset - 4) >> 1)
	return 0xf000 | cond<<6 | (imm>>11)&0x3f, 0x8000 | imm&0x7ff
}

// Thumb2Encoder generates Thumb2 code. Branch targets carry the interworking
// bit, so ToPC and ToMem are not the identity. The method identity is passed
// in r0.
type Thumb2Encoder struct{}

func (Thumb2Encoder) Name() string        { return "16/32-bit Thumb2" }
func (Thumb2Encoder) Arch() Arch          { return Thumb2 }
func (Thumb2Encoder) PointerSize() int    { return 4 }
func (Thumb2Encoder) Alignment() int      { return 4 }
func (Thumb2Encoder) DirectJumpSize() int { return 8 }
func (Thumb2Encoder) TargetJumpSize() int { return 28 }

func (e Thumb2Encoder) CallOriginalSize() int { return 2 * e.DirectJumpSize() }

// DirectJump returns:
//
//	ldr.w pc, [pc]
//	.word target
//
// The block must start 4-byte aligned so that Align(PC, 4) is the literal.
func (Thumb2Encoder) DirectJump(target uint64) ([]byte, error) {
	if err := check32(target); err != nil {
		return nil, err
	}
	buf := make([]byte, 8)
	hw1, hw2 := thumbLdrPC(armPC, 0)
	putThumb32(buf[0:], hw1, hw2)
	binary.LittleEndian.PutUint32(buf[4:], uint32(target))
	return buf, nil
}

// TargetJump returns:
//
//	ldr.w ip, source
//	cmp   r0, ip
//	bne.w next
//	ldr   r0, targetRecord
//	ldr.w pc, targetCode
//	targetRecord: .word
//	targetCode:   .word
//	source:       .word
//	next:
func (Thumb2Encoder) TargetJump(targetRecord, targetCode, sourceRecord uint64) ([]byte, error) {
	if err := check32(targetRecord, targetCode, sourceRecord); err != nil {
		return nil, err
	}

	const (
		litTargetRecord = 16
		litTargetCode   = 20
		litSource       = 24
		size            = 28
	)

	// Literal loads use Align(PC, 4), where PC is the instruction plus 4.
	buf := make([]byte, size)
	hw1, hw2 := thumbLdrPC(armIP, litSource-4)
	putThumb32(buf[0:], hw1, hw2)
	binary.LittleEndian.PutUint16(buf[4:], thumbCmp(0, armIP))
	hw1, hw2 = thumbBCond(armCondNE, size-6)
	putThumb32(buf[6:], hw1, hw2)
	binary.LittleEndian.PutUint16(buf[10:], thumbLdrPC16(0, litTargetRecord-12))
	hw1, hw2 = thumbLdrPC(armPC, litTargetCode-16)
	putThumb32(buf[12:], hw1, hw2)
	binary.LittleEndian.PutUint32(buf[litTargetRecord:], uint32(targetRecord))
	binary.LittleEndian.PutUint32(buf[litTargetCode:], uint32(targetCode))
	binary.LittleEndian.PutUint32(buf[litSource:], uint32(sourceRecord))
	return buf, nil
}

func (e Thumb2Encoder) CallOriginal(original uint64, prologue []byte) ([]byte, error) {
	return callOriginal(e, original, prologue)
}

func (Thumb2Encoder) ToPC(addr uint64) uint64 { return addr | 1 }
func (Thumb2Encoder) ToMem(pc uint64) uint64  { return pc &^ 1 }

// CheckPrologue accepts everything. There is no Thumb decoder available, so
// relocation is best effort.
func (Thumb2Encoder) CheckPrologue([]byte) error {
	return nil
}
