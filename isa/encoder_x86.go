package isa

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

const (
	x86CmpEAX = 0x3d // cmp eax, imm32
	x86JNE8   = 0x75 // jne rel8
	x86MovEAX = 0xb8 // mov eax, imm32
	x86Push32 = 0x68 // push imm32
	x86Ret    = 0xc3
	x86Int3   = 0xcc
)

// X86Encoder generates 32-bit x86 code. The method identity is passed in
// eax. Support is best effort: jumps are built from push/ret pairs, which
// needs no scratch register but unbalances the return stack predictor.
type X86Encoder struct{}

func (X86Encoder) Name() string        { return "32-bit x86" }
func (X86Encoder) Arch() Arch          { return X86 }
func (X86Encoder) PointerSize() int    { return 4 }
func (X86Encoder) Alignment() int      { return 1 }
func (X86Encoder) DirectJumpSize() int { return 8 }
func (X86Encoder) TargetJumpSize() int { return 20 }

func (e X86Encoder) CallOriginalSize() int { return 2 * e.DirectJumpSize() }

// DirectJump returns:
//
//	push target
//	ret
//	int3
//	int3
func (X86Encoder) DirectJump(target uint64) ([]byte, error) {
	if err := check32(target); err != nil {
		return nil, err
	}
	buf := []byte{x86Push32, 0, 0, 0, 0, x86Ret, x86Int3, x86Int3}
	binary.LittleEndian.PutUint32(buf[1:], uint32(target))
	return buf, nil
}

// TargetJump returns:
//
//	cmp  eax, source
//	jne  next
//	mov  eax, targetRecord
//	push targetCode
//	ret
//	int3
//	int3
//	next:
func (X86Encoder) TargetJump(targetRecord, targetCode, sourceRecord uint64) ([]byte, error) {
	if err := check32(targetRecord, targetCode, sourceRecord); err != nil {
		return nil, err
	}

	buf := make([]byte, 20)
	buf[0] = x86CmpEAX
	binary.LittleEndian.PutUint32(buf[1:], uint32(sourceRecord))
	buf[5] = x86JNE8
	buf[6] = byte(len(buf) - 7)
	buf[7] = x86MovEAX
	binary.LittleEndian.PutUint32(buf[8:], uint32(targetRecord))
	buf[12] = x86Push32
	binary.LittleEndian.PutUint32(buf[13:], uint32(targetCode))
	buf[17] = x86Ret
	buf[18] = x86Int3
	buf[19] = x86Int3
	return buf, nil
}

func (e X86Encoder) CallOriginal(original uint64, prologue []byte) ([]byte, error) {
	return callOriginal(e, original, prologue)
}

func (X86Encoder) ToPC(addr uint64) uint64 { return addr }
func (X86Encoder) ToMem(pc uint64) uint64  { return pc }

// CheckPrologue requires the prologue to end on an instruction boundary and
// to contain no relative branches.
func (e X86Encoder) CheckPrologue(prologue []byte) error {
	n := e.DirectJumpSize()
	if len(prologue) < n {
		return fmt.Errorf("%w: prologue is %d bytes, need %d", ErrPrologueNotRelocatable, len(prologue), n)
	}

	for i := 0; i < n; {
		inst, err := x86asm.Decode(prologue[i:], 32)
		if err != nil {
			return fmt.Errorf("%w: decode error at offset %d: %v", ErrPrologueNotRelocatable, i, err)
		}
		for _, arg := range inst.Args {
			if _, ok := arg.(x86asm.Rel); ok {
				return fmt.Errorf("%w: relative %v at offset %d", ErrPrologueNotRelocatable, inst.Op, i)
			}
		}
		if i+inst.Len > n {
			return fmt.Errorf("%w: %v at offset %d crosses the patch boundary", ErrPrologueNotRelocatable, inst.Op, i)
		}
		i += inst.Len
	}
	return nil
}
