// Package isa generates the machine code used to redirect compiled methods.
//
// Every sequence an Encoder produces has a fixed size for its instruction
// set. That lets a hook page compute its size and the offset of every block
// without disassembling anything, and it lets several redirections share one
// entry address: each dispatch block compares the method identity passed in
// the first argument register and either jumps to its replacement or falls
// through to the next block.
package isa

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnsupported is returned when no encoder exists for an
	// architecture. Nothing can be hooked without one.
	ErrUnsupported = errors.New("instruction set not supported")

	// ErrAddressRange is returned when an address does not fit in the
	// literal an encoder embeds it in.
	ErrAddressRange = errors.New("address out of range")

	// ErrPrologueNotRelocatable is returned when the instructions that
	// would be moved out of a method's entry cannot run at another
	// address.
	ErrPrologueNotRelocatable = errors.New("prologue cannot be relocated")
)

// Arch identifies an instruction set.
type Arch int

const (
	ARM32 Arch = iota + 1
	Thumb2
	ARM64
	X86
)

func (a Arch) String() string {
	switch a {
	case ARM32:
		return "arm"
	case Thumb2:
		return "thumb2"
	case ARM64:
		return "arm64"
	case X86:
		return "x86"
	}
	return fmt.Sprintf("Arch(%d)", int(a))
}

// ParseArch parses the names returned by Arch.String. Android ABI names are
// accepted as well.
func ParseArch(s string) (Arch, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "arm", "arm32", "armeabi":
		return ARM32, nil
	case "thumb", "thumb2", "armeabi-v7a":
		return Thumb2, nil
	case "arm64", "aarch64", "arm64-v8a":
		return ARM64, nil
	case "x86", "386", "i386":
		return X86, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupported, s)
}

// UnmarshalText lets Arch be used in configuration structs.
func (a *Arch) UnmarshalText(text []byte) error {
	v, err := ParseArch(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// Encoder produces the code sequences for one instruction set.
type Encoder interface {
	// Name is a human readable description of the instruction set.
	Name() string
	Arch() Arch

	// PointerSize is the width of an address literal.
	PointerSize() int

	// Alignment is the alignment an address must have to hold a direct
	// jump.
	Alignment() int

	// DirectJumpSize is the length of DirectJump. It is at least 8 and a
	// multiple of 4.
	DirectJumpSize() int

	// DirectJump returns position independent code that transfers control
	// to target. target must already be in PC form.
	DirectJump(target uint64) ([]byte, error)

	// TargetJumpSize is the length of one dispatch block.
	TargetJumpSize() int

	// TargetJump returns a dispatch block: if the first argument register
	// equals sourceRecord, load targetRecord into it and jump to
	// targetCode; otherwise fall through to the next block.
	TargetJump(targetRecord, targetCode, sourceRecord uint64) ([]byte, error)

	// CallOriginalSize is always twice DirectJumpSize.
	CallOriginalSize() int

	// CallOriginal replays prologue, the bytes that were at original
	// before it was patched, then jumps to the rest of the original code.
	// original is a memory address.
	CallOriginal(original uint64, prologue []byte) ([]byte, error)

	// ToPC converts a memory address into the form used as a branch
	// target.
	ToPC(addr uint64) uint64

	// ToMem converts a branch target back into a memory address.
	ToMem(pc uint64) uint64

	// CheckPrologue returns ErrPrologueNotRelocatable if the given
	// prologue cannot be executed from a different address.
	CheckPrologue(prologue []byte) error
}

// Select returns the encoder for an architecture.
func Select(a Arch) (Encoder, error) {
	switch a {
	case ARM32:
		return ARM32Encoder{}, nil
	case Thumb2:
		return Thumb2Encoder{}, nil
	case ARM64:
		return ARM64Encoder{}, nil
	case X86:
		return X86Encoder{}, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrUnsupported, a)
}

// Detect maps a GOARCH value to an instruction set. 32-bit ARM code may be
// either ARM or Thumb2; thumb reports which one the runtime compiles to, as
// observed from the low bit of any compiled entry point.
func Detect(goarch string, thumb bool) (Arch, error) {
	switch goarch {
	case "arm64":
		return ARM64, nil
	case "arm":
		if thumb {
			return Thumb2, nil
		}
		return ARM32, nil
	case "386":
		return X86, nil
	}
	return 0, fmt.Errorf("%w: GOARCH=%s", ErrUnsupported, goarch)
}

func callOriginal(e Encoder, original uint64, prologue []byte) ([]byte, error) {
	n := e.DirectJumpSize()
	if len(prologue) < n {
		return nil, fmt.Errorf("prologue is %d bytes, need %d", len(prologue), n)
	}

	jump, err := e.DirectJump(e.ToPC(original + uint64(n)))
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 2*n)
	copy(buf, prologue[:n])
	copy(buf[n:], jump)
	return buf, nil
}

func check32(addrs ...uint64) error {
	for _, addr := range addrs {
		if addr > 0xffffffff {
			return fmt.Errorf("%w: %#x does not fit in 32 bits", ErrAddressRange, addr)
		}
	}
	return nil
}
