// Package memory defines the low-level memory primitives the hook engine
// patches code through, along with a simulated address space for tests and
// dry runs and an in-process implementation for real use.
package memory

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// PageSize is the granularity used for mappings and protection changes.
const PageSize = 4096

var (
	// ErrUnmapped is returned when an access touches memory outside of any
	// known region.
	ErrUnmapped = errors.New("address not mapped")

	// ErrProtected is returned when writing to memory that has not been
	// unprotected.
	ErrProtected = errors.New("memory is write protected")

	// ErrDenied is returned when the operating system (or its security
	// policy) refuses a mapping or protection change.
	ErrDenied = errors.New("operation denied by policy")
)

// Service is the set of memory operations every patch and clone is expressed
// in. Implementations may fail at any step; callers must check every error.
type Service interface {
	// MapExecutable maps a fresh readable, writable and executable region
	// of at least size bytes.
	MapExecutable(size int) (uint64, error)
	// MapData maps a fresh readable and writable region of at least size
	// bytes. It is never executable.
	MapData(size int) (uint64, error)
	// Unmap releases a region returned by MapExecutable or MapData.
	Unmap(addr uint64, size int) error
	// Read copies n bytes starting at addr.
	Read(addr uint64, n int) ([]byte, error)
	// Write copies data to addr.
	Write(addr uint64, data []byte) error
	// Unprotect makes the pages covering [addr, addr+n) writable.
	Unprotect(addr uint64, n int) error
	// Copy copies n bytes from src to dst.
	Copy(src, dst uint64, n int) error
}

// Region is a (base, length) handle to a block of memory.
type Region struct {
	Addr uint64
	Size int
}

// End returns the first address past the region.
func (r Region) End() uint64 {
	return r.Addr + uint64(r.Size)
}

// Contains reports whether [addr, addr+n) lies within the region.
func (r Region) Contains(addr uint64, n int) bool {
	return addr >= r.Addr && addr+uint64(n) <= r.End()
}

func (r Region) String() string {
	return fmt.Sprintf("%#x-%#x", r.Addr, r.End())
}

// PageRange rounds [addr, addr+n) out to whole pages.
func PageRange(addr uint64, n int) Region {
	start := addr &^ (PageSize - 1)
	end := (addr + uint64(n) + PageSize - 1) &^ (PageSize - 1)
	return Region{Addr: start, Size: int(end - start)}
}

// ReadWord reads a little-endian word of width 4 or 8 bytes.
func ReadWord(svc Service, addr uint64, width int) (uint64, error) {
	buf, err := svc.Read(addr, width)
	if err != nil {
		return 0, err
	}
	switch width {
	case 4:
		return uint64(binary.LittleEndian.Uint32(buf)), nil
	case 8:
		return binary.LittleEndian.Uint64(buf), nil
	}
	return 0, errors.Errorf("unsupported word width %d", width)
}

// WriteWord writes a little-endian word of width 4 or 8 bytes.
func WriteWord(svc Service, addr uint64, width int, v uint64) error {
	buf := make([]byte, width)
	switch width {
	case 4:
		if v > 0xffffffff {
			return errors.Errorf("value %#x does not fit in 4 bytes", v)
		}
		binary.LittleEndian.PutUint32(buf, uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(buf, v)
	default:
		return errors.Errorf("unsupported word width %d", width)
	}
	return svc.Write(addr, buf)
}
