package layout

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/pboyd/arthook/art"
	"github.com/pboyd/arthook/memory"
)

// Accessor reads and writes method records through a memory.Service.
type Accessor struct {
	layout *Layout
	ptr    int
	mem    memory.Service
	rt     art.Runtime
}

// NewAccessor returns an Accessor for the runtime. An empty ver selects the
// layout from rt.Version().
func NewAccessor(rt art.Runtime, mem memory.Service, ptrSize int, ver string) (*Accessor, error) {
	if ptrSize != 4 && ptrSize != 8 {
		return nil, errors.Errorf("invalid pointer size %d", ptrSize)
	}
	if ver == "" {
		ver = rt.Version()
	}
	l, err := ForVersion(ver)
	if err != nil {
		return nil, err
	}
	return &Accessor{layout: l, ptr: ptrSize, mem: mem, rt: rt}, nil
}

func (a *Accessor) Layout() *Layout      { return a.layout }
func (a *Accessor) PointerSize() int     { return a.ptr }
func (a *Accessor) Size() int            { return a.layout.Size(a.ptr) }
func (a *Accessor) QuickHeaderSize() int { return QuickHeaderSize }

// Read returns a field of the record at record.
func (a *Accessor) Read(record uint64, f Field) (uint64, error) {
	off, width, err := a.layout.Locate(f, a.ptr)
	if err != nil {
		return 0, err
	}
	v, err := memory.ReadWord(a.mem, record+uint64(off), width)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read %s of %#x", f, record)
	}
	return v, nil
}

// Write sets a field of the record at record.
func (a *Accessor) Write(record uint64, f Field, v uint64) error {
	off, width, err := a.layout.Locate(f, a.ptr)
	if err != nil {
		return err
	}
	if err := memory.WriteWord(a.mem, record+uint64(off), width, v); err != nil {
		return errors.Wrapf(err, "failed to write %s of %#x", f, record)
	}
	return nil
}

// Clone copies m's record into a fresh allocation and returns a method bound
// to the copy. The entry points of the copy are unchanged. Release frees it.
func (a *Accessor) Clone(m art.Method) (art.Method, error) {
	size := a.Size()

	var (
		record uint64
		err    error
	)
	if a.layout.Managed {
		record, err = a.rt.AllocRecord(size)
	} else {
		record, err = a.mem.MapData(size)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to allocate %d byte record", size)
	}

	if err := a.mem.Copy(m.Record(), record, size); err != nil {
		a.free(record)
		return nil, errors.Wrapf(err, "failed to copy record of %s", art.Describe(m))
	}

	clone, err := a.Rebind(m, record)
	if err != nil {
		a.free(record)
		return nil, err
	}
	return clone, nil
}

// Release frees a record created by Clone. Managed records belong to the
// runtime and are left alone.
func (a *Accessor) Release(m art.Method) error {
	if a.layout.Managed {
		return nil
	}
	return a.mem.Unmap(m.Record(), a.Size())
}

func (a *Accessor) free(record uint64) {
	if !a.layout.Managed {
		a.mem.Unmap(record, a.Size())
	}
}

// Rebind returns a method with assoc's declaration backed by record.
func (a *Accessor) Rebind(assoc art.Method, record uint64) (art.Method, error) {
	m, err := a.rt.Rebind(assoc, record)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to rebind %s to %#x", art.Describe(assoc), record)
	}
	return m, nil
}

// Demote makes the record private, so calls to it are never dispatched
// virtually.
func (a *Accessor) Demote(record uint64) error {
	flags, err := a.Read(record, AccessFlags)
	if err != nil {
		return err
	}
	flags = (flags | art.AccPrivate) &^ (art.AccPublic | art.AccProtected)
	return a.Write(record, AccessFlags, flags)
}

// CodeSize returns the size of the compiled code at entry, as recorded in the
// quick method header. entry is a memory address.
func (a *Accessor) CodeSize(entry uint64) (int, error) {
	buf, err := a.mem.Read(entry-4, 4)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read code size of %#x", entry)
	}
	return int(binary.LittleEndian.Uint32(buf) & 0x7fffffff), nil
}
