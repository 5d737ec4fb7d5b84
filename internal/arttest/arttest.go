// Package arttest provides a fake managed runtime backed by simulated memory.
//
// Method records and compiled code live in a memory.Sim, so hooks are
// installed exactly as they would be in a real process. Invoking a method runs
// its compiled entry through a tiny AArch64 interpreter until control reaches
// a method body, which is a Go function.
package arttest

import (
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/pkg/errors"

	"github.com/pboyd/arthook/art"
	"github.com/pboyd/arthook/layout"
	"github.com/pboyd/arthook/memory"
)

const (
	// CodeBase is where compiled code images are loaded.
	CodeBase = 0x10000000

	// PrologueSize is the number of NOPs before every body.
	PrologueSize = 16

	// DefaultCodeSize is recorded in the header when MethodSpec.CodeSize is
	// zero.
	DefaultCodeSize = 0x40

	heapSize = 1 << 20
	nop      = 0xd503201f
	ret      = 0xd65f03c0
)

// Body implements a method. It runs with the record passed to the compiled
// code, which after a hook is the replacement's.
type Body func(c *Call) (any, error)

// Call is the state a Body runs with.
type Call struct {
	Runtime  *Runtime
	Method   *Method
	Receiver any
	Args     []any
}

// MethodSpec declares a method.
type MethodSpec struct {
	Class       string
	Name        string
	Return      string
	Params      []string
	Static      bool
	Constructor bool

	// Flags defaults to AccPublic.
	Flags uint64

	// CodeSize is written to the quick method header.
	CodeSize int

	// ShareWith makes the method use another method's compiled code.
	ShareWith *Method

	// Prologue replaces the NOPs before the body. It must be PrologueSize
	// bytes. Code with a custom prologue can only be invoked if the
	// interpreter understands it.
	Prologue []byte

	Body Body
}

// Runtime is a fake art.Runtime for 64-bit ARM.
type Runtime struct {
	Mem *memory.Sim

	// StepLimit bounds the number of instructions a single invocation may
	// execute.
	StepLimit int

	version string
	acc     *layout.Accessor

	heap     uint64
	heapUsed int
	nextCode uint64

	methods map[uint64]*Method
	bodies  map[uint64]Body
}

// New returns a runtime reporting the given API level.
func New(version string) (*Runtime, error) {
	r := &Runtime{
		Mem:       memory.NewSim(),
		StepLimit: 1000,
		version:   version,
		nextCode:  CodeBase,
		methods:   make(map[uint64]*Method),
		bodies:    make(map[uint64]Body),
	}

	acc, err := layout.NewAccessor(r, r.Mem, 8, version)
	if err != nil {
		return nil, err
	}
	r.acc = acc

	r.heap, err = r.Mem.MapData(heapSize)
	if err != nil {
		return nil, errors.Wrap(err, "failed to map record heap")
	}
	return r, nil
}

// Accessor returns the accessor the runtime uses for its own records.
func (r *Runtime) Accessor() *layout.Accessor {
	return r.acc
}

// AddMethod declares a method, allocating its record and compiled code.
func (r *Runtime) AddMethod(spec MethodSpec) (*Method, error) {
	if spec.Return == "" {
		spec.Return = art.Void
	}
	if spec.Flags == 0 {
		spec.Flags = art.AccPublic
	}
	if spec.Static {
		spec.Flags |= art.AccStatic
	}
	if spec.Constructor {
		spec.Flags |= art.AccConstructor
		spec.Name = art.ConstructorName
	}

	record, err := r.AllocRecord(r.acc.Size())
	if err != nil {
		return nil, err
	}

	m := &Method{
		rt:     r,
		record: record,
		class:  spec.Class,
		name:   spec.Name,
		ret:    spec.Return,
		params: slices.Clone(spec.Params),
		static: spec.Static,
		ctor:   spec.Constructor,
	}

	var entry uint64
	if spec.ShareWith != nil {
		entry = spec.ShareWith.entry
	} else {
		entry, err = r.loadCode(spec.CodeSize, spec.Prologue, spec.Body)
		if err != nil {
			return nil, err
		}
	}
	m.entry = entry

	if err := r.acc.Write(record, layout.AccessFlags, spec.Flags); err != nil {
		return nil, err
	}
	if err := r.acc.Write(record, layout.EntryCompiled, entry); err != nil {
		return nil, err
	}
	if err := r.acc.Write(record, layout.EntryNative, 0x7f000000+record&0xffff); err != nil {
		return nil, err
	}
	if r.acc.Layout().Has(layout.EntryInterpreted) {
		if err := r.acc.Write(record, layout.EntryInterpreted, 0x7e000000+record&0xffff); err != nil {
			return nil, err
		}
	}

	r.methods[record] = m
	return m, nil
}

// MustAddMethod is like AddMethod but panics on error.
func (r *Runtime) MustAddMethod(spec MethodSpec) *Method {
	m, err := r.AddMethod(spec)
	if err != nil {
		panic(err)
	}
	return m
}

// loadCode places a compiled method image:
//
//	[quick header, code size in the last 4 bytes] [PrologueSize NOPs] [ret]
//
// and returns the entry address. The body runs when control reaches the ret.
func (r *Runtime) loadCode(codeSize int, prologue []byte, body Body) (uint64, error) {
	if codeSize == 0 {
		codeSize = DefaultCodeSize
	}

	img := make([]byte, layout.QuickHeaderSize+PrologueSize+4)
	binary.LittleEndian.PutUint32(img[layout.QuickHeaderSize-4:], uint32(codeSize))
	switch {
	case prologue == nil:
		for i := 0; i < PrologueSize; i += 4 {
			binary.LittleEndian.PutUint32(img[layout.QuickHeaderSize+i:], nop)
		}
	case len(prologue) != PrologueSize:
		return 0, errors.Errorf("prologue is %d bytes, want %d", len(prologue), PrologueSize)
	default:
		copy(img[layout.QuickHeaderSize:], prologue)
	}
	binary.LittleEndian.PutUint32(img[layout.QuickHeaderSize+PrologueSize:], ret)

	base := r.nextCode
	r.nextCode += memory.PageSize
	if err := r.Mem.Load(base, img); err != nil {
		return 0, err
	}

	entry := base + layout.QuickHeaderSize
	r.bodies[entry+PrologueSize] = body
	return entry, nil
}

// Version implements art.Runtime.
func (r *Runtime) Version() string {
	return r.version
}

// Resolve implements art.Runtime.
func (r *Runtime) Resolve(class, name string, params []string) (art.Method, error) {
	for _, m := range r.methods {
		if m.clone {
			continue
		}
		if m.class == class && m.name == name && slices.Equal(m.params, params) {
			return m, nil
		}
	}
	return nil, errors.Wrapf(art.ErrNotFound, "%s->%s(%v)", class, name, params)
}

// Assignable implements art.Runtime. Every non-primitive type is assignable
// to java.lang.Object; otherwise types must match exactly.
func (r *Runtime) Assignable(to, from string) bool {
	if to == from {
		return true
	}
	return to == "java.lang.Object" && !primitive(from)
}

func primitive(t string) bool {
	switch t {
	case art.Void, "boolean", "byte", "char", "short", "int", "long", "float", "double":
		return true
	}
	return false
}

// AllocRecord implements art.Runtime.
func (r *Runtime) AllocRecord(size int) (uint64, error) {
	size = (size + 15) &^ 15
	if r.heapUsed+size > heapSize {
		return 0, errors.New("record heap exhausted")
	}
	addr := r.heap + uint64(r.heapUsed)
	r.heapUsed += size
	return addr, nil
}

// Rebind implements art.Runtime.
func (r *Runtime) Rebind(m art.Method, record uint64) (art.Method, error) {
	orig, ok := m.(*Method)
	if !ok {
		return nil, errors.Errorf("%T is not an arttest method", m)
	}
	clone := *orig
	clone.record = record
	clone.clone = true
	r.methods[record] = &clone
	return &clone, nil
}

// Invoke implements art.Runtime by running the method's compiled entry.
func (r *Runtime) Invoke(m art.Method, receiver any, args ...any) (any, error) {
	if m == nil {
		return nil, errors.New("invoke of nil method")
	}
	entry, err := r.acc.Read(m.Record(), layout.EntryCompiled)
	if err != nil {
		return nil, err
	}
	return r.execute(entry, m.Record(), receiver, args)
}

// Lookup returns the method whose record is at record.
func (r *Runtime) Lookup(record uint64) (*Method, bool) {
	m, ok := r.methods[record]
	return m, ok
}

// Method is a method declared with AddMethod, or a clone of one.
type Method struct {
	rt     *Runtime
	record uint64
	entry  uint64

	class, name, ret string
	params           []string
	static, ctor     bool
	clone            bool
}

func (m *Method) Record() uint64     { return m.record }
func (m *Method) Class() string      { return m.class }
func (m *Method) Name() string       { return m.name }
func (m *Method) ReturnType() string { return m.ret }
func (m *Method) Params() []string   { return m.params }
func (m *Method) Static() bool       { return m.static }
func (m *Method) Constructor() bool  { return m.ctor }

// Entry is the compiled entry address the method was declared with.
func (m *Method) Entry() uint64 { return m.entry }

// Clone reports whether the method is backed by a cloned record.
func (m *Method) Clone() bool { return m.clone }

func (m *Method) String() string {
	return fmt.Sprintf("%s@%#x", art.Describe(m), m.record)
}
