// Package art describes the managed runtime as seen by the hook engine: method
// records and the small set of reflective operations needed to find, clone and
// call them.
package art

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by Runtime.Resolve when no method matches.
var ErrNotFound = errors.New("method not found")

// Access flags stored in a method record.
const (
	AccPublic      = 0x0001
	AccPrivate     = 0x0002
	AccProtected   = 0x0004
	AccStatic      = 0x0008
	AccFinal       = 0x0010
	AccNative      = 0x0100
	AccConstructor = 0x10000
)

var modifierNames = []struct {
	flag uint64
	name string
}{
	{AccPublic, "public"},
	{AccProtected, "protected"},
	{AccPrivate, "private"},
	{AccStatic, "static"},
	{AccFinal, "final"},
	{AccNative, "native"},
	{AccConstructor, "constructor"},
}

// Modifiers formats access flags the way they appear in a declaration.
// Unknown bits are ignored.
func Modifiers(flags uint64) string {
	var names []string
	for _, m := range modifierNames {
		if flags&m.flag != 0 {
			names = append(names, m.name)
		}
	}
	return strings.Join(names, " ")
}

// Void is the return type of methods that return nothing.
const Void = "void"

// Method is a handle to a method known to the runtime. Two handles refer to
// the same method if and only if their records are equal.
type Method interface {
	// Record is the address of the runtime's method record. It is the
	// identity compared by dispatch code.
	Record() uint64
	Class() string
	Name() string
	ReturnType() string
	// Params are the declared parameter types, excluding the receiver.
	Params() []string
	Static() bool
	Constructor() bool
}

// Runtime is the reflective surface of the managed runtime.
type Runtime interface {
	// Version is the runtime's API level, e.g. "23".
	Version() string

	// Resolve finds a method declared by class. Constructors are named
	// "<init>". Errors wrap ErrNotFound when nothing matches.
	Resolve(class, name string, params []string) (Method, error)

	// Assignable reports whether a value of type from can be used where
	// type to is expected.
	Assignable(to, from string) bool

	// AllocRecord allocates a method record managed by the runtime. Only
	// used by runtime versions where method records are heap objects.
	AllocRecord(size int) (uint64, error)

	// Rebind returns a method with the same declaration as m, backed by
	// the record at record.
	Rebind(m Method, record uint64) (Method, error)

	// Invoke calls m. receiver is nil for static methods. Errors raised by
	// the callee are returned unchanged.
	Invoke(m Method, receiver any, args ...any) (any, error)
}

// Describe formats a method as class->name(params) for logs and errors.
func Describe(m Method) string {
	if m == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s->%s(%s)", m.Class(), m.Name(), strings.Join(m.Params(), ", "))
}
