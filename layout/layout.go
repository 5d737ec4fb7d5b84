// Package layout knows where the fields of a method record live for each
// supported runtime version.
//
// Records have a fixed "mirror" part, which holds the access flags, followed on
// most versions by a run of pointer-sized native fields holding the entry
// points. On the first Lollipop release every field lives at a fixed offset
// instead.
package layout

import (
	"fmt"

	"github.com/hashicorp/go-version"
	"github.com/pkg/errors"
)

var (
	// ErrUnsupportedRuntime is returned when no layout matches the runtime
	// version.
	ErrUnsupportedRuntime = errors.New("unsupported runtime version")

	// ErrFieldUnsupported is returned when accessing a field the runtime
	// version does not have.
	ErrFieldUnsupported = errors.New("field not supported by this runtime version")
)

// QuickHeaderSize is the size of the header that precedes compiled code.
const QuickHeaderSize = 24

// Field is a method record attribute.
type Field int

const (
	EntryCompiled Field = iota
	EntryInterpreted
	EntryNative
	AccessFlags
)

func (f Field) String() string {
	switch f {
	case EntryCompiled:
		return "entryPointFromQuickCompiledCode"
	case EntryInterpreted:
		return "entryPointFromInterpreter"
	case EntryNative:
		return "entryPointFromJni"
	case AccessFlags:
		return "accessFlags"
	}
	return fmt.Sprintf("Field(%d)", int(f))
}

// slot locates a field. A field is either at a fixed offset with a fixed
// width, or is native field #index after the mirror part.
type slot struct {
	offset int
	width  int
	native int
}

func fixed(offset, width int) slot { return slot{offset: offset, width: width, native: -1} }
func native(index int) slot        { return slot{native: index} }

// Layout describes the method record of one runtime version.
type Layout struct {
	Name       string
	Constraint string

	// Managed records are heap objects allocated by the runtime.
	Managed bool

	mirror32, mirror64 int
	natives            int
	slots              map[Field]slot
}

var layouts = []*Layout{
	{
		Name:       "LMR0",
		Constraint: "= 21",
		Managed:    true,
		mirror32:   80,
		mirror64:   80,
		slots: map[Field]slot{
			AccessFlags:      fixed(64, 4),
			EntryInterpreted: fixed(24, 8),
			EntryNative:      fixed(32, 8),
			EntryCompiled:    fixed(48, 8),
		},
	},
	{
		Name:       "LMR1",
		Constraint: "= 22",
		Managed:    true,
		mirror32:   36,
		mirror64:   40,
		natives:    3,
		slots: map[Field]slot{
			AccessFlags:      fixed(20, 4),
			EntryInterpreted: native(0),
			EntryNative:      native(1),
			EntryCompiled:    native(2),
		},
	},
	{
		Name:       "M",
		Constraint: "= 23",
		mirror32:   28,
		mirror64:   32,
		natives:    3,
		slots: map[Field]slot{
			AccessFlags:      fixed(12, 4),
			EntryInterpreted: native(0),
			EntryNative:      native(1),
			EntryCompiled:    native(2),
		},
	},
	{
		Name:       "N",
		Constraint: ">= 24, < 26",
		mirror32:   20,
		mirror64:   24,
		natives:    4,
		slots: map[Field]slot{
			AccessFlags:   fixed(4, 4),
			EntryNative:   native(2),
			EntryCompiled: native(3),
		},
	},
	{
		Name:       "O",
		Constraint: ">= 26",
		mirror32:   20,
		mirror64:   24,
		natives:    4,
		slots: map[Field]slot{
			AccessFlags:   fixed(4, 4),
			EntryNative:   native(1),
			EntryCompiled: native(2),
		},
	},
}

// ForVersion returns the layout for a runtime API level.
func ForVersion(v string) (*Layout, error) {
	ver, err := version.NewVersion(v)
	if err != nil {
		return nil, errors.Wrapf(ErrUnsupportedRuntime, "failed to parse version %q: %v", v, err)
	}

	for _, l := range layouts {
		c, err := version.NewConstraint(l.Constraint)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid constraint for %s", l.Name)
		}
		if c.Check(ver) {
			return l, nil
		}
	}
	return nil, errors.Wrapf(ErrUnsupportedRuntime, "version %s", v)
}

// Size is the size of a record for the given pointer width.
func (l *Layout) Size(ptrSize int) int {
	return l.mirror(ptrSize) + l.natives*ptrSize
}

// Has reports whether the layout has a field.
func (l *Layout) Has(f Field) bool {
	_, ok := l.slots[f]
	return ok
}

// Locate returns the offset and width of a field.
func (l *Layout) Locate(f Field, ptrSize int) (offset, width int, err error) {
	s, ok := l.slots[f]
	if !ok {
		return 0, 0, errors.Wrapf(ErrFieldUnsupported, "%s on %s", f, l.Name)
	}
	if s.native < 0 {
		return s.offset, s.width, nil
	}
	return l.mirror(ptrSize) + s.native*ptrSize, ptrSize, nil
}

func (l *Layout) mirror(ptrSize int) int {
	if ptrSize == 8 {
		return l.mirror64
	}
	return l.mirror32
}

func (l *Layout) String() string {
	return l.Name
}
