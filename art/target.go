package art

import (
	"strings"

	"github.com/pkg/errors"
)

// ErrMalformedTarget is returned for target descriptors that cannot be parsed.
var ErrMalformedTarget = errors.New("malformed target")

// ConstructorName is the method name used for constructors.
const ConstructorName = "<init>"

// Target names the method a replacement is installed over, written
// "pkg.Class->method". The method part may be omitted, in which case the
// replacement's own name is used. "<init>" and "()" name a constructor.
type Target struct {
	Class  string
	Method string
}

// ParseTarget parses a target descriptor.
func ParseTarget(s string) (Target, error) {
	class, method, found := strings.Cut(strings.TrimSpace(s), "->")
	if class == "" {
		return Target{}, errors.Wrapf(ErrMalformedTarget, "%q: missing class", s)
	}
	if strings.ContainsAny(class, " ()") {
		return Target{}, errors.Wrapf(ErrMalformedTarget, "%q: invalid class name", s)
	}
	if found {
		if method == "" || strings.Contains(method, "->") {
			return Target{}, errors.Wrapf(ErrMalformedTarget, "%q: invalid method name", s)
		}
		if method == "()" {
			method = ConstructorName
		}
	}
	return Target{Class: class, Method: method}, nil
}

// Constructor reports whether the target names a constructor.
func (t Target) Constructor() bool {
	return t.Method == ConstructorName
}

func (t Target) String() string {
	if t.Method == "" {
		return t.Class
	}
	return t.Class + "->" + t.Method
}

// Declaration asks for Replacement to be installed over Target. A non-empty
// Identifier makes the backup retrievable by name.
type Declaration struct {
	Target      string
	Replacement Method
	Identifier  string
}
