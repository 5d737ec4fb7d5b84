package arthook

import (
	"errors"
	"fmt"

	"github.com/pboyd/arthook/art"
)

type methodDifferences struct {
	Return      *typeDifference
	Constructor *typeDifference
}

type typeDifference struct {
	Original    string
	Replacement string
}

func (d *methodDifferences) Error() error {
	errs := []error{}
	if d.Return != nil {
		errs = append(errs, fmt.Errorf("%w: %s cannot stand in for %s", ErrReturnType, d.Return.Replacement, d.Return.Original))
	}
	if d.Constructor != nil {
		errs = append(errs, fmt.Errorf("%w: constructor replacement must return %s, not %s", ErrReturnType, art.Void, d.Constructor.Replacement))
	}
	return errors.Join(errs...)
}

func diffMethods(rt art.Runtime, original, replacement art.Method) *methodDifferences {
	diff := methodDifferences{}

	if original.Constructor() {
		if replacement.ReturnType() != art.Void {
			diff.Constructor = &typeDifference{Original: art.Void, Replacement: replacement.ReturnType()}
		}
		return &diff
	}

	if !rt.Assignable(original.ReturnType(), replacement.ReturnType()) {
		diff.Return = &typeDifference{
			Original:    original.ReturnType(),
			Replacement: replacement.ReturnType(),
		}
	}
	return &diff
}

// validate checks that replacement may be installed over original without
// touching any state.
func validate(rt art.Runtime, original, replacement art.Method) error {
	if original == nil || replacement == nil {
		return errors.New("original and replacement are required")
	}
	if original.Record() == replacement.Record() {
		return fmt.Errorf("%w: %s", ErrIdentical, art.Describe(original))
	}
	return diffMethods(rt, original, replacement).Error()
}
