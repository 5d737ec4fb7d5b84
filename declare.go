package arthook

import (
	"errors"
	"fmt"

	"github.com/pboyd/arthook/art"
)

// InstallDeclaration resolves the method a declaration targets and installs
// its replacement over it.
func (r *Registry) InstallDeclaration(d art.Declaration) (*Original, error) {
	if d.Replacement == nil {
		return nil, fmt.Errorf("%w: no replacement for %q", art.ErrMalformedTarget, d.Target)
	}
	original, err := r.findTarget(d)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %q: %w", d.Target, err)
	}
	return r.Install(original, d.Replacement, d.Identifier)
}

// InstallAll installs every declaration. A failing declaration is logged and
// skipped; the returned error joins every failure. The returned handles line
// up with decls, with nil for failures.
func (r *Registry) InstallAll(decls []art.Declaration) ([]*Original, error) {
	handles := make([]*Original, len(decls))
	var errs []error

	for i, d := range decls {
		o, err := r.InstallDeclaration(d)
		if err != nil {
			r.log.WithError(err).WithField("target", d.Target).Warn("skipping hook")
			errs = append(errs, err)
			continue
		}
		handles[i] = o
	}

	return handles, errors.Join(errs...)
}

// findTarget resolves a declaration's target. Replacements for instance
// methods take the receiver as their first parameter, so a static match on
// the full parameter list is tried first, then an instance match on the rest.
func (r *Registry) findTarget(d art.Declaration) (art.Method, error) {
	target, err := art.ParseTarget(d.Target)
	if err != nil {
		return nil, err
	}

	name := target.Method
	if name == "" {
		name = d.Replacement.Name()
	}

	params := d.Replacement.Params()
	var rest []string
	if len(params) > 0 {
		rest = params[1:]
	}

	if target.Constructor() {
		return r.rt.Resolve(target.Class, art.ConstructorName, rest)
	}

	if m, err := r.rt.Resolve(target.Class, name, params); err == nil && m.Static() {
		return m, nil
	}
	if m, err := r.rt.Resolve(target.Class, name, rest); err == nil && !m.Static() {
		return m, nil
	}
	return nil, fmt.Errorf("%w: %s->%s", art.ErrNotFound, target.Class, name)
}
