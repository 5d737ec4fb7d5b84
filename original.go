package arthook

import (
	"github.com/pboyd/arthook/art"
)

// Original is a handle to the behavior a hook replaced. It calls a private
// clone of the original method record whose compiled entry was never
// redirected to the replacement.
type Original struct {
	reg         *Registry
	target      art.Method
	replacement art.Method
	backup      art.Method
	identifier  string
}

// Invoke calls the original behavior on receiver. Errors raised by the
// callee are returned unchanged.
func (o *Original) Invoke(receiver any, args ...any) (any, error) {
	return o.reg.rt.Invoke(o.backup, receiver, args...)
}

// InvokeStatic calls the original behavior of a static method.
func (o *Original) InvokeStatic(args ...any) (any, error) {
	return o.reg.rt.Invoke(o.backup, nil, args...)
}

// Target returns the hooked method.
func (o *Original) Target() art.Method {
	return o.target
}

// Replacement returns the method calls are redirected to.
func (o *Original) Replacement() art.Method {
	o.reg.mu.RLock()
	defer o.reg.mu.RUnlock()
	return o.replacement
}

// Backup returns the private clone Invoke calls.
func (o *Original) Backup() art.Method {
	return o.backup
}

// Identifier returns the name the handle was installed under, if any.
func (o *Original) Identifier() string {
	o.reg.mu.RLock()
	defer o.reg.mu.RUnlock()
	return o.identifier
}
