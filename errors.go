package arthook

import "errors"

var (
	// ErrIdentical is returned when a method is hooked with itself.
	ErrIdentical = errors.New("original and replacement are the same method")

	// ErrReturnType is returned when the replacement's return type cannot
	// stand in for the original's.
	ErrReturnType = errors.New("return types do not match")

	// ErrFunctionTooSmall is returned when compiled code is too short to
	// hold a jump and small functions are rejected.
	ErrFunctionTooSmall = errors.New("compiled code too small to patch")

	// ErrUnaligned is returned when a compiled entry is not aligned well
	// enough for the direct jump to find its literal, and small functions
	// are rejected.
	ErrUnaligned = errors.New("compiled entry not aligned for patching")

	// ErrActivation is returned when memory for a hook page cannot be
	// mapped or the original code cannot be made writable. Nothing was
	// redirected.
	ErrActivation = errors.New("failed to activate hook page")

	// ErrInvalidOptions is returned by NewRegistry for inconsistent
	// options.
	ErrInvalidOptions = errors.New("invalid options")

	// ErrNotHooked is returned when uninstalling a method that has no hook.
	ErrNotHooked = errors.New("method is not hooked")

	// ErrClosed is returned by a Registry after Close.
	ErrClosed = errors.New("registry closed")
)
