package arthook

import (
	"errors"
	"fmt"

	"github.com/pboyd/arthook/memory"
)

// Capabilities reports what the memory service allows in this process.
type Capabilities struct {
	// MapExecutable is true when executable memory can be mapped and
	// written. Without it no hook can be installed.
	MapExecutable bool
	// Unprotect is true when the probed code could be made writable.
	// Without it every method is hooked by redirecting entry fields.
	Unprotect bool
}

// Patchable reports whether compiled code can be patched in place.
func (c Capabilities) Patchable() bool {
	return c.MapExecutable && c.Unprotect
}

// Probe checks whether mem can map executable memory and whether the n bytes
// of code at entry can be unprotected. An entry of zero skips the second
// check. The returned error explains every capability that is missing.
func Probe(mem memory.Service, entry uint64, n int) (Capabilities, error) {
	var (
		c    Capabilities
		errs []error
	)

	if err := probeMap(mem); err != nil {
		errs = append(errs, fmt.Errorf("map executable: %w", err))
	} else {
		c.MapExecutable = true
	}

	if entry != 0 {
		if err := mem.Unprotect(entry, n); err != nil {
			errs = append(errs, fmt.Errorf("unprotect %#x: %w", entry, err))
		} else {
			c.Unprotect = true
		}
	}

	return c, errors.Join(errs...)
}

func probeMap(mem memory.Service) error {
	addr, err := mem.MapExecutable(memory.PageSize)
	if err != nil {
		return err
	}
	werr := mem.Write(addr, []byte{0})
	return errors.Join(werr, mem.Unmap(addr, memory.PageSize))
}
