//go:build linux || android || freebsd || darwin || netbsd || openbsd

package memory

import (
	"sync"
	"unsafe"

	"github.com/pboyd/malloc"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const (
	protRX  = unix.PROT_READ | unix.PROT_EXEC
	protRWX = unix.PROT_READ | unix.PROT_WRITE | unix.PROT_EXEC
)

// Host operates on the memory of the current process. Addresses are real
// pointers, so every method trusts its caller completely.
//
// Executable regions are carved out of an mmap-backed arena that is kept
// read-execute except while Host itself is writing to it. Data regions come
// from a second arena that is read-write and never executable.
type Host struct {
	code hostArena
	data hostArena

	mu      sync.Mutex
	regions map[uint64]hostRegion
}

type hostRegion struct {
	buf   []byte
	arena *hostArena
}

// NewHost returns a Service for the current process.
func NewHost() *Host {
	return &Host{
		code:    hostArena{exec: true},
		regions: make(map[uint64]hostRegion),
	}
}

// MapExecutable implements Service.
func (h *Host) MapExecutable(size int) (uint64, error) {
	addr, err := h.mapIn(&h.code, size)
	if err != nil {
		return 0, errors.Wrap(err, "failed to allocate executable region")
	}
	return addr, nil
}

// MapData implements Service.
func (h *Host) MapData(size int) (uint64, error) {
	addr, err := h.mapIn(&h.data, size)
	if err != nil {
		return 0, errors.Wrap(err, "failed to allocate data region")
	}
	return addr, nil
}

func (h *Host) mapIn(a *hostArena, size int) (uint64, error) {
	if size <= 0 {
		return 0, errors.Errorf("invalid mapping size %d", size)
	}

	var buf []byte
	err := a.writable(func() error {
		var err error
		buf, err = a.alloc(size)
		return err
	})
	if err != nil {
		return 0, err
	}
	addr := uint64(uintptr(unsafe.Pointer(unsafe.SliceData(buf))))

	h.mu.Lock()
	h.regions[addr] = hostRegion{buf: buf, arena: a}
	h.mu.Unlock()

	return addr, nil
}

// Unmap implements Service.
func (h *Host) Unmap(addr uint64, size int) error {
	h.mu.Lock()
	r, ok := h.regions[addr]
	switch {
	case !ok:
		h.mu.Unlock()
		return errors.Wrapf(ErrUnmapped, "unmap %#x", addr)
	case len(r.buf) != size:
		h.mu.Unlock()
		return errors.Errorf("unmap size %d does not match mapping of %d bytes", size, len(r.buf))
	}
	delete(h.regions, addr)
	h.mu.Unlock()

	return r.arena.writable(func() error {
		r.arena.free(r.buf)
		return nil
	})
}

// Read implements Service.
func (h *Host) Read(addr uint64, n int) ([]byte, error) {
	if addr == 0 {
		return nil, errors.Wrap(ErrUnmapped, "read from nil address")
	}
	buf := make([]byte, n)
	copy(buf, hostSlice(addr, n))
	return buf, nil
}

// Write implements Service. Writes that land in an executable region owned by
// Host are bracketed by the protection changes they need; anything else must
// have been unprotected first.
func (h *Host) Write(addr uint64, data []byte) error {
	if addr == 0 {
		return errors.Wrap(ErrUnmapped, "write to nil address")
	}

	write := func() error {
		dst := hostSlice(addr, len(data))
		copy(dst, data)
		cacheflush(dst)
		return nil
	}
	if h.owns(addr, len(data)) {
		return h.code.writable(write)
	}
	return write()
}

// Unprotect implements Service.
func (h *Host) Unprotect(addr uint64, n int) error {
	pages := PageRange(addr, n)
	region := hostSlice(pages.Addr, pages.Size)
	if err := unix.Mprotect(region, protRWX); err != nil {
		return errors.Wrapf(ErrDenied, "mprotect %s: %v", pages, err)
	}
	return nil
}

// Copy implements Service.
func (h *Host) Copy(src, dst uint64, n int) error {
	buf, err := h.Read(src, n)
	if err != nil {
		return err
	}
	return h.Write(dst, buf)
}

// owns reports whether [addr, addr+n) lies in an executable region mapped by
// Host.
func (h *Host) owns(addr uint64, n int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for base, r := range h.regions {
		if r.arena == &h.code && (Region{Addr: base, Size: len(r.buf)}).Contains(addr, n) {
			return true
		}
	}
	return false
}

func hostSlice(addr uint64, n int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), n)
}

// hostArena hands out memory from a malloc arena. The arena is created
// lazily, sized by the first request. An executable arena is only writable
// inside writable.
type hostArena struct {
	exec bool

	mu      sync.Mutex
	arena   *malloc.Arena
	protect func(int) error
}

// writable runs fn with the arena mapped read-write-execute and restores
// read-execute afterwards. Calls do not nest.
func (a *hostArena) writable(fn func() error) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.protect != nil {
		if err := a.protect(protRWX); err != nil {
			return errors.Wrap(err, "failed to make arena writable")
		}
	}
	fnErr := fn()
	if a.protect != nil {
		if err := a.protect(protRX); err != nil {
			return errors.Wrap(err, "failed to make arena executable")
		}
	}
	return fnErr
}

// alloc must be called inside writable.
func (a *hostArena) alloc(size int) ([]byte, error) {
	if a.arena == nil {
		var be malloc.ArenaBackend
		if a.exec {
			// PROT_READ and PROT_WRITE are always added by the backend.
			be = malloc.MmapBackend(malloc.MmapProt(unix.PROT_EXEC))
			if p, ok := be.(malloc.ProtectedArenaBackend); ok {
				a.protect = p.Protect
			}
		} else {
			be = malloc.MmapBackend()
		}
		a.arena = malloc.NewArena(uint64(size), malloc.Backend(be))
		if a.arena == nil {
			return nil, errors.New("unable to initialize arena")
		}
	}
	return malloc.MallocSlice[byte](a.arena, size)
}

// free must be called inside writable.
func (a *hostArena) free(buf []byte) {
	malloc.FreeSlice(a.arena, buf)
}
