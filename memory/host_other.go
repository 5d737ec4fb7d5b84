//go:build !(linux || android || freebsd || darwin || netbsd || openbsd)

package memory

import "github.com/pkg/errors"

// Host is unavailable on this platform; every operation fails with ErrDenied.
type Host struct{}

// NewHost returns a Service that refuses every operation.
func NewHost() *Host {
	return &Host{}
}

func (*Host) MapExecutable(size int) (uint64, error) {
	return 0, errors.Wrap(ErrDenied, "mmap")
}

func (*Host) MapData(size int) (uint64, error) {
	return 0, errors.Wrap(ErrDenied, "mmap")
}

func (*Host) Unmap(addr uint64, size int) error {
	return errors.Wrap(ErrDenied, "munmap")
}

func (*Host) Read(addr uint64, n int) ([]byte, error) {
	return nil, errors.Wrap(ErrDenied, "read")
}

func (*Host) Write(addr uint64, data []byte) error {
	return errors.Wrap(ErrDenied, "write")
}

func (*Host) Unprotect(addr uint64, n int) error {
	return errors.Wrap(ErrDenied, "mprotect")
}

func (*Host) Copy(src, dst uint64, n int) error {
	return errors.Wrap(ErrDenied, "copy")
}
