package memory

import (
	"sort"

	"github.com/pkg/errors"
)

// simBase is where Sim starts handing out mappings. It sits well above the
// addresses tests usually load images at.
const simBase = 0x70000000

// Sim is a simulated address space: an arena of byte regions addressed by
// explicit (base, length) handles. It tracks write protection per page so
// that patching code without unprotecting it first fails the way it would in
// a real process.
//
// Mapped addresses are never reused, so a stale pointer into an unmapped
// region always faults.
type Sim struct {
	regions []*simRegion
	next    uint64

	// DenyMap makes MapExecutable fail with ErrDenied.
	DenyMap bool
	// DenyData makes MapData fail with ErrDenied.
	DenyData bool
	// DenyUnprotect makes Unprotect fail with ErrDenied.
	DenyUnprotect bool
}

type simRegion struct {
	Region
	data []byte
	// writable pages, by page index within the region
	writable []bool
	mapped   bool
	exec     bool
}

// NewSim returns an empty address space.
func NewSim() *Sim {
	return &Sim{next: simBase}
}

// Load places a read-only image at a fixed address, as if it were compiled
// code loaded by the runtime.
func (s *Sim) Load(addr uint64, data []byte) error {
	r := Region{Addr: addr, Size: len(data)}
	if r.Size == 0 {
		return errors.New("empty image")
	}
	if s.overlaps(r) {
		return errors.Errorf("image %s overlaps an existing region", r)
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	s.insert(&simRegion{
		Region:   r,
		data:     buf,
		writable: make([]bool, pagesIn(r)),
	})
	return nil
}

// MapExecutable implements Service.
func (s *Sim) MapExecutable(size int) (uint64, error) {
	if s.DenyMap {
		return 0, errors.Wrap(ErrDenied, "mmap")
	}
	return s.mapRegion(size, true)
}

// MapData implements Service.
func (s *Sim) MapData(size int) (uint64, error) {
	if s.DenyData {
		return 0, errors.Wrap(ErrDenied, "mmap")
	}
	return s.mapRegion(size, false)
}

func (s *Sim) mapRegion(size int, exec bool) (uint64, error) {
	if size <= 0 {
		return 0, errors.Errorf("invalid mapping size %d", size)
	}
	size = (size + PageSize - 1) &^ (PageSize - 1)
	r := &simRegion{
		Region:   Region{Addr: s.next, Size: size},
		data:     make([]byte, size),
		writable: make([]bool, size/PageSize),
		mapped:   true,
		exec:     exec,
	}
	for i := range r.writable {
		r.writable[i] = true
	}
	// Leave a guard page between mappings.
	s.next += uint64(size) + PageSize
	s.insert(r)
	return r.Addr, nil
}

// Unmap implements Service.
func (s *Sim) Unmap(addr uint64, size int) error {
	for i, r := range s.regions {
		if r.Addr != addr {
			continue
		}
		if !r.mapped {
			return errors.Errorf("region at %#x was not mapped", addr)
		}
		if (size+PageSize-1)&^(PageSize-1) != r.Size {
			return errors.Errorf("unmap size %d does not match mapping of %d bytes", size, r.Size)
		}
		s.regions = append(s.regions[:i], s.regions[i+1:]...)
		return nil
	}
	return errors.Wrapf(ErrUnmapped, "unmap %#x", addr)
}

// Read implements Service.
func (s *Sim) Read(addr uint64, n int) ([]byte, error) {
	r, err := s.find(addr, n)
	if err != nil {
		return nil, err
	}
	off := addr - r.Addr
	buf := make([]byte, n)
	copy(buf, r.data[off:off+uint64(n)])
	return buf, nil
}

// Write implements Service.
func (s *Sim) Write(addr uint64, data []byte) error {
	r, err := s.find(addr, len(data))
	if err != nil {
		return err
	}
	if !r.isWritable(addr, len(data)) {
		return errors.Wrapf(ErrProtected, "write %d bytes at %#x", len(data), addr)
	}
	copy(r.data[addr-r.Addr:], data)
	return nil
}

// Unprotect implements Service.
func (s *Sim) Unprotect(addr uint64, n int) error {
	if s.DenyUnprotect {
		return errors.Wrapf(ErrDenied, "mprotect %#x", addr)
	}
	r, err := s.find(addr, n)
	if err != nil {
		return err
	}
	base := r.Addr &^ (PageSize - 1)
	pages := PageRange(addr, n)
	for p := pages.Addr; p < pages.End(); p += PageSize {
		r.writable[(p-base)/PageSize] = true
	}
	return nil
}

// Copy implements Service.
func (s *Sim) Copy(src, dst uint64, n int) error {
	buf, err := s.Read(src, n)
	if err != nil {
		return err
	}
	return s.Write(dst, buf)
}

// Executable reports whether [addr, addr+n) lies in a region mapped by
// MapExecutable.
func (s *Sim) Executable(addr uint64, n int) bool {
	r, err := s.find(addr, n)
	return err == nil && r.exec
}

// Mapped returns the regions created by MapExecutable or MapData that are
// still live.
func (s *Sim) Mapped() []Region {
	var out []Region
	for _, r := range s.regions {
		if r.mapped {
			out = append(out, r.Region)
		}
	}
	return out
}

// Writable reports whether every byte of [addr, addr+n) may be written.
func (s *Sim) Writable(addr uint64, n int) bool {
	r, err := s.find(addr, n)
	if err != nil {
		return false
	}
	return r.isWritable(addr, n)
}

func (s *Sim) find(addr uint64, n int) (*simRegion, error) {
	if n < 0 {
		return nil, errors.Errorf("negative length %d", n)
	}
	i := sort.Search(len(s.regions), func(i int) bool {
		return s.regions[i].End() > addr
	})
	if i < len(s.regions) && s.regions[i].Contains(addr, n) {
		return s.regions[i], nil
	}
	return nil, errors.Wrapf(ErrUnmapped, "access %d bytes at %#x", n, addr)
}

func (s *Sim) overlaps(r Region) bool {
	for _, o := range s.regions {
		if o.Addr < r.End() && r.Addr < o.End() {
			return true
		}
	}
	return false
}

func (s *Sim) insert(r *simRegion) {
	i := sort.Search(len(s.regions), func(i int) bool {
		return s.regions[i].Addr > r.Addr
	})
	s.regions = append(s.regions, nil)
	copy(s.regions[i+1:], s.regions[i:])
	s.regions[i] = r
}

func (r *simRegion) isWritable(addr uint64, n int) bool {
	base := r.Addr &^ (PageSize - 1)
	pages := PageRange(addr, n)
	for p := pages.Addr; p < pages.End(); p += PageSize {
		if !r.writable[(p-base)/PageSize] {
			return false
		}
	}
	return true
}

func pagesIn(r Region) int {
	return PageRange(r.Addr, r.Size).Size / PageSize
}
