package arthook

import (
	"errors"
	"fmt"
	"slices"

	"github.com/apex/log"

	"github.com/pboyd/arthook/art"
	"github.com/pboyd/arthook/isa"
	"github.com/pboyd/arthook/layout"
	"github.com/pboyd/arthook/memory"
)

type hook struct {
	source      art.Method
	replacement art.Method
}

// hookPage owns the dispatch code for every hook on one compiled entry.
//
// The page is laid out as:
//
//	[quick method header copy] [TargetJump per hook] [fall-through]
//
// Dispatch starts right after the header, so the runtime still finds the
// original's header at entry-4 when the page is entered through an entry
// field. The fall-through either replays the saved prologue and resumes the
// original (patch mode) or jumps to the untouched original entry (redirect
// mode).
type hookPage struct {
	enc isa.Encoder
	acc *layout.Accessor
	mem memory.Service
	log log.Interface

	// entry is the memory address of the compiled code; entryPC is the
	// value found in entry fields.
	entry    uint64
	entryPC  uint64
	codeSize int
	patch    bool

	prologue []byte
	header   []byte

	hooks []hook

	addr   uint64
	size   int
	active bool
}

func newHookPage(r *Registry, entryPC uint64, codeSize int, patch bool) (*hookPage, error) {
	p := &hookPage{
		enc:      r.enc,
		acc:      r.acc,
		mem:      r.mem,
		entry:    r.enc.ToMem(entryPC),
		entryPC:  entryPC,
		codeSize: codeSize,
		patch:    patch,
	}
	p.log = r.log.WithFields(log.Fields{
		"entry": fmt.Sprintf("%#x", p.entry),
	})

	hdr := p.acc.QuickHeaderSize()
	header, err := p.mem.Read(p.entry-uint64(hdr), hdr)
	if err != nil {
		return nil, fmt.Errorf("failed to read method header: %w", err)
	}
	p.header = header

	if patch {
		prologue, err := p.mem.Read(p.entry, p.enc.DirectJumpSize())
		if err != nil {
			return nil, fmt.Errorf("failed to read prologue: %w", err)
		}
		p.prologue = prologue
	}

	return p, nil
}

// add inserts h, or replaces the replacement of an existing hook with the same
// source. It returns the hook that was replaced, if any.
func (p *hookPage) add(h hook) (hook, bool) {
	for i, existing := range p.hooks {
		if existing.source.Record() == h.source.Record() {
			p.hooks[i] = h
			return existing, true
		}
	}
	p.hooks = append(p.hooks, h)
	return hook{}, false
}

// remove drops the hook for source and returns it. Entry fields are left
// alone; see release.
func (p *hookPage) remove(source uint64) (hook, bool) {
	i := slices.IndexFunc(p.hooks, func(h hook) bool {
		return h.source.Record() == source
	})
	if i < 0 {
		return hook{}, false
	}
	h := p.hooks[i]
	p.hooks = slices.Delete(p.hooks, i, i+1)
	return h, true
}

// release points a removed hook's entry field back at the original code. It
// is a no-op in patch mode, where entry fields are never touched.
func (p *hookPage) release(h hook) error {
	if p.patch {
		return nil
	}
	if err := p.acc.Write(h.source.Record(), layout.EntryCompiled, p.entryPC); err != nil {
		return fmt.Errorf("failed to restore entry field: %w", err)
	}
	return nil
}

func (p *hookPage) requiredSize() int {
	return p.acc.QuickHeaderSize() + p.enc.TargetJumpSize()*len(p.hooks) + p.enc.CallOriginalSize()
}

// dispatch returns the memory address of the first dispatch block.
func (p *hookPage) dispatch() uint64 {
	return p.addr + uint64(p.acc.QuickHeaderSize())
}

// rebuild regenerates the page's code. When the size has changed the code is
// written to a fresh region first; an active page is switched over to it and
// only then is the old region unmapped. On failure the page keeps running
// from the old region.
func (p *hookPage) rebuild() error {
	size := p.requiredSize()
	if p.addr != 0 && p.size == size {
		code, err := p.render(size)
		if err != nil {
			return err
		}
		if err := p.mem.Write(p.addr, code); err != nil {
			return fmt.Errorf("failed to write hook page: %w", err)
		}
		p.log.WithField("hooks", len(p.hooks)).Debug("rewrote hook page")
		return nil
	}

	code, err := p.render(size)
	if err != nil {
		return err
	}
	addr, err := p.mem.MapExecutable(size)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrActivation, err)
	}
	if err := p.mem.Write(addr, code); err != nil {
		return errors.Join(fmt.Errorf("failed to write hook page: %w", err), p.mem.Unmap(addr, size))
	}

	oldAddr, oldSize := p.addr, p.size
	p.addr, p.size = addr, size
	if p.active {
		if err := p.point(); err != nil {
			p.addr, p.size = oldAddr, oldSize
			return errors.Join(fmt.Errorf("%w: %w", ErrActivation, err), p.point(), p.mem.Unmap(addr, size))
		}
	}

	p.log.WithFields(log.Fields{
		"base":  fmt.Sprintf("%#x", addr),
		"size":  size,
		"hooks": len(p.hooks),
	}).Debug("built hook page")

	if oldAddr != 0 {
		if err := p.mem.Unmap(oldAddr, oldSize); err != nil {
			return fmt.Errorf("failed to unmap hook page: %w", err)
		}
	}
	return nil
}

func (p *hookPage) render(size int) ([]byte, error) {
	hdr := p.acc.QuickHeaderSize()
	buf := make([]byte, size)

	// The first word points at the mapping table used to map native PCs
	// back to dex PCs. Zeroing it disables the lookup for the copy.
	copy(buf[4:hdr], p.header[4:])

	off := hdr
	for _, h := range p.hooks {
		targetCode, err := p.acc.Read(h.replacement.Record(), layout.EntryCompiled)
		if err != nil {
			return nil, err
		}
		block, err := p.enc.TargetJump(h.replacement.Record(), targetCode, h.source.Record())
		if err != nil {
			return nil, err
		}
		off += copy(buf[off:], block)
	}

	var (
		fallthru []byte
		err      error
	)
	if p.patch {
		fallthru, err = p.enc.CallOriginal(p.entry, p.prologue)
	} else {
		fallthru, err = p.enc.DirectJump(p.enc.ToPC(p.entry))
	}
	if err != nil {
		return nil, err
	}
	copy(buf[off:], fallthru)

	return buf, nil
}

// point sends calls to the current region: the jump at the entry is
// rewritten, or every hooked entry field. It stops at the first failure.
func (p *hookPage) point() error {
	dispatch := p.enc.ToPC(p.dispatch())

	if p.patch {
		jump, err := p.enc.DirectJump(dispatch)
		if err != nil {
			return err
		}
		return p.mem.Write(p.entry, jump)
	}

	for _, h := range p.hooks {
		if err := p.acc.Write(h.source.Record(), layout.EntryCompiled, dispatch); err != nil {
			return err
		}
	}
	return nil
}

// activate routes calls to the page. A page that was inactive stays inactive
// on failure, with nothing redirected.
func (p *hookPage) activate() error {
	if p.addr == 0 {
		return fmt.Errorf("%w: page not built", ErrActivation)
	}

	if p.active {
		// Redirect mode may have gained a source whose field still
		// points at the original code.
		if !p.patch {
			if err := p.point(); err != nil {
				return fmt.Errorf("%w: %w", ErrActivation, err)
			}
		}
		return nil
	}

	if p.patch {
		if err := p.mem.Unprotect(p.entry, p.enc.DirectJumpSize()); err != nil {
			return fmt.Errorf("%w: %w", ErrActivation, err)
		}
	}
	if err := p.point(); err != nil {
		err = fmt.Errorf("%w: %w", ErrActivation, err)
		if p.patch {
			return errors.Join(err, p.mem.Write(p.entry, p.prologue))
		}
		return errors.Join(err, p.restoreFields(p.hooks))
	}
	p.active = true

	p.log.WithField("dispatch", fmt.Sprintf("%#x", p.dispatch())).Debug("activated hook page")
	return nil
}

// deactivate undoes activate: the saved prologue is written back, or every
// hooked entry field is restored.
func (p *hookPage) deactivate() error {
	if !p.active {
		return nil
	}

	if !p.patch {
		if err := p.restoreFields(p.hooks); err != nil {
			return err
		}
		p.active = false
		return nil
	}

	if err := p.mem.Write(p.entry, p.prologue); err != nil {
		return fmt.Errorf("failed to restore prologue: %w", err)
	}
	p.active = false
	p.log.Debug("restored prologue")
	return nil
}

func (p *hookPage) restoreFields(hooks []hook) error {
	var errs []error
	for _, h := range hooks {
		if err := p.acc.Write(h.source.Record(), layout.EntryCompiled, p.entryPC); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to restore entry fields: %w", errors.Join(errs...))
	}
	return nil
}

// deallocate deactivates the page and releases its region.
func (p *hookPage) deallocate() error {
	if err := p.deactivate(); err != nil {
		return err
	}
	if p.addr == 0 {
		return nil
	}
	if err := p.mem.Unmap(p.addr, p.size); err != nil {
		return fmt.Errorf("failed to unmap hook page: %w", err)
	}
	p.log.WithField("base", fmt.Sprintf("%#x", p.addr)).Debug("unmapped hook page")
	p.addr, p.size = 0, 0
	return nil
}

// PageInfo is a snapshot of a hook page.
type PageInfo struct {
	// Entry is the memory address of the hooked compiled code.
	Entry uint64
	// Addr and Size describe the page's region. Addr is zero when no
	// region is mapped.
	Addr uint64
	Size int
	// Dispatch is the memory address of the first dispatch block.
	Dispatch uint64
	// Sources are the records of the hooked methods, in dispatch order.
	Sources []uint64
	// CodeSize is the size of the original compiled code.
	CodeSize int
	// Patched is true when the original code is patched in place, false
	// when entry fields are redirected.
	Patched bool
	Active  bool
	// Prologue holds the bytes saved from the original entry.
	Prologue []byte
}

func (p *hookPage) info() PageInfo {
	pi := PageInfo{
		Entry:    p.entry,
		Addr:     p.addr,
		Size:     p.size,
		CodeSize: p.codeSize,
		Patched:  p.patch,
		Active:   p.active,
		Prologue: slices.Clone(p.prologue),
	}
	if p.addr != 0 {
		pi.Dispatch = p.dispatch()
	}
	for _, h := range p.hooks {
		pi.Sources = append(pi.Sources, h.source.Record())
	}
	return pi
}
